package tools

import (
	"bufio"
	"context"
	"fmt"
	"strings"

	"github.com/i2y/merco/llm"
)

// ReadInput defines the input for the Read tool.
type ReadInput struct {
	Path   string `json:"path" jsonschema:"required,description=File path relative to the workspace"`
	Offset int    `json:"offset,omitempty" jsonschema:"description=Line offset to start from (0-based)"`
	Limit  int    `json:"limit,omitempty" jsonschema:"description=Max lines to read (default: 0 = all)"`
}

// ReadOutput defines the output of the Read tool.
type ReadOutput struct {
	Content   string `json:"content"`
	Lines     int    `json:"lines"`
	Truncated bool   `json:"truncated"`
}

// ReadTool returns the Read tool bound to w.
func (w *Workspace) ReadTool() (llm.Tool, error) {
	return llm.NewTool(
		NameRead,
		"Read the contents of a file in the workspace. Supports reading specific line ranges.",
		w.readFile,
	)
}

// MustRead returns the Read tool, panicking on error.
func (w *Workspace) MustRead() llm.Tool {
	tool, err := w.ReadTool()
	if err != nil {
		panic(err)
	}
	return tool
}

func (w *Workspace) readFile(ctx context.Context, input ReadInput) (ReadOutput, error) {
	root, err := w.open()
	if err != nil {
		return ReadOutput{}, err
	}
	defer func() { _ = root.Close() }()

	file, err := root.Open(relative(input.Path))
	if err != nil {
		return ReadOutput{}, fmt.Errorf("failed to open file: %w", err)
	}
	defer func() { _ = file.Close() }()

	scanner := bufio.NewScanner(file)
	var lines []string
	lineNum := 0
	truncated := false

	for scanner.Scan() {
		if lineNum < input.Offset {
			lineNum++
			continue
		}
		if input.Limit > 0 && len(lines) >= input.Limit {
			truncated = true
			break
		}
		lines = append(lines, scanner.Text())
		lineNum++
	}

	if err := scanner.Err(); err != nil {
		return ReadOutput{}, fmt.Errorf("failed to read file: %w", err)
	}

	return ReadOutput{
		Content:   strings.Join(lines, "\n"),
		Lines:     len(lines),
		Truncated: truncated,
	}, nil
}

// relative turns a model-supplied path into one os.Root accepts.
func relative(path string) string {
	path = strings.TrimPrefix(path, "/")
	if path == "" {
		return "."
	}
	return path
}
