package tools

import (
	"bufio"
	"context"
	"io/fs"
	"path"
	"regexp"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/i2y/merco/llm"
)

const defaultMaxMatches = 100

// GrepInput defines the input for the Grep tool.
type GrepInput struct {
	Pattern    string `json:"pattern" jsonschema:"required,description=Regular expression pattern to search for"`
	Path       string `json:"path,omitempty" jsonschema:"description=File or directory inside the workspace (default: workspace root)"`
	Glob       string `json:"glob,omitempty" jsonschema:"description=File pattern filter (e.g. **/*.go)"`
	MaxMatches int    `json:"max_matches,omitempty" jsonschema:"description=Maximum number of matches to return (default: 100)"`
}

// GrepOutput defines the output of the Grep tool.
type GrepOutput struct {
	Matches []GrepMatch `json:"matches"`
	Count   int         `json:"count"`
}

// GrepMatch represents a single match.
type GrepMatch struct {
	File    string `json:"file"`
	Line    int    `json:"line"`
	Content string `json:"content"`
}

// GrepTool returns the Grep tool bound to w.
func (w *Workspace) GrepTool() (llm.Tool, error) {
	return llm.NewTool(
		NameGrep,
		"Search workspace files for a regular expression. Returns matching lines with file and line number.",
		w.grepFiles,
	)
}

// MustGrep returns the Grep tool, panicking on error.
func (w *Workspace) MustGrep() llm.Tool {
	tool, err := w.GrepTool()
	if err != nil {
		panic(err)
	}
	return tool
}

func (w *Workspace) grepFiles(ctx context.Context, input GrepInput) (GrepOutput, error) {
	re, err := regexp.Compile(input.Pattern)
	if err != nil {
		return GrepOutput{}, err
	}

	maxMatches := input.MaxMatches
	if maxMatches <= 0 {
		maxMatches = defaultMaxMatches
	}

	root, err := w.open()
	if err != nil {
		return GrepOutput{}, err
	}
	defer func() { _ = root.Close() }()
	fsys := root.FS()

	base := relative(input.Path)
	info, err := fs.Stat(fsys, base)
	if err != nil {
		return GrepOutput{}, err
	}

	var files []string
	if info.IsDir() {
		pattern := input.Glob
		if pattern == "" {
			pattern = "**/*"
		}
		sub, err := fs.Sub(fsys, base)
		if err != nil {
			return GrepOutput{}, err
		}
		found, err := doublestar.Glob(sub, pattern, doublestar.WithFilesOnly())
		if err != nil {
			return GrepOutput{}, err
		}
		for _, f := range found {
			files = append(files, path.Join(base, f))
		}
	} else {
		files = []string{base}
	}

	matches := []GrepMatch{}
	for _, file := range files {
		if err := ctx.Err(); err != nil {
			return GrepOutput{}, err
		}
		if len(matches) >= maxMatches {
			break
		}
		found, err := searchFile(fsys, file, re, maxMatches-len(matches))
		if err != nil {
			// Unreadable files are skipped.
			continue
		}
		matches = append(matches, found...)
	}

	return GrepOutput{
		Matches: matches,
		Count:   len(matches),
	}, nil
}

func searchFile(fsys fs.FS, name string, re *regexp.Regexp, maxMatches int) ([]GrepMatch, error) {
	file, err := fsys.Open(name)
	if err != nil {
		return nil, err
	}
	defer func() { _ = file.Close() }()

	var matches []GrepMatch
	scanner := bufio.NewScanner(file)
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		line := scanner.Text()
		if !re.MatchString(line) {
			continue
		}
		matches = append(matches, GrepMatch{File: name, Line: lineNum, Content: line})
		if len(matches) >= maxMatches {
			break
		}
	}
	return matches, scanner.Err()
}
