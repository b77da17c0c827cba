package tools

import (
	"context"
	"io/fs"
	"path"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/i2y/merco/llm"
)

// GlobInput defines the input for the Glob tool.
type GlobInput struct {
	Pattern string `json:"pattern" jsonschema:"required,description=Glob pattern (e.g. **/*.go for all Go files)"`
	Path    string `json:"path,omitempty" jsonschema:"description=Directory inside the workspace to search from (default: workspace root)"`
}

// GlobOutput defines the output of the Glob tool.
type GlobOutput struct {
	Files []string `json:"files"`
	Count int      `json:"count"`
}

// GlobTool returns the Glob tool bound to w.
func (w *Workspace) GlobTool() (llm.Tool, error) {
	return llm.NewTool(
		NameGlob,
		"Find workspace files matching a glob pattern. Supports ** for recursive matching.",
		w.globFiles,
	)
}

// MustGlob returns the Glob tool, panicking on error.
func (w *Workspace) MustGlob() llm.Tool {
	tool, err := w.GlobTool()
	if err != nil {
		panic(err)
	}
	return tool
}

func (w *Workspace) globFiles(ctx context.Context, input GlobInput) (GlobOutput, error) {
	root, err := w.open()
	if err != nil {
		return GlobOutput{}, err
	}
	defer func() { _ = root.Close() }()

	base := relative(input.Path)
	fsys, err := fs.Sub(root.FS(), base)
	if err != nil {
		return GlobOutput{}, err
	}

	matches, err := doublestar.Glob(fsys, input.Pattern)
	if err != nil {
		return GlobOutput{}, err
	}

	// Results are relative to the workspace root.
	if base != "." {
		for i, m := range matches {
			matches[i] = path.Join(base, m)
		}
	}
	if matches == nil {
		matches = []string{}
	}

	return GlobOutput{
		Files: matches,
		Count: len(matches),
	}, nil
}
