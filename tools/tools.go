// Package tools provides the built-in tools an agent can be given: a clock
// and read-only file access confined to one directory tree.
package tools

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/samber/lo"

	"github.com/i2y/merco/llm"
)

const (
	NameClock = "get_current_time"
	NameRead  = "read"
	NameGlob  = "glob"
	NameGrep  = "grep"
)

// Workspace is the directory tree file tools operate on. Paths given by the
// model are resolved inside it and may not escape it.
type Workspace struct {
	dir string
}

// NewWorkspace returns a Workspace rooted at dir.
func NewWorkspace(dir string) (*Workspace, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolving workspace: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("opening workspace: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("workspace %s is not a directory", abs)
	}
	return &Workspace{dir: abs}, nil
}

// Dir returns the absolute workspace directory.
func (w *Workspace) Dir() string {
	return w.dir
}

// open returns a handle that confines file access to the workspace.
func (w *Workspace) open() (*os.Root, error) {
	return os.OpenRoot(w.dir)
}

// Builtin returns every built-in tool bound to w.
func Builtin(w *Workspace) []llm.Tool {
	return []llm.Tool{
		MustClock(nil),
		w.MustRead(),
		w.MustGlob(),
		w.MustGrep(),
	}
}

// Names lists the built-in tool names in sorted order.
func Names() []string {
	names := []string{NameClock, NameRead, NameGlob, NameGrep}
	sort.Strings(names)
	return names
}

// Select picks the tools with the given names from available, in the order
// named. Duplicate names are ignored; later tools shadow earlier ones with
// the same name.
func Select(available []llm.Tool, names ...string) ([]llm.Tool, error) {
	byName := lo.KeyBy(available, func(t llm.Tool) string { return t.Name() })

	selected := make([]llm.Tool, 0, len(names))
	for _, name := range lo.Uniq(names) {
		tool, ok := byName[name]
		if !ok {
			return nil, &llm.ToolNotFoundError{Name: name}
		}
		selected = append(selected, tool)
	}
	return selected, nil
}
