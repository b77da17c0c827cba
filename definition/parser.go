package definition

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// parseFile reads a Markdown file and splits off its YAML frontmatter.
func parseFile(path string) (frontmatter []byte, content string, err error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, "", fmt.Errorf("reading file: %w", err)
	}
	return parseFrontmatter(data)
}

// parseFrontmatter extracts YAML frontmatter delimited by "---" lines. A
// file without a complete frontmatter block is all content.
func parseFrontmatter(data []byte) (frontmatter []byte, content string, err error) {
	scanner := bufio.NewScanner(bytes.NewReader(data))

	if !scanner.Scan() {
		return nil, string(data), nil
	}
	if strings.TrimSpace(scanner.Text()) != "---" {
		return nil, strings.TrimSpace(string(data)), nil
	}

	var fmLines []string
	closed := false
	for scanner.Scan() {
		line := scanner.Text()
		if strings.TrimSpace(line) == "---" {
			closed = true
			break
		}
		fmLines = append(fmLines, line)
	}
	if !closed {
		return nil, strings.TrimSpace(string(data)), nil
	}

	var contentLines []string
	for scanner.Scan() {
		contentLines = append(contentLines, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return nil, "", fmt.Errorf("scanning file: %w", err)
	}

	return []byte(strings.Join(fmLines, "\n")), strings.TrimSpace(strings.Join(contentLines, "\n")), nil
}

// ParseAgent parses an agent file.
func ParseAgent(path string) (*Agent, error) {
	fm, content, err := parseFile(path)
	if err != nil {
		return nil, fmt.Errorf("parsing agent file %s: %w", path, err)
	}

	agent := &Agent{
		Name:      strings.TrimSuffix(filepath.Base(path), ".md"),
		Backstory: content,
		FilePath:  path,
	}

	if len(fm) > 0 {
		var meta agentFrontmatter
		if err := yaml.Unmarshal(fm, &meta); err != nil {
			return nil, fmt.Errorf("parsing agent frontmatter %s: %w", path, err)
		}
		agent.Provider = meta.Provider
		agent.Model = meta.Model
		agent.Temperature = meta.Temperature
		agent.MaxTokens = meta.MaxTokens
		agent.MaxAttempts = meta.MaxAttempts
		agent.Goals = meta.Goals
		agent.Tools = meta.Tools
	}

	return agent, nil
}

// ParseTask parses a task file. name identifies the task in logs and errors.
func ParseTask(path, name string) (*Task, error) {
	fm, content, err := parseFile(path)
	if err != nil {
		return nil, fmt.Errorf("parsing task file %s: %w", path, err)
	}
	if content == "" {
		return nil, fmt.Errorf("task %s has no description", name)
	}

	t := &Task{
		Name:        name,
		Description: content,
		FilePath:    path,
	}

	if len(fm) == 0 {
		return t, nil
	}

	var meta taskFrontmatter
	if err := yaml.Unmarshal(fm, &meta); err != nil {
		return nil, fmt.Errorf("parsing task frontmatter %s: %w", path, err)
	}
	t.ExpectedOutput = meta.ExpectedOutput

	switch {
	case meta.Schema != nil && meta.SchemaFile != "":
		return nil, fmt.Errorf("task %s sets both schema and schema_file", name)
	case meta.Schema != nil:
		raw, err := json.Marshal(meta.Schema)
		if err != nil {
			return nil, fmt.Errorf("encoding schema of task %s: %w", name, err)
		}
		t.Schema = raw
	case meta.SchemaFile != "":
		raw, err := os.ReadFile(filepath.Join(filepath.Dir(path), meta.SchemaFile))
		if err != nil {
			return nil, fmt.Errorf("reading schema of task %s: %w", name, err)
		}
		if !json.Valid(raw) {
			return nil, fmt.Errorf("schema file of task %s is not valid JSON", name)
		}
		t.Schema = raw
	}

	return t, nil
}
