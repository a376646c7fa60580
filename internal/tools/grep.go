package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"

	gitignore "github.com/sabhiram/go-gitignore"
)

const defaultGrepLimit = 100

type grepFilesArgs struct {
	Pattern string  `json:"pattern"`
	Path    *string `json:"path"`
	Include *string `json:"include"`
	Limit   *int    `json:"limit"`
}

type grepMatch struct {
	Path string `json:"path"`
	Line int    `json:"line"`
	Text string `json:"text"`
}

func grepFilesTool() Tool {
	return Tool{
		Name:        "grep_files",
		Description: "Search file contents with a regular expression, recursively from a root directory.",
		SchemaJSON: `{
			"type": "object",
			"properties": {
				"pattern": { "type": "string", "description": "Regular expression to search for." },
				"path": { "type": ["string", "null"], "description": "Directory to search, defaults to the working directory." },
				"include": { "type": ["string", "null"], "description": "Optional glob filter for files (matched against path relative to root)." },
				"limit": { "type": ["number", "null"], "description": "Maximum number of matches to return (capped at 100)." }
			},
			"required": ["pattern", "path", "include", "limit"],
			"additionalProperties": false
		}`,
		Fn: grepFiles,
	}
}

func grepFiles(_ context.Context, raw json.RawMessage, ec ExecutionContext) (string, error) {
	var args grepFilesArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return "", fmt.Errorf("parse grep_files arguments: %w", err)
	}

	limit := defaultGrepLimit
	if args.Limit != nil && *args.Limit < limit {
		limit = *args.Limit
	}
	if limit < 1 {
		return ErrorResult("invalid limit: grep_files.limit must be >= 1"), nil
	}

	pattern, err := regexp.Compile(args.Pattern)
	if err != nil {
		return ErrorResult(fmt.Sprintf(
			"invalid regex pattern: %s: %v (tip: escape metacharacters for literal matches, e.g. \"main\\\\(\" to match \"main(\")",
			args.Pattern, err)), nil
	}

	var include *gitignore.GitIgnore
	if args.Include != nil && *args.Include != "" {
		include = gitignore.CompileIgnoreLines(*args.Include)
	}

	root := ec.Cwd
	if args.Path != nil && *args.Path != "" {
		root = resolvePath(ec.Cwd, *args.Path)
	}

	matches := []grepMatch{}
	truncated := false
	walkErr := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		if include != nil {
			rel, relErr := filepath.Rel(root, path)
			if relErr != nil {
				rel = path
			}
			if !include.MatchesPath(rel) {
				return nil
			}
		}
		content, readErr := os.ReadFile(path)
		if readErr != nil {
			return nil
		}
		for idx, line := range splitLines(string(content)) {
			if pattern.MatchString(line) {
				matches = append(matches, grepMatch{Path: path, Line: idx + 1, Text: line})
				if len(matches) >= limit {
					truncated = true
					return fs.SkipAll
				}
			}
		}
		return nil
	})
	if walkErr != nil {
		return "", fmt.Errorf("failed to search %s: %w", root, walkErr)
	}

	return marshalResult(map[string]any{
		"pattern":   args.Pattern,
		"root":      root,
		"matches":   matches,
		"truncated": truncated,
	})
}
