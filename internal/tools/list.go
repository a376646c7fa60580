package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"
)

const defaultListLimit = 200

type listDirArgs struct {
	DirPath string `json:"dir_path"`
	Offset  *int   `json:"offset"`
	Limit   *int   `json:"limit"`
	Depth   *int   `json:"depth"`
}

type dirEntry struct {
	Path string `json:"path"`
	Type string `json:"type"`
}

func listDirTool() Tool {
	return Tool{
		Name:        "list_dir",
		Description: "List directory entries up to a depth, sorted by path. Offsets are 1-indexed.",
		SchemaJSON: `{
			"type": "object",
			"properties": {
				"dir_path": { "type": "string", "description": "Directory to list, absolute or relative to the working directory." },
				"offset": { "type": ["number", "null"], "description": "1-indexed first entry to return." },
				"limit": { "type": ["number", "null"], "description": "Maximum number of entries to return (capped at 200)." },
				"depth": { "type": ["number", "null"], "description": "Recursion depth, 1 lists only direct children." }
			},
			"required": ["dir_path", "offset", "limit", "depth"],
			"additionalProperties": false
		}`,
		Fn: listDir,
	}
}

func listDir(_ context.Context, raw json.RawMessage, ec ExecutionContext) (string, error) {
	var args listDirArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return "", fmt.Errorf("parse list_dir arguments: %w", err)
	}

	offset := 1
	if args.Offset != nil {
		offset = *args.Offset
	}
	limit := defaultListLimit
	if args.Limit != nil && *args.Limit < limit {
		limit = *args.Limit
	}
	depth := 1
	if args.Depth != nil {
		depth = *args.Depth
	}
	if offset < 1 || limit < 1 || depth < 1 {
		return ErrorResult("invalid pagination: list_dir.offset, list_dir.limit, and list_dir.depth must be >= 1 (offset is 1-indexed)"), nil
	}

	dir := resolvePath(ec.Cwd, args.DirPath)
	var entries []dirEntry
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if path == dir {
			return nil
		}
		rel, relErr := filepath.Rel(dir, path)
		if relErr != nil {
			return relErr
		}
		entryDepth := strings.Count(rel, string(filepath.Separator)) + 1
		if entryDepth > depth {
			if d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		entryType := "file"
		if d.IsDir() {
			entryType = "dir"
		}
		entries = append(entries, dirEntry{Path: path, Type: entryType})
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("failed to list directory %s: %w", dir, err)
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].Path < entries[j].Path })

	total := len(entries)
	if offset > total && total > 0 {
		return ErrorResult(fmt.Sprintf("offset (%d) is beyond total entries (%d)", offset, total)), nil
	}
	end := offset + limit - 1
	if end > total {
		end = total
	}
	slice := []dirEntry{}
	startIndex, endIndex := 0, 0
	if total > 0 {
		slice = entries[offset-1 : end]
		startIndex, endIndex = offset, end
	}

	return marshalResult(map[string]any{
		"dir_path":      dir,
		"total_entries": total,
		"start_index":   startIndex,
		"end_index":     endIndex,
		"entries":       slice,
	})
}
