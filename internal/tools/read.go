package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

const defaultReadLimit = 200

type readFileArgs struct {
	FilePath string `json:"file_path"`
	Offset   *int   `json:"offset"`
	Limit    *int   `json:"limit"`
}

func readFileTool() Tool {
	return Tool{
		Name:        "read_file",
		Description: "Read a window of lines from a text file. Offsets are 1-indexed.",
		SchemaJSON: `{
			"type": "object",
			"properties": {
				"file_path": { "type": "string", "description": "File to read, absolute or relative to the working directory." },
				"offset": { "type": ["number", "null"], "description": "1-indexed first line to return." },
				"limit": { "type": ["number", "null"], "description": "Maximum number of lines to return (capped at 200)." }
			},
			"required": ["file_path", "offset", "limit"],
			"additionalProperties": false
		}`,
		Fn: readFile,
	}
}

func readFile(_ context.Context, raw json.RawMessage, ec ExecutionContext) (string, error) {
	var args readFileArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return "", fmt.Errorf("parse read_file arguments: %w", err)
	}

	offset := 1
	if args.Offset != nil {
		offset = *args.Offset
	}
	limit := defaultReadLimit
	if args.Limit != nil && *args.Limit < limit {
		limit = *args.Limit
	}
	if offset < 1 || limit < 1 {
		return ErrorResult("invalid pagination: read_file.offset and read_file.limit must be >= 1 (offset is 1-indexed)"), nil
	}

	path := resolvePath(ec.Cwd, args.FilePath)
	content, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read file %s: %w", path, err)
	}

	lines := splitLines(string(content))
	total := len(lines)
	if offset > total {
		return ErrorResult(fmt.Sprintf("offset (%d) is beyond total lines (%d)", offset, total)), nil
	}
	end := offset + limit - 1
	if end > total {
		end = total
	}
	numbered := make([]string, 0, end-offset+1)
	for i := offset; i <= end; i++ {
		numbered = append(numbered, fmt.Sprintf("%d: %s", i, lines[i-1]))
	}

	return marshalResult(map[string]any{
		"file_path":   path,
		"total_lines": total,
		"start_line":  offset,
		"end_line":    end,
		"lines":       numbered,
	})
}

// splitLines splits like line iteration: a trailing newline does not
// produce a final empty line.
func splitLines(s string) []string {
	if s == "" {
		return nil
	}
	s = strings.TrimSuffix(s, "\n")
	return strings.Split(s, "\n")
}
