package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

// ApplyPatchArgs are the arguments of the apply_patch tool. Exported
// so the engine can parse the patch text for file-change events.
type ApplyPatchArgs struct {
	Patch string `json:"patch"`
}

// PatchChange is one file touched by a patch.
type PatchChange struct {
	Path string `json:"path"`
	Kind string `json:"kind"`
}

func applyPatchTool() Tool {
	return Tool{
		Name:        "apply_patch",
		Description: "Apply a unified diff to the workspace using the patch binary.",
		SchemaJSON: `{
			"type": "object",
			"properties": {
				"patch": { "type": "string", "description": "Unified diff to apply." }
			},
			"required": ["patch"],
			"additionalProperties": false
		}`,
		Fn: applyPatch,
	}
}

func applyPatch(ctx context.Context, raw json.RawMessage, ec ExecutionContext) (string, error) {
	var args ApplyPatchArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return "", fmt.Errorf("parse apply_patch arguments: %w", err)
	}

	stripLevel := DetectStripLevel(args.Patch)

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, "patch", fmt.Sprintf("-p%d", stripLevel))
	cmd.Dir = ec.Cwd
	cmd.Stdin = strings.NewReader(args.Patch)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()
	exitCode := -1
	if cmd.ProcessState != nil {
		exitCode = cmd.ProcessState.ExitCode()
	}
	var exitErr *exec.ExitError
	if runErr != nil && !errors.As(runErr, &exitErr) {
		return "", fmt.Errorf("failed to run patch command: %w", runErr)
	}

	outStr, outTrunc := Truncate(stdout.String(), ec.MaxOutputChars)
	errStr, errTrunc := Truncate(stderr.String(), ec.MaxOutputChars)

	return marshalResult(map[string]any{
		"strip_level": stripLevel,
		"exit_code":   exitCode,
		"stdout":      outStr,
		"stderr":      errStr,
		"truncated":   outTrunc || errTrunc,
	})
}

// DetectStripLevel picks the -p level for a unified diff. Patches
// generated by git carry a/ and b/ path prefixes and need -p1; plain
// diffs without those prefixes need -p0.
func DetectStripLevel(patch string) int {
	for _, line := range strings.Split(patch, "\n") {
		if strings.HasPrefix(line, "diff --git a/") {
			return 1
		}
		if strings.HasPrefix(line, "--- a/") || strings.HasPrefix(line, "+++ a/") {
			return 1
		}
		if strings.HasPrefix(line, "--- b/") || strings.HasPrefix(line, "+++ b/") {
			return 1
		}
	}
	return 0
}

// ParsePatchChanges extracts the files a unified diff touches from its
// ---/+++ header pairs. /dev/null on the old side means an added file,
// on the new side a deleted one. Paths are deduplicated in order.
func ParsePatchChanges(patch string) []PatchChange {
	var changes []PatchChange
	seen := map[string]bool{}
	var oldPath string
	haveOld := false

	for _, line := range strings.Split(patch, "\n") {
		if rest, ok := strings.CutPrefix(line, "--- "); ok {
			oldPath = strings.TrimSpace(rest)
			haveOld = true
			continue
		}
		if rest, ok := strings.CutPrefix(line, "+++ "); ok {
			if !haveOld {
				continue
			}
			newPath := strings.TrimSpace(rest)
			haveOld = false

			var kind, rawPath string
			switch {
			case oldPath == "/dev/null":
				kind, rawPath = "add", newPath
			case newPath == "/dev/null":
				kind, rawPath = "delete", oldPath
			default:
				kind, rawPath = "update", newPath
			}
			path := stripPatchPrefix(rawPath)
			if path != "" && !seen[path] {
				seen[path] = true
				changes = append(changes, PatchChange{Path: path, Kind: kind})
			}
		}
	}
	return changes
}

func stripPatchPrefix(path string) string {
	trimmed := strings.TrimSpace(path)
	if trimmed == "/dev/null" {
		return ""
	}
	if rest, ok := strings.CutPrefix(trimmed, "a/"); ok {
		return rest
	}
	if rest, ok := strings.CutPrefix(trimmed, "b/"); ok {
		return rest
	}
	return trimmed
}
