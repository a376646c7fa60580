// Package prompts builds the system prompt for a run and discovers
// AGENTS.md instruction files in the workspace.
package prompts

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Params describes the run environment reflected into the prompt.
type Params struct {
	Cwd           string
	MaxSteps      *int
	TimeLimit     time.Duration
	SubmitEnabled bool
	WebEnabled    bool
}

// BuildSystemPrompt returns the system prompt and, separately, the
// joined AGENTS.md instructions (empty when none were found). The
// instructions are already appended to the prompt; the second return
// exists so the caller can log them on their own.
func BuildSystemPrompt(p Params) (string, string, error) {
	var b strings.Builder
	b.WriteString("You are a CLI agent. Use tools to inspect and modify the workspace to complete the task.\n")
	b.WriteString("Rules:\n")
	b.WriteString("- Use at most one tool call per step.\n")
	b.WriteString("- Prefer tools over guessing. Tool outputs are authoritative.")
	if p.SubmitEnabled {
		b.WriteString("\n- If you are done, call submit with a concise final answer.")
	} else {
		b.WriteString("\n- If you are done, respond with a concise final answer.")
	}

	maxSteps := "unset"
	if p.MaxSteps != nil {
		maxSteps = strconv.Itoa(*p.MaxSteps)
	}
	timeLimit := "unset"
	if p.TimeLimit > 0 {
		timeLimit = strconv.Itoa(int(p.TimeLimit / time.Second))
	}
	fmt.Fprintf(&b, "\nEnvironment:\n- cwd: %s\n- max_steps: %s\n- time_limit_sec: %s\n- network_access: enabled\n- sandbox: none",
		p.Cwd, maxSteps, timeLimit)

	b.WriteString("\n\nTools:\n")
	b.WriteString("- shell_command(command, workdir?, timeout_ms?, max_output_chars?)\n")
	b.WriteString("- read_file(file_path, offset?, limit?)\n")
	b.WriteString("- list_dir(dir_path, offset?, limit?, depth?)\n")
	b.WriteString("- grep_files(pattern, path?, include?, limit?)\n")
	b.WriteString("- apply_patch(patch)\n")
	if p.WebEnabled {
		b.WriteString("- web_search(query, max_results?)\n")
		b.WriteString("- web_open(url, offset?, limit?)\n")
		b.WriteString("- web_find(url, pattern, max_results?, context_lines?)\n")
	}
	if p.SubmitEnabled {
		b.WriteString("- submit(answer)\n")
	}

	b.WriteString("\nTool usage notes:\n")
	b.WriteString("- Pagination is 1-indexed: read_file.offset and list_dir.offset start at 1 (not 0). limit/depth must be >= 1.\n")
	b.WriteString("- grep_files.pattern is a regular expression. Escape metacharacters if you want a literal match (e.g. use \"main\\(\" to search for \"main(\").\n")
	b.WriteString("- If you need to edit files, prefer apply_patch.\n")

	instructions, err := loadAgentsInstructions(p.Cwd)
	if err != nil {
		return "", "", err
	}
	if instructions != "" {
		b.WriteString("\n\n")
		b.WriteString(instructions)
	}
	return b.String(), instructions, nil
}

// loadAgentsInstructions walks from cwd up to the filesystem root
// collecting AGENTS.md contents, nearest directory first.
func loadAgentsInstructions(cwd string) (string, error) {
	var notes []string
	dir := cwd
	for {
		candidate := filepath.Join(dir, "AGENTS.md")
		if info, err := os.Stat(candidate); err == nil && info.Mode().IsRegular() {
			content, err := os.ReadFile(candidate)
			if err != nil {
				return "", fmt.Errorf("read %s: %w", candidate, err)
			}
			notes = append(notes, string(content))
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return strings.Join(notes, "\n\n"), nil
}
