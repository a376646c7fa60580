package run

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readEvents(t *testing.T, path string) []map[string]any {
	t.Helper()
	file, err := os.Open(path)
	require.NoError(t, err)
	defer file.Close()

	var events []map[string]any
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 1024*1024), 1024*1024)
	for scanner.Scan() {
		var event map[string]any
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &event), "every log line must be valid JSON")
		events = append(events, event)
	}
	require.NoError(t, scanner.Err())
	return events
}

func contentBody(text string) string {
	raw, _ := json.Marshal(text)
	return `{"choices":[{"message":{"role":"assistant","content":` + string(raw) + `}}],"usage":{"prompt_tokens":7,"completion_tokens":2,"total_tokens":9}}`
}

func toolCallBody(id, name, arguments string) string {
	raw, _ := json.Marshal(arguments)
	return fmt.Sprintf(`{"choices":[{"message":{"role":"assistant","content":null,"tool_calls":[{"id":%q,"type":"function","function":{"name":%q,"arguments":%s}}]}}]}`,
		id, name, raw)
}

func scripted(t *testing.T, responses ...func(w http.ResponseWriter)) *httptest.Server {
	t.Helper()
	idx := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Less(t, idx, len(responses), "more requests than scripted responses")
		responses[idx](w)
		idx++
	}))
	t.Cleanup(srv.Close)
	return srv
}

func ok(body string) func(http.ResponseWriter) {
	return func(w http.ResponseWriter) { io.WriteString(w, body) }
}

func status(code int, body string) func(http.ResponseWriter) {
	return func(w http.ResponseWriter) {
		w.WriteHeader(code)
		io.WriteString(w, body)
	}
}

func baseOptions(srv *httptest.Server, logPath string) Options {
	return Options{
		Model:   "test-model",
		BaseURL: srv.URL,
		APIKey:  "test-key",
		LogPath: logPath,
	}
}

func TestRunPromptProducesAnswerAndEventLog(t *testing.T) {
	srv := scripted(t, ok(contentBody("ok")))
	cwd := t.TempDir()
	logPath := filepath.Join(cwd, "events.jsonl")

	opts := baseOptions(srv, logPath)
	opts.Prompt = "hi"

	answer, err := RunPrompt(context.Background(), opts, cwd)
	require.NoError(t, err)
	assert.Equal(t, "ok", answer)

	events := readEvents(t, logPath)
	require.NotEmpty(t, events)

	var types []string
	for _, e := range events {
		types = append(types, e["type"].(string))
		assert.Contains(t, e, "timestamp")
		assert.Contains(t, e, "timestamp_ms")
	}
	assert.Equal(t, []string{"thread.started", "turn.started", "item.completed", "turn.completed"}, types)

	assert.NotEmpty(t, events[0]["thread_id"])
	assert.Equal(t, "hi", events[1]["prompt"])
	assert.NotEmpty(t, events[1]["system_prompt"])
}

func TestRunPromptRetriesServerError(t *testing.T) {
	srv := scripted(t,
		status(http.StatusServiceUnavailable, `{"error":{"message":"overloaded"}}`),
		ok(contentBody("recovered")),
	)
	cwd := t.TempDir()

	opts := baseOptions(srv, filepath.Join(cwd, "events.jsonl"))
	opts.Prompt = "hi"

	answer, err := RunPrompt(context.Background(), opts, cwd)
	require.NoError(t, err)
	assert.Equal(t, "recovered", answer)
}

func TestRunPromptRetries429OnlyWhenEnabled(t *testing.T) {
	t.Run("disabled fails fast", func(t *testing.T) {
		srv := scripted(t, status(http.StatusTooManyRequests, `{"error":{"message":"rate limited"}}`))
		cwd := t.TempDir()

		opts := baseOptions(srv, filepath.Join(cwd, "events.jsonl"))
		opts.Prompt = "hi"

		_, err := RunPrompt(context.Background(), opts, cwd)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "HTTP 429")
	})

	t.Run("enabled retries", func(t *testing.T) {
		srv := scripted(t,
			status(http.StatusTooManyRequests, `{"error":{"message":"rate limited"}}`),
			ok(contentBody("after retry")),
		)
		cwd := t.TempDir()

		opts := baseOptions(srv, filepath.Join(cwd, "events.jsonl"))
		opts.Prompt = "hi"
		opts.Retry429 = true

		answer, err := RunPrompt(context.Background(), opts, cwd)
		require.NoError(t, err)
		assert.Equal(t, "after retry", answer)
	})
}

func TestRunPromptSavesSessionRecord(t *testing.T) {
	srv := scripted(t, ok(contentBody("done")))
	cwd := t.TempDir()
	sessionDir := t.TempDir()

	opts := baseOptions(srv, filepath.Join(cwd, "events.jsonl"))
	opts.Prompt = "count to three"
	opts.SessionDir = sessionDir

	answer, err := RunPrompt(context.Background(), opts, cwd)
	require.NoError(t, err)
	assert.Equal(t, "done", answer)

	var recordFiles []string
	err = filepath.Walk(sessionDir, func(path string, info os.FileInfo, err error) error {
		if err == nil && !info.IsDir() && filepath.Ext(path) == ".json" {
			recordFiles = append(recordFiles, path)
		}
		return nil
	})
	require.NoError(t, err)
	require.Len(t, recordFiles, 1)

	data, err := os.ReadFile(recordFiles[0])
	require.NoError(t, err)
	var record map[string]any
	require.NoError(t, json.Unmarshal(data, &record))
	assert.Equal(t, "done", record["answer"])
	assert.Equal(t, "count to three", record["task"])
	assert.Equal(t, float64(1), record["steps"])
}

func TestBrowserSuiteFlowWithStubs(t *testing.T) {
	// Simulates web_search -> web_open -> web_find -> submit with
	// local stubs only.
	page := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		io.WriteString(w, "<html><body><h1>Release notes</h1><p>Many items were stabilized in this release.</p><p>More stabilized features here.</p></body></html>")
	}))
	t.Cleanup(page.Close)
	pageURL := page.URL + "/page"

	tavily := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req map[string]any
		body, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(body, &req))
		assert.Equal(t, "test-tavily-key", req["api_key"])
		assert.Equal(t, "Go 1.22 release notes", req["query"])

		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"results":[{"title":"Go release notes","url":%q,"content":"Many items were stabilized...","score":0.9}]}`, pageURL)
	}))
	t.Cleanup(tavily.Close)

	llm := scripted(t,
		ok(toolCallBody("call-1", "web_search", `{"query":"Go 1.22 release notes","max_results":5}`)),
		ok(toolCallBody("call-2", "web_open", fmt.Sprintf(`{"url":%q,"offset":1,"limit":200}`, pageURL))),
		ok(toolCallBody("call-3", "web_find", fmt.Sprintf(`{"url":%q,"pattern":"stabilized","max_results":10,"context_lines":1}`, pageURL))),
		ok(toolCallBody("call-4", "submit", `{"answer":"ok"}`)),
	)

	t.Setenv("ROVER_TAVILY_BASE_URL", tavily.URL)
	t.Setenv("TAVILY_API_KEY", "test-tavily-key")

	cwd := t.TempDir()
	maxSteps := 10
	opts := baseOptions(llm, filepath.Join(cwd, "browser-suite.jsonl"))
	opts.Prompt = "Search for 'Go 1.22 release notes', open the link, then find 'stabilized'."
	opts.Exec = true
	opts.WebSearch = true
	opts.MaxSteps = &maxSteps

	answer, err := RunPrompt(context.Background(), opts, cwd)
	require.NoError(t, err)
	assert.Equal(t, "ok", answer)
}

func TestWebSearchRequiresAPIKey(t *testing.T) {
	t.Setenv("TAVILY_API_KEY", "")
	t.Setenv("ROVER_TAVILY_API_KEY", "")

	cwd := t.TempDir()
	opts := Options{Model: "m", BaseURL: "http://127.0.0.1:0", APIKey: "k", Prompt: "hi", WebSearch: true,
		LogPath: filepath.Join(cwd, "events.jsonl")}

	_, err := RunPrompt(context.Background(), opts, cwd)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Tavily API key")
}

func TestLoadTask(t *testing.T) {
	t.Run("positional prompt", func(t *testing.T) {
		task, err := LoadTask(Options{Prompt: "do it"})
		require.NoError(t, err)
		assert.Equal(t, "do it", task)
	})

	t.Run("prompt file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "task.txt")
		require.NoError(t, os.WriteFile(path, []byte("from file"), 0o644))
		task, err := LoadTask(Options{PromptFile: path})
		require.NoError(t, err)
		assert.Equal(t, "from file", task)
	})

	t.Run("both sources conflict", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "task.txt")
		require.NoError(t, os.WriteFile(path, []byte("from file"), 0o644))
		_, err := LoadTask(Options{Prompt: "also given", PromptFile: path})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "cannot both be given")
	})

	t.Run("missing prompt", func(t *testing.T) {
		_, err := LoadTask(Options{})
		require.Error(t, err)
	})

	t.Run("missing prompt file", func(t *testing.T) {
		_, err := LoadTask(Options{PromptFile: "/does/not/exist.txt"})
		require.Error(t, err)
	})
}

func TestResolveSubmitMode(t *testing.T) {
	tests := []struct {
		name       string
		exec       bool
		noSubmit   bool
		promptFile string
		want       bool
		wantErr    bool
	}{
		{name: "bare prompt defaults off", want: false},
		{name: "prompt file defaults on", promptFile: "task.txt", want: true},
		{name: "exec forces on", exec: true, want: true},
		{name: "no-submit forces off", noSubmit: true, promptFile: "task.txt", want: false},
		{name: "exec and no-submit conflict", exec: true, noSubmit: true, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := resolveSubmitMode(tt.exec, tt.noSubmit, tt.promptFile)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestLogFilePathDefaults(t *testing.T) {
	now := time.Date(2026, 7, 1, 10, 30, 0, 0, time.UTC)

	path := logFilePath(Options{}, "/work", "abc-123", now)
	assert.Equal(t, "/work", filepath.Dir(path))
	assert.Equal(t, "rover-2026-07-01T10-30-00Z-abc-123.jsonl", filepath.Base(path))

	path = logFilePath(Options{LogDir: "logs"}, "/work", "abc-123", now)
	assert.Equal(t, "/work/logs", filepath.Dir(path))

	path = logFilePath(Options{LogPath: "out.jsonl"}, "/work", "abc-123", now)
	assert.Equal(t, "/work/out.jsonl", path)
}

func TestResolveCwd(t *testing.T) {
	dir := t.TempDir()
	resolved, err := ResolveCwd(dir)
	require.NoError(t, err)
	assert.True(t, filepath.IsAbs(resolved))

	_, err = ResolveCwd(filepath.Join(dir, "missing"))
	require.Error(t, err)

	file := filepath.Join(dir, "f.txt")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o644))
	_, err = ResolveCwd(file)
	require.Error(t, err)
}
