package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"html"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"
)

const (
	// DefaultTavilyBaseURL is the production Tavily endpoint.
	DefaultTavilyBaseURL = "https://api.tavily.com"

	defaultWebSearchResults = 5
	defaultWebFindResults   = 20
	maxWebFindResults       = 100
	maxWebBodyBytes         = 4 << 20
)

// WebConfig wires the optional web tools.
type WebConfig struct {
	// Client is used for all outbound fetches. Defaults to a client
	// with a 30s timeout.
	Client *http.Client
	// TavilyBaseURL overrides the search endpoint, mainly for tests.
	TavilyBaseURL string
	// TavilyAPIKey authenticates web_search requests.
	TavilyAPIKey string
}

type webTools struct {
	client  *http.Client
	baseURL string
	apiKey  string
}

func newWebTools(cfg *WebConfig) *webTools {
	client := cfg.Client
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	baseURL := cfg.TavilyBaseURL
	if baseURL == "" {
		baseURL = DefaultTavilyBaseURL
	}
	return &webTools{client: client, baseURL: baseURL, apiKey: cfg.TavilyAPIKey}
}

type webSearchArgs struct {
	Query      string `json:"query"`
	MaxResults *int   `json:"max_results"`
}

func (w *webTools) searchTool() Tool {
	return Tool{
		Name:        "web_search",
		Description: "Search the web (Tavily) and return result titles, URLs, and snippets.",
		SchemaJSON: `{
			"type": "object",
			"properties": {
				"query": { "type": "string", "description": "Search query." },
				"max_results": { "type": ["number", "null"], "description": "Maximum number of results to return." }
			},
			"required": ["query", "max_results"],
			"additionalProperties": false
		}`,
		Fn: w.search,
	}
}

func (w *webTools) search(ctx context.Context, raw json.RawMessage, _ ExecutionContext) (string, error) {
	var args webSearchArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return "", fmt.Errorf("parse web_search arguments: %w", err)
	}
	maxResults := defaultWebSearchResults
	if args.MaxResults != nil && *args.MaxResults > 0 {
		maxResults = *args.MaxResults
	}

	payload, err := json.Marshal(map[string]any{
		"api_key":     w.apiKey,
		"query":       args.Query,
		"max_results": maxResults,
	})
	if err != nil {
		return "", fmt.Errorf("marshal search request: %w", err)
	}

	url := strings.TrimRight(w.baseURL, "/") + "/search"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("build search request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("search request failed: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxWebBodyBytes))
	if err != nil {
		return "", fmt.Errorf("read search response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := Truncate(string(body), 500)
		return "", fmt.Errorf("search failed (HTTP %d): %s", resp.StatusCode, snippet)
	}

	var parsed struct {
		Results []struct {
			Title   string  `json:"title"`
			URL     string  `json:"url"`
			Content string  `json:"content"`
			Score   float64 `json:"score"`
		} `json:"results"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", fmt.Errorf("decode search response: %w", err)
	}
	if len(parsed.Results) > maxResults {
		parsed.Results = parsed.Results[:maxResults]
	}

	return marshalResult(map[string]any{
		"query":   args.Query,
		"results": parsed.Results,
	})
}

type webOpenArgs struct {
	URL    string `json:"url"`
	Offset *int   `json:"offset"`
	Limit  *int   `json:"limit"`
}

func (w *webTools) openTool() Tool {
	return Tool{
		Name:        "web_open",
		Description: "Fetch a web page and return its text content as numbered lines. Offsets are 1-indexed.",
		SchemaJSON: `{
			"type": "object",
			"properties": {
				"url": { "type": "string", "description": "Page URL to fetch." },
				"offset": { "type": ["number", "null"], "description": "1-indexed first line to return." },
				"limit": { "type": ["number", "null"], "description": "Maximum number of lines to return (capped at 200)." }
			},
			"required": ["url", "offset", "limit"],
			"additionalProperties": false
		}`,
		Fn: w.open,
	}
}

func (w *webTools) open(ctx context.Context, raw json.RawMessage, _ ExecutionContext) (string, error) {
	var args webOpenArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return "", fmt.Errorf("parse web_open arguments: %w", err)
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
		return ErrorResult("invalid pagination: web_open.offset and web_open.limit must be >= 1 (offset is 1-indexed)"), nil
	}

	lines, err := w.fetchTextLines(ctx, args.URL)
	if err != nil {
		return "", err
	}
	total := len(lines)
	if offset > total && total > 0 {
		return ErrorResult(fmt.Sprintf("offset (%d) is beyond total lines (%d)", offset, total)), nil
	}
	end := offset + limit - 1
	if end > total {
		end = total
	}
	numbered := []string{}
	for i := offset; i <= end; i++ {
		numbered = append(numbered, fmt.Sprintf("%d: %s", i, lines[i-1]))
	}

	return marshalResult(map[string]any{
		"url":         args.URL,
		"total_lines": total,
		"start_line":  offset,
		"end_line":    end,
		"lines":       numbered,
	})
}

type webFindArgs struct {
	URL          string `json:"url"`
	Pattern      string `json:"pattern"`
	MaxResults   *int   `json:"max_results"`
	ContextLines *int   `json:"context_lines"`
}

func (w *webTools) findTool() Tool {
	return Tool{
		Name:        "web_find",
		Description: "Fetch a web page and search its text content with a regular expression.",
		SchemaJSON: `{
			"type": "object",
			"properties": {
				"url": { "type": "string", "description": "Page URL to fetch." },
				"pattern": { "type": "string", "description": "Regular expression to search for." },
				"max_results": { "type": ["number", "null"], "description": "Maximum number of matches to return (capped at 100)." },
				"context_lines": { "type": ["number", "null"], "description": "Lines of surrounding context to include per match." }
			},
			"required": ["url", "pattern", "max_results", "context_lines"],
			"additionalProperties": false
		}`,
		Fn: w.find,
	}
}

func (w *webTools) find(ctx context.Context, raw json.RawMessage, _ ExecutionContext) (string, error) {
	var args webFindArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return "", fmt.Errorf("parse web_find arguments: %w", err)
	}
	maxResults := defaultWebFindResults
	if args.MaxResults != nil && *args.MaxResults > 0 {
		maxResults = *args.MaxResults
	}
	if maxResults > maxWebFindResults {
		maxResults = maxWebFindResults
	}
	contextLines := 0
	if args.ContextLines != nil && *args.ContextLines > 0 {
		contextLines = *args.ContextLines
	}

	pattern, err := regexp.Compile(args.Pattern)
	if err != nil {
		return ErrorResult(fmt.Sprintf("invalid regex pattern: %s: %v", args.Pattern, err)), nil
	}

	lines, err := w.fetchTextLines(ctx, args.URL)
	if err != nil {
		return "", err
	}

	type findMatch struct {
		Line    int    `json:"line"`
		Text    string `json:"text"`
		Context string `json:"context,omitempty"`
	}
	matches := []findMatch{}
	truncated := false
	for idx, line := range lines {
		if !pattern.MatchString(line) {
			continue
		}
		if len(matches) >= maxResults {
			truncated = true
			break
		}
		m := findMatch{Line: idx + 1, Text: line}
		if contextLines > 0 {
			start := idx - contextLines
			if start < 0 {
				start = 0
			}
			end := idx + contextLines + 1
			if end > len(lines) {
				end = len(lines)
			}
			m.Context = strings.Join(lines[start:end], "\n")
		}
		matches = append(matches, m)
	}

	return marshalResult(map[string]any{
		"url":       args.URL,
		"pattern":   args.Pattern,
		"matches":   matches,
		"truncated": truncated,
	})
}

func (w *webTools) fetchTextLines(ctx context.Context, url string) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build page request: %w", err)
	}
	resp, err := w.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch %s: %w", url, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxWebBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("read page body: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("failed to fetch %s (HTTP %d)", url, resp.StatusCode)
	}
	return htmlToLines(string(body)), nil
}

var (
	scriptRe    = regexp.MustCompile(`(?is)<(script|style)[^>]*>.*?</(script|style)>`)
	lineBreakRe = regexp.MustCompile(`(?i)<(br\s*/?|/p|/div|/li|/tr|/h[1-6]|/title)>`)
	tagRe       = regexp.MustCompile(`<[^>]*>`)
)

// htmlToLines converts an HTML document to plain text lines: script
// and style blocks dropped, block-level closing tags become line
// breaks, remaining tags stripped, entities unescaped.
func htmlToLines(doc string) []string {
	text := scriptRe.ReplaceAllString(doc, "")
	text = lineBreakRe.ReplaceAllString(text, "$0\n")
	text = tagRe.ReplaceAllString(text, "")
	text = html.UnescapeString(text)

	var lines []string
	for _, line := range strings.Split(text, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed != "" {
			lines = append(lines, trimmed)
		}
	}
	return lines
}
