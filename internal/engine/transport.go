package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/aymenbz/rover/internal/protocol"
	"github.com/aymenbz/rover/internal/tools"
)

// maxRetries is the number of extra attempts after the first request.
const maxRetries = 2

// completionResult is the distilled outcome of one chat request.
type completionResult struct {
	Message protocol.Message
	Usage   *protocol.Usage
}

// transport sends chat-completion requests with bounded retries.
// Completions are safe to retry, and small bounded retries make the
// agent resilient against transient stalls while reading the body.
type transport struct {
	client   *http.Client
	baseURL  string
	apiKey   string
	retry429 bool
}

func (t *transport) send(ctx context.Context, request *protocol.ChatCompletionRequest) (*completionResult, error) {
	url := strings.TrimRight(t.baseURL, "/") + "/chat/completions"
	payload, err := json.Marshal(request)
	if err != nil {
		return nil, fmt.Errorf("marshal chat request: %w", err)
	}

	var lastHTTPErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
		if err != nil {
			return nil, fmt.Errorf("build chat request: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+t.apiKey)
		req.Header.Set("Content-Type", "application/json")

		resp, err := t.client.Do(req)
		if err != nil {
			if ctx.Err() == nil && attempt < maxRetries && isRetryableTransportError(err) {
				if err := sleepBackoff(ctx, attempt, nil); err != nil {
					return nil, err
				}
				continue
			}
			return nil, fmt.Errorf("request failed: POST %s (attempt %d/%d): %w",
				url, attempt+1, maxRetries+1, err)
		}

		status := resp.StatusCode
		header := resp.Header
		bodyBytes, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			if ctx.Err() == nil && attempt < maxRetries && isRetryableTransportError(err) {
				if err := sleepBackoff(ctx, attempt, nil); err != nil {
					return nil, err
				}
				continue
			}
			return nil, fmt.Errorf("failed to read response body (HTTP %d) (attempt %d/%d): %w",
				status, attempt+1, maxRetries+1, err)
		}
		body := string(bodyBytes)

		if status < 200 || status > 299 {
			// Do not blindly retry 429s unless the server provides an
			// explicit Retry-After. Avoids retry-storming hard limits.
			var retryAfter *int64
			if secs, ok := parseRetryAfterSecs(header.Get("Retry-After")); ok {
				retryAfter = &secs
			}
			retryAllowed := true
			if status == http.StatusTooManyRequests {
				retryAllowed = t.retry429 || retryAfter != nil
			}

			if attempt < maxRetries && retryAllowed && shouldRetryStatus(status) {
				lastHTTPErr = fmt.Errorf("%s", formatHTTPError(url, status, header, body))
				if err := sleepBackoff(ctx, attempt, retryAfter); err != nil {
					return nil, err
				}
				continue
			}
			return nil, fmt.Errorf("%s", formatHTTPError(url, status, header, body))
		}

		var parsed protocol.ChatCompletionResponse
		if err := json.Unmarshal(bodyBytes, &parsed); err != nil {
			snippet, _ := tools.Truncate(body, 2000)
			return nil, fmt.Errorf("unexpected response body (HTTP %d):\n%s", status, snippet)
		}
		if len(parsed.Choices) == 0 {
			return nil, fmt.Errorf("no choices in response")
		}
		return &completionResult{
			Message: parsed.Choices[0].Message,
			Usage:   parsed.Usage,
		}, nil
	}

	if lastHTTPErr != nil {
		return nil, lastHTTPErr
	}
	return nil, fmt.Errorf("request failed after retries")
}

// sleepBackoff waits out the backoff delay, bailing early when the
// context is cancelled.
func sleepBackoff(ctx context.Context, attempt int, retryAfterSecs *int64) error {
	delay := backoffDelay(attempt, retryAfterSecs)
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
