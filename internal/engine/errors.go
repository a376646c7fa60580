package engine

import (
	"errors"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/aymenbz/rover/internal/protocol"
	"github.com/aymenbz/rover/internal/tools"
)

// isContextError reports whether an error message indicates the
// provider rejected the request for exceeding the context window.
// Providers word this differently, so the check is a loose substring
// heuristic rather than a status code.
func isContextError(message string) bool {
	msg := strings.ToLower(message)
	return strings.Contains(msg, "context") && strings.Contains(msg, "length")
}

// shouldRetryStatus reports whether an HTTP status is worth retrying.
func shouldRetryStatus(status int) bool {
	switch status {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}
	return false
}

// isRetryableTransportError reports whether a request or body-read
// failure looks transient: timeouts, connection resets/aborts, broken
// pipes, and truncated bodies (unexpected EOF mid chunked framing).
func isRetryableTransportError(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNABORTED) ||
		errors.Is(err, syscall.EPIPE)
}

// parseRetryAfterSecs parses a Retry-After header value. Only
// delta-seconds is supported; HTTP-dates are ignored.
func parseRetryAfterSecs(v string) (int64, bool) {
	secs, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
	if err != nil || secs < 0 {
		return 0, false
	}
	return secs, true
}

// backoffDelay computes the wait before retry number attempt.
// Exponential with small jitter, capped: attempt 0 -> ~250ms,
// 1 -> ~500ms, 2 -> ~1000ms. An explicit Retry-After overrides the
// exponential part but still gets jitter.
func backoffDelay(attempt int, retryAfterSecs *int64) time.Duration {
	if attempt > 10 {
		attempt = 10
	}
	baseMs := int64(250) << attempt
	if baseMs > 3000 {
		baseMs = 3000
	}
	if retryAfterSecs != nil {
		baseMs = *retryAfterSecs * 1000
	}
	jitterMs := time.Now().UnixMilli() % 50
	return time.Duration(baseMs+jitterMs) * time.Millisecond
}

// formatHTTPError builds the user-facing message for a failed chat
// request: status, URL, request id, the provider's own message, a
// capped body snippet, and a hint keyed on the status code.
func formatHTTPError(url string, status int, header http.Header, body string) string {
	requestID := header.Get("x-request-id")
	if requestID == "" {
		requestID = header.Get("x-openrouter-request-id")
	}

	apiMessage := protocol.ProviderErrorMessage([]byte(body))

	var hint string
	switch status {
	case 401, 403:
		hint = "Hint: check your API key (set `OPENROUTER_API_KEY` or use `--api-key`) and that it has access to the model."
	case 404:
		hint = "Hint: check `--base-url` and the model name (`--model`)."
	case 408, 504:
		hint = "Hint: the request timed out; try again or use a faster model."
	case 429:
		hint = "Hint: you may be rate limited; retry later or lower concurrency."
	case 500, 502, 503:
		hint = "Hint: upstream/server error; retry later."
	}

	snippet, _ := tools.Truncate(body, 2000)

	var b strings.Builder
	b.WriteString("OpenRouter API error (HTTP " + strconv.Itoa(status) + ") when calling " + url)
	if requestID != "" {
		b.WriteString(" (request_id: " + requestID + ")")
	}
	if trimmed := strings.TrimSpace(apiMessage); trimmed != "" {
		b.WriteString("\nMessage: " + trimmed)
	}
	if trimmed := strings.TrimSpace(snippet); trimmed != "" {
		b.WriteString("\nBody:\n" + trimmed)
	}
	if hint != "" {
		b.WriteString("\n" + hint)
	}
	return b.String()
}
