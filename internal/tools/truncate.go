package tools

// Truncate caps a string at limit characters, appending a marker when
// anything was cut. The limit counts runes so multibyte output is
// never split mid character.
func Truncate(value string, limit int) (string, bool) {
	runes := []rune(value)
	if len(runes) <= limit {
		return value, false
	}
	return string(runes[:limit]) + "\n...[truncated]...", true
}
