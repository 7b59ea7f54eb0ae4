package odata

import "fmt"

// maxErrorBody bounds how much of a remote error payload is retained.
// These messages end up in agent prompts, so they must stay short.
const maxErrorBody = 120

// HTTPError is returned when the service answers with a non-2xx status.
type HTTPError struct {
	Status int
	Body   string
}

func (e *HTTPError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("HTTP %d", e.Status)
	}
	return fmt.Sprintf("HTTP %d: %s", e.Status, e.Body)
}

// Truncate bounds a message for inclusion in model-facing feedback.
func Truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
