package providers

import "fmt"

// UpstreamError is returned when the provider call does not succeed. A
// StatusCode of zero means no HTTP response was received; Err then holds the
// transport failure. Body is the raw upstream response body, unmodified.
type UpstreamError struct {
	Provider   string
	StatusCode int
	Body       string
	Err        error
}

func (e *UpstreamError) Error() string {
	switch {
	case e.StatusCode == 0:
		return fmt.Sprintf("%s upstream request failed: %v", e.Provider, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("%s upstream HTTP %d: %v", e.Provider, e.StatusCode, e.Err)
	default:
		return fmt.Sprintf("%s upstream HTTP %d: %s", e.Provider, e.StatusCode, e.Body)
	}
}

func (e *UpstreamError) Unwrap() error { return e.Err }
