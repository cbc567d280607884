package model

import (
	"errors"
	"fmt"

	"github.com/haasonsaas/loom/pkg/message"
)

// MaxTokensError reports a turn truncated by the output token budget. The
// partial assembled message rides along for diagnostics; the loop never
// commits it.
type MaxTokensError struct {
	Message *message.Message
}

func (e *MaxTokensError) Error() string {
	return "model stopped at the output token limit before completing the turn"
}

// ContextWindowOverflowError reports input that exceeded the model context
// window.
type ContextWindowOverflowError struct {
	Err error
}

func (e *ContextWindowOverflowError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("model context window exceeded: %v", e.Err)
	}
	return "model context window exceeded"
}

func (e *ContextWindowOverflowError) Unwrap() error { return e.Err }

// ModelError wraps a provider transport or API failure.
type ModelError struct {
	Provider string
	Code     string
	Err      error
}

func (e *ModelError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("model %s failed (%s): %v", e.Provider, e.Code, e.Err)
	}
	return fmt.Sprintf("model %s failed: %v", e.Provider, e.Err)
}

func (e *ModelError) Unwrap() error { return e.Err }

// ThrottledError marks a retryable provider throttle.
type ThrottledError struct {
	Provider string
	Err      error
}

func (e *ThrottledError) Error() string {
	return fmt.Sprintf("model %s throttled: %v", e.Provider, e.Err)
}

func (e *ThrottledError) Unwrap() error { return e.Err }

// IsRetryable reports whether err is worth retrying against the provider.
func IsRetryable(err error) bool {
	var throttled *ThrottledError
	return errors.As(err, &throttled)
}
