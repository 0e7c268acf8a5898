package provider

import (
	"errors"
	"fmt"
)

var (
	ErrNoProviderConfigured = errors.New("no AI provider configured")
	ErrAllProvidersFailed   = errors.New("all providers failed")
	ErrProviderUnavailable  = errors.New("provider unavailable")
	ErrNoImageData          = errors.New("no image data found")
)

// Error is a failed upstream attempt. StatusCode and Body are set when the
// provider answered with a non-2xx status.
type Error struct {
	Provider   ID
	StatusCode int
	Body       string
	Message    string
	Err        error
}

func (e *Error) Error() string {
	switch {
	case e.StatusCode != 0:
		return fmt.Sprintf("%s: api error (status %d): %s", e.Provider, e.StatusCode, e.Body)
	case e.Message != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Provider, e.Message, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Provider, e.Err)
	default:
		return fmt.Sprintf("%s: %s", e.Provider, e.Message)
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

func NewStatusError(id ID, status int, body []byte) *Error {
	return &Error{Provider: id, StatusCode: status, Body: string(body)}
}

func NewError(id ID, message string, err error) *Error {
	return &Error{Provider: id, Message: message, Err: err}
}
