package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
)

// PostJSON marshals payload, posts it and returns the body of a 2xx reply.
// Any other outcome is returned as *Error.
func PostJSON(ctx context.Context, client *http.Client, id ID, endpoint string, headers map[string]string, payload any) ([]byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, NewError(id, "failed to marshal request", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, NewError(id, "failed to create request", redactURL(err))
	}
	httpReq.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, NewError(id, "failed to send request", redactURL(err))
	}
	defer func() {
		_ = resp.Body.Close() //nolint:errcheck
	}()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, NewError(id, "failed to read response", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, NewStatusError(id, resp.StatusCode, respBody)
	}
	return respBody, nil
}

// redactURL strips the query string from a *url.Error, which may carry a
// credential passed as ?key=.
func redactURL(err error) error {
	var uerr *url.Error
	if !errors.As(err, &uerr) {
		return err
	}
	redacted := *uerr
	if i := strings.IndexByte(redacted.URL, '?'); i >= 0 {
		redacted.URL = redacted.URL[:i] + "?REDACTED"
	}
	return &redacted
}

var dataURIPattern = regexp.MustCompile(`(?s)^data:([^;,]+);base64,(.*)$`)

// SplitDataURI returns the mime type and payload of a base64 data URI.
// Bare base64 input is treated as PNG.
func SplitDataURI(s string) (mimeType, data string) {
	s = strings.TrimSpace(s)
	if m := dataURIPattern.FindStringSubmatch(s); m != nil {
		return m[1], strings.Join(strings.Fields(m[2]), "")
	}
	return "image/png", s
}

func DataURI(mimeType, data string) string {
	if mimeType == "" {
		mimeType = "image/png"
	}
	return "data:" + mimeType + ";base64," + data
}
