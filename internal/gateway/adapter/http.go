package adapter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	// defaultHTTPTimeout bounds collaborator calls when the caller supplies
	// no client of its own. Per-call contexts may tighten it further.
	defaultHTTPTimeout = 10 * time.Second

	// maxErrorBodyBytes caps how much of a failed response is read back for
	// the error message.
	maxErrorBodyBytes = 4 * 1024
)

// requestError is a non-2xx response from a platform collaborator. Adapters
// inspect the status to translate platform rejections into domain errors.
type requestError struct {
	status int
	body   string
}

func (e *requestError) Error() string {
	if e.body == "" {
		return fmt.Sprintf("http %d", e.status)
	}
	return fmt.Sprintf("http %d: %s", e.status, e.body)
}

// postJSON posts in as a JSON body and decodes the 2xx response into out
// (skipped when out is nil). Non-2xx statuses come back as *requestError
// carrying a bounded slice of the response body.
func postJSON(ctx context.Context, hc *http.Client, url string, in, out any) error {
	buf := &bytes.Buffer{}
	if err := json.NewEncoder(buf).Encode(in); err != nil {
		return fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := hc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
		return &requestError{status: resp.StatusCode, body: strings.TrimSpace(string(body))}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
