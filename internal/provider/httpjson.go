package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const (
	defaultTimeout = 120 * time.Second
	// maxErrorBody caps how much of a failed response ends up in APIError.
	maxErrorBody = 8 << 10
)

// jsonAPI is a JSON-over-HTTP endpoint with fixed auth headers.
type jsonAPI struct {
	base    string
	headers map[string]string
	client  *http.Client
}

func newJSONAPI(base string, timeout time.Duration, headers map[string]string) *jsonAPI {
	if timeout == 0 {
		timeout = defaultTimeout
	}
	return &jsonAPI{base: base, headers: headers, client: &http.Client{Timeout: timeout}}
}

// do sends in (when non-nil) as the JSON body and decodes a 200 response
// into out. Any other status becomes an *APIError.
func (a *jsonAPI) do(ctx context.Context, method, url string, in, out any) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range a.headers {
		req.Header.Set(k, v)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &APIError{Status: resp.StatusCode, Body: string(msg)}
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
