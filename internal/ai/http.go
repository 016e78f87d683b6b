package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/openai/openai-go"
)

// HTTPError is a non-2xx answer from a backend.
type HTTPError struct {
	Code int
	Body string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("backend http %d: %s", e.Code, e.Body)
}

// StatusCode lets retry classifiers tell transient failures from fatal ones.
func (e *HTTPError) StatusCode() int { return e.Code }

func newHTTPClient(connect time.Duration) *http.Client {
	dialer := &net.Dialer{Timeout: connect, KeepAlive: 30 * time.Second}
	tr := http.DefaultTransport.(*http.Transport).Clone()
	tr.DialContext = dialer.DialContext
	tr.TLSHandshakeTimeout = connect
	return &http.Client{Transport: tr}
}

// jsonClient makes the plain JSON calls the OpenAI SDK does not cover.
type jsonClient struct {
	client *http.Client
	apiKey string
}

func (c jsonClient) do(ctx context.Context, method, url string, timeout time.Duration, in, out any) error {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &HTTPError{Code: resp.StatusCode, Body: truncate(respBody)}
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("unmarshal: %w body=%s", err, truncate(respBody))
	}
	return nil
}

// wrapError turns SDK errors into HTTPError so callers see one error type.
func wrapError(err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return &HTTPError{Code: apiErr.StatusCode, Body: truncate([]byte(apiErr.Error()))}
	}
	return err
}

func isEOF(err error) bool {
	return errors.Is(err, io.EOF)
}
