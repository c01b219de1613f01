package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"whistlechain/gateway/audit"
	"whistlechain/gateway/middleware"
)

// apiError is a non-2xx gateway response.
type apiError struct {
	Status  int
	Code    string
	Message string
}

func (e *apiError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("gateway returned %d %s: %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("gateway returned %d: %s", e.Status, e.Message)
}

type client struct {
	base     string
	token    string
	identity string
	http     *http.Client
	newKey   func() string
}

var newHTTPClient = func() *http.Client { return &http.Client{Timeout: 30 * time.Second} }

func newClient(p profile) *client {
	return &client{
		base:     p.Server,
		token:    p.Token,
		identity: p.Identity,
		http:     newHTTPClient(),
		newKey:   uuid.NewString,
	}
}

func (c *client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return nil, err
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	} else if c.identity != "" {
		req.Header.Set(middleware.DevIdentityHeader, c.identity)
	}
	if method == http.MethodPost {
		req.Header.Set(audit.HeaderIdempotencyKey, c.newKey())
	}
	return req, nil
}

// doJSON sends payload as JSON and returns the raw response body.
func (c *client) doJSON(ctx context.Context, method, path string, payload interface{}) ([]byte, error) {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		body = bytes.NewReader(data)
	}
	req, err := c.newRequest(ctx, method, path, body)
	if err != nil {
		return nil, err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	data, _, err := c.send(req)
	return data, err
}

func (c *client) send(req *http.Request) ([]byte, http.Header, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, nil, err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var payload struct {
			Error string `json:"error"`
			Code  string `json:"code"`
		}
		apiErr := &apiError{Status: resp.StatusCode, Message: strings.TrimSpace(string(data))}
		if json.Unmarshal(data, &payload) == nil && payload.Error != "" {
			apiErr.Message, apiErr.Code = payload.Error, payload.Code
		}
		return nil, nil, apiErr
	}
	return data, resp.Header, nil
}

func printJSON(w io.Writer, data []byte) error {
	var out bytes.Buffer
	if err := json.Indent(&out, data, "", "  "); err != nil {
		_, err = w.Write(data)
		return err
	}
	out.WriteByte('\n')
	_, err := w.Write(out.Bytes())
	return err
}
