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
)

// remoteError is what both transports return when the server rejects a call.
type remoteError struct {
	Transport string
	Code      int
	Message   string
	Details   []string
}

func (e *remoteError) Error() string {
	msg := fmt.Sprintf("%s error (%d): %s", e.Transport, e.Code, e.Message)
	if len(e.Details) > 0 {
		msg += ": " + strings.Join(e.Details, "; ")
	}
	return msg
}

type apiClient struct {
	httpClient *http.Client
	server     string
}

func newAPIClient(server string) *apiClient {
	return &apiClient{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		server:     strings.TrimRight(server, "/"),
	}
}

func (c *apiClient) request(ctx context.Context, method, path string, in any, out any) error {
	var body io.Reader
	if in != nil {
		buf := &bytes.Buffer{}
		if err := json.NewEncoder(buf).Encode(in); err != nil {
			return err
		}
		body = buf
	}

	req, err := http.NewRequestWithContext(ctx, method, c.server+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 400 {
		payload, _ := io.ReadAll(resp.Body)
		return decodeAPIError(resp.StatusCode, payload)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func decodeAPIError(status int, payload []byte) *remoteError {
	var body struct {
		Error  string   `json:"error"`
		Errors []string `json:"errors"`
	}
	rerr := &remoteError{Transport: "api", Code: status}
	if json.Unmarshal(payload, &body) == nil && body.Error != "" {
		rerr.Message = body.Error
		rerr.Details = body.Errors
		return rerr
	}
	rerr.Message = strings.TrimSpace(string(payload))
	if rerr.Message == "" {
		rerr.Message = http.StatusText(status)
	}
	return rerr
}
