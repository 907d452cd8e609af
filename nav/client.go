package nav

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// maxErrorBody bounds how much of an error response is echoed into errors.
const maxErrorBody = 512

// statusError is a non-2xx reply from an upstream service.
type statusError struct {
	Service string
	Status  int
	Body    string
}

func (e *statusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s returned status %d", e.Service, e.Status)
	}
	return fmt.Sprintf("%s returned status %d: %s", e.Service, e.Status, e.Body)
}

// doJSON sends req and decodes a successful JSON reply into v. Non-2xx
// replies become a *statusError carrying the start of the body.
func doJSON(client *http.Client, req *http.Request, service string, v any) error {
	req.Header.Set("Accept", "application/json")
	if req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", "lockad-server/1.0")
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("error making request to %s: %w", service, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &statusError{Service: service, Status: resp.StatusCode, Body: string(bytes.TrimSpace(body))}
	}

	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("error decoding %s response: %w", service, err)
	}
	return nil
}

func getJSON(ctx context.Context, client *http.Client, url, service string, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	return doJSON(client, req, service, v)
}

func postJSON(ctx context.Context, client *http.Client, url, service string, header http.Header, body, v any) error {
	buf, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("error marshaling %s request: %w", service, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(buf))
	if err != nil {
		return err
	}
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("Content-Type", "application/json")
	return doJSON(client, req, service, v)
}
