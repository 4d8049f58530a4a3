// Package httpclient holds small helpers for JSON REST endpoints.
package httpclient

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"slices"
)

// maxErrorBody caps how much of an unexpected response is quoted in errors.
const maxErrorBody = 512

// StatusError is returned when the server answers with a status code the
// caller did not accept.
type StatusError struct {
	URL        string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d from %s: %s", e.StatusCode, e.URL, e.Body)
}

// GetResource issues a GET to baseURL+endpoint and decodes the JSON body into T.
func GetResource[T any](ctx context.Context, client *http.Client, baseURL string, endpoint string, okStatuses []int) (T, error) {
	var resource T

	url := baseURL + endpoint
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return resource, fmt.Errorf("couldn't build request for %s: %w", url, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return resource, fmt.Errorf("couldn't get %s: %w", url, err)
	}
	defer resp.Body.Close()

	if !slices.Contains(okStatuses, resp.StatusCode) {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return resource, &StatusError{URL: url, StatusCode: resp.StatusCode, Body: string(body)}
	}

	if err := json.NewDecoder(resp.Body).Decode(&resource); err != nil {
		return resource, fmt.Errorf("couldn't decode response from %s: %w", url, err)
	}

	return resource, nil
}
