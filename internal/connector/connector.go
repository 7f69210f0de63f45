// Package connector implements the processing functions the worker
// pool invokes: HTTP connectors to the external OCR and translation
// services, and an optional in-process tesseract engine. The
// orchestration core only ever sees them through stage.Processor.
package connector

import (
	"fmt"
	"io"
	"net/http"
	"net/url"
)

// httpError carries enough of a failed response to diagnose the
// upstream service.
type httpError struct {
	Service    string
	StatusCode int
	Body       string
}

func (e *httpError) Error() string {
	return fmt.Sprintf("%s returned status %d: %s", e.Service, e.StatusCode, e.Body)
}

// checkResponse converts a non-2xx response into an httpError with a
// truncated body.
func checkResponse(service string, resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	return &httpError{
		Service:    service,
		StatusCode: resp.StatusCode,
		Body:       string(body),
	}
}

// joinURL resolves a path against a service base URL.
func joinURL(base, path string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("invalid base URL %q: %w", base, err)
	}
	ref, err := url.Parse(path)
	if err != nil {
		return "", fmt.Errorf("invalid path %q: %w", path, err)
	}
	return u.ResolveReference(ref).String(), nil
}
