package deviceflow

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Requester is the injected HTTP capability for reaching the
// authorization and token endpoints. Implementations post a
// form-encoded body and return the raw response for the caller to
// interpret; they do not treat non-2xx statuses as errors.
type Requester interface {
	Post(ctx context.Context, endpoint string, headers map[string]string, form url.Values) (status int, body []byte, err error)
}

const (
	// httpTimeout is the per-request timeout for the default client.
	httpTimeout = 30 * time.Second

	// maxResponseBytes caps response body reads. Both endpoints return
	// small JSON payloads.
	maxResponseBytes = 1024 * 1024
)

// HTTPRequester is the default Requester backed by net/http.
type HTTPRequester struct {
	client *http.Client
}

// NewHTTPRequester creates a Requester with the given http.Client.
// If client is nil, one with a 30-second timeout is used.
func NewHTTPRequester(client *http.Client) *HTTPRequester {
	if client == nil {
		client = &http.Client{Timeout: httpTimeout}
	}
	return &HTTPRequester{client: client}
}

func (r *HTTPRequester) Post(ctx context.Context, endpoint string, headers map[string]string, form url.Values) (int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return 0, nil, fmt.Errorf("creating request: %w", err)
	}

	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("sending request to %s: %w", endpoint, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("reading response from %s: %w", endpoint, err)
	}

	return resp.StatusCode, body, nil
}
