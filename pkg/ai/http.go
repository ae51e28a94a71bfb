package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

const maxErrorBody = 4 << 10

// postJSON sends payload and decodes a 2xx body into out. Any failure is
// returned as a classified *Error. errDetail extracts the provider's error
// text from a non-2xx body.
func postJSON(ctx context.Context, client *http.Client, provider, url string, headers map[string]string, payload, out any, errDetail func([]byte) string) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return &Error{Kind: KindUpstreamFailure, Provider: provider, Err: fmt.Errorf("encode request: %w", err)}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return &Error{Kind: KindUpstreamFailure, Provider: provider, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	return doJSON(client, provider, req, headers, out, errDetail)
}

// getJSON is postJSON without a request body.
func getJSON(ctx context.Context, client *http.Client, provider, url string, headers map[string]string, out any, errDetail func([]byte) string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return &Error{Kind: KindUpstreamFailure, Provider: provider, Err: err}
	}
	return doJSON(client, provider, req, headers, out, errDetail)
}

func doJSON(client *http.Client, provider string, req *http.Request, headers map[string]string, out any, errDetail func([]byte) string) error {
	ctx := req.Context()
	req.Header.Set("Accept", "application/json")
	for k, v := range headers {
		if v != "" {
			req.Header.Set(k, v)
		}
	}
	resp, err := client.Do(req)
	if err != nil {
		return classifyTransport(provider, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		detail := ""
		if errDetail != nil {
			detail = errDetail(raw)
		}
		if detail == "" {
			detail = resp.Status
		}
		return &Error{Kind: KindForStatus(resp.StatusCode), Provider: provider, Status: resp.StatusCode, Detail: detail}
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		if ctx.Err() != nil {
			return classifyTransport(provider, ctx.Err())
		}
		return &Error{Kind: KindUpstreamFailure, Provider: provider, Err: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
