package action

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	HEADER_IDEMPOTENCY_KEY = "Idempotency-Key"
	HEADER_SIGNATURE       = "X-Flowgate-Signature"
)

type HTTPStatusError struct {
	URL    string
	Status int
	Body   string
}

func (e HTTPStatusError) Error() string {
	return fmt.Sprintf("request to %s returned status %d: %s", e.URL, e.Status, e.Body)
}

// HTTPEffect performs the request described by an http node:
// url, method (default POST), headers and body.
type HTTPEffect struct {
	Client *http.Client
}

func NewHTTPEffect(timeout time.Duration) *HTTPEffect {
	return &HTTPEffect{Client: &http.Client{Timeout: timeout}}
}

func (h *HTTPEffect) Execute(ctx context.Context, req EffectRequest) (map[string]any, error) {
	url := stringParam(req.Params, "url")
	if url == "" {
		return nil, MissingParamError{Node: req.Node.ID, Param: "url"}
	}
	method := strings.ToUpper(stringParam(req.Params, "method"))
	if method == "" {
		method = http.MethodPost
	}
	var body []byte
	if b, ok := req.Params["body"]; ok && method != http.MethodGet {
		var err error
		if body, err = json.Marshal(b); err != nil {
			return nil, fmt.Errorf("encoding body: %w", err)
		}
	}
	headers := map[string]string{HEADER_IDEMPOTENCY_KEY: req.IdempotencyKey()}
	if hs, ok := req.Params["headers"].(map[string]any); ok {
		for k, v := range hs {
			headers[k] = fmt.Sprintf("%v", v)
		}
	}
	return h.do(ctx, method, url, headers, body)
}

func (h *HTTPEffect) do(ctx context.Context, method, url string, headers map[string]string, body []byte) (map[string]any, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, err
	}
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		httpReq.Header.Set(k, v)
	}
	client := h.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, HTTPStatusError{URL: url, Status: resp.StatusCode, Body: string(raw)}
	}
	out := map[string]any{"status": resp.StatusCode}
	var decoded any
	if len(raw) > 0 && json.Unmarshal(raw, &decoded) == nil {
		out["body"] = decoded
	} else if len(raw) > 0 {
		out["body"] = string(raw)
	}
	return out, nil
}

// WebhookCallEffect POSTs a JSON payload to url. When secret is configured
// the body is signed with HMAC-SHA256 in X-Flowgate-Signature.
type WebhookCallEffect struct {
	HTTP *HTTPEffect
}

func (w *WebhookCallEffect) Execute(ctx context.Context, req EffectRequest) (map[string]any, error) {
	url := stringParam(req.Params, "url")
	if url == "" {
		return nil, MissingParamError{Node: req.Node.ID, Param: "url"}
	}
	payload, ok := req.Params["payload"]
	if !ok {
		payload = req.Data
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encoding payload: %w", err)
	}
	headers := map[string]string{HEADER_IDEMPOTENCY_KEY: req.IdempotencyKey()}
	if secret := stringParam(req.Params, "secret"); secret != "" {
		headers[HEADER_SIGNATURE] = "sha256=" + Sign([]byte(secret), body)
	}
	return w.HTTP.do(ctx, http.MethodPost, url, headers, body)
}

// Sign returns the hex HMAC-SHA256 of body.
func Sign(secret, body []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
