package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

const sendPath = "/services/send-message.php"

// GatewayClient talks to the SMS gateway's send endpoint.
type GatewayClient struct {
	baseURL string
	apiKey  string
	http    *resty.Client
}

func NewGatewayClient(baseURL, apiKey string, timeout time.Duration) *GatewayClient {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &GatewayClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		http: resty.New().
			SetTimeout(timeout).
			SetHeader("Accept", "application/json"),
	}
}

// Configured reports whether both endpoint and key are set.
func (c *GatewayClient) Configured() bool {
	return c != nil && c.baseURL != "" && c.apiKey != ""
}

type SendParams struct {
	Number  string
	Message string
	Devices string
}

// SendResult describes one call. URL never carries the real key.
type SendResult struct {
	Method     string
	URL        string
	StatusCode int
	Body       json.RawMessage
	Success    bool
	MessageID  string
}

type sendResponse struct {
	Success   *bool         `json:"success"`
	MessageID any           `json:"messageId"`
	ID        any           `json:"id"`
	Data      *responseData `json:"data"`
}

type responseData struct {
	Messages []struct {
		ID any `json:"ID"`
	} `json:"messages"`
}

func (c *GatewayClient) fields(p SendParams) map[string]string {
	return map[string]string{
		"key":        c.apiKey,
		"number":     p.Number,
		"message":    p.Message,
		"devices":    p.Devices,
		"type":       "sms",
		"prioritize": "1",
	}
}

// SendGET issues the query-parameter variant. A non-nil error means the call
// did not produce a usable response; res is still filled as far as known.
func (c *GatewayClient) SendGET(ctx context.Context, p SendParams) (SendResult, error) {
	res := SendResult{Method: http.MethodGet, URL: c.redactedURL(p, true)}

	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParams(c.fields(p)).
		Get(c.baseURL + sendPath)
	return c.finish(res, resp, err)
}

// SendPOST issues the form-encoded variant with identical fields.
func (c *GatewayClient) SendPOST(ctx context.Context, p SendParams) (SendResult, error) {
	res := SendResult{Method: http.MethodPost, URL: c.redactedURL(p, false)}

	resp, err := c.http.R().
		SetContext(ctx).
		SetFormData(c.fields(p)).
		Post(c.baseURL + sendPath)
	return c.finish(res, resp, err)
}

func (c *GatewayClient) finish(res SendResult, resp *resty.Response, err error) (SendResult, error) {
	if err != nil {
		return res, fmt.Errorf("%s %s: %w", res.Method, sendPath, err)
	}

	res.StatusCode = resp.StatusCode()
	body := resp.Body()
	if json.Valid(body) {
		res.Body = append(json.RawMessage(nil), body...)
	} else if len(body) > 0 {
		b, _ := json.Marshal(string(body))
		res.Body = b
	}

	if !resp.IsSuccess() {
		return res, fmt.Errorf("unexpected status code: %d body=%q", res.StatusCode, string(body))
	}

	// Non-JSON 2xx bodies carry no success flag and count as accepted.
	var sr sendResponse
	_ = json.Unmarshal(body, &sr)

	res.Success = sr.Success == nil || *sr.Success
	res.MessageID = firstID(sr)
	return res, nil
}

func firstID(sr sendResponse) string {
	if s := idString(sr.MessageID); s != "" {
		return s
	}
	if s := idString(sr.ID); s != "" {
		return s
	}
	if sr.Data != nil && len(sr.Data.Messages) > 0 {
		return idString(sr.Data.Messages[0].ID)
	}
	return ""
}

func idString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return fmt.Sprintf("%.0f", t)
	case nil:
		return ""
	default:
		return fmt.Sprint(t)
	}
}

func (c *GatewayClient) redactedURL(p SendParams, withQuery bool) string {
	u := c.baseURL + sendPath
	if !withQuery {
		return u
	}
	q := url.Values{}
	for k, v := range c.fields(p) {
		q.Set(k, v)
	}
	q.Set("key", "REDACTED")
	return u + "?" + q.Encode()
}
