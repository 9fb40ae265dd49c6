package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/valyala/fasthttp"
)

// Alert is the JSON body posted to the report webhook.
type Alert struct {
	Reporter    string `json:"reporter"`
	ReportType  string `json:"reportType"`
	Reason      string `json:"reason"`
	Description string `json:"description"`
	ReceivedAt  string `json:"receivedAt"`
}

// Client posts report alerts to an external notification endpoint. Best
// effort only: the relay never blocks a handler on delivery.
type Client struct {
	url     string
	http    *fasthttp.Client
	timeout time.Duration
	retries int
}

type Option func(*Client)

func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

func WithRetries(n int) Option {
	return func(c *Client) { c.retries = n }
}

func NewClient(webhookURL string, opts ...Option) (*Client, error) {
	if strings.TrimSpace(webhookURL) == "" {
		return nil, fmt.Errorf("webhook url required")
	}
	c := &Client{
		url:     strings.TrimSpace(webhookURL),
		http:    &fasthttp.Client{ReadTimeout: 10 * time.Second, WriteTimeout: 10 * time.Second, MaxConnsPerHost: 16},
		timeout: 10 * time.Second,
		retries: 2,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// SendAlert posts the alert, retrying transient failures.
func (c *Client) SendAlert(ctx context.Context, a *Alert) error {
	if c == nil || a == nil {
		return nil
	}
	body, err := json.Marshal(a)
	if err != nil {
		return err
	}

	var lastErr error
	for attempt := 0; attempt <= c.retries; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if lastErr = c.post(body); lastErr == nil {
			return nil
		}
	}
	return lastErr
}

func (c *Client) post(body []byte) error {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer func() {
		fasthttp.ReleaseRequest(req)
		fasthttp.ReleaseResponse(resp)
	}()

	req.Header.SetMethod(fasthttp.MethodPost)
	req.SetRequestURI(c.url)
	req.Header.SetContentType("application/json")
	req.SetBody(body)

	if err := c.http.DoTimeout(req, resp, c.timeout); err != nil {
		return err
	}
	if code := resp.StatusCode(); code < 200 || code > 299 {
		return fmt.Errorf("webhook status %d", code)
	}
	return nil
}
