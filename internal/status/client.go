// Package status talks to the agent host's REST side: the status feed that
// drives the dashboard and the checkout action.
package status

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/ent0n29/maitred/internal/protocol"
	"github.com/ent0n29/maitred/internal/reliability"
)

// ErrCheckoutRejected is returned when the server answers a checkout with
// success=false.
var ErrCheckoutRejected = errors.New("checkout rejected")

const defaultTimeout = 5 * time.Second

type Client struct {
	baseURL string
	client  *http.Client
}

// NewClient builds a client for baseURL. A nil httpClient gets a traced client
// with a short timeout.
func NewClient(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{
			Timeout:   defaultTimeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		}
	}
	return &Client{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		client:  httpClient,
	}
}

func (c *Client) FetchStatus(ctx context.Context, userID string) (protocol.Status, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint("/api/status", userID), nil)
	if err != nil {
		return protocol.Status{}, fmt.Errorf("create request: %w", err)
	}

	var out protocol.Status
	if err := c.do(req, &out); err != nil {
		return protocol.Status{}, err
	}
	return out, nil
}

// Checkout frees a table. The response is returned alongside
// ErrCheckoutRejected so callers can show the server's message.
func (c *Client) Checkout(ctx context.Context, userID, tableID string) (protocol.CheckoutResponse, error) {
	tableID = strings.TrimSpace(tableID)
	if tableID == "" {
		return protocol.CheckoutResponse{}, fmt.Errorf("%w: table_id is required", ErrCheckoutRejected)
	}
	payload, err := json.Marshal(protocol.CheckoutRequest{TableID: tableID})
	if err != nil {
		return protocol.CheckoutResponse{}, fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint("/api/checkout", userID), bytes.NewReader(payload))
	if err != nil {
		return protocol.CheckoutResponse{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	var out protocol.CheckoutResponse
	if err := c.do(req, &out); err != nil {
		return protocol.CheckoutResponse{}, err
	}
	if !out.Success {
		msg := strings.TrimSpace(out.Message)
		if msg == "" {
			msg = "checkout failed"
		}
		return out, fmt.Errorf("%w: %s", ErrCheckoutRejected, msg)
	}
	return out, nil
}

func (c *Client) endpoint(path, userID string) string {
	q := url.Values{}
	q.Set("user_id", userID)
	return c.baseURL + path + "?" + q.Encode()
}

func (c *Client) do(req *http.Request, out any) error {
	res, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 4<<10))
		return &reliability.HTTPStatusError{Code: res.StatusCode, Body: strings.TrimSpace(string(body))}
	}
	if err := json.NewDecoder(res.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
