package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-resty/resty/v2"
)

// ──────────────────────────────────────────────────────────────────────────────
// API client
// ──────────────────────────────────────────────────────────────────────────────

// Client is a thin wrapper over the engine's HTTP API. Every response travels
// in the {"success": ..., "data": ..., "error": ..., "code": ...} envelope;
// the client unwraps it and surfaces failures as *APIError.
type Client struct {
	http *resty.Client
}

// NewClient builds a client for the given base URL. token may be empty for
// public endpoints.
func NewClient(baseURL, token string) *Client {
	c := resty.New().
		SetBaseURL(baseURL).
		SetHeader("User-Agent", "resolvectl/1.0").
		SetHeader("Content-Type", "application/json")
	if token != "" {
		c.SetAuthToken(token)
	}
	return &Client{http: c}
}

// APIError carries the engine's error envelope plus the HTTP status.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s (%s, HTTP %d)", e.Message, e.Code, e.Status)
	}
	return fmt.Sprintf("%s (HTTP %d)", e.Message, e.Status)
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
	Code    string          `json:"code"`
}

// decode unwraps the response envelope into out (which may be nil when the
// caller only cares about success).
func decode(resp *resty.Response, out any) error {
	var env envelope
	if err := json.Unmarshal(resp.Body(), &env); err != nil {
		return fmt.Errorf("malformed response (HTTP %d): %w", resp.StatusCode(), err)
	}
	if !env.Success || resp.IsError() {
		msg := env.Error
		if msg == "" {
			msg = "request failed"
		}
		return &APIError{Status: resp.StatusCode(), Code: env.Code, Message: msg}
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("malformed data payload: %w", err)
	}
	return nil
}

func (c *Client) get(ctx context.Context, path string, query map[string]string, out any) error {
	req := c.http.R().SetContext(ctx)
	if len(query) > 0 {
		req.SetQueryParams(query)
	}
	resp, err := req.Get(path)
	if err != nil {
		return err
	}
	return decode(resp, out)
}

func (c *Client) post(ctx context.Context, path string, body, out any) error {
	req := c.http.R().SetContext(ctx)
	if body != nil {
		req.SetBody(body)
	}
	resp, err := req.Post(path)
	if err != nil {
		return err
	}
	return decode(resp, out)
}

// ──────────────────────────────────────────────────────────────────────────────
// Wire payloads — mirror the engine's JSON contract
// ──────────────────────────────────────────────────────────────────────────────

type evidenceItem struct {
	URL         string `json:"url,omitempty"`
	Description string `json:"description,omitempty"`
}

type resolvePayload struct {
	WinningOptionID string         `json:"winning_option_id"`
	Evidence        []evidenceItem `json:"evidence,omitempty"`
}

type reasonPayload struct {
	Reason string `json:"reason,omitempty"`
}

type cancelPayload struct {
	Reason       string `json:"reason,omitempty"`
	RefundTokens *bool  `json:"refund_tokens,omitempty"`
}

type reconcilePayload struct {
	Repair bool `json:"repair"`
}

type tokenPayload struct {
	OperatorID string `json:"operator_id"`
	APIKey     string `json:"api_key"`
}

// ──────────────────────────────────────────────────────────────────────────────
// Endpoint calls — each returns the raw data payload for printing
// ──────────────────────────────────────────────────────────────────────────────

func (c *Client) Pending(ctx context.Context) (json.RawMessage, error) {
	var out json.RawMessage
	err := c.get(ctx, "/api/markets/pending-resolution", nil, &out)
	return out, err
}

func (c *Client) Status(ctx context.Context, marketID string) (json.RawMessage, error) {
	var out json.RawMessage
	err := c.get(ctx, "/api/markets/"+marketID+"/resolution-status", nil, &out)
	return out, err
}

func (c *Client) Preview(ctx context.Context, marketID, winner, feeFraction string) (json.RawMessage, error) {
	query := map[string]string{"winning_option_id": winner}
	if feeFraction != "" {
		query["creator_fee_fraction"] = feeFraction
	}
	var out json.RawMessage
	err := c.get(ctx, "/api/markets/"+marketID+"/payout-preview", query, &out)
	return out, err
}

func (c *Client) Resolve(ctx context.Context, marketID string, payload resolvePayload) (json.RawMessage, error) {
	var out json.RawMessage
	err := c.post(ctx, "/api/markets/"+marketID+"/resolve", payload, &out)
	return out, err
}

func (c *Client) Cancel(ctx context.Context, marketID, reason string, refundTokens bool) (json.RawMessage, error) {
	payload := cancelPayload{Reason: reason}
	if !refundTokens {
		// Refunding is the server default; only the forfeit case goes on the wire.
		f := false
		payload.RefundTokens = &f
	}
	var out json.RawMessage
	err := c.post(ctx, "/api/markets/"+marketID+"/cancel", payload, &out)
	return out, err
}

func (c *Client) Rollback(ctx context.Context, distributionID, reason string) (json.RawMessage, error) {
	var out json.RawMessage
	err := c.post(ctx, "/api/distributions/"+distributionID+"/rollback", reasonPayload{Reason: reason}, &out)
	return out, err
}

func (c *Client) Reconcile(ctx context.Context, accountID string, repair bool) (json.RawMessage, error) {
	var out json.RawMessage
	err := c.post(ctx, "/api/accounts/"+accountID+"/reconcile", reconcilePayload{Repair: repair}, &out)
	return out, err
}

func (c *Client) Balance(ctx context.Context, accountID string) (json.RawMessage, error) {
	var out json.RawMessage
	err := c.get(ctx, "/api/accounts/"+accountID+"/balance", nil, &out)
	return out, err
}

func (c *Client) Token(ctx context.Context, operatorID, apiKey string) (json.RawMessage, error) {
	var out json.RawMessage
	err := c.post(ctx, "/api/auth/token", tokenPayload{OperatorID: operatorID, APIKey: apiKey}, &out)
	return out, err
}
