// Package ws holds WebSocket message types and the Hub implementation.
// messages.go defines all message structs pushed to subscribed clients.
package ws

import "time"

// MsgType identifies the kind of WS message so clients can switch on it.
type MsgType string

const (
	MsgTypeSubscribed      MsgType = "subscribed"
	MsgTypeMarketResolved  MsgType = "market_resolved"
	MsgTypeMarketCancelled MsgType = "market_cancelled"
	MsgTypeRolledBack      MsgType = "distribution_rolled_back"
	MsgTypeAnalytics       MsgType = "market_analytics"
	MsgTypeError           MsgType = "error"
)

// ──────────────────────────────────────────────────────────────────────────────
// EventMessage — the envelope for every room broadcast.
// ──────────────────────────────────────────────────────────────────────────────

// EventMessage wraps a resolution event for one market's subscribers. Payload
// is event-specific: resolution summaries, refund counts, analytics snapshots.
type EventMessage struct {
	Type      MsgType   `json:"type"`
	MarketID  string    `json:"market_id"`
	Payload   any       `json:"payload,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// ──────────────────────────────────────────────────────────────────────────────
// SubscribedMessage — sent once to a client right after it joins a room.
// ──────────────────────────────────────────────────────────────────────────────

// SubscribedMessage acknowledges the subscription and reports room size.
type SubscribedMessage struct {
	Type     MsgType `json:"type"`
	MarketID string  `json:"market_id"`
	Viewers  int     `json:"viewers"`
}

// ──────────────────────────────────────────────────────────────────────────────
// ErrorMessage — sent to a single client on a non-fatal error.
// ──────────────────────────────────────────────────────────────────────────────

// ErrorMessage is sent directly to one client (not broadcast).
type ErrorMessage struct {
	Type    MsgType `json:"type"`
	Code    string  `json:"code"`
	Message string  `json:"message"`
}
