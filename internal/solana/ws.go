package solana

import (
	"context"
	"errors"
)

// Connection errors.
var (
	// ErrReconnectExhausted is delivered on Fatal when every reconnect attempt failed.
	ErrReconnectExhausted = errors.New("reconnect attempts exhausted")

	// ErrClientClosed is returned by operations on a closed client.
	ErrClientClosed = errors.New("client closed")

	// ErrSubscribe is returned when the node rejects a subscription twice.
	ErrSubscribe = errors.New("subscribe failed")
)

// WSClient defines the Solana WebSocket subscription interface.
type WSClient interface {
	// SubscribeLogs subscribes to transaction logs mentioning the filter address.
	SubscribeLogs(ctx context.Context, filter LogsFilter) (<-chan LogNotification, error)

	// SubscribeAccount subscribes to changes of a single account.
	SubscribeAccount(ctx context.Context, account string) (<-chan AccountNotification, error)

	// State returns the current connection state.
	State() ConnState

	// Fatal delivers ErrReconnectExhausted once when the client gives up.
	Fatal() <-chan error

	// Close unsubscribes everything and closes the connection.
	Close() error
}

// ConnState is the connection lifecycle state.
type ConnState int

// Connection states.
const (
	StateDisconnected ConnState = iota
	StateConnecting
	StateConnectedUnsubscribed
	StateSubscribed
	StateReconnecting
	StateStoppedByOperator
)

// String returns the state name.
func (s ConnState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnectedUnsubscribed:
		return "connected_unsubscribed"
	case StateSubscribed:
		return "subscribed"
	case StateReconnecting:
		return "reconnecting"
	case StateStoppedByOperator:
		return "stopped"
	default:
		return "unknown"
	}
}

// LogsFilter defines the subscription filter for logs.
type LogsFilter struct {
	// Mentions filters logs that mention this address. The node accepts exactly one.
	Mentions []string
}

// LogNotification represents a logs subscription message.
type LogNotification struct {
	Signature string
	Slot      int64
	Logs      []string
	Err       interface{}
}

// AccountNotification represents an account subscription message.
type AccountNotification struct {
	Account  string
	Slot     int64
	Lamports uint64
	Owner    string
}
