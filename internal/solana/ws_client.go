package solana

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"solana-volume-guard/internal/observability"
)

// WSClientConfig configures WebSocket client behavior.
type WSClientConfig struct {
	// ReconnectDelay is the delay before the first reconnect attempt; it doubles per attempt.
	ReconnectDelay time.Duration
	// MaxReconnectDelay caps the delay between reconnect attempts.
	MaxReconnectDelay time.Duration
	// MaxReconnectAttempts is the number of failed attempts before giving up.
	MaxReconnectAttempts int
	// SubscribeRetryDelay is the wait before retrying a rejected subscription once.
	SubscribeRetryDelay time.Duration
	// SubscribeTimeout bounds the wait for a subscription acknowledgement.
	SubscribeTimeout time.Duration
	// HandshakeTimeout bounds each dial.
	HandshakeTimeout time.Duration
	// PingInterval is interval for sending ping frames.
	PingInterval time.Duration
	// ReadTimeout is timeout for reading messages; pongs extend it.
	ReadTimeout time.Duration
	// WriteTimeout is timeout for writing messages.
	WriteTimeout time.Duration
	// Commitment is the subscription commitment level.
	Commitment Commitment
	// BufferSize is the capacity of each notification channel.
	BufferSize int
}

// DefaultWSConfig returns default WebSocket configuration.
func DefaultWSConfig() WSClientConfig {
	return WSClientConfig{
		ReconnectDelay:       1 * time.Second,
		MaxReconnectDelay:    30 * time.Second,
		MaxReconnectAttempts: 10,
		SubscribeRetryDelay:  2 * time.Second,
		SubscribeTimeout:     30 * time.Second,
		HandshakeTimeout:     10 * time.Second,
		PingInterval:         30 * time.Second,
		ReadTimeout:          60 * time.Second,
		WriteTimeout:         10 * time.Second,
		Commitment:           CommitmentConfirmed,
		BufferSize:           10000,
	}
}

// withDefaults fills zero fields from DefaultWSConfig.
func (c WSClientConfig) withDefaults() WSClientConfig {
	def := DefaultWSConfig()
	if c.ReconnectDelay <= 0 {
		c.ReconnectDelay = def.ReconnectDelay
	}
	if c.MaxReconnectDelay <= 0 {
		c.MaxReconnectDelay = def.MaxReconnectDelay
	}
	if c.MaxReconnectAttempts <= 0 {
		c.MaxReconnectAttempts = def.MaxReconnectAttempts
	}
	if c.SubscribeRetryDelay <= 0 {
		c.SubscribeRetryDelay = def.SubscribeRetryDelay
	}
	if c.SubscribeTimeout <= 0 {
		c.SubscribeTimeout = def.SubscribeTimeout
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = def.HandshakeTimeout
	}
	if c.PingInterval <= 0 {
		c.PingInterval = def.PingInterval
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = def.ReadTimeout
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = def.WriteTimeout
	}
	if c.Commitment == "" {
		c.Commitment = def.Commitment
	}
	if c.BufferSize <= 0 {
		c.BufferSize = def.BufferSize
	}
	return c
}

// subscription is one active subscription, kept across reconnects.
type subscription struct {
	method      string
	unsubMethod string
	params      []interface{}
	account     string

	// serverID changes on every (re)subscribe; guarded by subsMu with active.
	serverID int64
	active   bool

	logs     chan LogNotification
	accounts chan AccountNotification
}

type pendingRequest struct {
	ch  chan wsResponse
	sub *subscription
}

type wsResponse struct {
	result json.RawMessage
	err    error
}

// WSClientImpl implements WSClient using gorilla/websocket.
type WSClientImpl struct {
	endpoint string
	config   WSClientConfig
	logger   *zap.Logger

	conn      *websocket.Conn
	connMu    sync.Mutex // guards conn and all writes
	closed    atomic.Bool
	requestID atomic.Uint64
	state     atomic.Int32

	// subs holds active subscriptions in subscription order; byServerID routes notifications.
	subs       []*subscription
	byServerID map[int64]*subscription
	subsMu     sync.RWMutex

	pending   map[uint64]pendingRequest
	pendingMu sync.Mutex

	fatal chan error
	done  chan struct{}
	wg    sync.WaitGroup
}

// NewWSClient creates a new WebSocket client and connects to the endpoint.
// Zero config fields take their defaults. A nil logger disables logging.
func NewWSClient(ctx context.Context, endpoint string, config *WSClientConfig, logger *zap.Logger) (*WSClientImpl, error) {
	cfg := DefaultWSConfig()
	if config != nil {
		cfg = config.withDefaults()
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	c := &WSClientImpl{
		endpoint:   endpoint,
		config:     cfg,
		logger:     logger.Named("ws"),
		byServerID: make(map[int64]*subscription),
		pending:    make(map[uint64]pendingRequest),
		fatal:      make(chan error, 1),
		done:       make(chan struct{}),
	}

	if err := c.connect(ctx); err != nil {
		c.setState(StateDisconnected)
		return nil, err
	}

	// Start reader goroutine
	c.wg.Add(1)
	go c.readLoop()

	// Start ping goroutine
	c.wg.Add(1)
	go c.pingLoop()

	return c, nil
}

// State returns the current connection state.
func (c *WSClientImpl) State() ConnState {
	return ConnState(c.state.Load())
}

// Fatal delivers ErrReconnectExhausted once when reconnecting is abandoned.
func (c *WSClientImpl) Fatal() <-chan error {
	return c.fatal
}

// setState moves to s. StoppedByOperator is terminal.
func (c *WSClientImpl) setState(s ConnState) {
	for {
		old := c.state.Load()
		if ConnState(old) == StateStoppedByOperator || ConnState(old) == s {
			return
		}
		if c.state.CompareAndSwap(old, int32(s)) {
			observability.SetConnectionState(int(s))
			c.logger.Info("connection state changed",
				zap.String("event", "connection"),
				zap.String("from", ConnState(old).String()),
				zap.String("to", s.String()),
			)
			return
		}
	}
}

// connect establishes WebSocket connection.
func (c *WSClientImpl) connect(ctx context.Context) error {
	c.setState(StateConnecting)

	dialer := websocket.Dialer{
		HandshakeTimeout: c.config.HandshakeTimeout,
	}

	conn, _, err := dialer.DialContext(ctx, c.endpoint, nil)
	if err != nil {
		return fmt.Errorf("websocket dial: %w", err)
	}

	readTimeout := c.config.ReadTimeout
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(readTimeout))
	})

	c.connMu.Lock()
	if c.closed.Load() {
		c.connMu.Unlock()
		conn.Close()
		return ErrClientClosed
	}
	c.conn = conn
	c.connMu.Unlock()

	c.setState(StateConnectedUnsubscribed)
	return nil
}

// SubscribeLogs subscribes to transaction logs mentioning exactly one address.
func (c *WSClientImpl) SubscribeLogs(ctx context.Context, filter LogsFilter) (<-chan LogNotification, error) {
	if c.closed.Load() {
		return nil, ErrClientClosed
	}
	if len(filter.Mentions) != 1 {
		return nil, fmt.Errorf("%w: logs filter needs exactly one address, got %d", ErrSubscribe, len(filter.Mentions))
	}

	sub := &subscription{
		method:      "logsSubscribe",
		unsubMethod: "logsUnsubscribe",
		params: []interface{}{
			map[string]interface{}{"mentions": filter.Mentions},
			map[string]string{"commitment": string(c.config.Commitment)},
		},
		logs: make(chan LogNotification, c.config.BufferSize),
	}

	if err := c.addSubscription(ctx, sub); err != nil {
		return nil, err
	}
	return sub.logs, nil
}

// SubscribeAccount subscribes to changes of account.
func (c *WSClientImpl) SubscribeAccount(ctx context.Context, account string) (<-chan AccountNotification, error) {
	if c.closed.Load() {
		return nil, ErrClientClosed
	}

	sub := &subscription{
		method:      "accountSubscribe",
		unsubMethod: "accountUnsubscribe",
		params: []interface{}{
			account,
			map[string]string{
				"commitment": string(c.config.Commitment),
				"encoding":   "base64",
			},
		},
		account:  account,
		accounts: make(chan AccountNotification, c.config.BufferSize),
	}

	if err := c.addSubscription(ctx, sub); err != nil {
		return nil, err
	}
	return sub.accounts, nil
}

func (c *WSClientImpl) addSubscription(ctx context.Context, sub *subscription) error {
	id, err := c.subscribe(ctx, sub)
	if err != nil {
		return err
	}

	c.logger.Info("subscribed",
		zap.String("method", sub.method),
		zap.Int64("subscription", id),
	)
	c.setState(StateSubscribed)
	return nil
}

// subscribe sends the subscribe request. A rejection is retried once after
// SubscribeRetryDelay; the transport is left alone either way.
func (c *WSClientImpl) subscribe(ctx context.Context, sub *subscription) (int64, error) {
	for attempt := 0; ; attempt++ {
		raw, err := c.request(ctx, sub.method, sub.params, sub)
		if err == nil {
			var id int64
			if err := json.Unmarshal(raw, &id); err != nil {
				return 0, fmt.Errorf("%w: %s: decode subscription id: %v", ErrSubscribe, sub.method, err)
			}
			return id, nil
		}

		var rerr *rpcError
		if !errors.As(err, &rerr) || attempt > 0 {
			if errors.Is(err, ErrClientClosed) {
				return 0, err
			}
			return 0, fmt.Errorf("%w: %s: %w", ErrSubscribe, sub.method, err)
		}

		c.logger.Warn("subscription rejected, retrying",
			zap.String("method", sub.method),
			zap.Duration("retry_in", c.config.SubscribeRetryDelay),
			zap.Error(err),
		)

		timer := time.NewTimer(c.config.SubscribeRetryDelay)
		select {
		case <-timer.C:
		case <-c.done:
			timer.Stop()
			return 0, ErrClientClosed
		case <-ctx.Done():
			timer.Stop()
			return 0, ctx.Err()
		}
	}
}

// request writes a JSON-RPC request and waits for its response.
func (c *WSClientImpl) request(ctx context.Context, method string, params []interface{}, sub *subscription) (json.RawMessage, error) {
	if c.closed.Load() {
		return nil, ErrClientClosed
	}

	reqID := c.requestID.Add(1)
	respCh := make(chan wsResponse, 1)

	c.pendingMu.Lock()
	c.pending[reqID] = pendingRequest{ch: respCh, sub: sub}
	c.pendingMu.Unlock()

	defer func() {
		c.pendingMu.Lock()
		delete(c.pending, reqID)
		c.pendingMu.Unlock()
	}()

	req := wsRequest{
		JSONRPC: "2.0",
		ID:      reqID,
		Method:  method,
		Params:  params,
	}
	if err := c.writeJSON(req); err != nil {
		return nil, fmt.Errorf("write %s: %w", method, err)
	}

	timer := time.NewTimer(c.config.SubscribeTimeout)
	defer timer.Stop()

	select {
	case resp := <-respCh:
		return resp.result, resp.err
	case <-timer.C:
		return nil, fmt.Errorf("%s timeout after %s", method, c.config.SubscribeTimeout)
	case <-c.done:
		return nil, ErrClientClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *WSClientImpl) writeJSON(v interface{}) error {
	c.connMu.Lock()
	defer c.connMu.Unlock()

	if c.conn == nil {
		return errors.New("not connected")
	}
	_ = c.conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
	return c.conn.WriteJSON(v)
}

// Close unsubscribes every active subscription, closes the connection and
// moves to StoppedByOperator. Notification channels are closed.
func (c *WSClientImpl) Close() error {
	if c.closed.Swap(true) {
		return nil // Already closed
	}

	c.setState(StateStoppedByOperator)
	c.unsubscribeAll()

	c.connMu.Lock()
	if c.conn != nil {
		_ = c.conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
		_ = c.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		c.conn.Close()
		c.conn = nil
	}
	c.connMu.Unlock()

	close(c.done)
	c.wg.Wait()

	c.subsMu.Lock()
	for _, sub := range c.subs {
		if sub.logs != nil {
			close(sub.logs)
		}
		if sub.accounts != nil {
			close(sub.accounts)
		}
	}
	c.subs = nil
	c.byServerID = make(map[int64]*subscription)
	c.subsMu.Unlock()

	c.logger.Info("websocket client closed")
	return nil
}

// unsubscribeAll sends the matching unsubscribe for every acknowledged subscription
// without waiting for replies.
func (c *WSClientImpl) unsubscribeAll() {
	c.subsMu.RLock()
	subs := make([]*subscription, len(c.subs))
	copy(subs, c.subs)
	ids := make([]int64, len(subs))
	for i, sub := range subs {
		ids[i] = sub.serverID
	}
	c.subsMu.RUnlock()

	for i, sub := range subs {
		if ids[i] == 0 {
			continue
		}
		req := wsRequest{
			JSONRPC: "2.0",
			ID:      c.requestID.Add(1),
			Method:  sub.unsubMethod,
			Params:  []interface{}{ids[i]},
		}
		if err := c.writeJSON(req); err != nil {
			c.logger.Debug("unsubscribe not sent", zap.String("method", sub.unsubMethod), zap.Error(err))
		}
	}
}

// readLoop reads messages from WebSocket and dispatches to subscribers.
func (c *WSClientImpl) readLoop() {
	defer c.wg.Done()

	for !c.closed.Load() {
		c.connMu.Lock()
		conn := c.conn
		c.connMu.Unlock()

		if conn == nil {
			return
		}

		_ = conn.SetReadDeadline(time.Now().Add(c.config.ReadTimeout))

		_, message, err := conn.ReadMessage()
		if err != nil {
			if c.closed.Load() {
				return
			}
			c.logger.Warn("websocket read failed", zap.Error(err))
			if !c.reconnect() {
				return
			}
			continue
		}

		c.handleMessage(message)
	}
}

// reconnectDelay returns min(ReconnectDelay * 2^attempt, MaxReconnectDelay).
func (c *WSClientImpl) reconnectDelay(attempt int) time.Duration {
	if attempt > 30 {
		return c.config.MaxReconnectDelay
	}
	delay := c.config.ReconnectDelay << uint(attempt)
	if delay <= 0 || delay > c.config.MaxReconnectDelay {
		return c.config.MaxReconnectDelay
	}
	return delay
}

// reconnect redials with exponential backoff. It returns false when the client
// was closed or every attempt failed; the latter is reported on Fatal.
func (c *WSClientImpl) reconnect() bool {
	c.setState(StateReconnecting)

	// Close existing connection
	c.connMu.Lock()
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	c.connMu.Unlock()

	for attempt := 0; attempt < c.config.MaxReconnectAttempts; attempt++ {
		delay := c.reconnectDelay(attempt)

		timer := time.NewTimer(delay)
		select {
		case <-c.done:
			timer.Stop()
			return false
		case <-timer.C:
		}

		observability.RecordReconnectAttempt()

		ctx, cancel := context.WithTimeout(context.Background(), c.config.HandshakeTimeout)
		err := c.connect(ctx)
		cancel()

		if err == nil {
			c.logger.Info("reconnected", zap.Int("attempt", attempt+1))
			c.wg.Add(1)
			go c.resubscribeAll()
			return true
		}
		if errors.Is(err, ErrClientClosed) {
			return false
		}

		c.logger.Warn("reconnect failed",
			zap.Int("attempt", attempt+1),
			zap.Int("max_attempts", c.config.MaxReconnectAttempts),
			zap.Duration("delay", delay),
			zap.Error(err),
		)
		c.setState(StateReconnecting)
	}

	c.setState(StateDisconnected)
	c.logger.Error("giving up reconnecting",
		zap.String("event", "connection"),
		zap.Int("attempts", c.config.MaxReconnectAttempts),
	)
	select {
	case c.fatal <- ErrReconnectExhausted:
	default:
	}
	return false
}

// resubscribeAll resubscribes every active subscription after reconnect. The
// consumer channels stay the same.
func (c *WSClientImpl) resubscribeAll() {
	defer c.wg.Done()

	c.subsMu.Lock()
	subs := make([]*subscription, len(c.subs))
	copy(subs, c.subs)
	c.byServerID = make(map[int64]*subscription)
	for _, sub := range subs {
		sub.serverID = 0
	}
	c.subsMu.Unlock()

	restored := 0
	for _, sub := range subs {
		ctx, cancel := context.WithTimeout(context.Background(), c.config.SubscribeTimeout)
		_, err := c.subscribe(ctx, sub)
		cancel()

		if err != nil {
			if c.closed.Load() {
				return
			}
			c.logger.Error("resubscribe failed", zap.String("method", sub.method), zap.Error(err))
			continue
		}
		restored++
	}

	if restored > 0 {
		c.setState(StateSubscribed)
	}
	c.logger.Info("resubscribed", zap.Int("restored", restored), zap.Int("total", len(subs)))
}

// handleMessage processes incoming WebSocket message.
func (c *WSClientImpl) handleMessage(message []byte) {
	var msg wsMessage
	if err := json.Unmarshal(message, &msg); err != nil {
		c.logger.Debug("undecodable message", zap.Error(err))
		return
	}

	switch {
	case msg.Method == "logsNotification":
		c.handleLogsNotification(msg.Params)
	case msg.Method == "accountNotification":
		c.handleAccountNotification(msg.Params)
	case msg.ID != nil:
		c.handleResponse(*msg.ID, msg.Result, msg.Error)
	}
}

// handleResponse completes a pending request. Subscriptions are registered
// here, before any later frame (a notification or a disconnect) is read.
func (c *WSClientImpl) handleResponse(id uint64, result json.RawMessage, rerr *rpcError) {
	c.pendingMu.Lock()
	req, ok := c.pending[id]
	if ok {
		delete(c.pending, id)
	}
	c.pendingMu.Unlock()

	if !ok {
		if rerr != nil {
			c.logger.Warn("error response", zap.Int("code", rerr.Code), zap.String("message", rerr.Message))
		}
		return
	}

	if rerr != nil {
		req.ch <- wsResponse{err: rerr}
		return
	}

	if req.sub != nil {
		var subID int64
		if err := json.Unmarshal(result, &subID); err == nil {
			c.subsMu.Lock()
			req.sub.serverID = subID
			c.byServerID[subID] = req.sub
			if !req.sub.active {
				req.sub.active = true
				c.subs = append(c.subs, req.sub)
			}
			c.subsMu.Unlock()
		}
	}

	req.ch <- wsResponse{result: result}
}

func (c *WSClientImpl) lookup(subID int64) *subscription {
	c.subsMu.RLock()
	defer c.subsMu.RUnlock()
	return c.byServerID[subID]
}

// handleLogsNotification dispatches log notification to subscriber.
func (c *WSClientImpl) handleLogsNotification(params *wsNotificationParams) {
	if params == nil {
		return
	}
	sub := c.lookup(params.Subscription)
	if sub == nil || sub.logs == nil {
		return
	}

	var result struct {
		Context *wsContext  `json:"context"`
		Value   wsLogsValue `json:"value"`
	}
	if err := json.Unmarshal(params.Result, &result); err != nil {
		c.logger.Debug("undecodable logs notification", zap.Error(err))
		return
	}

	notif := LogNotification{
		Signature: result.Value.Signature,
		Logs:      result.Value.Logs,
		Err:       result.Value.Err,
	}
	if result.Context != nil {
		notif.Slot = result.Context.Slot
	}

	// Block until we can send - never drop events
	select {
	case sub.logs <- notif:
	case <-c.done:
	}
}

// handleAccountNotification dispatches account notification to subscriber.
func (c *WSClientImpl) handleAccountNotification(params *wsNotificationParams) {
	if params == nil {
		return
	}
	sub := c.lookup(params.Subscription)
	if sub == nil || sub.accounts == nil {
		return
	}

	var result struct {
		Context *wsContext `json:"context"`
		Value   *struct {
			Lamports uint64 `json:"lamports"`
			Owner    string `json:"owner"`
		} `json:"value"`
	}
	if err := json.Unmarshal(params.Result, &result); err != nil {
		c.logger.Debug("undecodable account notification", zap.Error(err))
		return
	}

	notif := AccountNotification{Account: sub.account}
	if result.Context != nil {
		notif.Slot = result.Context.Slot
	}
	if result.Value != nil {
		notif.Lamports = result.Value.Lamports
		notif.Owner = result.Value.Owner
	}

	select {
	case sub.accounts <- notif:
	case <-c.done:
	}
}

// pingLoop sends periodic ping frames to keep connection alive.
func (c *WSClientImpl) pingLoop() {
	defer c.wg.Done()

	ticker := time.NewTicker(c.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.connMu.Lock()
			if c.conn != nil {
				_ = c.conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
				if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					// Reader handles reconnect.
					c.logger.Debug("ping failed", zap.Error(err))
				}
			}
			c.connMu.Unlock()
		}
	}
}

// WebSocket message types

type wsRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      uint64        `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params,omitempty"`
}

// wsMessage is any inbound frame: a response (ID set) or a notification (Method set).
type wsMessage struct {
	JSONRPC string                `json:"jsonrpc"`
	ID      *uint64               `json:"id"`
	Result  json.RawMessage       `json:"result"`
	Error   *rpcError             `json:"error"`
	Method  string                `json:"method"`
	Params  *wsNotificationParams `json:"params"`
}

type wsNotificationParams struct {
	Subscription int64           `json:"subscription"`
	Result       json.RawMessage `json:"result"`
}

type wsContext struct {
	Slot int64 `json:"slot"`
}

type wsLogsValue struct {
	Signature string      `json:"signature"`
	Logs      []string    `json:"logs"`
	Err       interface{} `json:"err"`
}
