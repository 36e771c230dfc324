package solana

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"solana-volume-guard/internal/observability"
)

// Default configuration values.
const (
	DefaultTimeout     = 30 * time.Second
	DefaultMaxRetries  = 3
	DefaultRetryDelay  = 1 * time.Second
	DefaultMaxDelay    = 10 * time.Second
	DefaultBackoffMult = 2.0
)

// HTTPClient implements RPCClient using HTTP JSON-RPC 2.0.
type HTTPClient struct {
	endpoint    string
	client      *http.Client
	maxRetries  int
	retryDelay  time.Duration
	maxDelay    time.Duration
	backoffMult float64
	requestID   atomic.Uint64
}

// ClientOption configures HTTPClient.
type ClientOption func(*HTTPClient)

// WithTimeout sets HTTP client timeout.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *HTTPClient) {
		c.client.Timeout = d
	}
}

// WithMaxRetries sets maximum retry attempts.
func WithMaxRetries(n int) ClientOption {
	return func(c *HTTPClient) {
		c.maxRetries = n
	}
}

// WithRetryDelay sets initial retry delay.
func WithRetryDelay(d time.Duration) ClientOption {
	return func(c *HTTPClient) {
		c.retryDelay = d
	}
}

// WithMaxDelay sets maximum retry delay.
func WithMaxDelay(d time.Duration) ClientOption {
	return func(c *HTTPClient) {
		c.maxDelay = d
	}
}

// WithHTTPClient sets custom http.Client.
func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *HTTPClient) {
		c.client = client
	}
}

// NewHTTPClient creates a new Solana RPC HTTP client.
func NewHTTPClient(endpoint string, opts ...ClientOption) *HTTPClient {
	c := &HTTPClient{
		endpoint:    endpoint,
		client:      &http.Client{Timeout: DefaultTimeout},
		maxRetries:  DefaultMaxRetries,
		retryDelay:  DefaultRetryDelay,
		maxDelay:    DefaultMaxDelay,
		backoffMult: DefaultBackoffMult,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// rpcRequest represents a JSON-RPC 2.0 request.
type rpcRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      uint64        `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params,omitempty"`
}

// rpcResponse represents a JSON-RPC 2.0 response.
type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      uint64          `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

// rpcError represents a JSON-RPC 2.0 error.
type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *rpcError) Error() string {
	return fmt.Sprintf("RPC error %d: %s", e.Code, e.Message)
}

// call performs a JSON-RPC call with retries and exponential backoff.
func (c *HTTPClient) call(ctx context.Context, method string, params []interface{}, result interface{}) error {
	start := time.Now()
	defer func() {
		observability.RecordRPCLatency(method, time.Since(start).Seconds())
	}()

	reqID := c.requestID.Add(1)
	reqBody := rpcRequest{
		JSONRPC: "2.0",
		ID:      reqID,
		Method:  method,
		Params:  params,
	}

	body, err := json.Marshal(reqBody)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	delay := c.retryDelay
	var lastErr error

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			// Exponential backoff
			delay = time.Duration(float64(delay) * c.backoffMult)
			if delay > c.maxDelay {
				delay = c.maxDelay
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("create request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.client.Do(req)
		if err != nil {
			lastErr = fmt.Errorf("http request: %w", err)
			continue
		}

		respBody, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = fmt.Errorf("read response: %w", err)
			continue
		}

		// Handle rate limiting
		if resp.StatusCode == http.StatusTooManyRequests {
			lastErr = fmt.Errorf("rate limited (429)")
			continue
		}

		if resp.StatusCode != http.StatusOK {
			lastErr = fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(respBody))
			continue
		}

		var rpcResp rpcResponse
		if err := json.Unmarshal(respBody, &rpcResp); err != nil {
			lastErr = fmt.Errorf("unmarshal response: %w", err)
			continue
		}

		if rpcResp.Error != nil {
			// RPC errors are not retried
			return rpcResp.Error
		}

		if result != nil && len(rpcResp.Result) > 0 {
			if err := json.Unmarshal(rpcResp.Result, result); err != nil {
				return fmt.Errorf("unmarshal result: %w", err)
			}
		}

		return nil
	}

	return fmt.Errorf("max retries exceeded: %w", lastErr)
}

// GetTransaction retrieves a transaction by signature at the given commitment and
// encoding. It returns ErrNotFound when the node has no such transaction yet.
func (c *HTTPClient) GetTransaction(ctx context.Context, signature string, opts GetTransactionOpts) (*Transaction, error) {
	if opts.Commitment == "" {
		opts.Commitment = CommitmentConfirmed
	}
	if opts.Encoding == "" {
		opts.Encoding = EncodingJSON
	}

	params := []interface{}{
		signature,
		map[string]interface{}{
			"commitment":                     string(opts.Commitment),
			"encoding":                       string(opts.Encoding),
			"maxSupportedTransactionVersion": 0,
		},
	}

	var result *getTransactionResult
	if err := c.call(ctx, "getTransaction", params, &result); err != nil {
		return nil, err
	}

	if result == nil {
		return nil, ErrNotFound
	}

	return result.toTransaction(signature), nil
}

// GetSlot retrieves the current confirmed slot.
func (c *HTTPClient) GetSlot(ctx context.Context) (int64, error) {
	params := []interface{}{
		map[string]interface{}{"commitment": string(CommitmentConfirmed)},
	}
	var result int64
	if err := c.call(ctx, "getSlot", params, &result); err != nil {
		return 0, err
	}
	return result, nil
}

// getTransactionResult is the raw RPC response for getTransaction.
type getTransactionResult struct {
	Slot        int64               `json:"slot"`
	BlockTime   *int64              `json:"blockTime"`
	Meta        *getTransactionMeta `json:"meta"`
	Transaction *getTransactionTx   `json:"transaction"`
}

type getTransactionMeta struct {
	Err               interface{}       `json:"err"`
	Fee               uint64            `json:"fee"`
	PreBalances       []uint64          `json:"preBalances"`
	PostBalances      []uint64          `json:"postBalances"`
	PreTokenBalances  []rawTokenBalance `json:"preTokenBalances"`
	PostTokenBalances []rawTokenBalance `json:"postTokenBalances"`
	LogMessages       []string          `json:"logMessages"`
	LoadedAddresses   *struct {
		Writable []string `json:"writable"`
		Readonly []string `json:"readonly"`
	} `json:"loadedAddresses"`
}

type rawTokenBalance struct {
	AccountIndex  int    `json:"accountIndex"`
	Mint          string `json:"mint"`
	Owner         string `json:"owner"`
	ProgramID     string `json:"programId"`
	UITokenAmount struct {
		Amount         string `json:"amount"`
		Decimals       int    `json:"decimals"`
		UIAmountString string `json:"uiAmountString"`
	} `json:"uiTokenAmount"`
}

type getTransactionTx struct {
	Message *getTransactionMessage `json:"message"`
}

type getTransactionMessage struct {
	Header *struct {
		NumRequiredSignatures int `json:"numRequiredSignatures"`
	} `json:"header"`
	AccountKeys []rawAccountKey `json:"accountKeys"`
}

// rawAccountKey accepts both encodings: a plain string ("json") or an object
// with signer/writable flags ("jsonParsed").
type rawAccountKey struct {
	Pubkey   string `json:"pubkey"`
	Signer   bool   `json:"signer"`
	Writable bool   `json:"writable"`
	Source   string `json:"source"`
	parsed   bool
}

func (k *rawAccountKey) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		k.Pubkey = s
		return nil
	}
	type alias rawAccountKey
	var obj alias
	if err := json.Unmarshal(data, &obj); err != nil {
		return fmt.Errorf("account key: %w", err)
	}
	*k = rawAccountKey(obj)
	k.parsed = true
	return nil
}

func (r *getTransactionResult) toTransaction(signature string) *Transaction {
	tx := &Transaction{
		Slot:      r.Slot,
		Signature: signature,
	}
	if r.BlockTime != nil {
		tx.BlockTime = *r.BlockTime
	}

	if r.Meta != nil {
		tx.Meta = &TransactionMeta{
			Err:               r.Meta.Err,
			Fee:               r.Meta.Fee,
			PreBalances:       r.Meta.PreBalances,
			PostBalances:      r.Meta.PostBalances,
			PreTokenBalances:  convertTokenBalances(r.Meta.PreTokenBalances),
			PostTokenBalances: convertTokenBalances(r.Meta.PostTokenBalances),
			LogMessages:       r.Meta.LogMessages,
		}
		if r.Meta.LoadedAddresses != nil {
			tx.Meta.LoadedAddresses = LoadedAddresses{
				Writable: r.Meta.LoadedAddresses.Writable,
				Readonly: r.Meta.LoadedAddresses.Readonly,
			}
		}
	}

	if r.Transaction != nil && r.Transaction.Message != nil {
		msg := r.Transaction.Message
		numSigners := 0
		if msg.Header != nil {
			numSigners = msg.Header.NumRequiredSignatures
		}

		tx.Message = &TransactionMessage{}
		for i, k := range msg.AccountKeys {
			// jsonParsed lists lookup-table accounts inline; they are
			// already present in LoadedAddresses order after the static keys.
			if k.parsed && k.Source == "lookupTable" {
				continue
			}
			key := AccountKey{Pubkey: k.Pubkey, Signer: k.Signer, Writable: k.Writable}
			if !k.parsed {
				key.Signer = i < numSigners
			}
			tx.Message.AccountKeys = append(tx.Message.AccountKeys, key)
		}

		// jsonParsed omits loadedAddresses from meta; rebuild it from the inline keys.
		if tx.Meta != nil && len(tx.Meta.LoadedAddresses.Writable)+len(tx.Meta.LoadedAddresses.Readonly) == 0 {
			for _, k := range msg.AccountKeys {
				if !k.parsed || k.Source != "lookupTable" {
					continue
				}
				if k.Writable {
					tx.Meta.LoadedAddresses.Writable = append(tx.Meta.LoadedAddresses.Writable, k.Pubkey)
				} else {
					tx.Meta.LoadedAddresses.Readonly = append(tx.Meta.LoadedAddresses.Readonly, k.Pubkey)
				}
			}
		}
	}

	return tx
}

func convertTokenBalances(raw []rawTokenBalance) []TokenBalance {
	if len(raw) == 0 {
		return nil
	}
	out := make([]TokenBalance, len(raw))
	for i, b := range raw {
		out[i] = TokenBalance{
			AccountIndex:   b.AccountIndex,
			Mint:           b.Mint,
			Owner:          b.Owner,
			ProgramID:      b.ProgramID,
			Amount:         b.UITokenAmount.Amount,
			Decimals:       b.UITokenAmount.Decimals,
			UIAmountString: b.UITokenAmount.UIAmountString,
		}
	}
	return out
}
