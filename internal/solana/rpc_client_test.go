package solana

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// rpcServer answers every request with result(req).
func rpcServer(t *testing.T, result func(req rpcRequest) interface{}) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req rpcRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		resp := map[string]interface{}{
			"jsonrpc": "2.0",
			"id":      req.ID,
			"result":  result(req),
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}))
	t.Cleanup(server.Close)
	return server
}

func tokenBalance(index int, mint, owner, amount string) map[string]interface{} {
	return map[string]interface{}{
		"accountIndex": index,
		"mint":         mint,
		"owner":        owner,
		"programId":    TokenProgramID,
		"uiTokenAmount": map[string]interface{}{
			"amount":         amount,
			"decimals":       6,
			"uiAmountString": amount,
		},
	}
}

func TestHTTPClient_GetTransaction_JSONEncoding(t *testing.T) {
	gotParams := make(chan []interface{}, 1)
	server := rpcServer(t, func(req rpcRequest) interface{} {
		gotParams <- req.Params
		return map[string]interface{}{
			"slot":      int64(123456),
			"blockTime": int64(1700000000),
			"meta": map[string]interface{}{
				"err":               nil,
				"fee":               5000,
				"preBalances":       []uint64{2_000_000_000, 0, 1},
				"postBalances":      []uint64{1_499_995_000, 0, 1},
				"preTokenBalances":  []interface{}{tokenBalance(1, "MintX", "payer", "0")},
				"postTokenBalances": []interface{}{tokenBalance(1, "MintX", "payer", "1000")},
				"logMessages":       []string{"Program log: Instruction: Swap"},
				"loadedAddresses": map[string]interface{}{
					"writable": []string{"poolVault"},
					"readonly": []string{"MintX"},
				},
			},
			"transaction": map[string]interface{}{
				"message": map[string]interface{}{
					"header":      map[string]interface{}{"numRequiredSignatures": 1},
					"accountKeys": []string{"payer", "payerAta", "SwapProgram"},
				},
			},
		}
	})

	client := NewHTTPClient(server.URL)
	tx, err := client.GetTransaction(context.Background(), "testsig123", GetTransactionOpts{
		Commitment: CommitmentFinalized,
		Encoding:   EncodingJSON,
	})
	require.NoError(t, err)
	require.NotNil(t, tx)

	params := <-gotParams
	require.Len(t, params, 2)
	opts, ok := params[1].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "finalized", opts["commitment"])
	assert.Equal(t, "json", opts["encoding"])
	assert.EqualValues(t, 0, opts["maxSupportedTransactionVersion"])

	assert.Equal(t, int64(123456), tx.Slot)
	assert.Equal(t, int64(1700000000), tx.BlockTime)
	assert.Equal(t, "testsig123", tx.Signature)
	assert.False(t, tx.Failed())

	assert.Equal(t, uint64(5000), tx.Meta.Fee)
	assert.Equal(t, []uint64{2_000_000_000, 0, 1}, tx.Meta.PreBalances)
	require.Len(t, tx.Meta.PostTokenBalances, 1)
	assert.Equal(t, "1000", tx.Meta.PostTokenBalances[0].Amount)
	assert.Equal(t, "payer", tx.Meta.PostTokenBalances[0].Owner)
	assert.Equal(t, 6, tx.Meta.PostTokenBalances[0].Decimals)

	assert.Equal(t, []string{"payer"}, tx.Signers())
	assert.Equal(t, []string{"payer", "payerAta", "SwapProgram", "poolVault", "MintX"}, tx.AccountKeys())
	assert.Equal(t, 3, tx.IndexOf("poolVault"))
	assert.Equal(t, -1, tx.IndexOf("missing"))
}

func TestHTTPClient_GetTransaction_JSONParsedEncoding(t *testing.T) {
	server := rpcServer(t, func(req rpcRequest) interface{} {
		return map[string]interface{}{
			"slot": int64(10),
			"meta": map[string]interface{}{
				"err":          map[string]interface{}{"InstructionError": []interface{}{0, "Custom"}},
				"fee":          5000,
				"preBalances":  []uint64{10, 20, 30},
				"postBalances": []uint64{10, 20, 30},
			},
			"transaction": map[string]interface{}{
				"message": map[string]interface{}{
					"accountKeys": []interface{}{
						map[string]interface{}{"pubkey": "payer", "signer": true, "writable": true, "source": "transaction"},
						map[string]interface{}{"pubkey": "cosigner", "signer": true, "writable": false, "source": "transaction"},
						map[string]interface{}{"pubkey": "lutAccount", "signer": false, "writable": false, "source": "lookupTable"},
					},
				},
			},
		}
	})

	client := NewHTTPClient(server.URL)
	tx, err := client.GetTransaction(context.Background(), "sig", GetTransactionOpts{Encoding: EncodingJSONParsed})
	require.NoError(t, err)

	assert.True(t, tx.Failed())
	assert.Equal(t, []string{"payer", "cosigner"}, tx.Signers())
	assert.Equal(t, []string{"payer", "cosigner", "lutAccount"}, tx.AccountKeys())
	assert.Equal(t, []string{"lutAccount"}, tx.Meta.LoadedAddresses.Readonly)
}

func TestHTTPClient_GetTransaction_NotFound(t *testing.T) {
	server := rpcServer(t, func(rpcRequest) interface{} { return nil })

	client := NewHTTPClient(server.URL)
	tx, err := client.GetTransaction(context.Background(), "nonexistent", GetTransactionOpts{})
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Nil(t, tx)
}

func TestHTTPClient_GetSlot(t *testing.T) {
	gotMethod := make(chan string, 1)
	server := rpcServer(t, func(req rpcRequest) interface{} {
		gotMethod <- req.Method
		return int64(4242)
	})

	client := NewHTTPClient(server.URL)
	slot, err := client.GetSlot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(4242), slot)
	assert.Equal(t, "getSlot", <-gotMethod)
}

func TestHTTPClient_Retry(t *testing.T) {
	var attempts atomic.Int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		count := attempts.Add(1)
		if count < 3 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}

		var req rpcRequest
		_ = json.NewDecoder(r.Body).Decode(&req)

		resp := map[string]interface{}{
			"jsonrpc": "2.0",
			"id":      req.ID,
			"result":  int64(999),
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL,
		WithMaxRetries(3),
		WithRetryDelay(10*time.Millisecond),
	)

	slot, err := client.GetSlot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(999), slot)
	assert.Equal(t, int32(3), attempts.Load())
}

func TestHTTPClient_RetriesExhausted(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL,
		WithMaxRetries(1),
		WithRetryDelay(time.Millisecond),
	)

	_, err := client.GetTransaction(context.Background(), "sig", GetTransactionOpts{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "max retries exceeded")
}

func TestHTTPClient_RPCError(t *testing.T) {
	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		var req rpcRequest
		_ = json.NewDecoder(r.Body).Decode(&req)

		resp := map[string]interface{}{
			"jsonrpc": "2.0",
			"id":      req.ID,
			"error": map[string]interface{}{
				"code":    -32600,
				"message": "Invalid Request",
			},
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL)

	_, err := client.GetSlot(context.Background())
	require.Error(t, err)

	var rpcErr *rpcError
	require.True(t, errors.As(err, &rpcErr))
	assert.Equal(t, -32600, rpcErr.Code)
	assert.Equal(t, int32(1), attempts.Load(), "RPC errors are not retried")
}

func TestHTTPClient_ContextCancellation(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(100 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL)
	ctx, cancel := context.WithCancel(context.Background())
	cancel() // Cancel immediately

	_, err := client.GetSlot(ctx)
	assert.Error(t, err)
}
