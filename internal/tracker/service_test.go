package tracker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"solana-volume-guard/internal/aggregation"
	"solana-volume-guard/internal/domain"
	"solana-volume-guard/internal/listener"
	"solana-volume-guard/internal/solana"
	"solana-volume-guard/internal/solana/stub"
)

type memoryRecorder struct {
	mu      sync.Mutex
	records []domain.TriggerRecord
}

func (m *memoryRecorder) RecordTrigger(_ context.Context, rec domain.TriggerRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, rec)
	return nil
}

func (m *memoryRecorder) all() []domain.TriggerRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.TriggerRecord, len(m.records))
	copy(out, m.records)
	return out
}

type serviceFixture struct {
	ws        *fakeWS
	rpc       *stub.RPCClient
	events    *recorder
	recorder  *memoryRecorder
	liquidate chan string
	svc       *Service
}

func newServiceFixture(t *testing.T) *serviceFixture {
	t.Helper()
	f := &serviceFixture{
		ws:        newFakeWS(),
		rpc:       stub.NewRPCClient(),
		events:    &recorder{},
		recorder:  &memoryRecorder{},
		liquidate: make(chan string, 4),
	}
	hub := listener.NewHub(nil)
	hub.Register("recorder", f.events)

	f.svc = NewService(ServiceOptions{
		Dial: func(context.Context) (solana.WSClient, error) { return f.ws, nil },
		RPC:  f.rpc,
		Liquidator: aggregation.LiquidatorFunc(func(_ context.Context, mint string, _ domain.Urgency) (int, error) {
			f.liquidate <- mint
			return 0, nil
		}),
		Recorder: f.recorder,
		Hub:      hub,
	})
	t.Cleanup(func() { _ = f.svc.Stop() })
	return f
}

func testSession() domain.TrackingSession {
	return domain.TrackingSession{
		Mint:        testMint,
		SwapProgram: testProgram,
		Threshold:   decimal.NewFromInt(1),
		Window:      time.Minute,
		Cooldown:    time.Hour,
	}
}

func TestService_StartAndStop(t *testing.T) {
	f := newServiceFixture(t)

	require.NoError(t, f.svc.Start(context.Background(), testSession()))
	assert.ErrorIs(t, f.svc.Start(context.Background(), testSession()), ErrAlreadyRunning)

	sess, ok := f.svc.Session()
	require.True(t, ok)
	assert.Equal(t, domain.UrgencyHigh, sess.Urgency)
	assert.Equal(t, solana.StateSubscribed, f.svc.State())

	require.NoError(t, f.svc.Stop())
	assert.True(t, f.ws.closed.Load(), "feed closed on stop")
	assert.Equal(t, solana.StateDisconnected, f.svc.State())
	assert.NoError(t, f.svc.Err())
	assert.ErrorIs(t, f.svc.Stop(), ErrNotRunning)

	_, ok = f.svc.Session()
	assert.False(t, ok)
}

func TestService_InvalidSession(t *testing.T) {
	f := newServiceFixture(t)

	sess := testSession()
	sess.Threshold = decimal.Zero
	assert.ErrorIs(t, f.svc.Start(context.Background(), sess), domain.ErrInvalidSession)
}

func TestService_DialFailure(t *testing.T) {
	svc := NewService(ServiceOptions{
		Dial: func(context.Context) (solana.WSClient, error) { return nil, errors.New("refused") },
		RPC:  stub.NewRPCClient(),
	})
	err := svc.Start(context.Background(), testSession())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "refused")
	assert.ErrorIs(t, svc.UpdateInternalWallets([]string{testWallet}), ErrNotRunning)
}

func TestService_BreachInvokesLiquidatorOnce(t *testing.T) {
	f := newServiceFixture(t)
	require.NoError(t, f.svc.Start(context.Background(), testSession()))

	for _, sig := range []string{"s-1", "s-2", "s-3", "s-4"} {
		f.rpc.AddTransaction(buyTx(sig, testOther))
		f.ws.logs <- priorityNotif(sig)
	}
	f.events.waitFor(t, 4)

	select {
	case mint := <-f.liquidate:
		assert.Equal(t, testMint, mint)
	case <-time.After(2 * time.Second):
		t.Fatal("liquidator not called")
	}

	require.Eventually(t, func() bool { return len(f.recorder.all()) == 1 }, 2*time.Second, 5*time.Millisecond)
	rec := f.recorder.all()[0]
	assert.Equal(t, domain.OutcomeSuccess, rec.Outcome)
	assert.Equal(t, 0, rec.CompletionCode)
	assert.Len(t, rec.TriggerID, 64)

	snap, ok := f.svc.Snapshot()
	require.True(t, ok)
	assert.True(t, snap.Triggered)
	assert.Len(t, f.liquidate, 0, "fourth buy does not re-trigger")
}

func TestService_UpdateInternalWallets(t *testing.T) {
	f := newServiceFixture(t)
	require.NoError(t, f.svc.Start(context.Background(), testSession()))

	f.rpc.AddTransaction(buyTx("before", testWallet))
	f.ws.logs <- priorityNotif("before")
	events := f.events.waitFor(t, 1)
	assert.False(t, events[0].IsInternal)

	require.NoError(t, f.svc.UpdateInternalWallets([]string{testWallet}))

	f.rpc.AddTransaction(buyTx("after", testWallet))
	f.ws.logs <- priorityNotif("after")
	events = f.events.waitFor(t, 2)
	assert.True(t, events[1].IsInternal)

	snap, ok := f.svc.Snapshot()
	require.True(t, ok)
	assert.Len(t, snap.Events, 1)
}

func TestService_FatalSurfacesOnErr(t *testing.T) {
	f := newServiceFixture(t)
	require.NoError(t, f.svc.Start(context.Background(), testSession()))
	assert.NoError(t, f.svc.Err())

	f.ws.fatal <- solana.ErrReconnectExhausted

	select {
	case <-f.svc.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("session did not end")
	}
	assert.ErrorIs(t, f.svc.Err(), solana.ErrReconnectExhausted)

	// A dead session does not block a restart.
	f.ws = newFakeWS()
	require.NoError(t, f.svc.Start(context.Background(), testSession()))
}

func TestService_SimulateOnlySkipsLiquidator(t *testing.T) {
	f := newServiceFixture(t)
	sess := testSession()
	sess.SimulateOnly = true
	require.NoError(t, f.svc.Start(context.Background(), sess))

	for _, sig := range []string{"m-1", "m-2", "m-3"} {
		f.rpc.AddTransaction(buyTx(sig, testOther))
		f.ws.logs <- priorityNotif(sig)
	}

	require.Eventually(t, func() bool { return len(f.recorder.all()) == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, domain.OutcomeSimulated, f.recorder.all()[0].Outcome)
	assert.Len(t, f.liquidate, 0)
}

func TestService_StartReplacesSessionForOtherMint(t *testing.T) {
	f := newServiceFixture(t)
	require.NoError(t, f.svc.Start(context.Background(), testSession()))
	first := f.ws

	next := testSession()
	next.Mint = testOther
	f.ws = newFakeWS()
	require.NoError(t, f.svc.Start(context.Background(), next))

	assert.True(t, first.closed.Load(), "previous feed closed")
	sess, ok := f.svc.Session()
	require.True(t, ok)
	assert.Equal(t, testOther, sess.Mint)
	assert.Equal(t, solana.StateSubscribed, f.svc.State())

	assert.ErrorIs(t, f.svc.Start(context.Background(), next), ErrAlreadyRunning)
}
