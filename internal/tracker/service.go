package tracker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"solana-volume-guard/internal/aggregation"
	"solana-volume-guard/internal/classifier"
	"solana-volume-guard/internal/dedup"
	"solana-volume-guard/internal/domain"
	"solana-volume-guard/internal/listener"
	"solana-volume-guard/internal/session"
	"solana-volume-guard/internal/solana"
)

// Service errors.
var (
	// ErrAlreadyRunning is returned by Start while a session is active.
	ErrAlreadyRunning = errors.New("tracking session already running")

	// ErrNotRunning is returned by operations that need an active session.
	ErrNotRunning = errors.New("no tracking session running")
)

// DialFunc opens the feed connection for one session.
type DialFunc func(ctx context.Context) (solana.WSClient, error)

// ServiceOptions contains configuration for creating a Service.
type ServiceOptions struct {
	Dial                 DialFunc
	RPC                  solana.RPCClient
	Liquidator           aggregation.Liquidator
	Recorder             aggregation.OutcomeRecorder
	Hub                  *listener.Hub
	Fees                 classifier.FeeEstimator
	Resolver             classifier.ResolverConfig
	DedupCapacity        int           // Default: dedup.DefaultCapacity
	DispatchTimeout      time.Duration // Default: aggregation.DefaultDispatchTimeout
	PriorityQueueSize    int
	MaxBackgroundWorkers int64
	StatusInterval       time.Duration
	Logger               *zap.Logger
}

// run holds everything owned by one active session.
type run struct {
	session    domain.TrackingSession
	wallets    *session.Wallets
	ws         solana.WSClient
	window     *aggregation.Window
	dispatcher *aggregation.Dispatcher
	cancel     context.CancelFunc
	done       chan struct{}
	err        error
}

// Service is the operator surface: one tracking session at a time.
type Service struct {
	opts   ServiceOptions
	hub    *listener.Hub
	logger *zap.Logger

	mu      sync.Mutex
	current *run
	last    *run
}

// NewService creates a Service.
func NewService(opts ServiceOptions) *Service {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	hub := opts.Hub
	if hub == nil {
		hub = listener.NewHub(logger)
	}
	return &Service{
		opts:   opts,
		hub:    hub,
		logger: logger.Named("tracker"),
	}
}

// Hub returns the listener hub shared by every session.
func (s *Service) Hub() *listener.Hub {
	return s.hub
}

// Start validates sess, connects and starts the engine. The session runs until
// Stop is called or the feed is lost. A live session for the same mint yields
// ErrAlreadyRunning; one for a different mint is stopped and replaced.
func (s *Service) Start(ctx context.Context, sess domain.TrackingSession) error {
	sess = sess.WithDefaults()
	if err := sess.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.current != nil {
		select {
		case <-s.current.done:
		default:
			if s.current.session.Mint == sess.Mint {
				return ErrAlreadyRunning
			}
			s.logger.Info("replacing session",
				zap.String("from", s.current.session.Mint),
				zap.String("to", sess.Mint),
			)
		}
		s.teardown(s.current)
		s.last = s.current
		s.current = nil
	}

	if s.opts.Dial == nil || s.opts.RPC == nil {
		return errors.New("tracker: dial and rpc are required")
	}

	runCtx, cancel := context.WithCancel(ctx)

	ws, err := s.opts.Dial(runCtx)
	if err != nil {
		cancel()
		return fmt.Errorf("connect feed: %w", err)
	}

	wallets := session.NewWallets(sess.InternalWallets)

	dispatcher := aggregation.NewDispatcher(aggregation.DispatcherOptions{
		Liquidator:   s.opts.Liquidator,
		SimulateOnly: sess.SimulateOnly,
		Timeout:      s.opts.DispatchTimeout,
		Recorder:     s.opts.Recorder,
		Logger:       s.opts.Logger,
	})

	window := aggregation.NewWindow(aggregation.WindowConfig{
		Mint:      sess.Mint,
		Threshold: sess.Threshold,
		Window:    sess.Window,
		Cooldown:  sess.Cooldown,
		Urgency:   sess.Urgency,
	}, dispatcher, s.opts.Logger)

	cls := classifier.New(classifier.Options{
		Mint:     sess.Mint,
		Wallets:  wallets,
		Resolver: classifier.NewResolver(s.opts.RPC, s.opts.Resolver, s.opts.Logger),
		Dedup:    dedup.New(s.opts.DedupCapacity),
		Fees:     s.opts.Fees,
		Logger:   s.opts.Logger,
	})

	engine := NewEngine(EngineOptions{
		WS:                   ws,
		Classifier:           cls,
		Window:               window,
		Hub:                  s.hub,
		SwapProgram:          sess.SwapProgram,
		PriorityQueueSize:    s.opts.PriorityQueueSize,
		MaxBackgroundWorkers: s.opts.MaxBackgroundWorkers,
		StatusInterval:       s.opts.StatusInterval,
		Logger:               s.opts.Logger,
	})

	r := &run{
		session:    sess,
		wallets:    wallets,
		ws:         ws,
		window:     window,
		dispatcher: dispatcher,
		cancel:     cancel,
		done:       make(chan struct{}),
	}

	go func() {
		defer close(r.done)
		r.err = engine.Run(runCtx)
		if r.err != nil {
			s.logger.Error("tracking stopped", zap.String("mint", sess.Mint), zap.Error(r.err))
		}
	}()

	s.current = r
	s.logger.Info("session started",
		zap.String("mint", sess.Mint),
		zap.String("threshold", sess.Threshold.String()),
		zap.Duration("window", sess.Window),
		zap.Duration("cooldown", sess.Cooldown),
		zap.Int("internal_wallets", wallets.Snapshot().Len()),
		zap.Bool("simulate_only", sess.SimulateOnly),
	)
	return nil
}

// Stop ends the active session: workers are cancelled, the feed is
// unsubscribed and closed, the window and dispatcher are shut down.
func (s *Service) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.current == nil {
		return ErrNotRunning
	}
	s.teardown(s.current)
	s.last = s.current
	s.current = nil
	s.logger.Info("session stopped")
	return nil
}

func (s *Service) teardown(r *run) {
	r.cancel()
	if err := r.ws.Close(); err != nil && !errors.Is(err, solana.ErrClientClosed) {
		s.logger.Warn("close feed", zap.Error(err))
	}
	<-r.done
	r.window.Close()
	r.dispatcher.Close()
}

// UpdateInternalWallets replaces the internal wallet set of the active session.
// Classifications already in flight keep the snapshot they started with.
func (s *Service) UpdateInternalWallets(addrs []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.current == nil {
		return ErrNotRunning
	}
	s.current.wallets.Update(addrs)
	s.logger.Info("internal wallets updated", zap.Int("count", s.current.wallets.Snapshot().Len()))
	return nil
}

// Session returns the active session.
func (s *Service) Session() (domain.TrackingSession, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return domain.TrackingSession{}, false
	}
	return s.current.session, true
}

// Snapshot returns the active session's window state.
func (s *Service) Snapshot() (aggregation.Snapshot, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return aggregation.Snapshot{}, false
	}
	return s.current.window.Snapshot(), true
}

// State returns the feed connection state, StateDisconnected without a session.
func (s *Service) State() solana.ConnState {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return solana.StateDisconnected
	}
	return s.current.ws.State()
}

// Done is closed when the active session's engine exits. Without a session the
// returned channel is already closed.
func (s *Service) Done() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		closed := make(chan struct{})
		close(closed)
		return closed
	}
	return s.current.done
}

// Err returns why the active (or last stopped) session's engine exited, nil
// while it is still running or after a clean stop.
func (s *Service) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.current
	if r == nil {
		r = s.last
	}
	if r == nil {
		return nil
	}
	select {
	case <-r.done:
		return r.err
	default:
		return nil
	}
}
