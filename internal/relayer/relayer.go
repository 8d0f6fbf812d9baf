// Package relayer observes an upstream exchange trade stream, signs the
// observed prices as oracle rounds, and pushes them into the settlement
// engine. Multiple instances may run for redundancy; a distributed lock
// elects the one that actually pushes each cycle.
package relayer

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/clearstrike/clearstrike/internal/crypto"
	"github.com/clearstrike/clearstrike/internal/domain"
)

// leaderLockKey is the distributed lock key contended by relayer instances.
const leaderLockKey = "relayer:leader"

// Submitter accepts signed round bundles. Satisfied by the settlement
// service for in-process relaying.
type Submitter interface {
	PushRounds(ctx context.Context, relayer common.Address, rounds []domain.RoundUpdate) error
}

// Binding maps an upstream exchange symbol to the feed it prices.
type Binding struct {
	Symbol string
	Feed   common.Address
}

// Config holds the relayer's runtime parameters.
type Config struct {
	WSURL        string
	Bindings     []Binding
	PushInterval time.Duration
	LockTTL      time.Duration
}

// Relayer signs observed exchange prices and pushes them as oracle rounds on
// a fixed interval. The most recent tick per symbol wins each cycle.
type Relayer struct {
	cfg       Config
	signer    *crypto.RoundSigner
	submitter Submitter
	locks     domain.LockManager
	logger    *slog.Logger

	mu     sync.Mutex
	latest map[string]Tick // keyed by uppercase symbol
}

// New creates a Relayer. locks may be nil, in which case every instance
// pushes unconditionally.
func New(cfg Config, signer *crypto.RoundSigner, submitter Submitter, locks domain.LockManager, logger *slog.Logger) *Relayer {
	if cfg.PushInterval <= 0 {
		cfg.PushInterval = 5 * time.Second
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 2 * cfg.PushInterval
	}
	return &Relayer{
		cfg:       cfg,
		signer:    signer,
		submitter: submitter,
		locks:     locks,
		logger:    logger.With(slog.String("component", "relayer")),
		latest:    make(map[string]Tick),
	}
}

// Run connects to the trade stream and pushes signed rounds until ctx is
// cancelled. Reconnects with backoff on disconnect.
func (r *Relayer) Run(ctx context.Context) error {
	if len(r.cfg.Bindings) == 0 {
		r.logger.Info("no feed bindings configured, exiting")
		return nil
	}

	symbols := make([]string, 0, len(r.cfg.Bindings))
	for _, b := range r.cfg.Bindings {
		symbols = append(symbols, b.Symbol)
	}

	client := NewWSClient(r.cfg.WSURL)
	defer client.Close()

	client.OnTick(r.Observe)

	connCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	err := client.Connect(connCtx)
	cancel()
	if err != nil {
		return err
	}
	if err := client.Subscribe(ctx, symbols); err != nil {
		return err
	}
	r.logger.Info("trade stream subscribed",
		slog.String("url", r.cfg.WSURL),
		slog.Int("symbols", len(symbols)),
	)

	ticker := time.NewTicker(r.cfg.PushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := r.pushCycle(ctx); err != nil {
				r.logger.Warn("push cycle failed", slog.String("error", err.Error()))
			}
		}
	}
}

// Observe records a trade tick. The latest tick per symbol is the one signed
// on the next push cycle.
func (r *Relayer) Observe(tick Tick) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if prev, ok := r.latest[tick.Symbol]; ok && tick.At.Before(prev.At) {
		return
	}
	r.latest[tick.Symbol] = tick
}

// pushCycle acquires leadership for one cycle and pushes the latest observed
// price of every bound feed. Instances that lose the election skip the cycle.
func (r *Relayer) pushCycle(ctx context.Context) error {
	if r.locks != nil {
		release, err := r.locks.Acquire(ctx, leaderLockKey, r.cfg.LockTTL)
		if errors.Is(err, domain.ErrLockHeld) {
			r.logger.Debug("standby: another relayer holds the leader lock")
			return nil
		}
		if err != nil {
			return err
		}
		defer release()
	}
	return r.PushLatest(ctx)
}

// PushLatest signs and submits the most recent tick of every bound feed in
// one bundle. Feeds with no observed tick yet are skipped.
func (r *Relayer) PushLatest(ctx context.Context) error {
	r.mu.Lock()
	rounds := make([]domain.RoundUpdate, 0, len(r.cfg.Bindings))
	var stale []string
	for _, b := range r.cfg.Bindings {
		tick, ok := r.latest[strings.ToUpper(b.Symbol)]
		if !ok {
			stale = append(stale, b.Symbol)
			continue
		}
		ts := uint64(tick.At.Unix())
		sig, err := r.signer.SignRound(b.Feed, ts, tick.Price)
		if err != nil {
			r.mu.Unlock()
			return err
		}
		rounds = append(rounds, domain.RoundUpdate{
			Feed:      b.Feed,
			Timestamp: ts,
			Answer:    tick.Price,
			Signature: sig,
		})
	}
	r.mu.Unlock()

	if len(stale) > 0 {
		r.logger.Debug("symbols without ticks this cycle", slog.Any("symbols", stale))
	}
	if len(rounds) == 0 {
		return nil
	}

	if err := r.submitter.PushRounds(ctx, r.signer.Address(), rounds); err != nil {
		return err
	}
	r.logger.Debug("rounds pushed", slog.Int("count", len(rounds)))
	return nil
}
