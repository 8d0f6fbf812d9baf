// Package oracle implements the signed push-oracle: it authenticates price
// rounds produced by the trusted off-chain signer and stores the latest
// round per feed.
package oracle

import (
	"fmt"
	"log/slog"
	"math/big"
	"sort"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/clearstrike/clearstrike/internal/crypto"
	"github.com/clearstrike/clearstrike/internal/domain"
)

// Oracle owns the feed registry and the per-feed round table. It holds no
// funds and has no dependencies on the rest of the engine.
//
// Oracle is not safe for concurrent use on its own; every entry point is
// serialized through the sequencer.
type Oracle struct {
	feeds  map[common.Address]domain.Feed
	rounds map[common.Address]domain.Round
	signer common.Address
	now    func() time.Time
	logger *slog.Logger
}

// New creates an Oracle trusting the given signer address.
func New(signer common.Address, logger *slog.Logger) *Oracle {
	return &Oracle{
		feeds:  make(map[common.Address]domain.Feed),
		rounds: make(map[common.Address]domain.Round),
		signer: signer,
		now:    time.Now,
		logger: logger,
	}
}

// SetClock overrides the time source, for tests.
func (o *Oracle) SetClock(now func() time.Time) { o.now = now }

// Signer returns the currently trusted signer address.
func (o *Oracle) Signer() common.Address { return o.signer }

// SetSigner replaces the trusted signer. Authorization is enforced by the
// market's admin path before this is reached.
func (o *Oracle) SetSigner(signer common.Address) {
	o.signer = signer
}

// RegisterFeed adds a feed to the registry. Decimals are fixed for the
// feed's lifetime.
func (o *Oracle) RegisterFeed(feed domain.Feed) error {
	if _, ok := o.feeds[feed.ID]; ok {
		return fmt.Errorf("oracle: feed %s: %w", feed.ID, domain.ErrAlreadyRegistered)
	}
	o.feeds[feed.ID] = feed
	o.logger.Info("oracle: feed registered",
		slog.String("feed", feed.ID.Hex()),
		slog.String("description", feed.Description),
		slog.Int("decimals", int(feed.Decimals)),
	)
	return nil
}

// Feed returns the registry entry for id.
func (o *Oracle) Feed(id common.Address) (domain.Feed, error) {
	feed, ok := o.feeds[id]
	if !ok {
		return domain.Feed{}, domain.ErrInvalidAggregator
	}
	return feed, nil
}

// Feeds returns every registered feed.
func (o *Oracle) Feeds() []domain.Feed {
	out := make([]domain.Feed, 0, len(o.feeds))
	for _, feed := range o.feeds {
		out = append(out, feed)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].ID.Cmp(out[j].ID) < 0
	})
	return out
}

// PushRound validates and stores a signed round. Anyone holding a valid
// signature may push; the signature must name the exact feed being updated,
// which is what stops a round for feed A being replayed against feed B.
func (o *Oracle) PushRound(feed common.Address, timestamp uint64, answer *big.Int, signature []byte) error {
	if _, ok := o.feeds[feed]; !ok {
		return domain.ErrInvalidAggregator
	}

	if timestamp > uint64(o.now().Unix()) {
		return domain.ErrFutureTimestamp
	}

	recovered, err := crypto.RecoverRoundSigner(feed, timestamp, answer, signature)
	if err != nil || recovered != o.signer {
		return domain.ErrInvalidSignature
	}

	// Equal timestamps overwrite; an older round must never silently
	// regress the stored price.
	if stored, ok := o.rounds[feed]; ok && timestamp < stored.Timestamp {
		return domain.ErrStaleRound
	}

	o.rounds[feed] = domain.Round{Timestamp: timestamp, Answer: new(big.Int).Set(answer)}
	return nil
}

// LatestRound returns the stored round for feed, or ErrNoRound if nothing
// has ever been pushed.
func (o *Oracle) LatestRound(feed common.Address) (domain.Round, error) {
	round, ok := o.rounds[feed]
	if !ok {
		return domain.Round{}, domain.ErrNoRound
	}
	return round.Clone(), nil
}

// snapshot captures every mutable field for transactional rollback.
type snapshot struct {
	feeds  map[common.Address]domain.Feed
	rounds map[common.Address]domain.Round
	signer common.Address
}

// Snapshot implements the sequencer's rollback hook.
func (o *Oracle) Snapshot() any {
	snap := snapshot{
		feeds:  make(map[common.Address]domain.Feed, len(o.feeds)),
		rounds: make(map[common.Address]domain.Round, len(o.rounds)),
		signer: o.signer,
	}
	for id, feed := range o.feeds {
		snap.feeds[id] = feed
	}
	for id, round := range o.rounds {
		snap.rounds[id] = round.Clone()
	}
	return snap
}

// Restore reverts to a state captured by Snapshot.
func (o *Oracle) Restore(state any) {
	snap := state.(snapshot)
	o.feeds = snap.feeds
	o.rounds = snap.rounds
	o.signer = snap.signer
}
