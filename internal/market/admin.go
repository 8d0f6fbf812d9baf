package market

import (
	"log/slog"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/clearstrike/clearstrike/internal/domain"
)

// DefaultFeedConfig is installed when a feed is enabled before any explicit
// configuration: 1-token minimum deposit at 18 decimals, 2x payout, 1 minute
// to 1 hour durations, the market-wide staleness bound, no fee.
func DefaultFeedConfig() domain.FeedConfig {
	return domain.FeedConfig{
		MinimumDeposit:   new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil),
		PayoutMultiplier: 2 * domain.Precision,
		MinimumDuration:  60,
		MaximumDuration:  3600,
		FeeFraction:      0,
		Enabled:          true,
	}
}

// requireAdmin validates the authorization context against the configured
// admin identity.
func (m *Market) requireAdmin(auth domain.AuthContext) error {
	if auth.Caller != m.admin {
		return domain.ErrUnauthorized
	}
	return nil
}

// Admin returns the current administrative identity.
func (m *Market) Admin() common.Address { return m.admin }

// FeeReceiver returns the settlement fee destination.
func (m *Market) FeeReceiver() common.Address { return m.feeReceiver }

// Paused reports whether the circuit breaker is engaged.
func (m *Market) Paused() bool { return m.paused }

// TransferAdmin hands the administrative role to a new identity.
func (m *Market) TransferAdmin(auth domain.AuthContext, next common.Address) error {
	if err := m.requireAdmin(auth); err != nil {
		return err
	}
	m.admin = next
	m.logger.Info("market: admin transferred", slog.String("admin", next.Hex()))
	return nil
}

// SetFeedConfig validates and stores the risk parameters for a registered
// feed. Enabling requires the feed's registered decimals to be exactly 8;
// disabling proceeds regardless of decimals.
func (m *Market) SetFeedConfig(auth domain.AuthContext, feed common.Address, cfg domain.FeedConfig) error {
	if err := m.requireAdmin(auth); err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	if cfg.Enabled {
		info, err := m.oracle.Feed(feed)
		if err != nil {
			return err
		}
		if info.Decimals != domain.RequiredFeedDecimals {
			return domain.ErrDecimalsMismatch
		}
	}
	if cfg.MinimumDeposit == nil {
		cfg.MinimumDeposit = new(big.Int)
	}
	m.configs[feed] = cfg
	m.logger.Info("market: feed config set",
		slog.String("feed", feed.Hex()),
		slog.Uint64("payout_multiplier", cfg.PayoutMultiplier),
		slog.Bool("enabled", cfg.Enabled),
	)
	return nil
}

// SetEnabledAggregator flips a feed's enabled flag. Enabling a feed that
// was never configured installs DefaultFeedConfig.
func (m *Market) SetEnabledAggregator(auth domain.AuthContext, feed common.Address, enabled bool) error {
	if err := m.requireAdmin(auth); err != nil {
		return err
	}

	cfg, ok := m.configs[feed]
	if !ok {
		if !enabled {
			return nil
		}
		cfg = DefaultFeedConfig()
	}
	cfg.Enabled = enabled

	if enabled {
		info, err := m.oracle.Feed(feed)
		if err != nil {
			return err
		}
		if info.Decimals != domain.RequiredFeedDecimals {
			return domain.ErrDecimalsMismatch
		}
	}

	m.configs[feed] = cfg
	m.logger.Info("market: aggregator toggled",
		slog.String("feed", feed.Hex()),
		slog.Bool("enabled", enabled),
	)
	return nil
}

// SetDurationMultiplier installs a ladder entry: positions opened with
// exactly this duration pay out at this multiplier instead of the feed's
// static one.
func (m *Market) SetDurationMultiplier(auth domain.AuthContext, duration uint64, multiplier uint64) error {
	if err := m.requireAdmin(auth); err != nil {
		return err
	}
	if multiplier <= domain.Precision || multiplier > 2*domain.Precision {
		return domain.ErrInvalidPayoutMultiplier
	}
	m.durationMultipliers[duration] = multiplier
	return nil
}

// SetFeeReceiver updates the settlement fee destination.
func (m *Market) SetFeeReceiver(auth domain.AuthContext, receiver common.Address) error {
	if err := m.requireAdmin(auth); err != nil {
		return err
	}
	m.feeReceiver = receiver
	return nil
}

// SetSigner rotates the oracle's trusted signing key.
func (m *Market) SetSigner(auth domain.AuthContext, signer common.Address) error {
	if err := m.requireAdmin(auth); err != nil {
		return err
	}
	m.oracle.SetSigner(signer)
	m.logger.Info("market: oracle signer rotated", slog.String("signer", signer.Hex()))
	return nil
}

// SetPriceExpiryThreshold updates the market-wide staleness bound used by
// feeds without their own threshold.
func (m *Market) SetPriceExpiryThreshold(auth domain.AuthContext, seconds uint64) error {
	if err := m.requireAdmin(auth); err != nil {
		return err
	}
	m.priceExpiryThreshold = seconds
	return nil
}

// SetReserveFraction updates the reserve ledger's maximum committed
// exposure fraction.
func (m *Market) SetReserveFraction(auth domain.AuthContext, fraction uint64) error {
	if err := m.requireAdmin(auth); err != nil {
		return err
	}
	return m.reserve.SetMaximumReserveFraction(fraction)
}

// Pause engages the global circuit breaker; open and close reject until
// Unpause.
func (m *Market) Pause(auth domain.AuthContext) error {
	if err := m.requireAdmin(auth); err != nil {
		return err
	}
	if m.paused {
		return domain.ErrAlreadyPaused
	}
	m.paused = true
	m.logger.Warn("market: paused")
	return nil
}

// Unpause releases the circuit breaker.
func (m *Market) Unpause(auth domain.AuthContext) error {
	if err := m.requireAdmin(auth); err != nil {
		return err
	}
	if !m.paused {
		return domain.ErrNotPaused
	}
	m.paused = false
	m.logger.Info("market: unpaused")
	return nil
}
