package app

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"strconv"

	"github.com/ethereum/go-ethereum/common"

	s3blob "github.com/clearstrike/clearstrike/internal/blob/s3"
	"github.com/clearstrike/clearstrike/internal/cache/redis"
	"github.com/clearstrike/clearstrike/internal/config"
	"github.com/clearstrike/clearstrike/internal/domain"
	"github.com/clearstrike/clearstrike/internal/market"
	"github.com/clearstrike/clearstrike/internal/notify"
	"github.com/clearstrike/clearstrike/internal/oracle"
	"github.com/clearstrike/clearstrike/internal/reserve"
	"github.com/clearstrike/clearstrike/internal/router"
	"github.com/clearstrike/clearstrike/internal/sequencer"
	"github.com/clearstrike/clearstrike/internal/service"
	"github.com/clearstrike/clearstrike/internal/store/postgres"
	"github.com/clearstrike/clearstrike/internal/token"
)

// Dependencies bundles everything the application modes need to operate. It
// is constructed by Wire and torn down by the returned cleanup function.
type Dependencies struct {
	// Engine
	Token     token.Token
	Oracle    *oracle.Oracle
	Reserve   *reserve.Ledger
	Market    *market.Market
	Sequencer *sequencer.Sequencer
	Router    *router.Router
	Service   *service.SettlementService

	// Stores
	PositionStore domain.PositionStore
	RoundStore    domain.RoundStore
	AuditStore    domain.AuditStore

	// Postgres-backed archive query surface; nil without Postgres.
	ClosedPositions s3blob.ClosedPositionStore

	// Caches
	RoundCache  domain.RoundCache
	RateLimiter domain.RateLimiter
	LockManager domain.LockManager
	SignalBus   domain.SignalBus

	// Blob storage
	BlobWriter domain.BlobWriter
	BlobReader domain.BlobReader
	Archiver   *s3blob.Archiver

	// Notifications
	Notifier *notify.Notifier
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config) (*Dependencies, func(), error) {
	logger := slog.Default()

	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{}

	// --- Collateral token ---
	tok, tokCloser, err := buildToken(ctx, cfg)
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: token: %w", err)
	}
	if tokCloser != nil {
		closers = append(closers, tokCloser)
	}
	deps.Token = tok

	// --- Settlement engine ---
	if err := buildEngine(cfg, tok, logger, deps); err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: engine: %w", err)
	}

	// --- PostgreSQL ---
	if cfg.Postgres.Enabled {
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Postgres.DSN,
			Host:     cfg.Postgres.Host,
			Port:     cfg.Postgres.Port,
			Database: cfg.Postgres.Database,
			User:     cfg.Postgres.User,
			Password: cfg.Postgres.Password,
			SSLMode:  cfg.Postgres.SSLMode,
			MaxConns: cfg.Postgres.PoolMaxConns,
			MinConns: cfg.Postgres.PoolMinConns,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres: %w", err)
		}
		closers = append(closers, pgClient.Close)

		if cfg.Postgres.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
			}
		}

		pool := pgClient.Pool()
		positions := postgres.NewPositionStore(pool)
		deps.PositionStore = positions
		deps.ClosedPositions = positions
		deps.RoundStore = postgres.NewRoundStore(pool)
		deps.AuditStore = postgres.NewAuditStore(pool)
	}

	// --- Redis ---
	if cfg.Redis.Enabled {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: redis: %w", err)
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		deps.RoundCache = redis.NewRoundCache(redisClient)
		deps.RateLimiter = redis.NewRateLimiter(redisClient)
		deps.LockManager = redis.NewLockManager(redisClient)
		deps.SignalBus = redis.NewSignalBus(redisClient)
	}

	// --- S3 blob storage ---
	if cfg.S3.Enabled {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		closers = append(closers, func() { _ = s3Client.Close() })

		deps.BlobWriter = s3blob.NewWriter(s3Client)
		deps.BlobReader = s3blob.NewReader(s3Client)
		deps.Archiver = s3blob.NewArchiver(
			deps.BlobWriter,
			deps.BlobReader,
			deps.ClosedPositions,
			deps.AuditStore,
		)
	}

	// --- Settlement service on top of the engine ---
	deps.Service = service.NewSettlementService(deps.Router, deps.Market, deps.Oracle, service.Sinks{
		Positions:  deps.PositionStore,
		Rounds:     deps.RoundStore,
		Audit:      deps.AuditStore,
		RoundCache: deps.RoundCache,
		Bus:        deps.SignalBus,
	}, logger)

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(
			cfg.Notify.TelegramToken,
			cfg.Notify.TelegramChatID,
		))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	return deps, cleanup, nil
}

// buildToken constructs the collateral token backend selected in the config.
func buildToken(ctx context.Context, cfg *config.Config) (token.Token, func(), error) {
	switch cfg.Token.Backend {
	case "", "memory":
		return token.NewMemory(), nil, nil
	case "erc20":
		contract, err := parseAddress("token.contract", cfg.Token.Contract)
		if err != nil {
			return nil, nil, err
		}
		t, err := token.NewERC20(ctx, cfg.Token.RPCURL, contract, cfg.Token.OperatorKey, cfg.Token.ChainID)
		if err != nil {
			return nil, nil, err
		}
		return t, t.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown backend %q", cfg.Token.Backend)
	}
}

// buildEngine assembles the in-memory settlement engine and applies the
// configured feeds and risk parameters through the admin path.
func buildEngine(cfg *config.Config, tok token.Token, logger *slog.Logger, deps *Dependencies) error {
	adminAddr, err := parseAddress("admin.address", cfg.Admin.Address)
	if err != nil {
		return err
	}
	signerAddr, err := parseAddress("signer.address", cfg.Signer.Address)
	if err != nil {
		return err
	}
	poolAddr, err := parseAddress("token.pool_address", cfg.Token.PoolAddress)
	if err != nil {
		return err
	}

	o := oracle.New(signerAddr, logger)
	r := reserve.New(tok, poolAddr, logger)
	m := market.New(o, r, adminAddr, logger)
	auth := domain.As(adminAddr)

	if cfg.Engine.MaxReserveFraction > 0 {
		if err := m.SetReserveFraction(auth, cfg.Engine.MaxReserveFraction); err != nil {
			return fmt.Errorf("reserve fraction: %w", err)
		}
	}
	if cfg.Engine.PriceExpiryThreshold > 0 {
		if err := m.SetPriceExpiryThreshold(auth, cfg.Engine.PriceExpiryThreshold); err != nil {
			return fmt.Errorf("price expiry threshold: %w", err)
		}
	}
	if cfg.Admin.FeeReceiver != "" {
		feeReceiver, err := parseAddress("admin.fee_receiver", cfg.Admin.FeeReceiver)
		if err != nil {
			return err
		}
		if err := m.SetFeeReceiver(auth, feeReceiver); err != nil {
			return fmt.Errorf("fee receiver: %w", err)
		}
	}

	for _, fc := range cfg.Feeds {
		feedAddr, err := parseAddress("feed address", fc.Address)
		if err != nil {
			return err
		}
		if err := o.RegisterFeed(domain.Feed{
			ID:          feedAddr,
			Decimals:    fc.Decimals,
			Description: fc.Description,
		}); err != nil {
			return fmt.Errorf("register feed %s: %w", fc.Address, err)
		}

		minDeposit := new(big.Int)
		if fc.MinimumDeposit != "" {
			if _, ok := minDeposit.SetString(fc.MinimumDeposit, 10); !ok {
				return fmt.Errorf("feed %s: malformed minimum_deposit %q", fc.Address, fc.MinimumDeposit)
			}
		}
		if err := m.SetFeedConfig(auth, feedAddr, domain.FeedConfig{
			MinimumDeposit:       minDeposit,
			PayoutMultiplier:     fc.PayoutMultiplier,
			MinimumDuration:      fc.MinimumDuration,
			MaximumDuration:      fc.MaximumDuration,
			PriceExpiryThreshold: fc.PriceExpiryThreshold,
			FeeFraction:          fc.FeeFraction,
			Enabled:              fc.Enabled,
		}); err != nil {
			return fmt.Errorf("feed %s config: %w", fc.Address, err)
		}

		for durStr, mult := range fc.DurationMultipliers {
			dur, err := strconv.ParseUint(durStr, 10, 64)
			if err != nil {
				return fmt.Errorf("feed %s: malformed duration %q: %w", fc.Address, durStr, err)
			}
			if err := m.SetDurationMultiplier(auth, dur, mult); err != nil {
				return fmt.Errorf("feed %s: duration multiplier %s: %w", fc.Address, durStr, err)
			}
		}
	}

	components := []sequencer.Snapshotter{o, r, m}
	if snap, ok := tok.(sequencer.Snapshotter); ok {
		components = append(components, snap)
	}
	seq := sequencer.New(components...)

	deps.Oracle = o
	deps.Reserve = r
	deps.Market = m
	deps.Sequencer = seq
	deps.Router = router.New(seq, o, m, logger)
	return nil
}

func parseAddress(field, value string) (common.Address, error) {
	if !common.IsHexAddress(value) {
		return common.Address{}, fmt.Errorf("%s: malformed address %q", field, value)
	}
	return common.HexToAddress(value), nil
}
