package postgres

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/clearstrike/clearstrike/internal/domain"
)

// PositionStore implements domain.PositionStore using PostgreSQL.
type PositionStore struct {
	pool *pgxpool.Pool
}

// NewPositionStore creates a new PositionStore backed by the given connection pool.
func NewPositionStore(pool *pgxpool.Pool) *PositionStore {
	return &PositionStore{pool: pool}
}

const positionSelectCols = `id, owner, feed, strike::text, deposit::text, is_call,
	opened_at, duration, multiplier, status,
	closed_at, settle_price::text, payout::text, fee::text`

func bigFromText(s *string) *big.Int {
	if s == nil {
		return nil
	}
	v, ok := new(big.Int).SetString(*s, 10)
	if !ok {
		return nil
	}
	return v
}

func bigToText(v *big.Int) *string {
	if v == nil {
		return nil
	}
	s := v.String()
	return &s
}

func scanPositionRow(row pgx.Row) (domain.Position, error) {
	var (
		p                        domain.Position
		owner, feed, status      string
		strike, deposit          string
		closedAt                 *int64
		settlePrice, payout, fee *string
	)

	err := row.Scan(
		&p.ID, &owner, &feed, &strike, &deposit, &p.IsCall,
		&p.OpenedAt, &p.Duration, &p.Multiplier, &status,
		&closedAt, &settlePrice, &payout, &fee,
	)
	if err != nil {
		return domain.Position{}, err
	}

	p.Owner = common.HexToAddress(owner)
	p.Feed = common.HexToAddress(feed)
	p.Strike = bigFromText(&strike)
	p.Deposit = bigFromText(&deposit)
	p.Status = domain.PositionStatus(status)
	if closedAt != nil {
		p.ClosedAt = uint64(*closedAt)
	}
	p.SettlePrice = bigFromText(settlePrice)
	p.Payout = bigFromText(payout)
	p.Fee = bigFromText(fee)
	return p, nil
}

func scanPositionRows(rows pgx.Rows) ([]domain.Position, error) {
	var positions []domain.Position
	for rows.Next() {
		p, err := scanPositionRow(rows)
		if err != nil {
			return nil, err
		}
		positions = append(positions, p)
	}
	return positions, rows.Err()
}

// Insert records a freshly opened position.
func (s *PositionStore) Insert(ctx context.Context, p domain.Position) error {
	const query = `
		INSERT INTO positions (
			id, owner, feed, strike, deposit, is_call,
			opened_at, duration, multiplier, status, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7, $8, $9, $10, NOW()
		)`

	_, err := s.pool.Exec(ctx, query,
		p.ID, p.Owner.Hex(), p.Feed.Hex(),
		p.Strike.String(), p.Deposit.String(), p.IsCall,
		p.OpenedAt, p.Duration, p.Multiplier, string(p.Status),
	)
	if err != nil {
		return fmt.Errorf("postgres: insert position %d: %w", p.ID, err)
	}
	return nil
}

// MarkClosed records the settlement outcome of a position.
func (s *PositionStore) MarkClosed(ctx context.Context, p domain.Position) error {
	const query = `
		UPDATE positions SET
			status       = $2,
			closed_at    = $3,
			settle_price = $4,
			payout       = $5,
			fee          = $6,
			updated_at   = NOW()
		WHERE id = $1`

	tag, err := s.pool.Exec(ctx, query,
		p.ID, string(p.Status), p.ClosedAt,
		bigToText(p.SettlePrice), bigToText(p.Payout), bigToText(p.Fee),
	)
	if err != nil {
		return fmt.Errorf("postgres: close position %d: %w", p.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: close position %d: %w", p.ID, domain.ErrPositionNotFound)
	}
	return nil
}

// GetByID retrieves a single position by its id.
func (s *PositionStore) GetByID(ctx context.Context, id uint64) (domain.Position, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+positionSelectCols+` FROM positions WHERE id = $1`, id)

	p, err := scanPositionRow(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Position{}, domain.ErrPositionNotFound
		}
		return domain.Position{}, fmt.Errorf("postgres: get position %d: %w", id, err)
	}
	return p, nil
}

// ListOpen returns all open positions for the given owner.
func (s *PositionStore) ListOpen(ctx context.Context, owner common.Address) ([]domain.Position, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+positionSelectCols+` FROM positions
		 WHERE owner = $1 AND status = 'open'
		 ORDER BY opened_at DESC`, owner.Hex())
	if err != nil {
		return nil, fmt.Errorf("postgres: list open positions: %w", err)
	}
	defer rows.Close()

	positions, err := scanPositionRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan open positions: %w", err)
	}
	return positions, nil
}

// ListHistory returns positions for the given owner with pagination and
// optional time filtering.
func (s *PositionStore) ListHistory(ctx context.Context, owner common.Address, opts domain.ListOpts) ([]domain.Position, error) {
	query := `SELECT ` + positionSelectCols + ` FROM positions WHERE owner = $1`
	args := []any{owner.Hex()}
	argIdx := 2

	if opts.Since != nil {
		query += fmt.Sprintf(" AND opened_at >= $%d", argIdx)
		args = append(args, opts.Since.Unix())
		argIdx++
	}
	if opts.Until != nil {
		query += fmt.Sprintf(" AND opened_at <= $%d", argIdx)
		args = append(args, opts.Until.Unix())
		argIdx++
	}

	query += " ORDER BY opened_at DESC"

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list position history: %w", err)
	}
	defer rows.Close()

	positions, err := scanPositionRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan position history: %w", err)
	}
	return positions, nil
}

// ListClosedBetween returns positions settled at or after from and strictly
// before to, oldest first. It serves the daily archive job.
func (s *PositionStore) ListClosedBetween(ctx context.Context, from, to time.Time) ([]domain.Position, error) {
	query := `SELECT ` + positionSelectCols + ` FROM positions
		WHERE status = 'closed' AND closed_at >= $1 AND closed_at < $2
		ORDER BY closed_at ASC`

	rows, err := s.pool.Query(ctx, query, from.Unix(), to.Unix())
	if err != nil {
		return nil, fmt.Errorf("postgres: list closed positions: %w", err)
	}
	defer rows.Close()

	positions, err := scanPositionRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan closed positions: %w", err)
	}
	return positions, nil
}
