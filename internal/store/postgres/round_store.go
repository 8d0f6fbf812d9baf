package postgres

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/clearstrike/clearstrike/internal/domain"
)

// RoundStore keeps an append-only trail of accepted oracle rounds in
// PostgreSQL. Unlike the in-memory oracle, which overwrites in place, every
// accepted round is recorded here.
type RoundStore struct {
	pool *pgxpool.Pool
}

// NewRoundStore creates a new RoundStore backed by the given connection pool.
func NewRoundStore(pool *pgxpool.Pool) *RoundStore {
	return &RoundStore{pool: pool}
}

// Insert appends an accepted round along with the relayer that submitted it.
func (s *RoundStore) Insert(ctx context.Context, feed common.Address, round domain.Round, relayer common.Address) error {
	const query = `
		INSERT INTO rounds (feed, ts, answer, relayer)
		VALUES ($1, $2, $3, $4)`

	_, err := s.pool.Exec(ctx, query,
		feed.Hex(), round.Timestamp, round.Answer.String(), relayer.Hex(),
	)
	if err != nil {
		return fmt.Errorf("postgres: insert round for %s: %w", feed.Hex(), err)
	}
	return nil
}

// ListByFeed returns accepted rounds for one feed, newest first.
func (s *RoundStore) ListByFeed(ctx context.Context, feed common.Address, opts domain.ListOpts) ([]domain.Round, error) {
	query := `SELECT ts, answer::text FROM rounds WHERE feed = $1`
	args := []any{feed.Hex()}
	argIdx := 2

	if opts.Since != nil {
		query += fmt.Sprintf(" AND ts >= $%d", argIdx)
		args = append(args, opts.Since.Unix())
		argIdx++
	}
	if opts.Until != nil {
		query += fmt.Sprintf(" AND ts <= $%d", argIdx)
		args = append(args, opts.Until.Unix())
		argIdx++
	}

	query += " ORDER BY ts DESC"

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
		return nil, fmt.Errorf("postgres: list rounds for %s: %w", feed.Hex(), err)
	}
	defer rows.Close()

	var rounds []domain.Round
	for rows.Next() {
		var (
			r      domain.Round
			answer string
		)
		if err := rows.Scan(&r.Timestamp, &answer); err != nil {
			return nil, fmt.Errorf("postgres: scan round for %s: %w", feed.Hex(), err)
		}
		r.Answer = bigFromText(&answer)
		rounds = append(rounds, r)
	}
	return rounds, rows.Err()
}
