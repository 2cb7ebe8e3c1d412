package store

import (
	"context"
	_ "embed"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/walletmonitor/signal-engine/internal/model"
)

//go:embed schema.sql
var schemaSQL string

const uniqueViolation = "23505"

// PostgresStore implements Store using PostgreSQL as the source of truth.
// Token amounts are stored as NUMERIC for exact decimal precision.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Migrate creates the tables if they do not exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

func (s *PostgresStore) InsertSwap(ctx context.Context, r *model.SwapRecord) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO txs (id, signature, account, token_in_address, token_in_amount,
		                  token_out_address, token_out_amount, timestamp, score, description)
		 VALUES ($1, $2, $3, $4, $5::NUMERIC, $6, $7::NUMERIC, $8, $9, $10)`,
		r.ID, r.Signature, r.Account,
		r.TokenInAddress, r.TokenInAmount.String(),
		r.TokenOutAddress, r.TokenOutAmount.String(),
		r.Timestamp, r.WalletScore, r.Description,
	)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return fmt.Errorf("insert swap %s: %w", r.ID, model.ErrDuplicate)
	}
	if err != nil {
		return fmt.Errorf("insert swap %s: %w", r.ID, err)
	}
	return nil
}

func (s *PostgresStore) SetSwapScore(ctx context.Context, id string, score int64) error {
	tag, err := s.pool.Exec(ctx, `UPDATE txs SET score = $2 WHERE id = $1`, id, score)
	if err != nil {
		return fmt.Errorf("update swap score %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("swap %s: %w", id, model.ErrNotFound)
	}
	return nil
}

const swapColumns = `id, signature, account, token_in_address, token_in_amount::TEXT,
		        token_out_address, token_out_amount::TEXT, timestamp, score, description`

func (s *PostgresStore) QueryRecords(ctx context.Context, q model.RecordQuery) ([]model.SwapRecord, error) {
	until := int64(1<<63 - 1)
	if q.Until != nil {
		until = *q.Until
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+swapColumns+`
		 FROM txs
		 WHERE token_out_address = $1 AND timestamp >= $2 AND timestamp <= $3
		   AND ($4::TEXT = '' OR account <> $4::TEXT)
		 ORDER BY timestamp ASC, id ASC`,
		q.TokenOut, q.Since, until, q.ExcludeAccount)
	if err != nil {
		return nil, fmt.Errorf("query records for %s: %w", q.TokenOut, err)
	}
	defer rows.Close()

	return scanSwaps(rows)
}

func (s *PostgresStore) GetTokenSwaps(ctx context.Context, token string) ([]model.SwapRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+swapColumns+`
		 FROM txs
		 WHERE token_in_address = $1 OR token_out_address = $1
		 ORDER BY timestamp ASC, id ASC`, token)
	if err != nil {
		return nil, fmt.Errorf("get swaps for %s: %w", token, err)
	}
	defer rows.Close()

	return scanSwaps(rows)
}

func (s *PostgresStore) UpsertWallet(ctx context.Context, w *model.Wallet) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO wallets (address, name, score) VALUES ($1, $2, $3)
		 ON CONFLICT (address) DO UPDATE SET name = EXCLUDED.name, score = EXCLUDED.score`,
		w.Address, w.Name, w.Score)
	return err
}

func (s *PostgresStore) GetWalletScore(ctx context.Context, account string) (int64, error) {
	var score int64
	err := s.pool.QueryRow(ctx, `SELECT score FROM wallets WHERE address = $1`, account).Scan(&score)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, fmt.Errorf("wallet %s: %w", account, model.ErrNotFound)
	}
	if err != nil {
		return 0, fmt.Errorf("get wallet score %s: %w", account, err)
	}
	return score, nil
}

func (s *PostgresStore) GetWalletNames(ctx context.Context, accounts []string) (map[string]string, error) {
	names := make(map[string]string, len(accounts))
	if len(accounts) == 0 {
		return names, nil
	}

	rows, err := s.pool.Query(ctx,
		`SELECT address, name FROM wallets WHERE address = ANY($1) AND name <> ''`, accounts)
	if err != nil {
		return nil, fmt.Errorf("get wallet names: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var address, name string
		if err := rows.Scan(&address, &name); err != nil {
			return nil, err
		}
		names[address] = name
	}
	return names, rows.Err()
}

func (s *PostgresStore) InsertSignal(ctx context.Context, sig *model.Signal) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO signals (id, token_address, total_score, accounts, trigger_account, timestamp, fired_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		sig.ID, sig.TokenAddress, sig.TotalScore, sig.Accounts,
		sig.TriggerAccount, sig.Timestamp, sig.FiredAt)
	return err
}

func (s *PostgresStore) ListSignals(ctx context.Context, limit int) ([]model.Signal, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, token_address, total_score, accounts, trigger_account, timestamp, fired_at
		 FROM signals ORDER BY fired_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var signals []model.Signal
	for rows.Next() {
		var sig model.Signal
		if err := rows.Scan(&sig.ID, &sig.TokenAddress, &sig.TotalScore, &sig.Accounts,
			&sig.TriggerAccount, &sig.Timestamp, &sig.FiredAt); err != nil {
			return nil, err
		}
		signals = append(signals, sig)
	}
	return signals, rows.Err()
}

// pgxRows is the subset of pgx.Rows used by the scanners.
type pgxRows interface {
	Next() bool
	Scan(dest ...interface{}) error
	Err() error
}

func scanSwaps(rows pgxRows) ([]model.SwapRecord, error) {
	var recs []model.SwapRecord
	for rows.Next() {
		var r model.SwapRecord
		var inS, outS string

		if err := rows.Scan(&r.ID, &r.Signature, &r.Account, &r.TokenInAddress, &inS,
			&r.TokenOutAddress, &outS, &r.Timestamp, &r.WalletScore, &r.Description); err != nil {
			return nil, err
		}

		var err error
		if r.TokenInAmount, err = decimal.NewFromString(inS); err != nil {
			return nil, fmt.Errorf("swap %s token_in_amount: %w", r.ID, err)
		}
		if r.TokenOutAmount, err = decimal.NewFromString(outS); err != nil {
			return nil, fmt.Errorf("swap %s token_out_amount: %w", r.ID, err)
		}
		recs = append(recs, r)
	}
	return recs, rows.Err()
}

var _ Store = (*PostgresStore)(nil)
