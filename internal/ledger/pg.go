package ledger

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PGLedger stores balances in Postgres. The debit is a single guarded UPDATE,
// so concurrent debits can never drive a balance negative.
type PGLedger struct {
	db *pgxpool.Pool
}

func NewPGLedger(db *pgxpool.Pool) *PGLedger {
	return &PGLedger{db: db}
}

func (l *PGLedger) EnsureUser(ctx context.Context, userID string) error {
	_, err := l.db.Exec(ctx, `
		INSERT INTO users (id, balance)
		VALUES ($1, $2)
		ON CONFLICT (id) DO NOTHING
	`, userID, StartingBalance)
	return err
}

func (l *PGLedger) Balance(ctx context.Context, userID string) (int64, error) {
	var b int64
	err := l.db.QueryRow(ctx,
		`SELECT balance FROM users WHERE id = $1`, userID,
	).Scan(&b)
	if errors.Is(err, pgx.ErrNoRows) {
		// unknown user reads as zero, same as the memory backend
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return b, nil
}

func (l *PGLedger) Debit(ctx context.Context, userID string, amount int64) error {
	tag, err := l.db.Exec(ctx, `
		UPDATE users SET balance = balance - $2, updated_at = now()
		WHERE id = $1 AND balance >= $2
	`, userID, amount)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrInsufficientBalance
	}
	return nil
}

func (l *PGLedger) Credit(ctx context.Context, userID string, amount int64) error {
	_, err := l.db.Exec(ctx, `
		UPDATE users SET balance = balance + $2, updated_at = now()
		WHERE id = $1
	`, userID, amount)
	return err
}
