package postgres

import (
	"context"
	"errors"
	"fmt"

	"cert-quiz-service/internal/bank"
	"cert-quiz-service/internal/domain"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
)

// BankLoader loads question bank JSONB documents from Postgres.
type BankLoader struct {
	pool *pgxpool.Pool
}

func NewBankLoader(pool *pgxpool.Pool) *BankLoader {
	return &BankLoader{pool: pool}
}

func (l *BankLoader) LoadBank(ctx context.Context, exam string) ([]domain.Question, error) {
	var raw []byte
	err := l.pool.QueryRow(ctx, `SELECT data FROM question_banks WHERE exam=$1`, exam).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: exam %s", domain.ErrBankNotFound, exam)
	}
	if err != nil {
		return nil, fmt.Errorf("load question bank: %w", err)
	}
	return bank.ParseBank(exam, raw)
}

// UpsertBank replaces an exam's question bank document. The seed command uses
// this to push JSON files into the database.
func (l *BankLoader) UpsertBank(ctx context.Context, exam string, data []byte) (int, error) {
	questions, err := bank.ParseBank(exam, data)
	if err != nil {
		return 0, err
	}
	_, err = l.pool.Exec(ctx, `
		INSERT INTO question_banks (exam, data) VALUES ($1, $2)
		ON CONFLICT (exam) DO UPDATE SET data = EXCLUDED.data, updated_at = now()`,
		exam, data)
	if err != nil {
		return 0, fmt.Errorf("upsert question bank: %w", err)
	}
	return len(questions), nil
}
