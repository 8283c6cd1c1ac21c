package bank

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"cert-quiz-service/internal/domain"
)

// Loader fetches one exam's question pool from a backing store.
type Loader interface {
	LoadBank(ctx context.Context, exam string) ([]domain.Question, error)
}

// FileLoader reads <exam>_questions.json documents from a data directory.
type FileLoader struct {
	dataDir string
}

func NewFileLoader(dataDir string) *FileLoader {
	return &FileLoader{dataDir: dataDir}
}

func (l *FileLoader) LoadBank(_ context.Context, exam string) ([]domain.Question, error) {
	path := filepath.Join(l.dataDir, exam+"_questions.json")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", domain.ErrBankNotFound, path)
		}
		return nil, fmt.Errorf("read question bank: %w", err)
	}
	return ParseBank(exam, data)
}

// ParseBank decodes and validates a question bank document.
func ParseBank(exam string, data []byte) ([]domain.Question, error) {
	var questions []domain.Question
	if err := json.Unmarshal(data, &questions); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrBankInvalid, err)
	}
	if err := validate(exam, questions); err != nil {
		return nil, err
	}
	return questions, nil
}

func validate(exam string, questions []domain.Question) error {
	if len(questions) == 0 {
		return fmt.Errorf("%w: %s has no questions", domain.ErrBankInvalid, exam)
	}
	seen := make(map[string]struct{}, len(questions))
	for i, q := range questions {
		if q.ID == "" {
			return fmt.Errorf("%w: question %d has no id", domain.ErrBankInvalid, i)
		}
		if _, dup := seen[q.ID]; dup {
			return fmt.Errorf("%w: duplicate question id %s", domain.ErrBankInvalid, q.ID)
		}
		seen[q.ID] = struct{}{}
		if q.Prompt == "" {
			return fmt.Errorf("%w: question %s has no prompt", domain.ErrBankInvalid, q.ID)
		}
		if len(q.Options) != 4 {
			return fmt.Errorf("%w: question %s has %d options, want 4", domain.ErrBankInvalid, q.ID, len(q.Options))
		}
		if q.CorrectAnswer < 0 || q.CorrectAnswer >= len(q.Options) {
			return fmt.Errorf("%w: question %s correct answer index %d out of range", domain.ErrBankInvalid, q.ID, q.CorrectAnswer)
		}
	}
	return nil
}

// StaticLoader serves question pools from an in-memory map (tests/demos).
type StaticLoader struct {
	banks map[string][]domain.Question
}

func NewStaticLoader(banks map[string][]domain.Question) *StaticLoader {
	return &StaticLoader{banks: banks}
}

func (l *StaticLoader) LoadBank(_ context.Context, exam string) ([]domain.Question, error) {
	if bank, ok := l.banks[exam]; ok {
		return bank, nil
	}
	return nil, domain.ErrBankNotFound
}
