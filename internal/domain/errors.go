package domain

import "errors"

var (
	// ErrBankNotFound is returned when no question bank exists for an exam.
	// Startup logs a warning and skips the exam; it is fatal only when no
	// bank loads at all.
	ErrBankNotFound = errors.New("question bank not found")
	// ErrBankInvalid is returned when a question bank fails load-time validation.
	ErrBankInvalid = errors.New("question bank invalid")
	// ErrQuizNotActive is returned when an answer arrives for a question that
	// is not awaiting answers (already revealed, or lost to a restart).
	ErrQuizNotActive = errors.New("quiz not active")
	// ErrAlreadyAnswered is returned when a user's second attempt on the same
	// question is rejected. Only the first answer counts.
	ErrAlreadyAnswered = errors.New("already answered")
)
