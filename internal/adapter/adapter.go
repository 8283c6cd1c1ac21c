// Package adapter holds everything the platform bots share: the adapter
// contract, active-quiz tracking, reveal and daily-post scheduling, and the
// formatting helpers that keep messaging consistent across Discord, Telegram
// and Slack.
package adapter

import (
	"context"
	"fmt"
	"strings"

	"cert-quiz-service/internal/config"
	"cert-quiz-service/internal/domain"
	"cert-quiz-service/internal/engine"
)

// PlatformAdapter renders engine output as platform-native messages, collects
// answers, and hands them back to the engine once the reveal deadline elapses.
type PlatformAdapter interface {
	Name() string
	// Start connects and serves until ctx is cancelled or a fatal error occurs.
	Start(ctx context.Context) error
	Stop(ctx context.Context) error

	// PostQuestion renders and sends a question, returning an opaque
	// message handle.
	PostQuestion(ctx context.Context, channelID, exam string, q domain.Question, title string) (string, error)
	// RevealAnswer grades and records all collected answers for the given
	// message handle and renders the result summary.
	RevealAnswer(ctx context.Context, messageID string) error
	// PostLeaderboard renders the server's top users.
	PostLeaderboard(ctx context.Context, channelID, serverID, exam string, limit int) error
}

// ExamSet bundles the per-exam engines and their presentation configs. All
// adapters in one process share a single set.
type ExamSet struct {
	order   []string
	engines map[string]*engine.Engine
	configs map[string]config.BotConfig
}

func NewExamSet() *ExamSet {
	return &ExamSet{
		engines: make(map[string]*engine.Engine),
		configs: make(map[string]config.BotConfig),
	}
}

func (s *ExamSet) Add(eng *engine.Engine, cfg config.BotConfig) {
	exam := eng.Exam()
	if _, ok := s.engines[exam]; !ok {
		s.order = append(s.order, exam)
	}
	s.engines[exam] = eng
	s.configs[exam] = cfg
}

// Engine returns the engine for an exam id, case-insensitive.
func (s *ExamSet) Engine(exam string) (*engine.Engine, bool) {
	eng, ok := s.engines[strings.ToLower(exam)]
	return eng, ok
}

// Config returns the presentation config for an exam; zero value when unset.
func (s *ExamSet) Config(exam string) config.BotConfig {
	return s.configs[strings.ToLower(exam)]
}

// Exams lists exam ids in registration order.
func (s *ExamSet) Exams() []string {
	out := make([]string, len(s.order))
	copy(out, s.order)
	return out
}

// TotalQuestions sums pool sizes across all exams.
func (s *ExamSet) TotalQuestions() int {
	total := 0
	for _, eng := range s.engines {
		total += eng.QuestionCount()
	}
	return total
}

// DetectExam maps a channel name to an exam id. "#cpa-quiz" and "#cpa" both
// select cpa; anything else reports false.
func (s *ExamSet) DetectExam(channelName string) (string, bool) {
	name := strings.ToLower(strings.TrimSpace(strings.TrimPrefix(channelName, "#")))
	for _, exam := range s.order {
		if name == exam || name == exam+"-quiz" {
			return exam, true
		}
	}
	return "", false
}

// AnswerLetter maps an option index to its display letter: 0 -> A, 1 -> B.
func AnswerLetter(i int) string {
	return string(rune('A' + i))
}

// DifficultyBadge renders the colored difficulty label shared by every
// platform.
func DifficultyBadge(d domain.Difficulty) string {
	switch d {
	case domain.DifficultyEasy:
		return "🟢 Easy"
	case domain.DifficultyMedium:
		return "🟡 Medium"
	case domain.DifficultyHard:
		return "🔴 Hard"
	default:
		return string(d)
	}
}

// CTA builds the promotional call-to-action line from the exam's bot config.
// Empty when no URL is configured.
func CTA(cfg config.BotConfig) string {
	if cfg.URL == "" {
		return ""
	}
	return fmt.Sprintf("🎯 Try %s free → %s", cfg.Name, cfg.URL)
}

// TruncateExplanation clips explanation text for the reveal teaser. max is a
// character budget; the cut lands on a rune boundary.
func TruncateExplanation(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	keep := max - 3
	if keep < 0 {
		keep = 0
	}
	return string(runes[:keep]) + "..."
}

// RevealResult partitions a reveal's respondents.
type RevealResult struct {
	Question     domain.Question
	CorrectUsers []string
	WrongUsers   []string
}

// Grade checks and records every collected answer for an active quiz. A
// failed leaderboard write is returned after grading the rest; the caller
// logs it and still renders the summary.
func Grade(ctx context.Context, eng *engine.Engine, quiz *ActiveQuiz) (RevealResult, error) {
	result := RevealResult{Question: quiz.Question}
	answers, usernames := quiz.Answers()

	var firstErr error
	for userID, answerIndex := range answers {
		username := usernames[userID]
		if username == "" {
			username = "User " + shortID(userID)
		}
		correct := eng.CheckAnswer(quiz.Question, answerIndex)
		if _, err := eng.RecordAnswer(ctx, quiz.ServerID, userID, username, quiz.Question, correct); err != nil && firstErr == nil {
			firstErr = err
		}
		if correct {
			result.CorrectUsers = append(result.CorrectUsers, username)
		} else {
			result.WrongUsers = append(result.WrongUsers, username)
		}
	}
	return result, firstErr
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
