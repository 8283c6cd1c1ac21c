package adapter

import (
	"context"
	"sync"
	"time"

	"cert-quiz-service/internal/domain"
	"github.com/google/uuid"
)

// ActiveQuiz tracks one in-flight question awaiting answers. A user's first
// answer during the window is the only one counted.
type ActiveQuiz struct {
	ID        string
	Platform  string
	Exam      string
	ServerID  string
	ChannelID string
	MessageID string
	Question  domain.Question
	Deadline  time.Time

	mu        sync.Mutex
	answers   map[string]int    // user_id -> chosen option index
	usernames map[string]string // user_id -> display name
}

func NewActiveQuiz(platform, exam, serverID, channelID, messageID string, q domain.Question, deadline time.Time) *ActiveQuiz {
	return &ActiveQuiz{
		ID:        uuid.NewString(),
		Platform:  platform,
		Exam:      exam,
		ServerID:  serverID,
		ChannelID: channelID,
		MessageID: messageID,
		Question:  q,
		Deadline:  deadline,
		answers:   make(map[string]int),
		usernames: make(map[string]string),
	}
}

// RecordAnswer stores a user's first answer. Answers cannot be swapped once
// cast; repeat attempts return domain.ErrAlreadyAnswered so adapters can
// notify the user.
func (a *ActiveQuiz) RecordAnswer(userID, username string, answerIndex int) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.answers[userID]; ok {
		return domain.ErrAlreadyAnswered
	}
	a.answers[userID] = answerIndex
	if username != "" {
		a.usernames[userID] = username
	}
	return nil
}

// Answers returns copies of the collected answer and username maps.
func (a *ActiveQuiz) Answers() (map[string]int, map[string]string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	answers := make(map[string]int, len(a.answers))
	for k, v := range a.answers {
		answers[k] = v
	}
	usernames := make(map[string]string, len(a.usernames))
	for k, v := range a.usernames {
		usernames[k] = v
	}
	return answers, usernames
}

// Snapshot is the persistable form of an ActiveQuiz.
type Snapshot struct {
	ID        string            `json:"id"`
	Platform  string            `json:"platform"`
	Exam      string            `json:"exam"`
	ServerID  string            `json:"server_id"`
	ChannelID string            `json:"channel_id"`
	MessageID string            `json:"message_id"`
	Question  domain.Question   `json:"question"`
	Deadline  time.Time         `json:"deadline"`
	Answers   map[string]int    `json:"answers"`
	Usernames map[string]string `json:"usernames"`
}

// Snapshot captures the quiz for persistence.
func (a *ActiveQuiz) Snapshot() Snapshot {
	answers, usernames := a.Answers()
	return Snapshot{
		ID:        a.ID,
		Platform:  a.Platform,
		Exam:      a.Exam,
		ServerID:  a.ServerID,
		ChannelID: a.ChannelID,
		MessageID: a.MessageID,
		Question:  a.Question,
		Deadline:  a.Deadline,
		Answers:   answers,
		Usernames: usernames,
	}
}

// Restore rebuilds an ActiveQuiz from its snapshot.
func (s Snapshot) Restore() *ActiveQuiz {
	quiz := &ActiveQuiz{
		ID:        s.ID,
		Platform:  s.Platform,
		Exam:      s.Exam,
		ServerID:  s.ServerID,
		ChannelID: s.ChannelID,
		MessageID: s.MessageID,
		Question:  s.Question,
		Deadline:  s.Deadline,
		answers:   make(map[string]int, len(s.Answers)),
		usernames: make(map[string]string, len(s.Usernames)),
	}
	for k, v := range s.Answers {
		quiz.answers[k] = v
	}
	for k, v := range s.Usernames {
		quiz.usernames[k] = v
	}
	return quiz
}

// ActiveQuizStore persists in-flight quizzes so a restarted adapter can still
// honor their reveal deadlines.
type ActiveQuizStore interface {
	Save(ctx context.Context, snap Snapshot) error
	Delete(ctx context.Context, platform, messageID string) error
	List(ctx context.Context, platform string) ([]Snapshot, error)
}

// NopQuizStore discards snapshots; in-flight quizzes then die with the
// process, matching the original file-era behavior.
type NopQuizStore struct{}

func (NopQuizStore) Save(context.Context, Snapshot) error            { return nil }
func (NopQuizStore) Delete(context.Context, string, string) error    { return nil }
func (NopQuizStore) List(context.Context, string) ([]Snapshot, error) { return nil, nil }

// Tracker indexes a platform's active quizzes by message handle and mirrors
// them into the configured store.
type Tracker struct {
	platform string
	store    ActiveQuizStore

	mu        sync.Mutex
	byMessage map[string]*ActiveQuiz
}

func NewTracker(platform string, store ActiveQuizStore) *Tracker {
	if store == nil {
		store = NopQuizStore{}
	}
	return &Tracker{
		platform:  platform,
		store:     store,
		byMessage: make(map[string]*ActiveQuiz),
	}
}

// Add registers a freshly posted question. Persistence is best effort; the
// quiz stays trackable in memory even if the store write fails.
func (t *Tracker) Add(ctx context.Context, quiz *ActiveQuiz) error {
	t.mu.Lock()
	t.byMessage[quiz.MessageID] = quiz
	t.mu.Unlock()
	return t.store.Save(ctx, quiz.Snapshot())
}

func (t *Tracker) Get(messageID string) (*ActiveQuiz, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	quiz, ok := t.byMessage[messageID]
	return quiz, ok
}

// RecordAnswer routes a user's answer to the right active quiz and refreshes
// the stored snapshot.
func (t *Tracker) RecordAnswer(ctx context.Context, messageID, userID, username string, answerIndex int) error {
	quiz, ok := t.Get(messageID)
	if !ok {
		return domain.ErrQuizNotActive
	}
	if err := quiz.RecordAnswer(userID, username, answerIndex); err != nil {
		return err
	}
	return t.store.Save(ctx, quiz.Snapshot())
}

// Pop removes and returns the quiz for a message handle. Only one reveal
// happens per question; the second caller gets ok=false.
func (t *Tracker) Pop(ctx context.Context, messageID string) (*ActiveQuiz, bool) {
	t.mu.Lock()
	quiz, ok := t.byMessage[messageID]
	if ok {
		delete(t.byMessage, messageID)
	}
	t.mu.Unlock()
	if ok {
		_ = t.store.Delete(ctx, t.platform, messageID)
	}
	return quiz, ok
}

// Restore loads persisted quizzes back into the tracker after a restart and
// returns them so the caller can re-arm their reveal timers.
func (t *Tracker) Restore(ctx context.Context) ([]*ActiveQuiz, error) {
	snaps, err := t.store.List(ctx, t.platform)
	if err != nil {
		return nil, err
	}
	quizzes := make([]*ActiveQuiz, 0, len(snaps))
	t.mu.Lock()
	for _, snap := range snaps {
		quiz := snap.Restore()
		t.byMessage[quiz.MessageID] = quiz
		quizzes = append(quizzes, quiz)
	}
	t.mu.Unlock()
	return quizzes, nil
}
