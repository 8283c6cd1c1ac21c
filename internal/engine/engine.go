package engine

import (
	"context"
	"hash/fnv"
	"math/rand"
	"sort"
	"strings"
	"sync"
	"time"

	"cert-quiz-service/internal/bank"
	"cert-quiz-service/internal/domain"
)

// LeaderboardStore abstracts how one exam's leaderboard is persisted
// (JSON file, Redis, etc).
type LeaderboardStore interface {
	// RecordAnswer folds one graded answer into the user's stats and
	// persists before returning.
	RecordAnswer(ctx context.Context, serverID, userID, username string, q domain.Question, correct bool) (domain.UserStats, error)
	// ServerStats returns every user's stats for a server, unordered.
	ServerStats(ctx context.Context, serverID string) ([]domain.UserStats, error)
	// UserStats returns one user's stats; ok is false when the user has
	// never answered.
	UserStats(ctx context.Context, serverID, userID string) (domain.UserStats, bool, error)
	// GlobalStats summarizes the leaderboard across all servers.
	GlobalStats(ctx context.Context) (domain.GlobalStats, error)
}

// Engine owns one exam's immutable question pool and its leaderboard. Safe
// for concurrent use; the pool is shared read-only and mutable selection
// state is guarded by a mutex.
type Engine struct {
	exam     string
	pool     []domain.Question
	sections []string
	store    LeaderboardStore
	clock    func() time.Time

	mu    sync.Mutex
	rnd   *rand.Rand
	used  map[string]map[string]struct{} // serverID -> recently used question ids
	daily map[string]domain.Question     // ISO date -> question of the day
}

// New loads the exam's question bank and constructs an engine. A missing or
// invalid bank is fatal here; the owning adapter must not start.
func New(ctx context.Context, exam string, loader bank.Loader, store LeaderboardStore) (*Engine, error) {
	return NewWithClock(ctx, exam, loader, store, time.Now, time.Now().UnixNano())
}

// NewWithClock injects the clock and random seed for deterministic tests.
func NewWithClock(ctx context.Context, exam string, loader bank.Loader, store LeaderboardStore, clock func() time.Time, seed int64) (*Engine, error) {
	pool, err := loader.LoadBank(ctx, exam)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]struct{})
	var sections []string
	for _, q := range pool {
		if _, ok := seen[q.Section]; !ok && q.Section != "" {
			seen[q.Section] = struct{}{}
			sections = append(sections, q.Section)
		}
	}
	sort.Strings(sections)

	return &Engine{
		exam:     exam,
		pool:     pool,
		sections: sections,
		store:    store,
		clock:    clock,
		rnd:      rand.New(rand.NewSource(seed)),
		used:     make(map[string]map[string]struct{}),
		daily:    make(map[string]domain.Question),
	}, nil
}

// Exam returns the exam identifier (e.g. "cpa").
func (e *Engine) Exam() string { return e.exam }

// ExamUpper returns the display form of the exam identifier.
func (e *Engine) ExamUpper() string { return strings.ToUpper(e.exam) }

// Sections lists the section tags in the pool, sorted.
func (e *Engine) Sections() []string {
	out := make([]string, len(e.sections))
	copy(out, e.sections)
	return out
}

// QuestionCount returns the pool size.
func (e *Engine) QuestionCount() int { return len(e.pool) }

// SectionCount returns how many questions carry the given section tag
// (case-insensitive).
func (e *Engine) SectionCount(section string) int {
	n := 0
	for _, q := range e.pool {
		if strings.EqualFold(q.Section, section) {
			n++
		}
	}
	return n
}

// RandomQuestion selects a uniform-random question matching the optional
// section and difficulty filters. With avoidRepeats, questions already served
// to the server are excluded; when exclusion empties the candidate pool the
// server's used set is cleared entirely and selection restarts from the full
// filtered pool. ok is false when nothing matches the filters at all, which
// is a normal outcome, not an error.
func (e *Engine) RandomQuestion(serverID, section string, difficulty domain.Difficulty, avoidRepeats bool) (domain.Question, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	candidates := e.filter(section, difficulty)
	if len(candidates) == 0 {
		return domain.Question{}, false
	}

	if avoidRepeats {
		used := e.used[serverID]
		fresh := excludeUsed(candidates, used)
		if len(fresh) == 0 {
			// Pool exhausted for this server: full reset, then repeats
			// become possible again.
			delete(e.used, serverID)
			fresh = candidates
		}
		candidates = fresh
	}

	q := candidates[e.rnd.Intn(len(candidates))]

	if avoidRepeats {
		if e.used[serverID] == nil {
			e.used[serverID] = make(map[string]struct{})
		}
		e.used[serverID][q.ID] = struct{}{}
	}
	return q, true
}

func (e *Engine) filter(section string, difficulty domain.Difficulty) []domain.Question {
	var out []domain.Question
	for _, q := range e.pool {
		if section != "" && !strings.EqualFold(q.Section, section) {
			continue
		}
		if difficulty != "" && difficulty != domain.DifficultyAny && q.Difficulty != difficulty {
			continue
		}
		out = append(out, q)
	}
	return out
}

func excludeUsed(candidates []domain.Question, used map[string]struct{}) []domain.Question {
	if len(used) == 0 {
		return candidates
	}
	var out []domain.Question
	for _, q := range candidates {
		if _, ok := used[q.ID]; !ok {
			out = append(out, q)
		}
	}
	return out
}

// DailyQuestion returns the question of the day. Selection is a pure function
// of (UTC date, exam id), so every caller on the same calendar day gets the
// identical question with no coordination. Cached per date string; one entry
// per day for the process lifetime.
func (e *Engine) DailyQuestion() (domain.Question, bool) {
	if len(e.pool) == 0 {
		return domain.Question{}, false
	}

	date := e.clock().UTC().Format("2006-01-02")

	e.mu.Lock()
	defer e.mu.Unlock()
	if q, ok := e.daily[date]; ok {
		return q, true
	}

	h := fnv.New64a()
	h.Write([]byte(date))
	h.Write([]byte("|"))
	h.Write([]byte(e.exam))
	q := e.pool[h.Sum64()%uint64(len(e.pool))]
	e.daily[date] = q
	return q, true
}

// CheckAnswer reports whether the chosen option index is correct. Pure; no
// state change.
func (e *Engine) CheckAnswer(q domain.Question, answerIndex int) bool {
	return answerIndex == q.CorrectAnswer
}

// RecordAnswer updates the user's stats and persists the leaderboard before
// returning. The username is always refreshed to the latest-seen value.
func (e *Engine) RecordAnswer(ctx context.Context, serverID, userID, username string, q domain.Question, correct bool) (domain.UserStats, error) {
	return e.store.RecordAnswer(ctx, serverID, userID, username, q, correct)
}

// Leaderboard returns the server's top users ordered by correct count, then
// accuracy, then best streak. Volume outranks raw percentage on purpose.
func (e *Engine) Leaderboard(ctx context.Context, serverID string, limit int) ([]domain.UserStats, error) {
	users, err := e.store.ServerStats(ctx, serverID)
	if err != nil {
		return nil, err
	}
	SortLeaderboard(users)
	if limit > 0 && len(users) > limit {
		users = users[:limit]
	}
	return users, nil
}

// SortLeaderboard orders stats by (correct, accuracy, best streak) descending.
// Accuracy is compared as an exact fraction so equal rounded percentages
// still break ties correctly.
func SortLeaderboard(users []domain.UserStats) {
	sort.SliceStable(users, func(i, j int) bool {
		a, b := users[i], users[j]
		if a.Correct != b.Correct {
			return a.Correct > b.Correct
		}
		// correct/total compared cross-multiplied; totals are >= correct
		// so both sides are well-defined.
		at := a.Total
		if at == 0 {
			at = 1
		}
		bt := b.Total
		if bt == 0 {
			bt = 1
		}
		if a.Correct*bt != b.Correct*at {
			return a.Correct*bt > b.Correct*at
		}
		return a.BestStreak > b.BestStreak
	})
}

// UserStats returns one user's stats; ok is false when the user has never
// answered for this exam on this server.
func (e *Engine) UserStats(ctx context.Context, serverID, userID string) (domain.UserStats, bool, error) {
	return e.store.UserStats(ctx, serverID, userID)
}

// GlobalStats summarizes activity across every server on this exam's
// leaderboard.
func (e *Engine) GlobalStats(ctx context.Context) (domain.GlobalStats, error) {
	return e.store.GlobalStats(ctx)
}
