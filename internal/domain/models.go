package domain

import "time"

// Difficulty classifies a question. Use DifficultyAny when the caller does
// not care.
type Difficulty string

const (
	DifficultyEasy   Difficulty = "easy"
	DifficultyMedium Difficulty = "medium"
	DifficultyHard   Difficulty = "hard"
	DifficultyAny    Difficulty = "any"
)

// ParseDifficulty normalizes user input to a Difficulty, falling back to "any".
func ParseDifficulty(raw string) Difficulty {
	switch Difficulty(raw) {
	case DifficultyEasy, DifficultyMedium, DifficultyHard:
		return Difficulty(raw)
	default:
		return DifficultyAny
	}
}

// Question is one multiple-choice question. Questions are loaded once per exam
// and never mutated, so values may be shared freely across goroutines.
//
// The JSON tags match the external question bank format: camelCase
// "correctAnswer", four options, zero-based answer index.
type Question struct {
	ID            string     `json:"id"`
	Exam          string     `json:"exam"`
	Section       string     `json:"section"`
	Topic         string     `json:"topic"`
	Difficulty    Difficulty `json:"difficulty"`
	Prompt        string     `json:"question"`
	Options       []string   `json:"options"`
	CorrectAnswer int        `json:"correctAnswer"`
	Explanation   string     `json:"explanation"`
}

// TagStats is a correct/total sub-counter for one section or difficulty bucket.
type TagStats struct {
	Correct int `json:"correct"`
	Total   int `json:"total"`
}

// UserStats accumulates one user's answers within one exam's leaderboard.
// Counters are monotonically non-decreasing except Streak, which resets to
// zero on an incorrect answer.
type UserStats struct {
	UserID       string               `json:"-"`
	Username     string               `json:"username"`
	Correct      int                  `json:"correct"`
	Total        int                  `json:"total"`
	Streak       int                  `json:"streak"`
	BestStreak   int                  `json:"best_streak"`
	LastAnswer   time.Time            `json:"last_answer"`
	Joined       time.Time            `json:"joined"`
	BySection    map[string]*TagStats `json:"by_section"`
	ByDifficulty map[string]*TagStats `json:"by_difficulty"`
}

// Accuracy returns the correct-answer percentage, rounded. Zero when the user
// has not answered anything yet.
func (s *UserStats) Accuracy() int {
	if s.Total == 0 {
		return 0
	}
	return int(float64(s.Correct)/float64(s.Total)*100 + 0.5)
}

// Apply folds one graded answer into the stats. Both leaderboard stores call
// this so the streak and bucket rules live in exactly one place.
func (s *UserStats) Apply(q Question, correct bool, now time.Time) {
	if s.Joined.IsZero() {
		s.Joined = now
	}
	s.Total++
	if correct {
		s.Correct++
		s.Streak++
		if s.Streak > s.BestStreak {
			s.BestStreak = s.Streak
		}
	} else {
		s.Streak = 0
	}
	s.LastAnswer = now

	if s.BySection == nil {
		s.BySection = make(map[string]*TagStats)
	}
	if s.ByDifficulty == nil {
		s.ByDifficulty = make(map[string]*TagStats)
	}
	bumpTag(s.BySection, q.Section, correct)
	bumpTag(s.ByDifficulty, string(q.Difficulty), correct)
}

func bumpTag(buckets map[string]*TagStats, tag string, correct bool) {
	entry, ok := buckets[tag]
	if !ok {
		entry = &TagStats{}
		buckets[tag] = entry
	}
	entry.Total++
	if correct {
		entry.Correct++
	}
}

// GlobalStats is a cross-server summary of one exam's leaderboard.
type GlobalStats struct {
	Servers int `json:"servers"`
	Users   int `json:"users"`
	Answers int `json:"answers"`
	Correct int `json:"correct"`
}
