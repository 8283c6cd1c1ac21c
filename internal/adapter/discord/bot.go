package discord

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"cert-quiz-service/internal/adapter"
	"cert-quiz-service/internal/domain"
	"cert-quiz-service/internal/logger"
)

// Bot serves the quiz command set over Discord using prefix commands and
// reaction answers.
type Bot struct {
	rest        Rest
	gateway     *Gateway
	exams       *adapter.ExamSet
	tracker     *adapter.Tracker
	revealDelay time.Duration
	prefix      string
	daily       *adapter.DailyScheduler
	log         *zap.Logger

	mu       sync.RWMutex
	runCtx   context.Context // set in Start; outlives individual gateway sessions
	botID    string
	channels map[string]Channel // channel id -> channel, text channels only
}

func New(token string, exams *adapter.ExamSet, store adapter.ActiveQuizStore, revealDelay time.Duration, prefix string, daily *adapter.DailyScheduler) *Bot {
	if prefix == "" {
		prefix = "!"
	}
	b := &Bot{
		rest:        NewRest(token),
		exams:       exams,
		tracker:     adapter.NewTracker("discord", store),
		revealDelay: revealDelay,
		prefix:      prefix,
		daily:       daily,
		log:         logger.Get().Named("discord"),
		channels:    make(map[string]Channel),
	}
	b.gateway = NewGateway(token, b)
	return b
}

func (b *Bot) Name() string { return "discord" }

// Start restores persisted quizzes, arms the daily scheduler, and runs the
// gateway until ctx is cancelled.
func (b *Bot) Start(ctx context.Context) error {
	b.mu.Lock()
	b.runCtx = ctx
	b.mu.Unlock()

	restored, err := b.tracker.Restore(ctx)
	if err != nil {
		b.log.Warn("restore active quizzes", zap.Error(err))
	}
	for _, quiz := range restored {
		quiz := quiz
		b.log.Info("rearming reveal timer", zap.String("message", quiz.MessageID))
		adapter.AfterDelay(ctx, time.Until(quiz.Deadline), func() {
			b.reveal(ctx, quiz.MessageID)
		})
	}

	if b.daily != nil {
		go b.daily.Run(ctx, b.postDailyQuestions)
	}
	return b.gateway.Run(ctx)
}

func (b *Bot) Stop(context.Context) error { return nil }

// lifetime returns the context Start was called with. Event handlers run on
// a per-session context that the gateway cancels on every reconnect, so
// reveal timers must be armed here instead or they die with the session.
func (b *Bot) lifetime() context.Context {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.runCtx != nil {
		return b.runCtx
	}
	return context.Background()
}

// ─── Gateway events ─────────────────────────────────────────

func (b *Bot) OnReady(_ context.Context, ev ReadyEvent) {
	b.mu.Lock()
	b.botID = ev.User.ID
	b.mu.Unlock()
	b.log.Info("connected", zap.String("user", ev.User.Username))
}

func (b *Bot) OnGuildCreate(_ context.Context, ev GuildCreateEvent) {
	b.mu.Lock()
	for _, ch := range ev.Channels {
		if ch.Type != 0 {
			continue
		}
		ch.GuildID = ev.ID
		b.channels[ch.ID] = ch
	}
	b.mu.Unlock()
	b.log.Info("guild available", zap.String("guild", ev.Name), zap.Int("channels", len(ev.Channels)))
}

func (b *Bot) OnMessageCreate(ctx context.Context, msg Message) {
	if msg.Author.Bot || !strings.HasPrefix(msg.Content, b.prefix) {
		return
	}
	fields := strings.Fields(strings.TrimPrefix(msg.Content, b.prefix))
	if len(fields) == 0 {
		return
	}
	command := strings.ToLower(fields[0])
	args := fields[1:]

	var err error
	switch command {
	case "quiz":
		err = b.cmdQuiz(ctx, msg, args)
	case "daily":
		err = b.cmdDaily(ctx, msg, args)
	case "leaderboard", "lb":
		err = b.cmdLeaderboard(ctx, msg, args)
	case "stats":
		err = b.cmdStats(ctx, msg, args)
	case "sections":
		err = b.cmdSections(ctx, msg, args)
	case "help", "exams":
		_, err = b.rest.CreateMessage(ctx, msg.ChannelID, "", helpEmbed(b.exams, b.prefix, b.revealDelay))
	default:
		return
	}
	if err != nil {
		b.log.Error("command failed", zap.String("command", command), zap.Error(err))
	}
}

func (b *Bot) OnReactionAdd(ctx context.Context, ev ReactionAddEvent) {
	b.mu.RLock()
	botID := b.botID
	b.mu.RUnlock()
	if ev.UserID == botID {
		return
	}
	answerIndex, ok := emojiIndex[ev.Emoji.Name]
	if !ok {
		return
	}
	if ev.Member != nil && ev.Member.User.Bot {
		return
	}

	username := ""
	if ev.Member != nil {
		username = ev.Member.User.Username
	}
	err := b.tracker.RecordAnswer(ctx, ev.MessageID, ev.UserID, username, answerIndex)
	if err != nil && !errors.Is(err, domain.ErrAlreadyAnswered) && !errors.Is(err, domain.ErrQuizNotActive) {
		b.log.Warn("record answer", zap.Error(err))
	}
}

// ─── Commands ───────────────────────────────────────────────

// resolveExam picks the exam from the first argument, the channel name, or
// the only loaded exam, in that order.
func (b *Bot) resolveExam(channelID string, args []string) (string, []string, bool) {
	if len(args) > 0 {
		if _, ok := b.exams.Engine(args[0]); ok {
			return strings.ToLower(args[0]), args[1:], true
		}
	}
	b.mu.RLock()
	ch, known := b.channels[channelID]
	b.mu.RUnlock()
	if known {
		if exam, ok := b.exams.DetectExam(ch.Name); ok {
			return exam, args, true
		}
	}
	if exams := b.exams.Exams(); len(exams) == 1 {
		return exams[0], args, true
	}
	return "", args, false
}

func (b *Bot) replyUnknownExam(ctx context.Context, channelID, command string) error {
	_, err := b.rest.CreateMessage(ctx, channelID,
		fmt.Sprintf("🎯 Which exam? Try `%s%s %s`", b.prefix, command, strings.Join(b.exams.Exams(), "` or `"+b.prefix+command+" ")))
	return err
}

func (b *Bot) cmdQuiz(ctx context.Context, msg Message, args []string) error {
	exam, rest, ok := b.resolveExam(msg.ChannelID, args)
	if !ok {
		return b.replyUnknownExam(ctx, msg.ChannelID, "quiz")
	}
	eng, _ := b.exams.Engine(exam)

	section := ""
	difficulty := domain.DifficultyAny
	for _, arg := range rest {
		if d := domain.ParseDifficulty(strings.ToLower(arg)); d != domain.DifficultyAny || strings.EqualFold(arg, "any") {
			difficulty = d
			continue
		}
		section = arg
	}

	q, ok := eng.RandomQuestion(msg.GuildID, section, difficulty, true)
	if !ok {
		_, err := b.rest.CreateMessage(ctx, msg.ChannelID,
			fmt.Sprintf("❌ No questions found for those filters. Try `%ssections %s`.", b.prefix, exam))
		return err
	}
	_, err := b.PostQuestion(ctx, msg.ChannelID, exam, q, "")
	return err
}

func (b *Bot) cmdDaily(ctx context.Context, msg Message, args []string) error {
	exam, _, ok := b.resolveExam(msg.ChannelID, args)
	if !ok {
		return b.replyUnknownExam(ctx, msg.ChannelID, "daily")
	}
	eng, _ := b.exams.Engine(exam)
	q, ok := eng.DailyQuestion()
	if !ok {
		_, err := b.rest.CreateMessage(ctx, msg.ChannelID, "❌ No questions loaded for "+eng.ExamUpper()+".")
		return err
	}
	title := fmt.Sprintf("📅 %s Question of the Day", eng.ExamUpper())
	_, err := b.PostQuestion(ctx, msg.ChannelID, exam, q, title)
	return err
}

func (b *Bot) cmdLeaderboard(ctx context.Context, msg Message, args []string) error {
	exam, _, ok := b.resolveExam(msg.ChannelID, args)
	if !ok {
		return b.replyUnknownExam(ctx, msg.ChannelID, "leaderboard")
	}
	return b.PostLeaderboard(ctx, msg.ChannelID, msg.GuildID, exam, 10)
}

func (b *Bot) cmdStats(ctx context.Context, msg Message, args []string) error {
	exam, _, ok := b.resolveExam(msg.ChannelID, args)
	if !ok {
		return b.replyUnknownExam(ctx, msg.ChannelID, "stats")
	}
	eng, _ := b.exams.Engine(exam)
	cfg := b.exams.Config(exam)

	// "!stats @user" shows the mentioned user's stats, otherwise the caller's.
	target := msg.Author
	if len(msg.Mentions) > 0 {
		target = msg.Mentions[0]
	}
	stats, found, err := eng.UserStats(ctx, msg.GuildID, target.ID)
	if err != nil {
		return err
	}
	if !found {
		if target.ID != msg.Author.ID {
			_, err := b.rest.CreateMessage(ctx, msg.ChannelID,
				fmt.Sprintf("📊 %s hasn't answered any %s questions yet.", target.Username, eng.ExamUpper()))
			return err
		}
		_, err := b.rest.CreateMessage(ctx, msg.ChannelID,
			fmt.Sprintf("📊 You haven't answered any %s questions yet! Use `%squiz` to start.", eng.ExamUpper(), b.prefix))
		return err
	}
	_, err = b.rest.CreateMessage(ctx, msg.ChannelID, "", statsEmbed(cfg, eng, target.Username, stats))
	return err
}

func (b *Bot) cmdSections(ctx context.Context, msg Message, args []string) error {
	exam, _, ok := b.resolveExam(msg.ChannelID, args)
	if !ok {
		return b.replyUnknownExam(ctx, msg.ChannelID, "sections")
	}
	eng, _ := b.exams.Engine(exam)
	cfg := b.exams.Config(exam)
	_, err := b.rest.CreateMessage(ctx, msg.ChannelID, "", sectionsEmbed(cfg, eng, b.prefix))
	return err
}

// ─── Question posting and reveal ─────────────────────────────

// PostQuestion implements adapter.PlatformAdapter.
func (b *Bot) PostQuestion(ctx context.Context, channelID, exam string, q domain.Question, title string) (string, error) {
	eng, ok := b.exams.Engine(exam)
	if !ok {
		return "", fmt.Errorf("unknown exam %q", exam)
	}
	cfg := b.exams.Config(exam)

	sent, err := b.rest.CreateMessage(ctx, channelID, "", questionEmbed(cfg, eng, q, title, b.revealDelay))
	if err != nil {
		return "", err
	}
	for i := range q.Options {
		if err := b.rest.CreateReaction(ctx, channelID, sent.ID, answerEmojis[i]); err != nil {
			b.log.Warn("add reaction", zap.String("emoji", answerEmojis[i]), zap.Error(err))
		}
	}

	serverID := sent.GuildID
	if serverID == "" {
		serverID = channelID
	}
	quiz := adapter.NewActiveQuiz("discord", exam, serverID, channelID, sent.ID, q, time.Now().Add(b.revealDelay))
	if err := b.tracker.Add(ctx, quiz); err != nil {
		b.log.Warn("persist active quiz", zap.Error(err))
	}
	life := b.lifetime()
	adapter.AfterDelay(life, b.revealDelay, func() {
		b.reveal(life, sent.ID)
	})
	return sent.ID, nil
}

// RevealAnswer implements adapter.PlatformAdapter for an explicit reveal.
func (b *Bot) RevealAnswer(ctx context.Context, messageID string) error {
	return b.reveal(ctx, messageID)
}

func (b *Bot) reveal(ctx context.Context, messageID string) error {
	quiz, ok := b.tracker.Pop(ctx, messageID)
	if !ok {
		return nil
	}
	eng, engOK := b.exams.Engine(quiz.Exam)
	if !engOK {
		return fmt.Errorf("unknown exam %q", quiz.Exam)
	}
	cfg := b.exams.Config(quiz.Exam)

	result, gradeErr := adapter.Grade(ctx, eng, quiz)
	if gradeErr != nil {
		b.log.Error("record answers", zap.Error(gradeErr))
	}
	_, err := b.rest.CreateReply(ctx, quiz.ChannelID, messageID, "", revealEmbed(cfg, quiz, result))
	return err
}

// PostLeaderboard implements adapter.PlatformAdapter.
func (b *Bot) PostLeaderboard(ctx context.Context, channelID, serverID, exam string, limit int) error {
	eng, ok := b.exams.Engine(exam)
	if !ok {
		return fmt.Errorf("unknown exam %q", exam)
	}
	cfg := b.exams.Config(exam)

	top, err := eng.Leaderboard(ctx, serverID, limit)
	if err != nil {
		return err
	}
	if len(top) == 0 {
		_, err := b.rest.CreateMessage(ctx, channelID,
			fmt.Sprintf("📊 No %s quiz activity yet! Use `%squiz` to get started.", eng.ExamUpper(), b.prefix))
		return err
	}
	_, err = b.rest.CreateMessage(ctx, channelID, "", leaderboardEmbed(cfg, eng, top))
	return err
}

// postDailyQuestions posts each exam's daily question to every known channel
// whose name matches that exam's naming convention.
func (b *Bot) postDailyQuestions(ctx context.Context) {
	b.mu.RLock()
	channels := make([]Channel, 0, len(b.channels))
	for _, ch := range b.channels {
		channels = append(channels, ch)
	}
	b.mu.RUnlock()

	for _, ch := range channels {
		exam, ok := b.exams.DetectExam(ch.Name)
		if !ok {
			continue
		}
		eng, _ := b.exams.Engine(exam)
		q, ok := eng.DailyQuestion()
		if !ok {
			continue
		}
		title := fmt.Sprintf("📅 %s Daily Question", eng.ExamUpper())
		if _, err := b.PostQuestion(ctx, ch.ID, exam, q, title); err != nil {
			b.log.Error("post daily", zap.String("channel", ch.Name), zap.Error(err))
			continue
		}
		b.log.Info("posted daily question", zap.String("exam", exam), zap.String("channel", ch.Name))
	}
}
