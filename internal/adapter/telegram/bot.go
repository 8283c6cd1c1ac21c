// Package telegram is the Telegram rendition of the quiz bot: long-polling
// updates, inline keyboards for answers, Markdown text instead of embeds.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"cert-quiz-service/internal/adapter"
	"cert-quiz-service/internal/domain"
	"cert-quiz-service/internal/logger"
	"go.uber.org/zap"
)

var answerLetters = []string{"🇦", "🇧", "🇨", "🇩"}

// Bot serves the quiz command set over Telegram.
type Bot struct {
	client      Client
	exams       *adapter.ExamSet
	tracker     *adapter.Tracker
	revealDelay time.Duration
	pollTimeout int
	daily       *adapter.DailyScheduler
	log         *zap.Logger

	mu    sync.Mutex
	chats map[int64]string // chat id -> title, for daily posting
}

func New(client Client, exams *adapter.ExamSet, store adapter.ActiveQuizStore, revealDelay time.Duration, pollTimeout int, daily *adapter.DailyScheduler) *Bot {
	if pollTimeout <= 0 {
		pollTimeout = 30
	}
	return &Bot{
		client:      client,
		exams:       exams,
		tracker:     adapter.NewTracker("telegram", store),
		revealDelay: revealDelay,
		pollTimeout: pollTimeout,
		daily:       daily,
		log:         logger.Get().Named("telegram"),
		chats:       make(map[int64]string),
	}
}

func (b *Bot) Name() string { return "telegram" }

// Start restores any persisted in-flight quizzes, arms the daily scheduler,
// and long-polls until ctx is cancelled.
func (b *Bot) Start(ctx context.Context) error {
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

	offset := 0
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		updates, err := b.client.GetUpdates(ctx, offset, b.pollTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			b.log.Warn("get updates", zap.Error(err))
			time.Sleep(3 * time.Second)
			continue
		}
		for _, update := range updates {
			if update.UpdateID >= offset {
				offset = update.UpdateID + 1
			}
			b.handleUpdate(ctx, update)
		}
	}
}

func (b *Bot) Stop(context.Context) error { return nil }

func (b *Bot) handleUpdate(ctx context.Context, update Update) {
	switch {
	case update.CallbackQuery != nil:
		b.handleCallback(ctx, *update.CallbackQuery)
	case update.Message != nil && strings.HasPrefix(update.Message.Text, "/"):
		b.rememberChat(update.Message.Chat)
		b.handleCommand(ctx, *update.Message)
	case update.Message != nil:
		b.rememberChat(update.Message.Chat)
	}
}

func (b *Bot) rememberChat(chat Chat) {
	if chat.Type == "private" {
		return
	}
	b.mu.Lock()
	b.chats[chat.ID] = chat.Title
	b.mu.Unlock()
}

// ─── Commands ───────────────────────────────────────────────

func (b *Bot) handleCommand(ctx context.Context, msg Message) {
	fields := strings.Fields(msg.Text)
	command := strings.TrimPrefix(fields[0], "/")
	if at := strings.Index(command, "@"); at >= 0 {
		command = command[:at]
	}
	args := fields[1:]

	var err error
	switch command {
	case "quiz":
		err = b.cmdQuiz(ctx, msg, args)
	case "daily":
		err = b.cmdDaily(ctx, msg, args)
	case "leaderboard":
		err = b.cmdLeaderboard(ctx, msg, args)
	case "stats":
		err = b.cmdStats(ctx, msg, args)
	case "sections":
		err = b.cmdSections(ctx, msg, args)
	case "exams", "help", "start":
		err = b.cmdHelp(ctx, msg)
	default:
		return
	}
	if err != nil {
		b.log.Error("command failed", zap.String("command", command), zap.Error(err))
	}
}

// resolveExam picks the exam from the first argument, the chat title, or the
// only loaded exam, in that order.
func (b *Bot) resolveExam(chat Chat, args []string) (string, []string, bool) {
	if len(args) > 0 {
		if _, ok := b.exams.Engine(args[0]); ok {
			return strings.ToLower(args[0]), args[1:], true
		}
	}
	if exam, ok := b.exams.DetectExam(chat.Title); ok {
		return exam, args, true
	}
	if exams := b.exams.Exams(); len(exams) == 1 {
		return exams[0], args, true
	}
	return "", args, false
}

func (b *Bot) cmdQuiz(ctx context.Context, msg Message, args []string) error {
	exam, rest, ok := b.resolveExam(msg.Chat, args)
	if !ok {
		return b.sendPlain(ctx, msg.Chat.ID, "🎯 Which exam? Try /quiz "+strings.Join(b.exams.Exams(), " or /quiz "))
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

	serverID := strconv.FormatInt(msg.Chat.ID, 10)
	q, ok := eng.RandomQuestion(serverID, section, difficulty, true)
	if !ok {
		return b.sendPlain(ctx, msg.Chat.ID, "❌ No questions found for those filters. Try /sections "+exam+".")
	}
	_, err := b.postQuestion(ctx, msg.Chat.ID, exam, q, "")
	return err
}

func (b *Bot) cmdDaily(ctx context.Context, msg Message, args []string) error {
	exam, _, ok := b.resolveExam(msg.Chat, args)
	if !ok {
		return b.sendPlain(ctx, msg.Chat.ID, "🎯 Which exam? Try /daily "+strings.Join(b.exams.Exams(), " or /daily "))
	}
	eng, _ := b.exams.Engine(exam)
	q, ok := eng.DailyQuestion()
	if !ok {
		return b.sendPlain(ctx, msg.Chat.ID, "❌ No questions loaded for "+strings.ToUpper(exam)+".")
	}
	title := fmt.Sprintf("📅 %s Question of the Day", eng.ExamUpper())
	_, err := b.postQuestion(ctx, msg.Chat.ID, exam, q, title)
	return err
}

func (b *Bot) cmdLeaderboard(ctx context.Context, msg Message, args []string) error {
	exam, _, ok := b.resolveExam(msg.Chat, args)
	if !ok {
		return b.sendPlain(ctx, msg.Chat.ID, "🎯 Which exam? Try /leaderboard "+strings.Join(b.exams.Exams(), " or /leaderboard "))
	}
	serverID := strconv.FormatInt(msg.Chat.ID, 10)
	return b.PostLeaderboard(ctx, strconv.FormatInt(msg.Chat.ID, 10), serverID, exam, 10)
}

func (b *Bot) cmdStats(ctx context.Context, msg Message, args []string) error {
	exam, _, ok := b.resolveExam(msg.Chat, args)
	if !ok {
		return b.sendPlain(ctx, msg.Chat.ID, "🎯 Which exam? Try /stats "+strings.Join(b.exams.Exams(), " or /stats "))
	}
	if msg.From == nil {
		return nil
	}
	eng, _ := b.exams.Engine(exam)
	cfg := b.exams.Config(exam)
	serverID := strconv.FormatInt(msg.Chat.ID, 10)
	userID := strconv.FormatInt(msg.From.ID, 10)

	stats, found, err := eng.UserStats(ctx, serverID, userID)
	if err != nil {
		return err
	}
	if !found {
		return b.sendPlain(ctx, msg.Chat.ID,
			fmt.Sprintf("📊 You haven't answered any %s questions yet! Use /quiz to start.", eng.ExamUpper()))
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "📊 *%s's %s Stats*\n\n", displayName(*msg.From), eng.ExamUpper())
	fmt.Fprintf(&sb, "✅ *%d* / %d correct (%d%%)\n", stats.Correct, stats.Total, stats.Accuracy())
	fmt.Fprintf(&sb, "🔥 Current streak: *%d*\n", stats.Streak)
	fmt.Fprintf(&sb, "⭐ Best streak: *%d*\n", stats.BestStreak)

	if len(stats.BySection) > 0 {
		sb.WriteString("\n*By Section*\n")
		for _, sec := range sortedTags(stats.BySection) {
			s := stats.BySection[sec]
			acc := percent(s.Correct, s.Total)
			fmt.Fprintf(&sb, "`%s` %s: %d/%d (%d%%)\n", sec, cfg.SectionName(sec), s.Correct, s.Total, acc)
		}
	}
	if len(stats.ByDifficulty) > 0 {
		sb.WriteString("\n*By Difficulty*\n")
		for _, diff := range []domain.Difficulty{domain.DifficultyEasy, domain.DifficultyMedium, domain.DifficultyHard} {
			if s, ok := stats.ByDifficulty[string(diff)]; ok {
				fmt.Fprintf(&sb, "%s: %d/%d (%d%%)\n", adapter.DifficultyBadge(diff), s.Correct, s.Total, percent(s.Correct, s.Total))
			}
		}
	}
	if cta := adapter.CTA(cfg); cta != "" {
		sb.WriteString("\n" + cta)
	}
	return b.sendMarkdown(ctx, msg.Chat.ID, sb.String())
}

func (b *Bot) cmdSections(ctx context.Context, msg Message, args []string) error {
	exam, _, ok := b.resolveExam(msg.Chat, args)
	if !ok {
		return b.sendPlain(ctx, msg.Chat.ID, "🎯 Which exam? Try /sections "+strings.Join(b.exams.Exams(), " or /sections "))
	}
	eng, _ := b.exams.Engine(exam)
	cfg := b.exams.Config(exam)

	var sb strings.Builder
	fmt.Fprintf(&sb, "%s *%s Sections*\n\n", cfg.Emoji, eng.ExamUpper())
	for _, sec := range eng.Sections() {
		fmt.Fprintf(&sb, "`%s` — %s (%d questions)\n", sec, cfg.SectionName(sec), eng.SectionCount(sec))
	}
	if sections := eng.Sections(); len(sections) > 0 {
		fmt.Fprintf(&sb, "\nUse /quiz %s %s to practice a specific section", exam, sections[0])
	}
	return b.sendMarkdown(ctx, msg.Chat.ID, sb.String())
}

func (b *Bot) cmdHelp(ctx context.Context, msg Message) error {
	var sb strings.Builder
	sb.WriteString("📚 *Quiz Bot — Help*\n\n")
	sb.WriteString("*Commands*\n")
	sb.WriteString("/quiz — Random practice question\n")
	sb.WriteString("/quiz cpa FAR hard — Filtered question\n")
	sb.WriteString("/daily — Question of the day\n")
	sb.WriteString("/leaderboard — Chat rankings\n")
	sb.WriteString("/stats — Your personal stats\n")
	sb.WriteString("/sections — Available exam sections\n\n")
	sb.WriteString("*Exams*\n")
	for _, exam := range b.exams.Exams() {
		eng, _ := b.exams.Engine(exam)
		cfg := b.exams.Config(exam)
		fmt.Fprintf(&sb, "%s *%s* — %d questions\n", cfg.Emoji, eng.ExamUpper(), eng.QuestionCount())
	}
	fmt.Fprintf(&sb, "\nAnswer by tapping a button. The answer is revealed after %d seconds.",
		int(b.revealDelay.Seconds()))
	return b.sendMarkdown(ctx, msg.Chat.ID, sb.String())
}

// ─── Question posting and reveal ─────────────────────────────

// PostQuestion implements adapter.PlatformAdapter; channelID is the chat id.
func (b *Bot) PostQuestion(ctx context.Context, channelID, exam string, q domain.Question, title string) (string, error) {
	chatID, err := strconv.ParseInt(channelID, 10, 64)
	if err != nil {
		return "", fmt.Errorf("bad chat id %q: %w", channelID, err)
	}
	return b.postQuestion(ctx, chatID, exam, q, title)
}

func (b *Bot) postQuestion(ctx context.Context, chatID int64, exam string, q domain.Question, title string) (string, error) {
	eng, ok := b.exams.Engine(exam)
	if !ok {
		return "", fmt.Errorf("unknown exam %q", exam)
	}
	cfg := b.exams.Config(exam)
	if title == "" {
		title = fmt.Sprintf("%s %s Quiz — %s", cfg.Emoji, eng.ExamUpper(), q.Section)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "*%s*\n\n%s\n\n", title, q.Prompt)
	for i, option := range q.Options {
		fmt.Fprintf(&sb, "%s *%s.* %s\n", answerLetters[i], adapter.AnswerLetter(i), option)
	}
	fmt.Fprintf(&sb, "\n📁 %s • %s • 📖 %s\n", cfg.SectionName(q.Section), adapter.DifficultyBadge(q.Difficulty), q.Topic)
	fmt.Fprintf(&sb, "Tap to answer! Reveals in %ds", int(b.revealDelay.Seconds()))

	keyboard := &InlineKeyboardMarkup{InlineKeyboard: [][]InlineKeyboardButton{{}}}
	for i := range q.Options {
		keyboard.InlineKeyboard[0] = append(keyboard.InlineKeyboard[0], InlineKeyboardButton{
			Text:         adapter.AnswerLetter(i),
			CallbackData: "ans:" + strconv.Itoa(i),
		})
	}

	sent, err := b.client.SendMessage(ctx, chatID, sb.String(), &SendOptions{
		ParseMode:   "Markdown",
		ReplyMarkup: keyboard,
	})
	if err != nil {
		return "", err
	}

	messageKey := messageKey(chatID, sent.MessageID)
	serverID := strconv.FormatInt(chatID, 10)
	quiz := adapter.NewActiveQuiz("telegram", exam, serverID, serverID, messageKey, q, time.Now().Add(b.revealDelay))
	if err := b.tracker.Add(ctx, quiz); err != nil {
		b.log.Warn("persist active quiz", zap.Error(err))
	}
	adapter.AfterDelay(ctx, b.revealDelay, func() {
		b.reveal(ctx, messageKey)
	})
	return messageKey, nil
}

func (b *Bot) handleCallback(ctx context.Context, cb CallbackQuery) {
	if cb.Message == nil || !strings.HasPrefix(cb.Data, "ans:") {
		return
	}
	answerIndex, err := strconv.Atoi(strings.TrimPrefix(cb.Data, "ans:"))
	if err != nil {
		return
	}

	key := messageKey(cb.Message.Chat.ID, cb.Message.MessageID)
	userID := strconv.FormatInt(cb.From.ID, 10)
	err = b.tracker.RecordAnswer(ctx, key, userID, displayName(cb.From), answerIndex)

	var notice string
	switch {
	case errors.Is(err, domain.ErrAlreadyAnswered):
		notice = "You already answered this one!"
	case errors.Is(err, domain.ErrQuizNotActive):
		notice = "This question is closed."
	case err != nil:
		b.log.Warn("record answer", zap.Error(err))
		notice = "Answer saved."
	default:
		notice = fmt.Sprintf("Locked in %s!", adapter.AnswerLetter(answerIndex))
	}
	if err := b.client.AnswerCallback(ctx, cb.ID, notice); err != nil {
		b.log.Warn("answer callback", zap.Error(err))
	}
}

// RevealAnswer implements adapter.PlatformAdapter for an explicit reveal.
func (b *Bot) RevealAnswer(ctx context.Context, messageID string) error {
	return b.reveal(ctx, messageID)
}

func (b *Bot) reveal(ctx context.Context, messageKey string) error {
	quiz, ok := b.tracker.Pop(ctx, messageKey)
	if !ok {
		return nil
	}
	eng, enOK := b.exams.Engine(quiz.Exam)
	if !enOK {
		return fmt.Errorf("unknown exam %q", quiz.Exam)
	}
	cfg := b.exams.Config(quiz.Exam)

	result, gradeErr := adapter.Grade(ctx, eng, quiz)
	if gradeErr != nil {
		b.log.Error("record answers", zap.Error(gradeErr))
	}

	q := quiz.Question
	var sb strings.Builder
	fmt.Fprintf(&sb, "⏰ Time's up!\n\n✅ *Answer: %s %s. %s*\n",
		answerLetters[q.CorrectAnswer], adapter.AnswerLetter(q.CorrectAnswer), q.Options[q.CorrectAnswer])
	if len(result.CorrectUsers) > 0 {
		fmt.Fprintf(&sb, "\n🎉 Correct (%d): %s\n", len(result.CorrectUsers), strings.Join(capNames(result.CorrectUsers), ", "))
	}
	if len(result.WrongUsers) > 0 {
		fmt.Fprintf(&sb, "❌ Incorrect (%d): %s\n", len(result.WrongUsers), strings.Join(capNames(result.WrongUsers), ", "))
	}
	if len(result.CorrectUsers)+len(result.WrongUsers) == 0 {
		sb.WriteString("\n😴 Nobody answered this one!\n")
	}
	if q.Explanation != "" {
		fmt.Fprintf(&sb, "\n💡 %s\n", adapter.TruncateExplanation(q.Explanation, 300))
	}
	if cta := adapter.CTA(cfg); cta != "" {
		sb.WriteString("\n" + cta)
	}

	chatID, replyTo := parseMessageKey(messageKey)
	return b.sendMarkdownReply(ctx, chatID, replyTo, sb.String())
}

// PostLeaderboard implements adapter.PlatformAdapter.
func (b *Bot) PostLeaderboard(ctx context.Context, channelID, serverID, exam string, limit int) error {
	chatID, err := strconv.ParseInt(channelID, 10, 64)
	if err != nil {
		return fmt.Errorf("bad chat id %q: %w", channelID, err)
	}
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
		return b.sendPlain(ctx, chatID,
			fmt.Sprintf("📊 No %s quiz activity yet! Use /quiz to get started.", eng.ExamUpper()))
	}

	medals := []string{"🥇", "🥈", "🥉"}
	var sb strings.Builder
	fmt.Fprintf(&sb, "🏆 *%s Leaderboard*\n\n", eng.ExamUpper())
	for i, user := range top {
		medal := fmt.Sprintf("`%d.`", i+1)
		if i < len(medals) {
			medal = medals[i]
		}
		streak := ""
		if user.Streak >= 3 {
			streak = fmt.Sprintf(" 🔥%d", user.Streak)
		}
		fmt.Fprintf(&sb, "%s *%s* — %d/%d (%d%%)%s\n", medal, user.Username, user.Correct, user.Total, user.Accuracy(), streak)
	}
	if cta := adapter.CTA(cfg); cta != "" {
		sb.WriteString("\n" + cta)
	}
	return b.sendMarkdown(ctx, chatID, sb.String())
}

// postDailyQuestions posts each exam's daily question to every known chat
// whose title matches that exam's naming convention.
func (b *Bot) postDailyQuestions(ctx context.Context) {
	b.mu.Lock()
	chats := make(map[int64]string, len(b.chats))
	for id, title := range b.chats {
		chats[id] = title
	}
	b.mu.Unlock()

	for chatID, title := range chats {
		exam, ok := b.exams.DetectExam(title)
		if !ok {
			continue
		}
		eng, _ := b.exams.Engine(exam)
		q, ok := eng.DailyQuestion()
		if !ok {
			continue
		}
		dailyTitle := fmt.Sprintf("📅 %s Daily Question", eng.ExamUpper())
		if _, err := b.postQuestion(ctx, chatID, exam, q, dailyTitle); err != nil {
			b.log.Error("post daily", zap.Int64("chat", chatID), zap.Error(err))
			continue
		}
		b.log.Info("posted daily question", zap.String("exam", exam), zap.Int64("chat", chatID))
	}
}

// ─── Helpers ─────────────────────────────────────────────────

func (b *Bot) sendPlain(ctx context.Context, chatID int64, text string) error {
	_, err := b.client.SendMessage(ctx, chatID, text, nil)
	return err
}

func (b *Bot) sendMarkdown(ctx context.Context, chatID int64, text string) error {
	_, err := b.client.SendMessage(ctx, chatID, text, &SendOptions{ParseMode: "Markdown"})
	return err
}

func (b *Bot) sendMarkdownReply(ctx context.Context, chatID int64, replyTo int, text string) error {
	_, err := b.client.SendMessage(ctx, chatID, text, &SendOptions{ParseMode: "Markdown", ReplyTo: replyTo})
	return err
}

func messageKey(chatID int64, messageID int) string {
	return strconv.FormatInt(chatID, 10) + ":" + strconv.Itoa(messageID)
}

func parseMessageKey(key string) (chatID int64, messageID int) {
	parts := strings.SplitN(key, ":", 2)
	if len(parts) != 2 {
		return 0, 0
	}
	chatID, _ = strconv.ParseInt(parts[0], 10, 64)
	messageID, _ = strconv.Atoi(parts[1])
	return chatID, messageID
}

func displayName(u User) string {
	if u.Username != "" {
		return u.Username
	}
	return u.FirstName
}

func sortedTags(tags map[string]*domain.TagStats) []string {
	out := make([]string, 0, len(tags))
	for tag := range tags {
		out = append(out, tag)
	}
	sort.Strings(out)
	return out
}

func percent(correct, total int) int {
	if total == 0 {
		return 0
	}
	return int(float64(correct)/float64(total)*100 + 0.5)
}

func capNames(names []string) []string {
	if len(names) > 15 {
		return names[:15]
	}
	return names
}
