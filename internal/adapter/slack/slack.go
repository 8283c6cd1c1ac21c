// Package slack posts quiz content to Slack over an incoming webhook. It is
// a one-way surface: webhooks cannot receive reactions or button clicks, so
// answers are not collected and reveals are not supported.
package slack

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"cert-quiz-service/internal/adapter"
	"cert-quiz-service/internal/domain"
	"cert-quiz-service/internal/logger"
)

var answerEmojis = []string{"🇦", "🇧", "🇨", "🇩"}

// Block is a Block Kit layout block; only section and divider are used.
type Block struct {
	Type string `json:"type"`
	Text *Text  `json:"text,omitempty"`
}

type Text struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

func section(markdown string) Block {
	return Block{Type: "section", Text: &Text{Type: "mrkdwn", Text: markdown}}
}

type webhookPayload struct {
	Text   string  `json:"text,omitempty"`
	Blocks []Block `json:"blocks,omitempty"`
}

// Bot posts questions and leaderboards to a single configured channel.
type Bot struct {
	webhookURL string
	channel    string
	exams      *adapter.ExamSet
	daily      *adapter.DailyScheduler
	http       *http.Client
	log        *zap.Logger
}

func New(webhookURL, channel string, exams *adapter.ExamSet, daily *adapter.DailyScheduler) *Bot {
	return &Bot{
		webhookURL: webhookURL,
		channel:    channel,
		exams:      exams,
		daily:      daily,
		http:       &http.Client{Timeout: 15 * time.Second},
		log:        logger.Get().Named("slack"),
	}
}

func (b *Bot) Name() string { return "slack" }

// Start arms the daily scheduler and blocks until ctx is cancelled.
func (b *Bot) Start(ctx context.Context) error {
	if b.daily != nil {
		go b.daily.Run(ctx, b.postDailyQuestions)
	}
	<-ctx.Done()
	return ctx.Err()
}

func (b *Bot) Stop(context.Context) error { return nil }

// PostQuestion implements adapter.PlatformAdapter. The returned message id is
// synthetic; webhooks do not echo message ids back.
func (b *Bot) PostQuestion(ctx context.Context, channelID, exam string, q domain.Question, title string) (string, error) {
	eng, ok := b.exams.Engine(exam)
	if !ok {
		return "", fmt.Errorf("unknown exam %q", exam)
	}
	cfg := b.exams.Config(exam)
	if title == "" {
		title = fmt.Sprintf("%s %s Practice Question", cfg.Emoji, eng.ExamUpper())
	}

	var body strings.Builder
	body.WriteString("*" + q.Prompt + "*\n\n")
	for i, option := range q.Options {
		fmt.Fprintf(&body, "%s  %s\n", answerEmojis[i], option)
	}
	meta := fmt.Sprintf("📁 %s  •  %s  •  📖 %s",
		cfg.SectionName(q.Section), adapter.DifficultyBadge(q.Difficulty), q.Topic)

	blocks := []Block{
		section("*" + title + "*"),
		section(body.String()),
		{Type: "divider"},
		section(meta),
	}
	if cta := adapter.CTA(cfg); cta != "" {
		blocks = append(blocks, section(cta))
	}
	if err := b.post(ctx, webhookPayload{Text: title, Blocks: blocks}); err != nil {
		return "", err
	}
	return fmt.Sprintf("slack-%d", time.Now().UnixNano()), nil
}

// RevealAnswer is unsupported: incoming webhooks cannot collect answers, so
// there is nothing to reveal.
func (b *Bot) RevealAnswer(context.Context, string) error {
	return fmt.Errorf("slack: reveal not supported over incoming webhooks")
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
		return b.post(ctx, webhookPayload{
			Text: fmt.Sprintf("📊 No %s quiz activity yet!", eng.ExamUpper()),
		})
	}

	medals := []string{"🥇", "🥈", "🥉"}
	var sb strings.Builder
	for i, user := range top {
		medal := fmt.Sprintf("`%d.`", i+1)
		if i < len(medals) {
			medal = medals[i]
		}
		streak := ""
		if user.Streak >= 3 {
			streak = fmt.Sprintf(" 🔥%d", user.Streak)
		}
		fmt.Fprintf(&sb, "%s *%s* — %d/%d (%d%%)%s\n",
			medal, user.Username, user.Correct, user.Total, user.Accuracy(), streak)
	}

	blocks := []Block{
		section(fmt.Sprintf("*🏆 %s Quiz Leaderboard*", eng.ExamUpper())),
		section(sb.String()),
	}
	if cta := adapter.CTA(cfg); cta != "" {
		blocks = append(blocks, section(cta))
	}
	return b.post(ctx, webhookPayload{
		Text:   fmt.Sprintf("%s Quiz Leaderboard", eng.ExamUpper()),
		Blocks: blocks,
	})
}

// postDailyQuestions posts every loaded exam's daily question to the
// configured channel.
func (b *Bot) postDailyQuestions(ctx context.Context) {
	for _, exam := range b.exams.Exams() {
		eng, _ := b.exams.Engine(exam)
		q, ok := eng.DailyQuestion()
		if !ok {
			continue
		}
		title := fmt.Sprintf("📅 %s Question of the Day", eng.ExamUpper())
		if _, err := b.PostQuestion(ctx, b.channel, exam, q, title); err != nil {
			b.log.Error("post daily", zap.String("exam", exam), zap.Error(err))
			continue
		}
		b.log.Info("posted daily question", zap.String("exam", exam))
	}
}

func (b *Bot) post(ctx context.Context, payload webhookPayload) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.webhookURL, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.http.Do(req)
	if err != nil {
		return fmt.Errorf("slack webhook: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return fmt.Errorf("slack webhook: status %d: %s", resp.StatusCode, data)
	}
	return nil
}
