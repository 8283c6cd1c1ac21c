package telegram

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cert-quiz-service/internal/adapter"
	"cert-quiz-service/internal/bank"
	"cert-quiz-service/internal/config"
	"cert-quiz-service/internal/domain"
	"cert-quiz-service/internal/engine"
	"cert-quiz-service/internal/infra/memory"
)

// fakeClient records outgoing messages and hands out message ids.
type fakeClient struct {
	mu        sync.Mutex
	sent      []sentMessage
	callbacks []string
	nextID    int
}

type sentMessage struct {
	chatID int64
	text   string
	opts   *SendOptions
	id     int
}

func (f *fakeClient) SendMessage(_ context.Context, chatID int64, text string, opts *SendOptions) (*Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	f.sent = append(f.sent, sentMessage{chatID: chatID, text: text, opts: opts, id: f.nextID})
	return &Message{MessageID: f.nextID, Chat: Chat{ID: chatID}}, nil
}

func (f *fakeClient) EditMessage(context.Context, int64, int, string, *SendOptions) error {
	return nil
}

func (f *fakeClient) AnswerCallback(_ context.Context, _ string, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.callbacks = append(f.callbacks, text)
	return nil
}

func (f *fakeClient) GetUpdates(context.Context, int, int) ([]Update, error) {
	return nil, nil
}

func (f *fakeClient) lastSent() sentMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sent[len(f.sent)-1]
}

func (f *fakeClient) sentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

func testPool() []domain.Question {
	return []domain.Question{
		{
			ID: "q1", Section: "FAR", Topic: "Leases", Difficulty: domain.DifficultyMedium,
			Prompt: "Question one?", Options: []string{"a", "b", "c", "d"}, CorrectAnswer: 1,
			Explanation: "Because of b.",
		},
		{
			ID: "q2", Section: "AUD", Topic: "Evidence", Difficulty: domain.DifficultyHard,
			Prompt: "Question two?", Options: []string{"a", "b", "c", "d"}, CorrectAnswer: 0,
		},
	}
}

func newTestBot(t *testing.T) (*Bot, *fakeClient) {
	t.Helper()
	loader := bank.NewStaticLoader(map[string][]domain.Question{"cpa": testPool()})
	eng, err := engine.New(context.Background(), "cpa", loader, memory.NewLeaderboardStore())
	require.NoError(t, err)

	set := adapter.NewExamSet()
	set.Add(eng, config.BotConfig{Name: "cpa", Emoji: "🧾", URL: "https://x.test"})

	client := &fakeClient{}
	bot := New(client, set, adapter.NopQuizStore{}, 50*time.Millisecond, 30, nil)
	return bot, client
}

func command(text string) Message {
	return Message{
		MessageID: 100,
		Chat:      Chat{ID: -500, Type: "supergroup", Title: "cpa-quiz"},
		From:      &User{ID: 7, Username: "alice"},
		Text:      text,
	}
}

func TestCmdQuizPostsQuestion(t *testing.T) {
	bot, client := newTestBot(t)
	bot.handleCommand(context.Background(), command("/quiz"))

	sent := client.lastSent()
	assert.Equal(t, int64(-500), sent.chatID)
	assert.Contains(t, sent.text, "Question")
	require.NotNil(t, sent.opts)
	require.NotNil(t, sent.opts.ReplyMarkup)
	require.Len(t, sent.opts.ReplyMarkup.InlineKeyboard, 1)
	assert.Len(t, sent.opts.ReplyMarkup.InlineKeyboard[0], 4)
	assert.Equal(t, "ans:0", sent.opts.ReplyMarkup.InlineKeyboard[0][0].CallbackData)

	// The quiz is tracked under chatID:messageID.
	key := "-500:" + strconv.Itoa(sent.id)
	_, ok := bot.tracker.Get(key)
	assert.True(t, ok)
}

func TestCmdQuizNoMatch(t *testing.T) {
	bot, client := newTestBot(t)
	bot.handleCommand(context.Background(), command("/quiz cpa BEC"))

	sent := client.lastSent()
	assert.Contains(t, sent.text, "No questions found")
}

func TestCmdQuizUnknownExamInUnmappedChat(t *testing.T) {
	bot, client := newTestBot(t)
	msg := command("/quiz")
	msg.Chat.Title = "general"

	// Two exams loaded would make this ambiguous; with one it still resolves.
	bot.handleCommand(context.Background(), msg)
	assert.Equal(t, 1, client.sentCount())
	assert.Contains(t, client.lastSent().text, "Question")
}

func TestCommandWithBotMention(t *testing.T) {
	bot, client := newTestBot(t)
	bot.handleCommand(context.Background(), command("/help@certquizbot"))
	assert.Contains(t, client.lastSent().text, "Help")
}

func TestCallbackAnswerFlow(t *testing.T) {
	bot, client := newTestBot(t)
	ctx := context.Background()

	bot.handleCommand(ctx, command("/quiz"))
	posted := client.lastSent()

	cb := CallbackQuery{
		ID:   "cb1",
		From: User{ID: 7, Username: "alice"},
		Data: "ans:1",
		Message: &Message{
			MessageID: posted.id,
			Chat:      Chat{ID: -500},
		},
	}
	bot.handleCallback(ctx, cb)
	require.Len(t, client.callbacks, 1)
	assert.Contains(t, client.callbacks[0], "Locked in B")

	// Second press is rejected.
	bot.handleCallback(ctx, cb)
	require.Len(t, client.callbacks, 2)
	assert.Contains(t, client.callbacks[1], "already answered")
}

func TestCallbackOnClosedQuiz(t *testing.T) {
	bot, client := newTestBot(t)
	cb := CallbackQuery{
		ID:      "cb1",
		From:    User{ID: 7, Username: "alice"},
		Data:    "ans:1",
		Message: &Message{MessageID: 999, Chat: Chat{ID: -500}},
	}
	bot.handleCallback(context.Background(), cb)
	require.Len(t, client.callbacks, 1)
	assert.Contains(t, client.callbacks[0], "closed")
}

func TestRevealSummaries(t *testing.T) {
	bot, client := newTestBot(t)
	ctx := context.Background()

	bot.handleCommand(ctx, command("/quiz"))
	posted := client.lastSent()
	key := "-500:" + strconv.Itoa(posted.id)

	quiz, ok := bot.tracker.Get(key)
	require.True(t, ok)
	require.NoError(t, quiz.RecordAnswer("7", "alice", quiz.Question.CorrectAnswer))
	require.NoError(t, quiz.RecordAnswer("8", "bob", (quiz.Question.CorrectAnswer+1)%4))

	require.NoError(t, bot.RevealAnswer(ctx, key))

	reveal := client.lastSent()
	assert.Contains(t, reveal.text, "Time's up")
	assert.Contains(t, reveal.text, "alice")
	assert.Contains(t, reveal.text, "bob")
	assert.Contains(t, reveal.text, "🎯 Try cpa free")
	require.NotNil(t, reveal.opts)
	assert.Equal(t, posted.id, reveal.opts.ReplyTo)

	// A second reveal for the same message is a no-op.
	before := client.sentCount()
	require.NoError(t, bot.RevealAnswer(ctx, key))
	assert.Equal(t, before, client.sentCount())
}

func TestCmdLeaderboardEmpty(t *testing.T) {
	bot, client := newTestBot(t)
	bot.handleCommand(context.Background(), command("/leaderboard"))
	assert.Contains(t, client.lastSent().text, "No CPA quiz activity yet")
}

func TestCmdStatsAfterAnswers(t *testing.T) {
	bot, client := newTestBot(t)
	ctx := context.Background()

	eng, _ := bot.exams.Engine("cpa")
	q := testPool()[0]
	_, err := eng.RecordAnswer(ctx, "-500", "7", "alice", q, true)
	require.NoError(t, err)

	bot.handleCommand(ctx, command("/stats"))
	sent := client.lastSent()
	assert.Contains(t, sent.text, "alice's CPA Stats")
	assert.Contains(t, sent.text, "*1* / 1 correct (100%)")
	assert.Contains(t, sent.text, "FAR")
}

func TestCmdSections(t *testing.T) {
	bot, client := newTestBot(t)
	bot.handleCommand(context.Background(), command("/sections"))
	sent := client.lastSent()
	assert.Contains(t, sent.text, "AUD")
	assert.Contains(t, sent.text, "FAR")
	assert.Contains(t, sent.text, "1 questions")
}

func TestParseMessageKey(t *testing.T) {
	chatID, messageID := parseMessageKey("-500:42")
	assert.Equal(t, int64(-500), chatID)
	assert.Equal(t, 42, messageID)

	chatID, messageID = parseMessageKey("garbage")
	assert.Zero(t, chatID)
	assert.Zero(t, messageID)
}

func TestDifficultyArgumentParsing(t *testing.T) {
	bot, client := newTestBot(t)
	ctx := context.Background()

	// "hard" narrows to the one hard question.
	for i := 0; i < 5; i++ {
		bot.handleCommand(ctx, command("/quiz cpa hard"))
		sent := client.lastSent()
		if !strings.Contains(sent.text, "Question two?") {
			t.Fatalf("expected the hard question, got %q", sent.text)
		}
	}
}
