package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const apiURL = "https://api.telegram.org/bot%s/%s"

// Update is one long-polling update from the Bot API.
type Update struct {
	UpdateID      int            `json:"update_id"`
	Message       *Message       `json:"message"`
	CallbackQuery *CallbackQuery `json:"callback_query"`
}

type Message struct {
	MessageID int    `json:"message_id"`
	Chat      Chat   `json:"chat"`
	From      *User  `json:"from"`
	Text      string `json:"text"`
}

type Chat struct {
	ID    int64  `json:"id"`
	Type  string `json:"type"`
	Title string `json:"title"`
}

type User struct {
	ID        int64  `json:"id"`
	FirstName string `json:"first_name"`
	Username  string `json:"username"`
}

// CallbackQuery carries an inline keyboard button press.
type CallbackQuery struct {
	ID      string   `json:"id"`
	From    User     `json:"from"`
	Message *Message `json:"message"`
	Data    string   `json:"data"`
}

type InlineKeyboardButton struct {
	Text         string `json:"text"`
	CallbackData string `json:"callback_data,omitempty"`
}

type InlineKeyboardMarkup struct {
	InlineKeyboard [][]InlineKeyboardButton `json:"inline_keyboard"`
}

type SendOptions struct {
	ParseMode   string
	ReplyMarkup *InlineKeyboardMarkup
	ReplyTo     int
}

// Client abstracts the Bot API surface the bot needs, so tests can swap in a
// fake.
type Client interface {
	SendMessage(ctx context.Context, chatID int64, text string, opts *SendOptions) (*Message, error)
	EditMessage(ctx context.Context, chatID int64, messageID int, text string, opts *SendOptions) error
	AnswerCallback(ctx context.Context, callbackID, text string) error
	GetUpdates(ctx context.Context, offset, timeout int) ([]Update, error)
}

// HTTPClient implements Client over the Telegram HTTP API.
type HTTPClient struct {
	token      string
	baseURL    string
	httpClient *http.Client
}

func NewHTTPClient(token string) *HTTPClient {
	return &HTTPClient{
		token:   token,
		baseURL: apiURL,
		// Long polls block server-side up to the poll timeout; leave
		// headroom on top.
		httpClient: &http.Client{Timeout: 90 * time.Second},
	}
}

// NewHTTPClientWithBase points the client at a different API root, for tests.
func NewHTTPClientWithBase(token, baseURL string) *HTTPClient {
	c := NewHTTPClient(token)
	c.baseURL = baseURL + "/bot%s/%s"
	return c
}

func (c *HTTPClient) SendMessage(ctx context.Context, chatID int64, text string, opts *SendOptions) (*Message, error) {
	params := map[string]interface{}{
		"chat_id": chatID,
		"text":    text,
	}
	applyOptions(params, opts)

	rawResp, err := c.doRequest(ctx, "sendMessage", params)
	if err != nil {
		return nil, err
	}
	var message Message
	if err := json.Unmarshal(rawResp, &message); err != nil {
		return nil, err
	}
	return &message, nil
}

func (c *HTTPClient) EditMessage(ctx context.Context, chatID int64, messageID int, text string, opts *SendOptions) error {
	params := map[string]interface{}{
		"chat_id":    chatID,
		"message_id": messageID,
		"text":       text,
	}
	applyOptions(params, opts)
	_, err := c.doRequest(ctx, "editMessageText", params)
	return err
}

func (c *HTTPClient) AnswerCallback(ctx context.Context, callbackID, text string) error {
	params := map[string]interface{}{
		"callback_query_id": callbackID,
		"text":              text,
	}
	_, err := c.doRequest(ctx, "answerCallbackQuery", params)
	return err
}

func (c *HTTPClient) GetUpdates(ctx context.Context, offset, timeout int) ([]Update, error) {
	params := map[string]interface{}{
		"offset":  offset,
		"timeout": timeout,
	}
	rawResp, err := c.doRequest(ctx, "getUpdates", params)
	if err != nil {
		return nil, err
	}
	var updates []Update
	if err := json.Unmarshal(rawResp, &updates); err != nil {
		return nil, err
	}
	return updates, nil
}

func applyOptions(params map[string]interface{}, opts *SendOptions) {
	if opts == nil {
		return
	}
	if opts.ParseMode != "" {
		params["parse_mode"] = opts.ParseMode
	}
	if opts.ReplyMarkup != nil {
		params["reply_markup"] = opts.ReplyMarkup
	}
	if opts.ReplyTo != 0 {
		params["reply_to_message_id"] = opts.ReplyTo
	}
}

type apiResponse struct {
	OK          bool            `json:"ok"`
	Result      json.RawMessage `json:"result"`
	Description string          `json:"description"`
}

func (c *HTTPClient) doRequest(ctx context.Context, method string, params map[string]interface{}) (json.RawMessage, error) {
	body, err := json.Marshal(params)
	if err != nil {
		return nil, err
	}

	url := fmt.Sprintf(c.baseURL, c.token, method)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("telegram %s: %w", method, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	var apiResp apiResponse
	if err := json.Unmarshal(raw, &apiResp); err != nil {
		return nil, fmt.Errorf("telegram %s: decode response: %w", method, err)
	}
	if !apiResp.OK {
		return nil, fmt.Errorf("telegram %s: %s", method, apiResp.Description)
	}
	return apiResp.Result, nil
}
