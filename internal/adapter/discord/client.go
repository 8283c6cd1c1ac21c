// Package discord is the Discord rendition of the quiz bot. The REST client
// covers the handful of endpoints the bot needs, and the gateway client
// maintains the websocket session that delivers messages and reactions.
package discord

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

const apiBase = "https://discord.com/api/v10"

// User is a Discord user as it appears in gateway events.
type User struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Bot      bool   `json:"bot"`
}

// Channel is a guild channel; Type 0 is a text channel.
type Channel struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Type    int    `json:"type"`
	GuildID string `json:"guild_id"`
}

type EmbedField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline,omitempty"`
}

type EmbedFooter struct {
	Text string `json:"text"`
}

type Embed struct {
	Title       string       `json:"title,omitempty"`
	Description string       `json:"description,omitempty"`
	Color       int          `json:"color,omitempty"`
	Fields      []EmbedField `json:"fields,omitempty"`
	Footer      *EmbedFooter `json:"footer,omitempty"`
}

// Message is the subset of a Discord message the bot reads back.
type Message struct {
	ID        string `json:"id"`
	ChannelID string `json:"channel_id"`
	GuildID   string `json:"guild_id"`
	Content   string `json:"content"`
	Author    User   `json:"author"`
	Mentions  []User `json:"mentions"`
}

type createMessageRequest struct {
	Content          string            `json:"content,omitempty"`
	Embeds           []Embed           `json:"embeds,omitempty"`
	MessageReference *messageReference `json:"message_reference,omitempty"`
}

type messageReference struct {
	MessageID string `json:"message_id"`
}

// Rest is the authenticated Discord REST API client.
type Rest interface {
	CreateMessage(ctx context.Context, channelID, content string, embeds ...Embed) (Message, error)
	CreateReply(ctx context.Context, channelID, replyToID, content string, embeds ...Embed) (Message, error)
	CreateReaction(ctx context.Context, channelID, messageID, emoji string) error
}

type HTTPRest struct {
	token   string
	baseURL string
	http    *http.Client
}

func NewRest(token string) *HTTPRest {
	return &HTTPRest{
		token:   token,
		baseURL: apiBase,
		http:    &http.Client{Timeout: 15 * time.Second},
	}
}

// NewRestWithBase points the client at a different API root, for tests.
func NewRestWithBase(token, baseURL string) *HTTPRest {
	c := NewRest(token)
	c.baseURL = baseURL
	return c
}

func (c *HTTPRest) CreateMessage(ctx context.Context, channelID, content string, embeds ...Embed) (Message, error) {
	return c.postMessage(ctx, channelID, createMessageRequest{Content: content, Embeds: embeds})
}

func (c *HTTPRest) CreateReply(ctx context.Context, channelID, replyToID, content string, embeds ...Embed) (Message, error) {
	return c.postMessage(ctx, channelID, createMessageRequest{
		Content:          content,
		Embeds:           embeds,
		MessageReference: &messageReference{MessageID: replyToID},
	})
}

func (c *HTTPRest) postMessage(ctx context.Context, channelID string, body createMessageRequest) (Message, error) {
	var msg Message
	path := fmt.Sprintf("/channels/%s/messages", channelID)
	if err := c.do(ctx, http.MethodPost, path, body, &msg); err != nil {
		return Message{}, err
	}
	return msg, nil
}

// CreateReaction adds the bot's own reaction so users have a button to press.
func (c *HTTPRest) CreateReaction(ctx context.Context, channelID, messageID, emoji string) error {
	path := fmt.Sprintf("/channels/%s/messages/%s/reactions/%s/@me",
		channelID, messageID, url.PathEscape(emoji))
	return c.do(ctx, http.MethodPut, path, nil, nil)
}

func (c *HTTPRest) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bot "+c.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("discord api %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return fmt.Errorf("discord api %s %s: rate limited", method, path)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("discord api %s %s: status %d: %s", method, path, resp.StatusCode, data)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
