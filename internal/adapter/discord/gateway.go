package discord

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"cert-quiz-service/internal/logger"
)

const gatewayURL = "wss://gateway.discord.gg/?v=10&encoding=json"

// Gateway intents: guilds and their channels, messages with content, and
// message reactions.
const intents = 1<<0 | 1<<9 | 1<<10 | 1<<15

// Gateway opcodes.
const (
	opDispatch       = 0
	opHeartbeat      = 1
	opIdentify       = 2
	opReconnect      = 7
	opInvalidSession = 9
	opHello          = 10
	opHeartbeatAck   = 11
)

type payload struct {
	Op int             `json:"op"`
	D  json.RawMessage `json:"d,omitempty"`
	S  int             `json:"s,omitempty"`
	T  string          `json:"t,omitempty"`
}

type helloData struct {
	HeartbeatInterval int `json:"heartbeat_interval"`
}

type identifyData struct {
	Token      string             `json:"token"`
	Intents    int                `json:"intents"`
	Properties identifyProperties `json:"properties"`
}

type identifyProperties struct {
	OS      string `json:"os"`
	Browser string `json:"browser"`
	Device  string `json:"device"`
}

// ReadyEvent is the READY dispatch payload.
type ReadyEvent struct {
	SessionID string `json:"session_id"`
	User      User   `json:"user"`
}

// GuildCreateEvent announces a guild and its channels after identify.
type GuildCreateEvent struct {
	ID       string    `json:"id"`
	Name     string    `json:"name"`
	Channels []Channel `json:"channels"`
}

// ReactionAddEvent is the MESSAGE_REACTION_ADD dispatch payload.
type ReactionAddEvent struct {
	UserID    string `json:"user_id"`
	ChannelID string `json:"channel_id"`
	MessageID string `json:"message_id"`
	GuildID   string `json:"guild_id"`
	Emoji     struct {
		Name string `json:"name"`
	} `json:"emoji"`
	Member *struct {
		User User `json:"user"`
	} `json:"member"`
}

// EventHandler receives dispatched gateway events. Handlers run on the read
// loop goroutine and should not block.
type EventHandler interface {
	OnReady(ctx context.Context, ev ReadyEvent)
	OnGuildCreate(ctx context.Context, ev GuildCreateEvent)
	OnMessageCreate(ctx context.Context, msg Message)
	OnReactionAdd(ctx context.Context, ev ReactionAddEvent)
}

// Gateway maintains the Discord websocket session, reconnecting with
// backoff when the connection drops.
type Gateway struct {
	token   string
	url     string
	handler EventHandler
	log     *zap.Logger

	mu  sync.Mutex
	seq int
}

func NewGateway(token string, handler EventHandler) *Gateway {
	return &Gateway{
		token:   token,
		url:     gatewayURL,
		handler: handler,
		log:     logger.Get().Named("discord.gateway"),
	}
}

// Run connects and processes events until ctx is cancelled.
func (g *Gateway) Run(ctx context.Context) error {
	backoff := time.Second
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		err := g.session(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		g.log.Warn("gateway session ended", zap.Error(err), zap.Duration("backoff", backoff))
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return ctx.Err()
		}
		if backoff < 30*time.Second {
			backoff *= 2
		}
	}
}

// session runs one websocket connection from dial to disconnect.
func (g *Gateway) session(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, g.url, nil)
	if err != nil {
		return fmt.Errorf("dial gateway: %w", err)
	}
	defer conn.Close()

	sessCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Writes come from both the heartbeat goroutine and the read loop.
	var writeMu sync.Mutex
	send := func(p payload) error {
		writeMu.Lock()
		defer writeMu.Unlock()
		return conn.WriteJSON(p)
	}

	go func() {
		<-sessCtx.Done()
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		conn.Close()
	}()

	for {
		var p payload
		if err := conn.ReadJSON(&p); err != nil {
			return fmt.Errorf("read gateway: %w", err)
		}
		if p.S != 0 {
			g.mu.Lock()
			g.seq = p.S
			g.mu.Unlock()
		}

		switch p.Op {
		case opHello:
			var hello helloData
			if err := json.Unmarshal(p.D, &hello); err != nil {
				return fmt.Errorf("decode hello: %w", err)
			}
			go g.heartbeat(sessCtx, send, time.Duration(hello.HeartbeatInterval)*time.Millisecond)
			if err := g.identify(send); err != nil {
				return fmt.Errorf("identify: %w", err)
			}
		case opHeartbeat:
			if err := send(g.heartbeatPayload()); err != nil {
				return err
			}
		case opHeartbeatAck:
			// nothing to do
		case opReconnect, opInvalidSession:
			return fmt.Errorf("gateway requested reconnect (op %d)", p.Op)
		case opDispatch:
			g.dispatch(sessCtx, p)
		}
	}
}

func (g *Gateway) identify(send func(payload) error) error {
	data, err := json.Marshal(identifyData{
		Token:   g.token,
		Intents: intents,
		Properties: identifyProperties{
			OS:      "linux",
			Browser: "cert-quiz-service",
			Device:  "cert-quiz-service",
		},
	})
	if err != nil {
		return err
	}
	return send(payload{Op: opIdentify, D: data})
}

func (g *Gateway) heartbeatPayload() payload {
	g.mu.Lock()
	seq := g.seq
	g.mu.Unlock()
	data, _ := json.Marshal(seq)
	return payload{Op: opHeartbeat, D: data}
}

func (g *Gateway) heartbeat(ctx context.Context, send func(payload) error, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := send(g.heartbeatPayload()); err != nil {
				g.log.Warn("heartbeat", zap.Error(err))
				return
			}
		}
	}
}

func (g *Gateway) dispatch(ctx context.Context, p payload) {
	switch p.T {
	case "READY":
		var ev ReadyEvent
		if err := json.Unmarshal(p.D, &ev); err != nil {
			g.log.Warn("decode READY", zap.Error(err))
			return
		}
		g.handler.OnReady(ctx, ev)
	case "GUILD_CREATE":
		var ev GuildCreateEvent
		if err := json.Unmarshal(p.D, &ev); err != nil {
			g.log.Warn("decode GUILD_CREATE", zap.Error(err))
			return
		}
		g.handler.OnGuildCreate(ctx, ev)
	case "MESSAGE_CREATE":
		var msg Message
		if err := json.Unmarshal(p.D, &msg); err != nil {
			g.log.Warn("decode MESSAGE_CREATE", zap.Error(err))
			return
		}
		g.handler.OnMessageCreate(ctx, msg)
	case "MESSAGE_REACTION_ADD":
		var ev ReactionAddEvent
		if err := json.Unmarshal(p.D, &ev); err != nil {
			g.log.Warn("decode MESSAGE_REACTION_ADD", zap.Error(err))
			return
		}
		g.handler.OnReactionAdd(ctx, ev)
	}
}
