// Package publisher delivers enriched articles to Telegram. Each feed
// gets its own destination channel, modeled as a forum topic inside the
// configured supergroup.
package publisher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"log/slog"
	"strconv"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// ErrPublish is returned when the destination rejects or never receives
// a message.
var ErrPublish = errors.New("publish failed")

// ErrNoChat is returned when no destination chat has been configured or
// bound yet.
var ErrNoChat = errors.New("no destination chat configured")

// ChannelRef identifies a destination channel: a chat and, when forum
// topics are available, a topic thread inside it.
type ChannelRef struct {
	ChatID   int64
	ThreadID int64
}

// Article carries everything needed to format one enriched article.
type Article struct {
	Title         string // translated
	OriginalTitle string
	Summary       string
	Genre         string
	Link          string
	FeedTitle     string
}

// telegramAPI is the slice of the Telegram client the publisher uses.
type telegramAPI interface {
	MakeRequest(endpoint string, params tgbotapi.Params) (*tgbotapi.APIResponse, error)
}

// Publisher sends formatted article messages to per-feed channels.
type Publisher struct {
	api   telegramAPI
	pause time.Duration

	mu       sync.Mutex
	chatID   int64
	lastSend time.Time
}

// Option configures a Publisher.
type Option func(*Publisher)

// WithPause sets the minimum gap between consecutive sends, to stay
// under the Telegram rate limit.
func WithPause(d time.Duration) Option {
	return func(p *Publisher) {
		p.pause = d
	}
}

// NewPublisher creates a publisher targeting the given supergroup.
func NewPublisher(api telegramAPI, chatID int64, opts ...Option) *Publisher {
	p := &Publisher{
		api:    api,
		chatID: chatID,
		pause:  2 * time.Second,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// SetChatID binds the supergroup that hosts per-feed channels. Called
// when the admin starts the bot in the target chat.
func (p *Publisher) SetChatID(chatID int64) {
	p.mu.Lock()
	p.chatID = chatID
	p.mu.Unlock()
}

// EnsureChannel returns the destination channel for a feed, creating a
// forum topic named suggestedName when possible. When the chat has no
// topics enabled the plain chat is used instead.
func (p *Publisher) EnsureChannel(ctx context.Context, suggestedName string) (ChannelRef, error) {
	if err := ctx.Err(); err != nil {
		return ChannelRef{}, err
	}

	p.mu.Lock()
	chatID := p.chatID
	p.mu.Unlock()
	if chatID == 0 {
		return ChannelRef{}, ErrNoChat
	}

	params := tgbotapi.Params{}
	params.AddNonZero64("chat_id", chatID)
	params["name"] = suggestedName

	resp, err := p.api.MakeRequest("createForumTopic", params)
	if err != nil {
		slog.Warn("forum topic creation failed, publishing to the chat directly",
			"chat_id", chatID, "name", suggestedName, "error", err)
		return ChannelRef{ChatID: chatID}, nil
	}

	var topic struct {
		MessageThreadID int64 `json:"message_thread_id"`
	}
	if err := json.Unmarshal(resp.Result, &topic); err != nil {
		return ChannelRef{}, fmt.Errorf("decode forum topic: %w", err)
	}

	return ChannelRef{ChatID: chatID, ThreadID: topic.MessageThreadID}, nil
}

// Publish formats and delivers one enriched article to the channel.
// Failure never marks the article seen; the caller retries it later.
func (p *Publisher) Publish(ctx context.Context, ref ChannelRef, article *Article) error {
	if err := p.waitPause(ctx); err != nil {
		return err
	}

	params := tgbotapi.Params{}
	params.AddNonZero64("chat_id", ref.ChatID)
	params.AddNonZero64("message_thread_id", ref.ThreadID)
	params["text"] = FormatMessage(article)
	params["parse_mode"] = tgbotapi.ModeHTML

	if _, err := p.api.MakeRequest("sendMessage", params); err != nil {
		return fmt.Errorf("%w: %v", ErrPublish, err)
	}
	return nil
}

// waitPause spaces out consecutive sends. Each caller reserves the
// next free slot under the lock, so bursts queue up pause apart while
// a send after an idle gap goes out immediately.
func (p *Publisher) waitPause(ctx context.Context) error {
	now := time.Now()
	p.mu.Lock()
	wait := p.pause - now.Sub(p.lastSend)
	if wait < 0 {
		wait = 0
	}
	p.lastSend = now.Add(wait)
	p.mu.Unlock()

	if wait == 0 {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(wait):
		return nil
	}
}

var genreEmoji = map[string]string{
	"technology":    "💻",
	"business":      "💼",
	"entertainment": "🎬",
	"sports":        "🏅",
	"politics":      "🏛️",
	"science":       "🔬",
	"health":        "🩺",
}

// FormatMessage renders an enriched article as a Telegram HTML message.
func FormatMessage(a *Article) string {
	emoji, ok := genreEmoji[a.Genre]
	if !ok {
		emoji = "📰"
	}

	title := html.EscapeString(a.Title)
	summary := html.EscapeString(a.Summary)
	original := html.EscapeString(a.OriginalTitle)
	feed := html.EscapeString(a.FeedTitle)

	return fmt.Sprintf(
		"%s <b>%s</b>\n\n"+
			"<i>%s</i>\n\n"+
			"%s | %s\n"+
			"<a href=\"%s\">%s</a>",
		emoji, title, summary, a.Genre, feed, a.Link, original,
	)
}

// TopicName derives a channel name from a feed title, mirroring how
// channels are named for newly added feeds.
func TopicName(feedID int64, feedTitle string) string {
	slug := slugify(feedTitle)
	if slug == "" {
		return "rss-feed-" + strconv.FormatInt(feedID, 10)
	}
	return "rss-" + slug
}

func slugify(s string) string {
	out := make([]rune, 0, len(s))
	lastDash := false
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z' || r >= '0' && r <= '9':
			out = append(out, r)
			lastDash = false
		case r >= 'A' && r <= 'Z':
			out = append(out, r+('a'-'A'))
			lastDash = false
		default:
			if !lastDash && len(out) > 0 {
				out = append(out, '-')
				lastDash = true
			}
		}
	}
	for len(out) > 0 && out[len(out)-1] == '-' {
		out = out[:len(out)-1]
	}
	return string(out)
}
