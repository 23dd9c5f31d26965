// Package bot maps Telegram commands onto scheduler operations.
package bot

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"rss-ai-bot/scheduler"
	"rss-ai-bot/storage"
)

// MessageSender sends messages to Telegram.
type MessageSender interface {
	SendMessage(ctx context.Context, chatID int64, text string, html bool) (int64, error)
}

// FeedManager is the scheduler surface the commands drive.
type FeedManager interface {
	AddFeed(ctx context.Context, url string, intervalMins int, nameHint string) (*storage.Feed, error)
	RemoveFeed(ctx context.Context, id int64) error
	ListFeeds(ctx context.Context) ([]*storage.Feed, error)
	CheckNow(ctx context.Context, id int64) error
	CheckAll(ctx context.Context) error
	SetInterval(ctx context.Context, id int64, mins int) error
	SetEnabled(ctx context.Context, id int64, enabled bool) error
	Status(ctx context.Context) ([]scheduler.FeedStatus, error)
}

// ChatBinder records the chat that hosts the per-feed channels.
type ChatBinder interface {
	BindChat(ctx context.Context, chatID int64) error
}

// CommandHandler handles bot commands.
type CommandHandler struct {
	sender      MessageSender
	feeds       FeedManager
	binder      ChatBinder
	adminOnly   bool
	adminUserID int64
}

// NewCommandHandler creates a new command handler. With adminOnly set,
// commands that change configuration or trigger polling are restricted
// to adminUserID. binder may be nil when the destination chat is fixed
// by configuration.
func NewCommandHandler(sender MessageSender, feeds FeedManager, binder ChatBinder, adminOnly bool, adminUserID int64) *CommandHandler {
	return &CommandHandler{
		sender:      sender,
		feeds:       feeds,
		binder:      binder,
		adminOnly:   adminOnly,
		adminUserID: adminUserID,
	}
}

// restrictedCommands change configuration or trigger external posting.
var restrictedCommands = map[string]bool{
	"addfeed":  true,
	"remove":   true,
	"interval": true,
	"enable":   true,
	"disable":  true,
	"checknow": true,
}

// HandleCommand dispatches one command. Unknown commands are ignored.
func (h *CommandHandler) HandleCommand(ctx context.Context, chatID, userID int64, command, args string) error {
	if restrictedCommands[command] && !h.authorized(userID) {
		_, err := h.sender.SendMessage(ctx, chatID, "Sorry, this command is restricted to the bot admin.", false)
		return err
	}

	switch command {
	case "start", "help":
		// An authorized /start binds the chat it was sent in as the
		// destination for published articles.
		if h.binder != nil && h.authorized(userID) {
			if err := h.binder.BindChat(ctx, chatID); err != nil {
				return fmt.Errorf("bind chat: %w", err)
			}
		}
		return h.HandleStart(ctx, chatID)
	case "addfeed":
		return h.HandleAddFeed(ctx, chatID, args)
	case "feeds":
		return h.HandleFeeds(ctx, chatID)
	case "checknow":
		return h.HandleCheckNow(ctx, chatID, args)
	case "status":
		return h.HandleStatus(ctx, chatID)
	case "remove":
		return h.HandleRemove(ctx, chatID, args)
	case "interval":
		return h.HandleInterval(ctx, chatID, args)
	case "enable":
		return h.HandleEnable(ctx, chatID, args, true)
	case "disable":
		return h.HandleEnable(ctx, chatID, args, false)
	}
	return nil
}

func (h *CommandHandler) authorized(userID int64) bool {
	return !h.adminOnly || userID == h.adminUserID
}

// HandleStart handles the /start command.
func (h *CommandHandler) HandleStart(ctx context.Context, chatID int64) error {
	msg := "Welcome to the RSS AI Bot! 📡\n\n" +
		"Commands:\n" +
		"/addfeed <url> [interval] [name] - Register a feed (interval in minutes: 5, 15, 30, 60)\n" +
		"/feeds - List registered feeds\n" +
		"/checknow [id] - Poll one feed, or all feeds, right now\n" +
		"/status - Show per-feed health\n" +
		"/interval <id> <minutes> - Change a feed's poll interval\n" +
		"/disable <id> - Pause a feed\n" +
		"/enable <id> - Resume a feed\n" +
		"/remove <id> - Delete a feed and its history"

	_, err := h.sender.SendMessage(ctx, chatID, msg, false)
	return err
}

// HandleAddFeed handles the /addfeed command.
func (h *CommandHandler) HandleAddFeed(ctx context.Context, chatID int64, args string) error {
	fields := strings.Fields(args)
	if len(fields) == 0 {
		_, err := h.sender.SendMessage(ctx, chatID, "Usage: /addfeed <url> [interval minutes] [channel name]", false)
		return err
	}

	url := fields[0]
	rest := fields[1:]

	// A leading number is the interval; whatever follows names the channel.
	interval := 0
	if len(rest) > 0 {
		if n, err := strconv.Atoi(rest[0]); err == nil {
			interval = n
			rest = rest[1:]
		}
	}
	nameHint := strings.Join(rest, " ")

	feed, err := h.feeds.AddFeed(ctx, url, interval, nameHint)
	if err != nil {
		return h.sendCommandError(ctx, chatID, err)
	}

	title := feed.Title
	if title == "" {
		title = feed.URL
	}
	msg := fmt.Sprintf("✅ Feed #%d registered: %s\nPolling every %d minutes.", feed.ID, title, feed.IntervalMins)
	_, err = h.sender.SendMessage(ctx, chatID, msg, false)
	return err
}

// HandleFeeds handles the /feeds command.
func (h *CommandHandler) HandleFeeds(ctx context.Context, chatID int64) error {
	feeds, err := h.feeds.ListFeeds(ctx)
	if err != nil {
		return fmt.Errorf("list feeds: %w", err)
	}

	if len(feeds) == 0 {
		_, err := h.sender.SendMessage(ctx, chatID, "No feeds registered yet. Add one with /addfeed <url>.", false)
		return err
	}

	var sb strings.Builder
	sb.WriteString("Registered feeds:\n\n")
	for _, feed := range feeds {
		state := "active"
		if !feed.Enabled {
			state = "paused"
		}
		title := feed.Title
		if title == "" {
			title = feed.URL
		}
		sb.WriteString(fmt.Sprintf("#%d %s\n%s\nevery %d min, %s\n\n",
			feed.ID, title, feed.URL, feed.IntervalMins, state))
	}

	_, err = h.sender.SendMessage(ctx, chatID, strings.TrimSpace(sb.String()), false)
	return err
}

// HandleCheckNow handles the /checknow command. Without an argument all
// enabled feeds are polled.
func (h *CommandHandler) HandleCheckNow(ctx context.Context, chatID int64, args string) error {
	args = strings.TrimSpace(args)
	if args == "" {
		if err := h.feeds.CheckAll(ctx); err != nil {
			return h.sendCommandError(ctx, chatID, err)
		}
		_, err := h.sender.SendMessage(ctx, chatID, "✅ All feeds checked.", false)
		return err
	}

	id, err := parseID(args)
	if err != nil {
		_, serr := h.sender.SendMessage(ctx, chatID, "Usage: /checknow [feed id]", false)
		return serr
	}
	if err := h.feeds.CheckNow(ctx, id); err != nil {
		return h.sendCommandError(ctx, chatID, err)
	}
	_, err = h.sender.SendMessage(ctx, chatID, fmt.Sprintf("✅ Feed #%d checked.", id), false)
	return err
}

// HandleStatus handles the /status command.
func (h *CommandHandler) HandleStatus(ctx context.Context, chatID int64) error {
	statuses, err := h.feeds.Status(ctx)
	if err != nil {
		return fmt.Errorf("feed status: %w", err)
	}

	if len(statuses) == 0 {
		_, err := h.sender.SendMessage(ctx, chatID, "No feeds registered yet.", false)
		return err
	}

	var sb strings.Builder
	sb.WriteString("Feed status:\n\n")
	for _, st := range statuses {
		title := st.Title
		if title == "" {
			title = st.URL
		}
		sb.WriteString(fmt.Sprintf("#%d %s\n", st.ID, title))

		state := "active"
		switch {
		case !st.Enabled:
			state = "paused"
		case !st.Polling:
			state = "idle"
		}
		sb.WriteString(fmt.Sprintf("state: %s, every %d min, published: %d\n", state, st.IntervalMins, st.PublishedCount))

		if st.LastPolledAt != nil {
			sb.WriteString(fmt.Sprintf("last poll: %s\n", st.LastPolledAt.Format("2006-01-02 15:04:05")))
		} else {
			sb.WriteString("last poll: never\n")
		}
		if st.LastError != "" {
			sb.WriteString(fmt.Sprintf("⚠️ last error: %s\n", st.LastError))
		}
		sb.WriteString("\n")
	}

	_, err = h.sender.SendMessage(ctx, chatID, strings.TrimSpace(sb.String()), false)
	return err
}

// HandleRemove handles the /remove command.
func (h *CommandHandler) HandleRemove(ctx context.Context, chatID int64, args string) error {
	id, err := parseID(args)
	if err != nil {
		_, serr := h.sender.SendMessage(ctx, chatID, "Usage: /remove <feed id>", false)
		return serr
	}

	if err := h.feeds.RemoveFeed(ctx, id); err != nil {
		return h.sendCommandError(ctx, chatID, err)
	}
	_, err = h.sender.SendMessage(ctx, chatID, fmt.Sprintf("🗑 Feed #%d removed.", id), false)
	return err
}

// HandleInterval handles the /interval command.
func (h *CommandHandler) HandleInterval(ctx context.Context, chatID int64, args string) error {
	fields := strings.Fields(args)
	if len(fields) != 2 {
		_, err := h.sender.SendMessage(ctx, chatID, "Usage: /interval <feed id> <minutes: 5, 15, 30, or 60>", false)
		return err
	}

	id, err := parseID(fields[0])
	if err != nil {
		_, serr := h.sender.SendMessage(ctx, chatID, "Usage: /interval <feed id> <minutes: 5, 15, 30, or 60>", false)
		return serr
	}
	mins, err := strconv.Atoi(fields[1])
	if err != nil {
		_, serr := h.sender.SendMessage(ctx, chatID, "Interval must be a number of minutes (5, 15, 30, or 60).", false)
		return serr
	}

	if err := h.feeds.SetInterval(ctx, id, mins); err != nil {
		return h.sendCommandError(ctx, chatID, err)
	}
	_, err = h.sender.SendMessage(ctx, chatID, fmt.Sprintf("✅ Feed #%d now polls every %d minutes.", id, mins), false)
	return err
}

// HandleEnable handles the /enable and /disable commands.
func (h *CommandHandler) HandleEnable(ctx context.Context, chatID int64, args string, enabled bool) error {
	usage := "/enable <feed id>"
	if !enabled {
		usage = "/disable <feed id>"
	}

	id, err := parseID(args)
	if err != nil {
		_, serr := h.sender.SendMessage(ctx, chatID, "Usage: "+usage, false)
		return serr
	}

	if err := h.feeds.SetEnabled(ctx, id, enabled); err != nil {
		return h.sendCommandError(ctx, chatID, err)
	}

	msg := fmt.Sprintf("▶️ Feed #%d resumed.", id)
	if !enabled {
		msg = fmt.Sprintf("⏸ Feed #%d paused.", id)
	}
	_, err = h.sender.SendMessage(ctx, chatID, msg, false)
	return err
}

// sendCommandError reports an operation failure back to the user with a
// friendly message for the known cases.
func (h *CommandHandler) sendCommandError(ctx context.Context, chatID int64, opErr error) error {
	var msg string
	switch {
	case errors.Is(opErr, storage.ErrDuplicateURL):
		msg = "That feed URL is already registered."
	case errors.Is(opErr, storage.ErrNotFound):
		msg = "No feed with that id. See /feeds for the list."
	case errors.Is(opErr, scheduler.ErrBadInterval):
		msg = "Unsupported interval. Use 5, 15, 30, or 60 minutes."
	default:
		msg = fmt.Sprintf("⚠️ Operation failed: %v", opErr)
	}

	_, err := h.sender.SendMessage(ctx, chatID, msg, false)
	return err
}

func parseID(s string) (int64, error) {
	s = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(s), "#"))
	return strconv.ParseInt(s, 10, 64)
}
