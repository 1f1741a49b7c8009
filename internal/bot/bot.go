// Package bot routes chat updates to the command handlers and the streaming
// relay.
package bot

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/charmbracelet/log"

	cmdpkg "github.com/stupiduntilnot/chatrelay/internal/commander"
	ctxpkg "github.com/stupiduntilnot/chatrelay/internal/context"
	"github.com/stupiduntilnot/chatrelay/internal/db"
	"github.com/stupiduntilnot/chatrelay/internal/history"
	"github.com/stupiduntilnot/chatrelay/internal/logging"
	"github.com/stupiduntilnot/chatrelay/internal/relay"
	"github.com/stupiduntilnot/chatrelay/internal/users"
)

const (
	WelcomeText = "🤖 Привет! Я бот с искусственным интеллектом на базе DeepSeek.\n" +
		"Просто напиши мне сообщение, и я постараюсь помочь!\n\n" +
		"ℹ️ Используйте /clear чтобы очистить историю диалога\n" +
		"🔍 Используйте /history чтобы посмотреть историю"
	ClearedText        = "🔄 История диалога очищена"
	EmptyHistoryText   = "История диалога пуста"
	HistoryHeader      = "📝 Последние сообщения:"
	FailureNotice      = "🚫 Произошла ошибка при обработке запроса"
	historyLoadWindow  = 10
	historyShowEntries = 5
)

// Bot holds everything a handler needs. All fields except DB,
// ParentEventID and Logger are required.
type Bot struct {
	Commander    cmdpkg.Commander
	Users        *users.Registry
	History      history.Store
	Builder      *ctxpkg.Builder
	Relay        *relay.Relay
	SystemPrompt string
	Logger       *log.Logger

	DB            *sql.DB
	ParentEventID *int64

	locks userLocks
}

// HandleUpdate dispatches one update. Updates without a sender or text are
// ignored. Handlers for the same user never run concurrently.
func (b *Bot) HandleUpdate(ctx context.Context, u cmdpkg.Update) {
	m := u.Message
	if m == nil || m.Text == nil || m.From == nil {
		return
	}
	text := *m.Text
	if strings.TrimSpace(text) == "" {
		return
	}

	unlock := b.locks.lock(m.From.ID)
	defer unlock()

	logger := b.logger().With("update_id", u.UpdateID, "external_id", m.From.ID)
	user, err := b.ensureUser(ctx, m.From)
	if err != nil {
		b.fail(ctx, logger, m.Chat.ID, "ensure user", err)
		return
	}
	logger = logger.With("user_id", user.ID)

	switch command(text) {
	case "/start":
		err = b.HandleStart(ctx, m.Chat.ID)
	case "/clear":
		err = b.HandleClear(ctx, m.Chat.ID, user.ID)
	case "/history":
		err = b.HandleHistory(ctx, m.Chat.ID, user.ID)
	default:
		err = b.HandleText(ctx, m.Chat.ID, user.ID, text, logger)
	}
	if err != nil {
		b.fail(ctx, logger, m.Chat.ID, "handle message", err)
	}
}

// HandleStart greets the user.
func (b *Bot) HandleStart(ctx context.Context, chatID int64) error {
	_, err := b.Commander.SendMessage(ctx, chatID, WelcomeText)
	return err
}

// HandleClear deletes the user's stored conversation. Clearing an empty history
// is fine.
func (b *Bot) HandleClear(ctx context.Context, chatID, userID int64) error {
	removed, err := b.History.Clear(ctx, userID)
	if err != nil {
		return err
	}
	b.event(db.EventHistoryCleared, map[string]any{
		"user_id": userID,
		"removed": removed,
	})
	_, err = b.Commander.SendMessage(ctx, chatID, ClearedText)
	return err
}

// HandleHistory shows the most recent entries of the stored conversation.
func (b *Bot) HandleHistory(ctx context.Context, chatID, userID int64) error {
	stored, err := b.History.LoadOrdered(ctx, userID)
	if err != nil {
		return err
	}
	_, err = b.Commander.SendMessage(ctx, chatID, FormatHistory(ctxpkg.FromHistory(stored)))
	return err
}

// HandleText stores the user's turn, assembles the context and streams the reply.
func (b *Bot) HandleText(ctx context.Context, chatID, userID int64, text string, logger *log.Logger) error {
	if err := b.History.Append(ctx, userID, history.RoleUser, text); err != nil {
		return err
	}
	view, stats, err := b.Builder.BuildContextStats(ctx, userID, b.SystemPrompt)
	if err != nil {
		return err
	}
	logger.Debug("context assembled", "stored", stats.StoredCount, "view", stats.ViewCount, "ensured_system", stats.EnsuredSystem)
	b.event(db.EventContextAssembled, map[string]any{
		"user_id":        userID,
		"stored_count":   stats.StoredCount,
		"view_count":     stats.ViewCount,
		"ensured_system": stats.EnsuredSystem,
	})
	return b.Relay.StreamReply(ctx, userID, view, &chatSink{commander: b.Commander, chatID: chatID})
}

// FormatHistory renders a view for /history: fewer than two entries count as
// empty, otherwise the last five of the last ten entries are shown.
func FormatHistory(view []ctxpkg.Message) string {
	if len(view) < 2 {
		return EmptyHistoryText
	}
	if len(view) > historyLoadWindow {
		view = view[len(view)-historyLoadWindow:]
	}
	if len(view) > historyShowEntries {
		view = view[len(view)-historyShowEntries:]
	}
	parts := make([]string, 0, len(view))
	for _, m := range view {
		parts = append(parts, fmt.Sprintf("%s: %s", roleTag(m.Role), m.Content))
	}
	return HistoryHeader + "\n\n" + strings.Join(parts, "\n\n")
}

func roleTag(role string) string {
	switch history.Role(role) {
	case history.RoleUser:
		return "👤 Вы"
	case history.RoleSystem:
		return "⚙️ Система"
	default:
		return "🤖 Бот"
	}
}

// command returns the bot command in text with any @BotName suffix removed,
// or "" when text is not a command.
func command(text string) string {
	if !strings.HasPrefix(text, "/") {
		return ""
	}
	name, _, _ := strings.Cut(strings.Fields(text)[0], "@")
	return name
}

func (b *Bot) ensureUser(ctx context.Context, from *cmdpkg.User) (users.User, error) {
	user, created, err := b.Users.EnsureUser(ctx, from.ID, users.Profile{
		Username:  from.Username,
		FirstName: from.FirstName,
		LastName:  from.LastName,
	})
	if err != nil {
		return users.User{}, err
	}
	if created {
		b.logger().Info("user created", "user_id", user.ID, "external_id", from.ID)
		b.event(db.EventUserCreated, map[string]any{
			"user_id":     user.ID,
			"external_id": from.ID,
		})
	}
	return user, nil
}

func (b *Bot) fail(ctx context.Context, logger *log.Logger, chatID int64, what string, err error) {
	logger.Error(what+" failed", "err", logging.Scrub(err.Error()))
	if _, sendErr := b.Commander.SendMessage(ctx, chatID, FailureNotice); sendErr != nil {
		logger.Error("failure notice not delivered", "err", logging.Scrub(sendErr.Error()))
	}
}

func (b *Bot) event(eventType string, payload map[string]any) {
	if b.DB == nil {
		return
	}
	if _, err := db.LogEvent(b.DB, b.ParentEventID, eventType, payload); err != nil {
		b.logger().Debug("event write failed", "type", eventType, "err", err)
	}
}

func (b *Bot) logger() *log.Logger {
	if b.Logger != nil {
		return b.Logger
	}
	return log.Default()
}

// chatSink streams a reply into one chat through the commander.
type chatSink struct {
	commander cmdpkg.Commander
	chatID    int64
}

func (s *chatSink) EmitNew(ctx context.Context, text string) (relay.Handle, error) {
	id, err := s.commander.SendMessage(ctx, s.chatID, text)
	return relay.Handle(id), err
}

func (s *chatSink) EmitUpdate(ctx context.Context, h relay.Handle, text string) error {
	return s.commander.EditMessageText(ctx, s.chatID, int64(h), text)
}
