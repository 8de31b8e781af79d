package telegram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/user/boardsticker/internal/apperr"
	"github.com/user/boardsticker/internal/gateway"
	"github.com/user/boardsticker/internal/pipeline"
	"github.com/user/boardsticker/internal/types"
)

const (
	maxTelegramMessage = 4096
	recentSets         = 10
)

// Command is one entry of the bot's command menu.
type Command struct {
	Name        string
	Description string
}

// Commands lists what the bot understands, in menu order.
var Commands = []Command{
	{Name: "help", Description: "Display help message"},
	{Name: "createset", Description: "Create sticker set from Pinterest board URL"},
	{Name: "sets", Description: "List your recently created sticker sets"},
}

// Submitter queues a pipeline request.
type Submitter interface {
	Submit(ctx context.Context, req pipeline.Request, opts ...gateway.RunOption) (*gateway.Run, error)
}

// Adapter bridges Telegram chats to the gateway.
type Adapter struct {
	bot       *tgbotapi.BotAPI
	msgr      messenger
	gateway   Submitter
	sets      types.SetStore
	maxImages int
}

// New creates a Telegram adapter. sets may be nil, which disables /sets.
func New(client *Client, gw Submitter, sets types.SetStore, maxImages int) *Adapter {
	a := newAdapter(client, gw, sets, maxImages)
	a.bot = client.API()
	return a
}

func newAdapter(m messenger, gw Submitter, sets types.SetStore, maxImages int) *Adapter {
	if maxImages <= 0 {
		maxImages = pipeline.DefaultMaxImages
	}
	return &Adapter{msgr: m, gateway: gw, sets: sets, maxImages: maxImages}
}

// Start begins long-polling for Telegram updates. It returns when ctx is
// cancelled.
func (a *Adapter) Start(ctx context.Context) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30

	updates := a.bot.GetUpdatesChan(u)

	for {
		select {
		case update := <-updates:
			if update.Message == nil || update.Message.Text == "" {
				continue
			}
			a.handleMessage(ctx, update.Message)
		case <-ctx.Done():
			a.bot.StopReceivingUpdates()
			return
		}
	}
}

func (a *Adapter) handleMessage(ctx context.Context, msg *tgbotapi.Message) {
	if !msg.IsCommand() {
		a.sendResponse(ctx, msg.Chat.ID, helpText())
		return
	}

	var userID int64
	if msg.From != nil {
		userID = msg.From.ID
	}
	a.handleCommand(ctx, msg.Chat.ID, userID, msg.Command(), strings.TrimSpace(msg.CommandArguments()))
}

func (a *Adapter) handleCommand(ctx context.Context, chatID, userID int64, command, args string) {
	switch command {
	case "start", "help":
		a.sendResponse(ctx, chatID, helpText())
	case "createset":
		a.createSet(ctx, chatID, userID, args)
	case "sets":
		a.listSets(ctx, chatID, userID)
	default:
		a.sendResponse(ctx, chatID, "Unknown command.\n\n"+helpText())
	}
}

func (a *Adapter) createSet(ctx context.Context, chatID, userID int64, boardURL string) {
	if boardURL == "" {
		a.sendResponse(ctx, chatID, "Usage: /createset <board-url>")
		return
	}

	req := pipeline.Request{
		UserID:   userID,
		BoardURL: boardURL,
		Reporter: NewReporter(a.msgr, chatID),
	}
	run, err := a.gateway.Submit(ctx, req, gateway.WithOnComplete(func(_ *pipeline.Result, err error) {
		if err != nil {
			a.sendResponse(context.Background(), chatID, a.failureText(err))
		}
	}))
	if err != nil {
		slog.Error("failed to submit sticker set run", "user_id", userID, "board_url", boardURL, "error", err)
		a.sendResponse(ctx, chatID, "Failed to create sticker set")
		return
	}
	slog.Info("sticker set requested", "run_id", run.ID, "user_id", userID, "board_url", boardURL)
}

// failureText turns a run error into the single line shown to the user.
// Success needs no message; the run's reporter already announced the set.
func (a *Adapter) failureText(err error) string {
	slog.Error("sticker set run failed", "kind", apperr.KindOf(err), "error", err)
	switch {
	case errors.Is(err, pipeline.ErrTooManyImages):
		return fmt.Sprintf("Too many images! Please limit to %d or fewer.", a.maxImages)
	case errors.Is(err, pipeline.ErrEmptyBoard):
		return "That board has no images."
	default:
		return "Failed to create sticker set"
	}
}

func (a *Adapter) listSets(ctx context.Context, chatID, userID int64) {
	if a.sets == nil {
		a.sendResponse(ctx, chatID, "Set history is not available.")
		return
	}
	recs, err := a.sets.ListByUser(ctx, userID, recentSets)
	if err != nil {
		slog.Error("failed to list sticker sets", "user_id", userID, "error", err)
		a.sendResponse(ctx, chatID, "Error fetching your sticker sets.")
		return
	}
	if len(recs) == 0 {
		a.sendResponse(ctx, chatID, "You have not created any sticker sets yet.")
		return
	}

	var b strings.Builder
	b.WriteString("Your sticker sets:\n")
	for _, rec := range recs {
		fmt.Fprintf(&b, "\n%s (%d stickers", rec.Name, rec.Stickers)
		if rec.Status != types.SetStatusComplete {
			fmt.Fprintf(&b, ", %s", rec.Status)
		}
		b.WriteString(")")
		if rec.Status != types.SetStatusDeleted {
			b.WriteString("\n" + types.SetURL(rec.Name))
		}
	}
	a.sendResponse(ctx, chatID, b.String())
}

func (a *Adapter) sendResponse(ctx context.Context, chatID int64, text string) {
	for _, part := range splitMessage(text) {
		if _, err := a.msgr.SendText(ctx, chatID, part); err != nil {
			slog.Error("send message error", "chat_id", chatID, "error", err)
			return
		}
	}
}

func helpText() string {
	var b strings.Builder
	b.WriteString("These commands are available:")
	for _, cmd := range Commands {
		fmt.Fprintf(&b, "\n/%s - %s", cmd.Name, cmd.Description)
	}
	return b.String()
}

func splitMessage(text string) []string {
	if len(text) <= maxTelegramMessage {
		return []string{text}
	}
	var parts []string
	for len(text) > 0 {
		end := maxTelegramMessage
		if end > len(text) {
			end = len(text)
		}
		parts = append(parts, text[:end])
		text = text[end:]
	}
	return parts
}
