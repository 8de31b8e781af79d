package telegram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/user/boardsticker/internal/types"
)

// stickerFormat is the only format this bot produces.
const stickerFormat = "static"

// APIError is a failed Bot API call.
type APIError struct {
	Method      string
	Code        int
	Description string
	Wait        time.Duration
	err         error
}

func (e *APIError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("telegram %s: %d %s", e.Method, e.Code, e.Description)
	}
	return fmt.Sprintf("telegram %s: %s", e.Method, e.Description)
}

func (e *APIError) Unwrap() error { return e.err }

// RetryAfter returns the flood-control wait requested by the server.
func (e *APIError) RetryAfter() time.Duration { return e.Wait }

// NotFound reports whether the server rejected the sticker set name as
// unknown.
func (e *APIError) NotFound() bool {
	return strings.Contains(e.Description, "STICKERSET_INVALID") ||
		strings.Contains(strings.ToLower(e.Description), "not found")
}

// ClientOption configures a Client.
type ClientOption func(*clientOptions)

type clientOptions struct {
	endpoint string
	client   tgbotapi.HTTPClient
}

// WithAPIEndpoint overrides the Bot API URL pattern ("https://host/bot%s/%s").
func WithAPIEndpoint(endpoint string) ClientOption {
	return func(o *clientOptions) { o.endpoint = endpoint }
}

// WithHTTPClient replaces the HTTP client used for Bot API calls.
func WithHTTPClient(c tgbotapi.HTTPClient) ClientOption {
	return func(o *clientOptions) { o.client = c }
}

// Client wraps the Bot API calls this bot needs: sticker file staging, set
// creation and editing, and plain text messages.
type Client struct {
	bot *tgbotapi.BotAPI
}

// NewClient authenticates with token (getMe) and returns a ready client.
func NewClient(token string, opts ...ClientOption) (*Client, error) {
	o := clientOptions{
		endpoint: tgbotapi.APIEndpoint,
		client:   &http.Client{Timeout: 60 * time.Second},
	}
	for _, opt := range opts {
		opt(&o)
	}
	bot, err := tgbotapi.NewBotAPIWithClient(token, o.endpoint, o.client)
	if err != nil {
		return nil, fmt.Errorf("create bot: %w", wrapErr("getMe", err))
	}
	return &Client{bot: bot}, nil
}

// BotName is the bot's username, used as the mandatory set name suffix.
func (c *Client) BotName() string {
	return c.bot.Self.UserName
}

// API exposes the underlying bot for update polling.
func (c *Client) API() *tgbotapi.BotAPI {
	return c.bot
}

// UploadStickerFile stages a static sticker and returns its file id.
func (c *Client) UploadStickerFile(ctx context.Context, userID int64, filename string, data []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	params := tgbotapi.Params{}
	params.AddNonZero64("user_id", userID)
	params.AddNonEmpty("sticker_format", stickerFormat)

	resp, err := c.bot.UploadFiles("uploadStickerFile", params, []tgbotapi.RequestFile{{
		Name: "sticker",
		Data: tgbotapi.FileBytes{Name: filename, Bytes: data},
	}})
	if err != nil {
		return "", wrapErr("uploadStickerFile", err)
	}

	var file tgbotapi.File
	if err := json.Unmarshal(resp.Result, &file); err != nil {
		return "", fmt.Errorf("decode uploaded file: %w", err)
	}
	return file.FileID, nil
}

// inputSticker is the InputSticker object of the Bot API.
type inputSticker struct {
	Sticker   string   `json:"sticker"`
	Format    string   `json:"format"`
	EmojiList []string `json:"emoji_list"`
}

func toInput(st types.Sticker) inputSticker {
	return inputSticker{Sticker: st.FileID, Format: stickerFormat, EmojiList: st.EmojiList}
}

// CreateStickerSet creates a regular static set with its initial stickers.
func (c *Client) CreateStickerSet(ctx context.Context, userID int64, name, title string, stickers []types.Sticker) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	inputs := make([]inputSticker, len(stickers))
	for i, st := range stickers {
		inputs[i] = toInput(st)
	}

	params := tgbotapi.Params{}
	params.AddNonZero64("user_id", userID)
	params.AddNonEmpty("name", name)
	params.AddNonEmpty("title", title)
	params.AddNonEmpty("sticker_type", "regular")
	if err := params.AddInterface("stickers", inputs); err != nil {
		return fmt.Errorf("encode stickers: %w", err)
	}

	if _, err := c.bot.MakeRequest("createNewStickerSet", params); err != nil {
		return wrapErr("createNewStickerSet", err)
	}
	return nil
}

// AddStickerToSet appends one sticker to an existing set.
func (c *Client) AddStickerToSet(ctx context.Context, userID int64, name string, sticker types.Sticker) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	params := tgbotapi.Params{}
	params.AddNonZero64("user_id", userID)
	params.AddNonEmpty("name", name)
	if err := params.AddInterface("sticker", toInput(sticker)); err != nil {
		return fmt.Errorf("encode sticker: %w", err)
	}

	if _, err := c.bot.MakeRequest("addStickerToSet", params); err != nil {
		return wrapErr("addStickerToSet", err)
	}
	return nil
}

// DeleteStickerSet removes a set created by this bot.
func (c *Client) DeleteStickerSet(ctx context.Context, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	params := tgbotapi.Params{}
	params.AddNonEmpty("name", name)
	if _, err := c.bot.MakeRequest("deleteStickerSet", params); err != nil {
		return wrapErr("deleteStickerSet", err)
	}
	return nil
}

// StickerSetExists reports whether name is taken. An unknown set is not an
// error.
func (c *Client) StickerSetExists(ctx context.Context, name string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	params := tgbotapi.Params{}
	params.AddNonEmpty("name", name)
	if _, err := c.bot.MakeRequest("getStickerSet", params); err != nil {
		wrapped := wrapErr("getStickerSet", err)
		var apiErr *APIError
		if errors.As(wrapped, &apiErr) && apiErr.NotFound() {
			return false, nil
		}
		return false, wrapped
	}
	return true, nil
}

// SendText sends a plain message and returns its id.
func (c *Client) SendText(ctx context.Context, chatID int64, text string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	msg, err := c.bot.Send(tgbotapi.NewMessage(chatID, text))
	if err != nil {
		return 0, wrapErr("sendMessage", err)
	}
	return msg.MessageID, nil
}

// EditText replaces the text of a message sent earlier.
func (c *Client) EditText(ctx context.Context, chatID int64, messageID int, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := c.bot.Request(tgbotapi.NewEditMessageText(chatID, messageID, text)); err != nil {
		return wrapErr("editMessageText", err)
	}
	return nil
}

// RegisterCommands publishes the command menu shown by chat clients.
func (c *Client) RegisterCommands(ctx context.Context, commands []Command) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	list := make([]tgbotapi.BotCommand, len(commands))
	for i, cmd := range commands {
		list[i] = tgbotapi.BotCommand{Command: cmd.Name, Description: cmd.Description}
	}
	if _, err := c.bot.Request(tgbotapi.NewSetMyCommands(list...)); err != nil {
		return wrapErr("setMyCommands", err)
	}
	return nil
}

// wrapErr converts Bot API failures into *APIError. Transport errors pass
// through unchanged.
func wrapErr(method string, err error) error {
	var tgErr *tgbotapi.Error
	if !errors.As(err, &tgErr) {
		return fmt.Errorf("telegram %s: %w", method, err)
	}
	return &APIError{
		Method:      method,
		Code:        tgErr.Code,
		Description: tgErr.Message,
		Wait:        time.Duration(tgErr.RetryAfter) * time.Second,
		err:         err,
	}
}
