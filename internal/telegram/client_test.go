package telegram

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/user/boardsticker/internal/types"
)

// botCall is one request received by the fake Bot API.
type botCall struct {
	Method   string
	Form     map[string]string
	FileName string
	FileData []byte
}

// fakeBotAPI serves just enough of the Bot API for Client.
type fakeBotAPI struct {
	t   *testing.T
	srv *httptest.Server

	mu      sync.Mutex
	calls   []botCall
	replies map[string]string
}

func newFakeBotAPI(t *testing.T) *fakeBotAPI {
	t.Helper()
	f := &fakeBotAPI{t: t, replies: map[string]string{
		"getMe": `{"ok":true,"result":{"id":42,"is_bot":true,"first_name":"Boards","username":"boards_bot"}}`,
	}}
	f.srv = httptest.NewServer(http.HandlerFunc(f.serve))
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeBotAPI) reply(method, body string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.replies[method] = body
}

func (f *fakeBotAPI) serve(w http.ResponseWriter, r *http.Request) {
	parts := strings.Split(r.URL.Path, "/")
	method := parts[len(parts)-1]

	call := botCall{Method: method, Form: map[string]string{}}
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			f.t.Errorf("parse multipart: %v", err)
		}
		for k, v := range r.MultipartForm.Value {
			call.Form[k] = v[0]
		}
		if fh, ok := r.MultipartForm.File["sticker"]; ok {
			call.FileName = fh[0].Filename
			file, err := fh[0].Open()
			if err == nil {
				call.FileData, _ = io.ReadAll(file)
				file.Close()
			}
		}
	} else {
		_ = r.ParseForm()
		for k, v := range r.PostForm {
			call.Form[k] = v[0]
		}
	}

	f.mu.Lock()
	f.calls = append(f.calls, call)
	body, ok := f.replies[method]
	f.mu.Unlock()

	if !ok {
		body = `{"ok":true,"result":true}`
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = io.WriteString(w, body)
}

func (f *fakeBotAPI) callsTo(method string) []botCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []botCall
	for _, c := range f.calls {
		if c.Method == method {
			out = append(out, c)
		}
	}
	return out
}

func (f *fakeBotAPI) client(t *testing.T) *Client {
	t.Helper()
	c, err := NewClient("TOKEN", WithAPIEndpoint(f.srv.URL+"/bot%s/%s"), WithHTTPClient(f.srv.Client()))
	require.NoError(t, err)
	return c
}

func TestNewClientReadsBotName(t *testing.T) {
	f := newFakeBotAPI(t)
	c := f.client(t)
	assert.Equal(t, "boards_bot", c.BotName())
	assert.Len(t, f.callsTo("getMe"), 1)
}

func TestNewClientRejectedToken(t *testing.T) {
	f := newFakeBotAPI(t)
	f.reply("getMe", `{"ok":false,"error_code":401,"description":"Unauthorized"}`)

	_, err := NewClient("BAD", WithAPIEndpoint(f.srv.URL+"/bot%s/%s"), WithHTTPClient(f.srv.Client()))
	require.Error(t, err)

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, 401, apiErr.Code)
	assert.Equal(t, "getMe", apiErr.Method)
}

func TestUploadStickerFile(t *testing.T) {
	f := newFakeBotAPI(t)
	f.reply("uploadStickerFile", `{"ok":true,"result":{"file_id":"FILE-1","file_unique_id":"u1","file_size":3}}`)
	c := f.client(t)

	id, err := c.UploadStickerFile(context.Background(), 7, "cat.png", []byte{1, 2, 3})
	require.NoError(t, err)
	assert.Equal(t, "FILE-1", id)

	calls := f.callsTo("uploadStickerFile")
	require.Len(t, calls, 1)
	assert.Equal(t, "7", calls[0].Form["user_id"])
	assert.Equal(t, "static", calls[0].Form["sticker_format"])
	assert.Equal(t, "cat.png", calls[0].FileName)
	assert.Equal(t, []byte{1, 2, 3}, calls[0].FileData)
}

func TestCreateStickerSetSendsInputStickers(t *testing.T) {
	f := newFakeBotAPI(t)
	c := f.client(t)

	stickers := []types.Sticker{
		{FileID: "A", EmojiList: []string{"😀"}},
		{FileID: "B", EmojiList: []string{"🐱", "🌙"}},
	}
	require.NoError(t, c.CreateStickerSet(context.Background(), 7, "cats_by_boards_bot", "cats", stickers))

	calls := f.callsTo("createNewStickerSet")
	require.Len(t, calls, 1)
	form := calls[0].Form
	assert.Equal(t, "7", form["user_id"])
	assert.Equal(t, "cats_by_boards_bot", form["name"])
	assert.Equal(t, "cats", form["title"])
	assert.Equal(t, "regular", form["sticker_type"])

	var sent []inputSticker
	require.NoError(t, json.Unmarshal([]byte(form["stickers"]), &sent))
	require.Len(t, sent, 2)
	assert.Equal(t, inputSticker{Sticker: "B", Format: "static", EmojiList: []string{"🐱", "🌙"}}, sent[1])
}

func TestAddStickerToSet(t *testing.T) {
	f := newFakeBotAPI(t)
	c := f.client(t)

	st := types.Sticker{FileID: "C", EmojiList: []string{"🔥"}}
	require.NoError(t, c.AddStickerToSet(context.Background(), 7, "cats_by_boards_bot", st))

	calls := f.callsTo("addStickerToSet")
	require.Len(t, calls, 1)
	var sent inputSticker
	require.NoError(t, json.Unmarshal([]byte(calls[0].Form["sticker"]), &sent))
	assert.Equal(t, "C", sent.Sticker)
	assert.Equal(t, "static", sent.Format)
}

func TestAddStickerToSetFloodWait(t *testing.T) {
	f := newFakeBotAPI(t)
	f.reply("addStickerToSet", `{"ok":false,"error_code":429,"description":"Too Many Requests: retry after 3","parameters":{"retry_after":3}}`)
	c := f.client(t)

	err := c.AddStickerToSet(context.Background(), 7, "cats_by_boards_bot", types.Sticker{FileID: "C"})
	require.Error(t, err)

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, 429, apiErr.Code)
	assert.Equal(t, 3*time.Second, apiErr.RetryAfter())
}

func TestDeleteStickerSet(t *testing.T) {
	f := newFakeBotAPI(t)
	c := f.client(t)

	require.NoError(t, c.DeleteStickerSet(context.Background(), "cats_by_boards_bot"))
	calls := f.callsTo("deleteStickerSet")
	require.Len(t, calls, 1)
	assert.Equal(t, "cats_by_boards_bot", calls[0].Form["name"])
}

func TestStickerSetExists(t *testing.T) {
	f := newFakeBotAPI(t)
	c := f.client(t)

	f.reply("getStickerSet", `{"ok":true,"result":{"name":"cats_by_boards_bot","title":"cats","stickers":[]}}`)
	ok, err := c.StickerSetExists(context.Background(), "cats_by_boards_bot")
	require.NoError(t, err)
	assert.True(t, ok)

	f.reply("getStickerSet", `{"ok":false,"error_code":400,"description":"Bad Request: STICKERSET_INVALID"}`)
	ok, err = c.StickerSetExists(context.Background(), "dogs_by_boards_bot")
	require.NoError(t, err)
	assert.False(t, ok)

	f.reply("getStickerSet", `{"ok":false,"error_code":500,"description":"Internal Server Error"}`)
	_, err = c.StickerSetExists(context.Background(), "dogs_by_boards_bot")
	require.Error(t, err)
}

func TestSendAndEditText(t *testing.T) {
	f := newFakeBotAPI(t)
	f.reply("sendMessage", `{"ok":true,"result":{"message_id":55,"date":0,"chat":{"id":9,"type":"private"}}}`)
	c := f.client(t)

	id, err := c.SendText(context.Background(), 9, "hello")
	require.NoError(t, err)
	assert.Equal(t, 55, id)

	require.NoError(t, c.EditText(context.Background(), 9, 55, "hello again"))
	edits := f.callsTo("editMessageText")
	require.Len(t, edits, 1)
	assert.Equal(t, "55", edits[0].Form["message_id"])
	assert.Equal(t, "hello again", edits[0].Form["text"])
}

func TestRegisterCommands(t *testing.T) {
	f := newFakeBotAPI(t)
	c := f.client(t)

	require.NoError(t, c.RegisterCommands(context.Background(), Commands))
	calls := f.callsTo("setMyCommands")
	require.Len(t, calls, 1)
	assert.Contains(t, calls[0].Form["commands"], "createset")
}

func TestClientHonoursCancelledContext(t *testing.T) {
	f := newFakeBotAPI(t)
	c := f.client(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := c.DeleteStickerSet(ctx, "cats_by_boards_bot")
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, f.callsTo("deleteStickerSet"))
}
