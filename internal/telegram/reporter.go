package telegram

import (
	"context"
	"errors"
	"strings"
	"sync"
)

// messenger is the part of Client a Reporter needs.
type messenger interface {
	SendText(ctx context.Context, chatID int64, text string) (int, error)
	EditText(ctx context.Context, chatID int64, messageID int, text string) error
}

// Reporter keeps one status message per chat up to date. The first report
// sends a message; later ones edit it in place.
type Reporter struct {
	m      messenger
	chatID int64

	mu        sync.Mutex
	messageID int
	last      string
}

// NewReporter returns a Reporter that writes to chatID.
func NewReporter(m messenger, chatID int64) *Reporter {
	return &Reporter{m: m, chatID: chatID}
}

// Report replaces the status text. Repeating the current text is a no-op.
func (r *Reporter) Report(ctx context.Context, text string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if text == r.last && r.messageID != 0 {
		return nil
	}
	if r.messageID == 0 {
		id, err := r.m.SendText(ctx, r.chatID, text)
		if err != nil {
			return err
		}
		r.messageID = id
		r.last = text
		return nil
	}

	if err := r.m.EditText(ctx, r.chatID, r.messageID, text); err != nil && !notModified(err) {
		return err
	}
	r.last = text
	return nil
}

// MessageID is the id of the status message, or 0 before the first report.
func (r *Reporter) MessageID() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.messageID
}

func notModified(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && strings.Contains(apiErr.Description, "message is not modified")
}
