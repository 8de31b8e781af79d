// internal/types/models.go
package types

import (
	"time"
)

// Board identifies a remote image board.
type Board struct {
	URL     string `json:"url"`
	Owner   string `json:"owner"`
	Name    string `json:"name"`
	Section string `json:"section,omitempty"`
}

// ImageAsset is a downloaded source image. It is never modified.
type ImageAsset struct {
	Path string `json:"path"`
	Size int64  `json:"size"`
}

// Sticker is an uploaded image ready to be placed in a set.
type Sticker struct {
	FileID    string   `json:"file_id"`
	EmojiList []string `json:"emoji_list"`
	Source    string   `json:"source,omitempty"`
}

// SetStatus describes what is left on the platform after a run.
type SetStatus string

const (
	SetStatusComplete SetStatus = "complete"
	SetStatusPartial  SetStatus = "partial"
	SetStatusDeleted  SetStatus = "deleted"
)

// SetRecord is the history entry for one created sticker set.
type SetRecord struct {
	Name      string    `json:"name"`
	Title     string    `json:"title"`
	Owner     string    `json:"owner"`
	Board     string    `json:"board"`
	UserID    int64     `json:"user_id"`
	Stickers  int       `json:"stickers"`
	Skipped   int       `json:"skipped"`
	Status    SetStatus `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

// SetURL returns the public address of a sticker set.
func SetURL(name string) string {
	return "https://t.me/addstickers/" + name
}

// RunEvent is one entry in a run's append-only event log.
type RunEvent struct {
	RunID     RunID     `json:"run_id"`
	Seq       int64     `json:"seq"`
	Type      string    `json:"type"`
	Phase     string    `json:"phase,omitempty"`
	Processed int       `json:"processed,omitempty"`
	Total     int       `json:"total,omitempty"`
	Message   string    `json:"message,omitempty"`
	At        time.Time `json:"at"`
}
