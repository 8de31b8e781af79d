// internal/types/ids.go
package types

import (
	"strings"

	"github.com/google/uuid"
)

type RunID string
type LaneKey string

func NewRunID() RunID {
	return RunID(uuid.New().String())
}

// NewLaneKey joins parts into a lane key, e.g. "board:alice:cats".
func NewLaneKey(parts ...string) LaneKey {
	return LaneKey(strings.Join(parts, ":"))
}
