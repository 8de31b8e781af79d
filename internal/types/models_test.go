// internal/types/models_test.go
package types

import (
	"testing"
)

func TestSetURL(t *testing.T) {
	got := SetURL("cats_1700000000000_by_bot")
	want := "https://t.me/addstickers/cats_1700000000000_by_bot"
	if got != want {
		t.Errorf("expected %s, got %s", want, got)
	}
}
