package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/user/boardsticker/internal/pipeline"
)

var createUserID int64

func init() {
	createCmd.Flags().Int64Var(&createUserID, "user", 0, "Telegram user ID that will own the set (required)")
	_ = createCmd.MarkFlagRequired("user")
	rootCmd.AddCommand(createCmd)
}

var createCmd = &cobra.Command{
	Use:   "create <board-url>",
	Short: "Build one sticker set from a board and exit",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		setupLogging(cfg)

		a, err := newApp(cfg)
		if err != nil {
			return err
		}
		defer a.Close()

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		out := cmd.OutOrStdout()
		res, err := a.pipeline.Run(ctx, pipeline.Request{
			UserID:   createUserID,
			BoardURL: args[0],
			Reporter: &lineReporter{w: out},
		})
		if err != nil {
			switch {
			case errors.Is(err, pipeline.ErrTooManyImages):
				return fmt.Errorf("too many images, limit is %d", cfg.Stickers.MaxImages)
			case errors.Is(err, pipeline.ErrEmptyBoard):
				return fmt.Errorf("board has no images")
			}
			return fmt.Errorf("create sticker set: %w", err)
		}

		fmt.Fprintf(out, "%s (%d stickers", res.Name, res.Stickers)
		if res.Skipped > 0 {
			fmt.Fprintf(out, ", %d skipped", res.Skipped)
		}
		fmt.Fprintf(out, ")\n%s\n", res.URL)
		return nil
	},
}

// lineReporter prints each distinct status update on its own line.
type lineReporter struct {
	mu   sync.Mutex
	w    io.Writer
	last string
}

func (r *lineReporter) Report(_ context.Context, text string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if text == r.last {
		return nil
	}
	r.last = text
	_, err := fmt.Fprintln(r.w, text)
	return err
}
