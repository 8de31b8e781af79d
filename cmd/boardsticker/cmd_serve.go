package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/user/boardsticker/internal/gateway"
	"github.com/user/boardsticker/internal/pipeline"
	"github.com/user/boardsticker/internal/scheduler"
	"github.com/user/boardsticker/internal/state"
	"github.com/user/boardsticker/internal/telegram"
	"github.com/user/boardsticker/internal/webhook"
)

const pidFileName = "boardsticker.pid"

func init() {
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the boardsticker daemon",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func writePIDFile(dataDir string) (string, error) {
	pidPath := filepath.Join(dataDir, pidFileName)
	pid := os.Getpid()
	if err := os.WriteFile(pidPath, []byte(strconv.Itoa(pid)+"\n"), 0644); err != nil {
		return "", fmt.Errorf("write PID file: %w", err)
	}
	return pidPath, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg := loadConfig()
	setupLogging(cfg)

	events := state.NewEventStore(cfg.DataDir)
	gw := gateway.New(events, int64(cfg.MaxConcurrent))

	a, err := newApp(cfg, pipeline.WithObserver(gw.Observe))
	if err != nil {
		return err
	}
	defer a.Close()
	gw.SetRunner(a.pipeline)

	pidPath, err := writePIDFile(cfg.DataDir)
	if err != nil {
		return err
	}
	defer os.Remove(pidPath)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	gw.Start(ctx)
	defer gw.Stop()

	slog.Info("boardsticker started",
		"bot", a.client.BotName(),
		"data_dir", cfg.DataDir,
		"staging_dir", cfg.StagingDir(),
		"max_concurrent", cfg.MaxConcurrent,
		"max_images", cfg.Stickers.MaxImages,
		"tag_interval", cfg.TagInterval(),
		"naming", cfg.Stickers.Naming,
		"on_partial_failure", cfg.Stickers.OnPartialFailure,
		"pid_file", pidPath,
	)

	// Telegram adapter
	if err := a.client.RegisterCommands(ctx, telegram.Commands); err != nil {
		slog.Warn("failed to register bot commands", "error", err)
	}
	adapter := telegram.New(a.client, gw, a.sets, cfg.Stickers.MaxImages)
	go adapter.Start(ctx)
	slog.Info("telegram adapter started")

	// Scheduler
	sched := scheduler.New(scheduler.SweepJob(a.boards, cfg.Board.SweepSchedule, cfg.Retention()))
	if err := sched.Start(); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}
	defer sched.Stop()
	slog.Info("scheduler started")

	// HTTP API
	if cfg.HTTP.Enabled {
		httpServer := &http.Server{
			Addr:              cfg.HTTP.Listen,
			Handler:           webhook.NewServer(gw, a.sets, events),
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			slog.Info("http api started", "listen", cfg.HTTP.Listen)
			if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("http api error", "error", err)
			}
		}()
		go func() {
			<-ctx.Done()
			httpServer.Close()
		}()
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

	for {
		sig := <-sigChan
		if sig == syscall.SIGHUP {
			slog.Info("received SIGHUP, restarting")
			execPath, err := os.Executable()
			if err != nil {
				slog.Error("failed to get executable path", "error", err)
				continue
			}
			// Clean up PID file before re-exec
			os.Remove(pidPath)
			if err := syscall.Exec(execPath, os.Args, os.Environ()); err != nil {
				slog.Error("failed to re-exec", "error", err)
				// Re-write PID file since we failed to re-exec
				if _, writeErr := writePIDFile(cfg.DataDir); writeErr != nil {
					slog.Error("failed to re-write PID file", "error", writeErr)
				}
				continue
			}
		}
		// SIGINT or SIGTERM
		slog.Info("shutting down", "signal", sig, "active_runs", len(gw.Active()))
		return nil
	}
}
