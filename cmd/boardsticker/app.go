package main

import (
	"fmt"
	"os"

	"github.com/user/boardsticker/internal/board"
	"github.com/user/boardsticker/internal/config"
	"github.com/user/boardsticker/internal/encoder"
	"github.com/user/boardsticker/internal/naming"
	"github.com/user/boardsticker/internal/pipeline"
	"github.com/user/boardsticker/internal/state"
	"github.com/user/boardsticker/internal/tagger"
	"github.com/user/boardsticker/internal/telegram"
	"github.com/user/boardsticker/internal/throttle"
	"github.com/user/boardsticker/pkg/vision"
	"github.com/user/boardsticker/pkg/vision/gemini"
)

// app holds the long-lived collaborators shared by serve and create.
type app struct {
	cfg      *config.Config
	client   *telegram.Client
	boards   *board.Source
	sets     *state.SetStore
	pipeline *pipeline.Orchestrator
}

func (a *app) Close() error {
	return a.sets.Close()
}

// newApp connects to Telegram and builds one pipeline. opts are passed to
// pipeline.New after the defaults.
func newApp(cfg *config.Config, opts ...pipeline.Option) (*app, error) {
	if cfg.Telegram.Token == "" {
		return nil, fmt.Errorf("telegram.token is not set (config set telegram.token <token> or TELEGRAM_BOT_TOKEN)")
	}
	if cfg.Gemini.APIKey == "" {
		return nil, fmt.Errorf("gemini.api_key is not set (config set gemini.api_key <key> or GEMINI_TOKEN)")
	}
	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	var clientOpts []telegram.ClientOption
	if cfg.Telegram.APIEndpoint != "" {
		clientOpts = append(clientOpts, telegram.WithAPIEndpoint(cfg.Telegram.APIEndpoint))
	}
	client, err := telegram.NewClient(cfg.Telegram.Token, clientOpts...)
	if err != nil {
		return nil, err
	}

	boards, err := board.New(cfg.StagingDir(), board.WithBinary(cfg.Board.GalleryDL))
	if err != nil {
		return nil, fmt.Errorf("create board source: %w", err)
	}

	sets, err := state.OpenSetStore(cfg.DBPath())
	if err != nil {
		return nil, fmt.Errorf("open set history: %w", err)
	}

	provider := gemini.New(&vision.Config{
		BaseURL: cfg.Gemini.BaseURL,
		APIKey:  cfg.Gemini.APIKey,
		Model:   cfg.Gemini.Model,
		Timeout: cfg.GeminiTimeout(),
	})
	limiter := throttle.New(cfg.TagInterval())
	enc := encoder.New(client, tagger.New(limiter, provider), cfg.Stickers.MaxBytes)

	strategy := naming.Strategy(cfg.Stickers.Naming)
	namerOpts := []naming.Option{
		naming.WithStrategy(strategy),
		naming.WithChecker(sets.Exists),
	}
	if strategy == naming.StrategyProbe {
		namerOpts = append(namerOpts, naming.WithChecker(client.StickerSetExists))
	}
	namer := naming.New(client.BotName(), namerOpts...)

	orch := pipeline.New(pipeline.Config{
		MaxImages:        cfg.Stickers.MaxImages,
		InitialBatchSize: cfg.Stickers.InitialBatch,
		TagInterval:      limiter.Interval(),
		PartialPolicy:    pipeline.PartialPolicy(cfg.Stickers.OnPartialFailure),
	}, boards, enc, namer, client, append([]pipeline.Option{pipeline.WithStore(sets)}, opts...)...)

	return &app{
		cfg:      cfg,
		client:   client,
		boards:   boards,
		sets:     sets,
		pipeline: orch,
	}, nil
}
