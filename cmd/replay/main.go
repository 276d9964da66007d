package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/google/uuid"
	"github.com/schollz/progressbar/v3"
	"github.com/urfave/cli/v3"
	"go.uber.org/zap"

	"github.com/tradeforge/histreplay/internal/adapter"
	"github.com/tradeforge/histreplay/internal/config"
	"github.com/tradeforge/histreplay/internal/logger"
	"github.com/tradeforge/histreplay/internal/replay"
	"github.com/tradeforge/histreplay/internal/securities"
	"github.com/tradeforge/histreplay/internal/storage"
	"github.com/tradeforge/histreplay/internal/types"
)

// nextTransactionID derives a non-zero transaction id for protocol requests.
func nextTransactionID() int64 {
	for {
		if id := int64(uuid.New().ID()); id != 0 {
			return id
		}
	}
}

// runAction wires the configured registry, scheduler and adapter together
// and replays the whole window, reporting progress on the terminal.
func runAction(ctx context.Context, cmd *cli.Command) error {
	configBytes, err := os.ReadFile(cmd.String("config"))
	if err != nil {
		return fmt.Errorf("failed to read config: %w", err)
	}

	cfg, err := config.ParseReplayConfig(string(configBytes))
	if err != nil {
		return fmt.Errorf("failed to parse config: %w", err)
	}

	appLogger, err := logger.NewLogger()
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer appLogger.Sync()

	var registry storage.Registry

	if cfg.DatabasePath != "" {
		duckRegistry, err := storage.NewDuckDBRegistry(cfg.DatabasePath, appLogger)
		if err != nil {
			return fmt.Errorf("failed to open market data database: %w", err)
		}
		defer duckRegistry.Close()

		registry = duckRegistry
	} else {
		registry = storage.NewMemoryRegistry()
	}

	scheduler, err := replay.NewScheduler(replay.Options{
		StartDate:                       cfg.StartDate,
		StopDate:                        cfg.StopDate,
		MarketTimeChangedInterval:       cfg.MarketTimeChangedInterval,
		PostTradeMarketTimeChangedCount: cfg.PostTradeMarketTimeChangedCount,
		CheckTradableDates:              cfg.CheckTradableDates,
		Registry:                        registry,
		StorageCache:                    storage.NewCache(),
		Logger:                          appLogger,
	})
	if err != nil {
		return fmt.Errorf("failed to create scheduler: %w", err)
	}

	provider := securities.NewCollectionProvider()

	boards := make(map[string]*types.Board)

	for _, boardConfig := range cfg.Boards {
		board, err := boardConfig.Board()
		if err != nil {
			return err
		}

		boards[board.Code] = board
		provider.AddBoard(board)
	}

	for _, sec := range cfg.Securities {
		provider.Add(securities.Security{
			ID:    types.SecurityID{Symbol: sec.Symbol, Board: sec.Board},
			Name:  sec.Name,
			Board: boards[sec.Board],
		})
	}

	historyAdapter := adapter.NewHistoryAdapter(scheduler, provider, appLogger)
	defer historyAdapter.Close()

	if err := historyAdapter.SendIn(&types.ConnectMessage{}); err != nil {
		return fmt.Errorf("connect failed: %w", err)
	}

	for _, sec := range cfg.Securities {
		request := &types.MarketDataMessage{
			SecurityID:    types.SecurityID{Symbol: sec.Symbol, Board: sec.Board},
			DataType:      types.DataTypeTicks,
			TransactionID: nextTransactionID(),
			IsSubscribe:   true,
		}

		if err := historyAdapter.SendIn(request); err != nil {
			return fmt.Errorf("subscription failed for %s: %w", sec.Symbol, err)
		}
	}

	if err := historyAdapter.SendIn(types.NewEmulationStateMessage(types.EmulationStateStarting, cfg.StartDate, nil)); err != nil {
		return fmt.Errorf("failed to start replay: %w", err)
	}

	bar := progressbar.NewOptions64(-1,
		progressbar.OptionSetDescription("replaying"),
		progressbar.OptionSpinnerType(14),
		progressbar.OptionShowCount(),
	)

	var replayErr error

consume:
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-historyAdapter.Out():
			if !ok {
				break consume
			}

			switch m := msg.(type) {
			case *types.EmulationStateMessage:
				if m.State == types.EmulationStateStopping {
					replayErr = m.Err

					break consume
				}
			case *types.MarketDataMessage:
				if m.Err != nil {
					appLogger.Warn("Subscription rejected",
						zap.String("security_id", m.SecurityID.String()),
						zap.Error(m.Err),
					)
				}
			default:
				_ = bar.Add(1)
			}
		}
	}

	_ = bar.Finish()

	if replayErr != nil {
		return fmt.Errorf("replay failed: %w", replayErr)
	}

	appLogger.Info("Replay finished",
		zap.Int64("messages", scheduler.LoadedMessageCount()),
		zap.Time("current_time", scheduler.CurrentTime()),
	)

	return nil
}

// schemaAction prints the JSON schema of the replay configuration.
func schemaAction(_ context.Context, _ *cli.Command) error {
	cfg := &config.ReplayConfig{}

	schemaJSON, err := cfg.GenerateSchemaJSON()
	if err != nil {
		return fmt.Errorf("failed to generate schema: %w", err)
	}

	fmt.Println(schemaJSON)

	return nil
}

func main() {
	cmd := &cli.Command{
		Name:  "replay",
		Usage: "Replay historical market data as an ordered message stream",
		Commands: []*cli.Command{
			{
				Name:  "run",
				Usage: "Run a replay described by a YAML config",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "config",
						Aliases:  []string{"c"},
						Usage:    "Path to the replay YAML config",
						Required: true,
					},
				},
				Action: runAction,
			},
			{
				Name:   "schema",
				Usage:  "Print the JSON schema of the replay config",
				Action: schemaAction,
			},
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		log.Fatal(err)
	}
}
