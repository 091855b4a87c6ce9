package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"voice-trade-bot-go/internal/command"
	"voice-trade-bot-go/internal/config"
	"voice-trade-bot-go/internal/database"
	"voice-trade-bot-go/internal/events"
	"voice-trade-bot-go/internal/exchange"
	"voice-trade-bot-go/internal/hwid"
	"voice-trade-bot-go/internal/license"
	"voice-trade-bot-go/internal/logger"
	"voice-trade-bot-go/internal/paper"
	"voice-trade-bot-go/internal/position"
	"voice-trade-bot-go/internal/risk"
	"voice-trade-bot-go/internal/secure"
	"voice-trade-bot-go/internal/trader"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

func main() {
	// A missing .env is fine, the environment may already be populated.
	_ = godotenv.Load()

	// Load application configuration
	cfg, err := config.LoadConfig("./configs")
	if err != nil {
		// We can't use the logger here because it's not initialized yet.
		panic(fmt.Sprintf("could not load config: %v", err))
	}

	// Initialize logger
	log, err := logger.NewLogger(cfg.Logger)
	if err != nil {
		panic(err)
	}
	defer log.Sync()
	log.Info("Configuration loaded")

	// Initialize database
	db, err := database.NewDatabase(&cfg, log)
	if err != nil {
		log.Fatal("Failed to connect to database", zap.Error(err))
	}
	box, err := secure.NewBox(cfg.Security.KeyFile, log)
	if err != nil {
		log.Fatal("Failed to load encryption key", zap.Error(err))
	}
	store := database.NewStore(db, box, log)
	log.Info("Database connection successful and schema migrated.")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.License.Required {
		if err := checkLicense(ctx, cfg.License, store, log); err != nil {
			log.Fatal("License check failed", zap.Error(err))
		}
	}

	exchanges := exchange.NewManager(cfg.Exchange, store, log)
	if cfg.Exchange.AutoConnect {
		name := exchanges.Preferred(ctx)
		if err := exchanges.ConnectStored(ctx, name); err != nil {
			log.Warn("Could not connect exchange, continuing with market data only",
				zap.String("exchange", name), zap.Error(err))
		}
	}

	paperEngine := paper.NewEngine(cfg.Trading.PaperBalance, cfg.Trading.FeeRate, log)
	open, err := store.OpenPositions(ctx)
	if err != nil {
		log.Fatal("Failed to load open positions", zap.Error(err))
	}
	paperEngine.Restore(open)

	publisher := events.NewPublisher(cfg.Kafka, log)
	defer publisher.Close()

	ledger := position.NewLedger(store, log)
	executor := trader.NewExecutor(cfg.Trading, store, exchanges, paperEngine, risk.NewManager(store, log), ledger, publisher, log)
	if err := executor.LoadSettings(ctx); err != nil {
		log.Fatal("Failed to load trading settings", zap.Error(err))
	}

	parser := command.NewParser(cfg.Trading.DefaultSymbol)
	if err := parser.LoadKeywords(ctx, store, cfg.Trading.Language); err != nil {
		log.Warn("Failed to load command keywords, using built-in vocabulary", zap.Error(err))
	}
	lexicon := command.NewLexicon()
	if err := lexicon.Load(ctx, store); err != nil {
		log.Warn("Failed to load voice commands", zap.Error(err))
	}
	log.Info("Command vocabulary loaded", zap.Int("voice_commands", lexicon.Len()))
	commands := trader.NewCommandService(parser, lexicon, executor, log)

	tradeEngine, err := trader.NewEngine(cfg.Trading, store, exchanges, ledger, executor, log)
	if err != nil {
		log.Fatal("Failed to create trading engine", zap.Error(err))
	}
	defer tradeEngine.Release()

	api := trader.NewAPIServer(cfg.Server.Port, tradeEngine, executor, commands, log)
	api.Start()

	// Setup context for graceful shutdown
	go func() {
		sigchan := make(chan os.Signal, 1)
		signal.Notify(sigchan, syscall.SIGINT, syscall.SIGTERM)
		<-sigchan
		log.Info("Shutdown signal received, gracefully shutting down...")
		cancel()
	}()

	tradeEngine.Run(ctx)

	shutdownCtx, stop := context.WithTimeout(context.Background(), 10*time.Second)
	defer stop()
	if err := api.Stop(shutdownCtx); err != nil {
		log.Warn("API server shutdown", zap.Error(err))
	}
	if err := exchanges.Cleanup(shutdownCtx); err != nil {
		log.Warn("Exchange cleanup", zap.Error(err))
	}

	log.Info("Bot has been shut down.")
}

// checkLicense validates the stored license, activating the configured key
// first when none has been stored yet.
func checkLicense(ctx context.Context, cfg config.License, store *database.Store, log *zap.Logger) error {
	svc := license.NewService(store, hwid.Generate(), log)
	_, err := svc.Validate(ctx)
	if errors.Is(err, license.ErrNoLicense) && cfg.Key != "" {
		if _, err := svc.Activate(ctx, cfg.Key, time.Duration(cfg.ValidDays)*24*time.Hour); err != nil {
			return err
		}
		_, err = svc.Validate(ctx)
	}
	return err
}
