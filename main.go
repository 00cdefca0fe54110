package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/caarlos0/env/v9"
	"github.com/joho/godotenv"

	"github.com/kittipat-v/genchat/pkg/api/handler"
	"github.com/kittipat-v/genchat/pkg/chunkloop"
	"github.com/kittipat-v/genchat/pkg/database"
	"github.com/kittipat-v/genchat/pkg/gemini"
	"github.com/kittipat-v/genchat/pkg/intent"
	"github.com/kittipat-v/genchat/pkg/logger"
	"github.com/kittipat-v/genchat/pkg/metadata"
	"github.com/kittipat-v/genchat/pkg/repository"
	"github.com/kittipat-v/genchat/pkg/service"
	"github.com/kittipat-v/genchat/pkg/services"
	"github.com/kittipat-v/genchat/pkg/workers"
)

type Config struct {
	GeminiAPIKey       string        `env:"GEMINI_API_KEY,required"`
	GeminiModel        string        `env:"GEMINI_MODEL" envDefault:"gemini-2.5-flash"`
	HTTPAddr           string        `env:"HTTP_ADDR" envDefault:":8080"`
	StoreMode          string        `env:"STORE_MODE" envDefault:"postgres"`
	PgURL              string        `env:"DATABASE_URL"`
	PgHost             string        `env:"DB_HOST" envDefault:"localhost:65432"`
	MetadataBaseURL    string        `env:"METADATA_BASE_URL"`
	ThrottleInterval   time.Duration `env:"SEND_THROTTLE_INTERVAL" envDefault:"2s"`
	HistoryWindow      int           `env:"HISTORY_WINDOW" envDefault:"12"`
	MaxChunks          int           `env:"MAX_CHUNKS" envDefault:"6"`
	MinContinuationLen int           `env:"MIN_CONTINUATION_LEN" envDefault:"200"`
}

func main() {
	slog.SetDefault(slog.New(logger.NewHandler(os.Stderr, logger.DefaultOptions)))

	if err := runMain(); err != nil {
		slog.Error("shutting down due to error", logger.Err(err))
		os.Exit(1)
	}
	slog.Info("shutdown complete")
}

func runMain() error {
	_ = godotenv.Load()

	serviceGroup, err := setupServices()
	if err != nil {
		return err
	}

	ctx, cancelFn := context.WithCancel(context.Background())
	defer cancelFn()

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		select {
		case s := <-sigCh:
			slog.Info("shutting down due to signal", "signal", s.String())
			cancelFn()
		case <-ctx.Done():
		}
	}()

	return serviceGroup.Run(ctx)
}

func setupServices() (service.Group, error) {
	cfg := Config{}
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parsing env config: %w", err)
	}

	geminiClient, err := gemini.NewClient(context.Background(), cfg.GeminiAPIKey, cfg.GeminiModel)
	if err != nil {
		return nil, fmt.Errorf("creating gemini client: %w", err)
	}

	var transcriptStore services.TranscriptStore
	var sessionStore services.SessionStore
	switch cfg.StoreMode {
	case "memory":
		store := repository.NewMemoryTranscriptRepository()
		transcriptStore, sessionStore = store, store
	default:
		db, err := database.NewPostgres(cfg.PgURL, cfg.PgHost)
		if err != nil {
			return nil, fmt.Errorf("creating db: %w", err)
		}
		store := repository.NewTranscriptRepository(db)
		transcriptStore, sessionStore = store, store
	}

	var metadataProvider services.MetadataProvider
	if cfg.MetadataBaseURL != "" {
		metadataProvider = metadata.NewClient(cfg.MetadataBaseURL)
	}

	classifier := intent.NewClassifier()
	controller := chunkloop.NewController(geminiClient, cfg.MinContinuationLen)

	registry := services.NewCoordinatorRegistry(func(sessionID, ownerID string) *services.TurnCoordinator {
		return services.NewTurnCoordinator(
			transcriptStore,
			classifier,
			controller,
			metadataProvider,
			services.TurnCoordinatorConfig{
				ThrottleInterval: cfg.ThrottleInterval,
				HistoryWindow:    cfg.HistoryWindow,
				MaxChunks:        cfg.MaxChunks,
			},
			sessionID,
			ownerID,
		)
	})

	sessionService := services.NewSessionService(sessionStore)

	turnHandler := handler.NewTurn(registry)
	sessionsHandler := handler.NewSessions(sessionService, registry)

	mux := http.NewServeMux()
	mux.HandleFunc("POST /turns/send", turnHandler.Send)
	mux.HandleFunc("POST /turns/stop", turnHandler.Stop)
	mux.HandleFunc("POST /turns/regenerate", turnHandler.Regenerate)
	mux.HandleFunc("POST /turns/edit", turnHandler.Edit)
	mux.HandleFunc("GET /sessions", sessionsHandler.List)
	mux.HandleFunc("GET /sessions/get", sessionsHandler.Get)
	mux.HandleFunc("POST /sessions/rename", sessionsHandler.Rename)
	mux.HandleFunc("POST /sessions/delete", sessionsHandler.Delete)

	return service.Group{
		workers.NewHTTPServer(cfg.HTTPAddr, mux),
	}, nil
}
