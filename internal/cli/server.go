package cli

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"klasskamp-service/internal/config"
	"klasskamp-service/internal/domain"
	"klasskamp-service/internal/game"
	"klasskamp-service/internal/infra/memory"
	pgloader "klasskamp-service/internal/infra/postgres"
	infraredis "klasskamp-service/internal/infra/redis"
	transport "klasskamp-service/internal/transport/http"
)

// NewStartCmd builds the CLI subcommand to start the server.
func NewStartCmd(configPath, port *string) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the quiz room server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context(), *configPath, *port)
		},
	}
}

func runServer(ctx context.Context, configPath, portFlag string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	if cfg.Postgres.URL != "" {
		if err := runMigrationsWithConfig(ctx, cfg); err != nil {
			return err
		}
	}

	finalPort := portFlag
	if finalPort == "" {
		finalPort = cfg.Server.Port
	}
	if finalPort == "" {
		finalPort = "8080"
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))

	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
	}
	redisTTL := config.TTLDuration(cfg.Redis.TTL, 10*time.Minute)

	var pool *pgxpool.Pool
	if cfg.Postgres.URL != "" {
		pool, err = pgxpool.Connect(ctx, cfg.Postgres.URL)
		if err != nil {
			return err
		}
	}

	var loader memory.PoolLoader = memory.NewStaticPoolLoader(samplePools())
	if pool != nil {
		loader = pgloader.NewPoolLoader(pool)
	}

	contentTTL := config.TTLDuration(cfg.Content.TTL, 10*time.Minute)
	var pools game.PoolRepository
	if redisClient != nil {
		pools = infraredis.NewPoolRepository(redisClient, loader, contentTTL)
	} else {
		pools = memory.NewPoolRepository(loader, contentTTL)
	}

	settings := game.DefaultSettings()
	if cfg.Game.QuestionCount > 0 {
		settings.QuestionCount = cfg.Game.QuestionCount
	}
	settings.QuestionWindow = config.TTLDuration(cfg.Game.QuestionWindow, settings.QuestionWindow)
	settings.GameDuration = config.TTLDuration(cfg.Game.GameDuration, settings.GameDuration)
	roomGrace := config.TTLDuration(cfg.Game.RoomGrace, 10*time.Minute)

	var presence game.Presence
	var sink game.ResultSink
	if redisClient != nil {
		presence = infraredis.NewPresence(redisClient, redisTTL)
		sink = infraredis.NewResultSink(redisClient, redisTTL)
	}

	registry := game.NewRegistry(roomGrace, presence, logger)
	defer registry.Close()

	service := game.NewService(registry, pools, settings, sink, logger)
	wsHandler := transport.NewWSHandler(service, logger)
	roomsHandler := transport.NewRoomsHandler(service, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
	mux.HandleFunc("/ws", wsHandler.ServeWS)
	mux.HandleFunc("/api/rooms", roomsHandler.Create)

	server := &http.Server{
		Addr:         ":" + finalPort,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	go func() {
		log.Printf("starting klasskamp service on :%s", finalPort)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("failed to start server: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-stop:
		log.Println("shutting down server...")
	case <-ctx.Done():
		log.Println("context canceled, shutting down server...")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

// samplePools provides built-in Swedish sentence pools so the service runs
// without Postgres; swap in the DB-backed loader for real lesson content.
func samplePools() map[string]domain.SentencePool {
	return map[string]domain.SentencePool{
		"verb": {
			WordClass:   "verb",
			DisplayName: "Verb",
			Sentences: []domain.Sentence{
				{
					ID:   "verb-1",
					Text: "Den snabba räven springer över fältet",
					Words: []domain.Word{
						{Text: "Den", Class: "pronomen"},
						{Text: "snabba", Class: "adjektiv"},
						{Text: "räven", Class: "substantiv"},
						{Text: "springer", Class: "verb"},
						{Text: "över", Class: "preposition"},
						{Text: "fältet", Class: "substantiv"},
					},
				},
				{
					ID:   "verb-2",
					Text: "Katten sover och drömmer om fiskar",
					Words: []domain.Word{
						{Text: "Katten", Class: "substantiv"},
						{Text: "sover", Class: "verb"},
						{Text: "och", Class: "konjunktion"},
						{Text: "drömmer", Class: "verb"},
						{Text: "om", Class: "preposition"},
						{Text: "fiskar", Class: "substantiv"},
					},
				},
				{
					ID:   "verb-3",
					Text: "Imorgon ska vi baka en stor kaka",
					Words: []domain.Word{
						{Text: "Imorgon", Class: "adverb"},
						{Text: "ska", Class: "verb"},
						{Text: "vi", Class: "pronomen"},
						{Text: "baka", Class: "verb"},
						{Text: "en", Class: "artikel"},
						{Text: "stor", Class: "adjektiv"},
						{Text: "kaka", Class: "substantiv"},
					},
				},
			},
		},
		"substantiv": {
			WordClass:   "substantiv",
			DisplayName: "Substantiv",
			Sentences: []domain.Sentence{
				{
					ID:   "substantiv-1",
					Text: "Flickan kastade bollen till hunden",
					Words: []domain.Word{
						{Text: "Flickan", Class: "substantiv"},
						{Text: "kastade", Class: "verb"},
						{Text: "bollen", Class: "substantiv"},
						{Text: "till", Class: "preposition"},
						{Text: "hunden", Class: "substantiv"},
					},
				},
				{
					ID:   "substantiv-2",
					Text: "Solen lyser starkt idag",
					Words: []domain.Word{
						{Text: "Solen", Class: "substantiv"},
						{Text: "lyser", Class: "verb"},
						{Text: "starkt", Class: "adverb"},
						{Text: "idag", Class: "adverb"},
					},
				},
			},
		},
		"adjektiv": {
			WordClass:   "adjektiv",
			DisplayName: "Adjektiv",
			Sentences: []domain.Sentence{
				{
					ID:   "adjektiv-1",
					Text: "Det gamla huset har ett rött tak",
					Words: []domain.Word{
						{Text: "Det", Class: "pronomen"},
						{Text: "gamla", Class: "adjektiv"},
						{Text: "huset", Class: "substantiv"},
						{Text: "har", Class: "verb"},
						{Text: "ett", Class: "artikel"},
						{Text: "rött", Class: "adjektiv"},
						{Text: "tak", Class: "substantiv"},
					},
				},
				{
					ID:   "adjektiv-2",
					Text: "Vi gick hem",
					Words: []domain.Word{
						{Text: "Vi", Class: "pronomen"},
						{Text: "gick", Class: "verb"},
						{Text: "hem", Class: "adverb"},
					},
				},
			},
		},
	}
}
