package integration

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	goredis "github.com/redis/go-redis/v9"
	tc "github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
	"github.com/uptrace/bun/migrate"

	"klasskamp-service/internal/domain"
	"klasskamp-service/internal/game"
	pgloader "klasskamp-service/internal/infra/postgres"
	pgmigrations "klasskamp-service/internal/infra/postgres/migrations"
	infraredis "klasskamp-service/internal/infra/redis"
	"klasskamp-service/internal/protocol"
)

func TestGameEndToEnd(t *testing.T) {
	ctx := context.Background()
	requireDocker(t)

	pgURL, pgCleanup := startPostgres(t, ctx)
	defer pgCleanup()
	redisURL, redisCleanup := startRedis(t, ctx)
	defer redisCleanup()

	seedPool(t, ctx, pgURL, samplePool())

	pgPool, err := pgxpool.Connect(ctx, pgURL)
	if err != nil {
		t.Fatalf("connect pg: %v", err)
	}
	defer pgPool.Close()

	redisClient, err := redisClientFromURL(redisURL)
	if err != nil {
		t.Fatalf("redis client: %v", err)
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	pools := infraredis.NewPoolRepository(redisClient, pgloader.NewPoolLoader(pgPool), 5*time.Minute)
	presence := infraredis.NewPresence(redisClient, 5*time.Minute)
	sink := infraredis.NewResultSink(redisClient, time.Hour)

	registry := game.NewRegistry(time.Hour, presence, logger)
	defer registry.Close()

	settings := game.Settings{QuestionCount: 1, QuestionWindow: 20 * time.Second, GameDuration: 2 * time.Minute}
	service := game.NewService(registry, pools, settings, sink, logger)

	room, err := service.CreateRoom(ctx, game.CreateRoomParams{WordClass: "verb"})
	if err != nil {
		t.Fatalf("create room: %v", err)
	}
	code := room.Code()

	if n, err := redisClient.Exists(ctx, "klasskamp:room:"+code).Result(); err != nil || n != 1 {
		t.Fatalf("expected presence key for %s, got n=%d err=%v", code, n, err)
	}

	teacher := newChanSender()
	if _, err := room.Join("conn-t", "Fru Larsson", true, teacher); err != nil {
		t.Fatalf("teacher join: %v", err)
	}
	student := newChanSender()
	if _, err := room.Join("conn-s", "Anna", false, student); err != nil {
		t.Fatalf("student join: %v", err)
	}

	if err := room.StartGame("conn-t", 0); err != nil {
		t.Fatalf("start game: %v", err)
	}
	question := decodeAs[protocol.NewQuestionPayload](t, waitEnv(t, student, protocol.TypeNewQuestion))
	if question.Text != "Den snabba räven springer över fältet" {
		t.Fatalf("unexpected question %q", question.Text)
	}

	if err := room.SubmitAnswer("conn-s", protocol.AnswerPayload{QuestionNumber: question.QuestionNumber, SelectedWordIndices: []int{3}, TimeUsed: 3000}); err != nil {
		t.Fatalf("submit answer: %v", err)
	}
	result := decodeAs[protocol.AnswerResultPayload](t, waitEnv(t, student, protocol.TypeAnswerResult))
	if !result.IsCorrect || result.Points <= 0 {
		t.Fatalf("expected a scored correct answer, got %+v", result)
	}

	finished := decodeAs[protocol.GameFinishedPayload](t, waitEnv(t, teacher, protocol.TypeGameFinished))
	if len(finished.Leaderboard) != 1 || finished.Leaderboard[0].Nickname != "Anna" {
		t.Fatalf("unexpected leaderboard %+v", finished.Leaderboard)
	}

	// the summary lands in redis shortly after the finish broadcast
	summary := waitForSummary(t, ctx, redisClient, code)
	if summary.WordClass != "verb" || summary.QuestionsPlayed != 1 {
		t.Fatalf("unexpected stored summary %+v", summary)
	}

	registry.Retire(code)
	if n, _ := redisClient.Exists(ctx, "klasskamp:room:"+code).Result(); n != 0 {
		t.Fatalf("expected presence key cleared after retire")
	}
}

type chanSender struct {
	msgs chan protocol.Envelope
}

func newChanSender() *chanSender {
	return &chanSender{msgs: make(chan protocol.Envelope, 128)}
}

func (s *chanSender) Send(env protocol.Envelope) error {
	s.msgs <- env
	return nil
}

func (s *chanSender) Close() error { return nil }

func waitEnv(t *testing.T, s *chanSender, want protocol.MessageType) protocol.Envelope {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case env := <-s.msgs:
			if env.Type == want {
				return env
			}
			if env.Type == protocol.TypeError {
				t.Fatalf("unexpected error while waiting for %s: %s", want, env.Data)
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s", want)
		}
	}
}

func decodeAs[T any](t *testing.T, env protocol.Envelope) T {
	t.Helper()
	payload, err := protocol.Decode[T](env.Data)
	if err != nil {
		t.Fatalf("decode %s: %v", env.Type, err)
	}
	return payload
}

func waitForSummary(t *testing.T, ctx context.Context, client *goredis.Client, code string) domain.GameSummary {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		raw, err := client.Get(ctx, "klasskamp:result:"+code).Bytes()
		if err == nil {
			var summary domain.GameSummary
			if err := json.Unmarshal(raw, &summary); err != nil {
				t.Fatalf("unmarshal summary: %v", err)
			}
			return summary
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Fatal("summary never appeared in redis")
	return domain.GameSummary{}
}

func startPostgres(t *testing.T, ctx context.Context) (string, func()) {
	t.Helper()
	req := tc.ContainerRequest{
		Image:        "postgres:15-alpine",
		Env:          map[string]string{"POSTGRES_USER": "klasskamp", "POSTGRES_PASSWORD": "klasskamppass", "POSTGRES_DB": "klasskampdb"},
		ExposedPorts: []string{"5432/tcp"},
		WaitingFor:   wait.ForListeningPort("5432/tcp").WithStartupTimeout(60 * time.Second),
	}
	container, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		if strings.Contains(err.Error(), "Cannot connect to the Docker daemon") {
			t.Skipf("docker not available: %v", err)
		}
		t.Fatalf("start postgres: %v", err)
	}
	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("host: %v", err)
	}
	port, err := container.MappedPort(ctx, "5432/tcp")
	if err != nil {
		t.Fatalf("port: %v", err)
	}
	dsn := fmt.Sprintf("postgres://klasskamp:klasskamppass@%s:%s/klasskampdb?sslmode=disable", host, port.Port())
	return dsn, func() {
		_ = container.Terminate(ctx)
	}
}

func startRedis(t *testing.T, ctx context.Context) (string, func()) {
	t.Helper()
	req := tc.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForListeningPort("6379/tcp").WithStartupTimeout(30 * time.Second),
	}
	container, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		if strings.Contains(err.Error(), "Cannot connect to the Docker daemon") {
			t.Skipf("docker not available: %v", err)
		}
		t.Fatalf("start redis: %v", err)
	}
	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("redis host: %v", err)
	}
	port, err := container.MappedPort(ctx, "6379/tcp")
	if err != nil {
		t.Fatalf("redis port: %v", err)
	}
	url := fmt.Sprintf("redis://%s:%s", host, port.Port())
	return url, func() {
		_ = container.Terminate(ctx)
	}
}

func seedPool(t *testing.T, ctx context.Context, dsn string, pool domain.SentencePool) {
	t.Helper()
	sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(dsn)))
	db := bun.NewDB(sqldb, pgdialect.New())
	defer db.Close()

	migrator := migrate.NewMigrator(db, pgmigrations.Migrations)
	if err := migrator.Init(ctx); err != nil {
		t.Fatalf("migrator init: %v", err)
	}
	if _, err := migrator.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	data, err := json.Marshal(pool)
	if err != nil {
		t.Fatalf("marshal pool: %v", err)
	}
	if _, err := db.ExecContext(ctx, `INSERT INTO sentence_pools (word_class, data) VALUES (?, ?::jsonb) ON CONFLICT (word_class) DO UPDATE SET data=EXCLUDED.data`, pool.WordClass, string(data)); err != nil {
		t.Fatalf("insert pool: %v", err)
	}
}

func samplePool() domain.SentencePool {
	return domain.SentencePool{
		WordClass:   "verb",
		DisplayName: "Verb",
		Sentences: []domain.Sentence{{
			ID:   "fox",
			Text: "Den snabba räven springer över fältet",
			Words: []domain.Word{
				{Text: "Den", Class: "pronomen"},
				{Text: "snabba", Class: "adjektiv"},
				{Text: "räven", Class: "substantiv"},
				{Text: "springer", Class: "verb"},
				{Text: "över", Class: "preposition"},
				{Text: "fältet", Class: "substantiv"},
			},
		}},
	}
}

func redisClientFromURL(url string) (*goredis.Client, error) {
	opts, err := goredis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	return goredis.NewClient(&goredis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	}), nil
}

func requireDocker(t *testing.T) {
	t.Helper()
	if _, err := tc.NewDockerProvider(); err != nil {
		t.Skipf("docker not available: %v", err)
	}
}
