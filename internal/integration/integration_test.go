package integration

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
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

	"cert-quiz-service/internal/adapter"
	"cert-quiz-service/internal/bank"
	"cert-quiz-service/internal/domain"
	"cert-quiz-service/internal/engine"
	pgstore "cert-quiz-service/internal/infra/postgres"
	pgmigrations "cert-quiz-service/internal/infra/postgres/migrations"
	redisstore "cert-quiz-service/internal/infra/redis"
)

func TestQuizRoundEndToEnd(t *testing.T) {
	ctx := context.Background()
	requireDocker(t)

	pgURL, pgCleanup := startPostgres(t, ctx)
	defer pgCleanup()
	redisURL, redisCleanup := startRedis(t, ctx)
	defer redisCleanup()

	migrateDB(t, ctx, pgURL)

	pool, err := pgxpool.Connect(ctx, pgURL)
	if err != nil {
		t.Fatalf("connect pg: %v", err)
	}
	defer pool.Close()

	bankLoader := pgstore.NewBankLoader(pool)
	data, err := json.Marshal(sampleBank())
	if err != nil {
		t.Fatalf("marshal bank: %v", err)
	}
	count, err := bankLoader.UpsertBank(ctx, "cpa", data)
	if err != nil {
		t.Fatalf("seed bank: %v", err)
	}
	if count != 2 {
		t.Fatalf("seeded %d questions, want 2", count)
	}

	redisClient, err := redisClientFromURL(redisURL)
	if err != nil {
		t.Fatalf("redis client: %v", err)
	}
	defer redisClient.Close()

	loader := bank.NewCachedLoader(bankLoader, time.Hour)
	store := redisstore.NewLeaderboardStore(redisClient, "cpa")
	eng, err := engine.New(ctx, "cpa", loader, store)
	if err != nil {
		t.Fatalf("build engine: %v", err)
	}

	// One quiz round: post, collect answers, reveal, grade.
	q, ok := eng.RandomQuestion("server-1", "", domain.DifficultyAny, true)
	if !ok {
		t.Fatalf("no question selected")
	}
	quiz := adapter.NewActiveQuiz("discord", "cpa", "server-1", "chan-1", "msg-1", q, time.Now().Add(30*time.Second))
	if err := quiz.RecordAnswer("u1", "alice", q.CorrectAnswer); err != nil {
		t.Fatalf("record answer: %v", err)
	}
	if err := quiz.RecordAnswer("u2", "bob", (q.CorrectAnswer+1)%4); err != nil {
		t.Fatalf("record answer: %v", err)
	}

	// In-flight state survives a restart via the Redis snapshot store.
	quizStore := redisstore.NewActiveQuizStore(redisClient)
	tracker := adapter.NewTracker("discord", quizStore)
	if err := tracker.Add(ctx, quiz); err != nil {
		t.Fatalf("track quiz: %v", err)
	}
	restoredTracker := adapter.NewTracker("discord", quizStore)
	restored, err := restoredTracker.Restore(ctx)
	if err != nil {
		t.Fatalf("restore: %v", err)
	}
	if len(restored) != 1 || restored[0].MessageID != "msg-1" {
		t.Fatalf("restore returned %+v", restored)
	}

	popped, ok := restoredTracker.Pop(ctx, "msg-1")
	if !ok {
		t.Fatalf("pop after restore failed")
	}
	result, err := adapter.Grade(ctx, eng, popped)
	if err != nil {
		t.Fatalf("grade: %v", err)
	}
	if len(result.CorrectUsers) != 1 || result.CorrectUsers[0] != "alice" {
		t.Fatalf("correct users = %v", result.CorrectUsers)
	}
	if len(result.WrongUsers) != 1 || result.WrongUsers[0] != "bob" {
		t.Fatalf("wrong users = %v", result.WrongUsers)
	}

	top, err := eng.Leaderboard(ctx, "server-1", 10)
	if err != nil {
		t.Fatalf("leaderboard: %v", err)
	}
	if len(top) != 2 || top[0].Username != "alice" {
		t.Fatalf("expected alice leading, got %+v", top)
	}
	if top[0].Correct != 1 || top[0].Streak != 1 {
		t.Fatalf("alice stats = %+v", top[0])
	}

	global, err := eng.GlobalStats(ctx)
	if err != nil {
		t.Fatalf("global stats: %v", err)
	}
	if global.Answers != 2 || global.Correct != 1 {
		t.Fatalf("global = %+v", global)
	}
}

func sampleBank() []domain.Question {
	return []domain.Question{
		{
			ID: "cpa-1", Exam: "cpa", Section: "FAR", Topic: "Leases",
			Difficulty: domain.DifficultyMedium, Prompt: "Question one?",
			Options: []string{"a", "b", "c", "d"}, CorrectAnswer: 1,
		},
		{
			ID: "cpa-2", Exam: "cpa", Section: "AUD", Topic: "Evidence",
			Difficulty: domain.DifficultyHard, Prompt: "Question two?",
			Options: []string{"a", "b", "c", "d"}, CorrectAnswer: 0,
		},
	}
}

func migrateDB(t *testing.T, ctx context.Context, dsn string) {
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
}

func startPostgres(t *testing.T, ctx context.Context) (string, func()) {
	t.Helper()
	req := tc.ContainerRequest{
		Image:        "postgres:15-alpine",
		Env:          map[string]string{"POSTGRES_USER": "quiz", "POSTGRES_PASSWORD": "quizpass", "POSTGRES_DB": "quizdb"},
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
	dsn := fmt.Sprintf("postgres://quiz:quizpass@%s:%s/quizdb?sslmode=disable", host, port.Port())
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
