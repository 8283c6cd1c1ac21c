package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/jackc/pgx/v4/pgxpool"
	goredis "github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"cert-quiz-service/internal/adapter"
	"cert-quiz-service/internal/adapter/discord"
	"cert-quiz-service/internal/adapter/slack"
	"cert-quiz-service/internal/adapter/telegram"
	"cert-quiz-service/internal/bank"
	"cert-quiz-service/internal/config"
	"cert-quiz-service/internal/domain"
	"cert-quiz-service/internal/engine"
	filestore "cert-quiz-service/internal/infra/file"
	"cert-quiz-service/internal/infra/memory"
	pgstore "cert-quiz-service/internal/infra/postgres"
	redisstore "cert-quiz-service/internal/infra/redis"
	"cert-quiz-service/internal/logger"
)

// defaultExams is the exam roster used when the config lists none.
var defaultExams = []string{"cpa", "ea", "cma", "cia", "cisa", "cfp"}

const defaultRevealDelay = 30 * time.Second

// NewServeCmd builds the CLI subcommand to start the bot service.
func NewServeCmd(configPath, port *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the quiz bot service",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), *configPath, *port)
		},
	}
}

func runServe(ctx context.Context, configPath, portFlag string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if err := logger.Initialize(cfg.Logger.Level, cfg.Logger.Env); err != nil {
		return err
	}
	defer logger.Sync()
	log := logger.Get().Named("serve")

	// Env vars override config for secrets so tokens stay out of YAML.
	if token := os.Getenv("DISCORD_TOKEN"); token != "" {
		cfg.Discord.Token = token
	}
	if token := os.Getenv("TELEGRAM_TOKEN"); token != "" {
		cfg.Telegram.Token = token
	}
	if url := os.Getenv("SLACK_WEBHOOK_URL"); url != "" {
		cfg.Slack.WebhookURL = url
	}

	if cfg.Postgres.URL != "" {
		if err := runMigrationsWithConfig(ctx, cfg); err != nil {
			return err
		}
	}

	var redisClient *goredis.Client
	if cfg.Redis.Addr != "" {
		redisClient = goredis.NewClient(&goredis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer redisClient.Close()
	}

	var pool *pgxpool.Pool
	if cfg.Postgres.URL != "" {
		pool, err = pgxpool.Connect(ctx, cfg.Postgres.URL)
		if err != nil {
			return err
		}
		defer pool.Close()
	}

	var loader bank.Loader
	if pool != nil {
		loader = pgstore.NewBankLoader(pool)
	} else {
		loader = bank.NewFileLoader(cfg.Quiz.DataDir)
	}
	bankTTL := config.TTLDuration(cfg.Quiz.BankTTL, time.Hour)
	loader = bank.NewCachedLoader(loader, bankTTL)

	botConfigs, err := config.LoadBotConfigs(cfg.Quiz.BotConfigs)
	if err != nil {
		return err
	}

	exams := cfg.Quiz.Exams
	if len(exams) == 0 {
		exams = defaultExams
	}

	exSet := adapter.NewExamSet()
	for _, exam := range exams {
		var store engine.LeaderboardStore
		switch {
		case redisClient != nil:
			store = redisstore.NewLeaderboardStore(redisClient, exam)
		case cfg.Quiz.DataDir != "":
			store = filestore.NewLeaderboardStore(cfg.Quiz.DataDir, exam)
		default:
			store = memory.NewLeaderboardStore()
		}

		eng, err := engine.New(ctx, exam, loader, store)
		if err != nil {
			if errors.Is(err, domain.ErrBankNotFound) {
				log.Warn("question bank missing, skipping exam", zap.String("exam", exam))
				continue
			}
			return fmt.Errorf("load exam %s: %w", exam, err)
		}
		exSet.Add(eng, botConfigs[exam])
		log.Info("exam loaded",
			zap.String("exam", exam),
			zap.Int("questions", eng.QuestionCount()),
			zap.Int("sections", len(eng.Sections())))
	}
	if len(exSet.Exams()) == 0 {
		return fmt.Errorf("no question banks could be loaded")
	}

	var quizStore adapter.ActiveQuizStore = adapter.NopQuizStore{}
	if redisClient != nil {
		quizStore = redisstore.NewActiveQuizStore(redisClient)
	}

	revealDelay := config.TTLDuration(cfg.Quiz.RevealDelay, defaultRevealDelay)
	hour, minute, err := config.DailyPostTime(cfg.Quiz.DailyPostUTC)
	if err != nil {
		return err
	}
	daily := adapter.NewDailyScheduler(hour, minute)

	var adapters []adapter.PlatformAdapter
	if cfg.Discord.Token != "" {
		adapters = append(adapters, discord.New(cfg.Discord.Token, exSet, quizStore, revealDelay, cfg.Discord.Prefix, daily))
	}
	if cfg.Telegram.Token != "" {
		client := telegram.NewHTTPClient(cfg.Telegram.Token)
		adapters = append(adapters, telegram.New(client, exSet, quizStore, revealDelay, cfg.Telegram.PollTimeout, daily))
	}
	if cfg.Slack.WebhookURL != "" {
		adapters = append(adapters, slack.New(cfg.Slack.WebhookURL, cfg.Slack.Channel, exSet, daily))
	}
	if len(adapters) == 0 {
		return fmt.Errorf("no platform adapters configured")
	}

	printBanner(exSet, adapters)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	group, groupCtx := errgroup.WithContext(runCtx)
	for _, a := range adapters {
		a := a
		group.Go(func() error {
			log.Info("starting adapter", zap.String("platform", a.Name()))
			if err := a.Start(groupCtx); err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("%s adapter: %w", a.Name(), err)
			}
			return nil
		})
	}

	server := &http.Server{
		Addr:         ":" + portFlag,
		Handler:      healthMux(exSet),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}
	group.Go(func() error {
		log.Info("health endpoint listening", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-stop:
		log.Info("shutting down")
	case <-groupCtx.Done():
		log.Info("adapter stopped, shutting down")
	}
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	server.Shutdown(shutdownCtx)
	for _, a := range adapters {
		a.Stop(shutdownCtx)
	}
	return group.Wait()
}

func healthMux(exams *adapter.ExamSet) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, "exams: %s, questions: %d\n",
			strings.Join(exams.Exams(), ","), exams.TotalQuestions())
		for _, exam := range exams.Exams() {
			eng, _ := exams.Engine(exam)
			global, err := eng.GlobalStats(r.Context())
			if err != nil {
				fmt.Fprintf(w, "%s: stats unavailable: %v\n", exam, err)
				continue
			}
			fmt.Fprintf(w, "%s: %d servers, %d users, %d answers (%d correct)\n",
				exam, global.Servers, global.Users, global.Answers, global.Correct)
		}
	})
	return mux
}

func printBanner(exams *adapter.ExamSet, adapters []adapter.PlatformAdapter) {
	heading := color.New(color.FgCyan, color.Bold)
	heading.Println("cert-quiz-service")

	names := make([]string, 0, len(adapters))
	for _, a := range adapters {
		names = append(names, a.Name())
	}
	fmt.Printf("  platforms: %s\n", strings.Join(names, ", "))

	green := color.New(color.FgGreen)
	for _, exam := range exams.Exams() {
		eng, _ := exams.Engine(exam)
		green.Printf("  %s", eng.ExamUpper())
		fmt.Printf(" — %d questions, %d sections\n", eng.QuestionCount(), len(eng.Sections()))
	}
}
