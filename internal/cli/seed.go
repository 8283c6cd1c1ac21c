package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/spf13/cobra"

	"cert-quiz-service/internal/config"
	pgstore "cert-quiz-service/internal/infra/postgres"
)

// NewSeedCmd uploads question bank JSON files into Postgres.
func NewSeedCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "seed [files...]",
		Short: "Upload question bank JSON files to Postgres",
		Long: `Validates and uploads one or more question bank files. Each file must be
named <exam>_questions.json; the exam name is taken from the filename.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSeed(cmd.Context(), *configPath, args)
		},
	}
}

func runSeed(ctx context.Context, configPath string, files []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if cfg.Postgres.URL == "" {
		return fmt.Errorf("postgres url not configured")
	}
	if err := runMigrationsWithConfig(ctx, cfg); err != nil {
		return err
	}

	pool, err := pgxpool.Connect(ctx, cfg.Postgres.URL)
	if err != nil {
		return err
	}
	defer pool.Close()
	loader := pgstore.NewBankLoader(pool)

	for _, file := range files {
		exam := strings.TrimSuffix(filepath.Base(file), "_questions.json")
		if exam == filepath.Base(file) {
			return fmt.Errorf("%s: expected a <exam>_questions.json filename", file)
		}
		data, err := os.ReadFile(file)
		if err != nil {
			return err
		}
		count, err := loader.UpsertBank(ctx, exam, data)
		if err != nil {
			return fmt.Errorf("seed %s: %w", exam, err)
		}
		fmt.Printf("seeded %s: %d questions\n", exam, count)
	}
	return nil
}
