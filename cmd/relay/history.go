package main

import (
	"fmt"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"

	"salesops-relay/internal/db"
	"salesops-relay/internal/history/domain"
	"salesops-relay/internal/history/repository"
)

var historyLimit int32

var historyCmd = &cobra.Command{
	Use:   "history [task-id]",
	Short: "List recorded verification attempts, newest first",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runHistory,
}

func init() {
	historyCmd.Flags().Int32Var(&historyLimit, "limit", repository.DefaultLimit, "maximum number of attempts to list")
}

func runHistory(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadEnv(logFile)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()
	if cfg.DatabaseURL == "" {
		return db.ErrNoDSN
	}

	ctx := cmd.Context()
	sqlDB, err := db.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	repo := repository.NewPostgresRepository(sqlDB)
	var attempts []*domain.Attempt
	if len(args) == 1 {
		attempts, err = repo.ListByTask(ctx, args[0], historyLimit)
	} else {
		attempts, err = repo.ListRecent(ctx, historyLimit)
	}
	if err != nil {
		return err
	}
	if len(attempts) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "no attempts recorded")
		return nil
	}
	fmt.Fprintln(cmd.OutOrStdout(), renderAttempts(attempts))
	return nil
}

func renderAttempts(attempts []*domain.Attempt) string {
	rows := make([][]string, 0, len(attempts))
	for _, a := range attempts {
		rows = append(rows, []string{
			a.CreatedAt.Local().Format(time.DateTime),
			a.TaskID,
			a.Phone,
			string(a.Outcome),
			a.Detail,
		})
	}
	return table.New().
		Border(lipgloss.NormalBorder()).
		Headers("TIME", "TASK", "PHONE", "OUTCOME", "DETAIL").
		Rows(rows...).
		String()
}
