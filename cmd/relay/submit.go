package main

import (
	"errors"
	"fmt"
	"os"
	"os/signal"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"salesops-relay/internal/verification/submit"
)

var submitCmd = &cobra.Command{
	Use:   "submit <task-id> <code>",
	Short: "Submit a verification code for a task without waiting for a prompt",
	Args:  cobra.ExactArgs(2),
	RunE:  runSubmit,
}

func runSubmit(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadEnv(logFile)
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.close(ctx)

	api := submit.NewClient(cfg.APIURL, cfg.APIToken, cfg.SubmitTimeoutDuration())
	sub := a.submitter(api, a.notifier(nil))
	o := sub.Run(ctx, uuid.NewString(), args[0], args[1])

	out := cmd.OutOrStdout()
	switch o.Status {
	case submit.StatusAccepted:
		fmt.Fprintf(out, "accepted: %s\n", o.Message)
		return nil
	case submit.StatusSkipped:
		fmt.Fprintf(out, "skipped: %s\n", o.Message)
		return errors.New("submission skipped")
	default:
		return fmt.Errorf("submission failed: %w", o.Err)
	}
}
