package main

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/substackintel/pipeline/internal/syncer"
)

var (
	flagForce    bool
	flagFollow   bool
	flagAutoSync bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Trigger a sync and follow its progress",
	RunE:  runRun,
}

func init() {
	runCmd.Flags().BoolVarP(&flagForce, "force", "f", false, "bypass the freshness short-circuit")
	runCmd.Flags().BoolVar(&flagFollow, "follow", true, "stay attached and print progress until the run ends")
	runCmd.Flags().BoolVar(&flagAutoSync, "auto", false, "keep running and re-sync whenever data goes stale")
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := resolveConfig()
	if err != nil {
		return err
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelWarn,
	}))

	ctrl := syncer.NewController(cfg.ServerURL,
		syncer.WithLogger(logger),
		syncer.WithStateFile(syncer.NewStateFile(cfg.StateFile, logger)),
		syncer.WithNotifier(func(sev syncer.Severity, msg string) {
			fmt.Printf("[%s] %s\n", sev, msg)
		}),
	)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	done := make(chan struct{})
	var finish sync.Once
	var mu sync.Mutex
	var lastLine string
	unsubscribe := ctrl.Subscribe(func(s syncer.State) {
		mu.Lock()
		line := renderState(s)
		if line != lastLine {
			fmt.Println(line)
			lastLine = line
		}
		mu.Unlock()
		if !flagAutoSync && s.Status.Terminal() {
			finish.Do(func() { close(done) })
		}
	})
	defer unsubscribe()

	if flagForce {
		err = ctrl.ForceSync(ctx)
	} else {
		err = ctrl.StartPipeline(ctx)
	}
	if err != nil {
		return err
	}

	if flagAutoSync || cfg.AutoSync {
		ctrl.SetAutoSync(true)
		fmt.Printf("auto-sync enabled (every %s)\n", cfg.AutoSyncInterval())
		ctrl.RunAutoSync(ctx, cfg.AutoSyncInterval())
		ctrl.StopPipeline()
		return nil
	}

	if !flagFollow {
		return nil
	}

	select {
	case <-ctx.Done():
	case <-done:
		// Let the terminal state settle before detaching.
		time.Sleep(250 * time.Millisecond)
	}
	ctrl.StopPipeline()
	return nil
}

func renderState(s syncer.State) string {
	switch s.Status {
	case syncer.StatusFetching, syncer.StatusExtracting, syncer.StatusProcessing:
		if s.TotalEmails > 0 {
			return fmt.Sprintf("%-10s %3d%%  email %d/%d  %s",
				s.Status, s.Progress, s.CurrentEmail, s.TotalEmails, s.Message)
		}
		return fmt.Sprintf("%-10s %3d%%  %s", s.Status, s.Progress, s.Message)
	case syncer.StatusComplete:
		return fmt.Sprintf("%-10s %d emails, %d companies (%d new)",
			s.Status, s.Metrics.EmailsFetched, s.Metrics.CompaniesExtracted, s.Metrics.NewCompanies)
	case syncer.StatusError:
		return fmt.Sprintf("%-10s %s", s.Status, s.Message)
	default:
		return fmt.Sprintf("%-10s %s", s.Status, s.Message)
	}
}
