// Command followup runs one follow-up sweep, or prints statistics, and exits.
// It is meant for cron-style deployments that do not keep cmd/server's
// scheduler running.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ignite/cardmail/internal/app"
	"github.com/ignite/cardmail/internal/config"
	"github.com/ignite/cardmail/internal/pkg/distlock"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout)
	stop()
	os.Exit(code)
}

// run returns the process exit code. Everything opened here is closed
// before it returns.
func run(ctx context.Context, args []string, stdout io.Writer) int {
	fs := flag.NewFlagSet("followup", flag.ContinueOnError)
	configPath := fs.String("config", "config/config.yaml", "path to config file")
	statsOnly := fs.Bool("stats", false, "print statistics instead of sending")
	threshold := fs.Duration("threshold", 0, "override followup.threshold")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	cfg, err := config.LoadFromEnv(*configPath)
	if err != nil {
		log.Printf("Failed to load config: %v", err)
		return 1
	}
	if *threshold > 0 {
		cfg.FollowUp.Threshold = *threshold
	}

	a, err := app.New(ctx, cfg)
	if err != nil {
		log.Printf("Failed to initialize: %v", err)
		return 1
	}
	defer func() {
		if err := a.Close(); err != nil {
			log.Printf("close: %v", err)
		}
	}()

	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")

	if *statsOnly {
		statsCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		defer cancel()
		stats, err := a.FollowUps.Stats(statsCtx, cfg.FollowUp.Threshold, false)
		if err != nil {
			log.Printf("stats: %v", err)
			return 1
		}
		_ = enc.Encode(stats)
		return 0
	}

	if a.Dispatcher == nil {
		log.Printf("no email transport configured for provider %q", cfg.Mailer.Provider)
		return 1
	}

	summary, err := a.Scheduler.RunNow(ctx)
	if errors.Is(err, distlock.ErrNotAcquired) {
		log.Println("another sweep is running, nothing to do")
		return 0
	}
	if err != nil {
		log.Printf("sweep: %v", err)
		return 1
	}
	_ = enc.Encode(summary)
	return 0
}
