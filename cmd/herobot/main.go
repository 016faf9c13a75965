package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"herobot/internal/app"
	"herobot/internal/jobs"
)

func main() {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "./config.yaml", "path to config file (yaml or json)")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	a, err := app.NewApp(cfgPath, gameExecutors())
	if err != nil {
		fmt.Println("fatal:", err)
		os.Exit(1)
	}

	if err := a.Start(ctx); err != nil {
		fmt.Println("fatal start:", err)
		os.Exit(1)
	}

	select {
	case <-ctx.Done():
	case <-a.ShutdownRequested():
	case <-a.Done():
	}

	// The drain can legitimately take a while; bound the whole stop anyway.
	stopCtx, stopCancel := context.WithTimeout(context.Background(), 35*time.Minute)
	defer stopCancel()
	_ = a.Stop(stopCtx)

	if err := a.Err(); err != nil {
		fmt.Println("exited with error:", err)
		os.Exit(1)
	}
}

// gameExecutors binds built-in job IDs to their implementations. The
// game-facing layer ships separately; a build that omits it registers
// nothing and the scheduler simply has no executors to run.
func gameExecutors() map[string]jobs.Executor {
	return map[string]jobs.Executor{}
}
