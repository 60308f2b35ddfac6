package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/spf13/pflag"

	"watchbot/internal/app"
	"watchbot/internal/config"
)

func main() {
	var (
		cfgPath string
		check   bool
		grace   time.Duration
	)
	pflag.StringVarP(&cfgPath, "config", "c", "./config.yaml", "path to config (json or yaml)")
	pflag.BoolVar(&check, "check", false, "validate the config and exit")
	pflag.DurationVar(&grace, "shutdown-timeout", 15*time.Second, "how long to wait for a graceful stop")
	pflag.Parse()

	if check {
		cfg, err := config.NewManager(cfgPath).Parse()
		if err == nil {
			err = config.Validate(cfg)
		}
		if err != nil {
			fmt.Fprintln(os.Stderr, "invalid config:", err)
			os.Exit(1)
		}
		fmt.Println("config ok")
		return
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	a, err := app.New(ctx, cfgPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}
	if err := a.Start(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "fatal start:", err)
		stopCtx, stop := context.WithTimeout(context.Background(), grace)
		_ = a.Stop(stopCtx)
		stop()
		os.Exit(1)
	}
	// no-op outside systemd
	_, _ = daemon.SdNotify(false, daemon.SdNotifyReady)

	select {
	case <-ctx.Done():
	case <-a.Done():
	}
	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)

	stopCtx, stop := context.WithTimeout(context.Background(), grace)
	defer stop()
	code := 0
	if err := a.Err(); err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		code = 1
	}
	if err := a.Stop(stopCtx); err != nil {
		fmt.Fprintln(os.Stderr, "stop:", err)
		code = 1
	}
	if code != 0 {
		stop()
		os.Exit(code)
	}
}
