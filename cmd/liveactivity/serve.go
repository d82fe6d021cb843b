package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/spf13/cobra"

	"liveactivity/internal/app"
	"liveactivity/internal/ipc"
	"liveactivity/pkg/logx"
)

func newServeCmd(f *rootFlags) *cobra.Command {
	var (
		requestTimeout time.Duration
		stopTimeout    time.Duration
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve live activity requests as JSON lines on stdin/stdout",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := app.New(f.config, app.Options{BackendName: f.backend})
			if err != nil {
				return err
			}
			return serve(cmd.Context(), a, cmd, requestTimeout, stopTimeout)
		},
	}
	cmd.Flags().DurationVar(&requestTimeout, "request-timeout", 30*time.Second, "upper bound for one request (0 disables)")
	cmd.Flags().DurationVar(&stopTimeout, "stop-timeout", 10*time.Second, "upper bound for graceful shutdown")
	return cmd
}

func serve(parent context.Context, a *app.App, cmd *cobra.Command, requestTimeout, stopTimeout time.Duration) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	if err := a.Start(ctx); err != nil {
		_ = a.Stop(context.Background(), app.StopFatalError)
		return err
	}
	log := a.Logger()

	srv := ipc.NewServer(a.Controller(), a.BackendName(), requestTimeout, log)
	serveErr := make(chan error, 1)
	go func() { serveErr <- srv.Serve(ctx, cmd.InOrStdin(), cmd.OutOrStdout()) }()

	// Not running under systemd is fine; SdNotify reports false, nil.
	if _, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		log.Debug("sd_notify ready failed", logx.Err(err))
	}

	var (
		reason = app.StopUnknown
		runErr error
	)
	select {
	case sig := <-sigCh:
		reason = app.StopSIGINT
		if sig == syscall.SIGTERM {
			reason = app.StopSIGTERM
		}
	case err := <-serveErr:
		reason = app.StopInputClosed
		runErr = err
	case <-a.Done():
		reason = app.StopFatalError
		runErr = a.Err()
	case <-parent.Done():
		reason = app.StopAppStop
	}

	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)
	cancel()

	stopCtx, stopCancel := context.WithTimeout(context.Background(), stopTimeout)
	defer stopCancel()
	if err := a.Stop(stopCtx, reason); err != nil {
		runErr = errors.Join(runErr, err)
	}
	return runErr
}
