package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"liveactivity/internal/activity"
	"liveactivity/internal/app"
)

type demoFlags struct {
	title    string
	steps    int
	interval time.Duration
}

func newDemoCmd(f *rootFlags) *cobra.Command {
	d := demoFlags{}
	cmd := &cobra.Command{
		Use:   "demo",
		Short: "Run a sample activity from 0% to 100% on the configured backend",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if d.steps < 1 {
				return fmt.Errorf("--steps must be >= 1")
			}
			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer cancel()

			a, err := app.New(f.config, app.Options{BackendName: f.backend})
			if err != nil {
				return err
			}
			if err := a.Start(ctx); err != nil {
				_ = a.Stop(context.Background(), app.StopFatalError)
				return err
			}
			runErr := runDemo(ctx, a, d, cmd)

			stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer stopCancel()
			_ = a.Stop(stopCtx, app.StopAppStop)
			return runErr
		},
	}
	cmd.Flags().StringVar(&d.title, "title", "Demo task", "activity title")
	cmd.Flags().IntVar(&d.steps, "steps", 4, "number of progress updates")
	cmd.Flags().DurationVar(&d.interval, "interval", time.Second, "delay between updates")
	return cmd
}

func runDemo(ctx context.Context, a *app.App, d demoFlags, cmd *cobra.Command) error {
	ctrl := a.Controller()
	out := cmd.OutOrStdout()

	req := activity.CreateRequest{
		Version: 1,
		Content: activity.Content{TaskQueue: &activity.TaskQueue{
			ID:       "demo-" + strconv.FormatInt(time.Now().Unix(), 10),
			Title:    d.title,
			Text:     "liveactivity demo",
			TaskName: "demo",
			State:    map[string]string{"progress": "0"},
		}},
	}
	if err := ctrl.Create(ctx, req); err != nil {
		return err
	}
	_, _ = fmt.Fprintf(out, "created on %s\n", a.BackendName())

	for i := 1; i <= d.steps; i++ {
		select {
		case <-ctx.Done():
			return ctrl.Remove(context.Background())
		case <-time.After(d.interval):
		}
		p := strconv.FormatFloat(float64(i)/float64(d.steps), 'f', 2, 64)
		if err := ctrl.Update(ctx, activity.UpdateRequest{State: map[string]string{"progress": p}}); err != nil {
			return err
		}
		_, _ = fmt.Fprintf(out, "progress %s\n", p)
	}
	return nil
}
