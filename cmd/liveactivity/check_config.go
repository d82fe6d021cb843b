package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"liveactivity/internal/backend"
	"liveactivity/internal/config"
)

func newCheckConfigCmd(f *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "check-config",
		Short: "Validate the config file without starting anything",
		RunE: func(cmd *cobra.Command, _ []string) error {
			m := config.NewConfigManager(f.config)
			m.SetValidator(config.Validator)
			cfg, err := m.Load(context.Background())
			if err != nil {
				return err
			}
			name := cfg.Backend.Name
			if f.backend != "" {
				name = f.backend
			}
			resolved, err := backend.Resolve(name)
			if err != nil {
				return fmt.Errorf("backend.name: %w", err)
			}

			storage := "disabled"
			if cfg.Storage != nil && !strings.EqualFold(strings.TrimSpace(cfg.Storage.Driver), "none") && cfg.Storage.Driver != "" {
				storage = cfg.Storage.Driver
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "config ok: backend=%s storage=%s metrics=%t\n", resolved, storage, cfg.Metrics.Enabled)
			return nil
		},
	}
}
