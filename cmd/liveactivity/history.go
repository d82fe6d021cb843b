package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"liveactivity/internal/config"
	"liveactivity/internal/storage"
	"liveactivity/pkg/logx"
)

func newHistoryCmd(f *rootFlags) *cobra.Command {
	var (
		limit  int
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Print the newest lifecycle journal entries",
		RunE: func(cmd *cobra.Command, _ []string) error {
			m := config.NewConfigManager(f.config)
			m.SetValidator(config.Validator)
			cfg, err := m.Load(context.Background())
			if err != nil {
				return err
			}
			if cfg.Storage == nil {
				return storage.ErrDisabled
			}
			st, err := storage.Open(storage.Config{Driver: cfg.Storage.Driver, Path: cfg.Storage.Path}, logx.Nop())
			if err != nil {
				return err
			}
			if st == nil {
				return storage.ErrDisabled
			}
			defer st.Close()

			entries, err := st.Recent(cmd.Context(), limit)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				for _, e := range entries {
					if err := enc.Encode(e); err != nil {
						return err
					}
				}
				return nil
			}
			for _, e := range entries {
				line := fmt.Sprintf("%s  %-18s %s", e.At.Local().Format(time.DateTime), e.Type, e.ActivityID)
				if e.ProgressText != "" {
					line += " " + e.ProgressText
				}
				if e.Error != "" {
					line += " error=" + e.Error
				}
				_, _ = fmt.Fprintln(out, line)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "number of entries")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print entries as JSON lines")
	return cmd
}
