package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/dropDatabas3/cfgvault/internal/syncer"
)

func newSyncCmd(cfgPath *string) *cobra.Command {
	var (
		local, remote                   string
		strategy, direction, resolution string
		namespaces                      []string
	)
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Ejecuta una pasada de sync y sale",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := loadConfig(*cfgPath)
			if err != nil {
				return err
			}
			if local != "" {
				cfg.Sync.Local = local
			}
			if remote != "" {
				cfg.Sync.Remote = remote
			}
			if cfg.Sync.Local == "" || cfg.Sync.Remote == "" {
				return fmt.Errorf("sync requiere --local y --remote (o sync.local/sync.remote en la config)")
			}
			// una pasada manual no arranca el loop de fondo
			cfg.Sync.Interval = ""

			a, err := build(cmd.Context(), cfg, log)
			if err != nil {
				return err
			}
			defer a.Close()

			var ro syncer.RunOptions
			if strategy != "" {
				if ro.Strategy, err = syncer.ParseStrategy(strategy); err != nil {
					return err
				}
			}
			if direction != "" {
				if ro.Direction, err = syncer.ParseDirection(direction); err != nil {
					return err
				}
			}
			if resolution != "" {
				if ro.Resolution, err = syncer.ParseResolution(resolution); err != nil {
					return err
				}
			}
			ro.Namespaces = namespaces

			res, runErr := a.sync.Sync(cmd.Context(), ro)
			if res != nil {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				if err := enc.Encode(res); err != nil {
					return err
				}
			}
			if runErr != nil {
				return runErr
			}
			switch res.Status {
			case syncer.StatusFailed:
				return fmt.Errorf("sync %s failed", res.ID)
			case syncer.StatusConflict:
				return fmt.Errorf("sync %s left %d unresolved conflicts", res.ID, res.Unresolved())
			}
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&local, "local", "", "Repositorio local (cliente)")
	f.StringVar(&remote, "remote", "", "Repositorio remoto (servidor)")
	f.StringVar(&strategy, "strategy", "", "full|incremental|selective")
	f.StringVar(&direction, "direction", "", "pull|push|bidirectional")
	f.StringVar(&resolution, "resolution", "", "server_wins|client_wins|merge_values|manual|abort")
	f.StringSliceVar(&namespaces, "namespace", nil, "Namespaces para selective (repetible)")
	return cmd
}
