package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"loom/internal/logging"
	"loom/internal/store"
	"loom/internal/watchdog"
)

func newSweepCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Run one watchdog pass: expire lapsed leases, offline silent workers",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			return ctx.withStore(func(st *store.Store) error {
				wd, err := watchdog.New(cfg, st, logging.Discard())
				if err != nil {
					return err
				}
				result, err := wd.Sweep(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Expired %d leases, marked %d workers offline\n",
					result.ExpiredClaims, result.OfflinedWorkers)
				return nil
			})
		},
	}
}
