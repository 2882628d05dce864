/*
Copyright © 2026 Acronis International GmbH.

Released under MIT license.
*/

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/acronis/go-dbpatch/upgrade"
)

func (a *app) newUpgrader(opts ...upgrade.Option) (*upgrade.Upgrader, error) {
	opts = append([]upgrade.Option{
		upgrade.WithLogger(a.logger),
		upgrade.WithListener(newConsoleListener(a.out, a.flags.verbose)),
		upgrade.WithFs(a.fs),
	}, opts...)
	return upgrade.NewUpgrader(a.cfg, opts...)
}

// signalContext is canceled on SIGINT or SIGTERM; the upgrade then stops after the running patch.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func newUpgradeCommand(a *app) *cobra.Command {
	var (
		upgradeFile string
		downgrade   bool
		exclusive   bool
		lockTTL     time.Duration
		dryRun      bool
	)
	cmd := &cobra.Command{
		Use:   "upgrade [target]",
		Short: "Upgrade the databases to the target version",
		Long:  "Upgrade the databases to the target version. Without an argument, the target from the configuration is used.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var target string
			if len(args) != 0 {
				target = args[0]
			}
			if upgradeFile != "" {
				a.cfg.UpgradeFile = upgradeFile
			}
			if downgrade {
				a.cfg.DowngradeAllowed = true
			}
			var opts []upgrade.Option
			if exclusive {
				opts = append(opts, upgrade.WithExclusiveLock(lockTTL))
			}
			u, err := a.newUpgrader(opts...)
			if err != nil {
				return err
			}
			defer func() { _ = u.Close() }()

			ctx, cancel := signalContext()
			defer cancel()

			if dryRun {
				path, err := u.Plan(ctx, target)
				if err != nil {
					return err
				}
				if len(path) == 0 {
					fmt.Fprintln(a.out, "Nothing to do, the database is at the target version.")
				}
				for _, p := range path {
					fmt.Fprintln(a.out, p.String())
				}
				return nil
			}
			return u.Upgrade(ctx, target)
		},
	}
	f := cmd.Flags()
	f.StringVarP(&upgradeFile, "file", "f", "", "Upgrade file, overrides the configuration")
	f.BoolVar(&downgrade, "allow-downgrade", false, "Allow DOWNGRADE patches in the path")
	f.BoolVar(&exclusive, "exclusive", false, "Hold a run lock in the database while upgrading")
	f.DurationVar(&lockTTL, "lock-ttl", upgrade.DefaultLockTTL, "TTL of the run lock")
	f.BoolVar(&dryRun, "dry-run", false, "Print the patches that would be applied")
	return cmd
}

func newStatusCommand(a *app) *cobra.Command {
	var history bool
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Print the current version of the databases",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			u, err := a.newUpgrader()
			if err != nil {
				return err
			}
			defer func() { _ = u.Close() }()

			ctx, cancel := signalContext()
			defer cancel()

			state, err := u.CurrentVersion(ctx)
			if err != nil {
				return err
			}
			if state.Version == "" {
				fmt.Fprintln(a.out, "The database is not initialized.")
			} else {
				fmt.Fprintf(a.out, "Version: %s\nPatches applied: %d\nStatements executed: %d\n",
					state.Version, state.Rows, state.Statements)
			}
			if !history || state.Rows == 0 {
				return nil
			}

			records, err := u.Records(ctx)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "\nKIND\tSOURCE\tTARGET\tSTATEMENTS\tAPPLIED AT")
			for _, r := range records {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\n",
					r.Kind, r.Source, r.Target, r.Statements, r.AppliedAt.Format(time.RFC3339))
			}
			return tw.Flush()
		},
	}
	cmd.Flags().BoolVar(&history, "history", false, "Also print every applied patch")
	return cmd
}

func newTargetsCommand(a *app) *cobra.Command {
	var downgrade bool
	cmd := &cobra.Command{
		Use:   "targets",
		Short: "List the versions reachable from the current version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if downgrade {
				a.cfg.DowngradeAllowed = true
			}
			u, err := a.newUpgrader()
			if err != nil {
				return err
			}
			defer func() { _ = u.Close() }()

			ctx, cancel := signalContext()
			defer cancel()

			targets, err := u.Targets(ctx)
			if err != nil {
				return err
			}
			for _, t := range targets {
				fmt.Fprintln(a.out, t)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&downgrade, "allow-downgrade", false, "Include versions reachable only through DOWNGRADE patches")
	return cmd
}

func newExecCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "exec <script>",
		Short: "Execute a SQL script against the configured connections",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := a.fs.Open(args[0])
			if err != nil {
				return fmt.Errorf("open script: %w", err)
			}
			defer func() { _ = f.Close() }()

			u, err := a.newUpgrader()
			if err != nil {
				return err
			}
			defer func() { _ = u.Close() }()

			ctx, cancel := signalContext()
			defer cancel()
			return u.ExecuteScript(ctx, f, args[0])
		},
	}
}
