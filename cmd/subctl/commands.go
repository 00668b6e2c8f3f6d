package main

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/bivex/entitlement-sync/internal/application/dto"
)

func newRootCmd(open runtimeOpener) *cobra.Command {
	root := &cobra.Command{
		Use:          "subctl",
		Short:        "Entitlement record operations",
		Long:         `Inspect and correct subscription entitlement records`,
		SilenceUsage: true,
	}

	// with opens the runtime for one command invocation
	with := func(run func(cmd *cobra.Command, args []string, rt *runtime) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, args []string) error {
			rt, err := open(cmd.Context())
			if err != nil {
				return fmt.Errorf("failed to open stores: %w", err)
			}
			defer rt.close()
			return run(cmd, args, rt)
		}
	}

	root.AddCommand(
		newStatusCmd(with),
		newSweepCmd(with),
		newGrantCmd(with),
		newRevokeCmd(with),
		newPurgeEventsCmd(with),
		newTokenCmd(with),
	)
	return root
}

type runWith func(run func(cmd *cobra.Command, args []string, rt *runtime) error) func(*cobra.Command, []string) error

func newStatusCmd(with runWith) *cobra.Command {
	return &cobra.Command{
		Use:   "status <user-id>",
		Short: "Show a user's entitlement",
		Args:  cobra.ExactArgs(1),
		RunE: with(func(cmd *cobra.Command, args []string, rt *runtime) error {
			resp, err := rt.status.Execute(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), resp)
		}),
	}
}

func newSweepCmd(with runWith) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Expire records whose paid period has ended",
		Args:  cobra.NoArgs,
		RunE: with(func(cmd *cobra.Command, _ []string, rt *runtime) error {
			report, err := rt.sweeper.Sweep(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "scanned=%d expired=%d skipped=%d failed=%d\n",
				report.Scanned, report.Expired, report.Skipped, report.Failed)
			return nil
		}),
	}
}

func newGrantCmd(with runWith) *cobra.Command {
	var (
		period string
		until  string
	)
	cmd := &cobra.Command{
		Use:   "grant <user-id>",
		Short: "Grant a plan without a payment platform",
		Example: `  # Grant a year of premium
  subctl grant user-42 --period yearly

  # Grant until a fixed date
  subctl grant user-42 --period monthly --until 2027-01-01T00:00:00Z`,
		Args: cobra.ExactArgs(1),
		RunE: with(func(cmd *cobra.Command, args []string, rt *runtime) error {
			resp, err := rt.grant.Execute(cmd.Context(), args[0], &dto.GrantManualRequest{
				BillingPeriod: period,
				ExpiresAt:     until,
			})
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), resp)
		}),
	}
	cmd.Flags().StringVar(&period, "period", "monthly", "billing period: monthly, yearly or lifetime")
	cmd.Flags().StringVar(&until, "until", "", "RFC3339 end of the grant (default: one period from now)")
	return cmd
}

func newRevokeCmd(with runWith) *cobra.Command {
	return &cobra.Command{
		Use:   "revoke <user-id>",
		Short: "Expire a manual grant",
		Args:  cobra.ExactArgs(1),
		RunE: with(func(cmd *cobra.Command, args []string, rt *runtime) error {
			resp, err := rt.revoke.Execute(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), resp)
		}),
	}
}

func newPurgeEventsCmd(with runWith) *cobra.Command {
	var before string
	cmd := &cobra.Command{
		Use:   "purge-events",
		Short: "Remove processed-event keys past retention",
		Args:  cobra.NoArgs,
		RunE: with(func(cmd *cobra.Command, _ []string, rt *runtime) error {
			cutoff := time.Now()
			if before != "" {
				t, err := time.Parse(time.RFC3339, before)
				if err != nil {
					return fmt.Errorf("invalid --before: %w", err)
				}
				cutoff = t
			}
			n, err := rt.events.Purge(cmd.Context(), cutoff)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "purged=%d\n", n)
			return nil
		}),
	}
	cmd.Flags().StringVar(&before, "before", "", "RFC3339 cutoff (default: now)")
	return cmd
}

func newTokenCmd(with runWith) *cobra.Command {
	var role string
	cmd := &cobra.Command{
		Use:   "token <user-id>",
		Short: "Issue an access token for a user",
		Args:  cobra.ExactArgs(1),
		RunE: with(func(cmd *cobra.Command, args []string, rt *runtime) error {
			token, _, err := rt.jwt.GenerateAccessToken(args[0], role)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		}),
	}
	cmd.Flags().StringVar(&role, "role", "", "role claim, e.g. admin")
	return cmd
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
