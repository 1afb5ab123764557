package cli

import (
	"fmt"

	"github.com/Harshitk-cp/memlayer/internal/domain"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

func init() {
	audit := &cobra.Command{
		Use:   "audit <memory-id>",
		Short: "Print the audit trail of a memory",
		Args:  cobra.ExactArgs(1),
		RunE:  runAudit,
	}
	audit.Flags().Bool("candidate", false, "Treat the id as a candidate id")
	RootCmd.AddCommand(audit)

	pending := &cobra.Command{
		Use:   "pending",
		Short: "List candidates awaiting review",
		Long:  "List candidates awaiting review, newest first. Without --owner the whole queue is listed.",
		RunE:  runPending,
	}
	pending.Flags().String("owner", "", "Only candidates of this owner")
	pending.Flags().IntP("limit", "l", 50, "Max results")
	RootCmd.AddCommand(pending)

	RootCmd.AddCommand(&cobra.Command{
		Use:   "sweep",
		Short: "Run one expiry sweep now",
		RunE:  runSweep,
	})
}

func runAudit(cmd *cobra.Command, args []string) error {
	id, err := uuid.Parse(args[0])
	if err != nil {
		return fmt.Errorf("invalid id %q: %w", args[0], err)
	}
	asCandidate, _ := cmd.Flags().GetBool("candidate")

	pool, err := openPool(cmd.Context())
	if err != nil {
		return err
	}
	defer pool.Close()

	svcs, done, err := openServices(cmd.Context(), pool)
	if err != nil {
		return err
	}
	defer done()

	var entries []domain.AuditLogEntry
	if asCandidate {
		entries, err = svcs.Audit.CandidateTrail(cmd.Context(), id, domain.SystemActor)
	} else {
		entries, err = svcs.Audit.Trail(cmd.Context(), id, domain.SystemActor)
	}
	if err != nil {
		return err
	}
	return printJSON(cmd, entries)
}

func runPending(cmd *cobra.Command, args []string) error {
	owner, _ := cmd.Flags().GetString("owner")
	limit, _ := cmd.Flags().GetInt("limit")

	pool, err := openPool(cmd.Context())
	if err != nil {
		return err
	}
	defer pool.Close()

	svcs, done, err := openServices(cmd.Context(), pool)
	if err != nil {
		return err
	}
	defer done()
	list, err := svcs.Gate.ListPending(cmd.Context(), domain.SystemActor, owner, limit, 0)
	if err != nil {
		return err
	}
	return printJSON(cmd, list)
}

func runSweep(cmd *cobra.Command, args []string) error {
	pool, err := openPool(cmd.Context())
	if err != nil {
		return err
	}
	defer pool.Close()

	svcs, done, err := openServices(cmd.Context(), pool)
	if err != nil {
		return err
	}
	defer done()
	res := svcs.Expirer.Sweep(cmd.Context())
	fmt.Fprintf(cmd.OutOrStdout(), "expired %d memories, rejected %d stale candidates\n", res.Expired, res.Rejected)
	return nil
}
