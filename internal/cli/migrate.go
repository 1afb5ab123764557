package cli

import (
	"fmt"

	"github.com/Harshitk-cp/memlayer/internal/store"
	"github.com/spf13/cobra"
)

func init() {
	RootCmd.AddCommand(&cobra.Command{
		Use:   "migrate",
		Short: "Apply pending schema migrations",
		RunE:  runMigrate,
	})
}

func runMigrate(cmd *cobra.Command, args []string) error {
	pool, err := openPool(cmd.Context())
	if err != nil {
		return err
	}
	defer pool.Close()

	applied, err := store.Migrate(cmd.Context(), pool)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "applied %d migration(s), schema at version %d\n", applied, store.LatestVersion())
	return nil
}
