package cli

import (
	"fmt"

	"github.com/Harshitk-cp/memlayer/internal/buildconfig"
	"github.com/spf13/cobra"
)

func init() {
	RootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "memctl %s (%s)\n", buildconfig.Version(), buildconfig.Commit())
		},
	})
}
