package cli

import (
	"fmt"
	"time"

	"github.com/Harshitk-cp/memlayer/internal/auth"
	"github.com/Harshitk-cp/memlayer/internal/config"
	"github.com/Harshitk-cp/memlayer/internal/domain"
	"github.com/Harshitk-cp/memlayer/internal/store"
	"github.com/spf13/cobra"
)

func init() {
	token := &cobra.Command{
		Use:   "token <subject>",
		Short: "Issue a development bearer token",
		Args:  cobra.ExactArgs(1),
		RunE:  runToken,
	}
	token.Flags().String("role", string(domain.RoleUser), "Role claim: admin, developer or user")
	token.Flags().Duration("ttl", 24*time.Hour, "Token lifetime")
	RootCmd.AddCommand(token)

	role := &cobra.Command{
		Use:   "role <subject> <role>",
		Short: "Store a role override for a subject",
		Args:  cobra.ExactArgs(2),
		RunE:  runRole,
	}
	RootCmd.AddCommand(role)
}

func runToken(cmd *cobra.Command, args []string) error {
	role, _ := cmd.Flags().GetString("role")
	ttl, _ := cmd.Flags().GetDuration("ttl")

	issuer, err := auth.NewJWT(config.JWTSecret(), config.JWTIssuer(), nil)
	if err != nil {
		return err
	}
	tok, err := issuer.Issue(args[0], domain.Role(role), ttl)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), tok)
	return nil
}

func runRole(cmd *cobra.Command, args []string) error {
	pool, err := openPool(cmd.Context())
	if err != nil {
		return err
	}
	defer pool.Close()

	roles := auth.NewRoleCache(store.NewRoleStore(pool), config.RoleCacheTTL(), newLogger())
	if err := roles.Set(cmd.Context(), args[0], domain.Role(args[1])); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s is now %s\n", args[0], args[1])
	return nil
}
