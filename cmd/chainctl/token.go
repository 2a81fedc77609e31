package main

import (
	"fmt"

	"github.com/jmerrifield20/scholarchain/internal/identity"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	tokenRole    string
	tokenSubject string
	tokenName    string
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Mint an API token signed with the configured auth.secret",
	Long: `token prints a bearer token for chaind's /api/v1/ledger routes.

  chainctl token --role service --sub backend
  AUTH_SECRET=... chainctl token --role admin --sub ops`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if !identity.ValidRole(tokenRole) {
			return fmt.Errorf("unknown role %q", tokenRole)
		}
		if tokenSubject == "" {
			return fmt.Errorf("--sub is required")
		}
		issuer, err := identity.NewTokenIssuer(
			[]byte(viper.GetString("auth.secret")),
			viper.GetString("auth.issuer"),
			viper.GetDuration("auth.token_ttl"),
		)
		if err != nil {
			return err
		}
		tok, err := issuer.Issue(tokenSubject, tokenName, tokenRole)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), tok)
		return nil
	},
}

func init() {
	tokenCmd.Flags().StringVar(&tokenRole, "role", identity.RoleService, "role claim")
	tokenCmd.Flags().StringVar(&tokenSubject, "sub", "", "subject (user ID) claim")
	tokenCmd.Flags().StringVar(&tokenName, "name", "", "display name claim")
	tokenCmd.Flags().Duration("ttl", 0, "token lifetime (default auth.token_ttl)")
	_ = viper.BindPFlag("auth.token_ttl", tokenCmd.Flags().Lookup("ttl"))
}
