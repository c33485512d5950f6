package cli

import (
	"errors"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/mcoot/tilerush/internal/dependencies/clock"
	"github.com/mcoot/tilerush/internal/model"
	"github.com/mcoot/tilerush/internal/services/auth"
)

func newTokenCmd() *cobra.Command {
	var (
		secret string
		issuer string
		name   string
		ttl    time.Duration
		noSave bool
	)

	cmd := &cobra.Command{
		Use:   "token <username>",
		Short: "Mint a session token signed with the server secret",
		Long: `Mint an HS256 session token for local testing.

The token is signed with the same secret the server verifies against and is
saved to the token file unless --no-save is given.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if secret == "" {
				return errors.New("a signing secret is required (--secret or TILERUSH_JWT_SECRET)")
			}

			authCfg := auth.DefaultConfig()
			authCfg.Secret = []byte(secret)
			authCfg.Issuer = issuer
			authCfg.TokenTTL = ttl

			clk := clock.New()
			iss, err := auth.NewIssuer(authCfg, clk)
			if err != nil {
				return err
			}

			token, err := iss.Issue(model.Identity{Username: args[0], DisplayName: name})
			if err != nil {
				return err
			}

			result := TokenResult{
				Username: args[0],
				Token:    token,
				Expires:  clk.Now().Add(ttl),
			}
			if !noSave {
				if err := cfg.SaveToken(token); err != nil {
					return err
				}
				client.SetToken(token)
				result.Saved = cfg.TokenFile
			}

			NewOutput(cfg.Output).Print(result)
			return nil
		},
	}

	cmd.Flags().StringVar(&secret, "secret", os.Getenv("TILERUSH_JWT_SECRET"), "Signing secret (env: TILERUSH_JWT_SECRET)")
	cmd.Flags().StringVar(&issuer, "issuer", getEnvOrDefault("TILERUSH_JWT_ISSUER", auth.DefaultConfig().Issuer), "Token issuer (env: TILERUSH_JWT_ISSUER)")
	cmd.Flags().StringVar(&name, "name", "", "Display name (defaults to the username)")
	cmd.Flags().DurationVar(&ttl, "ttl", auth.DefaultConfig().TokenTTL, "Token lifetime")
	cmd.Flags().BoolVar(&noSave, "no-save", false, "Print the token without saving it")

	return cmd
}
