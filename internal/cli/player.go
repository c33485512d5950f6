package cli

import (
	"errors"
	"net/url"

	"github.com/spf13/cobra"
)

var errNoToken = errors.New("no token: run 'tilerush token' or pass --token")

func newPlayerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "player",
		Short: "Player stats and achievements",
	}

	cmd.AddCommand(newPlayerStatsCmd())
	cmd.AddCommand(newPlayerAchievementsCmd())
	cmd.AddCommand(newPlayerMeCmd())
	cmd.AddCommand(newPlayerEnergyCmd())

	return cmd
}

func newPlayerStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats <username>",
		Short: "Show a player's stats",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var result PlayerStats

			if err := client.Get("/api/v1/players/"+url.PathEscape(args[0])+"/stats", &result); err != nil {
				return err
			}

			NewOutput(cfg.Output).Print(result)
			return nil
		},
	}
}

func newPlayerAchievementsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "achievements <username>",
		Short: "Show a player's achievements and progress",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var result Achievements

			if err := client.Get("/api/v1/players/"+url.PathEscape(args[0])+"/achievements", &result); err != nil {
				return err
			}

			NewOutput(cfg.Output).Print(result)
			return nil
		},
	}
}

func newPlayerMeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "me",
		Short: "Show your own stats",
		RunE: func(cmd *cobra.Command, args []string) error {
			if cfg.Token == "" {
				return errNoToken
			}

			var result PlayerStats
			if err := client.Get("/api/v1/players/me", &result); err != nil {
				return err
			}

			NewOutput(cfg.Output).Print(result)
			return nil
		},
	}
}

func newPlayerEnergyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "energy",
		Short: "Show your current energy",
		RunE: func(cmd *cobra.Command, args []string) error {
			if cfg.Token == "" {
				return errNoToken
			}

			var result Energy
			if err := client.Get("/api/v1/players/me/energy", &result); err != nil {
				return err
			}

			NewOutput(cfg.Output).Print(result)
			return nil
		},
	}
}
