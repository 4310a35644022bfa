package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/hearthkit/hearth/internal/pairing"
)

func pairCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pair",
		Short: "Manage the device pairing session",
	}
	cmd.AddCommand(pairNewCmd(), pairShowCmd(), pairClearCmd())
	return cmd
}

func pairNewCmd() *cobra.Command {
	var ttl time.Duration

	cmd := &cobra.Command{
		Use:   "new",
		Short: "Start a pairing session and print the code",
		RunE: func(cmd *cobra.Command, args []string) error {
			store := pairing.NewStore(resolveStateDir())
			session, err := pairing.NewSession(ttl)
			if err != nil {
				return err
			}
			if err := store.SaveSession(session); err != nil {
				return err
			}
			fmt.Printf("Pairing code: %s\n", session.Code)
			fmt.Printf("Expires in:   %s\n", session.Remaining(time.Now().UTC()).Round(time.Second))
			return nil
		},
	}

	cmd.Flags().DurationVar(&ttl, "ttl", pairing.DefaultSessionTTL, "how long the code stays valid")
	return cmd
}

func pairShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show the active pairing session",
		RunE: func(cmd *cobra.Command, args []string) error {
			store := pairing.NewStore(resolveStateDir())
			session, err := store.LoadSession()
			if err != nil {
				return err
			}
			if session == nil {
				fmt.Println("No active pairing session.")
				return nil
			}
			fmt.Printf("Pairing code: %s\n", session.Code)
			fmt.Printf("Expires in:   %s\n", session.Remaining(time.Now().UTC()).Round(time.Second))
			return nil
		},
	}
}

func pairClearCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Clear the active pairing session",
		RunE: func(cmd *cobra.Command, args []string) error {
			store := pairing.NewStore(resolveStateDir())
			if err := store.ClearSession(); err != nil {
				return err
			}
			fmt.Println("Pairing session cleared.")
			return nil
		},
	}
}
