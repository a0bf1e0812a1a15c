package cmd

import (
	"fmt"

	"github.com/rudransh-shrivastava/peerdrop/internal/identity"
	"github.com/spf13/cobra"
)

var idCmd = &cobra.Command{
	Use:   "id",
	Short: "print a fresh identity",
	Long:  `print a random six character identity usable with --id`,
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := identity.New()
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), id)
		return nil
	},
}
