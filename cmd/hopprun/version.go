package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"pkt.systems/hopprun"
)

const modulePath = "pkt.systems/hopprun"

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", modulePath, hopprun.Version())
			return err
		},
	}
}
