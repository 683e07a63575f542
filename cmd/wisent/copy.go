package main

import (
	"github.com/spf13/cobra"
)

func copyCmd() *cobra.Command {
	var compact bool
	cmd := &cobra.Command{
		Use:   "copy <dest>",
		Short: "Write a consistent backup of the environment",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			env, cleanup, err := openEnv(true)
			if err != nil {
				return err
			}
			defer cleanup()
			return env.Copy(args[0], compact)
		},
	}
	cmd.Flags().BoolVar(&compact, "compact", false, "rebuild the copy, reclaiming free space")
	return cmd
}
