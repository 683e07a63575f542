package main

import (
	"fmt"
	"os"
	"strconv"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
)

func readersCmd() *cobra.Command {
	var clean bool
	cmd := &cobra.Command{
		Use:   "readers",
		Short: "List reader slots, optionally clearing dead ones",
		RunE: func(cmd *cobra.Command, args []string) error {
			env, cleanup, err := openEnv(true)
			if err != nil {
				return err
			}
			defer cleanup()

			if clean {
				n, err := env.ReaderCheck()
				if err != nil {
					return err
				}
				fmt.Printf("cleared %d stale reader slot(s)\n", n)
			}

			list, err := env.ReaderList()
			if err != nil {
				return err
			}
			table := tablewriter.NewWriter(os.Stdout)
			table.SetHeader([]string{"Slot", "PID", "Txnid", "Since"})
			for _, r := range list {
				table.Append([]string{
					strconv.Itoa(r.Slot),
					strconv.Itoa(r.PID),
					strconv.FormatUint(r.Txnid, 10),
					r.Since.Format("15:04:05"),
				})
			}
			table.Render()
			return nil
		},
	}
	cmd.Flags().BoolVar(&clean, "clean", false, "clear slots held by dead processes")
	return cmd
}
