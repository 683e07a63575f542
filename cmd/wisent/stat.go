package main

import (
	"os"
	"strconv"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/wisentdb/wisent"
)

func statCmd() *cobra.Command {
	var dbName string
	cmd := &cobra.Command{
		Use:   "stat",
		Short: "Print environment and database statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			env, cleanup, err := openEnv(true)
			if err != nil {
				return err
			}
			defer cleanup()

			info, err := env.Info()
			if err != nil {
				return err
			}
			envTable := tablewriter.NewWriter(os.Stdout)
			envTable.SetHeader([]string{"Map Size", "Page Size", "Last Pgno", "Last Txnid", "Readers"})
			envTable.Append([]string{
				strconv.FormatUint(info.MapSize, 10),
				strconv.FormatUint(uint64(info.PageSize), 10),
				strconv.FormatUint(info.LastPgno, 10),
				strconv.FormatUint(info.LastTxnid, 10),
				strconv.Itoa(info.NumReaders) + "/" + strconv.Itoa(info.MaxReaders),
			})
			envTable.Render()

			return env.View(func(tx *wisent.Txn) error {
				dbi := wisent.MainDBI
				name := "(main)"
				if dbName != "" {
					dbi, err = tx.OpenDBI(dbName, wisent.DBFlags{})
					if err != nil {
						return err
					}
					name = dbName
				}
				st, err := tx.Stat(dbi)
				if err != nil {
					return err
				}
				dbTable := tablewriter.NewWriter(os.Stdout)
				dbTable.SetHeader([]string{"Database", "Depth", "Branch", "Leaf", "Overflow", "Entries"})
				dbTable.Append([]string{
					name,
					strconv.FormatUint(uint64(st.Depth), 10),
					strconv.FormatUint(st.BranchPages, 10),
					strconv.FormatUint(st.LeafPages, 10),
					strconv.FormatUint(st.OverflowPages, 10),
					strconv.FormatUint(st.Entries, 10),
				})
				dbTable.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&dbName, "db", "", "named database to describe")
	return cmd
}
