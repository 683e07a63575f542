package main

import (
	"bufio"
	"encoding/hex"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/wisentdb/wisent"
)

func dumpCmd() *cobra.Command {
	var (
		dbName string
		prefix string
		limit  int
	)
	cmd := &cobra.Command{
		Use:   "dump",
		Short: "Print the contents of a database as hex pairs",
		RunE: func(cmd *cobra.Command, args []string) error {
			env, cleanup, err := openEnv(true)
			if err != nil {
				return err
			}
			defer cleanup()

			out := bufio.NewWriter(os.Stdout)
			defer out.Flush()

			return env.View(func(tx *wisent.Txn) error {
				dbi := wisent.MainDBI
				if dbName != "" {
					var err error
					dbi, err = tx.OpenDBI(dbName, wisent.DBFlags{})
					if err != nil {
						return err
					}
				}
				kr := wisent.All()
				if prefix != "" {
					p, err := hex.DecodeString(prefix)
					if err != nil {
						return fmt.Errorf("bad --prefix: %w", err)
					}
					kr = wisent.Prefix(p)
				}
				rng, err := tx.Range(dbi, kr)
				if err != nil {
					return err
				}
				it, err := rng.Iterator()
				if err != nil {
					return err
				}
				defer it.Close()

				n := 0
				for it.Next() {
					fmt.Fprintf(out, "%x %x\n", it.Key(), it.Value())
					n++
					if limit > 0 && n >= limit {
						break
					}
				}
				return it.Err()
			})
		},
	}
	cmd.Flags().StringVar(&dbName, "db", "", "named database to dump")
	cmd.Flags().StringVar(&prefix, "prefix", "", "hex key prefix to restrict the dump")
	cmd.Flags().IntVar(&limit, "limit", 0, "stop after this many pairs (0 = all)")
	return cmd
}
