package main

import (
	"fmt"
	"strconv"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	tamperField string
	tamperValue string
)

// tamperCmd edits a stored payload behind the ledger's back so operators
// can watch verify catch it. The ledger itself has no edit operation.
var tamperCmd = &cobra.Command{
	Use:    "tamper <block-number>",
	Short:  "Overwrite a payload field directly in Postgres (diagnostic)",
	Hidden: true,
	Args:   cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		seq, err := strconv.ParseUint(args[0], 10, 64)
		if err != nil || seq == 0 {
			return fmt.Errorf("invalid block number %q", args[0])
		}
		if err := tamperSupported(viper.GetString("ledger.backend")); err != nil {
			return err
		}

		ctx := cmd.Context()
		db, err := pgxpool.New(ctx, viper.GetString("database.url"))
		if err != nil {
			return fmt.Errorf("connect to postgres: %w", err)
		}
		defer db.Close()

		tag, err := db.Exec(ctx, `
			UPDATE ledger_blocks
			SET payload = jsonb_set(payload::jsonb, ARRAY[$2::text], to_jsonb($3::text))::json
			WHERE sequence_number = $1`,
			int64(seq), tamperField, tamperValue,
		)
		if err != nil {
			return fmt.Errorf("tamper block %d: %w", seq, err)
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("block %d not found", seq)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Block #%d: payload %q set to %q; run `chainctl verify`\n",
			seq, tamperField, tamperValue)
		return nil
	},
}

// tamperSupported reports whether backend can be edited out of band. Only
// Postgres is reachable with plain SQL; the other stores go through the
// ledger package, which has no edit operation.
func tamperSupported(backend string) error {
	if backend != "postgres" {
		return fmt.Errorf("tamper only supports the postgres backend, not %q", backend)
	}
	return nil
}

func init() {
	tamperCmd.Flags().StringVar(&tamperField, "field", "operation", "top-level payload key to overwrite")
	tamperCmd.Flags().StringVar(&tamperValue, "value", "tampered", "new string value")
}
