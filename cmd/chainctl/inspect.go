package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/jmerrifield20/scholarchain/internal/ledger"
	"github.com/jmerrifield20/scholarchain/pkg/client"
	"github.com/spf13/cobra"
)

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// ── verify ───────────────────────────────────────────────────────────────────

var (
	verifyJSON   bool
	verifyServer string
	verifyToken  string
)

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Re-hash the whole chain and report every broken link",
	Long: `verify walks the chain from genesis, recomputing each digest and checking
each back-link. It exits with status 2 when the chain is broken.

With --server the check runs inside a chaind instance instead:

  chainctl verify --server http://localhost:8080 --token "$(chainctl token --role auditor --sub ops)"`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if verifyServer != "" {
			c, err := client.New(verifyServer, client.WithBearerToken(verifyToken))
			if err != nil {
				return err
			}
			return runRemoteVerify(cmd.Context(), c, cmd.OutOrStdout(), verifyJSON)
		}
		chain, _, closeStore, err := openChain(cmd.Context())
		if err != nil {
			return err
		}
		defer closeStore()
		return runVerify(cmd.Context(), chain, cmd.OutOrStdout(), verifyJSON)
	},
}

func init() {
	verifyCmd.Flags().BoolVar(&verifyJSON, "json", false, "print the full report as JSON")
	verifyCmd.Flags().StringVar(&verifyServer, "server", "", "chaind base URL; verify remotely instead of opening the store")
	verifyCmd.Flags().StringVar(&verifyToken, "token", "", "bearer token for --server (role admin, staff or auditor)")
}

func runVerify(ctx context.Context, chain *ledger.Chain, out io.Writer, asJSON bool) error {
	report, err := chain.Verify(ctx)
	if err != nil {
		return err
	}

	if asJSON {
		if err := writeJSON(out, report); err != nil {
			return err
		}
	} else if report.Valid {
		fmt.Fprintf(out, "Blockchain integrity verified successfully (%d blocks", report.Blocks)
		if report.Tip != "" {
			fmt.Fprintf(out, ", tip %s", report.Tip)
		}
		fmt.Fprintln(out, ")")
	} else {
		fmt.Fprintf(out, "Blockchain integrity check failed: %d finding(s) in %d blocks\n",
			len(report.Findings), report.Blocks)
		for _, e := range report.Errors() {
			fmt.Fprintf(out, "  %s\n", e)
		}
	}

	if !report.Valid {
		return errChainBroken
	}
	return nil
}

func runRemoteVerify(ctx context.Context, c *client.Client, out io.Writer, asJSON bool) error {
	res, err := c.Verify(ctx)
	if err != nil {
		return err
	}
	if asJSON {
		if err := writeJSON(out, res); err != nil {
			return err
		}
	} else {
		fmt.Fprintf(out, "%s (%d blocks)\n", res.Message, res.TotalBlocks)
		for _, e := range res.Errors {
			fmt.Fprintf(out, "  %s\n", e)
		}
	}
	if !res.IsValid {
		return errChainBroken
	}
	return nil
}

// ── stats ────────────────────────────────────────────────────────────────────

var statsLatest int

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show block counts per record type and the latest blocks",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		chain, _, closeStore, err := openChain(cmd.Context())
		if err != nil {
			return err
		}
		defer closeStore()
		return runStats(cmd.Context(), chain, cmd.OutOrStdout(), statsLatest)
	},
}

func init() {
	statsCmd.Flags().IntVar(&statsLatest, "latest", 10, "number of recent blocks to list")
}

func runStats(ctx context.Context, chain *ledger.Chain, out io.Writer, latest int) error {
	stats, err := chain.Statistics(ctx, latest)
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "Total blocks: %d\n\n", stats.TotalBlocks)
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "RECORD TYPE\tCOUNT")
	for _, tc := range stats.ByType {
		fmt.Fprintf(w, "%s\t%d\n", tc.Label, tc.Count)
	}
	if err := w.Flush(); err != nil {
		return err
	}

	if len(stats.Latest) == 0 {
		return nil
	}
	fmt.Fprintln(out)
	w = tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "BLOCK\tTIME\tTYPE\tUSER\tHASH")
	for _, b := range stats.Latest {
		fmt.Fprintf(w, "#%d\t%s\t%s\t%s\t%s\n",
			b.Sequence, b.Timestamp.Format(time.DateTime), b.RecordType, b.ActorName(), short(b.Digest))
	}
	return w.Flush()
}

// ── trail ────────────────────────────────────────────────────────────────────

var trailRecordTypes []string

var trailCmd = &cobra.Command{
	Use:   "trail <model> <id>",
	Short: "Print the audit trail of one entity",
	Long: `trail lists every block whose payload references the entity, oldest first.

  chainctl trail PresentationRequest 42
  chainctl trail CustomUser 7 --type user_update`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		var types []ledger.RecordType
		for _, s := range trailRecordTypes {
			t, err := ledger.ParseRecordType(s)
			if err != nil {
				return err
			}
			types = append(types, t)
		}

		_, store, closeStore, err := openChain(cmd.Context())
		if err != nil {
			return err
		}
		defer closeStore()
		ref := ledger.EntityRef{Type: args[0], ID: args[1]}
		return runTrail(cmd.Context(), ledger.NewAuditor(store), cmd.OutOrStdout(), ref, types)
	},
}

func init() {
	trailCmd.Flags().StringSliceVar(&trailRecordTypes, "type", nil, "only include these record types")
}

func runTrail(ctx context.Context, auditor *ledger.Auditor, out io.Writer, ref ledger.EntityRef, types []ledger.RecordType) error {
	trail, err := auditor.TrailFor(ctx, ref, types...)
	if err != nil {
		return err
	}
	if len(trail) == 0 {
		fmt.Fprintf(out, "No ledger records for %s\n", ref)
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "BLOCK\tTIME\tTYPE\tOPERATION\tUSER\tHASH")
	for _, e := range trail {
		fmt.Fprintf(w, "#%d\t%s\t%s\t%s\t%s\t%s\n",
			e.Sequence, e.Timestamp.Format(time.DateTime), e.RecordType, e.Operation, e.Actor, e.ShortDigest())
	}
	return w.Flush()
}

// ── show ─────────────────────────────────────────────────────────────────────

var showCmd = &cobra.Command{
	Use:   "show <block-number>",
	Short: "Print one block as JSON",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		seq, err := strconv.ParseUint(args[0], 10, 64)
		if err != nil || seq == 0 {
			return fmt.Errorf("invalid block number %q", args[0])
		}
		chain, _, closeStore, err := openChain(cmd.Context())
		if err != nil {
			return err
		}
		defer closeStore()

		b, err := chain.Get(cmd.Context(), seq)
		if err != nil {
			return err
		}
		return writeJSON(cmd.OutOrStdout(), b)
	},
}

func short(digest string) string {
	if len(digest) > 16 {
		return digest[:16]
	}
	return digest
}
