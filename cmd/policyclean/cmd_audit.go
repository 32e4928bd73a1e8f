package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/David-Botos/policy-cleaner/pkg/audit"
)

var (
	auditRowID string
	auditJSON  bool
)

// auditCmd groups the audit trail commands
var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Inspect the durable audit trail",
}

// auditShowCmd prints every stored correction for one row
var auditShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show every recorded correction for a row",
	Long: `Queries the configured audit sink for a row id and prints its entries,
oldest run first.

Example:
  policyclean audit show --row-id P-00042`,
	RunE: showAudit,
}

func init() {
	auditShowCmd.Flags().StringVar(&auditRowID, "row-id", "", "Row identifier to look up")
	auditShowCmd.Flags().BoolVar(&auditJSON, "json", false, "Print entries as JSON")
	auditCmd.AddCommand(auditShowCmd)
}

func showAudit(cmd *cobra.Command, args []string) error {
	if auditRowID == "" {
		return errors.New("--row-id is required")
	}

	ctx, cancel := commandContext()
	defer cancel()

	sink, err := audit.OpenSink(ctx, cfg, logger.Named("audit"))
	if err != nil {
		return err
	}
	defer func() {
		if err := sink.Close(); err != nil {
			logger.Warn("Failed to close audit sink", zap.Error(err))
		}
	}()

	entries, err := sink.QueryByRowID(ctx, auditRowID)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if auditJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(entries)
	}

	if len(entries) == 0 {
		fmt.Fprintf(out, "No audit entries for row %s\n", auditRowID)
		return nil
	}

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SEQ\tFIELD\tORIGINAL\tRESOLVED\tRULE\tREASON")
	for _, e := range entries {
		fmt.Fprintf(tw, "%d\t%s\t%q\t%q\t%s\t%s\n",
			e.Seq, e.Field, e.OriginalValue, e.ResolvedValue, e.RuleID, e.Reason)
	}
	return tw.Flush()
}
