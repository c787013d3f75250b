package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"fiscal-spooler/spooler"
)

func newDocumentsCmd(g *globalOptions) *cobra.Command {
	var (
		f      spooler.DocumentFilter
		typ    string
		status string
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "documents",
		Short: "List stored fiscal documents",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, _, _, err := g.openStore(cmd)
			if err != nil {
				return err
			}
			defer store.Close()

			f.Type = spooler.DocumentType(typ)
			f.Status = spooler.ProcessingStatus(status)
			docs, err := store.ListDocuments(cmd.Context(), f)
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(cmd.OutOrStdout(), docs)
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tTYPE\tNUMBER\tISSUED\tISSUER\tTOTAL\tSTATUS\tACCESS KEY")
			for _, d := range docs {
				fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
					d.ID, d.DocumentType, d.Number, d.IssueDate, d.Issuer.TaxID,
					d.GrandTotal.StringFixed(2), d.ProcessingStatus, d.AccessKey)
			}
			return tw.Flush()
		},
	}
	fl := cmd.Flags()
	fl.StringVar(&typ, "type", "", "Document type (Invoice55, Invoice65, Transport, ManifestFreight, Unknown).")
	fl.StringVar(&f.IssuedFrom, "from", "", "Issued on or after (YYYY-MM-DD).")
	fl.StringVar(&f.IssuedTo, "to", "", "Issued on or before (YYYY-MM-DD).")
	fl.StringVar(&f.IssuerTaxID, "issuer", "", "Issuer CNPJ/CPF.")
	fl.StringVar(&f.RecipientTaxID, "recipient", "", "Recipient CNPJ/CPF.")
	fl.StringVar(&status, "status", "", "ERP status (pending, integrated).")
	fl.IntVar(&f.Limit, "limit", 50, "Maximum rows.")
	fl.IntVar(&f.Offset, "offset", 0, "Rows to skip.")
	fl.BoolVar(&asJSON, "json", false, "Print JSON.")

	cmd.AddCommand(newDocumentShowCmd(g))
	return cmd
}

func newDocumentShowCmd(g *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "show ID",
		Short: "Print one document with its line items as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			store, _, _, err := g.openStore(cmd)
			if err != nil {
				return err
			}
			defer store.Close()

			doc, err := store.GetDocument(cmd.Context(), id)
			if err != nil {
				return err
			}
			if doc == nil {
				return fmt.Errorf("document %d not found", id)
			}
			return writeJSON(cmd.OutOrStdout(), doc)
		},
	}
}

func newOutcomesCmd(g *globalOptions) *cobra.Command {
	var (
		f      spooler.OutcomeFilter
		result string
		since  time.Duration
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "outcomes",
		Short: "List ingestion outcomes",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, _, _, err := g.openStore(cmd)
			if err != nil {
				return err
			}
			defer store.Close()

			f.Result = spooler.OutcomeResult(result)
			if since > 0 {
				f.From = time.Now().Add(-since)
			}
			outs, err := store.ListOutcomes(cmd.Context(), f)
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(cmd.OutOrStdout(), outs)
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tTIME\tFILE\tRESULT\tKIND\tCAUSE")
			for _, o := range outs {
				fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\n",
					o.ID, o.Timestamp.Format(time.RFC3339), o.SourcePath, o.Result, dash(string(o.Kind)), dash(o.Cause))
			}
			return tw.Flush()
		},
	}
	fl := cmd.Flags()
	fl.StringVar(&result, "result", "", "Filter by result (success, failure).")
	fl.StringVar(&f.BatchID, "batch", "", "Filter by batch id.")
	fl.DurationVar(&since, "since", 0, "Only outcomes newer than this (e.g. 24h).")
	fl.IntVar(&f.Limit, "limit", 100, "Maximum rows.")
	fl.BoolVar(&asJSON, "json", false, "Print JSON.")
	return cmd
}

func newStatsCmd(g *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Print ingestion and document statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, _, _, err := g.openStore(cmd)
			if err != nil {
				return err
			}
			defer store.Close()

			outs, err := store.OutcomeStats(cmd.Context())
			if err != nil {
				return err
			}
			docs, err := store.DocumentStats(cmd.Context())
			if err != nil {
				return err
			}
			printStats(cmd.OutOrStdout(), outs, docs)
			return nil
		},
	}
}

func printStats(w io.Writer, outs *spooler.OutcomeSummary, docs *spooler.DocumentSummary) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "outcomes\t%d\n", outs.Total)
	fmt.Fprintf(tw, "  succeeded\t%d\n", outs.Succeeded)
	fmt.Fprintf(tw, "  failed\t%d\n", outs.Failed)
	fmt.Fprintf(tw, "  success rate\t%.1f%%\n", outs.SuccessRate*100)
	for kind, n := range outs.ByKind {
		fmt.Fprintf(tw, "  %s\t%d\n", kind, n)
	}
	fmt.Fprintf(tw, "documents\t%d\n", docs.Count)
	for typ, n := range docs.ByType {
		fmt.Fprintf(tw, "  %s\t%d\n", typ, n)
	}
	fmt.Fprintf(tw, "  integrated\t%d\n", docs.Integrated)
	fmt.Fprintf(tw, "  pending\t%d\n", docs.Pending)
	fmt.Fprintf(tw, "products total\t%s\n", docs.ProductsTotal.StringFixed(2))
	fmt.Fprintf(tw, "grand total\t%s\n", docs.GrandTotal.StringFixed(2))
	fmt.Fprintf(tw, "ICMS\t%s\n", docs.Taxes.ICMS.StringFixed(2))
	fmt.Fprintf(tw, "ICMS ST\t%s\n", docs.Taxes.ICMSST.StringFixed(2))
	fmt.Fprintf(tw, "IPI\t%s\n", docs.Taxes.IPI.StringFixed(2))
	fmt.Fprintf(tw, "PIS\t%s\n", docs.Taxes.PIS.StringFixed(2))
	fmt.Fprintf(tw, "COFINS\t%s\n", docs.Taxes.COFINS.StringFixed(2))
	_ = tw.Flush()
}

func newIntegrateCmd(g *globalOptions) *cobra.Command {
	var user, notes string
	cmd := &cobra.Command{
		Use:   "integrate ID",
		Short: "Mark a document as integrated into the ERP",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			store, _, log, err := g.openStore(cmd)
			if err != nil {
				return err
			}
			defer store.Close()

			if err := store.MarkIntegrated(cmd.Context(), id, user, notes); err != nil {
				return err
			}
			log.Info("document integrated", "id", id, "user", user)
			return nil
		},
	}
	cmd.Flags().StringVar(&user, "user", "", "Who integrated the document (required).")
	cmd.Flags().StringVar(&notes, "notes", "", "Free-form integration notes.")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func parseID(s string) (uint, error) {
	n, err := strconv.ParseUint(s, 10, 64)
	if err != nil || n == 0 {
		return 0, fmt.Errorf("invalid id %q", s)
	}
	return uint(n), nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
