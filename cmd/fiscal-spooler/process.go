package main

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"fiscal-spooler/spooler"
)

type processOptions struct {
	pending       string
	processed     string
	rejected      string
	maxFiles      int
	maxFileSizeMB int
	workers       int
	strict        bool
	timeout       time.Duration
	extensions    []string
	syslogAddr    string
	service       string
	job           string
	once          bool
	pollInterval  time.Duration
}

func newProcessCmd(g *globalOptions) *cobra.Command {
	o := &processOptions{}
	cmd := &cobra.Command{
		Use:   "process",
		Short: "Ingest the files waiting in the pending directory",
		Long: `process lists the pending directory, extracts and validates every XML
file, stores accepted documents and moves each file to processed or rejected.
One bad file never stops the batch; a broken database or a missing pending
directory does.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runProcess(cmd, g, o)
		},
	}
	f := cmd.Flags()
	f.StringVar(&o.pending, "pending", "", "Pending directory (overrides directories.pending).")
	f.StringVar(&o.processed, "processed", "", "Processed directory (overrides directories.processed).")
	f.StringVar(&o.rejected, "rejected", "", "Rejected directory (overrides directories.rejected).")
	f.IntVar(&o.maxFiles, "max-files", spooler.DefaultMaxFiles, "Maximum files per run.")
	f.IntVar(&o.maxFileSizeMB, "max-file-size-mb", spooler.DefaultMaxFileSize>>20, "Files larger than this are rejected.")
	f.IntVar(&o.workers, "workers", 1, "Files processed concurrently.")
	f.BoolVar(&o.strict, "strict", false, "Treat validation warnings as errors.")
	f.DurationVar(&o.timeout, "timeout", 0, "Overall timeout for one run (e.g. 30s, 2m).")
	f.StringSliceVar(&o.extensions, "extension", nil, "Accepted file extension(s). Can be repeated.")
	f.StringVar(&o.syslogAddr, "syslog-addr", "", "Forward outcomes to this RFC 5424 syslog receiver (tcp).")
	f.StringVar(&o.service, "service", "", "Syslog structured-data service label.")
	f.StringVar(&o.job, "job", "", "Syslog structured-data job label.")
	f.BoolVar(&o.once, "once", true, "Run once and exit (default true for crontab).")
	f.DurationVar(&o.pollInterval, "poll-interval", 30*time.Second, "Polling interval when running with --once=false.")
	return cmd
}

func (o *processOptions) apply(cmd *cobra.Command, cfg *spooler.FileConfig) {
	flags := cmd.Flags()
	if flags.Changed("pending") {
		cfg.Directories.Pending = o.pending
	}
	if flags.Changed("processed") {
		cfg.Directories.Processed = o.processed
	}
	if flags.Changed("rejected") {
		cfg.Directories.Rejected = o.rejected
	}
	if flags.Changed("max-files") {
		cfg.Batch.MaxFiles = o.maxFiles
	}
	if flags.Changed("max-file-size-mb") {
		cfg.Batch.MaxFileSizeMB = o.maxFileSizeMB
	}
	if flags.Changed("workers") {
		cfg.Batch.Workers = o.workers
	}
	if flags.Changed("strict") {
		cfg.Batch.Strict = o.strict
	}
	if flags.Changed("timeout") {
		cfg.Batch.Timeout = o.timeout
	}
	if flags.Changed("extension") {
		cfg.Extensions.Items = o.extensions
	}
	if flags.Changed("syslog-addr") {
		cfg.SyslogAddr = o.syslogAddr
	}
	if flags.Changed("service") {
		cfg.Service = o.service
	}
	if flags.Changed("job") {
		cfg.Job = o.job
	}
}

func runProcess(cmd *cobra.Command, g *globalOptions, o *processOptions) error {
	cfg, err := g.loadConfig(cmd)
	if err != nil {
		return err
	}
	o.apply(cmd, cfg)
	log := newLogger(cfg.Debug)

	if dir := filepath.Dir(cfg.Database.Path); cfg.Database.Path != ":memory:" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create database directory: %w", err)
		}
	}
	store, err := spooler.OpenStore(cfg.Database.Path, cfg.Debug)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer store.Close()

	runner, err := spooler.NewRunner(cfg.RunnerConfig(log), store)
	if err != nil {
		return fmt.Errorf("init runner: %w", err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if o.once {
		res, err := runner.RunOnce(ctx)
		if res != nil {
			printBatch(cmd.OutOrStdout(), res)
		}
		if err != nil {
			return fmt.Errorf("run once: %w", err)
		}
		return nil
	}

	for {
		res, err := runner.RunOnce(ctx)
		if err != nil {
			log.Error("run once failed", "err", err)
		} else if res.Total > 0 {
			printBatch(cmd.OutOrStdout(), res)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(o.pollInterval):
		}
	}
}

func printBatch(w io.Writer, res *spooler.BatchResult) {
	fmt.Fprintf(w, "batch %s: total=%d succeeded=%d failed=%d", res.BatchID, res.Total, res.Succeeded, res.Failed)
	if res.Remaining > 0 {
		fmt.Fprintf(w, " remaining=%d", res.Remaining)
	}
	fmt.Fprintln(w)
	if len(res.PerFile) == 0 {
		return
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "FILE\tRESULT\tKIND\tDETAIL")
	for _, o := range res.PerFile {
		detail := o.Cause
		if o.Succeeded() {
			detail = o.AccessKey
			if len(o.Warnings) > 0 {
				detail = fmt.Sprintf("%s (%d warnings)", o.AccessKey, len(o.Warnings))
			}
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", filepath.Base(o.SourcePath), o.Result, dash(string(o.Kind)), detail)
	}
	_ = tw.Flush()
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
