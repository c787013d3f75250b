package spooler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultMaxFiles    = 100
	DefaultMaxFileSize = 10 << 20
)

type RunnerConfig struct {
	PendingDir   string
	ProcessedDir string
	RejectedDir  string
	// MaxFiles caps how many pending files one run picks up.
	MaxFiles int
	// MaxFileSize in bytes; larger files are rejected unread.
	MaxFileSize int64
	// Extensions accepted for ingestion, e.g. ".xml". Anything else is
	// routed to the rejected directory.
	Extensions []string
	// Strict makes validation warnings blocking.
	Strict bool
	// Workers > 1 processes files concurrently.
	Workers int
	// Timeout bounds one run. Files already started are finished; no new
	// ones are picked up after it expires.
	Timeout time.Duration
	// SyslogAddr, when set, receives one line per outcome.
	SyslogAddr   string
	ServiceLabel string
	JobLabel     string
	Logger       *slog.Logger
}

type Runner struct {
	cfg       RunnerConfig
	store     Store
	extractor *Extractor
	validator Validator
	lifecycle Lifecycle
	syslog    SyslogSender
	log       *slog.Logger
}

type BatchResult struct {
	BatchID   string
	Total     int
	Succeeded int
	Failed    int
	// PerFile keeps listing order.
	PerFile []IngestionOutcome
	// Remaining counts listed files left pending because the run timed out.
	Remaining int
}

func NewRunner(cfg RunnerConfig, store Store) (*Runner, error) {
	if store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if strings.TrimSpace(cfg.PendingDir) == "" {
		return nil, fmt.Errorf("PendingDir is required")
	}
	if strings.TrimSpace(cfg.ProcessedDir) == "" {
		return nil, fmt.Errorf("ProcessedDir is required")
	}
	if strings.TrimSpace(cfg.RejectedDir) == "" {
		return nil, fmt.Errorf("RejectedDir is required")
	}
	if cfg.MaxFiles <= 0 {
		cfg.MaxFiles = DefaultMaxFiles
	}
	if cfg.MaxFileSize <= 0 {
		cfg.MaxFileSize = DefaultMaxFileSize
	}
	cfg.Extensions = normalizeExtensions(cfg.Extensions)
	if len(cfg.Extensions) == 0 {
		cfg.Extensions = []string{".xml"}
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.ServiceLabel == "" {
		cfg.ServiceLabel = "fiscal"
	}
	if cfg.JobLabel == "" {
		cfg.JobLabel = defaultAppName
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	for _, dir := range []string{cfg.ProcessedDir, cfg.RejectedDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create %s: %w", dir, err)
		}
	}

	r := &Runner{
		cfg:       cfg,
		store:     store,
		extractor: NewExtractor(),
		validator: Validator{Strict: cfg.Strict},
		lifecycle: Lifecycle{ProcessedDir: cfg.ProcessedDir, RejectedDir: cfg.RejectedDir},
		log:       logger,
	}
	if cfg.SyslogAddr != "" {
		r.syslog = NewSyslogClient(cfg.SyslogAddr)
	}
	return r, nil
}

func normalizeExtensions(in []string) []string {
	out := make([]string, 0, len(in))
	for _, e := range in {
		e = strings.ToLower(strings.TrimSpace(e))
		if e == "" {
			continue
		}
		if !strings.HasPrefix(e, ".") {
			e = "." + e
		}
		out = append(out, e)
	}
	return out
}

// RunOnce processes up to MaxFiles pending files. Per-file failures are
// recorded and never abort the batch. The returned error is non-nil only for
// batch-fatal conditions (see IsFatal); the partial result is still
// returned.
func (r *Runner) RunOnce(ctx context.Context) (*BatchResult, error) {
	start := time.Now()
	res := &BatchResult{BatchID: uuid.NewString()}
	if r.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.cfg.Timeout)
		defer cancel()
	}

	paths, err := r.listPending()
	if err != nil {
		return res, err
	}
	r.log.Debug("run_once start", "batch", res.BatchID, "pending", r.cfg.PendingDir, "files", len(paths), "workers", r.cfg.Workers, "strict", r.cfg.Strict)

	outcomes := make([]IngestionOutcome, len(paths))
	done := make([]bool, len(paths))
	var mu sync.Mutex

	// Files already started are not cut short by the run deadline.
	workCtx := context.WithoutCancel(ctx)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.cfg.Workers)
	for i, p := range paths {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			// A slot may free up only after the run was cancelled.
			if gctx.Err() != nil {
				return nil
			}
			o, err := r.processFile(workCtx, res.BatchID, p)
			mu.Lock()
			outcomes[i] = o
			done[i] = true
			mu.Unlock()
			return err
		})
	}
	runErr := g.Wait()

	for i, o := range outcomes {
		if !done[i] {
			res.Remaining++
			continue
		}
		res.Total++
		if o.Succeeded() {
			res.Succeeded++
		} else {
			res.Failed++
		}
		res.PerFile = append(res.PerFile, o)
	}
	if res.Remaining > 0 && runErr == nil {
		r.log.Warn("run stopped before all files were processed", "batch", res.BatchID, "remaining", res.Remaining, "timeout", r.cfg.Timeout)
	}
	r.log.Info("batch done", "batch", res.BatchID, "total", res.Total, "succeeded", res.Succeeded, "failed", res.Failed, "elapsed", time.Since(start))
	return res, runErr
}

// listPending returns the regular files of the pending directory in name
// order, capped at MaxFiles. Only the .gitkeep placeholder is left alone;
// other dot-files are routed like any other file.
func (r *Runner) listPending() ([]string, error) {
	entries, err := os.ReadDir(r.cfg.PendingDir)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInputDirectory, r.cfg.PendingDir, err)
	}
	paths := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || e.Name() == ".gitkeep" || !e.Type().IsRegular() {
			continue
		}
		paths = append(paths, filepath.Join(r.cfg.PendingDir, e.Name()))
	}
	sort.Strings(paths)
	if len(paths) > r.cfg.MaxFiles {
		paths = paths[:r.cfg.MaxFiles]
	}
	return paths, nil
}

func (r *Runner) acceptsExtension(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	for _, e := range r.cfg.Extensions {
		if ext == e {
			return true
		}
	}
	return false
}

// processFile takes one file from pending to a terminal directory and writes
// exactly one outcome for it. Only batch-fatal errors are returned.
func (r *Runner) processFile(ctx context.Context, batchID string, path string) (IngestionOutcome, error) {
	o := IngestionOutcome{BatchID: batchID, SourcePath: path}

	if !r.acceptsExtension(path) {
		return r.reject(ctx, o, "", fmt.Errorf("%w %q", ErrUnsupportedExtension, filepath.Ext(path)))
	}
	info, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return r.reject(ctx, o, "", fmt.Errorf("%w: %s", ErrFileMissing, path))
	}
	if err != nil {
		return r.reject(ctx, o, "", fmt.Errorf("%w: %v", ErrReadFailure, err))
	}
	o.SizeBytes = info.Size()
	if info.Size() > r.cfg.MaxFileSize {
		return r.reject(ctx, o, "", fmt.Errorf("%w: %d bytes exceeds limit of %d", ErrFileTooLarge, info.Size(), r.cfg.MaxFileSize))
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return r.reject(ctx, o, "", fmt.Errorf("%w: %v", ErrReadFailure, err))
	}
	o.ContentHash = ContentHash(raw)

	doc, err := r.extractor.Extract(raw)
	if err != nil {
		return r.reject(ctx, o, "", err)
	}
	o.AccessKey = doc.AccessKey
	doc.SourcePath = path

	report, err := r.validator.Check(doc)
	o.Warnings = report.Warnings
	if err != nil {
		return r.reject(ctx, o, doc.DocumentType, err)
	}

	accepted := o
	err = r.store.Atomic(ctx, func(tx Store) error {
		check, err := NewDuplicateDetector(tx).Check(ctx, doc.AccessKey, doc.ContentHash)
		if err != nil {
			return err
		}
		if check.IsDuplicate {
			return check.Err()
		}
		if err := tx.InsertDocument(ctx, doc); err != nil {
			return err
		}
		id := doc.ID
		accepted.Result = ResultSuccess
		accepted.DocumentID = &id
		accepted.Timestamp = time.Now().UTC()
		return tx.InsertOutcome(ctx, &accepted)
	})
	if err != nil {
		return r.reject(ctx, o, doc.DocumentType, err)
	}
	o = accepted
	r.log.Debug("document accepted", "path", path, "document_id", doc.ID, "access_key", doc.AccessKey, "warnings", len(o.Warnings))

	// The document is committed; a failed move is reported but not undone.
	dst, mvErr := r.lifecycle.MoveToProcessed(path)
	if mvErr != nil {
		r.log.Error("move after commit failed", "path", path, "err", mvErr)
		o.Warnings = append(o.Warnings, mvErr.Error())
	} else {
		o.MovedTo = dst
	}
	r.forward(o, doc.DocumentType)
	return o, nil
}

// reject routes the file to the rejected directory and records a failure
// outcome. A failed move is appended to the cause; a failed outcome write is
// fatal, as is a cause that is itself fatal.
func (r *Runner) reject(ctx context.Context, o IngestionOutcome, docType DocumentType, cause error) (IngestionOutcome, error) {
	o.ID = 0
	o.DocumentID = nil
	o.Result = ResultFailure
	o.Kind = KindOf(cause)
	o.Cause = cause.Error()

	dst, mvErr := r.lifecycle.MoveToRejected(o.SourcePath)
	if mvErr != nil {
		r.log.Error("move to rejected failed", "path", o.SourcePath, "err", mvErr)
		o.Cause += "; " + mvErr.Error()
	} else {
		o.MovedTo = dst
	}
	o.Timestamp = time.Now().UTC()
	r.log.Warn("file rejected", "path", o.SourcePath, "kind", o.Kind, "cause", o.Cause)

	if err := r.store.InsertOutcome(ctx, &o); err != nil {
		r.log.Error("record outcome failed", "path", o.SourcePath, "err", err)
		if !errors.Is(err, ErrPersistenceFailure) {
			err = fmt.Errorf("%w: %v", ErrPersistenceFailure, err)
		}
		return o, fmt.Errorf("record outcome for %s: %w", o.SourcePath, err)
	}
	r.forward(o, docType)
	if IsFatal(cause) {
		return o, cause
	}
	return o, nil
}

// forward publishes an outcome to the syslog collector. Failures are logged
// and otherwise ignored.
func (r *Runner) forward(o IngestionOutcome, docType DocumentType) {
	if r.syslog == nil {
		return
	}
	structured := buildStructuredData("fiscal", map[string]string{
		"job":        r.cfg.JobLabel,
		"service":    r.cfg.ServiceLabel,
		"filename":   filepath.Base(o.SourcePath),
		"result":     string(o.Result),
		"kind":       string(o.Kind),
		"doc_type":   string(docType),
		"hash":       o.ContentHash,
		"access_key": o.AccessKey,
		"batch":      o.BatchID,
	})
	payload := map[string]any{
		"source":   o.SourcePath,
		"result":   o.Result,
		"kind":     o.Kind,
		"cause":    o.Cause,
		"moved_to": o.MovedTo,
		"warnings": o.Warnings,
	}
	if o.DocumentID != nil {
		payload["document_id"] = *o.DocumentID
	}
	payloadBytes, _ := json.Marshal(payload)
	if err := r.syslog.SendRFC5424Timeout(defaultAppName, structured, string(payloadBytes), 3*time.Second); err != nil {
		r.log.Warn("syslog send failed", "path", o.SourcePath, "err", err)
	}
}

func buildStructuredData(sdID string, kv map[string]string) string {
	if sdID == "" {
		sdID = "fiscal"
	}
	var b strings.Builder
	b.WriteString("[")
	b.WriteString(sdID)
	preferredOrder := []string{"job", "service", "filename", "result", "kind", "doc_type", "hash", "access_key", "batch"}
	seen := make(map[string]struct{}, len(kv))
	for _, k := range preferredOrder {
		v, ok := kv[k]
		if !ok {
			continue
		}
		if strings.TrimSpace(v) == "" {
			continue
		}
		seen[k] = struct{}{}
		writeSDParam(&b, k, v)
	}
	extraKeys := make([]string, 0, len(kv))
	for k, v := range kv {
		if _, ok := seen[k]; ok {
			continue
		}
		if strings.TrimSpace(v) == "" {
			continue
		}
		extraKeys = append(extraKeys, k)
	}
	sort.Strings(extraKeys)
	for _, k := range extraKeys {
		writeSDParam(&b, k, kv[k])
	}
	b.WriteString("]")
	return b.String()
}

func writeSDParam(b *strings.Builder, k string, v string) {
	b.WriteString(" ")
	b.WriteString(k)
	b.WriteString("=\"")
	b.WriteString(escapeSDParam(v))
	b.WriteString("\"")
}

func escapeSDParam(v string) string {
	v = strings.ReplaceAll(v, "\\", "\\\\")
	v = strings.ReplaceAll(v, "\"", "\\\"")
	v = strings.ReplaceAll(v, "]", "\\]")
	v = strings.ReplaceAll(v, "\n", " ")
	v = strings.ReplaceAll(v, "\r", " ")
	return v
}
