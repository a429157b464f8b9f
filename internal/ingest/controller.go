// Package ingest orchestrates one import: run lifecycle, archive safety
// pre-scan, child-artifact extraction, and parser dispatch.
package ingest

import (
	"archive/zip"
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/basket/chatvault/internal/audit"
	"github.com/basket/chatvault/internal/config"
	"github.com/basket/chatvault/internal/errcode"
	otelx "github.com/basket/chatvault/internal/otel"
	"github.com/basket/chatvault/internal/parsers"
	"github.com/basket/chatvault/internal/shared"
	"github.com/basket/chatvault/internal/vault"
	"go.opentelemetry.io/otel/trace"
	nooptrace "go.opentelemetry.io/otel/trace/noop"
)

// Controller runs imports against one store. One import at a time; the
// store's single connection serializes it against searches.
type Controller struct {
	store   *vault.Store
	limits  func() config.ZipLimits
	logger  *slog.Logger
	tracer  trace.Tracer
	metrics *otelx.Metrics
}

// Result identifies what an import produced.
type Result struct {
	RunID      int64 `json:"runId"`
	ArtifactID int64 `json:"artifactId"`
}

// New builds a Controller. limits is called per import so a config reload
// takes effect without restarting.
func New(store *vault.Store, limits func() config.ZipLimits, logger *slog.Logger, tracer trace.Tracer, metrics *otelx.Metrics) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	if tracer == nil {
		tracer = nooptrace.NewTracerProvider().Tracer(otelx.TracerName)
	}
	return &Controller{store: store, limits: limits, logger: logger, tracer: tracer, metrics: metrics}
}

// ImportHeadless ingests one export file by absolute path. The run row is
// the durable record: on failure it is finalized as failed with the raw
// message and the error re-raised to the caller. Artifacts persisted
// before the failure point stay on disk for forensics; their rows carry
// the failed run id.
func (c *Controller) ImportHeadless(ctx context.Context, provider, filePath string) (Result, error) {
	if !parsers.KnownProvider(provider) {
		return Result{}, fmt.Errorf("unknown provider %q", provider)
	}

	traceID := shared.NewTraceID()
	ctx = shared.WithTraceID(shared.WithProvider(ctx, provider), traceID)
	ctx, span := otelx.StartSpan(ctx, c.tracer, "vault.import", otelx.AttrProvider.String(provider))
	defer span.End()
	started := time.Now()

	// Export archives are bounded by policy; streaming is not required.
	data, err := os.ReadFile(filePath)
	if err != nil {
		return Result{}, fmt.Errorf("read import file: %w", err)
	}

	runID, err := c.store.CreateIngestionRun(ctx, provider, filepath.Base(filePath))
	if err != nil {
		return Result{}, err
	}
	ctx = shared.WithRunID(ctx, runID)
	c.logger.Info("import started", "trace_id", traceID, "run_id", runID, "provider", provider, "size", len(data))

	result, err := c.runImport(ctx, runID, provider, filePath, data)
	if err != nil {
		if finErr := c.store.FinalizeIngestionRun(ctx, runID, vault.RunStatusFailed, err.Error()); finErr != nil {
			c.logger.Error("finalize failed run", "run_id", runID, "error", finErr)
		}
		if c.metrics != nil {
			c.metrics.RunsFailed.Add(ctx, 1)
		}
		span.SetAttributes(otelx.AttrErrorCode.String(errcode.CodeOf(err)))
		audit.Record("import", "failed", provider, runID, traceID, err.Error())
		c.logger.Warn("import failed", "trace_id", traceID, "run_id", runID, "code", errcode.CodeOf(err))
		return Result{RunID: runID, ArtifactID: result.ArtifactID}, err
	}

	if err := c.store.FinalizeIngestionRun(ctx, runID, vault.RunStatusComplete, ""); err != nil {
		return Result{}, err
	}
	if c.metrics != nil {
		c.metrics.ImportDuration.Record(ctx, time.Since(started).Seconds())
		if n, err := c.store.CountMessagesForRun(ctx, runID); err == nil {
			c.metrics.MessagesIngested.Add(ctx, n)
		}
	}
	audit.Record("import", "complete", provider, runID, traceID, "")
	c.logger.Info("import complete", "trace_id", traceID, "run_id", runID, "duration_ms", time.Since(started).Milliseconds())
	return result, nil
}

func (c *Controller) runImport(ctx context.Context, runID int64, provider, filePath string, data []byte) (Result, error) {
	isZip := strings.EqualFold(filepath.Ext(filePath), ".zip")
	artifactType := "json"
	if isZip {
		artifactType = "zip"
	}

	parentRes, err := c.store.StoreRawArtifact(ctx, vault.StoreArtifactParams{
		RunID:    runID,
		Provider: provider,
		Type:     artifactType,
		Filename: filepath.Base(filePath),
		Bytes:    data,
	})
	if err != nil {
		return Result{}, err
	}
	if parentRes.Skipped && c.metrics != nil {
		c.metrics.ArtifactsDeduped.Add(ctx, 1)
	}
	result := Result{RunID: runID, ArtifactID: parentRes.ID}

	if !isZip {
		text, err := decodeUTF8(data)
		if err != nil {
			return result, err
		}
		parser := parsers.SelectForProvider(provider)
		if err := c.parseOne(ctx, parser, runID, parentRes.ID, text); err != nil {
			return result, err
		}
		return result, nil
	}

	reader, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return result, errcode.New(errcode.ZipCorrupt, err)
	}
	if err := PreScan(reader, c.limits()); err != nil {
		return result, err
	}
	if err := c.extract(ctx, reader, runID, parentRes.ID, provider); err != nil {
		return result, err
	}
	return result, nil
}

// extract walks the archive in order, persisting every entry as a child
// artifact and dispatching the ones a parser recognizes. Each parseable
// entry is its own transaction: one bad file does not roll back its
// siblings, because partial yield beats zero yield. If every recognized
// entry fails to parse, the first error fails the run; every per-entry
// transaction rolled back, so the failed run still owns no rows.
func (c *Controller) extract(ctx context.Context, r *zip.Reader, runID, parentID int64, provider string) error {
	hasConversationsJSON := false
	for _, f := range r.File {
		if strings.EqualFold(filepath.Base(f.Name), "conversations.json") {
			hasConversationsJSON = true
			break
		}
	}

	parsedAny := false
	sawParseable := false
	var firstParseErr error
	for _, f := range r.File {
		if isDirEntry(f) {
			continue
		}
		entryBytes, err := readEntry(f)
		if err != nil {
			return errcode.New(errcode.ZipCorrupt, fmt.Errorf("decompress %q: %w", f.Name, err))
		}
		childRes, err := c.store.StoreRawArtifact(ctx, vault.StoreArtifactParams{
			RunID:           runID,
			Provider:        provider,
			Type:            entryType(f.Name),
			Filename:        f.Name,
			Bytes:           entryBytes,
			ParentID:        parentID,
			PathInContainer: f.Name,
		})
		if err != nil {
			return err
		}
		if c.metrics != nil {
			c.metrics.EntriesExtracted.Add(ctx, 1)
			if childRes.Skipped {
				c.metrics.ArtifactsDeduped.Add(ctx, 1)
			}
		}

		parser := parsers.SelectForEntry(provider, f.Name)
		if parser == nil {
			// Stored but not parsed: forensic preservation without
			// semantic loss.
			continue
		}
		// chat.html is a strict fallback: skip it when the archive also
		// carries conversations.json, otherwise the messages import twice.
		if _, isHTML := parser.(parsers.ChatGPTHTML); isHTML && hasConversationsJSON {
			c.logger.Debug("chat.html skipped in favor of conversations.json", "run_id", runID)
			continue
		}

		sawParseable = true
		text, err := decodeUTF8(entryBytes)
		if err == nil {
			err = c.parseOne(ctx, parser, runID, childRes.ID, text)
		}
		if err != nil {
			if firstParseErr == nil {
				firstParseErr = err
			}
			c.logger.Warn("entry parse failed", "run_id", runID, "parser", parser.Name(), "code", errcode.CodeOf(err))
			continue
		}
		parsedAny = true
	}

	if sawParseable && !parsedAny && firstParseErr != nil {
		return firstParseErr
	}
	return nil
}

func (c *Controller) parseOne(ctx context.Context, parser parsers.Parser, runID, artifactID int64, text string) error {
	pctx, span := otelx.StartSpan(ctx, c.tracer, "vault.parse",
		otelx.AttrParser.String(parser.Name()),
		otelx.AttrArtifactID.Int64(artifactID),
	)
	defer span.End()
	return c.store.WithParseTx(pctx, func(pt *vault.ParseTx) error {
		return parser.Parse(pt, runID, artifactID, text)
	})
}

func readEntry(f *zip.File) ([]byte, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	// The pre-scan admitted the declared size; cap the actual read at the
	// declared size plus one byte so a lying header cannot balloon memory.
	limited := io.LimitReader(rc, int64(f.UncompressedSize64)+1)
	b, err := io.ReadAll(limited)
	if err != nil {
		return nil, err
	}
	if uint64(len(b)) > f.UncompressedSize64 {
		return nil, fmt.Errorf("entry %q larger than declared", f.Name)
	}
	return b, nil
}

func decodeUTF8(data []byte) (string, error) {
	if !utf8.Valid(data) {
		return "", errcode.Newf(errcode.ParseJSONFailed, "payload is not valid UTF-8")
	}
	return string(data), nil
}

func entryType(name string) string {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".json":
		return "json"
	case ".html", ".htm":
		return "html"
	case ".zip":
		return "zip"
	default:
		ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(name)), ".")
		if ext == "" {
			return "bin"
		}
		return ext
	}
}
