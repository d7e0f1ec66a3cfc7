// Package logger provides structured logging functionality.
// It wraps the standard log/slog package for consistent logging across the synchronizer.
//
// Run helpers (run start/end, task start/end, run metrics) attach the same
// snake_case fields to every line so a single sync run can be followed by its run_id.
//
// The package supports two output formats:
//   - JSON (default): Machine-readable structured logging
//   - Human: Human-readable console output with colors and prefixes
package logger

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Logger is the default logger instance.
var Logger *slog.Logger

// console is where non-file log output goes. Standard output is reserved for
// command results (run summaries, JSON reports).
var console io.Writer = os.Stderr

func init() {
	Logger = slog.New(slog.NewJSONHandler(console, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
}

// SetLevel configures the logging level, keeping JSON output.
func SetLevel(level slog.Level) {
	SetLevelAndFormat(level, FormatJSON)
}

// Info logs an informational message.
func Info(msg string, args ...any) {
	Logger.Info(msg, args...)
}

// Debug logs a debug message.
func Debug(msg string, args ...any) {
	Logger.Debug(msg, args...)
}

// Warn logs a warning message.
func Warn(msg string, args ...any) {
	Logger.Warn(msg, args...)
}

// Error logs an error message.
func Error(msg string, args ...any) {
	Logger.Error(msg, args...)
}

// WithClass returns a logger scoped to an entity class.
func WithClass(class string) *slog.Logger {
	return Logger.With("class", class)
}

// =============================================================================
// Run Context Types
// =============================================================================

// RunContext identifies one synchronization run of one entity class.
type RunContext struct {
	// RunID is the unique identifier of the run (required)
	RunID string
	// Class is the entity class being synchronized (attributes, products, ...)
	Class string
	// Task is the current task name, empty outside of a task
	Task string
	// TaskIndex is the position of the task in its pipeline, -1 outside of a task
	TaskIndex int
	// DryRun indicates the run rolls back its store transaction
	DryRun bool
}

// RunMetrics summarizes what a run did to the local store.
type RunMetrics struct {
	Fetched  int
	Created  int
	Updated  int
	Deleted  int
	Skipped  int
	Rejected int
	Warnings int
	Duration time.Duration
}

// ErrorContext contains structured context for error logging.
type ErrorContext struct {
	RunID string
	Class string
	Task  string

	ErrorCode string
	Err       error

	Endpoint   string
	HTTPStatus int
	Code       string
	Duration   time.Duration

	Extra map[string]interface{}
}

// =============================================================================
// Run Helpers
// =============================================================================

// WithRun returns a logger with the run context attached.
func WithRun(ctx RunContext) *slog.Logger {
	return Logger.With(runAttrs(ctx)...)
}

// LogRunStart logs the start of a synchronization run.
func LogRunStart(ctx RunContext) {
	Logger.Info("run started", runAttrs(ctx)...)
}

// LogRunEnd logs the end of a synchronization run with its counters.
func LogRunEnd(ctx RunContext, m RunMetrics, err error) {
	attrs := runAttrs(ctx)
	attrs = append(attrs,
		slog.Int("fetched", m.Fetched),
		slog.Int("created", m.Created),
		slog.Int("updated", m.Updated),
		slog.Int("deleted", m.Deleted),
		slog.Int("skipped", m.Skipped),
		slog.Int("rejected", m.Rejected),
		slog.Int("warnings", m.Warnings),
		slog.Duration("duration", m.Duration),
	)
	if err != nil {
		attrs = append(attrs, slog.String("error", err.Error()))
		Logger.Error("run failed", attrs...)
		return
	}
	Logger.Info("run completed", attrs...)
}

// LogTaskStart logs the start of a pipeline task.
func LogTaskStart(ctx RunContext) {
	Logger.Debug("task started", runAttrs(ctx)...)
}

// LogTaskEnd logs the completion of a pipeline task. A non-nil err is logged
// at error level.
func LogTaskEnd(ctx RunContext, duration time.Duration, err error) {
	attrs := runAttrs(ctx)
	attrs = append(attrs, slog.Duration("duration", duration))
	if err != nil {
		attrs = append(attrs, slog.String("error", err.Error()))
		Logger.Error("task failed", attrs...)
		return
	}
	Logger.Info("task completed", attrs...)
}

// LogError logs an error with its run context and unwrapped error chain.
func LogError(message string, errCtx ErrorContext) {
	attrs := make([]any, 0, 16)

	if errCtx.RunID != "" {
		attrs = append(attrs, slog.String("run_id", errCtx.RunID))
	}
	if errCtx.Class != "" {
		attrs = append(attrs, slog.String("class", errCtx.Class))
	}
	if errCtx.Task != "" {
		attrs = append(attrs, slog.String("task", errCtx.Task))
	}
	if errCtx.ErrorCode != "" {
		attrs = append(attrs, slog.String("error_code", errCtx.ErrorCode))
	}
	if errCtx.Err != nil {
		attrs = append(attrs,
			slog.String("error", errCtx.Err.Error()),
			slog.String("error_type", fmt.Sprintf("%T", errCtx.Err)),
		)
		chain := []string{errCtx.Err.Error()}
		for cur := errors.Unwrap(errCtx.Err); cur != nil; cur = errors.Unwrap(cur) {
			chain = append(chain, cur.Error())
		}
		if len(chain) > 1 {
			attrs = append(attrs, slog.String("error_chain", strings.Join(chain, " -> ")))
		}
	}
	if errCtx.Endpoint != "" {
		attrs = append(attrs, slog.String("endpoint", errCtx.Endpoint))
	}
	if errCtx.HTTPStatus > 0 {
		attrs = append(attrs, slog.Int("http_status", errCtx.HTTPStatus))
	}
	if errCtx.Code != "" {
		attrs = append(attrs, slog.String("code", errCtx.Code))
	}
	if errCtx.Duration > 0 {
		attrs = append(attrs, slog.Duration("duration", errCtx.Duration))
	}
	for k, v := range errCtx.Extra {
		attrs = append(attrs, slog.Any(k, v))
	}

	Logger.Error(message, attrs...)
}

func runAttrs(ctx RunContext) []any {
	attrs := make([]any, 0, 6)
	attrs = append(attrs, slog.String("run_id", ctx.RunID))
	if ctx.Class != "" {
		attrs = append(attrs, slog.String("class", ctx.Class))
	}
	if ctx.Task != "" {
		attrs = append(attrs, slog.String("task", ctx.Task))
	}
	if ctx.TaskIndex >= 0 && ctx.Task != "" {
		attrs = append(attrs, slog.Int("task_index", ctx.TaskIndex))
	}
	if ctx.DryRun {
		attrs = append(attrs, slog.Bool("dry_run", true))
	}
	return attrs
}

// FormatMetricsHuman formats run metrics in a human-readable way.
func FormatMetricsHuman(m RunMetrics) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%d created, %d updated, %d deleted in %s",
		m.Created, m.Updated, m.Deleted, formatDuration(m.Duration))
	if m.Skipped > 0 {
		fmt.Fprintf(&sb, ", %d skipped", m.Skipped)
	}
	if m.Rejected > 0 {
		fmt.Fprintf(&sb, ", %d deletes rejected", m.Rejected)
	}
	return sb.String()
}

// =============================================================================
// Formats
// =============================================================================

// OutputFormat represents the log output format
type OutputFormat int

const (
	// FormatJSON is the default machine-readable JSON format
	FormatJSON OutputFormat = iota
	// FormatHuman is a human-readable console format with colors and prefixes
	FormatHuman
)

// ParseFormat maps a format name to an OutputFormat. Unknown names yield JSON.
func ParseFormat(name string) OutputFormat {
	if strings.EqualFold(name, "human") || strings.EqualFold(name, "text") {
		return FormatHuman
	}
	return FormatJSON
}

// ParseLevel maps a level name to a slog.Level. Unknown names yield info.
func ParseLevel(name string) slog.Level {
	switch strings.ToLower(name) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// SetFormat sets the log output format at info level.
func SetFormat(format OutputFormat) {
	SetLevelAndFormat(slog.LevelInfo, format)
}

// SetLevelAndFormat sets both the log level and format.
func SetLevelAndFormat(level slog.Level, format OutputFormat) {
	Logger = slog.New(consoleHandler(level, format))
}

func consoleHandler(level slog.Level, format OutputFormat) slog.Handler {
	if format == FormatHuman {
		return NewHumanHandler(console, &HumanHandlerOptions{
			Level:     level,
			UseColors: isTerminal(console),
		})
	}
	return slog.NewJSONHandler(console, &slog.HandlerOptions{Level: level})
}

func isTerminal(w io.Writer) bool {
	if f, ok := w.(*os.File); ok {
		fi, err := f.Stat()
		if err != nil {
			return false
		}
		return (fi.Mode() & os.ModeCharDevice) != 0
	}
	return false
}

// HumanHandlerOptions configures the human-readable log handler.
type HumanHandlerOptions struct {
	// Level is the minimum log level to output
	Level slog.Level
	// UseColors enables ANSI color codes
	UseColors bool
}

// HumanHandler is a slog handler that outputs one short line per record.
type HumanHandler struct {
	opts   HumanHandlerOptions
	writer io.Writer
	mu     *sync.Mutex
	attrs  []slog.Attr
}

// NewHumanHandler creates a new human-readable log handler.
func NewHumanHandler(w io.Writer, opts *HumanHandlerOptions) *HumanHandler {
	if opts == nil {
		opts = &HumanHandlerOptions{Level: slog.LevelInfo}
	}
	return &HumanHandler{opts: *opts, writer: w, mu: &sync.Mutex{}}
}

// Enabled returns true if the handler is enabled for the given level.
func (h *HumanHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.opts.Level
}

// Handle outputs a log record in human-readable format.
func (h *HumanHandler) Handle(_ context.Context, r slog.Record) error {
	var sb strings.Builder
	sb.WriteString(r.Time.Format("15:04:05"))
	sb.WriteString(" ")
	sb.WriteString(h.levelPrefix(r.Level, r.Message))
	sb.WriteString(" ")
	sb.WriteString(r.Message)

	var parts []string
	for _, a := range h.attrs {
		parts = append(parts, formatAttr(a))
	}
	r.Attrs(func(a slog.Attr) bool {
		parts = append(parts, formatAttr(a))
		return true
	})

	const maxInline = 6
	if len(parts) > 0 {
		sb.WriteString(" ")
		if len(parts) > maxInline {
			sb.WriteString(strings.Join(parts[:maxInline], " "))
			fmt.Fprintf(&sb, " (+%d more)", len(parts)-maxInline)
		} else {
			sb.WriteString(strings.Join(parts, " "))
		}
	}
	sb.WriteString("\n")

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := io.WriteString(h.writer, sb.String())
	return err
}

// WithAttrs returns a new handler with the given attributes added.
func (h *HumanHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	merged := make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	merged = append(merged, h.attrs...)
	merged = append(merged, attrs...)
	return &HumanHandler{opts: h.opts, writer: h.writer, mu: h.mu, attrs: merged}
}

// WithGroup returns the handler unchanged; groups are flattened in human output.
func (h *HumanHandler) WithGroup(_ string) slog.Handler {
	return h
}

func (h *HumanHandler) levelPrefix(level slog.Level, message string) string {
	const (
		colorReset  = "\033[0m"
		colorRed    = "\033[31m"
		colorYellow = "\033[33m"
		colorGreen  = "\033[32m"
		colorCyan   = "\033[36m"
	)

	var prefix, color string
	switch {
	case level >= slog.LevelError:
		prefix, color = "✗", colorRed
	case level >= slog.LevelWarn:
		prefix, color = "⚠", colorYellow
	case level >= slog.LevelInfo:
		if strings.Contains(strings.ToLower(message), "completed") {
			prefix, color = "✓", colorGreen
		} else {
			prefix, color = "ℹ", colorCyan
		}
	default:
		prefix, color = "·", colorReset
	}

	if h.opts.UseColors {
		return color + prefix + colorReset
	}
	return prefix
}

func formatAttr(a slog.Attr) string {
	switch v := a.Value.Any().(type) {
	case time.Duration:
		return fmt.Sprintf("%s=%s", a.Key, formatDuration(v))
	case float64:
		return fmt.Sprintf("%s=%.2f", a.Key, v)
	default:
		return fmt.Sprintf("%s=%v", a.Key, v)
	}
}

func formatDuration(d time.Duration) string {
	switch {
	case d < time.Millisecond:
		return fmt.Sprintf("%dµs", d.Microseconds())
	case d < time.Second:
		return fmt.Sprintf("%dms", d.Milliseconds())
	case d < time.Minute:
		return fmt.Sprintf("%.2fs", d.Seconds())
	default:
		return fmt.Sprintf("%.1fm", d.Minutes())
	}
}

// =============================================================================
// Log File Output Support
// =============================================================================

// FileOptions configures the rotating log file.
type FileOptions struct {
	// MaxSizeMB is the size at which the file is rotated (default 10)
	MaxSizeMB int
	// MaxBackups is the number of rotated files kept (default 5)
	MaxBackups int
	// MaxAgeDays is the retention of rotated files (default 28)
	MaxAgeDays int
}

var logFile *lumberjack.Logger

// SetLogFile configures logging to write to both the console and a rotating
// file. File logs are always JSON.
func SetLogFile(path string, level slog.Level, consoleFormat OutputFormat, opts FileOptions) error {
	CloseLogFile()

	if path == "" {
		return fmt.Errorf("log file path is empty")
	}
	if opts.MaxSizeMB <= 0 {
		opts.MaxSizeMB = 10
	}
	if opts.MaxBackups <= 0 {
		opts.MaxBackups = 5
	}
	if opts.MaxAgeDays <= 0 {
		opts.MaxAgeDays = 28
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("opening log file: %w", err)
	}
	_ = f.Close()

	logFile = &lumberjack.Logger{
		Filename:   path,
		MaxSize:    opts.MaxSizeMB,
		MaxBackups: opts.MaxBackups,
		MaxAge:     opts.MaxAgeDays,
	}

	Logger = slog.New(&dualHandler{
		console: consoleHandler(level, consoleFormat),
		file:    slog.NewJSONHandler(logFile, &slog.HandlerOptions{Level: level}),
	})

	Debug("log file opened", slog.String("path", path))
	return nil
}

// CloseLogFile closes the current log file if one is open.
func CloseLogFile() {
	if logFile == nil {
		return
	}
	if err := logFile.Close(); err != nil {
		Warn("failed to close log file", slog.String("error", err.Error()))
	}
	logFile = nil
}

// dualHandler writes every record to both the console and the file handler.
type dualHandler struct {
	console slog.Handler
	file    slog.Handler
}

func (d *dualHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return d.console.Enabled(ctx, level) || d.file.Enabled(ctx, level)
}

func (d *dualHandler) Handle(ctx context.Context, r slog.Record) error {
	if d.console.Enabled(ctx, r.Level) {
		if err := d.console.Handle(ctx, r.Clone()); err != nil {
			return err
		}
	}
	if d.file.Enabled(ctx, r.Level) {
		if err := d.file.Handle(ctx, r); err != nil {
			return err
		}
	}
	return nil
}

func (d *dualHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &dualHandler{console: d.console.WithAttrs(attrs), file: d.file.WithAttrs(attrs)}
}

func (d *dualHandler) WithGroup(name string) slog.Handler {
	return &dualHandler{console: d.console.WithGroup(name), file: d.file.WithGroup(name)}
}
