package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/leapstack-labs/odgrid/internal/grid"
	"github.com/leapstack-labs/odgrid/internal/odata"
)

// Argument hardening limits. Model output is untrusted input.
const (
	maxArgs      = 10
	maxStringArg = 2000
)

// yieldPause is how long the interpreter pauses after flushing a
// reload between operations, so each step is visible as it lands.
const yieldPause = 120 * time.Millisecond

var (
	statementRe = regexp.MustCompile(`(?s)^(\w+)\s*\((.*)\)$`)
	quotedArgRe = regexp.MustCompile(`'([^']*)'`)
)

// BlockResult is the outcome of interpreting one code block.
type BlockResult struct {
	Code     string
	Executed int
	Errors   []string
	Mutated  bool
	Analysis []string
}

// Interpreter executes model-emitted call blocks against the session.
// Only calls in the fixed allowlist run; anything else is reported
// back as an error and skipped.
type Interpreter struct {
	session *grid.Session
	batcher *Batcher
	logger  *slog.Logger

	exportDir string
	sleep     func(time.Duration)
}

// NewInterpreter creates an interpreter. Exports land in exportDir
// ("" means the working directory); logger may be nil.
func NewInterpreter(session *grid.Session, exportDir string, logger *slog.Logger) *Interpreter {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Interpreter{
		session:   session,
		batcher:   NewBatcher(session, logger),
		logger:    logger,
		exportDir: exportDir,
		sleep:     time.Sleep,
	}
}

func (it *Interpreter) saveExport(res *grid.ExportResult) (string, error) {
	path := filepath.Join(it.exportDir, res.Filename)
	if err := os.WriteFile(path, res.Content, 0o644); err != nil {
		return "", fmt.Errorf("could not write export: %w", err)
	}
	return path, nil
}

// ExecuteBlock runs one code block statement by statement. Statements
// split on semicolons and newlines; comments and blank lines are
// skipped. Consecutive mutations batch into one reload, flushed when
// the function name changes and at block end. A failed loadEntity or
// joinEntity aborts the rest of the block, and discovery calls end it
// early so their output is fed back before further action.
func (it *Interpreter) ExecuteBlock(ctx context.Context, code string) (result BlockResult) {
	result = BlockResult{Code: strings.TrimSpace(code)}

	statements := splitStatements(code)
	it.batcher.Enter()
	// Named return: the deferred exit flush must land its errors in the
	// result even on the early-return paths.
	defer func() {
		result.Errors = append(result.Errors, it.batcher.Exit(ctx)...)
	}()

	prevName := ""
	for _, stmt := range statements {
		if ctx.Err() != nil {
			return result
		}

		m := statementRe.FindStringSubmatch(stmt)
		if m == nil {
			it.logger.Warn("skipped unparseable statement", "statement", odata.Truncate(stmt, 40))
			continue
		}
		name, argsStr := m[1], strings.TrimSpace(m[2])

		cmd, ok := commands[name]
		if !ok {
			result.Errors = append(result.Errors, name+"() is not an allowed function")
			continue
		}
		if cmd.mutating {
			result.Mutated = true
		}

		// Flush the pending reload when the operation type changes, so
		// filter runs batch but each distinct step paints. Without a
		// pending reload there is nothing to repaint, so the yield
		// pause is skipped too.
		if prevName != "" && name != prevName {
			if flushed, errs := it.batcher.FlushIfNeeded(ctx); flushed {
				result.Errors = append(result.Errors, errs...)
				it.sleep(yieldPause)
			}
		}

		args, err := parseArgs(argsStr)
		if err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("%s(): %v", name, err))
			continue
		}
		if msg := hardenArgs(name, args); msg != "" {
			result.Errors = append(result.Errors, msg)
			continue
		}

		analysis, err := cmd.run(ctx, it, args)
		if err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("%s(%s) threw: %v", name, argsStr, err))
			// Everything after a failed entity switch or join depends
			// on it.
			if name == "loadEntity" || name == "joinEntity" {
				return result
			}
			continue
		}
		if msg := it.session.LastLoadError(); msg != "" {
			result.Errors = append(result.Errors, fmt.Sprintf("%s(%s) query error: %s", name, argsStr, msg))
		}
		if analysis != "" {
			result.Analysis = append(result.Analysis, analysis)
		}
		result.Executed++
		prevName = name

		if cmd.discovery {
			break
		}
	}
	return result
}

func splitStatements(code string) []string {
	var out []string
	for _, part := range strings.FieldsFunc(code, func(r rune) bool { return r == ';' || r == '\n' }) {
		stmt := strings.TrimSpace(part)
		if stmt == "" || strings.HasPrefix(stmt, "//") {
			continue
		}
		out = append(out, stmt)
	}
	return out
}

// parseArgs decodes an argument list as JSON. Models emit single
// quotes; those are rewritten to double quotes first.
func parseArgs(argsStr string) ([]any, error) {
	if argsStr == "" {
		return nil, nil
	}
	jsonSafe := quotedArgRe.ReplaceAllString(argsStr, `"$1"`)
	var args []any
	if err := json.Unmarshal([]byte("["+jsonSafe+"]"), &args); err != nil {
		return nil, fmt.Errorf("could not parse arguments %q", odata.Truncate(argsStr, 60))
	}
	return args, nil
}

// hardenArgs enforces the argument limits and blocks objects carrying
// prototype-pollution key names. Returns "" when the args are clean.
func hardenArgs(fn string, args []any) string {
	if len(args) > maxArgs {
		return fmt.Sprintf("%s(): too many arguments (%d)", fn, len(args))
	}
	for _, arg := range args {
		if s, ok := arg.(string); ok && len(s) > maxStringArg {
			return fmt.Sprintf("%s(): argument string too long (%d)", fn, len(s))
		}
		if hasSuspiciousKeys(arg) {
			return fn + "(): suspicious argument blocked"
		}
	}
	return ""
}

// hasSuspiciousKeys walks an argument for prototype-pollution key
// names, including objects nested inside arrays and other objects.
func hasSuspiciousKeys(arg any) bool {
	switch v := arg.(type) {
	case map[string]any:
		for k, inner := range v {
			if k == "__proto__" || k == "constructor" || k == "prototype" {
				return true
			}
			if hasSuspiciousKeys(inner) {
				return true
			}
		}
	case []any:
		for _, inner := range v {
			if hasSuspiciousKeys(inner) {
				return true
			}
		}
	}
	return false
}

func trimFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
