package catalogsync

import (
	"fmt"
	"strings"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/pimsync/runtime/pkg/catalog"
)

// Exclusion is a compiled per-class exclusion expression. The expression
// sees the remote payload as record, plus code and parent.
type Exclusion struct {
	source  string
	program *vm.Program
}

// CompileExclusion compiles a boolean expression such as
// `record.enabled == false`. An empty source returns nil.
func CompileExclusion(source string) (*Exclusion, error) {
	source = strings.TrimSpace(source)
	if source == "" {
		return nil, nil
	}
	program, err := expr.Compile(source, expr.AllowUndefinedVariables(), expr.AsBool())
	if err != nil {
		return nil, fmt.Errorf("compiling exclusion %q: %w", source, err)
	}
	return &Exclusion{source: source, program: program}, nil
}

// Excludes reports whether rec matches the expression.
func (e *Exclusion) Excludes(rec catalog.Record) (bool, error) {
	env := map[string]interface{}{
		"record": rec.Data,
		"code":   rec.Code,
		"parent": rec.Parent,
	}
	out, err := expr.Run(e.program, env)
	if err != nil {
		return false, fmt.Errorf("evaluating exclusion %q on %s: %w", e.source, rec.Key(), err)
	}
	excluded, ok := out.(bool)
	if !ok {
		return false, fmt.Errorf("exclusion %q returned %T, expected bool", e.source, out)
	}
	return excluded, nil
}

// String returns the expression source.
func (e *Exclusion) String() string { return e.source }
