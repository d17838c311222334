//go:build js_eval

package expr

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/dop251/goja"
)

type jsEvaluator struct {
	cache  ProgramCache
	logger *slog.Logger
}

// NewJSEvaluator constructs an Evaluator backed by goja.
func NewJSEvaluator(opts ...Option) Evaluator {
	cfg := applyOptions(opts)
	return &jsEvaluator{cache: cfg.cache, logger: cfg.logger}
}

func (e *jsEvaluator) Engine() string { return EngineJS }

func (e *jsEvaluator) Compile(expression string, _ ...string) (Program, error) {
	if expression == "" {
		return nil, wrapEvaluationError(EngineJS, expression, errEmptyExpression)
	}
	key := cacheKey(EngineJS, expression, nil)
	if e.cache != nil {
		if cached, ok := e.cache.Get(key); ok {
			if program, ok := cached.(*goja.Program); ok {
				return &jsProgram{evaluator: e, program: program, expression: expression}, nil
			}
		}
	}
	program, err := goja.Compile("", wrapExpression(expression), false)
	if err != nil {
		return nil, wrapEvaluationError(EngineJS, expression, err)
	}
	if e.cache != nil {
		e.cache.Set(key, program)
	}
	return &jsProgram{evaluator: e, program: program, expression: expression}, nil
}

func wrapExpression(expression string) string {
	return fmt.Sprintf("(function(){ return (%s); })()", expression)
}

type jsProgram struct {
	evaluator  *jsEvaluator
	program    *goja.Program
	expression string
}

func (p *jsProgram) Source() string { return p.expression }

// Eval runs the program in a fresh runtime; goja runtimes are not safe for
// concurrent use.
func (p *jsProgram) Eval(env Env) (any, error) {
	start := time.Now()
	vm := goja.New()
	var err error
	for k, v := range env {
		if err = vm.Set(k, v); err != nil {
			break
		}
	}
	var result any
	if err == nil {
		var out goja.Value
		out, err = vm.RunProgram(p.program)
		if err == nil && out != nil && !goja.IsUndefined(out) && !goja.IsNull(out) {
			result = out.Export()
		}
	}
	if err != nil {
		err = wrapEvaluationError(EngineJS, p.expression, err)
	}
	logEval(p.evaluator.logger, EngineJS, p.expression, start, err)
	return result, err
}

func jsEvaluatorAvailable() bool {
	return true
}
