package expr

import (
	"log/slog"
	"time"

	exprlang "github.com/expr-lang/expr"
	exprvm "github.com/expr-lang/expr/vm"
)

// exprEvaluator runs expressions with github.com/expr-lang/expr.
type exprEvaluator struct {
	cache  ProgramCache
	logger *slog.Logger
}

// NewExprEvaluator constructs an Evaluator backed by expr-lang/expr.
func NewExprEvaluator(opts ...Option) Evaluator {
	cfg := applyOptions(opts)
	return &exprEvaluator{cache: cfg.cache, logger: cfg.logger}
}

func (e *exprEvaluator) Engine() string { return EngineExpr }

// Compile ignores vars: undefined variables evaluate to nil.
func (e *exprEvaluator) Compile(expression string, _ ...string) (Program, error) {
	if expression == "" {
		return nil, wrapEvaluationError(EngineExpr, expression, errEmptyExpression)
	}
	program, err := e.loadOrCompile(expression)
	if err != nil {
		return nil, err
	}
	return &exprProgram{evaluator: e, program: program, expression: expression}, nil
}

func (e *exprEvaluator) loadOrCompile(expression string) (*exprvm.Program, error) {
	key := cacheKey(EngineExpr, expression, nil)
	if e.cache != nil {
		if cached, ok := e.cache.Get(key); ok {
			if program, ok := cached.(*exprvm.Program); ok {
				return program, nil
			}
		}
	}
	program, err := exprlang.Compile(expression,
		exprlang.Env(map[string]any{}),
		exprlang.AllowUndefinedVariables(),
	)
	if err != nil {
		return nil, wrapEvaluationError(EngineExpr, expression, err)
	}
	if e.cache != nil {
		e.cache.Set(key, program)
	}
	return program, nil
}

type exprProgram struct {
	evaluator  *exprEvaluator
	program    *exprvm.Program
	expression string
}

func (p *exprProgram) Source() string { return p.expression }

func (p *exprProgram) Eval(env Env) (any, error) {
	start := time.Now()
	result, err := exprlang.Run(p.program, map[string]any(env))
	if err != nil {
		err = wrapEvaluationError(EngineExpr, p.expression, err)
	}
	logEval(p.evaluator.logger, EngineExpr, p.expression, start, err)
	return result, err
}
