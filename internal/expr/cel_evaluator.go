package expr

import (
	"fmt"
	"log/slog"
	"time"

	celgo "github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"
	"github.com/google/cel-go/common/types/traits"
)

type celEvaluator struct {
	cache  ProgramCache
	logger *slog.Logger
}

// NewCELEvaluator constructs an Evaluator backed by cel-go. Every variable
// is declared dyn; references to undeclared names fail at compile time.
func NewCELEvaluator(opts ...Option) Evaluator {
	cfg := applyOptions(opts)
	return &celEvaluator{cache: cfg.cache, logger: cfg.logger}
}

func (e *celEvaluator) Engine() string { return EngineCEL }

func (e *celEvaluator) Compile(expression string, vars ...string) (Program, error) {
	if expression == "" {
		return nil, wrapEvaluationError(EngineCEL, expression, errEmptyExpression)
	}
	key := cacheKey(EngineCEL, expression, vars)
	if e.cache != nil {
		if cached, ok := e.cache.Get(key); ok {
			if program, ok := cached.(*celProgram); ok {
				return program, nil
			}
		}
	}

	env, err := e.buildEnv(vars)
	if err != nil {
		return nil, wrapEvaluationError(EngineCEL, expression, err)
	}
	ast, issues := env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return nil, wrapEvaluationError(EngineCEL, expression, issues.Err())
	}
	prg, err := env.Program(ast)
	if err != nil {
		return nil, wrapEvaluationError(EngineCEL, expression, err)
	}

	program := &celProgram{evaluator: e, program: prg, expression: expression}
	if e.cache != nil {
		e.cache.Set(key, program)
	}
	return program, nil
}

func (e *celEvaluator) buildEnv(vars []string) (*celgo.Env, error) {
	declared := map[string]bool{}
	var opts []celgo.EnvOption
	for _, name := range append(ReservedNames(), vars...) {
		if declared[name] {
			continue
		}
		declared[name] = true
		opts = append(opts, celgo.Variable(name, celgo.DynType))
	}
	return celgo.NewEnv(opts...)
}

type celProgram struct {
	evaluator  *celEvaluator
	program    celgo.Program
	expression string
}

func (p *celProgram) Source() string { return p.expression }

func (p *celProgram) Eval(env Env) (any, error) {
	start := time.Now()
	out, _, err := p.program.Eval(map[string]any(env))
	var result any
	if err == nil {
		result, err = celNative(out)
	}
	if err != nil {
		err = wrapEvaluationError(EngineCEL, p.expression, err)
	}
	logEval(p.evaluator.logger, EngineCEL, p.expression, start, err)
	return result, err
}

// celNative unwraps a CEL result into plain Go data. Lists and maps built by
// the expression itself hold ref.Val elements and are converted recursively.
func celNative(v ref.Val) (any, error) {
	if types.IsError(v) {
		return nil, fmt.Errorf("%v", v)
	}
	switch val := v.(type) {
	case types.Null:
		return nil, nil
	case traits.Mapper:
		out := map[string]any{}
		it := val.Iterator()
		for it.HasNext() == types.True {
			k := it.Next()
			key, ok := k.Value().(string)
			if !ok {
				return nil, fmt.Errorf("map key %v is not a string", k)
			}
			elem, err := celNative(val.Get(k))
			if err != nil {
				return nil, err
			}
			out[key] = elem
		}
		return out, nil
	case traits.Lister:
		var out []any
		it := val.Iterator()
		for it.HasNext() == types.True {
			elem, err := celNative(it.Next())
			if err != nil {
				return nil, err
			}
			out = append(out, elem)
		}
		if out == nil {
			out = []any{}
		}
		return out, nil
	default:
		return v.Value(), nil
	}
}
