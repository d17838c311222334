package expr

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/roach88/statekeeper/internal/value"
)

// Engine names.
const (
	EngineExpr = "expr"
	EngineCEL  = "cel"
	EngineJS   = "js"
)

// DefaultEngine is used when a definition does not name one.
const DefaultEngine = EngineExpr

// Env is the variable environment handed to a program.
type Env map[string]any

// NewEnv builds the standard environment for a field expression.
// cur may be nil for getters, which have no owning field.
func NewEnv(cur value.Value, args []value.Value, state value.Object) Env {
	env := Env{}
	st := value.ToGo(state)
	if m, ok := st.(map[string]any); ok {
		for k, v := range m {
			env[k] = v
		}
	} else {
		st = map[string]any{}
	}
	env["state"] = st
	env["value"] = value.ToGo(cur)
	env["args"] = value.ToGoSlice(args)
	return env
}

// ReservedNames are the environment variables every program gets besides
// the state fields.
func ReservedNames() []string {
	return []string{"args", "state", "value"}
}

// Program is a compiled expression.
type Program interface {
	// Eval runs the program against env and returns the raw Go result.
	Eval(env Env) (any, error)
	// Source returns the expression text.
	Source() string
}

// Evaluator compiles expressions for one engine.
type Evaluator interface {
	// Engine returns the engine name.
	Engine() string
	// Compile checks expression and returns a reusable program. vars names
	// the state fields that will be present at top level of the environment;
	// engines with static checking reject references to anything else.
	Compile(expression string, vars ...string) (Program, error)
}

// Option configures an evaluator.
type Option func(*config)

type config struct {
	cache  ProgramCache
	logger *slog.Logger
}

// WithProgramCache shares compiled programs between evaluators and loads.
func WithProgramCache(cache ProgramCache) Option {
	return func(c *config) {
		c.cache = cache
	}
}

// WithLogger logs each evaluation at debug level.
func WithLogger(logger *slog.Logger) Option {
	return func(c *config) {
		c.logger = logger
	}
}

func applyOptions(opts []Option) config {
	var cfg config
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	return cfg
}

// New returns the evaluator for engine. An empty engine selects the default.
func New(engine string, opts ...Option) (Evaluator, error) {
	switch engine {
	case "", EngineExpr:
		return NewExprEvaluator(opts...), nil
	case EngineCEL:
		return NewCELEvaluator(opts...), nil
	case EngineJS:
		if !jsEvaluatorAvailable() {
			return nil, fmt.Errorf("expr: js engine unavailable (build with -tags js_eval)")
		}
		return NewJSEvaluator(opts...), nil
	default:
		return nil, fmt.Errorf("expr: unknown engine %q (valid: %s)", engine, strings.Join(Engines(), ", "))
	}
}

// Engines lists the engines compiled into this binary.
func Engines() []string {
	out := []string{EngineCEL, EngineExpr}
	if jsEvaluatorAvailable() {
		out = append(out, EngineJS)
	}
	sort.Strings(out)
	return out
}

// Run evaluates p and converts the result into a Value.
func Run(p Program, env Env) (value.Value, error) {
	raw, err := p.Eval(env)
	if err != nil {
		return nil, err
	}
	v, err := value.FromGo(raw)
	if err != nil {
		return nil, fmt.Errorf("expr %q: result: %w", p.Source(), err)
	}
	return v, nil
}

// cacheKey separates programs compiled against different variable sets.
func cacheKey(engine, expression string, vars []string) string {
	if len(vars) == 0 {
		return engine + "\x00" + expression
	}
	sorted := append([]string(nil), vars...)
	sort.Strings(sorted)
	return engine + "\x00" + expression + "\x00" + strings.Join(sorted, ",")
}

// logEval records one evaluation.
func logEval(logger *slog.Logger, engine, expression string, start time.Time, err error) {
	if logger == nil {
		return
	}
	if err != nil {
		logger.Debug("expression failed", "engine", engine, "expr", expression, "duration", time.Since(start), "error", err)
		return
	}
	logger.Debug("expression evaluated", "engine", engine, "expr", expression, "duration", time.Since(start))
}
