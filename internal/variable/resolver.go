// Package variable resolves parameter expressions against the current
// database state at the moment a step or check consumes them.
package variable

import (
	"context"
	"fmt"
	"time"

	"github.com/banksia-harness/banksia/internal/store"
	"github.com/banksia-harness/banksia/pkg/types"
)

// UnresolvableVariableError indicates an expression could not be resolved,
// either because a named variable has no backing data or because an operation
// was applied to incompatible operand types.
type UnresolvableVariableError struct {
	Message string
}

func (e *UnresolvableVariableError) Error() string { return e.Message }

func unresolvable(format string, args ...any) error {
	return &UnresolvableVariableError{Message: fmt.Sprintf(format, args...)}
}

// namedResolver fetches the current value of one named variable from a
// database session.
type namedResolver func(ctx context.Context, sess store.Session, now time.Time) (any, error)

// Resolver evaluates expression trees. The zero value is not usable; use New.
type Resolver struct {
	named map[types.NamedVariable]namedResolver
	// Now supplies the current time for the $now variable. Overridable in
	// tests.
	Now func() time.Time
}

// New returns a Resolver with the full named-variable vocabulary registered.
func New() *Resolver {
	return &Resolver{
		named: namedResolvers(),
		Now:   time.Now,
	}
}

// Resolve evaluates expr against the supplied session. Constants resolve to
// themselves, named variables to current database state, operations to the
// operator applied to both resolved operands.
func (r *Resolver) Resolve(ctx context.Context, sess store.Session, expr *types.Expr) (any, error) {
	if expr == nil {
		return nil, unresolvable("cannot resolve a nil expression")
	}

	switch expr.Kind {
	case types.ExprConstant:
		return expr.Value, nil

	case types.ExprNamed:
		fn, ok := r.named[expr.Variable]
		if !ok {
			return nil, unresolvable("unknown named variable %q", expr.Variable)
		}
		v, err := fn(ctx, sess, r.Now().UTC())
		if err != nil {
			return nil, err
		}
		return v, nil

	case types.ExprOperation:
		lhs, err := r.Resolve(ctx, sess, expr.LHS)
		if err != nil {
			return nil, err
		}
		rhs, err := r.Resolve(ctx, sess, expr.RHS)
		if err != nil {
			return nil, err
		}
		return applyOperator(expr.Op, lhs, rhs)

	default:
		return nil, unresolvable("unknown expression kind %d", expr.Kind)
	}
}

// ResolveParameterMap resolves every expression-valued parameter in params,
// returning a new map. The input map is never mutated. Non-expression values
// pass through unchanged.
func (r *Resolver) ResolveParameterMap(ctx context.Context, sess store.Session, params map[string]any) (map[string]any, error) {
	resolved := make(map[string]any, len(params))
	for key, raw := range params {
		if !types.IsExpressionString(raw) {
			resolved[key] = raw
			continue
		}
		expr, err := types.ParseExpression(raw.(string))
		if err != nil {
			return nil, fmt.Errorf("parsing parameter %q: %w", key, err)
		}
		v, err := r.Resolve(ctx, sess, expr)
		if err != nil {
			return nil, fmt.Errorf("resolving parameter %q: %w", key, err)
		}
		resolved[key] = v
	}
	return resolved, nil
}

// applyOperator evaluates one binary operation. Numeric operands of mixed
// int/float types are coerced to float64. time.Time operands support
// addition and subtraction with durations expressed in seconds.
func applyOperator(op types.Operator, lhs, rhs any) (any, error) {
	if lt, ok := lhs.(time.Time); ok {
		return applyTimeOperator(op, lt, rhs)
	}

	lf, lok := toFloat(lhs)
	rf, rok := toFloat(rhs)
	if !lok || !rok {
		return nil, unresolvable("operator %q cannot combine %T and %T", op, lhs, rhs)
	}

	switch op {
	case types.OpAdd:
		return lf + rf, nil
	case types.OpSubtract:
		return lf - rf, nil
	case types.OpMultiply:
		return lf * rf, nil
	case types.OpDivide:
		if rf == 0 {
			return nil, unresolvable("division by zero")
		}
		return lf / rf, nil
	case types.OpEqual:
		return lf == rf, nil
	case types.OpNotEqual:
		return lf != rf, nil
	case types.OpLess:
		return lf < rf, nil
	case types.OpLessEqual:
		return lf <= rf, nil
	case types.OpGreater:
		return lf > rf, nil
	case types.OpGreaterEqual:
		return lf >= rf, nil
	default:
		return nil, unresolvable("unknown operator %q", op)
	}
}

func applyTimeOperator(op types.Operator, lhs time.Time, rhs any) (any, error) {
	if rt, ok := rhs.(time.Time); ok {
		switch op {
		case types.OpSubtract:
			return lhs.Sub(rt).Seconds(), nil
		case types.OpEqual:
			return lhs.Equal(rt), nil
		case types.OpNotEqual:
			return !lhs.Equal(rt), nil
		case types.OpLess:
			return lhs.Before(rt), nil
		case types.OpLessEqual:
			return !lhs.After(rt), nil
		case types.OpGreater:
			return lhs.After(rt), nil
		case types.OpGreaterEqual:
			return !lhs.Before(rt), nil
		default:
			return nil, unresolvable("operator %q not supported for two timestamps", op)
		}
	}

	seconds, ok := toFloat(rhs)
	if !ok {
		return nil, unresolvable("operator %q cannot combine time.Time and %T", op, rhs)
	}
	delta := time.Duration(seconds * float64(time.Second))
	switch op {
	case types.OpAdd:
		return lhs.Add(delta), nil
	case types.OpSubtract:
		return lhs.Add(-delta), nil
	default:
		return nil, unresolvable("operator %q not supported for a timestamp and a number", op)
	}
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	default:
		return 0, false
	}
}
