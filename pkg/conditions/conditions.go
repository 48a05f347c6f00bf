// Package conditions evaluates step predicates against an execution context.
package conditions

import (
	"errors"
	"fmt"
	"reflect"
	"strconv"
	"strings"

	"github.com/dukex/autoflow/pkg/models"
	"github.com/dukex/autoflow/pkg/template"
)

// ErrConditionEvaluation marks a malformed predicate.
var ErrConditionEvaluation = errors.New("condition evaluation failed")

// EvaluationError describes why a predicate could not be evaluated.
type EvaluationError struct {
	Index     int
	Condition models.Condition
	Reason    string
}

func (e *EvaluationError) Error() string {
	return fmt.Sprintf("condition %d (%s %s): %s", e.Index, e.Condition.Field, e.Condition.Operator, e.Reason)
}

func (e *EvaluationError) Unwrap() error {
	return ErrConditionEvaluation
}

// Evaluate combines the predicates left to right. Each predicate's logical
// operator joins it to the next one; the first join defaults to AND.
// A malformed predicate counts as false and its error is returned alongside
// the result so callers can log it without stalling the workflow.
func Evaluate(conditions []models.Condition, ctx map[string]any) (bool, error) {
	if len(conditions) == 0 {
		return true, nil
	}

	var errs []error

	result := true
	joiner := models.LogicalAnd

	for i, condition := range conditions {
		value, err := evaluateOne(condition, ctx)
		if err != nil {
			errs = append(errs, &EvaluationError{Index: i, Condition: condition, Reason: err.Error()})
			value = false
		}

		if i == 0 {
			result = value
		} else if joiner == models.LogicalOr {
			result = result || value
		} else {
			result = result && value
		}

		if condition.LogicalOperator != "" {
			joiner = condition.LogicalOperator
		} else {
			joiner = models.LogicalAnd
		}
	}

	return result, errors.Join(errs...)
}

func evaluateOne(condition models.Condition, ctx map[string]any) (bool, error) {
	actual, found := template.Lookup(ctx, condition.Field)

	switch condition.Operator {
	case models.OperatorExists:
		return found && actual != nil, nil
	case models.OperatorEquals:
		return found && equal(actual, condition.Value), nil
	case models.OperatorNotEquals:
		return !found || !equal(actual, condition.Value), nil
	case models.OperatorGreaterThan, models.OperatorLessThan:
		if !found {
			return false, nil
		}

		left, err := toNumber(actual)
		if err != nil {
			return false, fmt.Errorf("field value: %w", err)
		}

		right, err := toNumber(condition.Value)
		if err != nil {
			return false, fmt.Errorf("condition value: %w", err)
		}

		if condition.Operator == models.OperatorGreaterThan {
			return left > right, nil
		}

		return left < right, nil
	case models.OperatorContains:
		if !found || actual == nil {
			return false, nil
		}

		return strings.Contains(template.Stringify(actual), template.Stringify(condition.Value)), nil
	default:
		return false, fmt.Errorf("unknown operator %q", condition.Operator)
	}
}

// equal compares numerically when both sides are numbers so 5 and 5.0 match.
func equal(actual, expected any) bool {
	if a, err := toNumber(actual); err == nil {
		if b, err := toNumber(expected); err == nil {
			return a == b
		}
	}

	return reflect.DeepEqual(actual, expected)
}

func toNumber(value any) (float64, error) {
	switch v := value.(type) {
	case float64:
		return v, nil
	case float32:
		return float64(v), nil
	case int:
		return float64(v), nil
	case int32:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case uint:
		return float64(v), nil
	case uint64:
		return float64(v), nil
	case string:
		n, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return 0, fmt.Errorf("cannot convert %q to number", v)
		}

		return n, nil
	default:
		return 0, fmt.Errorf("cannot convert %T to number", value)
	}
}
