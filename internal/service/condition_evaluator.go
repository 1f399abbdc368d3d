package service

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/Runline/runline/internal/domain"
	"github.com/Runline/runline/pkg/logger"
)

// ConditionEvaluator evaluates step predicates against the event context.
// Field lookup is dot-path traversal ("lead.status", "payment.amount"); a
// missing segment yields a non-existent value, never a panic. A malformed
// condition fails closed (false) - a single bad condition must never crash
// the run.
type ConditionEvaluator struct {
	logger logger.Logger
}

// NewConditionEvaluator creates a new ConditionEvaluator
func NewConditionEvaluator(log logger.Logger) *ConditionEvaluator {
	return &ConditionEvaluator{logger: log}
}

// EvaluateAll combines the step's condition list with AND/OR logic.
// An empty condition list is vacuously true. Missing logic defaults to AND.
func (e *ConditionEvaluator) EvaluateAll(conditions []*domain.StepCondition, ctx *domain.EventContext, logic domain.ConditionLogic) bool {
	if len(conditions) == 0 {
		return true
	}

	doc := marshalContext(ctx)

	if logic == domain.ConditionLogicOr {
		for _, cond := range conditions {
			if e.evaluateAgainst(cond, doc, ctx) {
				return true
			}
		}
		return false
	}

	for _, cond := range conditions {
		if !e.evaluateAgainst(cond, doc, ctx) {
			return false
		}
	}
	return true
}

// Evaluate evaluates a single condition against the event context
func (e *ConditionEvaluator) Evaluate(cond *domain.StepCondition, ctx *domain.EventContext) bool {
	return e.evaluateAgainst(cond, marshalContext(ctx), ctx)
}

func marshalContext(ctx *domain.EventContext) []byte {
	if ctx == nil {
		return []byte("{}")
	}
	doc, err := json.Marshal(ctx)
	if err != nil {
		return []byte("{}")
	}
	return doc
}

func (e *ConditionEvaluator) evaluateAgainst(cond *domain.StepCondition, doc []byte, ctx *domain.EventContext) bool {
	if cond == nil || cond.Field == "" {
		return false
	}

	value := gjson.GetBytes(doc, cond.Field)

	switch cond.Operator {
	case domain.OperatorEquals:
		return value.Exists() && looseEquals(value, cond.Value)
	case domain.OperatorNotEquals:
		return !value.Exists() || !looseEquals(value, cond.Value)

	case domain.OperatorContains:
		return value.Exists() && strings.Contains(value.String(), toString(cond.Value))
	case domain.OperatorStartsWith:
		return value.Exists() && strings.HasPrefix(value.String(), toString(cond.Value))
	case domain.OperatorEndsWith:
		return value.Exists() && strings.HasSuffix(value.String(), toString(cond.Value))

	case domain.OperatorGreaterThan:
		return compareNumbers(value, cond.Value, func(a, b float64) bool { return a > b })
	case domain.OperatorGreaterThanEqual:
		return compareNumbers(value, cond.Value, func(a, b float64) bool { return a >= b })
	case domain.OperatorLessThan:
		return compareNumbers(value, cond.Value, func(a, b float64) bool { return a < b })
	case domain.OperatorLessThanEqual:
		return compareNumbers(value, cond.Value, func(a, b float64) bool { return a <= b })

	case domain.OperatorIn:
		return value.Exists() && inSet(value, condValues(cond))
	case domain.OperatorNotIn:
		return !value.Exists() || !inSet(value, condValues(cond))
	case domain.OperatorContainsAny:
		return containsAnyOf(value, condValues(cond))

	case domain.OperatorIsSet:
		return value.Exists() && value.Type != gjson.Null
	case domain.OperatorIsNotSet:
		return !value.Exists() || value.Type == gjson.Null

	case domain.OperatorWithinLastDays:
		return e.withinLastDays(value, cond.Value, ctx)
	case domain.OperatorBefore:
		fieldTime, refTime, ok := e.parseTimes(value, cond.Value)
		return ok && fieldTime.Before(refTime)
	case domain.OperatorAfter:
		fieldTime, refTime, ok := e.parseTimes(value, cond.Value)
		return ok && fieldTime.After(refTime)

	default:
		e.logger.WithFields(map[string]interface{}{
			"operator": string(cond.Operator),
			"field":    cond.Field,
		}).Warn("Unrecognized condition operator, failing closed")
		return false
	}
}

// condValues returns the value list, tolerating a scalar Value as a single-element set
func condValues(cond *domain.StepCondition) []interface{} {
	if len(cond.Values) > 0 {
		return cond.Values
	}
	if cond.Value != nil {
		return []interface{}{cond.Value}
	}
	return nil
}

// looseEquals compares a JSON result to a condition value with type coercion:
// numbers compare numerically, everything else compares as strings.
func looseEquals(value gjson.Result, expected interface{}) bool {
	if expected == nil {
		return value.Type == gjson.Null
	}
	if expectedNum, ok := toFloat(expected); ok && value.Type == gjson.Number {
		return value.Num == expectedNum
	}
	return value.String() == toString(expected)
}

func compareNumbers(value gjson.Result, expected interface{}, cmp func(a, b float64) bool) bool {
	if !value.Exists() {
		return false
	}
	fieldNum, ok := resultToFloat(value)
	if !ok {
		return false
	}
	expectedNum, ok := toFloat(expected)
	if !ok {
		return false
	}
	return cmp(fieldNum, expectedNum)
}

func inSet(value gjson.Result, set []interface{}) bool {
	for _, candidate := range set {
		if looseEquals(value, candidate) {
			return true
		}
	}
	return false
}

// containsAnyOf checks whether an array field shares at least one element
// with the condition's value set. A scalar field is treated as a one-element array.
func containsAnyOf(value gjson.Result, set []interface{}) bool {
	if !value.Exists() || len(set) == 0 {
		return false
	}

	elements := []gjson.Result{value}
	if value.IsArray() {
		elements = value.Array()
	}

	for _, elem := range elements {
		if inSet(elem, set) {
			return true
		}
	}
	return false
}

func (e *ConditionEvaluator) withinLastDays(value gjson.Result, expected interface{}, ctx *domain.EventContext) bool {
	fieldTime, ok := parseTime(value.String())
	if !value.Exists() || !ok {
		return false
	}

	days, ok := toFloat(expected)
	if !ok || days < 0 {
		return false
	}

	now := time.Now().UTC()
	if ctx != nil && !ctx.Now.IsZero() {
		now = ctx.Now
	}

	cutoff := now.Add(-time.Duration(days*24) * time.Hour)
	return fieldTime.After(cutoff) && !fieldTime.After(now)
}

func (e *ConditionEvaluator) parseTimes(value gjson.Result, expected interface{}) (time.Time, time.Time, bool) {
	if !value.Exists() {
		return time.Time{}, time.Time{}, false
	}
	fieldTime, ok := parseTime(value.String())
	if !ok {
		return time.Time{}, time.Time{}, false
	}
	refTime, ok := parseTime(toString(expected))
	if !ok {
		return time.Time{}, time.Time{}, false
	}
	return fieldTime, refTime, true
}

// parseTime accepts RFC3339 timestamps and bare dates
func parseTime(s string) (time.Time, bool) {
	for _, layout := range []string{time.RFC3339, "2006-01-02", "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

func toString(v interface{}) string {
	switch val := v.(type) {
	case string:
		return val
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", val)
	}
}

func toFloat(v interface{}) (float64, bool) {
	switch val := v.(type) {
	case float64:
		return val, true
	case float32:
		return float64(val), true
	case int:
		return float64(val), true
	case int64:
		return float64(val), true
	case json.Number:
		f, err := val.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(val, 64)
		return f, err == nil
	default:
		return 0, false
	}
}

func resultToFloat(value gjson.Result) (float64, bool) {
	switch value.Type {
	case gjson.Number:
		return value.Num, true
	case gjson.String:
		f, err := strconv.ParseFloat(value.Str, 64)
		return f, err == nil
	default:
		return 0, false
	}
}
