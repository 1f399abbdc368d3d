package service

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/Runline/runline/internal/domain"
	"github.com/Runline/runline/pkg/logger"
)

func testEventContext() *domain.EventContext {
	return &domain.EventContext{
		Lead: map[string]interface{}{
			"id":         "lead-1",
			"status":     "qualified",
			"email":      "jordan@example.com",
			"score":      float64(72),
			"tags":       []interface{}{"vip", "newsletter"},
			"created_at": "2026-08-27T10:00:00Z",
		},
		Payment: map[string]interface{}{
			"amount": float64(249.99),
		},
		Appointment: map[string]interface{}{
			"id":     "apt-1",
			"status": nil,
		},
		Now: time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC),
	}
}

func TestConditionEvaluator_Evaluate(t *testing.T) {
	evaluator := NewConditionEvaluator(logger.NewMockLogger(t))
	ctx := testEventContext()

	tests := []struct {
		name string
		cond *domain.StepCondition
		want bool
	}{
		{
			name: "equals matches string",
			cond: &domain.StepCondition{Field: "lead.status", Operator: domain.OperatorEquals, Value: "qualified"},
			want: true,
		},
		{
			name: "equals coerces numbers",
			cond: &domain.StepCondition{Field: "lead.score", Operator: domain.OperatorEquals, Value: 72},
			want: true,
		},
		{
			name: "equals on missing field is false",
			cond: &domain.StepCondition{Field: "deal.stage", Operator: domain.OperatorEquals, Value: "won"},
			want: false,
		},
		{
			name: "not_equals on missing field is true",
			cond: &domain.StepCondition{Field: "deal.stage", Operator: domain.OperatorNotEquals, Value: "won"},
			want: true,
		},
		{
			name: "contains",
			cond: &domain.StepCondition{Field: "lead.email", Operator: domain.OperatorContains, Value: "@example."},
			want: true,
		},
		{
			name: "starts_with",
			cond: &domain.StepCondition{Field: "lead.email", Operator: domain.OperatorStartsWith, Value: "jordan"},
			want: true,
		},
		{
			name: "ends_with fails",
			cond: &domain.StepCondition{Field: "lead.email", Operator: domain.OperatorEndsWith, Value: ".org"},
			want: false,
		},
		{
			name: "greater_than",
			cond: &domain.StepCondition{Field: "payment.amount", Operator: domain.OperatorGreaterThan, Value: 100},
			want: true,
		},
		{
			name: "greater_than on non-numeric field fails closed",
			cond: &domain.StepCondition{Field: "lead.status", Operator: domain.OperatorGreaterThan, Value: 1},
			want: false,
		},
		{
			name: "less_than_equal boundary",
			cond: &domain.StepCondition{Field: "lead.score", Operator: domain.OperatorLessThanEqual, Value: 72},
			want: true,
		},
		{
			name: "in with values list",
			cond: &domain.StepCondition{Field: "lead.status", Operator: domain.OperatorIn, Values: []interface{}{"new", "qualified"}},
			want: true,
		},
		{
			name: "not_in",
			cond: &domain.StepCondition{Field: "lead.status", Operator: domain.OperatorNotIn, Values: []interface{}{"churned", "lost"}},
			want: true,
		},
		{
			name: "contains_any on array field",
			cond: &domain.StepCondition{Field: "lead.tags", Operator: domain.OperatorContainsAny, Values: []interface{}{"vip", "partner"}},
			want: true,
		},
		{
			name: "contains_any treats scalar as one-element array",
			cond: &domain.StepCondition{Field: "lead.status", Operator: domain.OperatorContainsAny, Values: []interface{}{"qualified"}},
			want: true,
		},
		{
			name: "is_set",
			cond: &domain.StepCondition{Field: "lead.email", Operator: domain.OperatorIsSet},
			want: true,
		},
		{
			name: "is_set on null value is false",
			cond: &domain.StepCondition{Field: "appointment.status", Operator: domain.OperatorIsSet},
			want: false,
		},
		{
			name: "is_not_set on missing field",
			cond: &domain.StepCondition{Field: "lead.phone", Operator: domain.OperatorIsNotSet},
			want: true,
		},
		{
			name: "within_last_days uses context clock",
			cond: &domain.StepCondition{Field: "lead.created_at", Operator: domain.OperatorWithinLastDays, Value: 7},
			want: true,
		},
		{
			name: "within_last_days outside window",
			cond: &domain.StepCondition{Field: "lead.created_at", Operator: domain.OperatorWithinLastDays, Value: 1},
			want: false,
		},
		{
			name: "before",
			cond: &domain.StepCondition{Field: "lead.created_at", Operator: domain.OperatorBefore, Value: "2026-09-01"},
			want: true,
		},
		{
			name: "after fails",
			cond: &domain.StepCondition{Field: "lead.created_at", Operator: domain.OperatorAfter, Value: "2026-09-01"},
			want: false,
		},
		{
			name: "unrecognized operator fails closed",
			cond: &domain.StepCondition{Field: "lead.status", Operator: "matches_regex", Value: ".*"},
			want: false,
		},
		{
			name: "empty field fails closed",
			cond: &domain.StepCondition{Field: "", Operator: domain.OperatorEquals, Value: "x"},
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, evaluator.Evaluate(tt.cond, ctx))
		})
	}
}

func TestConditionEvaluator_EvaluateAll(t *testing.T) {
	evaluator := NewConditionEvaluator(logger.NewMockLogger(t))
	ctx := testEventContext()

	passing := &domain.StepCondition{Field: "lead.status", Operator: domain.OperatorEquals, Value: "qualified"}
	failing := &domain.StepCondition{Field: "lead.status", Operator: domain.OperatorEquals, Value: "churned"}

	t.Run("empty list is vacuously true", func(t *testing.T) {
		assert.True(t, evaluator.EvaluateAll(nil, ctx, domain.ConditionLogicAnd))
	})

	t.Run("and requires all", func(t *testing.T) {
		assert.True(t, evaluator.EvaluateAll([]*domain.StepCondition{passing, passing}, ctx, domain.ConditionLogicAnd))
		assert.False(t, evaluator.EvaluateAll([]*domain.StepCondition{passing, failing}, ctx, domain.ConditionLogicAnd))
	})

	t.Run("or requires one", func(t *testing.T) {
		assert.True(t, evaluator.EvaluateAll([]*domain.StepCondition{failing, passing}, ctx, domain.ConditionLogicOr))
		assert.False(t, evaluator.EvaluateAll([]*domain.StepCondition{failing, failing}, ctx, domain.ConditionLogicOr))
	})

	t.Run("missing logic defaults to and", func(t *testing.T) {
		assert.False(t, evaluator.EvaluateAll([]*domain.StepCondition{passing, failing}, ctx, ""))
	})

	t.Run("nil context never panics", func(t *testing.T) {
		assert.False(t, evaluator.EvaluateAll([]*domain.StepCondition{passing}, nil, domain.ConditionLogicAnd))
	})
}
