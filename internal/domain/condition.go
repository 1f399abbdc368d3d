package domain

import (
	"fmt"
)

// ConditionLogic combines the results of a step's condition list
type ConditionLogic string

const (
	ConditionLogicAnd ConditionLogic = "AND"
	ConditionLogicOr  ConditionLogic = "OR"
)

// IsValid checks if the condition logic is valid
func (l ConditionLogic) IsValid() bool {
	switch l {
	case ConditionLogicAnd, ConditionLogicOr:
		return true
	default:
		return false
	}
}

// ConditionOperator is the comparison applied between a context field and a value
type ConditionOperator string

const (
	// Equality
	OperatorEquals    ConditionOperator = "equals"
	OperatorNotEquals ConditionOperator = "not_equals"

	// Strings
	OperatorContains   ConditionOperator = "contains"
	OperatorStartsWith ConditionOperator = "starts_with"
	OperatorEndsWith   ConditionOperator = "ends_with"

	// Numbers
	OperatorGreaterThan      ConditionOperator = "greater_than"
	OperatorGreaterThanEqual ConditionOperator = "greater_than_equal"
	OperatorLessThan         ConditionOperator = "less_than"
	OperatorLessThanEqual    ConditionOperator = "less_than_equal"

	// Sets
	OperatorIn          ConditionOperator = "in"
	OperatorNotIn       ConditionOperator = "not_in"
	OperatorContainsAny ConditionOperator = "contains_any"

	// Existence
	OperatorIsSet    ConditionOperator = "is_set"
	OperatorIsNotSet ConditionOperator = "is_not_set"

	// Dates
	OperatorWithinLastDays ConditionOperator = "within_last_days"
	OperatorBefore         ConditionOperator = "before"
	OperatorAfter          ConditionOperator = "after"
)

// IsValid checks if the operator is one the evaluator understands
func (o ConditionOperator) IsValid() bool {
	switch o {
	case OperatorEquals, OperatorNotEquals,
		OperatorContains, OperatorStartsWith, OperatorEndsWith,
		OperatorGreaterThan, OperatorGreaterThanEqual, OperatorLessThan, OperatorLessThanEqual,
		OperatorIn, OperatorNotIn, OperatorContainsAny,
		OperatorIsSet, OperatorIsNotSet,
		OperatorWithinLastDays, OperatorBefore, OperatorAfter:
		return true
	default:
		return false
	}
}

// StepCondition is a single predicate on the event context. Field is a
// dot-path into the context ("lead.status", "payment.amount").
type StepCondition struct {
	Field    string            `json:"field"`
	Operator ConditionOperator `json:"operator"`
	Value    interface{}       `json:"value,omitempty"`
	Values   []interface{}     `json:"values,omitempty"`
}

// Validate validates the condition shape. Operator validity is intentionally
// NOT enforced here: a malformed operator must fail closed at evaluation time
// instead of rejecting the whole definition.
func (c *StepCondition) Validate() error {
	if c.Field == "" {
		return fmt.Errorf("condition field is required")
	}
	if c.Operator == "" {
		return fmt.Errorf("condition operator is required")
	}
	return nil
}
