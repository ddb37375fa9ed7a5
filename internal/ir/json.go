package ir

import (
	"encoding/json"
	"fmt"
)

// Sum types are encoded with a leading "kind" discriminator so a compiled
// Definition can be printed and diffed.

func tagged(kind string, v any) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	if len(b) < 2 || b[0] != '{' {
		return nil, fmt.Errorf("ir: %s does not encode as an object", kind)
	}
	head := fmt.Sprintf(`{"kind":%q`, kind)
	if len(b) == 2 {
		return []byte(head + "}"), nil
	}
	return append([]byte(head+","), b[1:]...), nil
}

func (e *LiteralExpr) MarshalJSON() ([]byte, error) {
	type raw LiteralExpr
	return tagged("literal", (*raw)(e))
}

func (e *AliasExpr) MarshalJSON() ([]byte, error) {
	type raw AliasExpr
	return tagged("alias", (*raw)(e))
}

func (e *VariableExpr) MarshalJSON() ([]byte, error) {
	type raw VariableExpr
	return tagged("variable", (*raw)(e))
}

func (e *FunctionExpr) MarshalJSON() ([]byte, error) {
	type raw FunctionExpr
	return tagged("function", (*raw)(e))
}

func (e *AggregateFunctionExpr) MarshalJSON() ([]byte, error) {
	type raw AggregateFunctionExpr
	return tagged("aggregate-function", (*raw)(e))
}

func (e *InSubqueryExpr) MarshalJSON() ([]byte, error) {
	type raw InSubqueryExpr
	return tagged("in-subquery", (*raw)(e))
}

func (s *ExpressionSelect) MarshalJSON() ([]byte, error) {
	type raw ExpressionSelect
	return tagged("expression", (*raw)(s))
}

func (s *NestedSelect) MarshalJSON() ([]byte, error) {
	type raw NestedSelect
	return tagged("nested-select", (*raw)(s))
}

func (s *ModelHookSelect) MarshalJSON() ([]byte, error) {
	type raw ModelHookSelect
	return tagged("model-hook", (*raw)(s))
}

func (a *CreateOneAction) MarshalJSON() ([]byte, error) {
	type raw CreateOneAction
	return tagged("create-one", (*raw)(a))
}

func (a *UpdateOneAction) MarshalJSON() ([]byte, error) {
	type raw UpdateOneAction
	return tagged("update-one", (*raw)(a))
}

func (a *DeleteOneAction) MarshalJSON() ([]byte, error) {
	type raw DeleteOneAction
	return tagged("delete-one", (*raw)(a))
}

func (a *ExecuteHookAction) MarshalJSON() ([]byte, error) {
	type raw ExecuteHookAction
	return tagged("execute-hook", (*raw)(a))
}

func (a *FetchOneAction) MarshalJSON() ([]byte, error) {
	type raw FetchOneAction
	return tagged("fetch-one", (*raw)(a))
}

func (s *SetterLiteral) MarshalJSON() ([]byte, error) {
	type raw SetterLiteral
	return tagged("literal", (*raw)(s))
}

func (s *SetterReferenceValue) MarshalJSON() ([]byte, error) {
	type raw SetterReferenceValue
	return tagged("reference-value", (*raw)(s))
}

func (s *SetterFieldsetInput) MarshalJSON() ([]byte, error) {
	type raw SetterFieldsetInput
	return tagged("fieldset-input", (*raw)(s))
}

func (s *SetterFieldsetReferenceInput) MarshalJSON() ([]byte, error) {
	type raw SetterFieldsetReferenceInput
	return tagged("fieldset-reference-input", (*raw)(s))
}

func (s *SetterFunction) MarshalJSON() ([]byte, error) {
	type raw SetterFunction
	return tagged("function", (*raw)(s))
}

func (s *SetterHook) MarshalJSON() ([]byte, error) {
	type raw SetterHook
	return tagged("fieldset-hook", (*raw)(s))
}

func (s *SetterQuery) MarshalJSON() ([]byte, error) {
	type raw SetterQuery
	return tagged("query", (*raw)(s))
}

func (s *SetterChangesetReference) MarshalJSON() ([]byte, error) {
	type raw SetterChangesetReference
	return tagged("changeset-reference", (*raw)(s))
}

func (e *GetEndpointDef) MarshalJSON() ([]byte, error) {
	type raw GetEndpointDef
	return tagged(string(KindGet), (*raw)(e))
}

func (e *ListEndpointDef) MarshalJSON() ([]byte, error) {
	type raw ListEndpointDef
	return tagged(string(KindList), (*raw)(e))
}

func (e *CreateEndpointDef) MarshalJSON() ([]byte, error) {
	type raw CreateEndpointDef
	return tagged(string(KindCreate), (*raw)(e))
}

func (e *UpdateEndpointDef) MarshalJSON() ([]byte, error) {
	type raw UpdateEndpointDef
	return tagged(string(KindUpdate), (*raw)(e))
}

func (e *DeleteEndpointDef) MarshalJSON() ([]byte, error) {
	type raw DeleteEndpointDef
	return tagged(string(KindDelete), (*raw)(e))
}

func (e *CustomOneEndpointDef) MarshalJSON() ([]byte, error) {
	type raw CustomOneEndpointDef
	return tagged(string(KindCustomOne), (*raw)(e))
}

func (e *CustomManyEndpointDef) MarshalJSON() ([]byte, error) {
	type raw CustomManyEndpointDef
	return tagged(string(KindCustomMany), (*raw)(e))
}

func (f *FieldsetRecord) MarshalJSON() ([]byte, error) {
	type raw FieldsetRecord
	return tagged("record", (*raw)(f))
}

func (f *FieldsetField) MarshalJSON() ([]byte, error) {
	type raw FieldsetField
	return tagged("field", (*raw)(f))
}

func (v *ValidatorCall) MarshalJSON() ([]byte, error) {
	type raw ValidatorCall
	return tagged("call", (*raw)(v))
}

func (v *ValidatorAnd) MarshalJSON() ([]byte, error) {
	type raw ValidatorAnd
	return tagged("and", (*raw)(v))
}

func (v *ValidatorOr) MarshalJSON() ([]byte, error) {
	type raw ValidatorOr
	return tagged("or", (*raw)(v))
}
