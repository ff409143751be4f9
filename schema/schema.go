// Package schema validates field definitions and submitted values
// against a field's type and options.
package schema

import (
	"encoding/json"
	"strings"

	"github.com/formify/formify/fault"
	"github.com/formify/formify/model"
)

// ValidateDefinition checks a field definition: the type must be
// known, and select/checkbox fields must carry at least one distinct
// non-empty choice.
func ValidateDefinition(field model.Field) error {
	switch field.Type {
	case model.FieldText:
		return nil
	case model.FieldSelect, model.FieldCheckbox:
		if len(field.Options.Choices) == 0 {
			return &fault.InvalidFieldDefinitionError{
				FieldType: field.Type,
				Reason:    "requires at least one choice",
			}
		}
		seen := make(map[string]bool, len(field.Options.Choices))
		for _, choice := range field.Options.Choices {
			if strings.TrimSpace(choice) == "" {
				return &fault.InvalidFieldDefinitionError{
					FieldType: field.Type,
					Reason:    "choices must be non-empty strings",
				}
			}
			if seen[choice] {
				return &fault.InvalidFieldDefinitionError{
					FieldType: field.Type,
					Reason:    "duplicate choice " + choice,
				}
			}
			seen[choice] = true
		}
		return nil
	default:
		return &fault.InvalidFieldDefinitionError{
			FieldType: field.Type,
			Reason:    "unknown field type",
		}
	}
}

// ValidateValue checks raw against the field's type and options and
// returns the normalized (trimmed) value to persist.
//
// Checkbox values are a JSON string array ("["a","b"]"); a bare string
// is accepted as a single selection. The normalized checkbox value is
// always re-encoded as a JSON array, so aggregation can decode answer
// rows uniformly.
func ValidateValue(field model.Field, raw string) (string, error) {
	value := strings.TrimSpace(raw)

	switch field.Type {
	case model.FieldText:
		if field.Required && value == "" {
			return "", &fault.RequiredValueMissingError{FieldID: field.ID, Label: field.Label}
		}
		return value, nil

	case model.FieldSelect:
		if value == "" {
			if field.Required {
				return "", &fault.RequiredValueMissingError{FieldID: field.ID, Label: field.Label}
			}
			return "", nil
		}
		if !isChoice(field, value) {
			return "", &fault.ValueNotInChoicesError{FieldID: field.ID, Value: value}
		}
		return value, nil

	case model.FieldCheckbox:
		checked, err := decodeChecked(field, value)
		if err != nil {
			return "", err
		}
		if len(checked) == 0 {
			if field.Required {
				return "", &fault.RequiredValueMissingError{FieldID: field.ID, Label: field.Label}
			}
			return "[]", nil
		}
		for _, v := range checked {
			if !isChoice(field, v) {
				return "", &fault.ValueNotInChoicesError{FieldID: field.ID, Value: v}
			}
		}
		normalized, err := json.Marshal(checked)
		if err != nil {
			return "", err
		}
		return string(normalized), nil

	default:
		return "", &fault.InvalidFieldDefinitionError{FieldType: field.Type, Reason: "unknown field type"}
	}
}

// DecodeChecked splits a stored checkbox answer back into its selected
// choices. Used by report aggregation, which counts each selection
// separately.
func DecodeChecked(value string) []string {
	var checked []string
	if err := json.Unmarshal([]byte(value), &checked); err != nil {
		if v := strings.TrimSpace(value); v != "" {
			return []string{v}
		}
		return nil
	}
	return checked
}

func decodeChecked(field model.Field, value string) ([]string, error) {
	if value == "" {
		return nil, nil
	}
	if !strings.HasPrefix(value, "[") {
		return []string{value}, nil
	}

	var checked []string
	if err := json.Unmarshal([]byte(value), &checked); err != nil {
		return nil, fault.New(fault.Validation, "malformed checkbox value for field %q", field.Label)
	}
	trimmed := checked[:0]
	for _, v := range checked {
		if v = strings.TrimSpace(v); v != "" {
			trimmed = append(trimmed, v)
		}
	}
	return trimmed, nil
}

func isChoice(field model.Field, value string) bool {
	for _, choice := range field.Options.Choices {
		if choice == value {
			return true
		}
	}
	return false
}
