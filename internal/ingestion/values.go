package ingestion

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/rpattn/studyclips/internal/clip"
	"github.com/rpattn/studyclips/internal/domain"
	"github.com/rpattn/studyclips/internal/expression"
)

var (
	integerPattern  = regexp.MustCompile(`^-?\d+$`)
	decimalPattern  = regexp.MustCompile(`^-?\d+(\.\d+)?$`)
	datetimePattern = regexp.MustCompile(`^(-?(?:[1-9][0-9]*)?[0-9]{4})-(1[0-2]|0[1-9])-(3[01]|0[1-9]|[12][0-9])T(2[0-3]|[01][0-9]):([0-5][0-9]):([0-5][0-9])(\.[0-9]+)?(Z)?`)

	errNotText = errors.New("value must be text")
)

// rawText renders scalar upload values as the text the type parsers expect.
func rawText(value any) (string, error) {
	switch v := clip.Normalize(value).(type) {
	case string:
		return v, nil
	case int64, float64, bool:
		return clip.String(v), nil
	default:
		return "", errNotText
	}
}

// parseValue converts an uploaded value according to the field's data type.
func parseValue(field domain.Field, value any) (any, error) {
	switch field.DataType {
	case domain.DataTypeInteger:
		text, err := rawText(value)
		if err != nil || !integerPattern.MatchString(text) {
			return nil, fmt.Errorf("field %s: cannot parse as integer", field.FieldID)
		}
		n, err := strconv.ParseInt(text, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("field %s: cannot parse as integer", field.FieldID)
		}
		return n, nil
	case domain.DataTypeDecimal:
		text, err := rawText(value)
		if err != nil || !decimalPattern.MatchString(text) {
			return nil, fmt.Errorf("field %s: cannot parse as decimal", field.FieldID)
		}
		f, err := strconv.ParseFloat(text, 64)
		if err != nil {
			return nil, fmt.Errorf("field %s: cannot parse as decimal", field.FieldID)
		}
		return f, nil
	case domain.DataTypeBoolean:
		text, err := rawText(value)
		if err != nil {
			return nil, fmt.Errorf("field %s: cannot parse as boolean", field.FieldID)
		}
		switch strings.ToLower(text) {
		case "true":
			return true, nil
		case "false":
			return false, nil
		}
		return nil, fmt.Errorf("field %s: cannot parse as boolean", field.FieldID)
	case domain.DataTypeString:
		text, err := rawText(value)
		if err != nil {
			return nil, fmt.Errorf("field %s: cannot parse as string", field.FieldID)
		}
		return text, nil
	case domain.DataTypeDatetime:
		text, ok := value.(string)
		if !ok || !datetimePattern.MatchString(text) {
			return nil, fmt.Errorf("field %s: cannot parse as date; value for date type must be in ISO format", field.FieldID)
		}
		return text, nil
	case domain.DataTypeJSON:
		text, ok := value.(string)
		if !ok {
			return clip.Normalize(value), nil
		}
		decoded, err := clip.DecodeValue([]byte(text))
		if err != nil {
			return nil, fmt.Errorf("field %s: cannot parse as JSON", field.FieldID)
		}
		return decoded, nil
	case domain.DataTypeFile:
		return clip.Normalize(value), nil
	case domain.DataTypeCategorical:
		if len(field.CategoricalOptions) == 0 {
			return nil, fmt.Errorf("field %s: cannot parse as categorical, possible values not defined", field.FieldID)
		}
		text, err := rawText(value)
		if err == nil {
			for _, option := range field.CategoricalOptions {
				if option.Code == text {
					return text, nil
				}
			}
		}
		return nil, fmt.Errorf("field %s: cannot parse as categorical, value not in value list", field.FieldID)
	default:
		return nil, fmt.Errorf("field %s: invalid data type", field.FieldID)
	}
}

// passesVerifier applies a verifier chain: at least one AND-group must pass,
// and only text or numeric values can pass. An empty chain accepts anything.
func passesVerifier(value any, groups [][]expression.Verifier) (bool, error) {
	if len(groups) == 0 {
		return true, nil
	}
	switch clip.Normalize(value).(type) {
	case string, int64, float64:
	default:
		return false, nil
	}
	return expression.CheckAll(value, groups)
}

// missingProperty mirrors the upload contract: absent, null and empty
// values all count as missing.
func missingProperty(properties map[string]any, name string) bool {
	value, ok := properties[name]
	if !ok || value == nil {
		return true
	}
	if s, isString := value.(string); isString && s == "" {
		return true
	}
	return false
}
