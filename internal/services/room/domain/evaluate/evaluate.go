package evaluate

import (
	"strconv"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/ICTLearningSciences/math-meridio-client-sub000/internal/errors"
	"github.com/ICTLearningSciences/math-meridio-client-sub000/internal/services/room/domain/dialogue"
)

// ResolveNext checks the conditions in declared order against the collected
// data blob and returns the target step id of the first one that holds.
// Every condition failing is a graph-authoring error: a conditional step must
// cover all reachable values.
func ResolveNext(conds []dialogue.Condition, collected []byte) (string, error) {
	if len(conds) == 0 {
		return "", errors.New(errors.CodeDialogueConditionInvalid,
			"conditional step declares no conditions")
	}
	for _, cond := range conds {
		ok, err := holds(cond, collected)
		if err != nil {
			return "", err
		}
		if ok {
			return cond.TargetStepID, nil
		}
	}
	return "", errors.WithMetadata(errors.CodeDialogueConditionNoMatch,
		"no condition matched the collected data",
		map[string]string{"source_key": conds[0].SourceKey})
}

func holds(cond dialogue.Condition, collected []byte) (bool, error) {
	value := gjson.GetBytes(collected, cond.SourceKey)
	if !value.Exists() {
		return false, errors.WithMetadata(errors.CodeDialogueVariableUnset,
			"condition references an unset variable",
			map[string]string{"source_key": cond.SourceKey})
	}

	// Expected may itself reference collected values.
	expected, err := dialogue.Render(cond.Expected, collected)
	if err != nil {
		return false, err
	}

	switch cond.Mode {
	case dialogue.CheckValue:
		return compareValue(cond, value, expected)
	case dialogue.CheckLength:
		return compareLength(cond, value, expected)
	case dialogue.CheckContains:
		return contains(cond, value, expected)
	default:
		return false, errors.WithMetadata(errors.CodeDialogueConditionInvalid,
			"unknown condition mode",
			map[string]string{"mode": string(cond.Mode), "source_key": cond.SourceKey})
	}
}

// compareValue compares the stored value with the expected literal. Booleans
// only support equality. When both sides parse as numbers the comparison is
// numeric; otherwise ordered operators are an authoring error and equality
// falls back to string comparison.
func compareValue(cond dialogue.Condition, value gjson.Result, expected string) (bool, error) {
	if actualBool, expectedBool, ok := asBooleans(value, expected); ok {
		switch cond.Operator {
		case "==":
			return actualBool == expectedBool, nil
		case "!=":
			return actualBool != expectedBool, nil
		default:
			return false, errors.WithMetadata(errors.CodeDialogueConditionInvalid,
				"boolean values only support equality operators",
				map[string]string{"operator": cond.Operator, "source_key": cond.SourceKey})
		}
	}

	actualStr := stringValue(value)
	actualNum, actualIsNum := asNumber(actualStr)
	expectedNum, expectedIsNum := asNumber(expected)
	if actualIsNum && expectedIsNum {
		return compareOrdered(cond, actualNum, expectedNum)
	}

	switch cond.Operator {
	case "==":
		return actualStr == expected, nil
	case "!=":
		return actualStr != expected, nil
	default:
		return false, errors.WithMetadata(errors.CodeDialogueConditionInvalid,
			"ordered comparison needs numeric operands",
			map[string]string{"operator": cond.Operator, "source_key": cond.SourceKey})
	}
}

func compareLength(cond dialogue.Condition, value gjson.Result, expected string) (bool, error) {
	var length float64
	if value.IsArray() {
		length = float64(len(value.Array()))
	} else {
		length = float64(len(stringValue(value)))
	}
	expectedNum, ok := asNumber(expected)
	if !ok {
		return false, errors.WithMetadata(errors.CodeDialogueConditionInvalid,
			"length comparison needs a numeric expected value",
			map[string]string{"expected": expected, "source_key": cond.SourceKey})
	}
	return compareOrdered(cond, length, expectedNum)
}

// contains tests array membership by loose string equality, or substring
// containment for scalar values.
func contains(cond dialogue.Condition, value gjson.Result, expected string) (bool, error) {
	switch cond.Operator {
	case "==", "!=":
	default:
		return false, errors.WithMetadata(errors.CodeDialogueConditionInvalid,
			"containment only supports equality operators",
			map[string]string{"operator": cond.Operator, "source_key": cond.SourceKey})
	}

	var found bool
	if value.IsArray() {
		for _, elem := range value.Array() {
			if stringValue(elem) == expected {
				found = true
				break
			}
		}
	} else {
		found = strings.Contains(stringValue(value), expected)
	}
	if cond.Operator == "!=" {
		return !found, nil
	}
	return found, nil
}

func compareOrdered(cond dialogue.Condition, actual, expected float64) (bool, error) {
	switch cond.Operator {
	case "==":
		return actual == expected, nil
	case "!=":
		return actual != expected, nil
	case ">":
		return actual > expected, nil
	case ">=":
		return actual >= expected, nil
	case "<":
		return actual < expected, nil
	case "<=":
		return actual <= expected, nil
	default:
		return false, errors.WithMetadata(errors.CodeDialogueConditionInvalid,
			"unknown comparison operator",
			map[string]string{"operator": cond.Operator, "source_key": cond.SourceKey})
	}
}

func stringValue(value gjson.Result) string {
	if value.Type == gjson.String {
		return value.Str
	}
	return value.Raw
}

// asBooleans coerces both sides to booleans when the stored value is a JSON
// boolean or a boolean literal string ("true"/"True"/"false"/"False").
func asBooleans(value gjson.Result, expected string) (actual, want, ok bool) {
	switch value.Type {
	case gjson.True:
		actual = true
	case gjson.False:
		actual = false
	case gjson.String:
		var parsed bool
		if parsed, ok = asBoolLiteral(value.Str); !ok {
			return false, false, false
		}
		actual = parsed
	default:
		return false, false, false
	}
	want, ok = asBoolLiteral(expected)
	if !ok {
		return false, false, false
	}
	return actual, want, true
}

func asBoolLiteral(s string) (bool, bool) {
	switch s {
	case "true", "True":
		return true, true
	case "false", "False":
		return false, true
	}
	return false, false
}

func asNumber(s string) (float64, bool) {
	n, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0, false
	}
	return n, true
}
