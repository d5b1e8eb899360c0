package dialogue

import (
	"regexp"
	"strings"

	"github.com/ICTLearningSciences/math-meridio-client-sub000/internal/errors"
	"github.com/tidwall/gjson"
)

var templateVarPattern = regexp.MustCompile(`\{\{\s*([^{}]+?)\s*\}\}`)

// Render substitutes {{var}} references in text with values from the
// collected dialogue data blob. Referencing an unset variable is a
// graph-authoring error.
func Render(text string, collected []byte) (string, error) {
	var missing string
	rendered := templateVarPattern.ReplaceAllStringFunc(text, func(match string) string {
		key := strings.TrimSpace(templateVarPattern.FindStringSubmatch(match)[1])
		value := gjson.GetBytes(collected, key)
		if !value.Exists() {
			if missing == "" {
				missing = key
			}
			return match
		}
		if value.Type == gjson.String {
			return value.Str
		}
		return value.Raw
	})
	if missing != "" {
		return "", errors.WithMetadata(errors.CodeDialogueVariableUnset,
			"template references an unset variable",
			map[string]string{"variable": missing})
	}
	return rendered, nil
}
