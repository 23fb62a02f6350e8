package output

import (
	"encoding/json"
	"fmt"
	"reflect"
)

// JSONFormatter formats values as indented JSON.
type JSONFormatter struct{}

// Format marshals v. A nil or empty list renders as [].
func (f *JSONFormatter) Format(v any) (string, error) {
	if isEmptyList(v) {
		return "[]\n", nil
	}

	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal JSON: %w", err)
	}
	return string(data) + "\n", nil
}

func isEmptyList(v any) bool {
	rv := reflect.ValueOf(v)
	return rv.Kind() == reflect.Slice && rv.Len() == 0
}
