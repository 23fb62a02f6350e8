package output

import (
	"bytes"
	"fmt"
	"reflect"

	"gopkg.in/yaml.v3"
)

// YAMLFormatter formats values as YAML. Lists are written as a stream of
// documents separated by ---.
type YAMLFormatter struct{}

// Format marshals v. An empty list renders as nothing.
func (f *YAMLFormatter) Format(v any) (string, error) {
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice {
		data, err := yaml.Marshal(v)
		if err != nil {
			return "", fmt.Errorf("failed to marshal YAML: %w", err)
		}
		return string(data), nil
	}

	var buf bytes.Buffer
	for i := 0; i < rv.Len(); i++ {
		data, err := yaml.Marshal(rv.Index(i).Interface())
		if err != nil {
			return "", fmt.Errorf("failed to marshal item %d to YAML: %w", i, err)
		}
		if i > 0 {
			buf.WriteString("---\n")
		}
		buf.Write(data)
	}
	return buf.String(), nil
}
