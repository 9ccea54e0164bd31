package cli

import (
	"encoding/json"
	"io"

	"gopkg.in/yaml.v3"
)

// printResult writes v in the requested format. YAML output goes through
// the JSON encoding first so both formats use the same field names.
func printResult(w io.Writer, format string, v any) error {
	if format != FormatYAML {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}

	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return err
	}
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(generic); err != nil {
		return err
	}
	return enc.Close()
}
