package internal

import (
	"encoding/json"
	"fmt"
	"io"
)

// PrintJSON renders v as indented JSON to w.
func PrintJSON(w io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to render output: %w", err)
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}
