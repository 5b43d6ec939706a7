// Package display chooses between table and JSON output for CLI commands.
package display

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"
)

// JSONFlag is the flag name checked by ShouldOutputJSON
const JSONFlag = "json"

// AddJSONFlag registers --json on cmd
func AddJSONFlag(cmd *cobra.Command) {
	cmd.Flags().Bool(JSONFlag, false, "Output as JSON")
}

// ShouldOutputJSON reports whether --json was set on cmd or its root
func ShouldOutputJSON(cmd *cobra.Command) bool {
	if cmd == nil {
		return false
	}
	if f := cmd.Flags().Lookup(JSONFlag); f != nil && f.Changed {
		on, _ := cmd.Flags().GetBool(JSONFlag)
		return on
	}
	on, _ := cmd.Root().PersistentFlags().GetBool(JSONFlag)
	return on
}

// OutputJSON writes v as indented JSON to w
func OutputJSON(w io.Writer, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}
