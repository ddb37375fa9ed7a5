package main

import (
	"encoding/json"
	"io"
	"os"

	"github.com/spf13/cobra"
)

func newCompileCommand(stdout, stderr io.Writer) *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "compile",
		Short: "Compose the spec and print the definition as JSON",
		Long: `Compose the spec and print the definition as JSON.
Violations are printed to stderr and the command exits non-zero.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, _, err := loadConfig(cmd, stderr)
			if err != nil {
				return err
			}
			def, err := loadDefinition(c.Spec, stderr)
			if err != nil {
				return err
			}
			data, err := json.MarshalIndent(def, "", "  ")
			if err != nil {
				return err
			}
			data = append(data, '\n')
			if out == "" {
				_, err = stdout.Write(data)
				return err
			}
			return os.WriteFile(out, data, 0o644)
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "", "Write the definition to file (default: stdout)")
	return cmd
}
