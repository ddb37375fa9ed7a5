package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/hanpama/modelgate/internal/config"
	"github.com/hanpama/modelgate/internal/ir"
	"github.com/hanpama/modelgate/internal/logger"
	"github.com/hanpama/modelgate/internal/spec"
)

func main() {
	rc := NewRootCommand(os.Stdin, os.Stdout, os.Stderr)
	if err := rc.ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

func NewRootCommand(stdin io.Reader, stdout, stderr io.Writer) *cobra.Command {
	rc := &cobra.Command{
		Use:   "modelgate",
		Short: "modelgate serves REST endpoints composed from a declarative application spec.",
		Long: `modelgate composes a YAML application spec (models, relations, queries,
validators, entrypoints and actions) into a typed definition and serves its
endpoints against PostgreSQL or an in-memory store.

Every option can be set by flag, by MODELGATE_* environment variable or in
the file given by --config.`,
		SilenceUsage: true,
	}
	config.Flags(rc.PersistentFlags())

	rc.AddCommand(newServeCommand(stdout, stderr))
	rc.AddCommand(newCompileCommand(stdout, stderr))
	rc.AddCommand(newMigrateCommand(stdout, stderr))

	rc.SetIn(stdin)
	rc.SetOut(stdout)
	rc.SetErr(stderr)
	return rc
}

func loadConfig(cmd *cobra.Command, stderr io.Writer) (*config.Config, logger.Logger, error) {
	c, err := config.Load(cmd.Flags())
	if err != nil {
		return nil, nil, err
	}
	return c, logger.NewStandardLogger(stderr, logger.ParseLevel(c.Log.Level)), nil
}

// loadDefinition reads and composes the spec at path. Composition violations
// are printed to stderr one per line.
func loadDefinition(path string, stderr io.Writer) (*ir.Definition, error) {
	s, err := spec.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load spec: %w", err)
	}
	def, err := ir.Compose(s)
	var verr ir.ValidationError
	if errors.As(err, &verr) {
		for _, v := range verr {
			if v.Where != "" {
				fmt.Fprintf(stderr, "%s: %s\n", v.Where, v.Message)
			} else {
				fmt.Fprintln(stderr, v.Message)
			}
		}
		return nil, fmt.Errorf("%s: %d violation(s)", path, len(verr))
	}
	if err != nil {
		return nil, fmt.Errorf("compose: %w", err)
	}
	return def, nil
}
