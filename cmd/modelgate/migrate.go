package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/hanpama/modelgate/internal/pgstore"
)

func newMigrateCommand(stdout, stderr io.Writer) *cobra.Command {
	var dryRun bool
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Create the tables of the spec in the database",
		Long: `Create the tables and foreign keys of the spec in the database given by
--database.url. Existing tables are left untouched. With --print, or without
a database url, the statements are printed instead.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, log, err := loadConfig(cmd, stderr)
			if err != nil {
				return err
			}
			def, err := loadDefinition(c.Spec, stderr)
			if err != nil {
				return err
			}
			if dryRun || c.Database.URL == "" {
				_, err := fmt.Fprintln(stdout, strings.Join(pgstore.GenerateDDL(def), ";\n\n")+";")
				return err
			}
			store, err := pgstore.Open(cmd.Context(), c.Database.URL, def, log.WithPrefix("pgstore: "))
			if err != nil {
				return err
			}
			defer store.Close()
			if err := store.Migrate(cmd.Context()); err != nil {
				return err
			}
			log.Infof("migrated %d model(s)", len(def.Models))
			return nil
		},
	}
	cmd.Flags().BoolVar(&dryRun, "print", false, "Print the statements instead of applying them")
	return cmd
}
