package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/zjrosen/formulary/internal/presentation"
	"github.com/zjrosen/formulary/internal/tabular"
)

func openTabular() (*tabular.Store, error) {
	return tabular.Open(cfg.Tabular.Path)
}

var tableImportCmd = &cobra.Command{
	Use:   "table:import TABLE FILE",
	Short: "Import JSON rows into a tabular store table",
	Long: `Import a JSON array of objects into TABLE, creating the table and any
missing columns. FILE may be - for stdin.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		rows, err := readRows(cmd.InOrStdin(), args[1])
		if err != nil {
			return err
		}
		store, err := openTabular()
		if err != nil {
			return err
		}
		defer func() { _ = store.Close() }()

		n, err := store.Import(cmd.Context(), args[0], rows)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "imported %d rows into %s\n", n, args[0])
		return nil
	},
}

var tableExportCmd = &cobra.Command{
	Use:   "table:export TABLE",
	Short: "Print a table as JSON rows",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openTabular()
		if err != nil {
			return err
		}
		defer func() { _ = store.Close() }()

		rows, err := store.Export(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		return presentation.NewFormatter(cmd.OutOrStdout()).Format(rows)
	},
}

var tableQueryCmd = &cobra.Command{
	Use:   "table:query SQL",
	Short: "Run a SELECT against the tabular store and print JSON rows",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openTabular()
		if err != nil {
			return err
		}
		defer func() { _ = store.Close() }()

		rows, err := store.Query(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		return presentation.NewFormatter(cmd.OutOrStdout()).Format(rows)
	},
}

var tableListCmd = &cobra.Command{
	Use:   "table:list",
	Short: "List tabular store tables",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		store, err := openTabular()
		if err != nil {
			return err
		}
		defer func() { _ = store.Close() }()

		names, err := store.Tables(cmd.Context())
		if err != nil {
			return err
		}
		for _, n := range names {
			fmt.Fprintln(cmd.OutOrStdout(), n)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(tableImportCmd, tableExportCmd, tableQueryCmd, tableListCmd)
}
