package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/zjrosen/formulary/internal/formula"
	"github.com/zjrosen/formulary/internal/presentation"
	"github.com/zjrosen/formulary/internal/tabular"
)

var (
	listActive bool
	jsonOutput bool

	execData         string
	execTable        string
	execParams       []string
	execOutputColumn string
	execSample       int
	execNoMetadata   bool
	execSaveTo       string
)

var formulaListCmd = &cobra.Command{
	Use:   "formula:list",
	Short: "List registered formulas",
	Long: `List built-in and descriptor-defined formulas.

Examples:
  formulary formula:list
  formulary formula:list --active
  formulary formula:list --json | jq '.[].name'`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		a, err := newApp(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer func() { _ = a.Close(cmd.Context()) }()

		regs := a.registry.List()
		if listActive {
			regs = a.registry.ListActive()
		}
		dtos := presentation.FromRegistrations(regs)
		if jsonOutput {
			return presentation.NewFormatter(cmd.OutOrStdout()).FormatFormulas(dtos)
		}
		return presentation.NewRenderer(cmd.OutOrStdout()).Formulas(dtos)
	},
}

var formulaShowCmd = &cobra.Command{
	Use:   "formula:show NAME",
	Short: "Show one formula's descriptor as JSON",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer func() { _ = a.Close(cmd.Context()) }()

		reg, ok := a.registry.Get(args[0])
		if !ok {
			return fmt.Errorf("%w: %s", formula.ErrNotFound, args[0])
		}
		return presentation.NewFormatter(cmd.OutOrStdout()).Format(presentation.FromRegistration(reg))
	},
}

var formulaExecCmd = &cobra.Command{
	Use:   "formula:exec NAME",
	Short: "Run a formula over rows",
	Long: `Run a formula over rows read from a JSON file (an array of objects) or
from a table in the SQLite tabular store.

Parameter values are parsed as JSON when they are valid JSON, otherwise they
are taken as plain text.

Examples:
  formulary formula:exec UPPER --data rows.json --param text_column=name
  formulary formula:exec ADD --table sales --param number1=amount --param number2=qty
  formulary formula:exec TEXT_JOIN --data - --param 'text_values=["a","b"]' < rows.json
  formulary formula:exec PIVOT --table sales --param index_column=region --save-to by_region`,
	Args: cobra.ExactArgs(1),
	RunE: runFormulaExec,
}

func init() {
	formulaListCmd.Flags().BoolVar(&listActive, "active", false, "only list active formulas")
	formulaListCmd.Flags().BoolVar(&jsonOutput, "json", false, "print JSON instead of text")

	formulaExecCmd.Flags().StringVar(&execData, "data", "", "JSON file with input rows (- for stdin)")
	formulaExecCmd.Flags().StringVar(&execTable, "table", "", "read input rows from this tabular store table")
	formulaExecCmd.Flags().StringArrayVarP(&execParams, "param", "p", nil, "parameter as key=value (repeatable)")
	formulaExecCmd.Flags().StringVar(&execOutputColumn, "output-column", "", "rename the result column")
	formulaExecCmd.Flags().IntVar(&execSample, "sample", -1, "return at most this many rows")
	formulaExecCmd.Flags().BoolVar(&execNoMetadata, "no-metadata", false, "omit row counts and output columns")
	formulaExecCmd.Flags().StringVar(&execSaveTo, "save-to", "", "write result rows into this tabular store table")
	formulaExecCmd.Flags().BoolVar(&jsonOutput, "json", false, "print the result envelope as JSON")
	formulaExecCmd.MarkFlagsMutuallyExclusive("data", "table")

	rootCmd.AddCommand(formulaListCmd, formulaShowCmd, formulaExecCmd)
}

func runFormulaExec(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close(ctx) }()

	params, err := parseParams(execParams)
	if err != nil {
		return err
	}

	var store *tabular.Store
	if execTable != "" || execSaveTo != "" {
		store, err = tabular.Open(cfg.Tabular.Path)
		if err != nil {
			return err
		}
		defer func() { _ = store.Close() }()
	}

	var rows []formula.Row
	switch {
	case execTable != "":
		rows, err = store.Export(ctx, execTable)
	case execData != "":
		rows, err = readRows(cmd.InOrStdin(), execData)
	}
	if err != nil {
		return err
	}

	req := formula.NewRequest(args[0], rows, params)
	req.OutputConfig.OutputColumn = execOutputColumn
	req.OutputConfig.IncludeMetadata = !execNoMetadata
	if execSample >= 0 {
		req.OutputConfig.SampleSize = &execSample
	}

	result, execErr := a.registry.Execute(ctx, req)
	if jsonOutput {
		if err := presentation.NewFormatter(cmd.OutOrStdout()).Format(result); err != nil {
			return err
		}
	} else if err := presentation.NewRenderer(cmd.OutOrStdout()).Result(result); err != nil {
		return err
	}
	if execErr != nil {
		return execErr
	}
	if !result.Succeeded() {
		return fmt.Errorf("%s", result.ErrorMessage)
	}

	if execSaveTo != "" {
		n, err := store.Import(ctx, execSaveTo, result.Data)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.ErrOrStderr(), "saved %d rows to %s\n", n, execSaveTo)
	}
	return nil
}

// parseParams turns key=value pairs into Params. Values that parse as JSON
// keep their JSON type.
func parseParams(pairs []string) (formula.Params, error) {
	params := formula.Params{}
	for _, pair := range pairs {
		key, raw, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("%w: parameter %q must be key=value", formula.ErrConfig, pair)
		}
		var v formula.Value
		if err := json.Unmarshal([]byte(raw), &v); err != nil {
			v = formula.String(raw)
		}
		params[key] = v
	}
	return params, nil
}

func readRows(stdin io.Reader, path string) ([]formula.Row, error) {
	var r io.Reader = stdin
	if path != "-" {
		f, err := os.Open(path) //nolint:gosec // input file chosen by the operator
		if err != nil {
			return nil, fmt.Errorf("opening %s: %w", path, err)
		}
		defer func() { _ = f.Close() }()
		r = f
	}
	var rows []formula.Row
	if err := json.NewDecoder(r).Decode(&rows); err != nil {
		return nil, fmt.Errorf("%w: decoding rows from %s: %w", formula.ErrConfig, path, err)
	}
	return rows, nil
}
