package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/zjrosen/formulary/internal/compiletest"
	"github.com/zjrosen/formulary/internal/presentation"
)

// readSource reads a candidate file; "-" reads stdin.
func readSource(cmd *cobra.Command, path string) (string, error) {
	if path == "-" {
		data, err := io.ReadAll(cmd.InOrStdin())
		return string(data), err
	}
	data, err := os.ReadFile(path) //nolint:gosec // source file chosen by the operator
	if err != nil {
		return "", fmt.Errorf("reading %s: %w", path, err)
	}
	return string(data), nil
}

// withApp runs fn against a freshly wired app and closes it afterwards.
func withApp(fn func(cmd *cobra.Command, args []string, a *app) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer func() { _ = a.Close(cmd.Context()) }()
		return fn(cmd, args, a)
	}
}

var candidateSaveCmd = &cobra.Command{
	Use:   "candidate:save NAME FILE",
	Short: "Store candidate source after a structural check",
	Args:  cobra.ExactArgs(2),
	RunE: withApp(func(cmd *cobra.Command, args []string, a *app) error {
		src, err := readSource(cmd, args[1])
		if err != nil {
			return err
		}
		res, err := a.candidates.Save(cmd.Context(), args[0], src)
		if err != nil {
			return err
		}
		if err := presentation.NewFormatter(cmd.OutOrStdout()).Format(res); err != nil {
			return err
		}
		if !res.Accepted {
			return fmt.Errorf("rejected: %s", res.Reason)
		}
		return nil
	}),
}

var candidateTestCmd = &cobra.Command{
	Use:   "candidate:test NAME [FILE]",
	Short: "Compile-test candidate source",
	Long: `Compile-test FILE, or the stored source for NAME when FILE is omitted.
Nothing is saved or activated.`,
	Args: cobra.RangeArgs(1, 2),
	RunE: withApp(func(cmd *cobra.Command, args []string, a *app) error {
		var outcome compiletest.Outcome
		var err error
		if len(args) == 2 {
			src, rerr := readSource(cmd, args[1])
			if rerr != nil {
				return rerr
			}
			outcome, err = a.candidates.Test(cmd.Context(), args[0], src)
		} else {
			outcome, err = a.candidates.TestSaved(cmd.Context(), args[0])
		}
		if err != nil {
			return err
		}
		if jsonOutput {
			if err := presentation.NewFormatter(cmd.OutOrStdout()).Format(outcome); err != nil {
				return err
			}
		} else if err := presentation.NewRenderer(cmd.OutOrStdout()).Outcome(outcome); err != nil {
			return err
		}
		if !outcome.Success {
			return fmt.Errorf("compile test failed: %s", outcome.Message)
		}
		return nil
	}),
}

var candidateGetCmd = &cobra.Command{
	Use:   "candidate:get NAME",
	Short: "Print stored candidate source",
	Args:  cobra.ExactArgs(1),
	RunE: withApp(func(cmd *cobra.Command, args []string, a *app) error {
		src, err := a.candidates.Get(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		_, err = io.WriteString(cmd.OutOrStdout(), src)
		return err
	}),
}

var candidateDeleteCmd = &cobra.Command{
	Use:   "candidate:delete NAME",
	Short: "Delete stored candidate source",
	Args:  cobra.ExactArgs(1),
	RunE: withApp(func(cmd *cobra.Command, args []string, a *app) error {
		return a.candidates.Delete(cmd.Context(), args[0])
	}),
}

var candidateListCmd = &cobra.Command{
	Use:   "candidate:list",
	Short: "List stored candidate names",
	Args:  cobra.NoArgs,
	RunE: withApp(func(cmd *cobra.Command, _ []string, a *app) error {
		names, err := a.candidates.List(cmd.Context())
		if err != nil {
			return err
		}
		return presentation.NewFormatter(cmd.OutOrStdout()).Format(presentation.NewCodeList(names))
	}),
}

var candidateGenerateCmd = &cobra.Command{
	Use:   "candidate:generate NAME",
	Short: "Print a starter skeleton for NAME",
	Args:  cobra.ExactArgs(1),
	RunE: withApp(func(cmd *cobra.Command, args []string, a *app) error {
		src, err := a.candidates.Generate(args[0])
		if err != nil {
			return err
		}
		_, err = io.WriteString(cmd.OutOrStdout(), src)
		return err
	}),
}

var candidateDiffCmd = &cobra.Command{
	Use:   "candidate:diff NAME [FILE]",
	Short: "Diff stored source against FILE or the generated skeleton",
	Args:  cobra.RangeArgs(1, 2),
	RunE: withApp(func(cmd *cobra.Command, args []string, a *app) error {
		var proposed string
		if len(args) == 2 {
			var err error
			if proposed, err = readSource(cmd, args[1]); err != nil {
				return err
			}
		}
		d, err := a.candidates.Diff(cmd.Context(), args[0], proposed)
		if err != nil {
			return err
		}
		if jsonOutput {
			return presentation.NewFormatter(cmd.OutOrStdout()).Format(d)
		}
		return presentation.NewRenderer(cmd.OutOrStdout()).Diff(d)
	}),
}

var candidateActivateCmd = &cobra.Command{
	Use:   "candidate:activate NAME",
	Short: "Build stored source and check that it activates",
	Long: `Build the stored source for NAME into an executor binary and bind it into
a registry. From the CLI this verifies activation end to end; the binding
lasts only for this process. Use the API server for a long-lived binding.`,
	Args: cobra.ExactArgs(1),
	RunE: withApp(func(cmd *cobra.Command, args []string, a *app) error {
		res, err := a.candidates.Activate(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if err := presentation.NewFormatter(cmd.OutOrStdout()).Format(res); err != nil {
			return err
		}
		if !res.Activated {
			return fmt.Errorf("activation failed: %s", res.Outcome.Message)
		}
		return nil
	}),
}

func init() {
	for _, c := range []*cobra.Command{candidateTestCmd, candidateDiffCmd} {
		c.Flags().BoolVar(&jsonOutput, "json", false, "print JSON instead of text")
	}
	rootCmd.AddCommand(
		candidateSaveCmd,
		candidateTestCmd,
		candidateGetCmd,
		candidateDeleteCmd,
		candidateListCmd,
		candidateGenerateCmd,
		candidateDiffCmd,
		candidateActivateCmd,
	)
}
