package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/spf13/cobra"

	"github.com/liamcoop/tripflow/formula"
	"github.com/liamcoop/tripflow/rules"
)

func newEvalCmd() *cobra.Command {
	var (
		sets       []string
		valuesFile string
	)
	cmd := &cobra.Command{
		Use:   "eval EXPRESSION",
		Short: "Evaluate a formula against field values",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			values, err := loadValues(valuesFile, sets)
			if err != nil {
				return err
			}
			expr, err := formula.Parse(args[0])
			if err != nil {
				return explain(cmd.ErrOrStderr(), args[0], err)
			}
			nums, err := rules.NumericValues(values, expr.Fields())
			if err != nil {
				return err
			}
			if err := formula.Validate(expr, formula.FieldSetOf(nums)); err != nil {
				return explain(cmd.ErrOrStderr(), args[0], err)
			}
			result, err := expr.Eval(nums)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), strconv.FormatFloat(result, 'f', -1, 64))
			return nil
		},
	}
	cmd.Flags().StringArrayVar(&sets, "set", nil, "Field value as NAME=VALUE (repeatable)")
	cmd.Flags().StringVar(&valuesFile, "values", "", "JSON object file with field values")
	return cmd
}

func newValidateCmd() *cobra.Command {
	var fields []string
	cmd := &cobra.Command{
		Use:   "validate EXPRESSION",
		Short: "Check formula syntax and, with --fields, its field references",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			expr, err := formula.Parse(args[0])
			if err == nil && cmd.Flags().Changed("fields") {
				err = formula.Validate(expr, formula.NewFieldSet(fields...))
			}
			if err != nil {
				return explain(cmd.ErrOrStderr(), args[0], err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "ok: %s\n", expr)
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&fields, "fields", nil, "Known field names, comma separated")
	return cmd
}

func newFieldsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "fields EXPRESSION",
		Short: "List the fields a formula reads, in order of first use",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			names, err := formula.DependentFields(args[0])
			if err != nil {
				return explain(cmd.ErrOrStderr(), args[0], err)
			}
			for _, n := range names {
				fmt.Fprintln(cmd.OutOrStdout(), n)
			}
			return nil
		},
	}
}

// explain prints src with a caret under the failing position and returns
// err unchanged.
func explain(w io.Writer, src string, err error) error {
	var fe *formula.Error
	if errors.As(err, &fe) && fe.Pos >= 0 && fe.Pos <= utf8.RuneCountInString(src) {
		fmt.Fprintf(w, "  %s\n  %s^\n", src, strings.Repeat(" ", fe.Pos))
	}
	return err
}

// loadValues merges a JSON values file with NAME=VALUE overrides.
func loadValues(path string, sets []string) (map[string]any, error) {
	values := map[string]any{}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading values: %w", err)
		}
		if err := json.Unmarshal(data, &values); err != nil {
			return nil, fmt.Errorf("parsing values: %w", err)
		}
	}
	for _, s := range sets {
		name, value, ok := strings.Cut(s, "=")
		if !ok || name == "" {
			return nil, fmt.Errorf("invalid --set %q, want NAME=VALUE", s)
		}
		values[name] = value
	}
	return values, nil
}
