package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"slices"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/liamcoop/tripflow/condition"
	"github.com/liamcoop/tripflow/rules"
)

func newCheckCmd() *cobra.Command {
	var (
		rulesPath  string
		recordPath string
		source     int64
		target     int64
	)
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Evaluate a rule set against a record and print the trace",
		Long: `Evaluate every push route of a TOML rule set against a JSON record.

For each route the command prints whether the record would be pushed, the
outcome of every condition with the running result, and the calculated
fields the target department's formulas produce.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rs, err := LoadRuleSet(rulesPath)
			if err != nil {
				return err
			}
			rec, err := loadRecord(recordPath)
			if err != nil {
				return err
			}
			en, err := rs.Engine(cmd.Context())
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			for _, p := range rs.Pairs {
				if (source != 0 && p.Source != source) || (target != 0 && p.Target != target) {
					continue
				}
				pair := rules.Pair{Source: p.Source, Target: p.Target}
				decision, err := en.EvaluatePush(cmd.Context(), pair, rec)
				if err != nil {
					return fmt.Errorf("evaluating %s: %w", pair, err)
				}
				printDecision(out, decision)

				if !decision.Matched {
					continue
				}
				calc, err := en.CalculatedFields(cmd.Context(), p.Target, rec)
				if err != nil {
					return fmt.Errorf("calculating fields of department %d: %w", p.Target, err)
				}
				printCalculated(out, calc)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&rulesPath, "rules", "", "TOML rule set file")
	cmd.Flags().StringVar(&recordPath, "record", "", "JSON record file")
	cmd.Flags().Int64Var(&source, "source", 0, "Only check routes from this department")
	cmd.Flags().Int64Var(&target, "target", 0, "Only check routes to this department")
	_ = cmd.MarkFlagRequired("rules")
	_ = cmd.MarkFlagRequired("record")
	return cmd
}

func loadRecord(path string) (condition.Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading record: %w", err)
	}
	var rec condition.Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("parsing record %s: %w", path, err)
	}
	return rec, nil
}

func printDecision(w io.Writer, d *rules.PushDecision) {
	verdict := "no push"
	if d.Matched {
		verdict = "push"
	}
	fmt.Fprintf(w, "%s: %s (%d conditions)\n", d.Pair, verdict, d.Conditions)
	for _, s := range d.Steps {
		fmt.Fprintf(w, "  %-40s %-5t => %t\n", s.Condition, s.Matched, s.Result)
	}
}

func printCalculated(w io.Writer, calc map[string]float64) {
	names := make([]string, 0, len(calc))
	for n := range calc {
		names = append(names, n)
	}
	slices.Sort(names)
	for _, n := range names {
		fmt.Fprintf(w, "  %s = %s\n", n, strconv.FormatFloat(calc[n], 'f', -1, 64))
	}
}
