package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/BurntSushi/toml"

	"github.com/liamcoop/tripflow/condition"
	"github.com/liamcoop/tripflow/rules"
)

// RuleSet is the TOML form of a set of push routes and department formulas:
//
//	[[formulas]]
//	department_id = 2
//	target_field = "Thanh_tien"
//	formula_expression = "[Don_gia] * [So_luong]"
//
//	[[pairs]]
//	source = 1
//	target = 2
//
//	  [[pairs.conditions]]
//	  field_name = "Trang_thai"
//	  operator = "equals"
//	  value = "Hoàn thành"
//	  condition_order = 1
type RuleSet struct {
	Formulas []FormulaEntry `toml:"formulas"`
	Pairs    []PairEntry    `toml:"pairs"`
}

type FormulaEntry struct {
	DepartmentID int64  `toml:"department_id"`
	TargetField  string `toml:"target_field"`
	Expression   string `toml:"formula_expression"`
	Description  string `toml:"description"`
}

type PairEntry struct {
	Source     int64                 `toml:"source"`
	Target     int64                 `toml:"target"`
	Conditions []condition.Condition `toml:"conditions"`
}

// LoadRuleSet reads a rule set file.
func LoadRuleSet(path string) (*RuleSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading rule set: %w", err)
	}
	var rs RuleSet
	if _, err := toml.Decode(string(data), &rs); err != nil {
		return nil, fmt.Errorf("parsing rule set %s: %w", path, err)
	}
	return &rs, nil
}

// Engine loads the rule set into an in-memory engine. Every entry goes
// through the same validation as the API. Conditions without a
// condition_order keep their position in the file.
func (rs *RuleSet) Engine(ctx context.Context) (*rules.Engine, error) {
	en := rules.NewEngine(rules.NewInMemoryFormulaStore(), rules.NewInMemoryConditionStore())

	for i, f := range rs.Formulas {
		def := &rules.FormulaDef{
			DepartmentID: f.DepartmentID,
			TargetField:  f.TargetField,
			Expression:   f.Expression,
			Description:  f.Description,
			Active:       true,
		}
		if err := en.AddFormula(ctx, def); err != nil {
			return nil, fmt.Errorf("formulas[%d]: %w", i, err)
		}
	}

	for i, p := range rs.Pairs {
		for j, c := range p.Conditions {
			if c.Order == 0 {
				c.Order = j + 1
			}
			pc := &rules.PushCondition{
				SourceDepartmentID: p.Source,
				TargetDepartmentID: p.Target,
				FieldName:          c.FieldName,
				Operator:           c.Operator,
				Value:              c.Value,
				Logic:              c.Logic,
				Order:              c.Order,
				Active:             true,
			}
			if err := en.AddCondition(ctx, pc); err != nil {
				return nil, fmt.Errorf("pairs[%d].conditions[%d]: %w", i, j, err)
			}
		}
	}
	return en, nil
}
