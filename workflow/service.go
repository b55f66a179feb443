package workflow

import (
	"context"
	"fmt"
	"maps"

	"github.com/liamcoop/tripflow/condition"
	"github.com/liamcoop/tripflow/internal/logger"
	"github.com/liamcoop/tripflow/rules"
)

// Evaluator decides whether a record may move along a department pair.
// *rules.Engine implements it.
type Evaluator interface {
	EvaluatePush(ctx context.Context, pair rules.Pair, rec condition.Record) (*rules.PushDecision, error)
}

// Calculator computes a department's formula fields for a record.
// *rules.Engine implements it.
type Calculator interface {
	CalculatedFields(ctx context.Context, departmentID int64, rec condition.Record) (map[string]float64, error)
}

// Service pushes records between departments and records every attempt.
type Service struct {
	rules   Evaluator
	sink    RecordSink
	history HistoryStore
	calc    Calculator
}

func NewService(ev Evaluator, sink RecordSink, history HistoryStore) *Service {
	return &Service{rules: ev, sink: sink, history: history}
}

// SetCalculator makes Push fill the target department's formula fields
// before inserting. A nil calculator disables it.
func (s *Service) SetCalculator(c Calculator) {
	s.calc = c
}

// Push copies req.Data into the target department without checking
// conditions. The attempt is logged whether or not it succeeds.
func (s *Service) Push(ctx context.Context, req *PushRequest) (string, error) {
	if err := req.Validate(); err != nil {
		return "", err
	}

	id, err := s.push(ctx, req)
	entry := &HistoryEntry{
		RecordID:           req.RecordID,
		SourceDepartmentID: req.SourceDepartmentID,
		TargetDepartmentID: req.TargetDepartmentID,
		TargetRecordID:     id,
		Status:             StatusSuccess,
		PushedBy:           req.PushedBy,
	}
	if err != nil {
		entry.Status = StatusFailed
		entry.ErrorMessage = err.Error()
		logger.PushesFailed.Add(1)
		logger.Error("record push failed", "record_id", req.RecordID,
			"source_department_id", req.SourceDepartmentID,
			"target_department_id", req.TargetDepartmentID, "error", err)
	} else {
		logger.PushesSucceeded.Add(1)
		logger.Info("record pushed", "record_id", req.RecordID, "new_record_id", id,
			"source_department_id", req.SourceDepartmentID,
			"target_department_id", req.TargetDepartmentID)
	}

	if herr := s.history.Log(ctx, entry); herr != nil {
		logger.Error("failed to log workflow history", "record_id", req.RecordID, "error", herr)
	}
	return id, err
}

func (s *Service) push(ctx context.Context, req *PushRequest) (string, error) {
	data := maps.Clone(req.Data)
	if len(req.FieldMapping) > 0 {
		data = TransformData(req.Data, req.FieldMapping)
	}
	if data == nil {
		data = map[string]any{}
	}

	if s.calc != nil {
		calculated, err := s.calc.CalculatedFields(ctx, req.TargetDepartmentID, data)
		if err != nil {
			return "", fmt.Errorf("failed to calculate fields: %w", err)
		}
		for k, v := range calculated {
			data[k] = v
		}
	}

	return s.sink.Insert(ctx, req.TargetDepartmentID, data)
}

// AutoPush evaluates the pair's push conditions against req.Data and pushes
// the record when they match. A pair without conditions never pushes.
func (s *Service) AutoPush(ctx context.Context, req *PushRequest) (*Outcome, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	pair := rules.Pair{Source: req.SourceDepartmentID, Target: req.TargetDepartmentID}
	decision, err := s.rules.EvaluatePush(ctx, pair, req.Data)
	if err != nil {
		return nil, fmt.Errorf("failed to evaluate push conditions for %s: %w", pair, err)
	}

	out := &Outcome{
		Matched:    decision.Matched,
		Conditions: decision.Conditions,
		Steps:      decision.Steps,
	}
	if decision.Conditions == 0 {
		logger.Debug("no push conditions configured", "pair", pair.String())
		return out, nil
	}
	if !decision.Matched {
		logger.Debug("push conditions not met", "pair", pair.String(), "record_id", req.RecordID)
		return out, nil
	}

	id, err := s.Push(ctx, req)
	if err != nil {
		return out, err
	}
	out.Pushed = true
	out.NewRecordID = id
	return out, nil
}

// History returns logged attempts matching f, newest first.
func (s *Service) History(ctx context.Context, f Filter) ([]*HistoryEntry, error) {
	return s.history.List(ctx, f)
}

// Statistics summarises logged attempts matching f.
func (s *Service) Statistics(ctx context.Context, f Filter) (Statistics, error) {
	return s.history.Stats(ctx, f)
}
