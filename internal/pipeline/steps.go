package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dvloznov/bank-batch-pipeline/internal/domain"
	"github.com/dvloznov/bank-batch-pipeline/internal/logger"
)

// Stage is a state of the batch run state machine.
type Stage string

const (
	StagePending     Stage = "PENDING"
	StageValidating  Stage = "VALIDATING"
	StageCleaning    Stage = "CLEANING"
	StageAnalyzing   Stage = "ANALYZING"
	StageScoring     Stage = "SCORING"
	StageAggregating Stage = "AGGREGATING"
	StageWriting     Stage = "WRITING"
	StageSuccess     Stage = "SUCCESS"
	StageFailed      Stage = "FAILED"
	StagePartial     Stage = "PARTIAL"
)

// Transition records when a run entered a stage.
type Transition struct {
	Stage Stage     `json:"stage"`
	At    time.Time `json:"at"`
}

// PipelineStep represents a single stage of a batch run.
type PipelineStep interface {
	Stage() Stage
	Execute(ctx context.Context, state *PipelineState) error
}

// PipelineState holds the shared state across all pipeline steps. Each
// step only reads what earlier steps produced and adds its own output.
type PipelineState struct {
	RunID     string
	Batch     *domain.Batch
	StartedAt time.Time
	Now       func() time.Time

	Stage       Stage
	Transitions []Transition

	Schema      SchemaResult
	Clean       CleanResult
	History     []domain.DailyVolume
	Anomalies   []domain.Anomaly
	Report      domain.QualityReport
	BankReports []domain.QualityReport
	Status      domain.RunStatus
	Aggregates  []domain.DailyBankAggregate
	Attempts    int
}

func (s *PipelineState) enter(stage Stage) {
	s.Stage = stage
	s.Transitions = append(s.Transitions, Transition{Stage: stage, At: s.Now()})
}

// Pipeline executes a sequence of steps in order.
type Pipeline struct {
	steps []PipelineStep
}

// NewPipeline creates a new pipeline with the given steps.
func NewPipeline(steps ...PipelineStep) *Pipeline {
	return &Pipeline{steps: steps}
}

// Execute runs all steps sequentially and stops at the first failure,
// which is returned as a *StageError. A panicking step is converted into
// an error for its stage.
func (p *Pipeline) Execute(ctx context.Context, state *PipelineState) error {
	for _, step := range p.steps {
		state.enter(step.Stage())
		if err := runStep(ctx, step, state); err != nil {
			var stageErr *StageError
			if errors.As(err, &stageErr) {
				return err
			}
			return &StageError{Stage: step.Stage(), Row: -1, Err: err}
		}
	}
	return nil
}

func runStep(ctx context.Context, step PipelineStep, state *PipelineState) (err error) {
	defer func() {
		if r := recover(); r != nil {
			log := logger.FromContext(ctx)
			log.Error().Interface("panic", r).Str("stage", string(step.Stage())).Msg("Step panicked")
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return step.Execute(ctx, state)
}

// ValidateSchemaStep rejects batches with a structural defect.
type ValidateSchemaStep struct {
	Required []string
}

func (s *ValidateSchemaStep) Stage() Stage { return StageValidating }

func (s *ValidateSchemaStep) Execute(ctx context.Context, state *PipelineState) error {
	state.Schema = ValidateSchema(state.Batch, s.Required)
	return state.Schema.Err()
}

// CleanRecordsStep drops and repairs records.
type CleanRecordsStep struct {
	Cleaner *Cleaner
}

func (s *CleanRecordsStep) Stage() Stage { return StageCleaning }

func (s *CleanRecordsStep) Execute(ctx context.Context, state *PipelineState) error {
	state.Clean = s.Cleaner.Clean(state.Batch)

	log := logger.FromContext(ctx)
	log.Info().
		Int("total", state.Clean.Total).
		Int("valid", state.Clean.Valid()).
		Int("flagged", state.Clean.Flagged()).
		Int("null", state.Clean.Counts.Null).
		Int("invalid_type", state.Clean.Counts.InvalidType).
		Int("invalid_amount", state.Clean.Counts.InvalidAmount).
		Int("future_dated", state.Clean.Counts.FutureDated).
		Int("duplicate", state.Clean.Counts.Duplicate).
		Msg("Cleaned batch")
	for _, rej := range state.Clean.Rejected {
		log.Debug().Err(&rej.RecordDefect).Msg("Dropped record")
	}
	return nil
}

// AnalyzeStep runs the statistical analyzer and the business rules.
type AnalyzeStep struct {
	Analyzer    *Analyzer
	Rules       *RuleValidator
	History     HistoryReader
	Granularity Granularity
	HistoryDays int
}

func (s *AnalyzeStep) Stage() Stage { return StageAnalyzing }

func (s *AnalyzeStep) Execute(ctx context.Context, state *PipelineState) error {
	log := logger.FromContext(ctx)
	date := state.Batch.ProcessingDate

	var stats []domain.Anomaly
	switch s.Granularity {
	case GranularityTransaction:
		stats = s.Analyzer.AnalyzeTransactions(date, state.Clean.Records)
	default:
		current := CurrentVolumes(date, state.Clean.Records)
		if s.History != nil && len(current) > 0 {
			banks := make([]string, len(current))
			for i, c := range current {
				banks[i] = c.BankID
			}
			history, err := s.History.ReadHistory(ctx, banks, date, s.HistoryDays)
			if err != nil {
				log.Warn().Err(err).Msg("History unavailable, skipping statistical checks")
			}
			state.History = history
		}
		stats = s.Analyzer.AnalyzeDailyVolumes(current, state.History)
	}

	rules := s.Rules.Validate(date, state.Clean.RuleCandidates())

	now := state.Now()
	all := append(stats, rules...)
	for i := range all {
		all[i].RunID = state.RunID
		all[i].DetectedAt = now
	}
	state.Anomalies = all

	log.Info().Int("statistical", len(stats)).Int("rule", len(rules)).Msg("Analyzed batch")
	return nil
}

// ScoreStep computes the quality reports and decides between SUCCESS and
// PARTIAL.
type ScoreStep struct {
	Scorer       *Scorer
	PartialFloor float64
}

func (s *ScoreStep) Stage() Stage { return StageScoring }

func (s *ScoreStep) Execute(ctx context.Context, state *PipelineState) error {
	date := state.Batch.ProcessingDate
	state.Report = s.Scorer.Report(date, domain.AllBanks, state.Clean, state.Anomalies)
	state.BankReports = s.Scorer.BankReports(date, state.Clean, state.Anomalies)

	state.Status = domain.StatusSuccess
	if state.Report.Score < s.PartialFloor {
		state.Status = domain.StatusPartial
	}

	log := logger.FromContext(ctx)
	log.Info().
		Float64("score", state.Report.Score).
		Str("quality_level", string(state.Report.Level)).
		Int("penalized_anomalies", state.Report.PenalizedAnomalies).
		Msg("Scored batch")
	return nil
}

// AggregateStep builds the daily bank aggregates.
type AggregateStep struct {
	Aggregator *Aggregator
}

func (s *AggregateStep) Stage() Stage { return StageAggregating }

func (s *AggregateStep) Execute(ctx context.Context, state *PipelineState) error {
	scores := make(map[string]float64, len(state.BankReports))
	for _, r := range state.BankReports {
		scores[r.BankID] = r.Score
	}
	state.Aggregates = s.Aggregator.Aggregate(state.Clean.Records, scores, state.RunID, state.Now())
	return nil
}

// WriteStep persists the partition with bounded retries.
type WriteStep struct {
	Sink  Sink
	Retry RetryConfig
}

func (s *WriteStep) Stage() Stage { return StageWriting }

func (s *WriteStep) Execute(ctx context.Context, state *PipelineState) error {
	now := state.Now()
	reports := make([]domain.QualityReport, 0, len(state.BankReports)+1)
	for _, r := range append([]domain.QualityReport{state.Report}, state.BankReports...) {
		r.RunID = state.RunID
		r.Status = state.Status
		r.GeneratedAt = now
		r.DurationSeconds = now.Sub(state.StartedAt).Seconds()
		reports = append(reports, r)
	}

	w := PartitionWrite{
		ProcessingDate: state.Batch.ProcessingDate,
		RunID:          state.RunID,
		Aggregates:     state.Aggregates,
		Anomalies:      state.Anomalies,
		Reports:        reports,
	}
	attempts, err := withRetry(ctx, s.Retry, func(ctx context.Context) error {
		return s.Sink.WritePartition(ctx, w)
	})
	state.Attempts = attempts
	if err != nil {
		return &SinkWriteError{Attempts: attempts, Err: err}
	}
	state.Report = reports[0]
	state.BankReports = reports[1:]
	return nil
}
