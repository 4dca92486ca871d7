package pipeline

import (
	"context"
	"time"

	"cloud.google.com/go/civil"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/dvloznov/bank-batch-pipeline/internal/domain"
	"github.com/dvloznov/bank-batch-pipeline/internal/logger"
)

// RunCounters are the summary counters reported to the scheduler.
type RunCounters struct {
	Processed int `json:"records_processed"`
	Valid     int `json:"records_valid"`
	Loaded    int `json:"records_loaded"`
	Rows      int `json:"aggregate_rows"`
	Anomalies int `json:"anomalies"`
}

// RunResult is the outcome of one batch run.
type RunResult struct {
	RunID          string                      `json:"run_id"`
	ProcessingDate civil.Date                  `json:"processing_date"`
	Source         string                      `json:"source,omitempty"`
	Status         domain.RunStatus            `json:"status"`
	// Stage is the terminal stage, or the stage that failed.
	Stage          Stage                       `json:"stage"`
	Transitions    []Transition                `json:"transitions"`
	Report         *domain.QualityReport       `json:"quality_report,omitempty"`
	BankReports    []domain.QualityReport      `json:"bank_reports,omitempty"`
	Aggregates     []domain.DailyBankAggregate `json:"aggregates,omitempty"`
	Anomalies      []domain.Anomaly            `json:"anomalies,omitempty"`
	Counters       RunCounters                 `json:"counters"`
	WriteAttempts  int                         `json:"write_attempts,omitempty"`
	Error          *ErrorPayload               `json:"error,omitempty"`
	StartedAt      time.Time                   `json:"started_at"`
	FinishedAt     time.Time                   `json:"finished_at"`
	Duration       float64                     `json:"duration_seconds"`

	err error
}

// Err returns the error that failed the run, if any.
func (r *RunResult) Err() error { return r.err }

// Option customizes a BatchPipeline.
type Option func(*BatchPipeline)

// WithHistory sets the reader used for daily volume baselines.
func WithHistory(h HistoryReader) Option {
	return func(p *BatchPipeline) { p.history = h }
}

// WithClock replaces time.Now, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(p *BatchPipeline) { p.now = now }
}

// WithRunIDs replaces the run id generator.
func WithRunIDs(next func() string) Option {
	return func(p *BatchPipeline) { p.newRunID = next }
}

// BatchPipeline runs one batch through every stage. It holds only
// read-only configuration and may be shared by concurrent runs.
type BatchPipeline struct {
	cfg      Config
	sink     Sink
	history  HistoryReader
	now      func() time.Time
	newRunID func() string

	cleaner    *Cleaner
	rules      *RuleValidator
	analyzer   *Analyzer
	scorer     *Scorer
	aggregator *Aggregator
}

// NewBatchPipeline validates cfg and wires the stages.
func NewBatchPipeline(cfg Config, sink Sink, opts ...Option) (*BatchPipeline, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cleaner, err := NewCleaner(cfg)
	if err != nil {
		return nil, err
	}
	rules, err := NewRuleValidator(cfg)
	if err != nil {
		return nil, err
	}
	p := &BatchPipeline{
		cfg:        cfg,
		sink:       sink,
		now:        func() time.Time { return time.Now().UTC() },
		newRunID:   uuid.NewString,
		cleaner:    cleaner,
		rules:      rules,
		analyzer:   NewAnalyzer(cfg),
		scorer:     NewScorer(cfg),
		aggregator: NewAggregator(cfg),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Config returns the configuration the pipeline was built with.
func (p *BatchPipeline) Config() Config { return p.cfg }

func (p *BatchPipeline) steps() *Pipeline {
	return NewPipeline(
		&ValidateSchemaStep{Required: p.cfg.RequiredFields},
		&CleanRecordsStep{Cleaner: p.cleaner},
		&AnalyzeStep{
			Analyzer:    p.analyzer,
			Rules:       p.rules,
			History:     p.history,
			Granularity: p.cfg.Granularity,
			HistoryDays: p.cfg.HistoryDays,
		},
		&ScoreStep{Scorer: p.scorer, PartialFloor: p.cfg.PartialFloor},
		&AggregateStep{Aggregator: p.aggregator},
		&WriteStep{Sink: p.sink, Retry: p.cfg.WriteRetry},
	)
}

// Run processes batch and always returns a result; failures are reported
// through Status and Error.
func (p *BatchPipeline) Run(ctx context.Context, batch *domain.Batch) *RunResult {
	state := p.newState(batch)
	ctx, log := p.runLogger(ctx, state.RunID, batch.ProcessingDate)
	log.Info().Int("records", len(batch.Records)).Str("source", batch.Source).Msg("Starting batch run")

	err := p.steps().Execute(ctx, state)
	return p.finish(ctx, state, err)
}

// Fail builds the result of a run that could not start, such as a batch
// that could not be read.
func (p *BatchPipeline) Fail(ctx context.Context, date civil.Date, err error) *RunResult {
	state := p.newState(&domain.Batch{ProcessingDate: date})
	ctx, _ = p.runLogger(ctx, state.RunID, date)
	return p.finish(ctx, state, &StageError{Stage: StagePending, Row: -1, Err: err})
}

func (p *BatchPipeline) newState(batch *domain.Batch) *PipelineState {
	started := p.now()
	state := &PipelineState{
		RunID:     p.newRunID(),
		Batch:     batch,
		StartedAt: started,
		Now:       p.now,
	}
	state.Stage = StagePending
	state.Transitions = []Transition{{Stage: StagePending, At: started}}
	return state
}

func (p *BatchPipeline) runLogger(ctx context.Context, runID string, date civil.Date) (context.Context, zerolog.Logger) {
	log := logger.WithFields(logger.FromContext(ctx), map[string]interface{}{
		"run_id":          runID,
		"processing_date": date.String(),
	})
	return logger.WithContext(ctx, log), log
}

func (p *BatchPipeline) finish(ctx context.Context, state *PipelineState, err error) *RunResult {
	finished := p.now()
	res := &RunResult{
		RunID:          state.RunID,
		ProcessingDate: state.Batch.ProcessingDate,
		Source:         state.Batch.Source,
		StartedAt:      state.StartedAt,
		FinishedAt:     finished,
		Duration:       finished.Sub(state.StartedAt).Seconds(),
		WriteAttempts:  state.Attempts,
		Anomalies:      state.Anomalies,
		Counters: RunCounters{
			Processed: len(state.Batch.Records),
			Valid:     state.Clean.Valid(),
			Anomalies: len(state.Anomalies),
		},
	}

	log := logger.FromContext(ctx)
	if err != nil {
		res.Status = domain.StatusFailed
		res.Stage = state.Stage
		res.Error = NewErrorPayload(err)
		res.err = err
		state.enter(StageFailed)
		res.Transitions = state.Transitions
		log.Error().Err(err).Str("stage", string(res.Stage)).Bool("retryable", res.Error.Retryable).Msg("Batch run failed")
		return res
	}

	res.Status = state.Status
	res.Stage = StageSuccess
	if state.Status == domain.StatusPartial {
		res.Stage = StagePartial
	}
	state.enter(res.Stage)
	res.Transitions = state.Transitions

	report := state.Report
	res.Report = &report
	res.BankReports = state.BankReports
	res.Aggregates = state.Aggregates
	res.Counters.Rows = len(state.Aggregates)
	for _, a := range state.Aggregates {
		res.Counters.Loaded += int(a.TransactionCount)
	}

	log.Info().
		Str("status", string(res.Status)).
		Int("rows", res.Counters.Rows).
		Int("loaded", res.Counters.Loaded).
		Int("anomalies", res.Counters.Anomalies).
		Float64("quality_score", report.Score).
		Msg("Batch run finished")
	return res
}
