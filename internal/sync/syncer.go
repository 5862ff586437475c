package syncx

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/mind-engage/mindengage-testsync/internal/exam"
	"github.com/mind-engage/mindengage-testsync/internal/metrics"
	"github.com/mind-engage/mindengage-testsync/internal/source"
)

type Clock func() time.Time

// DefaultConcurrency is used when Options.Concurrency is not positive.
const DefaultConcurrency = 8

// Source yields the document-store records of tests known on disk.
type Source interface {
	ReadKnown(ctx context.Context, known map[string]struct{}) ([]source.Record, error)
}

// RunRecorder persists finished batch reports.
type RunRecorder interface {
	Append(ctx context.Context, rep BatchReport) error
}

type Options struct {
	// Concurrency caps the record pipelines in flight. Size it to the
	// relational pool; every pipeline holds at most one connection at a time.
	Concurrency int
	Metrics     *metrics.Collector
	Runs        RunRecorder
	Now         Clock
	// KeepResults keeps per-record results in the returned report.
	KeepResults bool
}

// Syncer reconciles document-store test instances into the relational store.
type Syncer struct {
	Source Source
	Store  exam.Store
	Logger *zap.Logger
	opts   Options

	resolve Resolver
	upsert  Upserter
	closing ClosingStateDeriver
}

func New(src Source, store exam.Store, logger *zap.Logger, opts Options) *Syncer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = DefaultConcurrency
	}
	return &Syncer{
		Source:  src,
		Store:   store,
		Logger:  logger,
		opts:    opts,
		resolve: Resolver{Store: store},
		upsert:  Upserter{Store: store},
		closing: ClosingStateDeriver{Store: store},
	}
}

// Sync runs one batch and calls completion exactly once: with the source read
// error if the batch could not start, nil otherwise.
func (s *Syncer) Sync(ctx context.Context, info CourseInfo, known map[string]struct{}, completion func(error)) {
	_, err := s.Run(ctx, info, known)
	completion(err)
}

// Run reads every known record and pushes each through resolve, upsert and
// closing-state derivation with at most Concurrency records in flight. Only
// a source failure is returned; everything else is logged and counted.
func (s *Syncer) Run(ctx context.Context, info CourseInfo, known map[string]struct{}) (BatchReport, error) {
	rep := BatchReport{
		RunID:     uuid.NewString(),
		CourseID:  info.CourseID,
		StartedAt: s.opts.Now(),
		Counts:    map[Outcome]int{},
	}
	log := s.Logger.With(zap.String("run_id", rep.RunID), zap.Int64("course_id", info.CourseID))
	log.Info("syncing test instances from document store", zap.Int("known_tests", len(known)))

	recs, err := s.Source.ReadKnown(ctx, known)
	if err != nil {
		rep.Error = err.Error()
		s.finish(ctx, log, &rep)
		return rep, err
	}
	rep.Total = len(recs)

	results := make([]RecordResult, len(recs))
	var g errgroup.Group
	g.SetLimit(s.opts.Concurrency)
	for i := range recs {
		i := i
		g.Go(func() error {
			s.opts.Metrics.Track(1)
			defer s.opts.Metrics.Track(-1)
			results[i] = s.syncRecord(ctx, log, info, recs[i])
			return nil
		})
	}
	_ = g.Wait()

	for _, r := range results {
		rep.Counts[r.Outcome]++
		s.opts.Metrics.RecordOutcome(string(r.Outcome))
	}
	if s.opts.KeepResults {
		rep.Results = results
	}
	s.finish(ctx, log, &rep)
	return rep, nil
}

func (s *Syncer) syncRecord(ctx context.Context, log *zap.Logger, info CourseInfo, rec source.Record) RecordResult {
	res := RecordResult{InstanceID: rec.InstanceID, TestID: rec.TestID, UserExternalID: rec.UserExternalID}
	fields := []zap.Field{
		zap.String("tiid", rec.InstanceID),
		zap.String("tid", rec.TestID),
		zap.String("uid", rec.UserExternalID),
	}

	if rec.Err != nil {
		return skip(log, res, OutcomeDecodeError, rec.Err, fields)
	}
	id, err := s.resolve.Resolve(ctx, info.CourseID, rec)
	if err != nil {
		return skip(log, res, classify(err), err, fields)
	}
	ti, err := s.upsert.Upsert(ctx, rec, id)
	if err != nil {
		return skip(log, res, OutcomeStoreError, err, fields)
	}
	res.TestInstanceID = ti.ID

	_, created, err := s.closing.Derive(ctx, ti, rec)
	if err != nil {
		// The instance row is written; a missing closing state is tolerated.
		res.Outcome = OutcomeClosingStateFailed
		res.Reason = err.Error()
		log.Error("closing state not recorded",
			append(fields, zap.String("outcome", string(res.Outcome)), zap.Error(err))...)
		return res
	}
	res.ClosingStateCreated = created
	res.Outcome = OutcomeSynced
	return res
}

func skip(log *zap.Logger, res RecordResult, o Outcome, err error, fields []zap.Field) RecordResult {
	res.Outcome = o
	res.Reason = err.Error()
	log.Error("test instance skipped",
		append(fields, zap.String("outcome", string(o)), zap.Error(err))...)
	return res
}

func classify(err error) Outcome {
	switch {
	case errors.Is(err, ErrUnknownUser):
		return OutcomeUnknownUser
	case errors.Is(err, ErrUnknownTest):
		return OutcomeUnknownTest
	default:
		return OutcomeStoreError
	}
}

func (s *Syncer) finish(ctx context.Context, log *zap.Logger, rep *BatchReport) {
	rep.FinishedAt = s.opts.Now()
	s.opts.Metrics.BatchDone(rep.Status(), rep.FinishedAt.Sub(rep.StartedAt))

	if rep.Error != "" {
		log.Error("test instance sync failed", zap.String("error", rep.Error))
	} else {
		log.Info("test instance sync finished",
			zap.Int("total", rep.Total),
			zap.Int("synced", rep.Synced()),
			zap.Int("skipped", rep.Skipped()),
			zap.Int("closing_state_failed", rep.Counts[OutcomeClosingStateFailed]),
			zap.Duration("took", rep.FinishedAt.Sub(rep.StartedAt)))
	}

	if s.opts.Runs != nil {
		// A report that cannot be stored does not change the batch result.
		if err := s.opts.Runs.Append(context.WithoutCancel(ctx), *rep); err != nil {
			log.Warn("sync run not recorded", zap.Error(err))
		}
	}
}
