// Package enrich classifies stored conversations with a two-pass batch
// workflow: discover a label vocabulary from a sample, then submit one
// asynchronous batch that labels and summarizes every conversation, poll it
// and reconcile the results back into the store by conversation ID.
package enrich

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/qmuntal/stateless"

	"github.com/comigor/chatvault/internal/batch"
	"github.com/comigor/chatvault/internal/config"
	"github.com/comigor/chatvault/internal/events"
	"github.com/comigor/chatvault/internal/history"
	"github.com/comigor/chatvault/internal/keychain"
	"github.com/comigor/chatvault/internal/logger"
	"github.com/comigor/chatvault/internal/metrics"
)

// FSM States
type FSMState stateless.State

var (
	StateIdle                  FSMState = "Idle"
	StateEstimatingCost        FSMState = "EstimatingCost"
	StateDiscoveringVocabulary FSMState = "DiscoveringVocabulary"
	StateSubmittingBatch       FSMState = "SubmittingBatch"
	StatePolling               FSMState = "Polling"
	StateFetchingResults       FSMState = "FetchingResults"
	StateReconciling           FSMState = "Reconciling"
	StateComplete              FSMState = "Complete" // Terminal: results applied
	StateError                 FSMState = "Error"    // Terminal: run aborted
)

// FSM Triggers
type FSMTrigger stateless.Trigger

var (
	TriggerStart           FSMTrigger = "Start"
	TriggerEstimated       FSMTrigger = "Estimated"
	TriggerVocabularyReady FSMTrigger = "VocabularyReady"
	TriggerSubmitted       FSMTrigger = "Submitted"
	TriggerPoll            FSMTrigger = "Poll"
	TriggerResultsReady    FSMTrigger = "ResultsReady"
	TriggerFetched         FSMTrigger = "Fetched"
	TriggerReconciled      FSMTrigger = "Reconciled"
	TriggerFail            FSMTrigger = "Fail"
)

// Store is the part of history.Store the workflow reads and writes.
type Store interface {
	ListAll(ctx context.Context) ([]history.Conversation, error)
	Batch(ctx context.Context, fn func(w history.Writer) error) error
}

// Credentials resolves the API key. Get returns keychain.ErrNotFound when no
// key is stored.
type Credentials interface {
	Get() (string, error)
	Delete() error
}

// BackendFactory builds a batch backend for an API key.
type BackendFactory func(apiKey string) (batch.Backend, error)

// Report summarizes a finished run, successful or not.
type Report struct {
	RunID     string
	State     string
	Estimate  Estimate
	Labels    []string
	JobID     string
	Submitted int
	Polls     int
	Skipped   int
	Assigned  int
}

// Orchestrator runs enrichment. At most one run is active at a time.
type Orchestrator struct {
	store      Store
	creds      Credentials
	newBackend BackendFactory
	sink       events.Sink
	cfg        config.EnrichConfig
	running    atomic.Bool
}

// New returns an Orchestrator. A nil sink discards events.
func New(store Store, creds Credentials, newBackend BackendFactory, sink events.Sink, cfg config.EnrichConfig) *Orchestrator {
	if sink == nil {
		sink = events.Discard
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 30 * time.Second
	}
	if cfg.MaxPolls <= 0 {
		cfg.MaxPolls = 2880
	}
	return &Orchestrator{
		store:      store,
		creds:      creds,
		newBackend: newBackend,
		sink:       sink,
		cfg:        cfg,
	}
}

// Estimate projects the cost of a run over the current store contents
// without contacting any backend. It emits no events; a following Run reports
// EstimatingTokens itself.
func (o *Orchestrator) Estimate(ctx context.Context) (Estimate, error) {
	convs, err := o.store.ListAll(ctx)
	if err != nil {
		return Estimate{}, err
	}
	return EstimateCost(convs, o.cfg), nil
}

// Run executes the whole workflow. Any step failure aborts the run: it is
// emitted as an error event and returned. Items the backend failed
// individually are left unenriched.
func (o *Orchestrator) Run(ctx context.Context) (Report, error) {
	if !o.running.CompareAndSwap(false, true) {
		return Report{}, ErrRunInProgress
	}
	defer o.running.Store(false)
	metrics.EnrichInFlight.Inc()
	defer metrics.EnrichInFlight.Dec()

	// FSM context data
	type fsmContext struct {
		backend       batch.Backend
		conversations []history.Conversation
		submittedAt   time.Time
		location      string
		enrichments   []history.Enrichment
		lastError     error
	}

	report := Report{RunID: uuid.NewString()}
	sink := events.WithRun(o.sink, report.RunID)
	log := logger.L.With("run_id", report.RunID)
	fsmCtx := &fsmContext{}

	fsm := stateless.NewStateMachineWithMode(StateIdle, stateless.FiringQueued)

	fail := func(ctx context.Context, err error) error {
		if batch.IsUnauthorized(err) {
			if derr := o.creds.Delete(); derr != nil {
				log.Warn("could not remove rejected API key", "error", derr)
			}
			err = &CredentialError{Invalid: true, Err: err}
		}
		fsmCtx.lastError = err
		return fsm.FireCtx(ctx, TriggerFail)
	}

	fsm.Configure(StateIdle).
		Permit(TriggerStart, StateEstimatingCost).
		Permit(TriggerFail, StateError)

	// State: EstimatingCost
	// Action: resolve the key, load the conversations and log the projection.
	fsm.Configure(StateEstimatingCost).
		OnEntry(func(ctx context.Context, args ...any) error {
			sink.Emit(events.EstimatingTokens())

			key, err := o.creds.Get()
			if err != nil {
				return fail(ctx, &CredentialError{Err: err})
			}
			be, err := o.newBackend(key)
			if err != nil {
				return fail(ctx, err)
			}
			fsmCtx.backend = be

			convs, err := o.store.ListAll(ctx)
			if err != nil {
				return fail(ctx, fmt.Errorf("loading conversations: %w", err))
			}
			if len(convs) == 0 {
				return fail(ctx, ErrNothingToEnrich)
			}
			fsmCtx.conversations = convs

			report.Estimate = EstimateCost(convs, o.cfg)
			log.Info("enrichment estimate",
				"backend", be.Name(),
				"conversations", report.Estimate.Conversations,
				"input_tokens", report.Estimate.InputTokens,
				"estimated_usd", report.Estimate.USD,
			)
			return fsm.FireCtx(ctx, TriggerEstimated)
		}).
		Permit(TriggerEstimated, StateDiscoveringVocabulary).
		Permit(TriggerFail, StateError)

	// State: DiscoveringVocabulary
	// Action: pass 1, one synchronous call over the sample.
	fsm.Configure(StateDiscoveringVocabulary).
		OnEntry(func(ctx context.Context, args ...any) error {
			sink.Emit(events.Pass1Started())

			sample := buildSample(fsmCtx.conversations, o.cfg.SampleSize, o.cfg.SnippetChars)
			out, err := fsmCtx.backend.Complete(ctx, Pass1System(), Pass1User(sample))
			if err != nil {
				return fail(ctx, fmt.Errorf("discovering vocabulary: %w", err))
			}
			labels, err := parseLabels(out)
			if err != nil {
				return fail(ctx, fmt.Errorf("parsing vocabulary: %w", err))
			}
			if len(labels) == 0 {
				return fail(ctx, ErrNoLabels)
			}
			report.Labels = labels
			log.Info("vocabulary discovered", "labels", labels)
			sink.Emit(events.Pass1Complete(labels))
			return fsm.FireCtx(ctx, TriggerVocabularyReady)
		}).
		Permit(TriggerVocabularyReady, StateSubmittingBatch).
		Permit(TriggerFail, StateError)

	// State: SubmittingBatch
	// Action: pass 2, one request per conversation keyed by its ID.
	fsm.Configure(StateSubmittingBatch).
		OnEntry(func(ctx context.Context, args ...any) error {
			system := Pass2System(report.Labels)
			reqs := make([]batch.Request, 0, len(fsmCtx.conversations))
			for _, c := range fsmCtx.conversations {
				reqs = append(reqs, batch.Request{
					CustomID: c.ID,
					System:   system,
					User:     Pass2User(c.FullText, o.cfg.MaxTextChars),
				})
			}

			jobID, err := fsmCtx.backend.Submit(ctx, reqs)
			if err != nil {
				return fail(ctx, fmt.Errorf("submitting batch: %w", err))
			}
			report.JobID = jobID
			report.Submitted = len(reqs)
			fsmCtx.submittedAt = time.Now()
			log.Info("batch submitted", "job_id", jobID, "requests", len(reqs))
			sink.Emit(events.BatchSubmitted(jobID))
			return fsm.FireCtx(ctx, TriggerSubmitted)
		}).
		Permit(TriggerSubmitted, StatePolling).
		Permit(TriggerFail, StateError)

	// State: Polling
	// Action: wait one interval, then query the job. Re-enters itself until the
	// job is terminal or the poll ceiling is reached.
	fsm.Configure(StatePolling).
		PermitReentry(TriggerPoll).
		OnEntry(func(ctx context.Context, args ...any) error {
			if err := sleepCtx(ctx, o.cfg.PollInterval); err != nil {
				return fail(ctx, err)
			}

			st, err := fsmCtx.backend.Poll(ctx, report.JobID)
			report.Polls++
			metrics.BatchPolls.Inc()
			if err != nil {
				return fail(ctx, fmt.Errorf("polling batch: %w", err))
			}
			elapsed := time.Since(fsmCtx.submittedAt)
			sink.Emit(events.Polling(elapsed))
			log.Debug("batch status", "job_id", report.JobID, "state", st.State, "poll", report.Polls)

			switch {
			case st.Done && st.Location == "":
				return fail(ctx, &BatchFailedError{Status: st.State})
			case st.Done:
				fsmCtx.location = st.Location
				return fsm.FireCtx(ctx, TriggerResultsReady)
			case report.Polls >= o.cfg.MaxPolls:
				return fail(ctx, &TimeoutError{Polls: report.Polls, Elapsed: elapsed})
			default:
				return fsm.FireCtx(ctx, TriggerPoll)
			}
		}).
		Permit(TriggerResultsReady, StateFetchingResults).
		Permit(TriggerFail, StateError)

	// State: FetchingResults
	fsm.Configure(StateFetchingResults).
		OnEntry(func(ctx context.Context, args ...any) error {
			rc, err := fsmCtx.backend.Fetch(ctx, fsmCtx.location)
			if err != nil {
				return fail(ctx, fmt.Errorf("fetching results: %w", err))
			}
			defer rc.Close()

			enrichments, skipped, err := ParseResults(rc, fsmCtx.backend, report.Labels)
			if err != nil {
				return fail(ctx, &batch.TransportError{Op: "fetch", Err: err})
			}
			fsmCtx.enrichments = enrichments
			report.Skipped = skipped
			log.Info("results fetched", "usable", len(enrichments), "skipped", skipped)
			return fsm.FireCtx(ctx, TriggerFetched)
		}).
		Permit(TriggerFetched, StateReconciling).
		Permit(TriggerFail, StateError)

	// State: Reconciling
	fsm.Configure(StateReconciling).
		OnEntry(func(ctx context.Context, args ...any) error {
			assigned, err := Reconcile(ctx, o.store, fsmCtx.enrichments)
			if err != nil {
				return fail(ctx, fmt.Errorf("applying results: %w", err))
			}
			report.Assigned = assigned
			return fsm.FireCtx(ctx, TriggerReconciled)
		}).
		Permit(TriggerReconciled, StateComplete).
		Permit(TriggerFail, StateError)

	fsm.Configure(StateComplete).
		OnEntry(func(ctx context.Context, args ...any) error {
			log.Info("enrichment complete", "assigned", report.Assigned, "submitted", report.Submitted)
			sink.Emit(events.EnrichDone(report.Assigned))
			return nil
		})

	fsm.Configure(StateError).
		OnEntry(func(ctx context.Context, args ...any) error {
			if fsmCtx.lastError == nil {
				fsmCtx.lastError = errors.New("enrichment reached the error state without a specific error")
			}
			log.Error("enrichment failed", "error", fsmCtx.lastError)
			sink.Emit(events.EnrichFailed(fsmCtx.lastError))
			return nil
		})

	if err := fsm.FireCtx(ctx, TriggerStart); err != nil {
		log.Error("FSM fire error", "error", err)
		if fsmCtx.lastError == nil {
			fsmCtx.lastError = fmt.Errorf("enrichment state machine: %w", err)
		}
	}

	state, err := fsm.State(ctx)
	if err != nil {
		return report, fmt.Errorf("FSM internal error: %w", err)
	}
	report.State = fmt.Sprint(state)

	if state == StateComplete {
		metrics.RecordEnrich("ok")
		return report, nil
	}
	metrics.RecordEnrich(outcome(fsmCtx.lastError))
	if fsmCtx.lastError != nil {
		return report, fsmCtx.lastError
	}
	return report, fmt.Errorf("enrichment ended in an unexpected state: %v", state)
}

func outcome(err error) string {
	var credErr *CredentialError
	var timeoutErr *TimeoutError
	switch {
	case errors.As(err, &credErr):
		return "credential"
	case errors.As(err, &timeoutErr):
		return "timeout"
	case errors.Is(err, ErrNoLabels):
		return "no_labels"
	default:
		return "error"
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// KeychainMissing reports whether err means no credential was stored.
func KeychainMissing(err error) bool {
	var credErr *CredentialError
	return errors.As(err, &credErr) && !credErr.Invalid && errors.Is(err, keychain.ErrNotFound)
}
