package section

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/semaphore"

	"groundline/internal/agent"
	"groundline/internal/config"
	"groundline/internal/doc"
	"groundline/internal/pipeline"
)

// Runner is the section pipeline contract the service drives. Satisfied
// by *pipeline.Pipeline; tests substitute fakes.
type Runner interface {
	Run(ctx context.Context, req pipeline.Request, report pipeline.ProgressFunc) (doc.Outcome, error)
}

// cancelCheckInterval is how often a running section re-reads its
// durable cancellation flag.
const cancelCheckInterval = 500 * time.Millisecond

// Service owns section runs: it gates concurrency process-wide,
// persists job state for reconnection, serializes progress events, and
// honors both durable and in-process cancellation.
type Service struct {
	runner  Runner
	state   StateStore
	gate    *semaphore.Weighted
	timeout time.Duration
	ttl     time.Duration

	mu    sync.Mutex
	tasks map[string]context.CancelFunc
}

// NewService builds the orchestrator.
func NewService(runner Runner, state StateStore, cfg config.JobsConfig) *Service {
	return &Service{
		runner:  runner,
		state:   state,
		gate:    semaphore.NewWeighted(int64(cfg.SectionConcurrency)),
		timeout: cfg.SectionTimeout,
		ttl:     cfg.StateTTL,
		tasks:   make(map[string]context.CancelFunc),
	}
}

// InitRequest initializes a section job.
type InitRequest struct {
	SectionID           string
	Tenant              string
	FileIDs             []string
	SectionName         string
	SectionDescription  string
	TemplateDescription string
	ProjectDescription  string
	OutputFormat        doc.OutputFormat
	Dependent           []pipeline.DependentResult
}

// Init persists the request as durable job state and returns the
// processing id the client needs to stream or abort the run.
func (s *Service) Init(ctx context.Context, req InitRequest) (string, error) {
	if req.SectionID == "" || req.Tenant == "" {
		return "", fmt.Errorf("%w: section id and tenant are required", doc.ErrValidation)
	}
	if len(req.FileIDs) == 0 {
		return "", fmt.Errorf("%w: at least one file id is required", doc.ErrValidation)
	}

	processingID := uuid.NewString()
	state := &JobState{
		SectionID:           req.SectionID,
		ProcessingID:        processingID,
		Tenant:              req.Tenant,
		FileIDs:             req.FileIDs,
		SectionName:         req.SectionName,
		SectionDescription:  req.SectionDescription,
		TemplateDescription: req.TemplateDescription,
		ProjectDescription:  req.ProjectDescription,
		OutputFormat:        req.OutputFormat,
		Dependent:           req.Dependent,
		Timestamp:           float64(time.Now().UnixNano()) / float64(time.Second),
	}
	if err := s.state.Set(ctx, JobKey(req.SectionID), state, s.ttl); err != nil {
		return "", err
	}
	log.Info().Str("section_id", req.SectionID).Str("processing_id", processingID).Msg("section_initialized")
	return processingID, nil
}

// Stream attaches to an initialized section and returns its event
// channel. A finished run is served immediately from durable state; an
// unstarted one begins processing. The channel closes after exactly one
// terminal event.
func (s *Service) Stream(ctx context.Context, sectionID, tenant string) (<-chan Event, error) {
	state, err := s.state.Get(ctx, JobKey(sectionID))
	if err != nil {
		return nil, err
	}
	if state == nil {
		return nil, fmt.Errorf("%w: section processing request not found", doc.ErrValidation)
	}
	if state.Tenant != tenant {
		return nil, fmt.Errorf("%w: section %s", doc.ErrAuth, sectionID)
	}

	events := make(chan Event, 64)
	go s.run(ctx, state, events)
	return events, nil
}

func (s *Service) run(ctx context.Context, state *JobState, events chan<- Event) {
	defer close(events)
	sectionID := state.SectionID

	emit := func(e Event) {
		if e.Terminal() {
			events <- e
			return
		}
		// Progress is droppable under backpressure; terminal events
		// never are.
		select {
		case events <- e:
		default:
			log.Debug().Str("section_id", sectionID).Str("stage", e.Stage).Msg("progress_dropped")
		}
	}

	// Reconnection: a finished run serves its stored result at once.
	if state.Status == StatusCompleted && state.Result != nil {
		e := newEvent(sectionID, StageComplete, 100, "Complete")
		e.Details = map[string]any{"result": state.Result}
		emit(e)
		return
	}
	if state.Cancelled {
		emit(newEvent(sectionID, StageCancelled, 0, "Cancelled"))
		return
	}

	if err := s.gate.Acquire(ctx, 1); err != nil {
		emit(newEvent(sectionID, StageCancelled, 0, "Cancelled"))
		return
	}
	defer s.gate.Release(1)

	runCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	s.mu.Lock()
	s.tasks[sectionID] = cancel
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.tasks, sectionID)
		s.mu.Unlock()
	}()

	// Watch the durable cancellation flag so an abort landing on
	// another process instance still stops this run.
	watchDone := make(chan struct{})
	go s.watchCancellation(runCtx, sectionID, cancel, watchDone)
	defer func() {
		cancel()
		<-watchDone
	}()

	errorEmitted := false
	report := func(stage string, progress int, message string) {
		if stage == StageError {
			errorEmitted = true
		}
		emit(newEvent(sectionID, stage, progress, message))
		s.persistProgress(sectionID, progress, message)
	}

	outcome, err := s.runner.Run(runCtx, pipeline.Request{
		SectionID: sectionID,
		FileIDs:   state.FileIDs,
		Meta: agent.SectionMeta{
			SectionName:         state.SectionName,
			SectionDescription:  state.SectionDescription,
			TemplateDescription: state.TemplateDescription,
			ProjectDescription:  state.ProjectDescription,
		},
		Format:    state.OutputFormat,
		Dependent: state.Dependent,
	}, report)

	switch {
	case err == nil:
		s.persistResult(sectionID, &outcome)
		e := newEvent(sectionID, StageComplete, 100, "Complete")
		e.Details = map[string]any{"result": &outcome}
		emit(e)

	case errors.Is(err, doc.ErrCancelled) || errors.Is(runCtx.Err(), context.Canceled):
		emit(newEvent(sectionID, StageCancelled, 0, "Cancelled"))

	case errors.Is(runCtx.Err(), context.DeadlineExceeded):
		if !errorEmitted {
			emit(newEvent(sectionID, StageError, -1, "Processing timeout - section processing took too long"))
		}

	default:
		if !errorEmitted {
			emit(newEvent(sectionID, StageError, -1, "Failed"))
		}
	}
}

// watchCancellation polls the durable flag and cancels the in-process
// run when an abort has been recorded.
func (s *Service) watchCancellation(ctx context.Context, sectionID string, cancel context.CancelFunc, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(cancelCheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			state, err := s.state.Get(ctx, JobKey(sectionID))
			if err != nil || state == nil {
				continue
			}
			if state.Cancelled {
				log.Info().Str("section_id", sectionID).Msg("durable_cancellation_detected")
				cancel()
				return
			}
		}
	}
}

func (s *Service) persistProgress(sectionID string, progress int, message string) {
	ctx, cancelWrite := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancelWrite()
	state, err := s.state.Get(ctx, JobKey(sectionID))
	if err != nil || state == nil {
		return
	}
	state.Progress = progress
	state.Message = message
	if err := s.state.Set(ctx, JobKey(sectionID), state, s.ttl); err != nil {
		log.Debug().Err(err).Str("section_id", sectionID).Msg("progress_persist_failed")
	}
}

func (s *Service) persistResult(sectionID string, outcome *doc.Outcome) {
	ctx, cancelWrite := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelWrite()
	state, err := s.state.Get(ctx, JobKey(sectionID))
	if err != nil || state == nil {
		return
	}
	state.Status = StatusCompleted
	state.Progress = 100
	state.Message = "Complete"
	state.Result = outcome
	if err := s.state.Set(ctx, JobKey(sectionID), state, s.ttl); err != nil {
		log.Error().Err(err).Str("section_id", sectionID).Msg("result_persist_failed")
	}
}

// StatusCompleted marks a finished job in durable state.
const StatusCompleted = "completed"

// AbortResult reports what an abort request did.
type AbortResult struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// Abort validates ownership and the processing id, then records the
// cancellation durably and cancels the in-process task when present.
// Idempotent: aborting twice is a no-op.
func (s *Service) Abort(ctx context.Context, sectionID, processingID, tenant string) (AbortResult, error) {
	state, err := s.state.Get(ctx, JobKey(sectionID))
	if err != nil {
		return AbortResult{}, err
	}
	if state == nil {
		return AbortResult{Success: false, Message: "Processing session no longer active"}, nil
	}
	if state.Tenant != tenant {
		log.Warn().Str("section_id", sectionID).Msg("abort_denied_tenant_mismatch")
		return AbortResult{}, fmt.Errorf("%w: section %s", doc.ErrAuth, sectionID)
	}
	if state.ProcessingID != processingID {
		return AbortResult{Success: false, Message: "Processing session no longer active"}, nil
	}

	state.Cancelled = true
	if err := s.state.Set(ctx, JobKey(sectionID), state, s.ttl); err != nil {
		return AbortResult{}, err
	}

	s.mu.Lock()
	cancel, running := s.tasks[sectionID]
	s.mu.Unlock()
	if running {
		cancel()
	}
	log.Info().Str("section_id", sectionID).Bool("in_process", running).Msg("section_aborted")
	return AbortResult{Success: true, Message: "Section processing aborted"}, nil
}
