package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/jmoiron/sqlx/types"
	"github.com/lib/pq"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/noah-isme/exam-scheduler-api/internal/dto"
	"github.com/noah-isme/exam-scheduler-api/internal/models"
	"github.com/noah-isme/exam-scheduler-api/internal/repository"
	"github.com/noah-isme/exam-scheduler-api/internal/scheduler"
	appErrors "github.com/noah-isme/exam-scheduler-api/pkg/errors"
	"github.com/noah-isme/exam-scheduler-api/pkg/jobs"
	"github.com/noah-isme/exam-scheduler-api/pkg/lock"
)

// RunBatchJobType tags queued batch runs.
const RunBatchJobType = "exam_schedule.run_batch"

// ReferenceProvider is the read-only academic catalog. It is queried at the start of every
// batch and never cached across batches.
type ReferenceProvider interface {
	ListExamSessions(ctx context.Context, semesterID string, scope models.ScheduleScope) ([]models.ExamSession, error)
	ListVenues(ctx context.Context, semesterID string) ([]models.Venue, error)
	ListSlots(ctx context.Context, semesterID string) ([]models.TimeSlot, error)
	ResolveSession(ctx context.Context, semesterID, unitID, lecturerID string, classIDs []string) (*models.ExamSession, []string, error)
}

type examAssignmentStore interface {
	ListActiveBySemester(ctx context.Context, semesterID string) ([]models.ExamAssignment, error)
	CreateBatch(ctx context.Context, exec sqlx.ExtContext, assignments []models.ExamAssignment) error
	Supersede(ctx context.Context, exec sqlx.ExtContext, id, replacementID string) error
	FindByID(ctx context.Context, id string) (*models.ExamAssignment, error)
	List(ctx context.Context, filter models.AssignmentFilter) ([]models.ExamAssignment, int, error)
}

type schedulingBatchStore interface {
	Create(ctx context.Context, exec sqlx.ExtContext, batch *models.SchedulingBatch) error
	MarkRunning(ctx context.Context, id string) error
	AbortInterrupted(ctx context.Context, reason string, at time.Time) (int64, error)
	Finish(ctx context.Context, exec sqlx.ExtContext, batch *models.SchedulingBatch) error
	FindByID(ctx context.Context, id string) (*models.SchedulingBatch, error)
	List(ctx context.Context, filter models.BatchFilter) ([]models.SchedulingBatch, int, error)
}

type failureRecorder interface {
	CreateBatch(ctx context.Context, exec sqlx.ExtContext, failures []models.SchedulingFailure) error
	FindByIDs(ctx context.Context, ids []string) ([]models.SchedulingFailure, error)
	UpdateStatus(ctx context.Context, exec sqlx.ExtContext, params repository.UpdateFailureStatusParams) error
	InsertEvent(ctx context.Context, exec sqlx.ExtContext, event *models.FailureEvent) error
}

type txProvider interface {
	BeginTxx(ctx context.Context, opts *sql.TxOptions) (*sqlx.Tx, error)
}

type batchQueue interface {
	Enqueue(job jobs.Job) error
}

// ExamBatchConfig governs orchestrator behaviour.
type ExamBatchConfig struct {
	Policy       scheduler.Policy
	LockTTL      time.Duration
	BatchTimeout time.Duration
}

// ExamBatchService drives scheduling batches: it snapshots reference data, runs the
// allocator over the session queue and persists the outcome in one transaction.
type ExamBatchService struct {
	refs        ReferenceProvider
	assignments examAssignmentStore
	batches     schedulingBatchStore
	failures    failureRecorder
	tx          txProvider
	locker      lock.Locker
	queue       batchQueue
	metrics     *MetricsService
	validator   *validator.Validate
	logger      *zap.Logger
	cfg         ExamBatchConfig
	now         func() time.Time

	mu      sync.Mutex
	running map[string]context.CancelFunc
}

// NewExamBatchService wires orchestrator dependencies.
func NewExamBatchService(
	refs ReferenceProvider,
	assignments examAssignmentStore,
	batches schedulingBatchStore,
	failures failureRecorder,
	tx txProvider,
	locker lock.Locker,
	metrics *MetricsService,
	validate *validator.Validate,
	logger *zap.Logger,
	cfg ExamBatchConfig,
) *ExamBatchService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Policy.DateOrder == "" || cfg.Policy.VenueSharing == "" {
		cfg.Policy = scheduler.DefaultPolicy()
	}
	if cfg.Policy.MaxVenuesPerSession < 1 {
		cfg.Policy.MaxVenuesPerSession = 1
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 15 * time.Minute
	}
	if cfg.BatchTimeout <= 0 {
		cfg.BatchTimeout = 10 * time.Minute
	}
	return &ExamBatchService{
		refs:        refs,
		assignments: assignments,
		batches:     batches,
		failures:    failures,
		tx:          tx,
		locker:      locker,
		metrics:     metrics,
		validator:   validate,
		logger:      logger,
		cfg:         cfg,
		now:         func() time.Time { return time.Now().UTC() },
		running:     make(map[string]context.CancelFunc),
	}
}

// SetQueue attaches the background queue used by Enqueue.
func (s *ExamBatchService) SetQueue(queue batchQueue) {
	s.queue = queue
}

// batchPlan is everything one batch needs, loaded before the allocation loop starts.
type batchPlan struct {
	policy   scheduler.Policy
	sessions []models.ExamSession
	rejected []scheduler.Outcome
	venues   []models.Venue
	slots    []models.TimeSlot
	active   []models.ExamAssignment
	origins  map[string][]models.SchedulingFailure
	replaces *models.ExamAssignment
	notes    *string
	actorID  string
}

// rekey moves the retried failures of a session to the key it is placed under after
// trimming.
func (p *batchPlan) rekey(from, to string) {
	originals, ok := p.origins[from]
	if !ok {
		return
	}
	delete(p.origins, from)
	p.origins[to] = append(p.origins[to], originals...)
}

type queuedRun struct {
	BatchID string
	Request dto.RunBatchRequest
}

// Run schedules every unplaced session of the scope synchronously.
func (s *ExamBatchService) Run(ctx context.Context, req dto.RunBatchRequest) (*dto.BatchResult, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid batch payload")
	}
	policy := s.policyFor(req.DateOrder)

	release, err := s.lockScope(ctx, req.SemesterID, req.ProgramID)
	if err != nil {
		return nil, err
	}
	defer release()

	batch := s.newBatch(models.SchedulingBatchKindRun, req.SemesterID, req.ProgramID, req.ActorID, policy)
	if err := s.batches.Create(ctx, nil, batch); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create batch")
	}
	return s.runScope(ctx, batch, req, policy)
}

func (s *ExamBatchService) runScope(ctx context.Context, batch *models.SchedulingBatch, req dto.RunBatchRequest, policy scheduler.Policy) (*dto.BatchResult, error) {
	venues, slots, err := s.loadCatalog(ctx, req.SemesterID)
	if err != nil {
		return nil, s.abort(ctx, batch, err)
	}
	sessions, err := s.refs.ListExamSessions(ctx, req.SemesterID, models.ScheduleScope{ProgramID: req.ProgramID, UnitIDs: req.UnitIDs})
	if err != nil {
		return nil, s.abort(ctx, batch, appErrors.Wrap(err, appErrors.ErrReferenceData.Code, appErrors.ErrReferenceData.Status, "failed to load exam sessions"))
	}
	active, err := s.assignments.ListActiveBySemester(ctx, req.SemesterID)
	if err != nil {
		return nil, s.abort(ctx, batch, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load timetable"))
	}
	return s.execute(ctx, batch, &batchPlan{
		policy:   policy,
		sessions: sessions,
		venues:   venues,
		slots:    slots,
		active:   active,
		actorID:  req.ActorID,
	})
}

// Enqueue records a QUEUED batch and hands it to the background queue.
func (s *ExamBatchService) Enqueue(ctx context.Context, req dto.RunBatchRequest) (*models.SchedulingBatch, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid batch payload")
	}
	if s.queue == nil {
		return nil, appErrors.Clone(appErrors.ErrInternal, "batch queue unavailable")
	}
	policy := s.policyFor(req.DateOrder)
	batch := s.newBatch(models.SchedulingBatchKindRun, req.SemesterID, req.ProgramID, req.ActorID, policy)
	batch.Status = models.SchedulingBatchStatusQueued
	if err := s.batches.Create(ctx, nil, batch); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create batch")
	}
	job := jobs.Job{ID: batch.ID, Type: RunBatchJobType, Payload: queuedRun{BatchID: batch.ID, Request: req}}
	if err := s.queue.Enqueue(job); err != nil {
		return nil, s.abort(ctx, batch, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to queue batch"))
	}
	s.logger.Info("batch_queued", zap.String("batch_id", batch.ID), zap.String("semester_id", batch.SemesterID))
	return batch, nil
}

// HandleJob runs a queued batch. Scope-lock contention is returned as a retryable error;
// everything else is permanent because the batch row already carries the outcome.
func (s *ExamBatchService) HandleJob(ctx context.Context, job jobs.Job) error {
	payload, ok := job.Payload.(queuedRun)
	if !ok {
		return jobs.Permanent(fmt.Errorf("unexpected payload %T for job %s", job.Payload, job.ID))
	}
	batch, err := s.batches.FindByID(ctx, payload.BatchID)
	if err != nil {
		return fmt.Errorf("load queued batch: %w", err)
	}
	if batch.Status != models.SchedulingBatchStatusQueued {
		s.logger.Info("queued batch skipped", zap.String("batch_id", batch.ID), zap.String("status", string(batch.Status)))
		return nil
	}
	policy := s.cfg.Policy
	if len(batch.Policy) > 0 {
		if err := json.Unmarshal(batch.Policy, &policy); err != nil {
			s.logger.Warn("queued batch policy unreadable, using defaults", zap.String("batch_id", batch.ID), zap.Error(err))
			policy = s.cfg.Policy
		}
	}

	release, err := s.lockScope(ctx, batch.SemesterID, batch.ProgramID)
	if err != nil {
		if appErrors.IsCode(err, appErrors.ErrScopeLocked.Code) {
			return err
		}
		return jobs.Permanent(err)
	}
	defer release()

	if err := s.batches.MarkRunning(ctx, batch.ID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		return fmt.Errorf("mark batch running: %w", err)
	}
	batch.Status = models.SchedulingBatchStatusRunning
	batch.StartedAt = s.now()

	if _, err := s.runScope(ctx, batch, payload.Request, policy); err != nil {
		return jobs.Permanent(err)
	}
	return nil
}

// GiveUp aborts a queued batch the queue could not run.
func (s *ExamBatchService) GiveUp(job jobs.Job, cause error) {
	payload, ok := job.Payload.(queuedRun)
	if !ok {
		return
	}
	ctx := context.Background()
	batch, err := s.batches.FindByID(ctx, payload.BatchID)
	if err != nil || batch.Status != models.SchedulingBatchStatusQueued {
		return
	}
	_ = s.abort(ctx, batch, cause)
}

// RecoverInterrupted aborts batches left QUEUED or RUNNING by a previous process. It must
// run before the queue starts, while no batch of this process is in flight.
func (s *ExamBatchService) RecoverInterrupted(ctx context.Context) (int64, error) {
	swept, err := s.batches.AbortInterrupted(ctx, "interrupted by service restart", s.now())
	if err != nil {
		return 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to abort interrupted batches")
	}
	if swept > 0 {
		s.logger.Warn("interrupted batches aborted", zap.Int64("count", swept))
	}
	return swept, nil
}

// Cancel stops an in-flight batch between sessions, or cancels a batch still queued.
func (s *ExamBatchService) Cancel(ctx context.Context, batchID, actorID string) (*models.SchedulingBatch, error) {
	s.mu.Lock()
	cancel, inFlight := s.running[batchID]
	s.mu.Unlock()

	batch, err := s.batches.FindByID(ctx, batchID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "batch not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load batch")
	}
	if inFlight {
		cancel()
		s.logger.Info("batch cancellation requested", zap.String("batch_id", batchID), zap.String("actor_id", actorID))
		return batch, nil
	}

	switch {
	case batch.Status == models.SchedulingBatchStatusQueued:
		batch.Status = models.SchedulingBatchStatusCancelled
		msg := fmt.Sprintf("cancelled by %s before start", actorID)
		batch.Error = &msg
		if err := s.batches.Finish(ctx, nil, batch); err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to cancel batch")
		}
		s.logger.Info("queued batch cancelled", zap.String("batch_id", batchID), zap.String("actor_id", actorID))
		return batch, nil
	case batch.Status.Terminal():
		return nil, appErrors.Clone(appErrors.ErrBatchNotCancelable, "batch already finished")
	default:
		return nil, appErrors.Clone(appErrors.ErrBatchNotCancelable, "")
	}
}

// Retry re-derives the sessions of pending failures from current reference data and runs
// them as a new batch. Originals are stamped retried; repeat failures supersede them.
func (s *ExamBatchService) Retry(ctx context.Context, req dto.RetryFailuresRequest) (*dto.BatchResult, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid retry payload")
	}
	found, err := s.failures.FindByIDs(ctx, req.FailureIDs)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load failures")
	}
	if len(found) != len(req.FailureIDs) {
		ids := make([]string, 0, len(found))
		for _, f := range found {
			ids = append(ids, f.ID)
		}
		missing := scheduler.MissingIDs(ids, req.FailureIDs)
		return nil, appErrors.Clone(appErrors.ErrNotFound, fmt.Sprintf("failures not found: %s", strings.Join(missing, ", ")))
	}

	semesterID := found[0].SemesterID
	originals := make([]models.SchedulingFailure, 0, len(found))
	for _, f := range found {
		if f.SemesterID != semesterID {
			return nil, appErrors.Clone(appErrors.ErrValidation, "failures must belong to one semester")
		}
		_, changed, err := models.NextStatus(f.Status, models.TriageActionRetry)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInvalidTransition.Code, appErrors.ErrInvalidTransition.Status, err.Error())
		}
		if changed {
			originals = append(originals, f)
		}
	}
	if len(originals) == 0 {
		return nil, appErrors.Clone(appErrors.ErrConflict, "failures were already retried")
	}

	programID := sharedProgram(originals)
	release, err := s.lockScope(ctx, semesterID, programID)
	if err != nil {
		return nil, err
	}
	defer release()

	policy := s.cfg.Policy
	batch := s.newBatch(models.SchedulingBatchKindRetry, semesterID, programID, req.ActorID, policy)
	if err := s.batches.Create(ctx, nil, batch); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create batch")
	}

	venues, slots, err := s.loadCatalog(ctx, semesterID)
	if err != nil {
		return nil, s.abort(ctx, batch, err)
	}
	active, err := s.assignments.ListActiveBySemester(ctx, semesterID)
	if err != nil {
		return nil, s.abort(ctx, batch, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load timetable"))
	}

	plan := &batchPlan{
		policy:  policy,
		venues:  venues,
		slots:   slots,
		active:  active,
		origins: make(map[string][]models.SchedulingFailure),
		notes:   req.Notes,
		actorID: req.ActorID,
	}
	for _, original := range originals {
		outcome, err := s.resolve(ctx, original)
		if err != nil {
			return nil, s.abort(ctx, batch, err)
		}
		key := outcome.Session.Key()
		if _, seen := plan.origins[key]; !seen {
			if outcome.Failure != nil {
				plan.rejected = append(plan.rejected, outcome)
			} else {
				plan.sessions = append(plan.sessions, outcome.Session)
			}
		}
		plan.origins[key] = append(plan.origins[key], original)
	}
	return s.execute(ctx, batch, plan)
}

// resolve re-derives the session of a failure. Consistency violations come back as an
// INVALID_REFERENCE outcome rather than an error.
func (s *ExamBatchService) resolve(ctx context.Context, f models.SchedulingFailure) (scheduler.Outcome, error) {
	session, missing, err := s.refs.ResolveSession(ctx, f.SemesterID, f.UnitID, f.LecturerID, []string(f.ClassIDs))
	if err != nil {
		return scheduler.Outcome{}, appErrors.Wrap(err, appErrors.ErrReferenceData.Code, appErrors.ErrReferenceData.Status, "failed to resolve exam session")
	}
	switch {
	case len(missing) > 0:
		return scheduler.Outcome{
			Session: shellSession(f),
			Failure: scheduler.ReferenceFailure(fmt.Sprintf("classes %s no longer exist", strings.Join(missing, ", ")), missing, ""),
		}, nil
	case session == nil:
		return scheduler.Outcome{
			Session: shellSession(f),
			Failure: scheduler.ReferenceFailure(fmt.Sprintf("unit %s is no longer offered to these classes", f.UnitID), nil, f.UnitID),
		}, nil
	}
	return scheduler.Outcome{Session: *session}, nil
}

// Reschedule re-places one active assignment. The old row is superseded only when the new
// placement commits; otherwise it stays active and a failure is recorded.
func (s *ExamBatchService) Reschedule(ctx context.Context, req dto.RescheduleRequest) (*dto.BatchResult, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid reschedule payload")
	}
	current, err := s.assignments.FindByID(ctx, req.AssignmentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "assignment not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load assignment")
	}
	if !current.Active() {
		return nil, appErrors.Clone(appErrors.ErrConflict, "assignment has already been superseded")
	}

	release, err := s.lockScope(ctx, current.SemesterID, current.ProgramID)
	if err != nil {
		return nil, err
	}
	defer release()

	policy := s.cfg.Policy
	batch := s.newBatch(models.SchedulingBatchKindReschedule, current.SemesterID, current.ProgramID, req.ActorID, policy)
	if err := s.batches.Create(ctx, nil, batch); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create batch")
	}

	venues, slots, err := s.loadCatalog(ctx, current.SemesterID)
	if err != nil {
		return nil, s.abort(ctx, batch, err)
	}
	if req.ExcludeCurrentSlot {
		slots = withoutSlot(slots, current.Slot())
	}
	active, err := s.assignments.ListActiveBySemester(ctx, current.SemesterID)
	if err != nil {
		return nil, s.abort(ctx, batch, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load timetable"))
	}
	others := make([]models.ExamAssignment, 0, len(active))
	for _, a := range active {
		if a.ID != current.ID {
			others = append(others, a)
		}
	}

	outcome, err := s.resolve(ctx, models.SchedulingFailure{
		SemesterID: current.SemesterID,
		ProgramID:  current.ProgramID,
		SessionKey: current.SessionKey,
		UnitID:     current.UnitID,
		LecturerID: current.LecturerID,
		ClassIDs:   current.ClassIDs,
		Snapshot:   current.Snapshot,
	})
	if err != nil {
		return nil, s.abort(ctx, batch, err)
	}
	plan := &batchPlan{
		policy:   policy,
		venues:   venues,
		slots:    slots,
		active:   others,
		replaces: current,
		notes:    req.Notes,
		actorID:  req.ActorID,
	}
	if outcome.Failure != nil {
		plan.rejected = []scheduler.Outcome{outcome}
	} else {
		plan.sessions = []models.ExamSession{outcome.Session}
	}
	return s.execute(ctx, batch, plan)
}

// RunParallel schedules several program scopes concurrently. It refuses to fan out unless
// the scopes provably share no student, lecturer or venue.
func (s *ExamBatchService) RunParallel(ctx context.Context, req dto.ParallelRunRequest) (*dto.ParallelRunResult, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid parallel batch payload")
	}
	policy := s.policyFor(req.DateOrder)

	release, err := s.lockScope(ctx, req.SemesterID, nil)
	if err != nil {
		return nil, err
	}
	defer release()

	venues, slots, err := s.loadCatalog(ctx, req.SemesterID)
	if err != nil {
		s.logger.Error("batch_aborted", zap.String("semester_id", req.SemesterID), zap.Bool("parallel", true), zap.Error(err))
		return nil, err
	}
	active, err := s.assignments.ListActiveBySemester(ctx, req.SemesterID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load timetable")
	}

	programIDs := append([]string(nil), req.ProgramIDs...)
	sort.Strings(programIDs)
	scopes := make([]scheduler.ScopeInput, 0, len(programIDs))
	for _, programID := range programIDs {
		owned, shared := scheduler.VenuesOwnedBy(venues, programID)
		if len(shared) > 0 {
			return nil, appErrors.Clone(appErrors.ErrScopesOverlap, fmt.Sprintf("venue %s is shared by every program", shared[0].ID))
		}
		pid := programID
		sessions, err := s.refs.ListExamSessions(ctx, req.SemesterID, models.ScheduleScope{ProgramID: &pid})
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrReferenceData.Code, appErrors.ErrReferenceData.Status, "failed to load exam sessions")
		}
		scopes = append(scopes, scheduler.ScopeInput{Key: programID, Sessions: sessions, Venues: owned})
	}
	if err := scheduler.CheckDisjoint(scopes); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrScopesOverlap.Code, appErrors.ErrScopesOverlap.Status, err.Error())
	}

	// Every scope is validated before any batch row exists.
	for _, scope := range scopes {
		if len(scope.Venues) == 0 {
			return nil, appErrors.Clone(appErrors.ErrReferenceData, fmt.Sprintf("program %s owns no venues", scope.Key))
		}
	}

	batches := make([]*models.SchedulingBatch, len(scopes))
	plans := make([]*batchPlan, len(scopes))
	for i, scope := range scopes {
		pid := scope.Key
		batch := s.newBatch(models.SchedulingBatchKindRun, req.SemesterID, &pid, req.ActorID, policy)
		if err := s.batches.Create(ctx, nil, batch); err != nil {
			appErr := appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create batch")
			for _, created := range batches[:i] {
				_ = s.abort(ctx, created, appErrors.Clone(appErrors.ErrInternal, fmt.Sprintf("sibling batch for program %s could not be created", pid)))
			}
			return nil, appErr
		}
		batches[i] = batch
		plans[i] = &batchPlan{
			policy:   policy,
			sessions: scope.Sessions,
			venues:   scope.Venues,
			slots:    slots,
			active:   active,
			actorID:  req.ActorID,
		}
	}

	results := make([]dto.BatchResult, len(scopes))
	g, gctx := errgroup.WithContext(ctx)
	for i := range plans {
		i := i
		g.Go(func() error {
			res, err := s.execute(gctx, batches[i], plans[i])
			if err != nil {
				return err
			}
			results[i] = *res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return &dto.ParallelRunResult{Batches: results}, nil
}

// execute is the batch loop: seed the index, allocate sequentially with a cancellation
// check per session, then persist everything in one transaction.
func (s *ExamBatchService) execute(ctx context.Context, batch *models.SchedulingBatch, plan *batchPlan) (*dto.BatchResult, error) {
	started := s.now()
	runCtx, cancel := context.WithTimeout(ctx, s.cfg.BatchTimeout)
	defer cancel()
	s.track(batch.ID, cancel)
	defer s.untrack(batch.ID)

	index := scheduler.NewConflictIndex(plan.policy.VenueSharing)
	for _, a := range plan.active {
		if err := index.Seed(a); err != nil {
			return nil, s.abort(ctx, batch, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load existing timetable"))
		}
	}

	// Idempotency is per (unit, class): a class placed under a program-scoped session
	// shape is not placed again when a wider run groups it with other classes.
	coverage := scheduler.NewCoverage(plan.active)
	skipped := make(map[string]struct{})
	queue := make([]models.ExamSession, 0, len(plan.sessions))
	for _, session := range plan.sessions {
		trimmed, ok := coverage.Trim(session)
		if !ok {
			skipped[session.Key()] = struct{}{}
			continue
		}
		if key := trimmed.Key(); key != session.Key() {
			plan.rekey(session.Key(), key)
			s.logger.Info("session trimmed to unscheduled classes",
				zap.String("batch_id", batch.ID),
				zap.String("session_key", session.Key()),
				zap.String("placed_as", key))
		}
		queue = append(queue, trimmed)
	}
	scheduler.OrderQueue(queue)
	allocator := scheduler.NewAllocator(index, plan.slots, plan.venues, plan.policy)

	outcomes := make([]scheduler.Outcome, 0, len(plan.rejected)+len(queue))
	outcomes = append(outcomes, plan.rejected...)
	attempted := 0
	for _, session := range queue {
		if runCtx.Err() != nil {
			break
		}
		outcomes = append(outcomes, allocator.Place(session))
		attempted++
	}

	batch.Requested = len(plan.sessions) + len(plan.rejected)
	batch.Skipped = len(skipped)
	batch.Status = models.SchedulingBatchStatusCompleted
	cancelled := attempted < len(queue)
	if cancelled {
		batch.Status = models.SchedulingBatchStatusCancelled
		msg := fmt.Sprintf("stopped after %d of %d sessions: %v", attempted, len(queue), runCtx.Err())
		batch.Error = &msg
	}

	result, err := s.materialize(batch, outcomes)
	if err != nil {
		return nil, s.abort(ctx, batch, err)
	}
	batch.Placed = len(result.Assignments)
	batch.Failed = len(result.Failures)
	finished := s.now()
	batch.FinishedAt = &finished

	persistCtx := context.WithoutCancel(ctx)
	persistStarted := time.Now()
	if err := s.persist(persistCtx, batch, plan, result, skipped); err != nil {
		return nil, s.abort(persistCtx, batch, err)
	}
	s.metrics.ObservePersist(batch.Kind, time.Since(persistStarted))
	s.metrics.ObserveBatch(*batch, result.Failures, finished.Sub(started))

	fields := []zap.Field{
		zap.String("batch_id", batch.ID),
		zap.String("semester_id", batch.SemesterID),
		zap.String("kind", string(batch.Kind)),
		zap.String("status", string(batch.Status)),
		zap.Int("requested", batch.Requested),
		zap.Int("placed", batch.Placed),
		zap.Int("failed", batch.Failed),
		zap.Int("skipped", batch.Skipped),
		zap.Duration("duration", finished.Sub(started)),
	}
	if batch.ProgramID != nil {
		fields = append(fields, zap.String("program_id", *batch.ProgramID))
	}
	if batch.Failed > 0 || cancelled {
		s.logger.Warn("batch_completed", fields...)
	} else {
		s.logger.Info("batch_completed", fields...)
	}

	result.Batch = *batch
	return result, nil
}

// materialize turns allocator outcomes into timetable and failure rows with ids assigned.
func (s *ExamBatchService) materialize(batch *models.SchedulingBatch, outcomes []scheduler.Outcome) (*dto.BatchResult, error) {
	result := &dto.BatchResult{
		Assignments: make([]models.ExamAssignment, 0, len(outcomes)),
		Failures:    make([]models.SchedulingFailure, 0),
	}
	for _, outcome := range outcomes {
		session := outcome.Session
		programID := session.ProgramID
		if programID == nil {
			programID = batch.ProgramID
		}
		snapshot, err := marshalJSON(session.Snapshot)
		if err != nil {
			return nil, err
		}

		if outcome.Placed() {
			cells, err := marshalJSON(outcome.Placement.Cells)
			if err != nil {
				return nil, err
			}
			slot := outcome.Placement.Slot
			result.Assignments = append(result.Assignments, models.ExamAssignment{
				ID:           uuid.NewString(),
				SemesterID:   batch.SemesterID,
				ProgramID:    programID,
				BatchID:      batch.ID,
				SessionKey:   session.Key(),
				UnitID:       session.UnitID,
				ClassIDs:     pq.StringArray(session.ClassIDs),
				LecturerID:   session.LecturerID,
				StudentIDs:   pq.StringArray(session.StudentIDs),
				StudentCount: session.StudentCount(),
				ExamDate:     slot.Date,
				SlotNumber:   slot.SlotNumber,
				StartTime:    slot.StartTime,
				EndTime:      slot.EndTime,
				Cells:        cells,
				Snapshot:     snapshot,
				CreatedAt:    s.now(),
			})
			continue
		}

		failure := outcome.Failure
		if err := failure.Details.Validate(); err != nil {
			s.logger.Error("conflict details malformed", zap.String("session_key", session.Key()), zap.Error(err))
		}
		details, err := marshalJSON(failure.Details)
		if err != nil {
			return nil, err
		}
		row := models.SchedulingFailure{
			ID:            uuid.NewString(),
			BatchID:       batch.ID,
			SemesterID:    batch.SemesterID,
			ProgramID:     programID,
			SchoolID:      session.SchoolID,
			SessionKey:    session.Key(),
			UnitID:        session.UnitID,
			LecturerID:    session.LecturerID,
			ClassIDs:      pq.StringArray(session.ClassIDs),
			Snapshot:      snapshot,
			StudentCount:  session.StudentCount(),
			Reason:        failure.Reason,
			FailureReason: failure.Message,
			Details:       details,
			Status:        models.FailureStatusPending,
			CreatedAt:     s.now(),
		}
		if attempt := failure.Attempt; attempt != nil {
			date := attempt.Slot.Date
			number := attempt.Slot.SlotNumber
			start, end := attempt.Slot.StartTime, attempt.Slot.EndTime
			row.AttemptedDate = &date
			row.AttemptedSlotNumber = &number
			row.AttemptedStartTime = &start
			row.AttemptedEndTime = &end
			if attempt.VenueID != "" {
				venue := attempt.VenueID
				row.AttemptedVenueID = &venue
			}
		}
		result.Failures = append(result.Failures, row)
	}
	return result, nil
}

func (s *ExamBatchService) persist(ctx context.Context, batch *models.SchedulingBatch, plan *batchPlan, result *dto.BatchResult, skipped map[string]struct{}) (err error) {
	if s.tx == nil {
		return appErrors.Clone(appErrors.ErrInternal, "transaction provider missing")
	}
	tx, err := s.tx.BeginTxx(ctx, nil)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to begin transaction")
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	// The replaced entry leaves the active set before its successor is inserted.
	if plan.replaces != nil && len(result.Assignments) > 0 {
		if err = s.assignments.Supersede(ctx, tx, plan.replaces.ID, result.Assignments[0].ID); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				err = appErrors.Clone(appErrors.ErrConflict, "assignment was superseded concurrently")
				return err
			}
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to supersede assignment")
		}
	}
	if err = s.assignments.CreateBatch(ctx, tx, result.Assignments); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to persist assignments")
	}
	if err = s.failures.CreateBatch(ctx, tx, result.Failures); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to persist failures")
	}
	if err = s.stampOrigins(ctx, tx, batch, plan, result, skipped); err != nil {
		return err
	}
	if err = s.batches.Finish(ctx, tx, batch); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to finish batch")
	}
	if err = tx.Commit(); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to commit batch")
	}
	return nil
}

// stampOrigins marks the failures a retry batch was started from. Sessions the batch did
// not reach before cancellation leave their originals pending.
func (s *ExamBatchService) stampOrigins(ctx context.Context, exec sqlx.ExtContext, batch *models.SchedulingBatch, plan *batchPlan, result *dto.BatchResult, skipped map[string]struct{}) error {
	if len(plan.origins) == 0 {
		return nil
	}
	placedBy := make(map[string]string, len(result.Assignments))
	for _, a := range result.Assignments {
		placedBy[a.SessionKey] = a.ID
	}
	failedAs := make(map[string]string, len(result.Failures))
	for _, f := range result.Failures {
		failedAs[f.SessionKey] = f.ID
	}

	keys := make([]string, 0, len(plan.origins))
	for key := range plan.origins {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	now := s.now()
	for _, key := range keys {
		var (
			note         string
			supersededBy *string
		)
		if id, ok := placedBy[key]; ok {
			note = fmt.Sprintf("placed by batch %s as assignment %s", batch.ID, id)
		} else if id, ok := failedAs[key]; ok {
			failureID := id
			supersededBy = &failureID
			note = fmt.Sprintf("failed again in batch %s", batch.ID)
		} else if _, ok := skipped[key]; ok {
			note = "session was already scheduled"
		} else {
			continue
		}
		if plan.notes != nil && *plan.notes != "" {
			note = *plan.notes + "; " + note
		}

		for _, original := range plan.origins[key] {
			notes := note
			err := s.failures.UpdateStatus(ctx, exec, repository.UpdateFailureStatusParams{
				ID:           original.ID,
				From:         models.FailureStatusPending,
				To:           models.FailureStatusRetried,
				ActorID:      plan.actorID,
				Notes:        &notes,
				SupersededBy: supersededBy,
				At:           now,
			})
			if errors.Is(err, sql.ErrNoRows) {
				s.logger.Warn("retried failure changed concurrently", zap.String("failure_id", original.ID), zap.String("batch_id", batch.ID))
				continue
			}
			if err != nil {
				return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to stamp retried failure")
			}
			if err := s.failures.InsertEvent(ctx, exec, &models.FailureEvent{
				FailureID:  original.ID,
				Action:     models.TriageActionRetry,
				FromStatus: models.FailureStatusPending,
				ToStatus:   models.FailureStatusRetried,
				ActorID:    plan.actorID,
				Notes:      &notes,
				CreatedAt:  now,
			}); err != nil {
				return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to record retry event")
			}
		}
	}
	return nil
}

// abort finishes the batch as ABORTED with nothing persisted and logs it apart from
// completed batches.
func (s *ExamBatchService) abort(ctx context.Context, batch *models.SchedulingBatch, cause error) error {
	appErr := appErrors.FromError(cause)
	batch.Status = models.SchedulingBatchStatusAborted
	batch.Placed, batch.Failed = 0, 0
	msg := appErr.Error()
	batch.Error = &msg
	finished := s.now()
	batch.FinishedAt = &finished

	if err := s.batches.Finish(context.WithoutCancel(ctx), nil, batch); err != nil {
		s.logger.Warn("failed to record aborted batch", zap.String("batch_id", batch.ID), zap.Error(err))
	}
	s.logger.Error("batch_aborted",
		zap.String("batch_id", batch.ID),
		zap.String("semester_id", batch.SemesterID),
		zap.String("kind", string(batch.Kind)),
		zap.String("code", appErr.Code),
		zap.Error(cause),
	)
	s.metrics.ObserveBatch(*batch, nil, finished.Sub(batch.StartedAt))
	return appErr
}

func (s *ExamBatchService) loadCatalog(ctx context.Context, semesterID string) ([]models.Venue, []models.TimeSlot, error) {
	venues, err := s.refs.ListVenues(ctx, semesterID)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrReferenceData.Code, appErrors.ErrReferenceData.Status, "failed to load venue catalog")
	}
	if len(venues) == 0 {
		return nil, nil, appErrors.Clone(appErrors.ErrReferenceData, "venue catalog is empty")
	}
	slots, err := s.refs.ListSlots(ctx, semesterID)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrReferenceData.Code, appErrors.ErrReferenceData.Status, "failed to load exam slots")
	}
	if len(slots) == 0 {
		return nil, nil, appErrors.Clone(appErrors.ErrReferenceData, "exam slot calendar is empty")
	}
	return venues, slots, nil
}

// lockScope serialises batches per semester. Venues are a semester-wide pool, so two
// programs of one semester cannot safely run at the same time.
func (s *ExamBatchService) lockScope(ctx context.Context, semesterID string, programID *string) (func(), error) {
	if s.locker == nil {
		return func() {}, nil
	}
	release, err := s.locker.Acquire(ctx, scopeLockKey(semesterID), s.cfg.LockTTL)
	if err != nil {
		if errors.Is(err, lock.ErrLocked) {
			s.metrics.RecordScopeLocked()
			fields := []zap.Field{zap.String("semester_id", semesterID)}
			if programID != nil {
				fields = append(fields, zap.String("program_id", *programID))
			}
			s.logger.Warn("scope locked", fields...)
			return nil, appErrors.Clone(appErrors.ErrScopeLocked, fmt.Sprintf("semester %s is being scheduled by another batch", semesterID))
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to acquire scope lock")
	}
	return func() {
		if err := release(context.WithoutCancel(ctx)); err != nil {
			s.logger.Warn("failed to release scope lock", zap.String("semester_id", semesterID), zap.Error(err))
		}
	}, nil
}

func scopeLockKey(semesterID string) string {
	return "exam-schedule:" + semesterID
}

func (s *ExamBatchService) policyFor(dateOrder string) scheduler.Policy {
	policy := s.cfg.Policy
	if dateOrder != "" {
		policy.DateOrder = scheduler.DateOrder(dateOrder)
	}
	return policy
}

func (s *ExamBatchService) newBatch(kind models.SchedulingBatchKind, semesterID string, programID *string, actorID string, policy scheduler.Policy) *models.SchedulingBatch {
	encoded, err := json.Marshal(policy)
	if err != nil {
		encoded = []byte(`{}`)
	}
	return &models.SchedulingBatch{
		ID:         uuid.NewString(),
		SemesterID: semesterID,
		ProgramID:  programID,
		Kind:       kind,
		Status:     models.SchedulingBatchStatusRunning,
		Policy:     types.JSONText(encoded),
		StartedBy:  actorID,
		StartedAt:  s.now(),
	}
}

func (s *ExamBatchService) track(batchID string, cancel context.CancelFunc) {
	s.mu.Lock()
	s.running[batchID] = cancel
	s.mu.Unlock()
}

func (s *ExamBatchService) untrack(batchID string) {
	s.mu.Lock()
	delete(s.running, batchID)
	s.mu.Unlock()
}

// GetBatch loads a batch header.
func (s *ExamBatchService) GetBatch(ctx context.Context, id string) (*models.SchedulingBatch, error) {
	batch, err := s.batches.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "batch not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load batch")
	}
	return batch, nil
}

// ListBatches returns batches newest first.
func (s *ExamBatchService) ListBatches(ctx context.Context, query dto.BatchListQuery) ([]models.SchedulingBatch, *models.Pagination, error) {
	if err := s.validator.Struct(query); err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid batch filter")
	}
	batches, total, err := s.batches.List(ctx, models.BatchFilter{
		SemesterID: query.SemesterID,
		ProgramID:  query.ProgramID,
		Status:     models.SchedulingBatchStatus(query.Status),
		Page:       query.Page,
		PageSize:   query.PageSize,
	})
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list batches")
	}
	return batches, models.NewPagination(query.Page, query.PageSize, total), nil
}

// ListAssignments returns the timetable, active entries only unless asked otherwise.
func (s *ExamBatchService) ListAssignments(ctx context.Context, query dto.AssignmentListQuery) ([]models.ExamAssignment, *models.Pagination, error) {
	if err := s.validator.Struct(query); err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid assignment filter")
	}
	assignments, total, err := s.assignments.List(ctx, models.AssignmentFilter{
		SemesterID:        query.SemesterID,
		ProgramID:         query.ProgramID,
		BatchID:           query.BatchID,
		UnitID:            query.UnitID,
		IncludeSuperseded: query.IncludeSuperseded,
		Page:              query.Page,
		PageSize:          query.PageSize,
	})
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list assignments")
	}
	return assignments, models.NewPagination(query.Page, query.PageSize, total), nil
}

func marshalJSON(v interface{}) (types.JSONText, error) {
	encoded, err := json.Marshal(v)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to encode payload")
	}
	return types.JSONText(encoded), nil
}

func shellSession(f models.SchedulingFailure) models.ExamSession {
	snapshot, _ := f.SessionSnapshot()
	return models.ExamSession{
		UnitID:     f.UnitID,
		ClassIDs:   []string(f.ClassIDs),
		ProgramID:  f.ProgramID,
		SchoolID:   f.SchoolID,
		LecturerID: f.LecturerID,
		Snapshot:   snapshot,
	}
}

func sharedProgram(failures []models.SchedulingFailure) *string {
	var program *string
	for i, f := range failures {
		if f.ProgramID == nil {
			return nil
		}
		if i == 0 {
			program = f.ProgramID
			continue
		}
		if *program != *f.ProgramID {
			return nil
		}
	}
	return program
}

func withoutSlot(slots []models.TimeSlot, exclude models.TimeSlot) []models.TimeSlot {
	out := make([]models.TimeSlot, 0, len(slots))
	for _, slot := range slots {
		if slot.DateKey() == exclude.DateKey() && slot.SlotNumber == exclude.SlotNumber {
			continue
		}
		out = append(out, slot)
	}
	return out
}
