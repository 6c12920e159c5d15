package application

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/atvirokodosprendimai/pcbuilder/internal/domain"
	"github.com/atvirokodosprendimai/pcbuilder/internal/metrics"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// SessionView is a session id with its current engine snapshot.
type SessionView struct {
	ID string `json:"id"`
	Snapshot
}

type ServiceOption func(*BuilderService)

func WithServiceLogger(logger *zap.Logger) ServiceOption {
	return func(s *BuilderService) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func WithServiceRecorder(recorder *metrics.Recorder) ServiceOption {
	return func(s *BuilderService) { s.recorder = recorder }
}

func WithCatalogTimeout(timeout time.Duration) ServiceOption {
	return func(s *BuilderService) {
		if timeout > 0 {
			s.timeout = timeout
		}
	}
}

// BuilderService hosts one Engine per build session and records verdicts and
// drafts in the repository.
type BuilderService struct {
	catalog  domain.Catalog
	repo     domain.BuildRepository
	logger   *zap.Logger
	recorder *metrics.Recorder
	timeout  time.Duration

	mu       sync.RWMutex
	sessions map[string]*Engine

	// persistMu serializes snapshot and write pairs.
	persistMu sync.Mutex
}

func NewBuilderService(catalog domain.Catalog, repo domain.BuildRepository, opts ...ServiceOption) *BuilderService {
	s := &BuilderService{
		catalog:  catalog,
		repo:     repo,
		logger:   zap.NewNop(),
		timeout:  defaultTimeout,
		sessions: make(map[string]*Engine),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *BuilderService) CreateSession(ctx context.Context) (SessionView, error) {
	id := uuid.NewString()
	if _, err := s.repo.CreateSession(ctx, domain.BuildSession{ID: id, State: string(StateEmpty)}); err != nil {
		return SessionView{}, err
	}

	logger := s.logger.With(zap.String("session_id", id))
	engine := NewEngine(s.catalog,
		WithLogger(logger),
		WithRecorder(s.recorder),
		WithRequestTimeout(s.timeout),
		WithVerdictHook(func(ev VerdictEvent) { s.recordVerdict(id, ev) }),
	)
	engine.Preload()

	s.mu.Lock()
	s.sessions[id] = engine
	s.mu.Unlock()

	s.recorder.SessionOpened()
	logger.Info("session created")
	return s.view(id, engine), nil
}

func (s *BuilderService) ListSessions(ctx context.Context, limit int) ([]domain.BuildSession, error) {
	return s.repo.ListSessions(ctx, clampLimit(limit))
}

// OpenSessionIDs returns the ids of sessions hosted by this process.
func (s *BuilderService) OpenSessionIDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.sessions))
	for id := range s.sessions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Show returns the session snapshot. With wait set it first blocks until
// every in-flight catalog request of the session has settled.
func (s *BuilderService) Show(ctx context.Context, id string, wait bool) (SessionView, error) {
	engine, err := s.engine(id)
	if err != nil {
		return SessionView{}, err
	}
	if wait {
		if err := engine.Wait(ctx); err != nil {
			return SessionView{}, err
		}
	}
	return s.view(id, engine), nil
}

func (s *BuilderService) SelectBrand(ctx context.Context, id, brand string) (SessionView, error) {
	engine, err := s.engine(id)
	if err != nil {
		return SessionView{}, err
	}
	if strings.TrimSpace(brand) == "" {
		return SessionView{}, fmt.Errorf("%w: brand is required", domain.ErrInvalidSelection)
	}
	engine.SelectBrand(brand)
	return s.persist(ctx, id, engine), nil
}

func (s *BuilderService) SelectPart(ctx context.Context, id string, category domain.Category, productID string) (SessionView, error) {
	engine, err := s.engine(id)
	if err != nil {
		return SessionView{}, err
	}
	if err := engine.SelectPartByID(category, productID); err != nil {
		return SessionView{}, err
	}
	return s.persist(ctx, id, engine), nil
}

func (s *BuilderService) AddFan(ctx context.Context, id, productID string) (SessionView, error) {
	engine, err := s.engine(id)
	if err != nil {
		return SessionView{}, err
	}
	if err := engine.AddFanByID(productID); err != nil {
		return SessionView{}, err
	}
	return s.persist(ctx, id, engine), nil
}

func (s *BuilderService) RemoveFan(ctx context.Context, id, productID string) (SessionView, error) {
	engine, err := s.engine(id)
	if err != nil {
		return SessionView{}, err
	}
	engine.RemoveFan(productID)
	return s.persist(ctx, id, engine), nil
}

// Refresh refetches the given categories, or every category when none is given.
func (s *BuilderService) Refresh(ctx context.Context, id string, categories ...domain.Category) (SessionView, error) {
	engine, err := s.engine(id)
	if err != nil {
		return SessionView{}, err
	}
	if len(categories) == 0 {
		categories = domain.Categories
	}
	for _, c := range categories {
		if err := engine.Refresh(c); err != nil {
			return SessionView{}, err
		}
	}
	return s.view(id, engine), nil
}

func (s *BuilderService) Candidates(ctx context.Context, id string, category domain.Category, query string, wait bool) (CandidateList, error) {
	engine, err := s.engine(id)
	if err != nil {
		return CandidateList{}, err
	}
	if wait {
		if err := engine.Wait(ctx); err != nil {
			return CandidateList{}, err
		}
	}
	return engine.Candidates(category, query)
}

func (s *BuilderService) SaveDraft(ctx context.Context, id string) (domain.DraftBuild, error) {
	engine, err := s.engine(id)
	if err != nil {
		return domain.DraftBuild{}, err
	}
	draft, err := engine.SaveDraft(ctx)
	if err != nil {
		return domain.DraftBuild{}, err
	}

	record := domain.DraftRecord{
		SessionID: id,
		BuildID:   draft.BuildID,
		Subtotal:  draft.Totals.Subtotal,
		Total:     draft.Totals.Total,
		Status:    "draft",
	}
	if draft.Snapshot != nil {
		if raw, err := json.Marshal(draft.Snapshot); err == nil {
			record.Snapshot = string(raw)
		}
	}
	if _, err := s.repo.CreateDraftRecord(ctx, record); err != nil {
		s.logger.Error("record draft", zap.String("session_id", id), zap.String("build_id", draft.BuildID), zap.Error(err))
	}
	s.persist(ctx, id, engine)
	return draft, nil
}

func (s *BuilderService) Submit(ctx context.Context, id, buildID string) (string, error) {
	engine, err := s.engine(id)
	if err != nil {
		return "", err
	}
	message, err := engine.SubmitForReview(ctx, buildID)
	if err != nil {
		return "", err
	}

	if buildID == "" {
		if snap := engine.Snapshot(); snap.Draft != nil {
			buildID = snap.Draft.BuildID
		}
	}
	if _, err := s.repo.MarkDraftSubmitted(ctx, buildID, message); err != nil {
		s.logger.Warn("mark draft submitted", zap.String("session_id", id), zap.String("build_id", buildID), zap.Error(err))
	}
	s.persist(ctx, id, engine)
	return message, nil
}

// FetchBuild reads a persisted build directly from the catalog service.
func (s *BuilderService) FetchBuild(ctx context.Context, buildID string) (domain.BuildSnapshot, error) {
	buildID = strings.TrimSpace(buildID)
	if buildID == "" {
		return domain.BuildSnapshot{}, errors.New("build id is required")
	}
	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return s.catalog.GetBuild(callCtx, buildID)
}

func (s *BuilderService) History(ctx context.Context, id string, limit int) (domain.SessionHistory, error) {
	session, err := s.repo.GetSession(ctx, id)
	if err != nil {
		return domain.SessionHistory{}, err
	}
	limit = clampLimit(limit)
	runs, err := s.repo.ListVerificationRuns(ctx, id, limit)
	if err != nil {
		return domain.SessionHistory{}, err
	}
	drafts, err := s.repo.ListDraftRecords(ctx, id, limit)
	if err != nil {
		return domain.SessionHistory{}, err
	}
	return domain.SessionHistory{Session: session, Verifications: runs, Drafts: drafts}, nil
}

func (s *BuilderService) CloseSession(ctx context.Context, id string) error {
	s.mu.Lock()
	engine, ok := s.sessions[id]
	delete(s.sessions, id)
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrSessionNotFound, id)
	}

	engine.Close()
	s.recorder.SessionClosed()
	s.logger.Info("session closed", zap.String("session_id", id))
	return nil
}

// Close cancels every open session.
func (s *BuilderService) Close() {
	s.mu.Lock()
	engines := s.sessions
	s.sessions = make(map[string]*Engine)
	s.mu.Unlock()

	for _, engine := range engines {
		engine.Close()
		s.recorder.SessionClosed()
	}
}

func (s *BuilderService) engine(id string) (*Engine, error) {
	s.mu.RLock()
	engine, ok := s.sessions[strings.TrimSpace(id)]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrSessionNotFound, id)
	}
	return engine, nil
}

func (s *BuilderService) view(id string, engine *Engine) SessionView {
	return SessionView{ID: id, Snapshot: engine.Snapshot()}
}

func (s *BuilderService) persist(ctx context.Context, id string, engine *Engine) SessionView {
	s.persistMu.Lock()
	defer s.persistMu.Unlock()

	view := s.view(id, engine)
	if err := s.repo.UpdateSession(ctx, id, view.Selection.Brand, string(view.State)); err != nil {
		s.logger.Warn("persist session state", zap.String("session_id", id), zap.Error(err))
	}
	return view
}

func (s *BuilderService) recordVerdict(id string, ev VerdictEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	if _, err := s.repo.CreateVerificationRun(ctx, domain.VerificationRun{
		SessionID:     id,
		SelectionHash: ev.SelectionHash,
		OK:            ev.Verdict.OK,
		Errors:        ev.Verdict.Errors,
	}); err != nil {
		s.logger.Warn("record verification run", zap.String("session_id", id), zap.Error(err))
	}

	s.mu.RLock()
	engine, ok := s.sessions[id]
	s.mu.RUnlock()
	if ok {
		s.persist(ctx, id, engine)
	}
}

func clampLimit(limit int) int {
	if limit <= 0 {
		limit = 50
	}
	if limit > 500 {
		limit = 500
	}
	return limit
}
