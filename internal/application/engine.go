package application

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/atvirokodosprendimai/pcbuilder/internal/domain"
	"github.com/atvirokodosprendimai/pcbuilder/internal/metrics"
	"go.uber.org/zap"
)

// MatchBrandSocket is the motherboard match mode used by the builder.
const MatchBrandSocket = "brand+socket"

const (
	defaultVerifyFailure = "verification failed"
	submittedNotice      = "Submitted for approval"
	defaultTimeout       = 10 * time.Second
)

// VerifyState tracks the verdict for the current core selection.
type VerifyState string

const (
	VerifyUnknown  VerifyState = "unknown"
	VerifyPending  VerifyState = "verifying"
	VerifyPassed   VerifyState = "verified"
	VerifyRejected VerifyState = "incompatible"
)

// SessionState is the wizard state derived from selection, verdict and draft.
type SessionState string

const (
	StateEmpty            SessionState = "empty"
	StateSelectingCore    SessionState = "selecting_core"
	StateCoreUnverified   SessionState = "core_complete.unverified"
	StateCoreVerifying    SessionState = "core_complete.verifying"
	StateCoreVerified     SessionState = "core_complete.verified"
	StateCoreIncompatible SessionState = "core_complete.incompatible"
	StateDraftSaved       SessionState = "draft_saved"
	StateSubmitted        SessionState = "submitted"
)

// CandidateList is the set of parts currently selectable for a category.
type CandidateList struct {
	Category domain.Category `json:"category"`
	Parts    []domain.Part   `json:"parts"`
	Loading  bool            `json:"loading"`
	Error    string          `json:"error,omitempty"`
}

// Snapshot is a consistent copy of an engine's state.
type Snapshot struct {
	Selection   domain.SelectionSet `json:"selection"`
	Totals      domain.Totals       `json:"totals"`
	Verdict     domain.Verdict      `json:"verdict"`
	VerifyState VerifyState         `json:"verifyState"`
	State       SessionState        `json:"state"`
	Step        string              `json:"step"`
	Draft       *domain.DraftBuild  `json:"draft,omitempty"`
	Pending     int                 `json:"pending"`
}

// VerdictEvent is emitted whenever a verdict is applied to the session.
type VerdictEvent struct {
	SelectionHash    string
	Verdict          domain.Verdict
	TransportFailure bool
}

type EngineOption func(*Engine)

// WithLogger sets the engine logger. A nil logger keeps the no-op default.
func WithLogger(logger *zap.Logger) EngineOption {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

func WithRecorder(recorder *metrics.Recorder) EngineOption {
	return func(e *Engine) { e.recorder = recorder }
}

// WithRequestTimeout bounds every catalog call. Zero disables the bound.
func WithRequestTimeout(timeout time.Duration) EngineOption {
	return func(e *Engine) { e.timeout = timeout }
}

// WithVerdictHook registers a callback fired once per applied verdict,
// after the engine lock is released. Discarded stale verdicts do not fire it.
func WithVerdictHook(hook func(VerdictEvent)) EngineOption {
	return func(e *Engine) { e.onVerdict = hook }
}

type candidateState struct {
	parts   []domain.Part
	seq     uint64
	loading bool
	err     error
	cancel  context.CancelFunc
}

// Engine owns one build in progress. Every read and write of the selection
// goes through its methods; catalog calls run in the background and only the
// response to the latest request for a category (or verdict) is applied.
type Engine struct {
	catalog   domain.Catalog
	logger    *zap.Logger
	recorder  *metrics.Recorder
	timeout   time.Duration
	onVerdict func(VerdictEvent)

	ctx    context.Context
	cancel context.CancelFunc

	mu           sync.Mutex
	selection    domain.SelectionSet
	totals       domain.Totals
	lists        map[domain.Category]*candidateState
	seq          uint64
	verdict      domain.Verdict
	verifyState  VerifyState
	verifySeq    uint64
	verifyHash   string
	verifyCancel context.CancelFunc
	draft        *domain.DraftBuild
	pending      int
	idle         chan struct{}
}

// NewEngine returns an engine with an empty selection. Nothing is fetched
// until Preload or a selection is made.
func NewEngine(catalog domain.Catalog, opts ...EngineOption) *Engine {
	ctx, cancel := context.WithCancel(context.Background())
	idle := make(chan struct{})
	close(idle)

	e := &Engine{
		catalog:     catalog,
		logger:      zap.NewNop(),
		timeout:     defaultTimeout,
		ctx:         ctx,
		cancel:      cancel,
		selection:   domain.NewSelectionSet(),
		lists:       make(map[domain.Category]*candidateState, len(domain.Categories)),
		verifyState: VerifyUnknown,
		idle:        idle,
	}
	for _, c := range domain.Categories {
		e.lists[c] = &candidateState{}
	}
	for _, opt := range opts {
		opt(e)
	}
	e.totals = domain.ComputeTotals(e.selection)
	return e
}

// Preload fetches every list that does not depend on other selections.
func (e *Engine) Preload() {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, c := range domain.Categories {
		if c.Independent() {
			e.refreshLocked(c)
		}
	}
}

// SelectBrand sets the CPU brand and clears the CPU chain (cpu, motherboard,
// ram, case). Choosing the current brand again is a no-op.
func (e *Engine) SelectBrand(brand string) {
	brand = strings.TrimSpace(brand)

	e.mu.Lock()
	defer e.mu.Unlock()
	if brand == e.selection.Brand {
		return
	}

	e.selection.Brand = brand
	downstream := domain.BrandDownstream()
	for _, c := range downstream {
		delete(e.selection.Parts, c)
	}
	for _, c := range downstream {
		e.refreshLocked(c)
	}
	e.afterMutationLocked(true)
}

// SelectPart sets or, with a nil part, clears the selection for a category.
// The part must be in the category's current candidate list.
func (e *Engine) SelectPart(category domain.Category, part *domain.Part) error {
	if !category.Valid() {
		return fmt.Errorf("%w: %q", domain.ErrUnknownCategory, category)
	}
	if category == domain.CategoryFan {
		if part == nil {
			e.ClearFans()
			return nil
		}
		return e.AddFan(*part)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	current, had := e.selection.Parts[category]
	if part == nil {
		if !had {
			return nil
		}
		delete(e.selection.Parts, category)
	} else {
		chosen, ok := e.candidateLocked(category, part.ProductID)
		if !ok {
			return fmt.Errorf("%w: %s %q is not a current candidate", domain.ErrInvalidSelection, category, part.ProductID)
		}
		if had && current.ProductID == chosen.ProductID {
			return nil
		}
		e.selection.Parts[category] = chosen
	}

	downstream := domain.Downstream(category)
	for _, c := range downstream {
		delete(e.selection.Parts, c)
	}
	for _, c := range downstream {
		e.refreshLocked(c)
	}
	e.afterMutationLocked(category.IsCore() || len(downstream) > 0)
	return nil
}

// SelectPartByID selects the candidate with the given product id. An empty
// id clears the selection.
func (e *Engine) SelectPartByID(category domain.Category, productID string) error {
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return e.SelectPart(category, nil)
	}
	return e.SelectPart(category, &domain.Part{ProductID: productID})
}

// AddFan adds a fan from the current fan candidates. Fans are a set keyed by
// product id, so adding one twice is a no-op.
func (e *Engine) AddFan(part domain.Part) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	chosen, ok := e.candidateLocked(domain.CategoryFan, part.ProductID)
	if !ok {
		return fmt.Errorf("%w: fan %q is not a current candidate", domain.ErrInvalidSelection, part.ProductID)
	}
	for _, f := range e.selection.Fans {
		if f.ProductID == chosen.ProductID {
			return nil
		}
	}
	e.selection.Fans = append(e.selection.Fans, chosen)
	e.afterMutationLocked(false)
	return nil
}

func (e *Engine) AddFanByID(productID string) error {
	return e.AddFan(domain.Part{ProductID: strings.TrimSpace(productID)})
}

// RemoveFan drops the fan with productID, if selected.
func (e *Engine) RemoveFan(productID string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	for i, f := range e.selection.Fans {
		if f.ProductID == productID {
			e.selection.Fans = append(e.selection.Fans[:i:i], e.selection.Fans[i+1:]...)
			e.afterMutationLocked(false)
			return
		}
	}
}

func (e *Engine) ClearFans() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.selection.Fans) == 0 {
		return
	}
	e.selection.Fans = nil
	e.afterMutationLocked(false)
}

// Refresh refetches a category's candidate list with the current upstream
// selections.
func (e *Engine) Refresh(category domain.Category) error {
	if !category.Valid() {
		return fmt.Errorf("%w: %q", domain.ErrUnknownCategory, category)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.refreshLocked(category)
	return nil
}

// Candidates returns the category's candidate list, optionally narrowed by a
// case-insensitive match on brand, model or product id.
func (e *Engine) Candidates(category domain.Category, query string) (CandidateList, error) {
	if !category.Valid() {
		return CandidateList{}, fmt.Errorf("%w: %q", domain.ErrUnknownCategory, category)
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	cl := e.lists[category]
	out := CandidateList{Category: category, Loading: cl.loading, Parts: make([]domain.Part, 0, len(cl.parts))}
	if cl.err != nil {
		out.Error = cl.err.Error()
	}
	needle := strings.ToLower(strings.TrimSpace(query))
	for _, p := range cl.parts {
		if needle != "" {
			hay := strings.ToLower(strings.Join([]string{p.Brand, p.Model, p.ProductID}, " "))
			if !strings.Contains(hay, needle) {
				continue
			}
		}
		out.Parts = append(out.Parts, p)
	}
	return out, nil
}

func (e *Engine) Snapshot() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()

	snap := Snapshot{
		Selection:   e.selection.Clone(),
		Totals:      e.totals,
		Verdict:     domain.Verdict{OK: e.verdict.OK, Errors: append([]string(nil), e.verdict.Errors...)},
		VerifyState: e.verifyState,
		State:       e.stateLocked(),
		Step:        e.stepLocked(),
		Pending:     e.pending,
	}
	if e.draft != nil {
		d := *e.draft
		snap.Draft = &d
	}
	return snap
}

func (e *Engine) Totals() domain.Totals {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.totals
}

func (e *Engine) Verdict() (domain.Verdict, VerifyState) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return domain.Verdict{OK: e.verdict.OK, Errors: append([]string(nil), e.verdict.Errors...)}, e.verifyState
}

func (e *Engine) State() SessionState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stateLocked()
}

// SaveDraft persists the current selection as a draft build. It requires a
// passing verdict computed for the current core selection.
func (e *Engine) SaveDraft(ctx context.Context) (domain.DraftBuild, error) {
	e.mu.Lock()
	hash := e.selection.CoreHash()
	if e.verifyState != VerifyPassed || !e.verdict.OK || hash == "" || hash != e.verifyHash {
		state := e.verifyState
		e.mu.Unlock()
		return domain.DraftBuild{}, fmt.Errorf("%w: verdict is %s", domain.ErrNotVerified, state)
	}
	req := domain.NewDraftRequest(e.selection)
	totals := e.totals
	verifySeq := e.verifySeq
	e.mu.Unlock()

	createCtx, cancel := e.callContext(ctx)
	buildID, err := e.catalog.CreateDraft(createCtx, req)
	cancel()
	e.recorder.RecordDraft("save", err)
	if err != nil {
		e.logger.Warn("draft save failed", zap.Error(err))
		return domain.DraftBuild{}, err
	}

	draft := domain.DraftBuild{BuildID: buildID, Totals: totals, SavedAt: time.Now().UTC()}
	fetchCtx, cancelFetch := e.callContext(ctx)
	snapshot, err := e.catalog.GetBuild(fetchCtx, buildID)
	cancelFetch()
	if err != nil {
		e.logger.Warn("draft snapshot refresh failed", zap.String("build_id", buildID), zap.Error(err))
	} else {
		draft.Snapshot = &snapshot
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.verifySeq != verifySeq {
		e.logger.Warn("core selection changed while saving draft", zap.String("build_id", buildID))
		return draft, nil
	}
	d := draft
	e.draft = &d
	e.logger.Info("draft saved", zap.String("build_id", buildID), zap.String("total", totals.Total.String()))
	return draft, nil
}

// SubmitForReview submits the draft saved in this session. An empty build id
// means the current draft.
func (e *Engine) SubmitForReview(ctx context.Context, buildID string) (string, error) {
	buildID = strings.TrimSpace(buildID)

	e.mu.Lock()
	if e.draft == nil {
		e.mu.Unlock()
		return "", domain.ErrNoDraft
	}
	if buildID == "" {
		buildID = e.draft.BuildID
	}
	if buildID != e.draft.BuildID {
		e.mu.Unlock()
		return "", fmt.Errorf("%w: build %q was not saved in this session", domain.ErrNoDraft, buildID)
	}
	e.mu.Unlock()

	callCtx, cancel := e.callContext(ctx)
	defer cancel()

	message, err := e.catalog.SubmitDraft(callCtx, buildID)
	e.recorder.RecordDraft("submit", err)
	if err != nil {
		e.logger.Warn("draft submit failed", zap.String("build_id", buildID), zap.Error(err))
		return "", err
	}
	if strings.TrimSpace(message) == "" {
		message = submittedNotice
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.draft != nil && e.draft.BuildID == buildID {
		e.draft.Submitted = true
		e.draft.Message = message
	}
	return message, nil
}

func (e *Engine) FetchBuild(ctx context.Context, buildID string) (domain.BuildSnapshot, error) {
	if strings.TrimSpace(buildID) == "" {
		return domain.BuildSnapshot{}, errors.New("build id is required")
	}
	callCtx, cancel := e.callContext(ctx)
	defer cancel()
	return e.catalog.GetBuild(callCtx, buildID)
}

// Wait blocks until no catalog request is in flight.
func (e *Engine) Wait(ctx context.Context) error {
	for {
		e.mu.Lock()
		if e.pending == 0 {
			e.mu.Unlock()
			return nil
		}
		idle := e.idle
		e.mu.Unlock()

		select {
		case <-idle:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Close cancels every in-flight request. Late responses are discarded.
func (e *Engine) Close() {
	e.cancel()
}

func (e *Engine) candidateLocked(category domain.Category, productID string) (domain.Part, bool) {
	cl := e.lists[category]
	if cl.loading {
		return domain.Part{}, false
	}
	for _, p := range cl.parts {
		if p.ProductID == productID {
			return p, true
		}
	}
	return domain.Part{}, false
}

func (e *Engine) afterMutationLocked(coreChanged bool) {
	e.totals = domain.ComputeTotals(e.selection)
	if !coreChanged {
		return
	}

	if e.verifyCancel != nil {
		e.verifyCancel()
		e.verifyCancel = nil
	}
	e.verifySeq++
	e.verdict = domain.Verdict{}
	e.verifyState = VerifyUnknown
	e.verifyHash = ""
	e.draft = nil

	if e.selection.CoreComplete() {
		e.startVerifyLocked()
	}
}

func (e *Engine) startVerifyLocked() {
	hash := e.selection.CoreHash()
	seq := e.verifySeq
	req := domain.NewVerifyRequest(e.selection)
	ctx, cancel := e.requestContext()

	e.verifyState = VerifyPending
	e.verifyHash = hash
	e.verifyCancel = cancel
	e.trackLocked()

	go func() {
		defer e.done()
		defer cancel()
		verdict, err := e.catalog.VerifyBuild(ctx, req)
		e.applyVerdict(seq, hash, verdict, err)
	}()
}

func (e *Engine) applyVerdict(seq uint64, hash string, verdict domain.Verdict, err error) {
	e.mu.Lock()
	if seq != e.verifySeq || hash != e.selection.CoreHash() || e.ctx.Err() != nil {
		e.mu.Unlock()
		e.recorder.RecordStale("verdict")
		e.logger.Debug("discarding stale verdict", zap.Uint64("seq", seq))
		return
	}

	transport := err != nil
	if transport {
		verdict = failedVerdict(err)
		e.logger.Warn("verification transport failure", zap.Error(err))
	} else {
		e.logger.Info("verification completed", zap.Bool("ok", verdict.OK), zap.Strings("errors", verdict.Errors))
	}

	e.verdict = verdict
	e.verifyCancel = nil
	if verdict.OK {
		e.verifyState = VerifyPassed
	} else {
		e.verifyState = VerifyRejected
	}
	hook := e.onVerdict
	e.mu.Unlock()

	e.recorder.RecordVerdict(verdict.OK, transport)
	if hook != nil {
		hook(VerdictEvent{SelectionHash: hash, Verdict: verdict, TransportFailure: transport})
	}
}

func failedVerdict(err error) domain.Verdict {
	var upstream *domain.UpstreamError
	if errors.As(err, &upstream) {
		if msgs := upstream.Messages(); len(msgs) > 0 {
			return domain.Verdict{OK: false, Errors: msgs}
		}
	}
	return domain.Verdict{OK: false, Errors: []string{defaultVerifyFailure}}
}

func (e *Engine) refreshLocked(category domain.Category) {
	cl := e.lists[category]
	if cl.cancel != nil {
		cl.cancel()
		cl.cancel = nil
	}
	e.seq++
	cl.seq = e.seq
	cl.parts = nil
	cl.err = nil
	cl.loading = false

	fetch, ok := e.fetcherLocked(category)
	if !ok {
		return
	}

	seq := cl.seq
	ctx, cancel := e.requestContext()
	cl.loading = true
	cl.cancel = cancel
	e.trackLocked()

	go func() {
		defer e.done()
		defer cancel()
		parts, err := fetch(ctx)
		e.applyCandidates(category, seq, parts, err)
	}()
}

type fetchFunc func(ctx context.Context) ([]domain.Part, error)

// fetcherLocked binds the category's fetch to the current upstream values.
// It reports false when a required upstream is missing.
func (e *Engine) fetcherLocked(category domain.Category) (fetchFunc, bool) {
	switch category {
	case domain.CategoryCPU:
		brand := e.selection.Brand
		if brand == "" {
			return nil, false
		}
		return func(ctx context.Context) ([]domain.Part, error) {
			return e.catalog.ListParts(ctx, domain.CategoryCPU, brand)
		}, true
	case domain.CategoryMotherboard:
		cpu, ok := e.selection.Parts[domain.CategoryCPU]
		if !ok {
			return nil, false
		}
		return func(ctx context.Context) ([]domain.Part, error) {
			return e.catalog.CompatibleMotherboards(ctx, cpu.ProductID, MatchBrandSocket)
		}, true
	case domain.CategoryRAM:
		mb, ok := e.selection.Parts[domain.CategoryMotherboard]
		if !ok {
			return nil, false
		}
		return func(ctx context.Context) ([]domain.Part, error) {
			return e.catalog.CompatibleRAM(ctx, mb.ProductID)
		}, true
	case domain.CategoryCase:
		mb, ok := e.selection.Parts[domain.CategoryMotherboard]
		if !ok {
			return nil, false
		}
		gpuLength := e.selection.Parts[domain.CategoryGPU].LengthMM
		return func(ctx context.Context) ([]domain.Part, error) {
			return e.catalog.CompatibleCases(ctx, mb.ProductID, gpuLength)
		}, true
	default:
		return func(ctx context.Context) ([]domain.Part, error) {
			return e.catalog.ListParts(ctx, category, "")
		}, true
	}
}

func (e *Engine) applyCandidates(category domain.Category, seq uint64, parts []domain.Part, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	cl := e.lists[category]
	if cl.seq != seq {
		e.recorder.RecordStale("candidates")
		e.logger.Debug("discarding stale candidate list", zap.String("category", string(category)), zap.Uint64("seq", seq))
		return
	}

	cl.loading = false
	cl.cancel = nil
	if err != nil {
		cl.parts = nil
		cl.err = fmt.Errorf("%w: %s: %v", domain.ErrCatalogFetchFailed, category, err)
		e.recorder.RecordFetchFailure(string(category))
		e.logger.Warn("candidate fetch failed", zap.String("category", string(category)), zap.Error(err))
		return
	}

	out := make([]domain.Part, 0, len(parts))
	for _, p := range parts {
		if p.Category == "" {
			p.Category = category
		}
		out = append(out, p)
	}
	cl.parts = out
}

func (e *Engine) stateLocked() SessionState {
	if e.draft != nil {
		if e.draft.Submitted {
			return StateSubmitted
		}
		return StateDraftSaved
	}
	if e.selection.CoreComplete() {
		switch e.verifyState {
		case VerifyPending:
			return StateCoreVerifying
		case VerifyPassed:
			return StateCoreVerified
		case VerifyRejected:
			return StateCoreIncompatible
		default:
			return StateCoreUnverified
		}
	}
	if e.selection.Brand == "" && len(e.selection.Parts) == 0 && len(e.selection.Fans) == 0 {
		return StateEmpty
	}
	return StateSelectingCore
}

// stepLocked names the first wizard step still waiting for input.
func (e *Engine) stepLocked() string {
	if e.selection.Brand == "" {
		return "brand"
	}
	for _, c := range domain.CoreCategories {
		if !e.selection.Has(c) {
			return string(c)
		}
	}
	if !e.selection.Has(domain.CategorySSD) && !e.selection.Has(domain.CategoryHDD) && !e.selection.Has(domain.CategoryPSU) {
		return "storage"
	}
	return "summary"
}

func (e *Engine) requestContext() (context.Context, context.CancelFunc) {
	if e.timeout > 0 {
		return context.WithTimeout(e.ctx, e.timeout)
	}
	return context.WithCancel(e.ctx)
}

func (e *Engine) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if e.timeout > 0 {
		return context.WithTimeout(ctx, e.timeout)
	}
	return context.WithCancel(ctx)
}

func (e *Engine) trackLocked() {
	if e.pending == 0 {
		e.idle = make(chan struct{})
	}
	e.pending++
}

func (e *Engine) done() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.pending--
	if e.pending == 0 {
		close(e.idle)
	}
}
