package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

// Static errors for session operations.
var (
	// ErrInvalidTransition is returned when an operation is not valid for
	// the session's current stage.
	ErrInvalidTransition = errors.New("pipeline: invalid stage transition")
	// ErrIncompleteDraft is returned by Confirm when the draft does not
	// satisfy the completeness predicate for the current stage.
	ErrIncompleteDraft = errors.New("pipeline: draft is incomplete")
	// ErrSelectionRequired is returned when confirming the scripting stage
	// without an explicit candidate selection.
	ErrSelectionRequired = errors.New("pipeline: script selection required")
	// ErrInvalidSelection is returned when a script candidate index is out
	// of range.
	ErrInvalidSelection = errors.New("pipeline: script selection out of range")
	// ErrGenerationFailed wraps errors from the external generation
	// collaborator. Generation failure never blocks manual entry.
	ErrGenerationFailed = errors.New("pipeline: generation failed")
	// ErrNotGenerative is returned when Generate is called on a stage
	// whose draft is not produced by the generation collaborator.
	ErrNotGenerative = errors.New("pipeline: stage has no generated draft")
	// ErrMalformedPatch is returned when a draft patch does not match the
	// stage's value shape.
	ErrMalformedPatch = errors.New("pipeline: patch does not match draft shape")
)

// validate holds the completeness predicates declared on the draft types.
var validate = validator.New()

// StageGenerator is the port to the external generation collaborator.
// It receives the accumulated artifacts as context and returns the draft
// candidate for the requested stage.
type StageGenerator interface {
	GenerateStage(ctx context.Context, stage Stage, artifacts Artifacts) (*Draft, error)
}

// Session is the state machine for one content-generation run. It is owned
// by a single logical caller; the orchestrator is responsible for not
// handing it to two concurrent callers.
type Session struct {
	mu sync.Mutex

	id           string
	stage        Stage
	artifacts    Artifacts
	draft        *Draft
	renderTaskID string
	failReason   string
	createdAt    time.Time
	updatedAt    time.Time
}

// Snapshot is an immutable copy of a session's state for display.
type Snapshot struct {
	// ID is the session identifier.
	ID string
	// Stage is the current pipeline stage.
	Stage Stage
	// Artifacts are the confirmed outputs of completed stages.
	Artifacts Artifacts
	// Draft is the editable candidate for the current stage; nil once the
	// session is terminal.
	Draft *Draft
	// RenderTaskID links to the tracked render job, set from RENDERING on.
	RenderTaskID string
	// FailReason describes why the session failed, if it did.
	FailReason string
	// CreatedAt is when the session started.
	CreatedAt time.Time
	// UpdatedAt is when the session last changed.
	UpdatedAt time.Time
}

// NewSession creates a session at the upload stage. The uploaded media is
// the initial draft; confirming it opens the first generative stage.
func NewSession(upload Upload) *Session {
	now := time.Now()
	return &Session{
		id:        uuid.NewString(),
		stage:     StageUploaded,
		draft:     &Draft{Upload: &upload},
		createdAt: now,
		updatedAt: now,
	}
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// Stage returns the current stage.
func (s *Session) Stage() Stage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stage
}

// RenderTaskID returns the tracked render job ID, empty before RENDERING.
func (s *Session) RenderTaskID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.renderTaskID
}

// Snapshot returns a deep copy of the session state for safe reads.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		ID:           s.id,
		Stage:        s.stage,
		Artifacts:    s.artifacts.clone(),
		Draft:        s.draft.clone(),
		RenderTaskID: s.renderTaskID,
		FailReason:   s.failReason,
		CreatedAt:    s.createdAt,
		UpdatedAt:    s.updatedAt,
	}
}

// Generate invokes the generation collaborator for the current stage and
// replaces the draft with the returned candidate. On failure the confirmed
// state is untouched: an empty draft is seeded if none exists and the error
// is surfaced, leaving the user free to fill the draft manually.
//
// The external call runs outside the session lock.
func (s *Session) Generate(ctx context.Context, gen StageGenerator) error {
	s.mu.Lock()
	stage := s.stage
	if !stage.IsGenerative() {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotGenerative, stage)
	}
	arts := s.artifacts.clone()
	s.mu.Unlock()

	candidate, genErr := gen.GenerateStage(ctx, stage, arts)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stage != stage {
		// The session moved on while the call was in flight; the stale
		// candidate is discarded.
		return fmt.Errorf("%w: session no longer at %s", ErrInvalidTransition, stage)
	}
	if genErr != nil {
		if s.draft == nil {
			s.draft = emptyDraftFor(stage)
		}
		return fmt.Errorf("%w: %s", ErrGenerationFailed, genErr)
	}

	s.draft = candidate.clone()
	s.updatedAt = time.Now()
	return nil
}

// Regenerate discards the current draft unconditionally and generates a
// fresh candidate. The stage does not change.
func (s *Session) Regenerate(ctx context.Context, gen StageGenerator) error {
	s.mu.Lock()
	if !s.stage.IsGenerative() {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotGenerative, s.stage)
	}
	s.draft = emptyDraftFor(s.stage)
	s.mu.Unlock()

	return s.Generate(ctx, gen)
}

// EditDraft merges a partial update into the current draft without changing
// the stage. Only type-shape errors are reported; completeness is checked
// at Confirm. The scripting stage edits go through EditScript.
func (s *Session) EditDraft(patch map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.draft == nil {
		return fmt.Errorf("%w: session is %s", ErrInvalidTransition, s.stage)
	}

	switch s.stage {
	case StageUploaded:
		merged, err := mergePatch(s.draft.Upload, patch)
		if err != nil {
			return err
		}
		s.draft.Upload = merged
	case StageProductUnderstanding:
		merged, err := mergePatch(s.draft.Product, patch)
		if err != nil {
			return err
		}
		s.draft.Product = merged
	case StageMarketAnalysis:
		merged, err := mergePatch(s.draft.Market, patch)
		if err != nil {
			return err
		}
		s.draft.Market = merged
	case StageCreativeStrategy:
		merged, err := mergePatch(s.draft.Strategy, patch)
		if err != nil {
			return err
		}
		s.draft.Strategy = merged
	case StageStyleMatching:
		merged, err := mergePatch(s.draft.Style, patch)
		if err != nil {
			return err
		}
		s.draft.Style = merged
	case StageScriptsGenerated:
		return fmt.Errorf("%w: edit a script candidate by index", ErrSelectionRequired)
	default:
		return fmt.Errorf("%w: %s has no editable draft", ErrInvalidTransition, s.stage)
	}

	s.updatedAt = time.Now()
	return nil
}

// EditScript merges a partial update into one script candidate.
func (s *Session) EditScript(index int, patch map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stage != StageScriptsGenerated {
		return fmt.Errorf("%w: session is %s", ErrInvalidTransition, s.stage)
	}
	if s.draft == nil || index < 0 || index >= len(s.draft.Scripts) {
		return fmt.Errorf("%w: index %d", ErrInvalidSelection, index)
	}

	merged, err := mergePatch(&s.draft.Scripts[index], patch)
	if err != nil {
		return err
	}
	s.draft.Scripts[index] = *merged
	s.updatedAt = time.Now()
	return nil
}

// Confirm validates the current draft against the stage's completeness
// predicate, freezes it into the artifacts, and advances to the next stage
// with a fresh empty draft. A failed predicate returns ErrIncompleteDraft
// and changes nothing.
func (s *Session) Confirm() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.stage {
	case StageUploaded:
		upload := draftUpload(s.draft)
		if err := completeness(upload); err != nil {
			return err
		}
		s.artifacts.Upload = upload
	case StageProductUnderstanding:
		product := draftProduct(s.draft)
		if err := completeness(product); err != nil {
			return err
		}
		s.artifacts.Product = product
	case StageMarketAnalysis:
		market := draftMarket(s.draft)
		if err := completeness(market); err != nil {
			return err
		}
		s.artifacts.Market = market
	case StageCreativeStrategy:
		strategy := draftStrategy(s.draft)
		if err := completeness(strategy); err != nil {
			return err
		}
		s.artifacts.Strategy = strategy
	case StageStyleMatching:
		style := draftStyle(s.draft)
		if err := completeness(style); err != nil {
			return err
		}
		s.artifacts.Style = style
	case StageScriptsGenerated:
		return ErrSelectionRequired
	default:
		return fmt.Errorf("%w: cannot confirm from %s", ErrInvalidTransition, s.stage)
	}

	s.advance()
	return nil
}

// ConfirmScript confirms the scripting stage, keeping only the selected
// candidate.
func (s *Session) ConfirmScript(index int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stage != StageScriptsGenerated {
		return fmt.Errorf("%w: session is %s", ErrInvalidTransition, s.stage)
	}
	if s.draft == nil || index < 0 || index >= len(s.draft.Scripts) {
		return fmt.Errorf("%w: index %d of %d candidates", ErrInvalidSelection, index, draftScriptCount(s.draft))
	}

	selected := s.draft.Scripts[index]
	if err := completeness(&selected); err != nil {
		return err
	}

	s.artifacts.Script = &selected
	s.advance()
	return nil
}

// EnterRendering records the external render task and transitions to
// RENDERING. Valid only from READY_TO_RENDER; completion of the tracked job
// drives the terminal transition.
func (s *Session) EnterRendering(renderTaskID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stage != StageReadyToRender {
		return fmt.Errorf("%w: cannot start rendering from %s", ErrInvalidTransition, s.stage)
	}

	s.renderTaskID = renderTaskID
	s.stage = StageRendering
	s.draft = &Draft{}
	s.updatedAt = time.Now()
	return nil
}

// CompleteRender transitions RENDERING to COMPLETED and attaches the
// rendered video artifact.
func (s *Session) CompleteRender(video RenderedVideo) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stage != StageRendering {
		return fmt.Errorf("%w: cannot complete from %s", ErrInvalidTransition, s.stage)
	}

	s.artifacts.Video = &video
	s.stage = StageCompleted
	s.draft = nil
	s.updatedAt = time.Now()
	return nil
}

// FailRender transitions RENDERING to FAILED with the given reason.
func (s *Session) FailRender(reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stage != StageRendering {
		return fmt.Errorf("%w: cannot fail render from %s", ErrInvalidTransition, s.stage)
	}

	s.fail(reason)
	return nil
}

// Abandon moves any non-terminal session to FAILED.
func (s *Session) Abandon(reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stage.IsTerminal() {
		return fmt.Errorf("%w: session already %s", ErrInvalidTransition, s.stage)
	}

	s.fail(reason)
	return nil
}

// advance moves the draft aside, steps to the next stage, and seeds a fresh
// empty draft. Callers hold the lock.
func (s *Session) advance() {
	next, ok := s.stage.Next()
	if !ok {
		return
	}
	s.stage = next
	s.draft = emptyDraftFor(next)
	s.updatedAt = time.Now()
}

// fail marks the session failed. Callers hold the lock.
func (s *Session) fail(reason string) {
	s.stage = StageFailed
	s.failReason = reason
	s.draft = nil
	s.updatedAt = time.Now()
}

// completeness checks a draft value against its declared predicate tags.
func completeness[T any](v *T) error {
	if v == nil {
		return fmt.Errorf("%w: draft is empty", ErrIncompleteDraft)
	}
	if err := validate.Struct(v); err != nil {
		return fmt.Errorf("%w: %s", ErrIncompleteDraft, err)
	}
	return nil
}

// emptyDraftFor seeds the editable draft shape for a stage.
func emptyDraftFor(stage Stage) *Draft {
	switch stage {
	case StageUploaded:
		return &Draft{Upload: &Upload{}}
	case StageProductUnderstanding:
		return &Draft{Product: &ProductUnderstanding{}}
	case StageMarketAnalysis:
		return &Draft{Market: &MarketAnalysis{}}
	case StageCreativeStrategy:
		return &Draft{Strategy: &CreativeStrategy{}}
	case StageStyleMatching:
		return &Draft{Style: &StyleChoice{}}
	case StageScriptsGenerated:
		return &Draft{Scripts: []Script{}}
	default:
		return &Draft{}
	}
}

func draftUpload(d *Draft) *Upload {
	if d == nil {
		return nil
	}
	return d.Upload
}

func draftProduct(d *Draft) *ProductUnderstanding {
	if d == nil {
		return nil
	}
	return d.Product
}

func draftMarket(d *Draft) *MarketAnalysis {
	if d == nil {
		return nil
	}
	return d.Market
}

func draftStrategy(d *Draft) *CreativeStrategy {
	if d == nil {
		return nil
	}
	return d.Strategy
}

func draftStyle(d *Draft) *StyleChoice {
	if d == nil {
		return nil
	}
	return d.Style
}

func draftScriptCount(d *Draft) int {
	if d == nil {
		return 0
	}
	return len(d.Scripts)
}
