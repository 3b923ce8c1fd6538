// Package router moves a session through the pipeline stages, one user turn
// at a time.
package router

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"specpilot/internal/agent"
	"specpilot/internal/agent/ports"
	"specpilot/internal/observability"
	"specpilot/internal/shared/errors"
	"specpilot/internal/shared/logging"
	"specpilot/internal/shared/utils/id"
)

const defaultMaxClarifyingTurns = 5

// Nodes are the agents the router drives.
type Nodes struct {
	Extractor agent.Node
	Planner   agent.Node
	Asker     agent.Node
	// Stages maps each option stage to the node that presents it.
	Stages map[ports.Stage]agent.Node
	Spec   agent.Node
}

func (n Nodes) validate() error {
	switch {
	case n.Extractor == nil:
		return fmt.Errorf("router: extractor node is required")
	case n.Planner == nil:
		return fmt.Errorf("router: planner node is required")
	case n.Asker == nil:
		return fmt.Errorf("router: asker node is required")
	case n.Spec == nil:
		return fmt.Errorf("router: spec node is required")
	}
	for stage := ports.StageRiskAnalysis; stage <= ports.StageDiagramDesign; stage++ {
		if n.Stages[stage] == nil {
			return fmt.Errorf("router: no node for stage %s", stage)
		}
	}
	return nil
}

// Summarizer condenses history into the rolling session summary.
type Summarizer interface {
	Digest(msgs []ports.Message) string
}

// TurnObserver is notified when a turn finishes, typically for metrics.
type TurnObserver interface {
	ObserveTurn(stage string, outcome string, duration time.Duration)
}

// Config configures a StageRouter.
type Config struct {
	// MaxClarifyingTurns caps clarifying questions per stage; default 5.
	MaxClarifyingTurns int
	Summarizer         Summarizer
	Observer           TurnObserver
	Logger             logging.Logger
	Tracer             trace.Tracer
	Now                func() time.Time
}

// TurnResult is what one Advance returns.
type TurnResult struct {
	Session      *ports.SessionState `json:"session"`
	Reply        string              `json:"reply"`
	Options      []ports.Option      `json:"options,omitempty"`
	NeedMoreInfo bool                `json:"need_more_info"`
}

// StageRouter owns session state during a turn. Turns for the same session
// are serialized; different sessions run in parallel.
type StageRouter struct {
	store      ports.SessionStore
	nodes      Nodes
	locks      *sessionLocks
	maxClarify int
	summarizer Summarizer
	observer   TurnObserver
	logger     logging.Logger
	tracer     trace.Tracer
	now        func() time.Time
}

// New creates a router over store.
func New(store ports.SessionStore, nodes Nodes, cfg Config) (*StageRouter, error) {
	if store == nil {
		return nil, fmt.Errorf("router: session store is required")
	}
	if err := nodes.validate(); err != nil {
		return nil, err
	}
	if cfg.MaxClarifyingTurns <= 0 {
		cfg.MaxClarifyingTurns = defaultMaxClarifyingTurns
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Tracer == nil {
		cfg.Tracer = noop.NewTracerProvider().Tracer("specpilot")
	}
	logger := cfg.Logger
	if logging.IsNil(logger) {
		logger = logging.NewComponentLogger("StageRouter")
	}
	return &StageRouter{
		store:      store,
		nodes:      nodes,
		locks:      newSessionLocks(),
		maxClarify: cfg.MaxClarifyingTurns,
		summarizer: cfg.Summarizer,
		observer:   cfg.Observer,
		logger:     logger,
		tracer:     cfg.Tracer,
		now:        cfg.Now,
	}, nil
}

// Create starts a new session in INIT.
func (r *StageRouter) Create(ctx context.Context) (*ports.SessionState, error) {
	state := ports.NewSessionState(id.NewSessionID(), r.now().UTC())
	if err := r.store.SetState(ctx, state); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	r.logger.Info("Created session %s", state.SessionID)
	return state, nil
}

// Get returns the committed session.
func (r *StageRouter) Get(ctx context.Context, sessionID string) (*ports.Session, error) {
	return r.store.GetSession(ctx, sessionID)
}

// History returns the committed conversation.
func (r *StageRouter) History(ctx context.Context, sessionID string) ([]ports.Message, error) {
	return r.store.GetMessages(ctx, sessionID)
}

// Delete removes a session once no turn is running on it.
func (r *StageRouter) Delete(ctx context.Context, sessionID string) error {
	release, err := r.locks.Lock(ctx, sessionID)
	if err != nil {
		return err
	}
	defer release()
	return r.store.DeleteSession(ctx, sessionID)
}

// turn is the working copy of one Advance call. Nothing in it is visible
// to other callers until it is committed.
type turn struct {
	state   *ports.SessionState
	history []ports.Message
	input   string
	replies []string
	logger  logging.Logger
}

func (t *turn) say(text string) {
	if text = strings.TrimSpace(text); text != "" {
		t.replies = append(t.replies, text)
	}
}

// Advance processes one user message. On any failure the committed session
// is left exactly as it was.
func (r *StageRouter) Advance(ctx context.Context, sessionID, userMessage string) (result TurnResult, err error) {
	userMessage = strings.TrimSpace(userMessage)
	if userMessage == "" {
		return TurnResult{}, errors.NewInputError("message", "must not be empty")
	}

	release, err := r.locks.Lock(ctx, sessionID)
	if err != nil {
		return TurnResult{}, err
	}
	defer release()

	ctx = id.WithSessionID(ctx, sessionID)
	ctx, span := observability.StartSpan(ctx, r.tracer, observability.SpanTurn)
	defer span.End()

	started := r.now()
	stage := "unknown"
	defer func() {
		outcome := "ok"
		if err != nil {
			outcome = "error"
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		if r.observer != nil {
			r.observer.ObserveTurn(stage, outcome, r.now().Sub(started))
		}
	}()

	committed, err := r.store.GetState(ctx, sessionID)
	if err != nil {
		return TurnResult{}, fmt.Errorf("load session %s: %w", sessionID, err)
	}
	stage = committed.Stage.String()
	span.SetAttributes(attribute.String(observability.AttrStage, stage))

	if committed.Stage == ports.StageCompleted {
		return TurnResult{Session: committed, Reply: committed.FinalSpec}, nil
	}

	history, err := r.store.GetMessages(ctx, sessionID)
	if err != nil {
		return TurnResult{}, fmt.Errorf("load history %s: %w", sessionID, err)
	}

	t := &turn{
		state:   committed.Clone(),
		history: history,
		input:   userMessage,
		logger:  logging.WithSession(r.logger, sessionID),
	}
	if err := r.step(ctx, t); err != nil {
		t.logger.Warn("Turn failed in %s: %v", stage, err)
		return TurnResult{}, err
	}

	now := r.now().UTC()
	reply := strings.Join(t.replies, "\n\n")
	msgs := []ports.Message{
		{Role: ports.RoleUser, Content: userMessage, Timestamp: now},
		{Role: ports.RoleAssistant, Content: reply, Timestamp: now},
	}
	if r.summarizer != nil {
		t.state.Summary = r.summarizer.Digest(append(ports.CloneMessages(history), msgs...))
	}
	t.state.Metadata.UpdatedAt = now

	if err := r.store.CommitTurn(ctx, t.state, msgs...); err != nil {
		return TurnResult{}, fmt.Errorf("commit turn %s: %w", sessionID, err)
	}
	t.logger.Info("Turn committed: %s -> %s (completeness %d%%)", stage, t.state.Stage, t.state.Completeness)

	return TurnResult{
		Session:      t.state,
		Reply:        reply,
		Options:      t.state.PendingOptions,
		NeedMoreInfo: t.state.NeedMoreInfo,
	}, nil
}

func (r *StageRouter) step(ctx context.Context, t *turn) error {
	if t.state.Stage == ports.StageInit {
		if err := r.transition(ctx, t, ports.StageRequirementCollection); err != nil {
			return err
		}
	}
	switch stage := t.state.Stage; {
	case stage == ports.StageRequirementCollection:
		return r.collect(ctx, t)
	case stage.IsOptionStage():
		return r.choose(ctx, t)
	case stage == ports.StageDocumentGeneration:
		return r.generate(ctx, t)
	default:
		return fmt.Errorf("session %s is in unexpected stage %s", t.state.SessionID, stage)
	}
}

func (r *StageRouter) input(t *turn) agent.Input {
	return agent.Input{State: t.state, UserInput: t.input, History: t.history}
}

// collect runs extractor, planner and, when the checklist is not yet
// satisfied, the asker.
func (r *StageRouter) collect(ctx context.Context, t *turn) error {
	extracted, err := r.nodes.Extractor.Run(ctx, r.input(t))
	if err != nil {
		return err
	}
	extracted.Apply(t.state)
	t.state.PendingOptions = nil

	planned, err := r.nodes.Planner.Run(ctx, r.input(t))
	if err != nil {
		return err
	}
	planned.Apply(t.state)

	if planned.Proceed() {
		t.state.NeedMoreInfo = false
		return r.transition(ctx, t, ports.StageRiskAnalysis)
	}
	if t.state.ClarifyTurns >= r.maxClarify {
		t.logger.Info("Clarifying cap reached with %d%% completeness, moving on", t.state.Completeness)
		t.state.NeedMoreInfo = true
		t.say(fmt.Sprintf("Let's continue with what we have. Still missing: %s.", strings.Join(t.state.MissingFields, ", ")))
		return r.transition(ctx, t, ports.StageRiskAnalysis)
	}

	asked, err := r.nodes.Asker.Run(ctx, r.input(t))
	if err != nil {
		return err
	}
	asked.Apply(t.state)
	if t.state.NextQuestion != "" {
		t.state.AskedQuestions = append(t.state.AskedQuestions, t.state.NextQuestion)
	}
	t.state.PendingOptions = asked.Options
	t.state.ClarifyTurns++
	t.say(asked.Response)
	return nil
}

// choose records the user's selection for the current option stage and
// moves to the next stage.
func (r *StageRouter) choose(ctx context.Context, t *turn) error {
	stage := t.state.Stage
	opt, matched := agent.ResolveSelection(t.input, t.state.PendingOptions)
	choice := opt.Label
	if matched && opt.Value != "" && opt.Value != opt.Label {
		choice = opt.Label + ": " + opt.Value
	}
	t.state.Selections[stage.String()] = choice
	t.state.PendingOptions = nil
	return r.transition(ctx, t, stage.Next())
}

func (r *StageRouter) generate(ctx context.Context, t *turn) error {
	written, err := r.nodes.Spec.Run(ctx, r.input(t))
	if err != nil {
		return err
	}
	written.Apply(t.state)
	t.say(written.Response)
	return r.transition(ctx, t, ports.StageCompleted)
}

// transition moves the working state forward and presents the new stage.
// Stages never move backwards.
func (r *StageRouter) transition(ctx context.Context, t *turn, next ports.Stage) error {
	if next <= t.state.Stage {
		return fmt.Errorf("session %s: refusing to move from %s to %s", t.state.SessionID, t.state.Stage, next)
	}
	t.logger.Debug("Stage %s -> %s", t.state.Stage, next)
	t.state.Stage = next
	t.state.ClarifyTurns = 0
	t.state.NextQuestion = ""
	t.state.PendingOptions = nil

	switch {
	case next.IsOptionStage():
		presented, err := r.nodes.Stages[next].Run(ctx, r.input(t))
		if err != nil {
			return err
		}
		presented.Apply(t.state)
		if presented.StageSummary != nil {
			t.state.StageSummaries[next.String()] = *presented.StageSummary
		}
		t.state.PendingOptions = presented.Options
		t.say(presented.Response)
	case next == ports.StageDocumentGeneration:
		return r.generate(ctx, t)
	}
	return nil
}
