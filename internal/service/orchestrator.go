package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/flowsmith-ai/flowsmith/internal/core"
	"github.com/flowsmith-ai/flowsmith/internal/logging"
)

// resetCommand is the explicit requester-initiated transition back to
// the initial phase, the only backward jump past scoping.
const resetCommand = "/reset"

// OrchestratorConfig carries the session-level tunables.
type OrchestratorConfig struct {
	// Deadline bounds one HandleMessage call end to end, including any
	// deployment it triggers.
	Deadline time.Duration

	// MaxHistory caps the stored turn count per session.
	MaxHistory int

	// ExtractTimeout bounds one fact-extraction completion call.
	ExtractTimeout time.Duration
}

// DefaultOrchestratorConfig returns sensible session defaults.
func DefaultOrchestratorConfig() OrchestratorConfig {
	return OrchestratorConfig{
		Deadline:       5 * time.Minute,
		MaxHistory:     200,
		ExtractTimeout: 20 * time.Second,
	}
}

// TurnReply is the orchestrator's answer to one inbound message.
type TurnReply struct {
	Phase  core.Phase             `json:"phase"`
	Reply  string                 `json:"reply"`
	Result *core.DeploymentResult `json:"result,omitempty"`
}

// Orchestrator drives conversation sessions through their phases,
// invoking the designer and the deployment coordinator at the right
// transitions. Message handling within one session is strictly
// serialized; different sessions run fully in parallel.
type Orchestrator struct {
	sessions    core.SessionStore
	completer   core.Completer
	designer    *Designer
	coordinator *Coordinator
	allocator   *Allocator
	logger      *logging.Logger
	cfg         OrchestratorConfig

	mu    sync.Mutex
	locks map[core.SessionID]*sessionLock
}

// sessionLock serializes calls for one session. Reference counted so
// the lock table only holds entries for sessions with calls in flight.
type sessionLock struct {
	mu   sync.Mutex
	refs int
}

// NewOrchestrator creates a conversation orchestrator.
func NewOrchestrator(
	sessions core.SessionStore,
	completer core.Completer,
	designer *Designer,
	coordinator *Coordinator,
	allocator *Allocator,
	cfg OrchestratorConfig,
	logger *logging.Logger,
) *Orchestrator {
	if logger == nil {
		logger = logging.NewNop()
	}
	// Zero fields default individually; a partially filled config keeps
	// the fields the caller did set.
	def := DefaultOrchestratorConfig()
	if cfg.Deadline == 0 {
		cfg.Deadline = def.Deadline
	}
	if cfg.MaxHistory == 0 {
		cfg.MaxHistory = def.MaxHistory
	}
	if cfg.ExtractTimeout == 0 {
		cfg.ExtractTimeout = def.ExtractTimeout
	}
	return &Orchestrator{
		sessions:    sessions,
		completer:   completer,
		designer:    designer,
		coordinator: coordinator,
		allocator:   allocator,
		logger:      logger,
		cfg:         cfg,
		locks:       make(map[core.SessionID]*sessionLock),
	}
}

// CreateSession starts a new conversation for a tenant and topic.
func (o *Orchestrator) CreateSession(ctx context.Context, tenantID, topic string) (*core.Session, error) {
	if strings.TrimSpace(tenantID) == "" {
		return nil, core.ErrValidation(core.CodeInvalidState, "tenant id is empty")
	}
	session := core.NewSession(core.SessionID(uuid.NewString()), tenantID, topic)
	if err := o.sessions.PutSession(ctx, session); err != nil {
		return nil, fmt.Errorf("storing session: %w", err)
	}
	o.logger.WithSession(string(session.ID)).WithTenant(tenantID).Info("session created", "topic", topic)
	return session, nil
}

// GetSession retrieves a session.
func (o *Orchestrator) GetSession(ctx context.Context, id core.SessionID) (*core.Session, error) {
	return o.sessions.GetSession(ctx, id)
}

// AbandonSession archives a session regardless of phase.
func (o *Orchestrator) AbandonSession(ctx context.Context, id core.SessionID) error {
	lock := o.lockSession(id)
	defer o.unlockSession(id, lock)

	session, err := o.sessions.GetSession(ctx, id)
	if err != nil {
		return err
	}
	session.Archived = true
	return o.sessions.PutSession(ctx, session)
}

// HandleMessage processes one inbound message: exactly one state-machine
// step, at most one deployment invocation. Calls for the same session
// are serialized; the phase sequence a session observes matches the
// submission order of its messages.
func (o *Orchestrator) HandleMessage(ctx context.Context, id core.SessionID, content string) (*TurnReply, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, core.ErrValidation(core.CodeEmptyMessage, "message is empty")
	}
	if len(content) > core.MaxMessageLength {
		return nil, core.ErrValidation(core.CodeMessageTooLong,
			fmt.Sprintf("message exceeds %d bytes", core.MaxMessageLength))
	}

	lock := o.lockSession(id)
	defer o.unlockSession(id, lock)

	if o.cfg.Deadline > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.cfg.Deadline)
		defer cancel()
	}

	session, err := o.sessions.GetSession(ctx, id)
	if err != nil {
		return nil, err
	}
	if session.Archived {
		return nil, core.ErrValidation(core.CodeInvalidState, "session is archived")
	}

	session.Append(core.Turn{
		ID:        uuid.NewString(),
		Role:      core.RoleUser,
		Content:   content,
		CreatedAt: time.Now(),
	})

	reply := o.step(ctx, session, content)

	session.Append(core.Turn{
		ID:        uuid.NewString(),
		Role:      core.RoleAssistant,
		Content:   reply.Reply,
		CreatedAt: time.Now(),
	})
	o.trimHistory(session)

	// The step may have consumed the whole deadline. The resulting phase
	// is persisted on a detached context so a deploy aborted by the
	// session deadline lands in the failed phase instead of being
	// silently replayed by the next message.
	if err := o.sessions.PutSession(context.WithoutCancel(ctx), session); err != nil {
		return nil, fmt.Errorf("storing session: %w", err)
	}
	return reply, nil
}

// step advances the session's state machine by one transition.
func (o *Orchestrator) step(ctx context.Context, session *core.Session, content string) *TurnReply {
	log := o.logger.WithSession(string(session.ID)).WithTenant(session.TenantID).WithPhase(session.Phase.String())

	if content == resetCommand {
		session.Reset()
		return &TurnReply{
			Phase: session.Phase,
			Reply: "Starting over. What would you like to automate?",
		}
	}

	switch session.Phase {
	case core.PhaseGathering:
		o.mergeFacts(ctx, session, content)
		session.Phase = core.PhaseScoping
		return &TurnReply{
			Phase: session.Phase,
			Reply: "Noted. Tell me more, or say anything and I'll check whether that's enough to design the workflow.",
		}

	case core.PhaseScoping:
		o.mergeFacts(ctx, session, content)
		if !session.Requirements.Complete() {
			return &TurnReply{
				Phase: session.Phase,
				Reply: clarifyFor(session.Requirements.MissingFields()),
			}
		}
		session.Phase = core.PhaseValidating
		return &TurnReply{
			Phase: session.Phase,
			Reply: "That covers everything I need. Checking the engine supports it.",
		}

	case core.PhaseValidating:
		if capability, ok := o.unsupportedCapability(&session.Requirements); !ok {
			session.Phase = core.PhaseScoping
			alternatives := o.designer.SupportedActions()
			if capability == session.Requirements.TriggerType {
				alternatives = o.designer.SupportedTriggers()
				session.Requirements.TriggerType = ""
			} else {
				session.Requirements.RemoveAction(capability)
			}
			return &TurnReply{
				Phase: session.Phase,
				Reply: unsupportedReply(capability, alternatives),
			}
		}
		session.Phase = core.PhaseDesigning
		return &TurnReply{
			Phase: session.Phase,
			Reply: "Everything checks out. Designing the workflow now — send any message to continue.",
		}

	case core.PhaseDesigning:
		return o.design(ctx, session, log)

	case core.PhaseDeploying:
		return o.deploy(ctx, session, log)

	case core.PhaseCompleted:
		return &TurnReply{
			Phase: session.Phase,
			Reply: "This workflow is already deployed. Start a new session for another automation.",
		}

	case core.PhaseFailed:
		return &TurnReply{
			Phase: session.Phase,
			Reply: "This session has failed. Start a new session, or send /reset here to begin again.",
		}

	default:
		session.Phase = core.PhaseFailed
		return &TurnReply{Phase: session.Phase, Reply: "Session state is invalid."}
	}
}

// design claims the tenant's slot and shapes the requirements into a
// definition. An unsupported capability loops back to scoping; any
// other design failure is terminal.
func (o *Orchestrator) design(ctx context.Context, session *core.Session, log *logging.Logger) *TurnReply {
	slot, err := o.allocator.ClaimSlot(ctx, session.TenantID)
	if err != nil {
		session.Phase = core.PhaseFailed
		log.Error("slot claim failed", "error", err.Error())
		return &TurnReply{
			Phase: session.Phase,
			Reply: "No isolation slot is available for your account right now. Please contact support — this is a capacity limit, not a problem with your workflow.",
		}
	}

	def, err := o.designer.Design(slot, &session.Requirements)
	if err != nil {
		if de, ok := err.(*core.DesignError); ok && de.Unsupported != "" {
			session.Phase = core.PhaseScoping
			if de.Unsupported == session.Requirements.TriggerType {
				session.Requirements.TriggerType = ""
			} else {
				session.Requirements.RemoveAction(de.Unsupported)
			}
			return &TurnReply{
				Phase: session.Phase,
				Reply: unsupportedReply(de.Unsupported, de.Alternatives),
			}
		}
		session.Phase = core.PhaseFailed
		log.Error("design failed", "error", err.Error())
		return &TurnReply{
			Phase: session.Phase,
			Reply: "I couldn't turn those requirements into a valid workflow: " + err.Error(),
		}
	}

	session.Definition = def
	session.Phase = core.PhaseDeploying
	log.Info("definition designed", "workflow", def.Name, "nodes", len(def.Nodes))
	return &TurnReply{
		Phase: session.Phase,
		Reply: fmt.Sprintf("Designed %q with %d steps. Send any message to deploy it.", def.Name, len(def.Nodes)),
	}
}

// deploy submits the stored definition. At most one coordinator
// invocation happens per inbound message.
func (o *Orchestrator) deploy(ctx context.Context, session *core.Session, log *logging.Logger) *TurnReply {
	if session.Definition == nil {
		session.Phase = core.PhaseFailed
		return &TurnReply{Phase: session.Phase, Reply: "No definition to deploy."}
	}

	slot, err := o.allocator.SlotFor(ctx, session.TenantID)
	if err != nil || slot == nil {
		session.Phase = core.PhaseFailed
		return &TurnReply{Phase: session.Phase, Reply: "Your tenant slot is missing; the session cannot continue."}
	}

	result := o.coordinator.Deploy(ctx, slot, session.Definition)
	if result.Succeeded() {
		session.Phase = core.PhaseCompleted
		log.Info("deployment completed", "engine_id", result.EngineID, "attempts", result.Attempts)
		reply := fmt.Sprintf("Deployed. The engine assigned id %s.", result.EngineID)
		if result.Endpoint != "" {
			reply += " Invocation endpoint: " + result.Endpoint
		}
		return &TurnReply{Phase: session.Phase, Reply: reply, Result: result}
	}

	session.Phase = core.PhaseFailed
	log.Warn("deployment failed",
		"classification", result.Classification.String(),
		"attempts", result.Attempts)
	return &TurnReply{
		Phase:  session.Phase,
		Reply:  failureReply(result),
		Result: result,
	}
}

// mergeFacts extracts structured facts from the message and folds them
// into the draft requirements. The completion collaborator is tried
// first under its own timeout; on any failure the deterministic keyword
// extractor keeps the conversation moving.
func (o *Orchestrator) mergeFacts(ctx context.Context, session *core.Session, content string) {
	if facts := o.extractViaCompleter(ctx, content); facts != nil {
		session.Requirements.Merge(facts)
		return
	}
	session.Requirements.Merge(keywordExtract(content))
}

func (o *Orchestrator) extractViaCompleter(ctx context.Context, content string) *core.Requirements {
	if o.completer == nil {
		return nil
	}
	completion, err := o.completer.Complete(ctx, core.CompletionRequest{
		System: extractionPrompt(o.designer.SupportedTriggers(), o.designer.SupportedActions()),
		Messages: []core.CompletionMessage{
			{Role: core.RoleUser, Content: content},
		},
		MaxTokens:   512,
		Temperature: 0,
		Timeout:     o.cfg.ExtractTimeout,
	})
	if err != nil {
		o.logger.Debug("fact extraction fell back to keywords", "error", err.Error())
		return nil
	}

	var facts core.Requirements
	text := strings.TrimSpace(completion.Text)
	// Models sometimes fence the JSON despite instructions.
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	if err := json.Unmarshal([]byte(strings.TrimSpace(text)), &facts); err != nil {
		o.logger.Debug("unparseable extraction reply", "error", err.Error())
		return nil
	}
	return &facts
}

// unsupportedCapability returns the first capability the engine cannot
// serve, or ok=true when everything is supported.
func (o *Orchestrator) unsupportedCapability(req *core.Requirements) (string, bool) {
	if _, ok := o.designer.table.Triggers[req.TriggerType]; !ok {
		return req.TriggerType, false
	}
	for _, action := range req.Actions {
		if _, ok := o.designer.table.Actions[action.Capability]; !ok {
			return action.Capability, false
		}
	}
	return "", true
}

func (o *Orchestrator) trimHistory(session *core.Session) {
	if o.cfg.MaxHistory > 0 && len(session.History) > o.cfg.MaxHistory {
		session.History = session.History[len(session.History)-o.cfg.MaxHistory:]
	}
}

// lockSession acquires the per-session mutex, creating it on first use.
func (o *Orchestrator) lockSession(id core.SessionID) *sessionLock {
	o.mu.Lock()
	lock, ok := o.locks[id]
	if !ok {
		lock = &sessionLock{}
		o.locks[id] = lock
	}
	lock.refs++
	o.mu.Unlock()

	lock.mu.Lock()
	return lock
}

// unlockSession releases the per-session mutex and drops the table
// entry once no call holds or waits on it.
func (o *Orchestrator) unlockSession(id core.SessionID, lock *sessionLock) {
	lock.mu.Unlock()

	o.mu.Lock()
	lock.refs--
	if lock.refs == 0 {
		delete(o.locks, id)
	}
	o.mu.Unlock()
}

// failureReply renders a terminal deployment failure with its cause and,
// where one exists, a suggested next step.
func failureReply(result *core.DeploymentResult) string {
	var cause string
	switch result.Classification {
	case core.ClassTimeout:
		cause = "the engine did not respond in time"
	case core.ClassRateLimited:
		cause = "the engine is rate limiting requests"
	case core.ClassAuthFailure:
		cause = "the engine rejected our credentials"
	case core.ClassSchemaViolation, core.ClassReadOnlyField, core.ClassInvalidConnection:
		cause = "the engine kept rejecting the workflow structure"
	default:
		cause = "the engine returned an unrecognized error"
	}
	reply := fmt.Sprintf("Deployment failed after %d attempt(s): %s.", result.Attempts, cause)
	switch result.Classification {
	case core.ClassTimeout, core.ClassRateLimited:
		reply += " The definition itself looks fine — try deploying again in a new session later."
	case core.ClassAuthFailure:
		reply += " An operator needs to update the engine credentials."
	}
	if result.Diagnostic != "" {
		reply += " (" + result.Diagnostic + ")"
	}
	return reply
}

// keywordExtract is the deterministic fallback extractor used when the
// completion collaborator is unavailable or returns garbage.
func keywordExtract(content string) *core.Requirements {
	lower := strings.ToLower(content)
	facts := &core.Requirements{}

	switch {
	case strings.Contains(lower, "webhook"):
		facts.TriggerType = "webhook"
	case strings.Contains(lower, "every ") || strings.Contains(lower, "schedule") || strings.Contains(lower, "cron"):
		facts.TriggerType = "schedule"
	case strings.Contains(lower, "when an email") || strings.Contains(lower, "incoming email"):
		facts.TriggerType = "email_received"
	case strings.Contains(lower, "manual"):
		facts.TriggerType = "manual"
	}

	actionKeywords := []struct {
		keyword    string
		capability string
	}{
		{"http", "http_request"},
		{"api call", "http_request"},
		{"send an email", "send_email"},
		{"email me", "send_email"},
		{"slack", "slack_post"},
		{"database", "database_write"},
		{"transform", "transform"},
	}
	for _, kw := range actionKeywords {
		if strings.Contains(lower, kw.keyword) {
			facts.Actions = append(facts.Actions, core.ActionSpec{Capability: kw.capability})
		}
	}

	for _, marker := range []string{"call it ", "called ", "name it "} {
		if idx := strings.Index(lower, marker); idx >= 0 {
			rest := strings.TrimSpace(content[idx+len(marker):])
			if end := strings.IndexAny(rest, ".,;\n"); end > 0 {
				rest = rest[:end]
			}
			rest = strings.Trim(rest, `"'`)
			if rest != "" {
				facts.Name = rest
				break
			}
		}
	}
	return facts
}
