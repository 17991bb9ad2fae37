// Package agent drives one turn of the conversation: iterate model calls,
// execute requested tools sequentially, collect UI actions, and stream text
// fragments to the transport through a per-turn channel.
package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"sort"
	"strings"
	"time"

	"github.com/cloudwego/eino/schema"

	"github.com/practiva/assistant-backend/internal/model/chat"
	"github.com/practiva/assistant-backend/internal/model/persona"
	"github.com/practiva/assistant-backend/internal/service/session"
	"github.com/practiva/assistant-backend/internal/service/tools"
)

// apologyMessage is the single user-visible text for any unrecovered failure;
// the channel itself stays usable.
const apologyMessage = "I apologize, but I encountered an error processing your request. Please try again."

// Backend is the language-model collaborator: one call in, either text or
// tool-call requests out.
type Backend interface {
	Generate(ctx context.Context, messages []*schema.Message, toolInfos []*schema.ToolInfo) (*schema.Message, error)
	Stream(ctx context.Context, messages []*schema.Message, toolInfos []*schema.ToolInfo) (*schema.StreamReader[*schema.Message], error)
}

// ToolExecutor is the capability registry collaborator.
type ToolExecutor interface {
	Execute(ctx context.Context, sessionID, name string, args map[string]any) tools.Result
	Schemas(names []string) []*schema.ToolInfo
	SetAuth(token, profileID string)
}

// failureKind classifies what went wrong at an operation boundary.
type failureKind int

const (
	failBackend failureKind = iota
	failToolExecution
	failMalformedResult
	failSessionMissing
	failIterationCap
)

// recoveryAction is what the loop does about it.
type recoveryAction int

const (
	recoverAbort    recoveryAction = iota // apology message, turn over
	recoverContinue                       // error flows back to the model, loop goes on
	recoverSkip                           // drop the fragment of work, loop goes on
	recoverRecreate                       // rebuild the session under the same id
	recoverFinalize                       // emit the best available state and stop
)

// recoveryPlan declares how each failure kind is handled. Everything except
// the backend failure and the iteration cap is absorbed inside the turn.
var recoveryPlan = map[failureKind]recoveryAction{
	failBackend:         recoverAbort,
	failToolExecution:   recoverContinue,
	failMalformedResult: recoverSkip,
	failSessionMissing:  recoverRecreate,
	failIterationCap:    recoverFinalize,
}

// Config bounds a single turn.
type Config struct {
	MaxIterations  int
	HistoryLimit   int
	RequestTimeout time.Duration
}

// TurnRequest is one user message entering the loop.
type TurnRequest struct {
	SessionID   string
	PersonaID   string
	UserMessage string
	Context     map[string]any
	AuthToken   string
	ProfileID   string
	// Queue receives the UI actions extracted during this turn; the caller
	// drains it once the fragment channel closes.
	Queue *Queue
}

// Loop orchestrates turns. Sessions run independently; one Loop serves all of
// them.
type Loop struct {
	store    *session.Store
	personas persona.Store
	backend  Backend
	tools    ToolExecutor
	cfg      Config
}

// NewLoop wires the loop's collaborators.
func NewLoop(store *session.Store, personas persona.Store, backend Backend, executor ToolExecutor, cfg Config) *Loop {
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = 6
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = 20
	}
	return &Loop{
		store:    store,
		personas: personas,
		backend:  backend,
		tools:    executor,
		cfg:      cfg,
	}
}

// Run executes one turn and returns the fragment channel. The channel closes
// when the turn reaches its final text or gives up; the apology path closes
// it too, so the caller only ever drains.
func (l *Loop) Run(ctx context.Context, req TurnRequest) <-chan string {
	out := make(chan string, 16)
	go func() {
		defer close(out)
		defer func() {
			if r := recover(); r != nil {
				log.Printf("[agent] panic in turn for session %s: %v", req.SessionID, r)
				l.apologize(ctx, req.SessionID, out)
			}
		}()
		l.runTurn(ctx, req, out)
	}()
	return out
}

func (l *Loop) runTurn(ctx context.Context, req TurnRequest, out chan<- string) {
	sess, err := l.resolveSession(ctx, req)
	if err != nil {
		log.Printf("[agent] session resolution failed for %s: %v", req.SessionID, err)
		l.apologize(ctx, req.SessionID, out)
		return
	}

	p := l.resolvePersona(req.PersonaID, sess.Persona)

	if _, err := l.store.AddMessage(ctx, sess.ID, chat.RoleUser, req.UserMessage); err != nil {
		log.Printf("[agent] failed to append user message for %s: %v", sess.ID, err)
		l.apologize(ctx, sess.ID, out)
		return
	}

	token := req.AuthToken
	if token == "" {
		token = sess.AuthToken
	}
	profileID := req.ProfileID
	if profileID == "" {
		profileID = sess.ProfileID
	}
	l.tools.SetAuth(token, profileID)

	messages, err := l.buildPrompt(ctx, &p, sess.ID, req.UserMessage)
	if err != nil {
		log.Printf("[agent] prompt build failed for %s: %v", sess.ID, err)
		l.apologize(ctx, sess.ID, out)
		return
	}

	var toolInfos []*schema.ToolInfo
	if p.HasTools() {
		toolInfos = l.tools.Schemas(p.Tools)
	}

	var full strings.Builder
	lastSignature := ""

	for iteration := 0; iteration < l.cfg.MaxIterations; iteration++ {
		resp, err := l.callBackend(ctx, messages, toolInfos, out, &full)
		if err != nil {
			// Transient or hung backend: recoveryPlan says abort the turn.
			log.Printf("[agent] backend call failed for %s: %v", sess.ID, err)
			if recoveryPlan[failBackend] == recoverAbort {
				l.apologize(ctx, sess.ID, out)
			}
			return
		}

		if len(resp.ToolCalls) == 0 {
			// Final answer; its content already streamed through out.
			l.finalize(ctx, sess.ID, &full)
			return
		}

		messages = append(messages, resp)
		messages = l.executeToolCalls(ctx, req, sess.ID, &p, resp.ToolCalls, messages, out, &full, &lastSignature)
	}

	// Iteration cap reached: best-effort finalize from whatever streamed.
	if recoveryPlan[failIterationCap] == recoverFinalize {
		log.Printf("[agent] iteration cap (%d) reached for session %s", l.cfg.MaxIterations, sess.ID)
		if full.Len() == 0 {
			emit(out, apologyMessage)
			full.WriteString(apologyMessage)
		}
		l.finalize(ctx, sess.ID, &full)
	}
}

// resolveSession loads the session, recreating it under the same id when it
// expired or the service restarted; the client-visible id must stay stable.
func (l *Loop) resolveSession(ctx context.Context, req TurnRequest) (*chat.Session, error) {
	sess, err := l.store.Get(ctx, req.SessionID)
	if err == nil {
		return sess, nil
	}
	if !errors.Is(err, session.ErrSessionNotFound) {
		return nil, err
	}

	if recoveryPlan[failSessionMissing] != recoverRecreate {
		return nil, err
	}

	log.Printf("[agent] session %s not found, recreating under the same id", req.SessionID)
	personaID := req.PersonaID
	if personaID == "" {
		personaID = persona.Seed()[0].ID
	}
	if _, err := l.store.Create(ctx, personaID, req.Context, req.AuthToken, req.ProfileID, req.SessionID); err != nil {
		return nil, err
	}
	return l.store.Get(ctx, req.SessionID)
}

func (l *Loop) resolvePersona(requested, stored string) persona.Persona {
	for _, id := range []string{requested, stored} {
		if id == "" {
			continue
		}
		if p, ok := l.personas.FindByID(id); ok {
			return p
		}
	}
	return persona.Seed()[0]
}

// buildPrompt assembles system instructions plus a bounded window of history.
// The window already contains the just-appended user message as its last
// entry.
func (l *Loop) buildPrompt(ctx context.Context, p *persona.Persona, sessionID, userMessage string) ([]*schema.Message, error) {
	history, err := l.store.Messages(ctx, sessionID, l.cfg.HistoryLimit)
	if err != nil {
		return nil, err
	}

	messages := make([]*schema.Message, 0, len(history)+1)
	messages = append(messages, schema.SystemMessage(p.SystemPrompt))

	for _, msg := range history {
		switch msg.Role {
		case chat.RoleUser:
			messages = append(messages, schema.UserMessage(msg.Content))
		case chat.RoleAssistant:
			messages = append(messages, schema.AssistantMessage(msg.Content, nil))
		}
		// Tool-role transcript entries are not replayed: their call ids are
		// meaningless outside the turn that produced them.
	}

	if len(history) == 0 || history[len(history)-1].Role != chat.RoleUser || history[len(history)-1].Content != userMessage {
		messages = append(messages, schema.UserMessage(userMessage))
	}

	return messages, nil
}

// callBackend performs one bounded model call, forwarding text deltas into
// the output channel as they arrive, and returns the concatenated message.
func (l *Loop) callBackend(ctx context.Context, messages []*schema.Message, toolInfos []*schema.ToolInfo, out chan<- string, full *strings.Builder) (*schema.Message, error) {
	callCtx := ctx
	if l.cfg.RequestTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, l.cfg.RequestTimeout)
		defer cancel()
	}

	stream, err := l.backend.Stream(callCtx, messages, toolInfos)
	if err != nil {
		return nil, err
	}
	defer stream.Close()

	chunks := make([]*schema.Message, 0, 8)
	for {
		chunk, recvErr := stream.Recv()
		if errors.Is(recvErr, io.EOF) {
			break
		}
		if recvErr != nil {
			return nil, recvErr
		}
		if chunk == nil {
			continue
		}

		chunks = append(chunks, chunk)
		if chunk.Content != "" {
			emit(out, chunk.Content)
			full.WriteString(chunk.Content)
		}
	}

	return schema.ConcatMessages(chunks)
}

// executeToolCalls runs the requested calls strictly in the order received so
// the resulting tool-role messages stay deterministic.
func (l *Loop) executeToolCalls(ctx context.Context, req TurnRequest, sessionID string, p *persona.Persona, calls []schema.ToolCall, messages []*schema.Message, out chan<- string, full *strings.Builder, lastSignature *string) []*schema.Message {
	for _, tc := range calls {
		name := tc.Function.Name

		args := map[string]any{}
		if raw := tc.Function.Arguments; raw != "" {
			if err := json.Unmarshal([]byte(raw), &args); err != nil {
				// recoveryPlan[failMalformedResult]: skip the bad arguments,
				// run the tool with none rather than failing the turn.
				log.Printf("[agent] unparseable arguments for %s: %v", name, err)
				args = map[string]any{}
			}
		}

		signature := callSignature(name, args)
		if signature == *lastSignature {
			log.Printf("[agent] skipping duplicate tool call: %s", signature)
			continue
		}

		if p.ShowToolTrace {
			trace := fmt.Sprintf("\n\n[tool] %s executing...\n\n", name)
			emit(out, trace)
			full.WriteString(trace)
		}

		result := l.tools.Execute(ctx, sessionID, name, args)
		*lastSignature = signature

		if result.Status == tools.StatusError {
			// recoveryPlan[failToolExecution]: the error is material for the
			// model, not fatal for the turn.
			if p.ShowToolTrace {
				trace := fmt.Sprintf("\n[tool] %s failed: %s\n\n", name, result.Err)
				emit(out, trace)
				full.WriteString(trace)
			}
		} else {
			actions := ExtractUIActions(result.Data)
			if len(actions) > 0 && req.Queue != nil {
				req.Queue.Add(actions...)
			}
			if p.ShowToolTrace {
				trace := fmt.Sprintf("\n[tool] %s executed\n\n", name)
				emit(out, trace)
				full.WriteString(trace)
			}
		}

		content := result.Serialize()
		messages = append(messages, schema.ToolMessage(content, tc.ID))
		if _, err := l.store.AddMessage(ctx, sessionID, chat.RoleTool, content); err != nil {
			log.Printf("[agent] failed to append tool message for %s: %v", sessionID, err)
		}
	}
	return messages
}

// finalize appends the assistant's accumulated text to the transcript.
func (l *Loop) finalize(ctx context.Context, sessionID string, full *strings.Builder) {
	if full.Len() == 0 {
		return
	}
	if _, err := l.store.AddMessage(ctx, sessionID, chat.RoleAssistant, full.String()); err != nil {
		log.Printf("[agent] failed to append assistant message for %s: %v", sessionID, err)
	}
}

// apologize aborts the turn with the single fixed user-visible message.
func (l *Loop) apologize(ctx context.Context, sessionID string, out chan<- string) {
	if _, err := l.store.AddMessage(ctx, sessionID, chat.RoleAssistant, apologyMessage); err != nil {
		log.Printf("[agent] failed to append apology for %s: %v", sessionID, err)
	}
	emit(out, apologyMessage)
}

func emit(out chan<- string, fragment string) {
	out <- fragment
}

// callSignature produces a stable identity for de-duplicating consecutive
// identical tool calls.
func callSignature(name string, args map[string]any) string {
	keys := make([]string, 0, len(args))
	for k := range args {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(name)
	for _, k := range keys {
		fmt.Fprintf(&b, "|%s=%v", k, args[k])
	}
	return b.String()
}
