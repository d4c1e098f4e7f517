package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"dbtforge/internal/document"
	"dbtforge/internal/llm"
	"dbtforge/internal/logging"
	"dbtforge/internal/partial"
	"dbtforge/internal/prompt"
	"dbtforge/internal/reconcile"
	"dbtforge/internal/session"
	"dbtforge/internal/stream"
)

const (
	// Sentinel precedes the JSON patch in a structural-edit response.
	Sentinel = "DBT_RULES_UPDATE:"
	// WorkingIndicator replaces progress once the patch starts streaming.
	WorkingIndicator = "Updating DBT rules..."
)

// Reply is the outcome of one chat message. Message is always set.
type Reply struct {
	Intent  Intent
	Message string
	// Prose is the explanation the model wrote before the patch.
	Prose string
	// Updated is true when a patch was reconciled and committed.
	Updated   bool
	Log       []document.ChangeLogEntry
	LastTable string
	// RawPatch holds the payload when it could not be parsed.
	RawPatch string
}

// Options configures a Handler.
type Options struct {
	Classifier   Classifier
	HistoryTurns int
}

// Handler answers chat messages against one pair of document sessions.
type Handler struct {
	client  llm.Client
	router  *Router
	rules   *session.Session[*document.RuleSet]
	schema  *session.Session[*document.Schema]
	history *History
}

// NewHandler creates a Handler. schema may be nil.
func NewHandler(client llm.Client, rules *session.Session[*document.RuleSet], schema *session.Session[*document.Schema], opts Options) *Handler {
	return &Handler{
		client:  client,
		router:  NewRouter(opts.Classifier),
		rules:   rules,
		schema:  schema,
		history: NewHistory(opts.HistoryTurns),
	}
}

// History returns the handler's chat history.
func (h *Handler) History() *History { return h.history }

// Respond streams an answer to message. onProgress receives the text to
// display so far; for edits it switches to WorkingIndicator once the patch
// begins. Failures become Reply.Message; only cancellation is returned.
func (h *Handler) Respond(ctx context.Context, message string, onProgress func(string)) (Reply, error) {
	snap := h.rules.Snapshot()
	var current *document.RuleSet
	if snap.State == session.StateFinalized {
		current = snap.Value
	}

	intent := h.router.Route(message, current)
	reply := Reply{Intent: intent}
	logging.ChatDebug("message routed as %s", intent)

	var schema *document.Schema
	if h.schema != nil && h.schema.State() == session.StateFinalized {
		schema = h.schema.Value()
	}
	user, err := prompt.ChatPrompt(message, current, schema, h.history.Turns())
	if err != nil {
		reply.Message = fmt.Sprintf("Could not build the chat request: %v", err)
		return reply, nil
	}
	system := prompt.ChatSystem(Sentinel, intent == StructuralEdit)

	content, errs := h.client.Stream(ctx, system, user)
	consumer := stream.NewConsumer(displayDecoder(intent == StructuralEdit))
	text, err := consumer.Consume(ctx, stream.FromDeltas(ctx, content, errs), func(v any) {
		if onProgress != nil {
			onProgress(v.(string))
		}
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Reply{}, ctxErr
		}
		logging.ChatWarn("chat stream failed: %v", err)
		reply.Message = fmt.Sprintf("Chat request failed: %v", err)
		return reply, nil
	}

	if intent == StructuralEdit {
		h.applyEdit(text, snap, current, &reply)
	} else {
		reply.Message = text
	}

	h.history.Add("user", message)
	h.history.Add("assistant", reply.Message)
	return reply, nil
}

// applyEdit fills reply from a complete structural-edit response.
func (h *Handler) applyEdit(text string, snap session.Snapshot[*document.RuleSet], current *document.RuleSet, reply *Reply) {
	idx := strings.Index(text, Sentinel)
	if idx < 0 {
		reply.Message = text
		return
	}
	reply.Prose = strings.TrimSpace(text[:idx])
	payload := strings.TrimSpace(text[idx+len(Sentinel):])

	patch, err := reconcile.ParsePatch(payload)
	if err != nil {
		logging.ChatWarn("unparseable rules update: %v", err)
		reply.RawPatch = payload
		reply.Message = fmt.Sprintf("Could not apply the DBT rules update (%v). Raw update:\n%s", err, payload)
		return
	}

	res, err := reconcile.Reconcile(current, patch)
	if err != nil {
		reply.Message = fmt.Sprintf("Could not apply the DBT rules update: %v", err)
		return
	}

	if err := h.rules.Commit(snap.Revision, res.Updated); err != nil {
		logging.ChatWarn("rules update discarded: %v", err)
		if errors.Is(err, session.ErrSuperseded) {
			reply.Message = "The DBT rules changed while this update was being prepared, so it was discarded. Please ask again."
		} else {
			reply.Message = fmt.Sprintf("Could not apply the DBT rules update: %v", err)
		}
		return
	}

	reply.Updated = true
	reply.Log = res.Log
	reply.LastTable = res.LastTable
	reply.Message = reconcile.FormatLog(res)
	logging.Chat("rules updated: %d changes, last table %q", len(res.Log), res.LastTable)
}

// displayDecoder turns accumulated text into what the user should see.
func displayDecoder(structural bool) partial.Decoder {
	return partial.DecoderFunc(func(text string) (any, bool) {
		if structural {
			if strings.Contains(text, Sentinel) {
				return WorkingIndicator, true
			}
			text = holdBackSentinel(text)
		}
		if strings.TrimSpace(text) == "" {
			return nil, false
		}
		return text, true
	})
}

// holdBackSentinel hides a trailing partial sentinel so it never flashes on
// screen before the full marker arrives.
func holdBackSentinel(text string) string {
	for k := len(Sentinel) - 1; k > 0; k-- {
		if strings.HasSuffix(text, Sentinel[:k]) {
			return text[:len(text)-k]
		}
	}
	return text
}
