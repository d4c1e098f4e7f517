// Package workbench owns one user session: the attached input, the schema
// and rules documents, chat history and optional persistence.
package workbench

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/google/uuid"

	"dbtforge/internal/chat"
	"dbtforge/internal/config"
	"dbtforge/internal/document"
	"dbtforge/internal/export"
	"dbtforge/internal/ingest"
	"dbtforge/internal/llm"
	"dbtforge/internal/logging"
	"dbtforge/internal/partial"
	"dbtforge/internal/prompt"
	"dbtforge/internal/session"
	"dbtforge/internal/store"
	"dbtforge/internal/stream"
)

var (
	// ErrNoInput is returned when generation is requested without input.
	ErrNoInput = errors.New("no input files attached")
	// ErrSchemaRequired is returned when rules are requested before a
	// schema has been finalized.
	ErrSchemaRequired = errors.New("a finalized schema is required")
)

// DefaultHistoryTurns is the chat history bound when Options leaves it unset.
const DefaultHistoryTurns = 10

// Options configures a Workbench. Zero values are usable.
type Options struct {
	Name       string
	Decoder    partial.Decoder
	Classifier chat.Classifier
	Ingest     ingest.Options
	// HistoryTurns bounds chat history kept for prompts. Zero means
	// DefaultHistoryTurns, negative keeps no history.
	HistoryTurns int
	// Store enables persistence when non-nil.
	Store *store.Store
}

// OptionsFromConfig maps configuration onto Options.
func OptionsFromConfig(cfg *config.Config, st *store.Store) Options {
	return Options{
		Name: cfg.Name,
		Ingest: ingest.Options{
			SampleRows:  cfg.Ingest.SampleRows,
			MaxColumns:  cfg.Ingest.MaxColumns,
			Parallelism: cfg.Ingest.Parallelism,
		},
		HistoryTurns: cfg.Chat.HistoryTurns,
		Store:        st,
	}
}

// Workbench is the explicit owner of all per-session state.
type Workbench struct {
	id      string
	client  llm.Client
	decoder partial.Decoder
	store   *store.Store
	ingest  ingest.Options

	schema *session.Session[*document.Schema]
	rules  *session.Session[*document.RuleSet]
	chat   *chat.Handler

	mu    sync.RWMutex
	input *ingest.Result
}

// New creates a workbench with a fresh session id.
func New(client llm.Client, opts Options) (*Workbench, error) {
	w := newWorkbench(uuid.NewString(), client, opts)
	if w.store != nil {
		if err := w.store.CreateSession(w.id, opts.Name); err != nil {
			return nil, err
		}
	}
	logging.Workbench("session %s started with %s", w.id, client.Name())
	return w, nil
}

func newWorkbench(id string, client llm.Client, opts Options) *Workbench {
	decoder := opts.Decoder
	if decoder == nil {
		decoder = partial.BestEffort{}
	}
	w := &Workbench{
		id:      id,
		client:  client,
		decoder: decoder,
		store:   opts.Store,
		ingest:  opts.Ingest,
		schema:  session.New[*document.Schema](document.SchemaCodec{}),
		rules:   session.New[*document.RuleSet](document.RuleSetCodec{}),
	}
	w.chat = chat.NewHandler(client, w.rules, w.schema, chat.Options{
		Classifier:   opts.Classifier,
		HistoryTurns: historyTurns(opts),
	})
	return w
}

func historyTurns(opts Options) int {
	if opts.HistoryTurns == 0 {
		return DefaultHistoryTurns
	}
	return max(opts.HistoryTurns, 0)
}

// Restore reopens a stored session. Stored documents come back Finalized.
func Restore(client llm.Client, opts Options, id string) (*Workbench, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("restore %s: no session store configured", id)
	}
	rec, err := opts.Store.Load(id, historyTurns(opts))
	if err != nil {
		return nil, err
	}

	w := newWorkbench(id, client, opts)
	w.input = rec.Input
	if rec.Schema != nil {
		w.schema.Restore(rec.Schema)
	}
	if rec.Rules != nil {
		w.rules.Restore(rec.Rules)
	}
	w.chat.History().Load(rec.Turns)
	logging.Workbench("session %s restored: schema=%v rules=%v turns=%d", id, rec.Schema != nil, rec.Rules != nil, len(rec.Turns))
	return w, nil
}

// ID returns the session id.
func (w *Workbench) ID() string { return w.id }

// Schema returns the schema document session.
func (w *Workbench) Schema() *session.Session[*document.Schema] { return w.schema }

// Rules returns the rules document session.
func (w *Workbench) Rules() *session.Session[*document.RuleSet] { return w.rules }

// History returns the chat history.
func (w *Workbench) History() *chat.History { return w.chat.History() }

// Input returns the attached input, or nil.
func (w *Workbench) Input() *ingest.Result {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.input
}

// Attach parses files and makes them the session input.
func (w *Workbench) Attach(ctx context.Context, paths ...string) (*ingest.Result, error) {
	if len(paths) == 0 {
		return nil, ErrNoInput
	}
	res, err := ingest.ParseFiles(ctx, paths, w.ingest)
	if err != nil {
		return nil, err
	}
	if err := w.AttachResult(res); err != nil {
		return nil, err
	}
	return res, nil
}

// AttachResult sets an already parsed input.
func (w *Workbench) AttachResult(res *ingest.Result) error {
	if res == nil || len(res.Sheets) == 0 {
		return ErrNoInput
	}
	w.mu.Lock()
	w.input = res
	w.mu.Unlock()

	if w.store != nil {
		if err := w.store.SaveInput(w.id, res); err != nil {
			logging.WorkbenchWarn("session %s: input not persisted: %v", w.id, err)
		}
	}
	logging.Workbench("session %s: attached %d sheets", w.id, len(res.Sheets))
	return nil
}

// GenerateSchema streams a schema for the attached input. onProgress gets
// every improved partial schema.
func (w *Workbench) GenerateSchema(ctx context.Context, onProgress func(*document.Schema)) (*document.Schema, error) {
	system, user, err := prompt.SchemaPrompt(w.Input())
	if errors.Is(err, prompt.ErrNoSheets) {
		return nil, ErrNoInput
	}
	if err != nil {
		return nil, err
	}
	s, err := generate(ctx, w, w.schema, system, user, onProgress)
	if err != nil {
		return nil, err
	}
	w.persist(document.KindSchema, s)
	return s, nil
}

// GenerateRules streams DBT rules for the finalized schema.
func (w *Workbench) GenerateRules(ctx context.Context, onProgress func(*document.RuleSet)) (*document.RuleSet, error) {
	snap := w.schema.Snapshot()
	if snap.State != session.StateFinalized {
		return nil, ErrSchemaRequired
	}
	system, user, err := prompt.RulesPrompt(w.Input(), snap.Value)
	if err != nil {
		return nil, err
	}
	r, err := generate(ctx, w, w.rules, system, user, onProgress)
	if err != nil {
		return nil, err
	}
	w.persist(document.KindRuleSet, r)
	return r, nil
}

// Chat answers a message and applies any rule edit it carries.
func (w *Workbench) Chat(ctx context.Context, message string, onProgress func(string)) (chat.Reply, error) {
	reply, err := w.chat.Respond(ctx, message, onProgress)
	if err != nil {
		return reply, err
	}
	if w.store != nil {
		for _, t := range []prompt.Turn{{Role: "user", Content: message}, {Role: "assistant", Content: reply.Message}} {
			if err := w.store.AppendTurn(w.id, t); err != nil {
				logging.WorkbenchWarn("session %s: chat turn not persisted: %v", w.id, err)
				break
			}
		}
	}
	if reply.Updated {
		w.persist(document.KindRuleSet, w.rules.Value())
	}
	return reply, nil
}

// Export writes the finalized rules as a DBT project archive.
func (w *Workbench) Export(out io.Writer, cfg config.ExportConfig) error {
	rules := w.rules.Snapshot()
	if rules.State != session.StateFinalized {
		return export.ErrNoRules
	}
	p := export.Project{
		Name:         cfg.ProjectName,
		Adapter:      cfg.Adapter,
		Rules:        rules.Value,
		Input:        w.Input(),
		IncludeSeeds: cfg.IncludeSeeds,
	}
	if schema := w.schema.Snapshot(); schema.State == session.StateFinalized {
		p.Schema = schema.Value
	}
	return export.Write(out, p)
}

func (w *Workbench) persist(kind document.Kind, doc any) {
	if w.store == nil {
		return
	}
	if err := w.store.SaveDocument(w.id, kind, doc); err != nil {
		logging.WorkbenchWarn("session %s: %s not persisted: %v", w.id, kind, err)
	}
}

// generate runs one generation request against sess.
func generate[D any](ctx context.Context, w *Workbench, sess *session.Session[D], system, user string, onProgress func(D)) (D, error) {
	timer := logging.StartTimer(logging.CategoryWorkbench, "generate "+string(sess.Kind()))
	defer timer.Stop()

	gen := sess.Begin()
	content, errs := w.client.Stream(ctx, system, user)
	text, err := stream.NewConsumer(w.decoder).Consume(ctx, stream.FromDeltas(ctx, content, errs), func(v any) {
		if !sess.Progress(gen, v) || onProgress == nil {
			return
		}
		if snap := sess.Snapshot(); snap.Generation == gen {
			onProgress(snap.Value)
		}
	})
	if err != nil {
		var zero D
		logging.WorkbenchWarn("%s generation %d failed: %v", sess.Kind(), gen, err)
		return zero, err
	}
	return sess.Finalize(gen, text)
}
