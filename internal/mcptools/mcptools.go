// Package mcptools exposes the dictation interpreter and the record store
// as Model Context Protocol tools.
//
// Four tools are registered by [Register]:
//   - "dictation_apply"    runs utterances through the dialogue.
//   - "dictation_grammar"  lists the command vocabulary.
//   - "form_record"        flattens a draft into a print-ready record.
//   - "form_record_get"    loads a stored record. Only with a store.
//
// Tool inputs carry drafts and sessions as plain JSON so partially filled
// drafts from clients validate against the generated schemas.
package mcptools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/MrWong99/formvox/internal/dictation"
	"github.com/MrWong99/formvox/internal/form"
	"github.com/MrWong99/formvox/internal/observe"
	"github.com/MrWong99/formvox/internal/store"
)

// serverName is reported during the MCP handshake.
const serverName = "formvox"

// Config holds the dependencies of the tools.
type Config struct {
	Interpreter *dictation.Interpreter

	// Records backs form_record_get. Nil leaves the tool out.
	Records store.Store

	Metrics *observe.Metrics
	Now     func() time.Time
}

func (c *Config) applyDefaults() {
	if c.Interpreter == nil {
		c.Interpreter = dictation.New()
	}
	if c.Metrics == nil {
		c.Metrics = observe.DefaultMetrics()
	}
	if c.Now == nil {
		c.Now = time.Now
	}
}

// NewServer returns an MCP server with every tool registered.
func NewServer(cfg Config, version string) *mcp.Server {
	server := mcp.NewServer(&mcp.Implementation{Name: serverName, Version: version}, nil)
	Register(server, cfg)
	return server
}

// Register adds the tools to server.
func Register(server *mcp.Server, cfg Config) {
	cfg.applyDefaults()
	t := &toolset{cfg: cfg}

	mcp.AddTool(server, &mcp.Tool{
		Name:        "dictation_apply",
		Description: "Runs recognized utterances through the Form 100 dictation dialogue and returns the updated draft",
	}, instrument(cfg.Metrics, "dictation_apply", t.apply))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "dictation_grammar",
		Description: "Lists the spoken field commands and the recognizer grammar",
	}, instrument(cfg.Metrics, "dictation_grammar", t.grammar))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "form_record",
		Description: "Flattens a Form 100 draft into the print-ready record",
	}, instrument(cfg.Metrics, "form_record", t.record))

	if cfg.Records != nil {
		mcp.AddTool(server, &mcp.Tool{
			Name:        "form_record_get",
			Description: "Loads a saved Form 100 record by id",
		}, instrument(cfg.Metrics, "form_record_get", t.recordGet))
	}
}

// instrument wraps a handler with a span and the tool call counter.
func instrument[I, O any](m *observe.Metrics, name string, h mcp.ToolHandlerFor[I, O]) mcp.ToolHandlerFor[I, O] {
	return func(ctx context.Context, req *mcp.CallToolRequest, in I) (*mcp.CallToolResult, O, error) {
		ctx, span := observe.StartSpan(ctx, "mcp."+name)
		defer span.End()

		res, out, err := h(ctx, req, in)
		status := "ok"
		if err != nil {
			status = "error"
			span.RecordError(err)
			observe.Logger(ctx).Debug("mcp tool failed", "tool", name, "err", err)
		}
		m.RecordToolCall(ctx, name, status)
		return res, out, err
	}
}

type toolset struct {
	cfg Config
}

// SessionState is the dialogue position passed between dictation_apply calls.
type SessionState struct {
	Mode          string `json:"mode,omitempty" jsonschema:"WAIT_COMMAND or WAIT_VALUE"`
	ActiveCommand string `json:"active_command,omitempty" jsonschema:"field awaiting a value, set only in WAIT_VALUE"`
	StatusText    string `json:"status_text,omitempty" jsonschema:"prompt for the user"`
}

// ApplyInput is the input of dictation_apply.
type ApplyInput struct {
	Status     string         `json:"status" jsonschema:"FATALITY or WOUNDED"`
	Utterances []string       `json:"utterances" jsonschema:"final utterances in the order they were spoken"`
	Draft      map[string]any `json:"draft,omitempty" jsonschema:"draft returned by an earlier call"`
	Session    *SessionState  `json:"session,omitempty" jsonschema:"session returned by an earlier call"`
}

// Step is the effect of one utterance.
type Step struct {
	Utterance string `json:"utterance"`
	Outcome   string `json:"outcome"`
	Prompt    string `json:"prompt"`
}

// ApplyResult is the output of dictation_apply.
type ApplyResult struct {
	Draft   form.Draft   `json:"draft"`
	Session SessionState `json:"session"`
	Steps   []Step       `json:"steps"`
}

func (t *toolset) apply(_ context.Context, _ *mcp.CallToolRequest, in ApplyInput) (*mcp.CallToolResult, ApplyResult, error) {
	status, err := parseStatus(in.Status)
	if err != nil {
		return nil, ApplyResult{}, err
	}
	draft, err := decodeDraft(status, in.Draft, t.cfg.Now())
	if err != nil {
		return nil, ApplyResult{}, err
	}
	sess, err := decodeSession(in.Session)
	if err != nil {
		return nil, ApplyResult{}, err
	}

	steps := make([]Step, 0, len(in.Utterances))
	for _, u := range in.Utterances {
		res := t.cfg.Interpreter.Apply(status, u, draft, sess)
		draft, sess = res.Draft, res.Session
		steps = append(steps, Step{Utterance: u, Outcome: res.Outcome.String(), Prompt: sess.StatusText})
	}
	return nil, ApplyResult{Draft: nonNil(draft), Session: encodeSession(sess), Steps: steps}, nil
}

// CommandInfo describes one field command.
type CommandInfo struct {
	Name    string   `json:"name"`
	Label   string   `json:"label"`
	Aliases []string `json:"aliases"`
}

// GrammarResult is the output of dictation_grammar.
type GrammarResult struct {
	Commands []CommandInfo `json:"commands"`
	Grammar  []string      `json:"grammar" jsonschema:"phrases the recognizer listens for between fields"`
	StopWord string        `json:"stop_word"`
}

func (t *toolset) grammar(context.Context, *mcp.CallToolRequest, struct{}) (*mcp.CallToolResult, GrammarResult, error) {
	cmds := dictation.Commands()
	out := GrammarResult{
		Commands: make([]CommandInfo, 0, len(cmds)),
		Grammar:  dictation.Grammar(),
		StopWord: dictation.StopWord,
	}
	for _, c := range cmds {
		out.Commands = append(out.Commands, CommandInfo{Name: c.String(), Label: c.Label(), Aliases: c.Aliases()})
	}
	return nil, out, nil
}

// RecordInput is the input of form_record.
type RecordInput struct {
	Status     string         `json:"status" jsonschema:"FATALITY or WOUNDED"`
	Draft      map[string]any `json:"draft" jsonschema:"draft to flatten"`
	DoctorName string         `json:"doctor_name,omitempty" jsonschema:"name of the filling doctor"`
}

// RecordResult is the output of form_record.
type RecordResult struct {
	Record form.Record `json:"record"`
}

func (t *toolset) record(_ context.Context, _ *mcp.CallToolRequest, in RecordInput) (*mcp.CallToolResult, RecordResult, error) {
	status, err := parseStatus(in.Status)
	if err != nil {
		return nil, RecordResult{}, err
	}
	draft, err := decodeDraft(status, in.Draft, t.cfg.Now())
	if err != nil {
		return nil, RecordResult{}, err
	}
	return nil, RecordResult{Record: nonNilRecord(form.ToRecord(draft, in.DoctorName))}, nil
}

// RecordGetInput is the input of form_record_get.
type RecordGetInput struct {
	ID string `json:"id" jsonschema:"record id"`
}

// StoredRecord is the output of form_record_get.
type StoredRecord struct {
	ID        string      `json:"id"`
	CreatedAt string      `json:"created_at"`
	Record    form.Record `json:"record"`
}

func (t *toolset) recordGet(ctx context.Context, _ *mcp.CallToolRequest, in RecordGetInput) (*mcp.CallToolResult, StoredRecord, error) {
	if in.ID == "" {
		return nil, StoredRecord{}, errors.New("id is required")
	}
	rec, err := t.cfg.Records.Get(ctx, in.ID)
	if err != nil {
		return nil, StoredRecord{}, fmt.Errorf("load record %s: %w", in.ID, err)
	}
	return nil, StoredRecord{
		ID:        rec.ID,
		CreatedAt: rec.CreatedAt.UTC().Format(time.RFC3339),
		Record:    nonNilRecord(rec.Form()),
	}, nil
}

func parseStatus(s string) (form.Status, error) {
	status := form.Status(s)
	if !status.IsValid() {
		return "", fmt.Errorf("status must be %s or %s, got %q", form.StatusFatality, form.StatusWounded, s)
	}
	return status, nil
}

// decodeDraft rebuilds a draft from its JSON object. A missing draft starts
// a fresh one.
func decodeDraft(status form.Status, raw map[string]any, now time.Time) (form.Draft, error) {
	if raw == nil {
		return form.NewDraft(status, now), nil
	}
	b, err := json.Marshal(raw)
	if err != nil {
		return form.Draft{}, fmt.Errorf("encode draft: %w", err)
	}
	var d form.Draft
	if err := json.Unmarshal(b, &d); err != nil {
		return form.Draft{}, fmt.Errorf("invalid draft: %w", err)
	}
	return d.WithStatus(status), nil
}

func decodeSession(in *SessionState) (dictation.Session, error) {
	sess := dictation.NewSession()
	if in == nil {
		return sess, nil
	}
	if err := sess.Mode.UnmarshalText([]byte(in.Mode)); err != nil {
		return dictation.Session{}, err
	}
	cmd, err := dictation.ParseCommand(in.ActiveCommand)
	if err != nil {
		return dictation.Session{}, err
	}
	sess.Active = cmd
	if !sess.Consistent() {
		return dictation.Session{}, errors.New("active_command must be set exactly when mode is WAIT_VALUE")
	}
	if in.StatusText != "" {
		sess.StatusText = in.StatusText
	}
	return sess, nil
}

func encodeSession(s dictation.Session) SessionState {
	out := SessionState{Mode: s.Mode.String(), StatusText: s.StatusText}
	if s.Active.IsValid() {
		out.ActiveCommand = s.Active.String()
	}
	return out
}

// nonNil replaces nil slices so the structured output always carries arrays.
func nonNil(d form.Draft) form.Draft {
	if d.Localization == nil {
		d.Localization = []form.Localization{}
	}
	if d.Medicines == nil {
		d.Medicines = []form.Medicine{}
	}
	return d
}

func nonNilRecord(r form.Record) form.Record {
	if r.Medicines == nil {
		r.Medicines = []form.Medicine{}
	}
	return r
}
