package dictation

import (
	"fmt"
	"strings"
	"time"

	"github.com/MrWong99/formvox/internal/form"
)

// Result is the outcome of applying one utterance.
type Result struct {
	Draft   form.Draft
	Session Session
	Outcome Outcome
}

// Option configures an [Interpreter].
type Option func(*Interpreter)

// WithClock sets the time source used for "now" timestamps.
func WithClock(now func() time.Time) Option {
	return func(in *Interpreter) { in.now = now }
}

// WithDetector replaces the command detector.
func WithDetector(d *Detector) Option {
	return func(in *Interpreter) { in.detector = d }
}

// WithLocalizationStems replaces the body-region stem table.
func WithLocalizationStems(t StemTable[form.Localization]) Option {
	return func(in *Interpreter) { in.localization = t }
}

// WithEvacStems replaces the evacuation-method stem table.
func WithEvacStems(t StemTable[form.EvacMethod]) Option {
	return func(in *Interpreter) { in.evac = t }
}

// Interpreter is the two-mode dialogue state machine. It holds only
// configuration; all dialogue state travels in [Session] values, so one
// Interpreter serves any number of sessions concurrently.
type Interpreter struct {
	detector     *Detector
	localization StemTable[form.Localization]
	evac         StemTable[form.EvacMethod]
	now          func() time.Time
}

// New returns an Interpreter over the full vocabulary.
func New(opts ...Option) *Interpreter {
	in := &Interpreter{
		detector:     DefaultDetector(),
		localization: LocalizationStems,
		evac:         EvacStems,
		now:          time.Now,
	}
	for _, o := range opts {
		o(in)
	}
	return in
}

// Apply normalizes raw and runs one dialogue step.
func (in *Interpreter) Apply(status form.Status, raw string, draft form.Draft, sess Session) Result {
	return in.ApplyNormalized(status, Normalize(raw), raw, draft, sess)
}

// ApplyNormalized runs one dialogue step for an already normalized
// utterance. raw is only recorded as the last utterance.
func (in *Interpreter) ApplyNormalized(status form.Status, utterance, raw string, draft form.Draft, sess Session) Result {
	if utterance == "" {
		sess.LastUtterance = raw
		return Result{Draft: draft, Session: sess, Outcome: OutcomeIgnored}
	}
	sess.LastUtterance = raw

	if sess.Mode == ModeWaitValue && sess.Active.IsValid() {
		return in.valueStep(status, utterance, draft, sess)
	}
	sess.Mode, sess.Active = ModeWaitCommand, CommandNone
	return in.commandStep(status, utterance, draft, sess)
}

func (in *Interpreter) commandStep(status form.Status, utterance string, draft form.Draft, sess Session) Result {
	m, ok := in.detector.Detect(utterance)
	if !ok {
		sess.StatusText = PromptUnrecognized
		return Result{Draft: draft, Session: sess, Outcome: OutcomeUnrecognized}
	}
	if rest := Strip(utterance, m.Alias); rest != "" {
		return in.fill(status, m.Command, rest, draft, sess)
	}
	return awaitValue(m.Command, draft, sess, OutcomeAwaitingValue)
}

func (in *Interpreter) valueStep(status form.Status, utterance string, draft form.Draft, sess Session) Result {
	active := sess.Active
	value := utterance

	if m, ok := in.detector.Detect(utterance); ok {
		rest := Strip(utterance, m.Alias)
		if m.Command != active {
			if rest == "" {
				return awaitValue(m.Command, draft, sess, OutcomeSwitched)
			}
			return in.fill(status, m.Command, rest, draft, sess)
		}
		value = rest
	}

	if value == "" {
		sess.StatusText = fmt.Sprintf(promptNotHeard, active.Label())
		return Result{Draft: draft, Session: sess, Outcome: OutcomeValueMissing}
	}
	return in.fill(status, active, value, draft, sess)
}

func (in *Interpreter) fill(status form.Status, cmd Command, value string, draft form.Draft, sess Session) Result {
	sess.Mode, sess.Active = ModeWaitCommand, CommandNone
	sess.StatusText = fmt.Sprintf(promptFilled, cmd.Label())
	sess.LastApplied = cmd.Label()
	return Result{
		Draft:   in.ApplyValue(status, draft, cmd, value),
		Session: sess,
		Outcome: OutcomeFilled,
	}
}

func awaitValue(cmd Command, draft form.Draft, sess Session, o Outcome) Result {
	sess.Mode, sess.Active = ModeWaitValue, cmd
	sess.StatusText = fmt.Sprintf(promptDictate, cmd.Label())
	return Result{Draft: draft, Session: sess, Outcome: o}
}

// ApplyValue runs the extractor of cmd on value and writes the result into
// a copy of draft. Injury kind, diagnosis and localization are left
// untouched unless status is [form.StatusWounded].
func (in *Interpreter) ApplyValue(status form.Status, draft form.Draft, cmd Command, value string) form.Draft {
	value = strings.TrimSpace(value)
	wounded := status == form.StatusWounded

	switch cmd {
	case CommandFilledAt:
		return draft.WithFilledAt(ParseTimestamp(value, in.now()))
	case CommandEventAt:
		return draft.WithEventAt(ParseTimestamp(value, in.now()))
	case CommandFullName:
		return draft.WithFullName(TitleCase(value))
	case CommandCallsign:
		return draft.WithCallsign(value)
	case CommandTagNumber:
		return draft.WithTagNumber(UpperTag(value))
	case CommandInjuryKind:
		if wounded {
			return draft.WithInjuryKind(value)
		}
	case CommandDiagnosis:
		if wounded {
			return draft.WithDiagnosis(value)
		}
	case CommandLocalization:
		if wounded {
			tags, other := ParseLocalization(value, in.localization)
			return draft.WithLocalization(tags, other)
		}
	case CommandEvacMethod:
		return draft.WithEvacMethod(ParseEvacMethod(value, in.evac))
	case CommandMedicine:
		return draft.WithMedicine(ParseMedicine(value))
	}
	return draft
}
