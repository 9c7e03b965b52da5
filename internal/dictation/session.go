package dictation

import "fmt"

// Mode is the dialogue state.
type Mode int

const (
	// ModeWaitCommand waits for a field name.
	ModeWaitCommand Mode = iota
	// ModeWaitValue waits for the value of the active field.
	ModeWaitValue
)

func (m Mode) String() string {
	switch m {
	case ModeWaitCommand:
		return "WAIT_COMMAND"
	case ModeWaitValue:
		return "WAIT_VALUE"
	}
	return fmt.Sprintf("Mode(%d)", int(m))
}

// MarshalText implements [encoding.TextMarshaler].
func (m Mode) MarshalText() ([]byte, error) {
	switch m {
	case ModeWaitCommand, ModeWaitValue:
		return []byte(m.String()), nil
	}
	return nil, fmt.Errorf("dictation: invalid mode %d", int(m))
}

// UnmarshalText implements [encoding.TextUnmarshaler].
func (m *Mode) UnmarshalText(b []byte) error {
	switch string(b) {
	case "", "WAIT_COMMAND":
		*m = ModeWaitCommand
	case "WAIT_VALUE":
		*m = ModeWaitValue
	default:
		return fmt.Errorf("dictation: unknown mode %q", string(b))
	}
	return nil
}

// Prompts shown to the user through Session.StatusText.
const (
	PromptSayField     = "Скажите название поля"
	PromptUnrecognized = "Команда не распознана. Скажите: ФИО / позывной / жетон / диагноз ..."
	promptFilled       = "Поле %s заполнено. Скажите следующее поле"
	promptDictate      = "Диктуйте значение для поля: %s"
	promptNotHeard     = "Не расслышано значение для поля: %s"
)

// Session is the dialogue state of one dictation. Active is set if and only
// if Mode is [ModeWaitValue].
type Session struct {
	Mode          Mode    `json:"mode"`
	Active        Command `json:"active_command,omitempty"`
	LastUtterance string  `json:"last_utterance"`
	StatusText    string  `json:"status_text"`
	LastApplied   string  `json:"last_applied"`
}

// NewSession returns the initial session.
func NewSession() Session {
	return Session{Mode: ModeWaitCommand, StatusText: PromptSayField}
}

// Consistent reports whether s satisfies the active-command invariant.
func (s Session) Consistent() bool {
	if s.Mode == ModeWaitValue {
		return s.Active.IsValid()
	}
	return s.Active == CommandNone
}

// Outcome classifies what an utterance did.
type Outcome int

const (
	// OutcomeIgnored is a blank utterance.
	OutcomeIgnored Outcome = iota
	// OutcomeUnrecognized is a command-mode utterance without any alias.
	OutcomeUnrecognized
	// OutcomeAwaitingValue is a bare command.
	OutcomeAwaitingValue
	// OutcomeSwitched is a bare command that replaced a pending one.
	OutcomeSwitched
	// OutcomeFilled wrote a field.
	OutcomeFilled
	// OutcomeValueMissing is a value-mode utterance that left no value.
	OutcomeValueMissing
)

func (o Outcome) String() string {
	switch o {
	case OutcomeIgnored:
		return "ignored"
	case OutcomeUnrecognized:
		return "unrecognized"
	case OutcomeAwaitingValue:
		return "awaiting_value"
	case OutcomeSwitched:
		return "switched"
	case OutcomeFilled:
		return "filled"
	case OutcomeValueMissing:
		return "value_missing"
	}
	return fmt.Sprintf("Outcome(%d)", int(o))
}

// MarshalText implements [encoding.TextMarshaler].
func (o Outcome) MarshalText() ([]byte, error) {
	return []byte(o.String()), nil
}
