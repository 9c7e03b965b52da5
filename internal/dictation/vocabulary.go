// Package dictation turns recognized speech into Form 100 edits.
//
// The package is pure: [Normalize], the [Detector], the value extractors and
// [Interpreter.Apply] perform no I/O and never fail. Callers serialize calls
// per session and own the resulting [form.Draft] and [Session] values.
package dictation

import (
	"fmt"
	"slices"
)

// Command identifies one dictatable form field.
type Command int

// CommandNone is the zero Command, used when no field is active.
const CommandNone Command = 0

const (
	CommandFilledAt Command = iota + 1
	CommandFullName
	CommandCallsign
	CommandTagNumber
	CommandEventAt
	CommandInjuryKind
	CommandDiagnosis
	CommandLocalization
	CommandEvacMethod
	CommandMedicine
)

type commandInfo struct {
	name    string
	label   string
	aliases []string
}

// vocabulary is indexed by Command. Order here is the enumeration order used
// for detector tie-breaks.
var vocabulary = [...]commandInfo{
	CommandNone:         {name: "NONE"},
	CommandFilledAt:     {"FILLED_AT", "Время заполнения", []string{"время заполнения", "заполнение", "дата заполнения"}},
	CommandFullName:     {"FULL_NAME", "ФИО", []string{"фио", "ф и о", "фамилия имя отчество"}},
	CommandCallsign:     {"CALLSIGN", "Позывной", []string{"позывной", "позыв"}},
	CommandTagNumber:    {"TAG_NUMBER", "Номер жетона", []string{"номер жетона", "жетон", "личный номер"}},
	CommandEventAt:      {"EVENT_AT", "Время события", []string{"время ранения", "время смерти", "дата ранения", "дата смерти", "событие"}},
	CommandInjuryKind:   {"INJURY_KIND", "Вид поражения", []string{"вид поражения", "поражение"}},
	CommandDiagnosis:    {"DIAGNOSIS", "Диагноз", []string{"диагноз"}},
	CommandLocalization: {"LOCALIZATION", "Локализация", []string{"локализация", "место ранения"}},
	CommandEvacMethod:   {"EVAC_METHOD", "Способ эвакуации", []string{"способ эвакуации", "эвакуация", "эвак"}},
	CommandMedicine:     {"MEDICINE", "Препарат и количество", []string{"препарат и количество", "препарат количество", "количество препарата", "препарат", "лекарство", "медикамент"}},
}

// Commands returns every command in enumeration order.
func Commands() []Command {
	out := make([]Command, 0, len(vocabulary)-1)
	for c := CommandFilledAt; int(c) < len(vocabulary); c++ {
		out = append(out, c)
	}
	return out
}

// IsValid reports whether c names a field.
func (c Command) IsValid() bool {
	return c > CommandNone && int(c) < len(vocabulary)
}

// Label returns the human-readable field name used in prompts.
func (c Command) Label() string {
	if !c.IsValid() {
		return ""
	}
	return vocabulary[c].label
}

// Aliases returns the spoken phrases that select c.
func (c Command) Aliases() []string {
	if !c.IsValid() {
		return nil
	}
	return slices.Clone(vocabulary[c].aliases)
}

func (c Command) String() string {
	if c < CommandNone || int(c) >= len(vocabulary) {
		return fmt.Sprintf("Command(%d)", int(c))
	}
	return vocabulary[c].name
}

// MarshalText implements [encoding.TextMarshaler].
func (c Command) MarshalText() ([]byte, error) {
	if c == CommandNone {
		return []byte{}, nil
	}
	if !c.IsValid() {
		return nil, fmt.Errorf("dictation: invalid command %d", int(c))
	}
	return []byte(vocabulary[c].name), nil
}

// UnmarshalText implements [encoding.TextUnmarshaler].
func (c *Command) UnmarshalText(b []byte) error {
	cmd, err := ParseCommand(string(b))
	if err != nil {
		return err
	}
	*c = cmd
	return nil
}

// ParseCommand returns the command with the given name. An empty name
// yields [CommandNone].
func ParseCommand(name string) (Command, error) {
	if name == "" || name == "NONE" {
		return CommandNone, nil
	}
	for _, c := range Commands() {
		if vocabulary[c].name == name {
			return c, nil
		}
	}
	return CommandNone, fmt.Errorf("dictation: unknown command %q", name)
}
