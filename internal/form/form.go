// Package form defines the Form 100 draft that a dictation session fills in.
//
// A [Draft] is a value type. Every With* method returns a new Draft and leaves
// the receiver untouched, including its slices, so callers can keep earlier
// drafts around for undo or comparison without defensive copying.
package form

import "time"

// TimeLayout is the display layout for timestamp fields (dd.mm.yyyy hh:mm).
const TimeLayout = "02.01.2006 15:04"

// Status is the casualty status the form is filled for.
type Status string

const (
	// StatusFatality marks a form for a killed casualty.
	StatusFatality Status = "FATALITY"

	// StatusWounded marks a form for a wounded casualty.
	StatusWounded Status = "WOUNDED"
)

// IsValid reports whether s is a known status.
func (s Status) IsValid() bool {
	switch s {
	case StatusFatality, StatusWounded:
		return true
	}
	return false
}

// EventLabel returns the human-readable label of the event timestamp for s.
func (s Status) EventLabel() string {
	if s == StatusFatality {
		return "Время смерти"
	}
	return "Время ранения"
}

// Localization is a canonical body-region tag.
type Localization string

const (
	LocalizationHead     Localization = "голова"
	LocalizationNeck     Localization = "шея"
	LocalizationChest    Localization = "грудь"
	LocalizationAbdomen  Localization = "живот"
	LocalizationPelvis   Localization = "таз"
	LocalizationArm      Localization = "рука"
	LocalizationLeg      Localization = "нога"
	LocalizationMultiple Localization = "множественные"
	LocalizationOther    Localization = "другое"
)

// Localizations lists every tag in display order.
var Localizations = []Localization{
	LocalizationHead,
	LocalizationNeck,
	LocalizationChest,
	LocalizationAbdomen,
	LocalizationPelvis,
	LocalizationArm,
	LocalizationLeg,
	LocalizationMultiple,
	LocalizationOther,
}

// EvacMethod is the canonical evacuation method.
type EvacMethod string

const (
	EvacNone       EvacMethod = ""
	EvacSelf       EvacMethod = "самостоятельно"
	EvacMedical    EvacMethod = "санитарный транспорт"
	EvacCargo      EvacMethod = "грузовой транспорт"
	EvacHelicopter EvacMethod = "вертолёт"
	EvacOther      EvacMethod = "иное"
)

// Medicine is one administered medicine entry. Both fields default to "-".
type Medicine struct {
	Name     string `json:"name"`
	Quantity string `json:"qty"`
}

// Draft is the in-progress form.
type Draft struct {
	Status            Status         `json:"status"`
	FilledAt          string         `json:"filledAt"`
	FullName          string         `json:"fullName"`
	Callsign          string         `json:"callsign"`
	TagNumber         string         `json:"tagNumber"`
	EventAt           string         `json:"eventAt"`
	InjuryKind        string         `json:"injuryKind"`
	Diagnosis         string         `json:"diagnosis"`
	Localization      []Localization `json:"localization"`
	LocalizationOther string         `json:"localizationOther"`
	EvacMethod        EvacMethod     `json:"evacMethod"`
	Medicines         []Medicine     `json:"medicines"`
}

// NewDraft returns an empty draft for status with both timestamps seeded
// from now.
func NewDraft(status Status, now time.Time) Draft {
	ts := now.Format(TimeLayout)
	return Draft{
		Status:   status,
		FilledAt: ts,
		EventAt:  ts,
	}
}
