package form

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Record is the flat, print-ready view of a finished form.
type Record struct {
	Status       Status     `json:"status"`
	FilledAt     string     `json:"filled_at"`
	FullName     string     `json:"full_name"`
	DoctorName   string     `json:"doctor_name"`
	Callsign     string     `json:"callsign"`
	TagNumber    string     `json:"tag_number"`
	EventLabel   string     `json:"event_label"`
	EventAt      string     `json:"event_at"`
	InjuryKind   string     `json:"injury_kind"`
	Diagnosis    string     `json:"diagnosis"`
	Localization string     `json:"localization"`
	EvacMethod   string     `json:"evac_method"`
	Medicines    []Medicine `json:"medicines"`
}

// rawForm is the stored JSON payload. The event timestamp is keyed by status.
type rawForm struct {
	FilledAt          string     `json:"filledAt"`
	FullName          string     `json:"fullName"`
	DoctorName        string     `json:"doctorFio,omitempty"`
	Callsign          string     `json:"callsign"`
	TagNumber         string     `json:"tagNumber"`
	DeathAt           string     `json:"deathAt,omitempty"`
	InjuryAt          string     `json:"injuryAt,omitempty"`
	InjuryKind        string     `json:"injuryKind,omitempty"`
	Diagnosis         string     `json:"diagnosis,omitempty"`
	Localization      []string   `json:"localization,omitempty"`
	LocalizationOther string     `json:"localizationOther,omitempty"`
	EvacMethod        string     `json:"evacMethod"`
	Medicines         []Medicine `json:"medicines,omitempty"`
}

// MarshalRaw encodes d as the stored payload. Wounded-only fields are
// omitted for fatality forms.
func MarshalRaw(d Draft, doctorName string) ([]byte, error) {
	r := rawForm{
		FilledAt:   d.FilledAt,
		FullName:   d.FullName,
		DoctorName: doctorName,
		Callsign:   d.Callsign,
		TagNumber:  d.TagNumber,
		EvacMethod: string(d.EvacMethod),
		Medicines:  d.Medicines,
	}
	if d.Status == StatusFatality {
		r.DeathAt = d.EventAt
	} else {
		r.InjuryAt = d.EventAt
		r.InjuryKind = d.InjuryKind
		r.Diagnosis = d.Diagnosis
		r.LocalizationOther = d.LocalizationOther
		for _, l := range d.Localization {
			r.Localization = append(r.Localization, string(l))
		}
	}
	b, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("form: marshal raw: %w", err)
	}
	return b, nil
}

// UnmarshalRaw decodes a stored payload back into a draft for status.
func UnmarshalRaw(status Status, data []byte) (Draft, string, error) {
	var r rawForm
	if err := json.Unmarshal(data, &r); err != nil {
		return Draft{}, "", fmt.Errorf("form: unmarshal raw: %w", err)
	}
	d := Draft{
		Status:            status,
		FilledAt:          r.FilledAt,
		FullName:          r.FullName,
		Callsign:          r.Callsign,
		TagNumber:         r.TagNumber,
		InjuryKind:        r.InjuryKind,
		Diagnosis:         r.Diagnosis,
		LocalizationOther: r.LocalizationOther,
		EvacMethod:        EvacMethod(r.EvacMethod),
		Medicines:         r.Medicines,
	}
	if status == StatusFatality {
		d.EventAt = r.DeathAt
	} else {
		d.EventAt = r.InjuryAt
	}
	for _, l := range r.Localization {
		d.Localization = append(d.Localization, Localization(l))
	}
	return d, r.DoctorName, nil
}

// RecordFromRaw builds a Record from a stored payload. A malformed payload
// yields a record with empty fields. A non-blank doctorName overrides the
// stored one.
func RecordFromRaw(status Status, data []byte, doctorName string) Record {
	d, stored, err := UnmarshalRaw(status, data)
	if err != nil {
		d = Draft{Status: status}
	}
	if strings.TrimSpace(doctorName) == "" {
		doctorName = stored
	}
	return ToRecord(d, doctorName)
}

// ToRecord flattens d. Localization tags and the free-text remainder are
// joined with ", ".
func ToRecord(d Draft, doctorName string) Record {
	parts := make([]string, 0, len(d.Localization)+1)
	for _, l := range d.Localization {
		if s := strings.TrimSpace(string(l)); s != "" {
			parts = append(parts, s)
		}
	}
	if s := strings.TrimSpace(d.LocalizationOther); s != "" {
		parts = append(parts, s)
	}
	return Record{
		Status:       d.Status,
		FilledAt:     d.FilledAt,
		FullName:     d.FullName,
		DoctorName:   strings.TrimSpace(doctorName),
		Callsign:     d.Callsign,
		TagNumber:    d.TagNumber,
		EventLabel:   d.Status.EventLabel(),
		EventAt:      d.EventAt,
		InjuryKind:   d.InjuryKind,
		Diagnosis:    d.Diagnosis,
		Localization: strings.Join(parts, ", "),
		EvacMethod:   string(d.EvacMethod),
		Medicines:    d.Medicines,
	}
}
