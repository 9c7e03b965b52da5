package form

import "slices"

// The single-field setters below return a copy of d with that field
// replaced. The receiver is never modified.

func (d Draft) WithFilledAt(v string) Draft   { d.FilledAt = v; return d }
func (d Draft) WithFullName(v string) Draft   { d.FullName = v; return d }
func (d Draft) WithCallsign(v string) Draft   { d.Callsign = v; return d }
func (d Draft) WithTagNumber(v string) Draft  { d.TagNumber = v; return d }
func (d Draft) WithEventAt(v string) Draft    { d.EventAt = v; return d }
func (d Draft) WithInjuryKind(v string) Draft { d.InjuryKind = v; return d }
func (d Draft) WithDiagnosis(v string) Draft  { d.Diagnosis = v; return d }

// WithEvacMethod returns a copy of d with the evacuation method replaced.
func (d Draft) WithEvacMethod(m EvacMethod) Draft {
	d.EvacMethod = m
	return d
}

// WithLocalization returns a copy of d with the localization set and the
// free-text remainder replaced. Duplicate tags are collapsed and the result
// is kept in [Localizations] order.
func (d Draft) WithLocalization(tags []Localization, other string) Draft {
	set := make([]Localization, 0, len(tags))
	for _, l := range Localizations {
		if slices.Contains(tags, l) {
			set = append(set, l)
		}
	}
	d.Localization = set
	d.LocalizationOther = other
	return d
}

// WithMedicine returns a copy of d with m appended to the medicine list.
// The receiver's backing array is never shared with the result.
func (d Draft) WithMedicine(m Medicine) Draft {
	meds := make([]Medicine, len(d.Medicines), len(d.Medicines)+1)
	copy(meds, d.Medicines)
	d.Medicines = append(meds, m)
	return d
}

// WithStatus returns a copy of d with a different casualty status.
func (d Draft) WithStatus(s Status) Draft {
	d.Status = s
	return d
}

// HasLocalization reports whether tag is part of the localization set.
func (d Draft) HasLocalization(tag Localization) bool {
	return slices.Contains(d.Localization, tag)
}

// Clone returns a deep copy of d.
func (d Draft) Clone() Draft {
	d.Localization = slices.Clone(d.Localization)
	d.Medicines = slices.Clone(d.Medicines)
	return d
}
