package dictation

import (
	"strings"

	"github.com/MrWong99/formvox/internal/form"
)

// StemRule maps word stems to a canonical value.
type StemRule[T any] struct {
	Stems []string
	Value T
}

// StemTable is an ordered list of stem rules. A stem matches when some word
// of the scanned text starts with it.
type StemTable[T any] []StemRule[T]

// First returns the value of the first rule with a matching stem.
func (t StemTable[T]) First(text string) (T, bool) {
	words := strings.Fields(text)
	for _, r := range t {
		if r.matches(words) {
			return r.Value, true
		}
	}
	var zero T
	return zero, false
}

// All returns the values of every rule with a matching stem, in table order.
func (t StemTable[T]) All(text string) []T {
	words := strings.Fields(text)
	var out []T
	for _, r := range t {
		if r.matches(words) {
			out = append(out, r.Value)
		}
	}
	return out
}

func (r StemRule[T]) matches(words []string) bool {
	for _, w := range words {
		for _, s := range r.Stems {
			if s != "" && strings.HasPrefix(w, s) {
				return true
			}
		}
	}
	return false
}

// LocalizationStems recognizes body regions.
var LocalizationStems = StemTable[form.Localization]{
	{Stems: []string{"голов"}, Value: form.LocalizationHead},
	{Stems: []string{"ше"}, Value: form.LocalizationNeck},
	{Stems: []string{"груд"}, Value: form.LocalizationChest},
	{Stems: []string{"живот", "жив"}, Value: form.LocalizationAbdomen},
	{Stems: []string{"таз"}, Value: form.LocalizationPelvis},
	{Stems: []string{"рук"}, Value: form.LocalizationArm},
	{Stems: []string{"ног"}, Value: form.LocalizationLeg},
	{Stems: []string{"множе"}, Value: form.LocalizationMultiple},
}

// EvacStems recognizes evacuation methods. Earlier rules win.
var EvacStems = StemTable[form.EvacMethod]{
	{Stems: []string{"самостоятель"}, Value: form.EvacSelf},
	{Stems: []string{"санитар"}, Value: form.EvacMedical},
	{Stems: []string{"грузов"}, Value: form.EvacCargo},
	{Stems: []string{"вертол"}, Value: form.EvacHelicopter},
}
