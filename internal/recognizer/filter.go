package recognizer

import (
	"math"
	"strings"

	"github.com/MrWong99/formvox/internal/dictation"
	"github.com/MrWong99/formvox/internal/transcript/phonetic"
	"github.com/MrWong99/formvox/pkg/provider/stt"
)

// maxSnapWords bounds the leading window tried against the grammar.
const maxSnapWords = 3

// grammarFilter snaps misheard command words onto the command grammar.
// Only the leading words of an utterance are considered, since commands
// open the utterance and whatever follows is a value.
type grammarFilter struct {
	phrases  []string
	detector *dictation.Detector
	matcher  *phonetic.Matcher
}

// newGrammarFilter returns nil when threshold disables snapping.
func newGrammarFilter(grammar []string, detector *dictation.Detector, threshold float64) *grammarFilter {
	if threshold <= 0 {
		return nil
	}
	phrases := (stt.StreamConfig{Grammar: grammar}).Phrases()
	return &grammarFilter{
		phrases:  phrases,
		detector: detector,
		matcher: phonetic.New(
			phonetic.WithPhoneticThreshold(threshold),
			phonetic.WithFuzzyThreshold(math.Max(threshold, 0.9)),
		),
	}
}

// apply returns text unchanged when it already names a command or the stop
// word. Otherwise the longest leading window that matches a grammar phrase
// is replaced by that phrase.
func (f *grammarFilter) apply(text string) string {
	if f == nil {
		return text
	}
	norm := dictation.Normalize(text)
	if norm == "" || dictation.IsStopWord(norm) {
		return text
	}
	if _, ok := f.detector.Detect(norm); ok {
		return text
	}
	words := strings.Fields(norm)
	for n := min(maxSnapWords, len(words)); n > 0; n-- {
		head := strings.Join(words[:n], " ")
		corrected, _, ok := f.matcher.Match(head, f.phrases)
		if !ok {
			continue
		}
		return strings.Join(append([]string{corrected}, words[n:]...), " ")
	}
	return text
}
