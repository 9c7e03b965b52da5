package dictation

import (
	"encoding/json"
	"fmt"
)

const (
	// StopWord ends listening when heard in command mode.
	StopWord = "стоп"

	// UnknownToken is the out-of-vocabulary catch-all of the command grammar.
	UnknownToken = "[unk]"
)

// Grammar returns the command-mode vocabulary: every distinct alias in
// vocabulary order, then [StopWord] and [UnknownToken].
func Grammar() []string {
	seen := make(map[string]bool)
	var out []string
	for _, c := range Commands() {
		for _, a := range c.Aliases() {
			a = Normalize(a)
			if a == "" || seen[a] {
				continue
			}
			seen[a] = true
			out = append(out, a)
		}
	}
	return append(out, StopWord, UnknownToken)
}

// GrammarJSON returns [Grammar] encoded as a JSON array of strings.
func GrammarJSON() ([]byte, error) {
	b, err := json.Marshal(Grammar())
	if err != nil {
		return nil, fmt.Errorf("dictation: encode grammar: %w", err)
	}
	return b, nil
}

// IsStopWord reports whether the normalized utterance is the stop word.
func IsStopWord(utterance string) bool {
	return Normalize(utterance) == StopWord
}
