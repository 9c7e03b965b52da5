package dictation

import (
	"sort"
	"strings"
	"sync"
	"unicode/utf8"
)

// Match is a detected command and the alias that selected it.
type Match struct {
	Command Command
	Alias   string
}

type candidate struct {
	cmd   Command
	alias string
	width int
}

// Detector finds field commands inside normalized utterances. It is
// read-only after construction and safe for concurrent use.
type Detector struct {
	candidates []candidate
}

// NewDetector builds a detector over cmds. Aliases are normalized and
// ordered longest first; aliases of equal length keep the order of cmds and
// then the order within each command.
func NewDetector(cmds ...Command) *Detector {
	if len(cmds) == 0 {
		cmds = Commands()
	}
	seen := make(map[string]bool)
	var cands []candidate
	for _, c := range cmds {
		for _, a := range c.Aliases() {
			a = Normalize(a)
			if a == "" || seen[a] {
				continue
			}
			seen[a] = true
			cands = append(cands, candidate{cmd: c, alias: a, width: utf8.RuneCountInString(a)})
		}
	}
	sort.SliceStable(cands, func(i, j int) bool {
		return cands[i].width > cands[j].width
	})
	return &Detector{candidates: cands}
}

var defaultDetector = sync.OnceValue(func() *Detector { return NewDetector() })

// DefaultDetector returns the shared detector over the full vocabulary.
func DefaultDetector() *Detector {
	return defaultDetector()
}

// Detect returns the command whose alias occurs in utterance as whole words.
// The longest alias wins. Among matching aliases of equal length the one
// occurring first in utterance wins, then vocabulary order.
func (d *Detector) Detect(utterance string) (Match, bool) {
	if utterance == "" {
		return Match{}, false
	}
	best, bestPos := -1, -1
	for i, c := range d.candidates {
		if best >= 0 && c.width < d.candidates[best].width {
			break
		}
		pos := indexWord(utterance, c.alias)
		if pos < 0 {
			continue
		}
		if best < 0 || pos < bestPos {
			best, bestPos = i, pos
		}
	}
	if best < 0 {
		return Match{}, false
	}
	c := d.candidates[best]
	return Match{Command: c.cmd, Alias: c.alias}, true
}

// Aliases returns the detector's normalized aliases in match order.
func (d *Detector) Aliases() []string {
	out := make([]string, len(d.candidates))
	for i, c := range d.candidates {
		out[i] = c.alias
	}
	return out
}

// indexWord returns the byte offset of the first occurrence of word in s
// that is bounded by the string ends or spaces, or -1.
func indexWord(s, word string) int {
	if word == "" {
		return -1
	}
	padded := " " + s + " "
	i := strings.Index(padded, " "+word+" ")
	if i < 0 {
		return -1
	}
	return i
}

// Strip removes the first whole-word occurrence of alias from utterance and
// collapses the remaining whitespace.
func Strip(utterance, alias string) string {
	i := indexWord(utterance, alias)
	if i < 0 {
		return collapse(utterance)
	}
	return collapse(utterance[:i] + " " + utterance[i+len(alias):])
}
