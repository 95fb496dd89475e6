// Package sentence turns a stream of recognized words into sentences by
// matching a rolling history against target phrases.
package sentence

import (
	"strings"
	"sync"
	"unicode"
	"unicode/utf8"
)

// DefaultHistorySize is the number of recent words kept by a Matcher.
const DefaultHistorySize = 5

// DefaultPhrases are the built-in target sentences.
var DefaultPhrases = []string{
	"what is your name",
	"how are you",
	"i need water",
	"good morning",
	"where is the toilet",
	"i am fine",
	"thank you",
	"please help me",
	"nice to meet you",
	"i love you",
}

// Matcher keeps the most recent recognized words, oldest first.
// It is safe for concurrent use.
type Matcher struct {
	mu      sync.Mutex
	size    int
	history []string
}

// NewMatcher creates a Matcher holding up to size words.
// Sizes less than or equal to 0 select DefaultHistorySize.
func NewMatcher(size int) *Matcher {
	if size <= 0 {
		size = DefaultHistorySize
	}
	return &Matcher{size: size}
}

// Push appends the lowercased word, evicting the oldest beyond capacity.
// Blank words are ignored.
func (m *Matcher) Push(word string) {
	word = strings.ToLower(strings.TrimSpace(word))
	if word == "" {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.history = append(m.history, word)
	if len(m.history) > m.size {
		m.history = append([]string(nil), m.history[len(m.history)-m.size:]...)
	}
}

// History returns a copy of the current history, oldest first.
func (m *Matcher) History() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.history...)
}

// Match checks the current history against targets.
func (m *Matcher) Match(targets []string) (string, bool) {
	return CheckMatch(m.History(), targets)
}

// Reset clears the history.
func (m *Matcher) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.history = nil
}

// Size returns the history capacity.
func (m *Matcher) Size() int {
	return m.size
}

// CheckMatch joins history with single spaces and returns the first target,
// in list order, that occurs in it as a contiguous substring. The first
// match wins even when a later target is longer.
func CheckMatch(history []string, targets []string) (string, bool) {
	if len(history) == 0 {
		return "", false
	}

	joined := strings.Join(history, " ")
	for _, target := range targets {
		if target == "" {
			continue
		}
		if strings.Contains(joined, target) {
			return target, true
		}
	}
	return "", false
}

// Targets returns builtins followed by every label containing a space,
// lowercased, with duplicates removed keeping the first occurrence.
func Targets(builtins []string, labels []string) []string {
	seen := make(map[string]bool, len(builtins)+len(labels))
	targets := make([]string, 0, len(builtins)+len(labels))

	add := func(s string) {
		s = strings.ToLower(strings.TrimSpace(s))
		if s == "" || seen[s] {
			return
		}
		seen[s] = true
		targets = append(targets, s)
	}

	for _, b := range builtins {
		add(b)
	}
	for _, l := range labels {
		if strings.Contains(strings.TrimSpace(l), " ") {
			add(l)
		}
	}
	return targets
}

// Display capitalizes the first letter of a sentence for presentation.
func Display(sentence string) string {
	r, size := utf8.DecodeRuneInString(sentence)
	if r == utf8.RuneError {
		return sentence
	}
	return string(unicode.ToUpper(r)) + sentence[size:]
}
