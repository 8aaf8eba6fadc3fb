// Package blacklist holds the set of forbidden terms used by moderation.
//
// The active set is an immutable Snapshot behind an atomic pointer. Readers
// load the pointer once per check and never lock; Replace builds a complete
// new Snapshot before publishing it, so a reader observes either the old or
// the new set and never a mix.
package blacklist

import (
	"log/slog"
	"strings"
	"sync/atomic"

	"github.com/ferro-labs/chatproxy/internal/metrics"
	"github.com/ferro-labs/chatproxy/internal/textnorm"
)

// Snapshot is one immutable version of the blacklist.
type Snapshot struct {
	words []string
	terms map[string]struct{}
}

// Contains reports whether token is a forbidden term. token must already be
// normalized (see textnorm.Normalize). Terms are entries folded whole, never
// split, so an entry with punctuation or spaces matches no token.
func (s *Snapshot) Contains(token string) bool {
	if s == nil || len(s.terms) == 0 {
		return false
	}
	_, ok := s.terms[token]
	return ok
}

// Words returns a copy of the raw configured word list, in configured order.
func (s *Snapshot) Words() []string {
	if s == nil {
		return []string{}
	}
	out := make([]string, len(s.words))
	copy(out, s.words)
	return out
}

// Len returns the number of distinct normalized terms.
func (s *Snapshot) Len() int {
	if s == nil {
		return 0
	}
	return len(s.terms)
}

// Store publishes the current Snapshot.
type Store struct {
	current atomic.Pointer[Snapshot]
}

// New creates a Store initialised with words.
func New(words []string) *Store {
	s := &Store{}
	s.Replace(words)
	return s
}

// Current returns the active snapshot. The returned value must be treated as
// read-only and is safe to use for the duration of one check.
func (s *Store) Current() *Snapshot {
	return s.current.Load()
}

// Replace swaps in a snapshot built from words. It is the only mutator.
func (s *Store) Replace(words []string) {
	snap := build(words)
	s.current.Store(snap)
	metrics.BlacklistTerms.Set(float64(snap.Len()))
}

func build(words []string) *Snapshot {
	snap := &Snapshot{
		words: make([]string, 0, len(words)),
		terms: make(map[string]struct{}, len(words)),
	}
	for _, w := range words {
		snap.words = append(snap.words, w)
		term := textnorm.Fold(strings.TrimSpace(w))
		if term == "" {
			continue
		}
		snap.terms[term] = struct{}{}
		if tokens := textnorm.Tokenize(term); len(tokens) != 1 || tokens[0] != term {
			// Prompts are matched per token, so this term is stored but inert.
			slog.Warn("blacklist entry contains separators and can never match", "entry", w)
		}
	}
	return snap
}
