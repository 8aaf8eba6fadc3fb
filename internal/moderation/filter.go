// Package moderation decides whether a prompt may be forwarded upstream and
// provides the HTTP interceptor that enforces that decision on the chat route.
package moderation

import (
	"strings"

	"github.com/ferro-labs/chatproxy/internal/blacklist"
	"github.com/ferro-labs/chatproxy/internal/textnorm"
)

// Verdict is the outcome of one moderation check.
type Verdict struct {
	Blocked bool
	// Term is the first normalized prompt token found in the blacklist.
	Term string
}

// Filter matches prompt tokens against the blacklist store.
type Filter struct {
	store *blacklist.Store
}

// NewFilter creates a Filter reading from store.
func NewFilter(store *blacklist.Store) *Filter {
	return &Filter{store: store}
}

// Check normalizes text and reports the first token, in input order, present
// in the blacklist. A single snapshot is used for the whole scan.
func (f *Filter) Check(text string) Verdict {
	if strings.TrimSpace(text) == "" {
		return Verdict{}
	}
	return CheckTokens(f.store.Current(), textnorm.Normalize(text))
}

// CheckTokens scans already-normalized tokens against snap.
func CheckTokens(snap *blacklist.Snapshot, tokens []string) Verdict {
	if snap.Len() == 0 {
		return Verdict{}
	}
	for _, tok := range tokens {
		if snap.Contains(tok) {
			return Verdict{Blocked: true, Term: tok}
		}
	}
	return Verdict{}
}
