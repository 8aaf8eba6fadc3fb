package moderation

import (
	"sync"
	"testing"

	"github.com/ferro-labs/chatproxy/internal/blacklist"
)

func TestFilter_Check(t *testing.T) {
	f := NewFilter(blacklist.New([]string{"forbidden", "Café", "secret"}))

	tests := []struct {
		name        string
		text        string
		wantBlocked bool
		wantTerm    string
	}{
		{"clean", "hello there", false, ""},
		{"exact", "this is forbidden content", true, "forbidden"},
		{"case insensitive", "This is FORBIDDEN", true, "forbidden"},
		{"accent insensitive text", "meet me at the cafe", true, "cafe"},
		{"accent insensitive upper", "CAFÉ now", true, "cafe"},
		{"punctuation boundary", "forbidden!", true, "forbidden"},
		{"substring does not match", "forbiddenness is fine", false, ""},
		{"first match in input order", "secret and forbidden", true, "secret"},
		{"first match reversed", "forbidden and secret", true, "forbidden"},
		{"empty", "", false, ""},
		{"whitespace", "   \t", false, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := f.Check(tt.text)
			if v.Blocked != tt.wantBlocked {
				t.Fatalf("Blocked = %v, want %v", v.Blocked, tt.wantBlocked)
			}
			if v.Term != tt.wantTerm {
				t.Errorf("Term = %q, want %q", v.Term, tt.wantTerm)
			}
		})
	}
}

func TestFilter_EmptyBlacklistNeverBlocks(t *testing.T) {
	f := NewFilter(blacklist.New(nil))
	if v := f.Check("anything at all, even forbidden"); v.Blocked {
		t.Errorf("empty blacklist blocked: %+v", v)
	}
}

func TestFilter_SeesReplacement(t *testing.T) {
	store := blacklist.New([]string{"old"})
	f := NewFilter(store)

	if !f.Check("old word").Blocked {
		t.Fatal("expected old word to be blocked")
	}
	store.Replace([]string{"new"})
	if f.Check("old word").Blocked {
		t.Error("old word should pass after replacement")
	}
	if !f.Check("new word").Blocked {
		t.Error("new word should be blocked after replacement")
	}
}

// A check runs against exactly one snapshot: with two disjoint sets swapped
// concurrently, a prompt containing one term from each set is always blocked,
// and the reported term always belongs to the set that was active.
func TestFilter_SnapshotIsolation(t *testing.T) {
	store := blacklist.New([]string{"alpha"})
	f := NewFilter(store)

	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; ; i++ {
			select {
			case <-stop:
				return
			default:
			}
			if i%2 == 0 {
				store.Replace([]string{"omega"})
			} else {
				store.Replace([]string{"alpha"})
			}
		}
	}()

	for i := 0; i < 5000; i++ {
		v := f.Check("omega then alpha")
		if !v.Blocked || (v.Term != "alpha" && v.Term != "omega") {
			close(stop)
			wg.Wait()
			t.Fatalf("inconsistent verdict: %+v", v)
		}
	}
	close(stop)
	wg.Wait()
}

func TestCheckTokens_NilSnapshot(t *testing.T) {
	if v := CheckTokens(nil, []string{"x"}); v.Blocked {
		t.Error("nil snapshot must not block")
	}
}

func TestFilter_PunctuatedEntryDoesNotBlockItsLetters(t *testing.T) {
	f := NewFilter(blacklist.New([]string{"C++", "forbidden."}))
	for _, text := range []string{"I write c and go every day", "this is forbidden content", "forbidden."} {
		if v := f.Check(text); v.Blocked {
			t.Errorf("Check(%q) blocked on %q", text, v.Term)
		}
	}
}
