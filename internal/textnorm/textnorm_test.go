package textnorm

import (
	"reflect"
	"strings"
	"testing"
)

func TestNormalize_AccentAndCaseInsensitive(t *testing.T) {
	want := []string{"cafe"}
	for _, in := range []string{"Café", "cafe", "CAFÉ", "Cafe\u0301"} {
		if got := Normalize(in); !reflect.DeepEqual(got, want) {
			t.Errorf("Normalize(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestNormalize_Tokenizes(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want []string
	}{
		{"punctuation separates", "Hello, world!", []string{"hello", "world"}},
		{"digits kept", "room 101b is open", []string{"room", "101b", "is", "open"}},
		{"mixed separators", "ação--coração\tpão", []string{"acao", "coracao", "pao"}},
		{"apostrophe splits", "don't", []string{"don", "t"}},
		{"non-latin letters", "Привет мир", []string{"привет", "мир"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Normalize(tt.in); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Normalize(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestNormalize_EmptyInput(t *testing.T) {
	for _, in := range []string{"", "   ", "\n\t "} {
		if got := Normalize(in); len(got) != 0 {
			t.Errorf("Normalize(%q) = %v, want empty", in, got)
		}
	}
}

func TestNormalize_OnlySeparators(t *testing.T) {
	if got := Normalize("?!... ---"); len(got) != 0 {
		t.Errorf("expected no tokens, got %v", got)
	}
}

func TestNormalize_Idempotent(t *testing.T) {
	inputs := []string{
		"Ça va? Très bien, MERCI!",
		"Überprüfung der Straße 42",
		"naïve résumé façade",
		"plain ascii text",
	}
	for _, in := range inputs {
		first := Normalize(in)
		second := Normalize(strings.Join(first, " "))
		if !reflect.DeepEqual(first, second) {
			t.Errorf("not idempotent for %q: %v then %v", in, first, second)
		}
	}
}

func TestFold(t *testing.T) {
	if got := Fold("  Ôlá Mundo "); got != "  ola mundo " {
		t.Errorf("Fold = %q", got)
	}
	if got := Fold(""); got != "" {
		t.Errorf("Fold(\"\") = %q", got)
	}
}
