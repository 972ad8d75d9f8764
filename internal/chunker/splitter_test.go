package chunker

import (
	"testing"
)

func TestRegexSplitter(t *testing.T) {
	tests := []struct {
		in   string
		want []string
	}{
		{"Hello world. How are you? Fine!", []string{"Hello world.", "How are you?", "Fine!"}},
		{"Pi is 3.14 roughly. Yes.", []string{"Pi is 3.14 roughly.", "Yes."}},
		{`He said "stop." Then left.`, []string{`He said "stop."`, "Then left."}},
		{"Wait... what", []string{"Wait...", "what"}},
		{"", nil},
	}
	for _, tt := range tests {
		got := RegexSplitter{}.Split(tt.in)
		if len(got) != len(tt.want) {
			t.Errorf("Split(%q) = %q, want %q", tt.in, got, tt.want)
			continue
		}
		for i := range got {
			if got[i] != tt.want[i] {
				t.Errorf("Split(%q)[%d] = %q, want %q", tt.in, i, got[i], tt.want[i])
			}
		}
	}
}

func TestPunktSplitter(t *testing.T) {
	p, err := NewPunktSplitter()
	if err != nil {
		t.Fatal(err)
	}
	got := p.Split("The cat sat on the mat. The dog ran away. Birds sing in the morning.")
	if len(got) != 3 {
		t.Fatalf("expected 3 sentences, got %d: %q", len(got), got)
	}
	if got[1] != "The dog ran away." {
		t.Errorf("sentence 1 = %q", got[1])
	}
	if p.Split("  ") != nil {
		t.Error("blank text should yield no sentences")
	}
}

func TestNewSplitter(t *testing.T) {
	for _, name := range []string{"", "punkt", "regex"} {
		if _, err := NewSplitter(name); err != nil {
			t.Errorf("NewSplitter(%q) error: %v", name, err)
		}
	}
	if _, err := NewSplitter("nltk"); err == nil {
		t.Error("expected error for unknown splitter")
	}
}
