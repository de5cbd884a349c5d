package id

import (
	"regexp"
	"strings"
	"testing"
)

var alnum = regexp.MustCompile(`^[A-Za-z0-9]+$`)

func TestGenerate(t *testing.T) {
	id := Generate()

	if len(id) != 32 {
		t.Errorf("expected 32 characters, got %d (%s)", len(id), id)
	}
	if !alnum.MatchString(id) {
		t.Errorf("expected alphanumeric ID, got %s", id)
	}

	id2 := Generate()
	if id == id2 {
		t.Error("expected different IDs for consecutive calls")
	}
}

func TestGenerate_Uniqueness(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		id := Generate()
		if seen[id] {
			t.Errorf("duplicate ID generated: %s", id)
		}
		seen[id] = true
	}
}

func TestSanitize(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"abc123", "abc123"},
		{"job-2024_01", "job202401"},
		{"../../etc/passwd", "etcpasswd"},
		{"héllo wörld", "hllowrld"},
		{"---", ""},
		{"", ""},
		{strings.Repeat("a", 80), strings.Repeat("a", MaxLength)},
		{strings.Repeat("-a", 80), strings.Repeat("a", MaxLength)},
	}

	for _, tt := range tests {
		if got := Sanitize(tt.in); got != tt.want {
			t.Errorf("Sanitize(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestResolve(t *testing.T) {
	if got := Resolve("my-job"); got != "myjob" {
		t.Errorf("expected myjob, got %s", got)
	}

	for _, in := range []string{"", "///"} {
		got := Resolve(in)
		if len(got) != 32 || !alnum.MatchString(got) {
			t.Errorf("Resolve(%q) should generate an ID, got %q", in, got)
		}
	}
}
