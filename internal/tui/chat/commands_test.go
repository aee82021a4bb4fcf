package chat

import (
	"strings"
	"testing"
)

func TestParse(t *testing.T) {
	r := NewCommandRegistry()

	tests := []struct {
		input    string
		wantName string
		wantArgs int
		wantCmd  bool
		wantOK   bool
	}{
		{"/help", "help", 0, true, true},
		{"/h", "help", 0, true, true},
		{"/mode thorough", "mode", 1, true, true},
		{"/m concise", "mode", 1, true, true},
		{"/refs doc", "refs", 1, true, true},
		{"/nope arg", "", 1, false, true},
		{"hello there", "", 0, false, false},
		{"  /quit  ", "quit", 0, true, true},
	}

	for _, tt := range tests {
		cmd, args, ok := r.Parse(tt.input)
		if ok != tt.wantOK {
			t.Errorf("Parse(%q) ok = %v, want %v", tt.input, ok, tt.wantOK)
			continue
		}
		if (cmd != nil) != tt.wantCmd {
			t.Errorf("Parse(%q) cmd = %v, want command %v", tt.input, cmd, tt.wantCmd)
			continue
		}
		if cmd != nil && cmd.Name != tt.wantName {
			t.Errorf("Parse(%q) name = %s, want %s", tt.input, cmd.Name, tt.wantName)
		}
		if len(args) != tt.wantArgs {
			t.Errorf("Parse(%q) args = %v, want %d", tt.input, args, tt.wantArgs)
		}
	}
}

func TestSuggest(t *testing.T) {
	r := NewCommandRegistry()

	all := r.Suggest("/")
	if len(all) != 8 {
		t.Fatalf("Suggest(/) = %v, want all 8 commands", all)
	}

	got := r.Suggest("/he")
	if len(got) == 0 || got[0] != "help" {
		t.Errorf("Suggest(/he) = %v, want help first", got)
	}

	// Alias matches must resolve to the command name without duplicates.
	seen := make(map[string]int)
	for _, name := range r.Suggest("/c") {
		seen[name]++
		if name == "cp" || name == "cls" {
			t.Errorf("Suggest returned raw alias %q", name)
		}
	}
	for name, n := range seen {
		if n > 1 {
			t.Errorf("Suggest returned %q %d times", name, n)
		}
	}
}

func TestHelp(t *testing.T) {
	r := NewCommandRegistry()

	full := r.Help("")
	for _, want := range []string{"/help", "/mode", "/refs", "/copy", "/cancel", "/export", "/clear", "/quit"} {
		if !strings.Contains(full, want) {
			t.Errorf("Help() missing %s", want)
		}
	}

	one := r.Help("m")
	if !strings.Contains(one, "/mode") {
		t.Errorf("Help(m) = %q, want mode usage", one)
	}
	if unknown := r.Help("bogus"); !strings.Contains(unknown, "Unknown command") {
		t.Errorf("Help(bogus) = %q", unknown)
	}
}

func TestShortID(t *testing.T) {
	if got := shortID("0123456789abcdef"); got != "01234567" {
		t.Errorf("shortID = %q", got)
	}
	if got := shortID("abc"); got != "abc" {
		t.Errorf("shortID = %q", got)
	}
}
