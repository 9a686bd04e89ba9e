package vm

import "testing"

func TestReplacePlaceholder(t *testing.T) {
	r := start(t, newScript([]uint16{uint16(OpExit)}), []uint16{5, 1, 4, 7, 9}, []string{"x", "Iolo"})
	r.m.ctx.BP = 2

	tests := []struct {
		in, want string
	}{
		{"no tokens here", "no tokens here"},
		{"@GI0 coins", "5 coins"},
		{"Greetings, @GS1.", "Greetings, Iolo."},
		{"@SI2", "7"},
		{"@SS0", "Iolo"},
		{"@PI1", "9"},
		{"a@GI0b@GI3", "a5b7"},
		{"mail me@home", "mail me@home"},
		{"@GX1", "@GX1"},
		{"@GI", "@GI"},
		{"@GIx", "@GIx"},
		{"@@GI0", "@5"},
		{"[@GI4000]", "[]"},
		{"[@GI-1]", "[]"},
	}
	for _, tt := range tests {
		if got := r.m.ReplacePlaceholder(tt.in); got != tt.want {
			t.Errorf("ReplacePlaceholder(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestReplacePlaceholderAfterDone(t *testing.T) {
	r := start(t, newScript([]uint16{uint16(OpExit)}), []uint16{5}, nil)
	r.m.Done()
	if got := r.m.ReplacePlaceholder("x@GI0y"); got != "xy" {
		t.Errorf("got %q, want %q", got, "xy")
	}
}
