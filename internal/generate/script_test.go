package generate

import "testing"

func TestParseScript(t *testing.T) {
	script := "[Host A]: Welcome to the show.\n" +
		"\n" +
		"[Host B]: Thanks, glad to be here.\n" +
		"Narrator: this line has no host tag\n" +
		"[Host A]: Let's dive in.\n"

	lines, dropped := ParseScript(script)
	if dropped != 1 {
		t.Errorf("dropped = %d, want 1", dropped)
	}
	want := []ScriptLine{
		{Speaker: HostA, Text: "Welcome to the show."},
		{Speaker: HostB, Text: "Thanks, glad to be here."},
		{Speaker: HostA, Text: "Let's dive in."},
	}
	if len(lines) != len(want) {
		t.Fatalf("lines = %d, want %d", len(lines), len(want))
	}
	for i, l := range lines {
		if l != want[i] {
			t.Errorf("line %d = %+v, want %+v", i, l, want[i])
		}
	}
}

func TestParseScript_DropsEmptyDialogue(t *testing.T) {
	lines, dropped := ParseScript("[Host A]:   \n[Host B]: Something real")
	if dropped != 1 {
		t.Errorf("dropped = %d, want 1", dropped)
	}
	if len(lines) != 1 || lines[0].Speaker != HostB {
		t.Errorf("lines = %v, want the single Host B line", lines)
	}
}

func TestParseScript_Empty(t *testing.T) {
	lines, dropped := ParseScript("")
	if len(lines) != 0 || dropped != 0 {
		t.Errorf("lines = %v dropped = %d, want none", lines, dropped)
	}
}

func TestFormatScript_RoundTrip(t *testing.T) {
	in := []ScriptLine{
		{Speaker: HostA, Text: "First line."},
		{Speaker: HostB, Text: "Second line."},
	}
	parsed, dropped := ParseScript(FormatScript(in))
	if dropped != 0 {
		t.Errorf("dropped = %d, want 0", dropped)
	}
	if len(parsed) != len(in) {
		t.Fatalf("parsed = %d lines, want %d", len(parsed), len(in))
	}
	for i := range in {
		if parsed[i] != in[i] {
			t.Errorf("line %d = %+v, want %+v", i, parsed[i], in[i])
		}
	}
}
