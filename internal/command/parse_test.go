package command

import (
	"errors"
	"reflect"
	"testing"

	"github.com/bloopmc/bloop/pkg/types"
)

func TestParse_Empty(t *testing.T) {
	for _, input := range []string{"", "   ", "\t\n"} {
		cmd, err := Parse(input)
		if err != nil {
			t.Errorf("Parse(%q) error = %v, want nil", input, err)
		}
		if cmd.Verb != types.VerbNone {
			t.Errorf("Parse(%q).Verb = %q, want no-op", input, cmd.Verb)
		}
	}
}

func TestParse_Literals(t *testing.T) {
	tests := []struct {
		input string
		want  types.Command
	}{
		{"say hello world", types.Command{Verb: types.VerbSay, Text: "hello world"}},
		{"follow Steve", types.Command{Verb: types.VerbFollow, Player: "Steve"}},
		{"guard Luize26", types.Command{Verb: types.VerbGuard, Player: "Luize26"}},
		{"hunt zombie skeleton", types.Command{Verb: types.VerbHunt, Targets: []string{"zombie", "skeleton"}}},
		{"kill creeper", types.Command{Verb: types.VerbHunt, Targets: []string{"creeper"}}},
		{"chop", types.Command{Verb: types.VerbChop}},
		{"stop", types.Command{Verb: types.VerbStop}},
		{"STOP", types.Command{Verb: types.VerbStop}},
		{"save home", types.Command{Verb: types.VerbSave, Location: "home"}},
		{"delete home", types.Command{Verb: types.VerbDelete, Location: "home"}},
		{"list", types.Command{Verb: types.VerbList}},
		{"status", types.Command{Verb: types.VerbStatus}},
		{"give Steve", types.Command{Verb: types.VerbGive, Player: "Steve"}},
		{"autoeat on", types.Command{Verb: types.VerbToggleSetting, Setting: "autoeat", On: true}},
		{"autoflee off", types.Command{Verb: types.VerbToggleSetting, Setting: "autoflee", On: false}},
		{"setfleehealth 8", types.Command{Verb: types.VerbSetFleeHealth, Value: 8}},
		{"setspawn", types.Command{Verb: types.VerbSetSpawn}},
		{"whitelist add Steve", types.Command{Verb: types.VerbWhitelist, Action: types.WhitelistAdd, Player: "Steve"}},
		{"whitelist remove Steve", types.Command{Verb: types.VerbWhitelist, Action: types.WhitelistRemove, Player: "Steve"}},
		{"help", types.Command{Verb: types.VerbHelp}},
		{"quit", types.Command{Verb: types.VerbQuit}},
		{"exit", types.Command{Verb: types.VerbQuit}},
		{"hi bot", types.Command{Verb: types.VerbChat, Text: "hello there!"}},
	}
	for _, tt := range tests {
		got, err := Parse(tt.input)
		if err != nil {
			t.Errorf("Parse(%q) error = %v", tt.input, err)
			continue
		}
		if !reflect.DeepEqual(got, tt.want) {
			t.Errorf("Parse(%q) = %+v, want %+v", tt.input, got, tt.want)
		}
	}
}

func TestParse_GotoCoords(t *testing.T) {
	got, err := Parse("goto 10 64 -3")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Verb != types.VerbGoto || got.Coords == nil {
		t.Fatalf("got %+v, want goto with coords", got)
	}
	if *got.Coords != (types.Vec3{X: 10, Y: 64, Z: -3}) {
		t.Errorf("coords = %v, want (10, 64, -3)", *got.Coords)
	}
}

func TestParse_GotoName(t *testing.T) {
	got, err := Parse("goto home")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Verb != types.VerbGoto || got.Location != "home" || got.Coords != nil {
		t.Errorf("got %+v, want goto home by name", got)
	}
}

func TestParse_GotoMalformedFallsToTranslator(t *testing.T) {
	// Non-integer coordinates are not a usage error; they fall over to the
	// AI translator for a second chance.
	for _, input := range []string{"goto the big tree", "goto 1 two 3", "goto 1.5 2 3"} {
		_, err := Parse(input)
		if !errors.Is(err, ErrNoMatch) {
			t.Errorf("Parse(%q) error = %v, want ErrNoMatch", input, err)
		}
	}
}

func TestParse_UsageErrors(t *testing.T) {
	for _, input := range []string{"follow", "guard", "hunt", "save", "delete a b", "give", "setfleehealth 25", "setfleehealth zero", "whitelist add", "whitelist frobnicate Steve", "autoeat maybe"} {
		_, err := Parse(input)
		var ue *UsageError
		if !errors.As(err, &ue) {
			t.Errorf("Parse(%q) error = %v, want UsageError", input, err)
		}
	}
}

func TestParse_NoMatch(t *testing.T) {
	for _, input := range []string{"dance", "go to the village", "hi there"} {
		_, err := Parse(input)
		if !errors.Is(err, ErrNoMatch) {
			t.Errorf("Parse(%q) error = %v, want ErrNoMatch", input, err)
		}
	}
}
