// Package command turns raw chat/terminal text or structured AI command
// objects into typed [types.Command] values, and gates them by issuer
// permission tier.
//
// Parsing is pure: no side effects, no I/O. Saved-location names are resolved
// later in the pipeline, so the parser never needs the location store.
package command

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/bloopmc/bloop/pkg/types"
)

// ErrNoMatch is returned when the first token matches no literal command.
// The pipeline falls over to the AI translator in that case.
var ErrNoMatch = errors.New("command: no literal match")

// UsageError reports malformed arguments for a recognised command.
// It is shown to the issuer directly and never reaches the translator.
type UsageError struct {
	Usage string
}

func (e *UsageError) Error() string {
	return "usage: " + e.Usage
}

// usageErr is a shorthand constructor.
func usageErr(usage string) error {
	return &UsageError{Usage: usage}
}

// Parse splits input on whitespace and maps the first token
// (case-insensitive) to a command variant. Remaining tokens are positional
// arguments for that variant.
//
// Empty or all-whitespace input yields a [types.VerbNone] command and a nil
// error: a no-op, not an unknown command.
//
// A first token that matches nothing — including a three-argument goto whose
// coordinates do not parse as integers — returns [ErrNoMatch] so the caller
// can give the text a second chance through natural-language translation.
func Parse(input string) (types.Command, error) {
	fields := strings.Fields(input)
	if len(fields) == 0 {
		return types.Command{Verb: types.VerbNone}, nil
	}

	verb := strings.ToLower(fields[0])
	args := fields[1:]

	switch verb {
	case "say":
		return types.Command{Verb: types.VerbSay, Text: strings.Join(args, " ")}, nil

	case "follow":
		if len(args) != 1 {
			return types.Command{}, usageErr("follow <player>")
		}
		return types.Command{Verb: types.VerbFollow, Player: args[0]}, nil

	case "guard":
		if len(args) != 1 {
			return types.Command{}, usageErr("guard <player>")
		}
		return types.Command{Verb: types.VerbGuard, Player: args[0]}, nil

	case "hunt", "kill":
		if len(args) == 0 {
			return types.Command{}, usageErr("hunt <target> [target...]")
		}
		return types.Command{Verb: types.VerbHunt, Targets: args}, nil

	case "chop":
		return types.Command{Verb: types.VerbChop}, nil

	case "stop":
		return types.Command{Verb: types.VerbStop}, nil

	case "goto":
		return parseGoto(args)

	case "save":
		if len(args) != 1 {
			return types.Command{}, usageErr("save <name>")
		}
		return types.Command{Verb: types.VerbSave, Location: args[0]}, nil

	case "delete":
		if len(args) != 1 {
			return types.Command{}, usageErr("delete <name>")
		}
		return types.Command{Verb: types.VerbDelete, Location: args[0]}, nil

	case "list":
		return types.Command{Verb: types.VerbList}, nil

	case "status":
		return types.Command{Verb: types.VerbStatus}, nil

	case "give":
		if len(args) != 1 {
			return types.Command{}, usageErr("give <player>")
		}
		return types.Command{Verb: types.VerbGive, Player: args[0]}, nil

	case "autoeat", "autodefend", "autosleep", "autoflee":
		on, err := parseOnOff(args)
		if err != nil {
			return types.Command{}, usageErr(verb + " <on|off>")
		}
		return types.Command{Verb: types.VerbToggleSetting, Setting: verb, On: on}, nil

	case "setfleehealth":
		if len(args) != 1 {
			return types.Command{}, usageErr("setfleehealth <1-20>")
		}
		v, err := strconv.Atoi(args[0])
		if err != nil || v < 1 || v > 20 {
			return types.Command{}, usageErr("setfleehealth <1-20>")
		}
		return types.Command{Verb: types.VerbSetFleeHealth, Value: v}, nil

	case "setspawn":
		return types.Command{Verb: types.VerbSetSpawn}, nil

	case "whitelist":
		if len(args) != 2 {
			return types.Command{}, usageErr("whitelist <add|remove> <player>")
		}
		var action types.WhitelistAction
		switch strings.ToLower(args[0]) {
		case "add":
			action = types.WhitelistAdd
		case "remove":
			action = types.WhitelistRemove
		default:
			return types.Command{}, usageErr("whitelist <add|remove> <player>")
		}
		return types.Command{Verb: types.VerbWhitelist, Action: action, Player: args[1]}, nil

	case "help":
		return types.Command{Verb: types.VerbHelp}, nil

	case "quit", "exit":
		return types.Command{Verb: types.VerbQuit}, nil

	case "hi":
		// Greeting easter egg: "hi bot" gets a friendly reply.
		if len(args) == 1 && strings.EqualFold(args[0], "bot") {
			return types.Command{Verb: types.VerbChat, Text: "hello there!"}, nil
		}
		return types.Command{}, ErrNoMatch
	}

	return types.Command{}, ErrNoMatch
}

// parseGoto accepts either a single saved-location name or three integer
// coordinates. Three tokens that fail integer parsing are treated as a
// non-match rather than a usage error, so ambiguous phrasing like
// "goto the big tree" flows to the translator instead of erroring.
func parseGoto(args []string) (types.Command, error) {
	switch len(args) {
	case 1:
		return types.Command{Verb: types.VerbGoto, Location: args[0]}, nil
	case 3:
		x, errX := strconv.Atoi(args[0])
		y, errY := strconv.Atoi(args[1])
		z, errZ := strconv.Atoi(args[2])
		if errX != nil || errY != nil || errZ != nil {
			return types.Command{}, ErrNoMatch
		}
		c := types.Vec3{X: float64(x), Y: float64(y), Z: float64(z)}
		return types.Command{Verb: types.VerbGoto, Coords: &c}, nil
	default:
		return types.Command{}, ErrNoMatch
	}
}

func parseOnOff(args []string) (bool, error) {
	if len(args) != 1 {
		return false, fmt.Errorf("command: expected one argument")
	}
	switch strings.ToLower(args[0]) {
	case "on", "true":
		return true, nil
	case "off", "false":
		return false, nil
	}
	return false, fmt.Errorf("command: %q is not on/off", args[0])
}

// HelpText is the command surface shown for the help command.
const HelpText = `Commands:
  say <text>                 speak in chat
  follow <player>            follow a player until stopped
  guard <player>             guard a player against hostiles
  hunt|kill <target>...      attack named players or mobs
  chop                       harvest the nearest tree
  goto <x> <y> <z>|<name>    navigate to coordinates or a saved location
  save <name>                save the current position
  list                       list saved locations
  delete <name>              delete a saved location
  status                     report health/food/saturation
  give <player>              hand over the whole inventory
  stop                       halt everything immediately
  autoeat|autodefend|autosleep|autoflee <on|off>
  setfleehealth <1-20>       health threshold that triggers fleeing
  setspawn                   set the spawn point here
  whitelist <add|remove> <player>
  help                       this text
  quit|exit                  disconnect and exit
Anything else is interpreted as natural language.`
