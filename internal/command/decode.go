package command

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/bloopmc/bloop/pkg/types"
)

// aiObject is the superset of fields the translator's JSON schema permits.
// Exactly one command shape is valid per object; [DecodeAI] rejects anything
// whose fields do not match its declared command.
type aiObject struct {
	Command      string          `json:"command"`
	X            *float64        `json:"x,omitempty"`
	Y            *float64        `json:"y,omitempty"`
	Z            *float64        `json:"z,omitempty"`
	Name         string          `json:"name,omitempty"`
	Targets      []string        `json:"targets,omitempty"`
	Player       string          `json:"player,omitempty"`
	Message      string          `json:"message,omitempty"`
	TargetPlayer string          `json:"target_player,omitempty"`
	State        string          `json:"state,omitempty"`
	Health       *float64        `json:"health,omitempty"`
	Action       string          `json:"action,omitempty"`
}

// DecodeAI converts a structured command object produced by the language
// model into a typed [types.Command]. The object must already be validated
// against the translator's JSON schema; DecodeAI still rejects shapes it
// does not recognise so that a schema drift cannot smuggle fields through.
func DecodeAI(raw json.RawMessage) (types.Command, error) {
	var obj aiObject
	dec := json.NewDecoder(strings.NewReader(string(raw)))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&obj); err != nil {
		return types.Command{}, fmt.Errorf("command: decode ai object: %w", err)
	}

	switch strings.ToLower(obj.Command) {
	case "goto":
		if obj.Name != "" {
			return types.Command{Verb: types.VerbGoto, Location: obj.Name}, nil
		}
		if obj.X == nil || obj.Y == nil || obj.Z == nil {
			return types.Command{}, fmt.Errorf("command: goto needs x/y/z or name")
		}
		c := types.Vec3{X: *obj.X, Y: *obj.Y, Z: *obj.Z}
		return types.Command{Verb: types.VerbGoto, Coords: &c}, nil

	case "hunt":
		if len(obj.Targets) == 0 {
			return types.Command{}, fmt.Errorf("command: hunt needs targets")
		}
		return types.Command{Verb: types.VerbHunt, Targets: obj.Targets}, nil

	case "follow":
		if obj.Player == "" {
			return types.Command{}, fmt.Errorf("command: follow needs player")
		}
		return types.Command{Verb: types.VerbFollow, Player: obj.Player}, nil

	case "guard":
		if obj.Player == "" {
			return types.Command{}, fmt.Errorf("command: guard needs player")
		}
		return types.Command{Verb: types.VerbGuard, Player: obj.Player}, nil

	case "say":
		return types.Command{Verb: types.VerbSay, Text: obj.Message}, nil

	case "chat":
		return types.Command{Verb: types.VerbChat, Text: obj.Message}, nil

	case "save":
		if obj.Name == "" {
			return types.Command{}, fmt.Errorf("command: save needs name")
		}
		return types.Command{Verb: types.VerbSave, Location: obj.Name}, nil

	case "delete":
		if obj.Name == "" {
			return types.Command{}, fmt.Errorf("command: delete needs name")
		}
		return types.Command{Verb: types.VerbDelete, Location: obj.Name}, nil

	case "chop":
		return types.Command{Verb: types.VerbChop}, nil

	case "stop":
		return types.Command{Verb: types.VerbStop}, nil

	case "setspawn":
		return types.Command{Verb: types.VerbSetSpawn}, nil

	case "give":
		if obj.TargetPlayer == "" {
			return types.Command{}, fmt.Errorf("command: give needs target_player")
		}
		return types.Command{Verb: types.VerbGive, Player: obj.TargetPlayer}, nil

	case "autoeat", "autodefend", "autosleep", "autoflee":
		on, err := stateOn(obj.State)
		if err != nil {
			return types.Command{}, err
		}
		return types.Command{Verb: types.VerbToggleSetting, Setting: strings.ToLower(obj.Command), On: on}, nil

	case "setfleehealth":
		if obj.Health == nil {
			return types.Command{}, fmt.Errorf("command: setfleehealth needs health")
		}
		v := int(*obj.Health)
		if v < 1 || v > 20 {
			return types.Command{}, fmt.Errorf("command: setfleehealth %d out of range 1..20", v)
		}
		return types.Command{Verb: types.VerbSetFleeHealth, Value: v}, nil

	case "whitelist":
		if obj.Player == "" {
			return types.Command{}, fmt.Errorf("command: whitelist needs player")
		}
		switch strings.ToLower(obj.Action) {
		case "add":
			return types.Command{Verb: types.VerbWhitelist, Action: types.WhitelistAdd, Player: obj.Player}, nil
		case "remove":
			return types.Command{Verb: types.VerbWhitelist, Action: types.WhitelistRemove, Player: obj.Player}, nil
		}
		return types.Command{}, fmt.Errorf("command: whitelist action %q is not add/remove", obj.Action)

	case "unknown":
		return types.Command{Verb: types.VerbUnknown}, nil
	}

	return types.Command{}, fmt.Errorf("command: unrecognised ai command %q", obj.Command)
}

func stateOn(state string) (bool, error) {
	switch strings.ToLower(state) {
	case "on":
		return true, nil
	case "off":
		return false, nil
	}
	return false, fmt.Errorf("command: state %q is not on/off", state)
}
