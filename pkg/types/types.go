// Package types defines the shared types used across all bloop packages.
//
// These types form the lingua franca between the command parser, the
// permission gate, the behavior arbiter, and the action executor. They are
// intentionally minimal — each package defines its own domain types, but
// cross-cutting data structures live here to avoid circular imports.
package types

import (
	"fmt"
	"math"
)

// Verb identifies the command variant carried by a [Command].
type Verb string

const (
	// VerbNone is produced for empty input. It is a no-op, not an error,
	// and never reaches the executor.
	VerbNone Verb = ""

	VerbSay           Verb = "say"
	VerbFollow        Verb = "follow"
	VerbHunt          Verb = "hunt"
	VerbChop          Verb = "chop"
	VerbStop          Verb = "stop"
	VerbGoto          Verb = "goto"
	VerbSave          Verb = "save"
	VerbDelete        Verb = "delete"
	VerbList          Verb = "list"
	VerbStatus        Verb = "status"
	VerbGive          Verb = "give"
	VerbGuard         Verb = "guard"
	VerbWhitelist     Verb = "whitelist"
	VerbToggleSetting Verb = "togglesetting"
	VerbSetFleeHealth Verb = "setfleehealth"
	VerbSetSpawn      Verb = "setspawn"
	VerbHelp          Verb = "help"
	VerbQuit          Verb = "quit"

	// VerbChat is a conversational reply produced by the AI translator.
	// The executor relays it to the issuer verbatim.
	VerbChat Verb = "chat"

	// VerbUnknown is the terminal fallback after failed AI translation.
	VerbUnknown Verb = "unknown"
)

// WhitelistAction selects the mutation performed by a whitelist command.
type WhitelistAction string

const (
	WhitelistAdd    WhitelistAction = "add"
	WhitelistRemove WhitelistAction = "remove"
)

// Command is the typed result of parsing raw text or a structured AI command
// object. Exactly one verb is active per parsed input; the argument fields
// carry the verb-specific payload and are zero-valued otherwise.
type Command struct {
	Verb Verb

	// Text carries the message for Say and Chat.
	Text string

	// Player names the subject of Follow, Guard, Give, and Whitelist.
	Player string

	// Targets lists the entity names to engage for Hunt.
	Targets []string

	// Coords is the literal destination for Goto. Nil when Location is set.
	Coords *Vec3

	// Location is the saved-location name for Goto, Save, and Delete.
	Location string

	// Setting names the toggle for ToggleSetting ("autoeat", "autodefend",
	// "autosleep", "autoflee").
	Setting string

	// On is the desired toggle state for ToggleSetting.
	On bool

	// Value carries the threshold for SetFleeHealth.
	Value int

	// Action selects add or remove for Whitelist.
	Action WhitelistAction
}

// Channel identifies the transport a command arrived through.
type Channel string

const (
	ChannelChat     Channel = "chat"
	ChannelWhisper  Channel = "whisper"
	ChannelTerminal Channel = "terminal"

	// ChannelDiscord is the optional remote bridge. The permission gate
	// treats it exactly like ChannelChat.
	ChannelDiscord Channel = "discord"
)

// Issuer is the source identity of a command. An empty Name denotes the
// local terminal operator, who is always treated as trusted and admin.
type Issuer struct {
	Name    string
	Channel Channel
}

// Terminal is the issuer used for local stdin input.
var Terminal = Issuer{Channel: ChannelTerminal}

// IsTerminal reports whether the issuer is the local terminal operator.
func (i Issuer) IsTerminal() bool {
	return i.Name == "" || i.Channel == ChannelTerminal
}

// String returns a loggable representation of the issuer.
func (i Issuer) String() string {
	if i.IsTerminal() {
		return "terminal"
	}
	return fmt.Sprintf("%s(%s)", i.Name, i.Channel)
}

// Vec3 is a position in the game world.
type Vec3 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// String formats the position with one decimal, matching chat feedback.
func (v Vec3) String() string {
	return fmt.Sprintf("%.1f, %.1f, %.1f", v.X, v.Y, v.Z)
}

// Sub returns v - o.
func (v Vec3) Sub(o Vec3) Vec3 {
	return Vec3{X: v.X - o.X, Y: v.Y - o.Y, Z: v.Z - o.Z}
}

// Add returns v + o.
func (v Vec3) Add(o Vec3) Vec3 {
	return Vec3{X: v.X + o.X, Y: v.Y + o.Y, Z: v.Z + o.Z}
}

// Scale returns v multiplied by f.
func (v Vec3) Scale(f float64) Vec3 {
	return Vec3{X: v.X * f, Y: v.Y * f, Z: v.Z * f}
}

// DistanceTo returns the Euclidean distance between v and o.
func (v Vec3) DistanceTo(o Vec3) float64 {
	d := v.Sub(o)
	return math.Sqrt(d.X*d.X + d.Y*d.Y + d.Z*d.Z)
}

// EntityKind classifies a perceived entity.
type EntityKind string

const (
	EntityPlayer EntityKind = "player"
	EntityMob    EntityKind = "mob"
	EntityObject EntityKind = "object"
)

// Entity is a named game entity resolvable from the agent's perception.
type Entity struct {
	ID          string
	Name        string
	DisplayName string
	Kind        EntityKind
	Position    Vec3

	// Hostile marks mobs that attack on sight. Used by guard and flee.
	Hostile bool
}

// HealthSample is a single health/food telemetry reading.
// Health and Food are in half-heart/half-drumstick units (0..20).
type HealthSample struct {
	Health     float64
	Food       float64
	Saturation float64
}

// NamedLocation is a saved coordinate in the location store.
type NamedLocation struct {
	Name string
	Pos  Vec3
}

// Message is a single message in an LLM conversation.
type Message struct {
	// Role is one of "system", "user", or "assistant".
	Role string

	// Content is the text content of the message.
	Content string
}

// Item is an inventory stack.
type Item struct {
	Name  string
	Slot  int
	Count int
}

// Block is a world block returned by perception queries.
type Block struct {
	Name     string
	Position Vec3
}
