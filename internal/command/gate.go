package command

import (
	"strings"

	"github.com/bloopmc/bloop/pkg/types"
)

// Tier is the access level a command requires.
type Tier int

const (
	// TierPublic commands are available to everyone.
	TierPublic Tier = iota

	// TierTrusted commands move the agent or mutate the location store.
	TierTrusted

	// TierAdmin commands change configuration or end the process.
	TierAdmin
)

// String returns the human-readable name of the tier.
func (t Tier) String() string {
	switch t {
	case TierPublic:
		return "public"
	case TierTrusted:
		return "trusted"
	case TierAdmin:
		return "admin"
	default:
		return "unknown"
	}
}

// Decision is the outcome of a permission check.
type Decision int

const (
	// Allowed lets the command continue down the pipeline.
	Allowed Decision = iota

	// Denied drops the command. Denial is silent: no feedback is sent, so
	// untrusted users cannot probe which commands exist.
	Denied
)

// TierOf classifies a command by the access level it requires.
// Stop is deliberately public and always immediate — it is the panic button.
func TierOf(cmd types.Command) Tier {
	switch cmd.Verb {
	case types.VerbQuit, types.VerbWhitelist, types.VerbToggleSetting, types.VerbGive:
		return TierAdmin
	case types.VerbFollow, types.VerbHunt, types.VerbGoto, types.VerbSave,
		types.VerbDelete, types.VerbSetSpawn, types.VerbChop:
		return TierTrusted
	}
	return TierPublic
}

// Gate authorises commands by issuer identity.
//
// The configured admin identity always passes. The local terminal operator
// (empty issuer name) is always treated as trusted and admin. Everyone else
// is checked against the trusted-user set for trusted-tier commands and
// denied outright for admin-tier commands.
type Gate struct {
	// Admin is the player name that bypasses all checks.
	Admin string

	// IsTrusted reports whether a player name is in the trusted set.
	// Nil means nobody is trusted.
	IsTrusted func(name string) bool
}

// Authorize decides whether issuer may run cmd.
func (g *Gate) Authorize(issuer types.Issuer, cmd types.Command) Decision {
	if issuer.IsTerminal() {
		return Allowed
	}
	if g.Admin != "" && strings.EqualFold(issuer.Name, g.Admin) {
		return Allowed
	}

	switch TierOf(cmd) {
	case TierAdmin:
		return Denied
	case TierTrusted:
		if g.IsTrusted != nil && g.IsTrusted(issuer.Name) {
			return Allowed
		}
		return Denied
	}
	return Allowed
}
