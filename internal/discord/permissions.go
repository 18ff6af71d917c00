package discord

import (
	"slices"

	"github.com/bwmarrin/discordgo"
)

// PermissionChecker decides who may respond to escalations.
type PermissionChecker struct {
	roleID string
}

// NewPermissionChecker creates a checker for the operator role. An empty
// roleID allows every guild member.
func NewPermissionChecker(roleID string) *PermissionChecker {
	return &PermissionChecker{roleID: roleID}
}

// IsOperator reports whether the interaction author holds the operator role.
// Interactions outside a guild (no Member) are rejected when a role is set.
func (p *PermissionChecker) IsOperator(i *discordgo.InteractionCreate) bool {
	if p.roleID == "" {
		return true
	}
	if i.Member == nil {
		return false
	}
	return slices.Contains(i.Member.Roles, p.roleID)
}

// operatorName returns a display name for logs.
func operatorName(i *discordgo.InteractionCreate) string {
	switch {
	case i.Member != nil && i.Member.User != nil:
		return i.Member.User.Username
	case i.User != nil:
		return i.User.Username
	default:
		return "unknown"
	}
}
