package services

import (
	"context"
	"errors"

	"chat-realtime/internal/models"
	"chat-realtime/internal/store"
)

// MembershipAuthority answers access questions about rooms and
// conversations with a point-in-time read of the store.
type MembershipAuthority struct {
	groups store.Groups
}

func NewMembershipAuthority(groups store.Groups) *MembershipAuthority {
	return &MembershipAuthority{groups: groups}
}

func (a *MembershipAuthority) IsMember(ctx context.Context, who models.Identity, key models.GroupKey) (bool, error) {
	role, err := a.RoleOf(ctx, who, key)
	if err != nil {
		return false, err
	}
	return role != models.RoleNone, nil
}

// RoleOf returns RoleNone for non-members, anonymous identities and missing
// groups. Conversation participants are reported as RoleMember.
func (a *MembershipAuthority) RoleOf(ctx context.Context, who models.Identity, key models.GroupKey) (models.Role, error) {
	if who.IsAnonymous() {
		return models.RoleNone, nil
	}

	switch key.Kind {
	case models.GroupRoom:
		if _, err := a.groups.GetRoom(ctx, key.ID); err != nil {
			return notFoundAsNone(err)
		}
		m, err := a.groups.GetMembership(ctx, key.ID, who.ID)
		if err != nil {
			return notFoundAsNone(err)
		}
		return m.Role, nil
	case models.GroupConversation:
		c, err := a.groups.GetConversation(ctx, key.ID)
		if err != nil {
			return notFoundAsNone(err)
		}
		if c.HasParticipant(who.ID) {
			return models.RoleMember, nil
		}
	}
	return models.RoleNone, nil
}

func notFoundAsNone(err error) (models.Role, error) {
	if errors.Is(err, store.ErrNotFound) {
		return models.RoleNone, nil
	}
	return models.RoleNone, err
}
