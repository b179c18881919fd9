package groups

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/groupspend/groupspend/internal/shared"
)

// Service manages groups and their membership.
type Service struct {
	repo   Repository
	logger *slog.Logger
}

// NewService constructs a group service.
func NewService(repo Repository, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, logger: logger}
}

// CreateGroupInput describes a new group.
type CreateGroupInput struct {
	Name        string
	Description string
	OwnerID     string
}

// CreateGroup creates a group whose owner becomes its first admin member.
func (s *Service) CreateGroup(ctx context.Context, in CreateGroupInput) (Group, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return Group{}, ErrNameRequired
	}
	if in.OwnerID == "" {
		return Group{}, shared.ErrUnauthenticated
	}
	var created Group
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		g, err := tx.InsertGroup(ctx, Group{Name: name, Description: strings.TrimSpace(in.Description), CreatedBy: in.OwnerID})
		if err != nil {
			return err
		}
		if _, err := tx.InsertMember(ctx, Member{GroupID: g.ID, UserID: in.OwnerID, Role: RoleAdmin}); err != nil {
			return err
		}
		created = g
		return nil
	})
	if err != nil {
		return Group{}, shared.WrapStorage("create group", err)
	}
	s.logger.InfoContext(ctx, "group created", slog.String("group_id", created.ID), slog.String("owner", in.OwnerID))
	return created, nil
}

// AddMemberInput describes a membership grant.
type AddMemberInput struct {
	GroupID string
	ActorID string
	UserID  string
	Role    Role
}

// AddMember adds a user to the group. Only admins may add members.
func (s *Service) AddMember(ctx context.Context, in AddMemberInput) (Member, error) {
	if in.Role == "" {
		in.Role = RoleMember
	}
	if !in.Role.Valid() {
		return Member{}, ErrInvalidRole
	}
	if strings.TrimSpace(in.UserID) == "" {
		return Member{}, shared.ErrValidation
	}
	actor, err := s.member(ctx, in.GroupID, in.ActorID)
	if err != nil {
		return Member{}, err
	}
	if actor.Role != RoleAdmin {
		return Member{}, ErrNotAdmin
	}
	var added Member
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		m, err := tx.InsertMember(ctx, Member{GroupID: in.GroupID, UserID: strings.TrimSpace(in.UserID), Role: in.Role})
		added = m
		return err
	})
	if err != nil {
		if errors.Is(err, ErrAlreadyMember) {
			return Member{}, err
		}
		return Member{}, shared.WrapStorage("add member", err)
	}
	return added, nil
}

// ListMembers returns the members of a group visible to the user.
func (s *Service) ListMembers(ctx context.Context, groupID, userID string) ([]Member, error) {
	if err := s.RequireMember(ctx, groupID, userID); err != nil {
		return nil, err
	}
	members, err := s.repo.ListGroupMembers(ctx, groupID)
	if err != nil {
		return nil, shared.WrapStorage("list members", err)
	}
	return members, nil
}

// ListGroups returns the groups the user belongs to.
func (s *Service) ListGroups(ctx context.Context, userID string) ([]Summary, error) {
	list, err := s.repo.ListGroupsForUser(ctx, userID)
	if err != nil {
		return nil, shared.WrapStorage("list groups", err)
	}
	return list, nil
}

// GetGroup returns a group visible to the user.
func (s *Service) GetGroup(ctx context.Context, groupID, userID string) (Group, error) {
	if err := s.RequireMember(ctx, groupID, userID); err != nil {
		return Group{}, err
	}
	g, err := s.repo.GetGroup(ctx, groupID)
	if err != nil {
		return Group{}, shared.WrapStorage("get group", err)
	}
	return g, nil
}

// RequireMember fails with ErrNotMember unless userID belongs to groupID.
func (s *Service) RequireMember(ctx context.Context, groupID, userID string) error {
	_, err := s.member(ctx, groupID, userID)
	return err
}

func (s *Service) member(ctx context.Context, groupID, userID string) (Member, error) {
	if userID == "" {
		return Member{}, shared.ErrUnauthenticated
	}
	m, err := s.repo.FindMember(ctx, groupID, userID)
	if errors.Is(err, shared.ErrNotFound) {
		return Member{}, ErrNotMember
	}
	if err != nil {
		return Member{}, shared.WrapStorage("find member", err)
	}
	return m, nil
}
