package groups

import (
	"fmt"

	"github.com/groupspend/groupspend/internal/shared"
)

var (
	// ErrNotMember indicates the user does not belong to the group.
	ErrNotMember = fmt.Errorf("groups: user is not a member of the group: %w", shared.ErrForbidden)
	// ErrNotAdmin indicates the actor lacks admin rights.
	ErrNotAdmin = fmt.Errorf("groups: admin role required: %w", shared.ErrForbidden)
	// ErrAlreadyMember indicates the user already belongs to the group.
	ErrAlreadyMember = fmt.Errorf("groups: user is already a member: %w", shared.ErrConflict)
	// ErrInvalidRole indicates an unknown role.
	ErrInvalidRole = fmt.Errorf("groups: invalid role: %w", shared.ErrValidation)
	// ErrNameRequired indicates a blank group name.
	ErrNameRequired = fmt.Errorf("groups: name required: %w", shared.ErrValidation)
)
