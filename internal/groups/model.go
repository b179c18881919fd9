package groups

import "time"

// Role is a member's permission level within a group.
type Role string

const (
	// RoleAdmin may manage membership.
	RoleAdmin Role = "admin"
	// RoleMember may upload receipts and edit splits.
	RoleMember Role = "member"
)

// Valid reports whether the role is known.
func (r Role) Valid() bool {
	return r == RoleAdmin || r == RoleMember
}

// Group is a set of people sharing expenses.
type Group struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	CreatedBy   string    `json:"created_by"`
	CreatedAt   time.Time `json:"created_at"`
}

// Member links a user to a group. The member set of a group is exactly the
// set of users eligible to receive shares of its receipts.
type Member struct {
	ID       string    `json:"id"`
	UserID   string    `json:"user_id"`
	GroupID  string    `json:"group_id"`
	Role     Role      `json:"role"`
	JoinedAt time.Time `json:"joined_at"`
}

// Summary is a group with aggregate counts for listings.
type Summary struct {
	Group
	MemberCount  int  `json:"member_count"`
	ReceiptCount int  `json:"receipt_count"`
	Role         Role `json:"role"`
}

// UserIDs returns the members' user ids in order.
func UserIDs(members []Member) []string {
	ids := make([]string, 0, len(members))
	for _, m := range members {
		ids = append(ids, m.UserID)
	}
	return ids
}
