package allocation

import (
	"errors"
	"strings"

	"github.com/groupspend/groupspend/internal/money"
)

// EqualSplit divides amount across memberIDs. Shares follow memberIDs order
// and leftover minor units go to the first members in that order, so
// 3.01 over three members yields 1.01, 1.00, 1.00.
func EqualSplit(amount money.Money, memberIDs []string) ([]Share, error) {
	if len(memberIDs) == 0 {
		return nil, ErrNoMembers
	}
	seen := make(map[string]struct{}, len(memberIDs))
	for _, id := range memberIDs {
		if _, dup := seen[id]; dup {
			return nil, &DuplicateMemberError{UserID: id}
		}
		seen[id] = struct{}{}
	}
	parts, err := amount.SplitEvenly(len(memberIDs))
	if err != nil {
		return nil, err
	}
	shares := make([]Share, len(memberIDs))
	for i, id := range memberIDs {
		shares[i] = Share{UserID: id, Amount: parts[i]}
	}
	return shares, nil
}

// ValidateShares checks that shares are distinct, reference group members,
// are non-negative and sum exactly to amount. Checks run in that order and
// the first failure is returned.
func ValidateShares(amount money.Money, shares []Share, memberIDs []string) error {
	seen := make(map[string]struct{}, len(shares))
	for _, s := range shares {
		if _, dup := seen[s.UserID]; dup {
			return &DuplicateMemberError{UserID: s.UserID}
		}
		seen[s.UserID] = struct{}{}
	}

	members := make(map[string]struct{}, len(memberIDs))
	for _, id := range memberIDs {
		members[id] = struct{}{}
	}
	for _, s := range shares {
		if _, ok := members[s.UserID]; !ok {
			return &UnknownMemberError{UserID: s.UserID}
		}
	}

	for _, s := range shares {
		if s.Amount.IsNegative() {
			return &NegativeShareError{UserID: s.UserID, Amount: s.Amount}
		}
	}

	total := money.Zero(amount.Currency)
	for _, s := range shares {
		next, err := total.Add(s.Amount)
		if errors.Is(err, money.ErrOverflow) {
			return &ShareOverflowError{Expected: amount}
		}
		if err != nil {
			return err
		}
		total = next
	}
	if total.Minor != amount.Minor {
		return &MismatchError{Expected: amount, Actual: total}
	}
	return nil
}

// ValidateDraft checks a draft expense against the receipt currency and the
// group's members. The amount must not be negative.
func ValidateDraft(d Draft, currency string, memberIDs []string) error {
	if strings.TrimSpace(d.Name) == "" {
		return &FieldError{Field: "name", Message: "is required"}
	}
	if d.Amount.Currency != currency {
		return &money.MismatchError{Left: currency, Right: d.Amount.Currency}
	}
	if d.Amount.IsNegative() {
		return &FieldError{Field: "amount", Message: "must not be negative"}
	}
	return ValidateShares(d.Amount, d.Shares, memberIDs)
}

// DraftsFromItems builds one draft per receipt item with a zero share for
// every member, ready to be filled in by the user.
func DraftsFromItems(items []ItemLine, memberIDs []string) []Draft {
	drafts := make([]Draft, 0, len(items))
	for _, item := range items {
		shares := make([]Share, 0, len(memberIDs))
		for _, id := range memberIDs {
			shares = append(shares, Share{UserID: id, Amount: money.Zero(item.Total.Currency)})
		}
		drafts = append(drafts, Draft{Name: item.Name, Amount: item.Total, Shares: shares})
	}
	return drafts
}

// ItemLine is the part of a receipt item needed to build a draft.
type ItemLine struct {
	Name  string
	Total money.Money
}
