package allocation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/groupspend/groupspend/internal/groups"
	"github.com/groupspend/groupspend/internal/money"
	"github.com/groupspend/groupspend/internal/receipts"
	"github.com/groupspend/groupspend/internal/shared"
)

// EventSplitReplaced is the routing key published after a split is saved.
const EventSplitReplaced = "split.replaced"

// ReceiptFinder loads receipts.
type ReceiptFinder interface {
	FindReceipt(ctx context.Context, id string) (receipts.Receipt, error)
}

// MemberLister loads a group's members.
type MemberLister interface {
	ListGroupMembers(ctx context.Context, groupID string) ([]groups.Member, error)
}

// MembershipGuard checks whether a user belongs to a group.
type MembershipGuard interface {
	RequireMember(ctx context.Context, groupID, userID string) error
}

// Invalidator drops derived data after a group's expenses change.
type Invalidator interface {
	InvalidateGroup(ctx context.Context, groupID string) error
}

// Publisher emits domain events.
type Publisher interface {
	Publish(ctx context.Context, routingKey string, payload any) error
}

// Recorder observes split replacement outcomes.
type Recorder interface {
	ObserveSplitReplace(outcome string, expenses int, d time.Duration)
}

// Service validates and stores expense splits.
type Service struct {
	repo        Repository
	receipts    ReceiptFinder
	members     MemberLister
	guard       MembershipGuard
	invalidator Invalidator
	events      Publisher
	recorder    Recorder
	logger      *slog.Logger
	now         func() time.Time
}

// NewService constructs an allocation service.
func NewService(repo Repository, receipts ReceiptFinder, members MemberLister, guard MembershipGuard, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, receipts: receipts, members: members, guard: guard, logger: logger, now: time.Now}
}

// WithInvalidator configures cache invalidation after replacement.
func (s *Service) WithInvalidator(inv Invalidator) *Service {
	s.invalidator = inv
	return s
}

// WithPublisher configures domain event publishing.
func (s *Service) WithPublisher(p Publisher) *Service {
	s.events = p
	return s
}

// WithRecorder configures metric observation.
func (s *Service) WithRecorder(r Recorder) *Service {
	s.recorder = r
	return s
}

// SplitReplacedEvent is the payload of EventSplitReplaced.
type SplitReplacedEvent struct {
	ReceiptID  string    `json:"receipt_id"`
	GroupID    string    `json:"group_id"`
	ActorID    string    `json:"actor_id"`
	Expenses   int       `json:"expenses"`
	ReplacedAt time.Time `json:"replaced_at"`
}

type receiptContext struct {
	receipt   receipts.Receipt
	memberIDs []string
}

func (s *Service) load(ctx context.Context, receiptID, userID string) (receiptContext, error) {
	receipt, err := s.receipts.FindReceipt(ctx, receiptID)
	if err != nil {
		return receiptContext{}, shared.WrapStorage("find receipt", err)
	}
	if err := s.guard.RequireMember(ctx, receipt.GroupID, userID); err != nil {
		return receiptContext{}, err
	}
	members, err := s.members.ListGroupMembers(ctx, receipt.GroupID)
	if err != nil {
		return receiptContext{}, shared.WrapStorage("list members", err)
	}
	return receiptContext{receipt: receipt, memberIDs: groups.UserIDs(members)}, nil
}

// ReplaceExpenses validates every draft and, only when all pass, atomically
// swaps the receipt's stored expenses for the new set. The first invalid
// draft is reported as a DraftError and nothing is written.
func (s *Service) ReplaceExpenses(ctx context.Context, receiptID, userID string, drafts []Draft) ([]Expense, error) {
	start := s.now()
	rc, err := s.load(ctx, receiptID, userID)
	if err != nil {
		return nil, err
	}

	expenses := make([]Expense, 0, len(drafts))
	for idx, d := range drafts {
		if err := ValidateDraft(d, rc.receipt.Currency, rc.memberIDs); err != nil {
			s.observe("rejected", len(drafts), start)
			return nil, &DraftError{Index: idx, Name: d.Name, Err: err}
		}
		shares := make([]Share, len(d.Shares))
		copy(shares, d.Shares)
		expenses = append(expenses, Expense{ReceiptID: receiptID, Name: d.Name, Amount: d.Amount, Shares: shares})
	}

	persisted, err := ReplaceExpensesAtomic(ctx, s.repo, receiptID, expenses)
	if err != nil {
		outcome := "failed"
		if errors.Is(err, shared.ErrConflict) {
			outcome = "conflict"
		}
		s.observe(outcome, len(drafts), start)
		return nil, shared.WrapStorage("replace expenses", err)
	}
	s.observe("ok", len(drafts), start)
	s.logger.InfoContext(ctx, "expenses replaced",
		slog.String("receipt_id", receiptID),
		slog.String("group_id", rc.receipt.GroupID),
		slog.Int("expenses", len(persisted)))

	if s.invalidator != nil {
		if err := s.invalidator.InvalidateGroup(ctx, rc.receipt.GroupID); err != nil {
			s.logger.WarnContext(ctx, "invalidate balances", slog.Any("error", err))
		}
	}
	if s.events != nil {
		evt := SplitReplacedEvent{
			ReceiptID:  receiptID,
			GroupID:    rc.receipt.GroupID,
			ActorID:    userID,
			Expenses:   len(persisted),
			ReplacedAt: s.now().UTC(),
		}
		if err := s.events.Publish(ctx, EventSplitReplaced, evt); err != nil {
			s.logger.WarnContext(ctx, "publish split event", slog.Any("error", err))
		}
	}
	return persisted, nil
}

// EqualSplit splits amount across memberIDs of the receipt's group. An empty
// memberIDs selects every member in join order.
func (s *Service) EqualSplit(ctx context.Context, receiptID, userID string, amount money.Money, memberIDs []string) ([]Share, error) {
	rc, err := s.load(ctx, receiptID, userID)
	if err != nil {
		return nil, err
	}
	if amount.Currency != rc.receipt.Currency {
		return nil, &money.MismatchError{Left: rc.receipt.Currency, Right: amount.Currency}
	}
	if amount.IsNegative() {
		return nil, &FieldError{Field: "amount", Message: "must not be negative"}
	}
	if len(memberIDs) == 0 {
		memberIDs = rc.memberIDs
	}
	known := make(map[string]struct{}, len(rc.memberIDs))
	for _, id := range rc.memberIDs {
		known[id] = struct{}{}
	}
	for _, id := range memberIDs {
		if _, ok := known[id]; !ok {
			return nil, &UnknownMemberError{UserID: id}
		}
	}
	return EqualSplit(amount, memberIDs)
}

// DraftCheck is the validation outcome of one draft.
type DraftCheck struct {
	Index     int                 `json:"index"`
	Name      string              `json:"name"`
	Valid     bool                `json:"valid"`
	Allocated money.Money         `json:"allocated"`
	Remaining money.Money         `json:"remaining"`
	Errors    []shared.FieldError `json:"errors,omitempty"`
}

// CheckDrafts validates each draft independently without writing, so a form
// can show every problem at once.
func (s *Service) CheckDrafts(ctx context.Context, receiptID, userID string, drafts []Draft) ([]DraftCheck, error) {
	rc, err := s.load(ctx, receiptID, userID)
	if err != nil {
		return nil, err
	}
	checks := make([]DraftCheck, 0, len(drafts))
	for idx, d := range drafts {
		check := DraftCheck{Index: idx, Name: d.Name, Valid: true, Allocated: money.Zero(d.Amount.Currency), Remaining: d.Amount}
		for _, sh := range d.Shares {
			if next, err := check.Allocated.Add(sh.Amount); err == nil {
				check.Allocated = next
			}
		}
		if rem, err := d.Amount.Subtract(check.Allocated); err == nil {
			check.Remaining = rem
		}
		if err := ValidateDraft(d, rc.receipt.Currency, rc.memberIDs); err != nil {
			check.Valid = false
			check.Errors = (&DraftError{Index: idx, Name: d.Name, Err: err}).FieldErrors()
		}
		checks = append(checks, check)
	}
	return checks, nil
}

// DraftExpenses returns one draft per receipt item with zero shares for every
// member.
func (s *Service) DraftExpenses(ctx context.Context, receiptID, userID string) ([]Draft, error) {
	rc, err := s.load(ctx, receiptID, userID)
	if err != nil {
		return nil, err
	}
	lines := make([]ItemLine, 0, len(rc.receipt.Items))
	for _, item := range rc.receipt.Items {
		total, err := item.LineTotal()
		if err != nil {
			return nil, fmt.Errorf("allocation: item %q: %w", item.Name, err)
		}
		lines = append(lines, ItemLine{Name: item.Name, Total: total})
	}
	return DraftsFromItems(lines, rc.memberIDs), nil
}

// ListExpenses returns the stored expenses of a receipt.
func (s *Service) ListExpenses(ctx context.Context, receiptID, userID string) ([]Expense, error) {
	if _, err := s.load(ctx, receiptID, userID); err != nil {
		return nil, err
	}
	list, err := s.repo.ListExpenses(ctx, receiptID)
	if err != nil {
		return nil, shared.WrapStorage("list expenses", err)
	}
	return list, nil
}

func (s *Service) observe(outcome string, count int, start time.Time) {
	if s.recorder != nil {
		s.recorder.ObserveSplitReplace(outcome, count, s.now().Sub(start))
	}
}
