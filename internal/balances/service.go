package balances

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/groupspend/groupspend/internal/allocation"
	"github.com/groupspend/groupspend/internal/groups"
	"github.com/groupspend/groupspend/internal/platform/cache"
	"github.com/groupspend/groupspend/internal/receipts"
	"github.com/groupspend/groupspend/internal/shared"
)

// ReceiptFinder loads receipts.
type ReceiptFinder interface {
	FindReceipt(ctx context.Context, id string) (receipts.Receipt, error)
}

// MemberLister loads a group's members.
type MemberLister interface {
	ListGroupMembers(ctx context.Context, groupID string) ([]groups.Member, error)
}

// ExpenseLister loads stored expenses.
type ExpenseLister interface {
	ListExpenses(ctx context.Context, receiptID string) ([]allocation.Expense, error)
	ListExpensesByGroup(ctx context.Context, groupID string) ([]allocation.Expense, error)
}

// MembershipGuard checks whether a user belongs to a group.
type MembershipGuard interface {
	RequireMember(ctx context.Context, groupID, userID string) error
}

// Summary is the per-member breakdown of a receipt or a group.
type Summary struct {
	Scope    string        `json:"scope"`
	ScopeID  string        `json:"scope_id"`
	Currency string        `json:"currency,omitempty"`
	Members  []MemberTotal `json:"members"`
	Expenses []Coverage    `json:"expenses"`
}

// Service computes cached balance summaries.
type Service struct {
	receipts ReceiptFinder
	members  MemberLister
	expenses ExpenseLister
	guard    MembershipGuard
	cache    *cache.Versioned
	flight   singleflight.Group
	logger   *slog.Logger
}

// NewService constructs a balance service. A nil cache computes on every call.
func NewService(receipts ReceiptFinder, members MemberLister, expenses ExpenseLister, guard MembershipGuard, c *cache.Versioned, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{receipts: receipts, members: members, expenses: expenses, guard: guard, cache: c, logger: logger}
}

// ReceiptTotals returns member totals and expense coverage for one receipt.
func (s *Service) ReceiptTotals(ctx context.Context, receiptID, userID string) (Summary, error) {
	receipt, err := s.visibleReceipt(ctx, receiptID, userID)
	if err != nil {
		return Summary{}, err
	}
	return s.receiptSummary(ctx, receipt)
}

// Overview is everything a receipt page shows at once.
type Overview struct {
	Receipt  receipts.Receipt     `json:"receipt"`
	Members  []groups.Member      `json:"members"`
	Expenses []allocation.Expense `json:"expenses"`
	Totals   Summary              `json:"totals"`
}

// ReceiptOverview loads a receipt with its members, expenses and totals. The
// three loads run concurrently and the first failure cancels the others.
func (s *Service) ReceiptOverview(ctx context.Context, receiptID, userID string) (Overview, error) {
	receipt, err := s.visibleReceipt(ctx, receiptID, userID)
	if err != nil {
		return Overview{}, err
	}
	out := Overview{Receipt: receipt}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		members, err := s.members.ListGroupMembers(gctx, receipt.GroupID)
		if err != nil {
			return shared.WrapStorage("list members", err)
		}
		out.Members = members
		return nil
	})
	g.Go(func() error {
		expenses, err := s.expenses.ListExpenses(gctx, receiptID)
		if err != nil {
			return shared.WrapStorage("list expenses", err)
		}
		out.Expenses = expenses
		return nil
	})
	g.Go(func() error {
		totals, err := s.receiptSummary(gctx, receipt)
		if err != nil {
			return err
		}
		out.Totals = totals
		return nil
	})
	if err := g.Wait(); err != nil {
		return Overview{}, err
	}
	if out.Members == nil {
		out.Members = []groups.Member{}
	}
	if out.Expenses == nil {
		out.Expenses = []allocation.Expense{}
	}
	return out, nil
}

func (s *Service) visibleReceipt(ctx context.Context, receiptID, userID string) (receipts.Receipt, error) {
	receipt, err := s.receipts.FindReceipt(ctx, receiptID)
	if err != nil {
		return receipts.Receipt{}, shared.WrapStorage("find receipt", err)
	}
	if err := s.guard.RequireMember(ctx, receipt.GroupID, userID); err != nil {
		return receipts.Receipt{}, err
	}
	return receipt, nil
}

func (s *Service) receiptSummary(ctx context.Context, receipt receipts.Receipt) (Summary, error) {
	return s.cached(ctx, receipt.GroupID, "receipt", receipt.ID, func(ctx context.Context) (Summary, error) {
		expenses, err := s.expenses.ListExpenses(ctx, receipt.ID)
		if err != nil {
			return Summary{}, shared.WrapStorage("list expenses", err)
		}
		summary, err := s.summarize(ctx, receipt.GroupID, expenses)
		if err != nil {
			return Summary{}, err
		}
		summary.Scope, summary.ScopeID = "receipt", receipt.ID
		if summary.Currency == "" {
			summary.Currency = receipt.Currency
		}
		return summary, nil
	})
}

// GroupTotals returns member totals across every receipt of the group.
func (s *Service) GroupTotals(ctx context.Context, groupID, userID string) (Summary, error) {
	if err := s.guard.RequireMember(ctx, groupID, userID); err != nil {
		return Summary{}, err
	}
	return s.groupSummary(ctx, groupID)
}

// WarmGroup computes and caches the group summary without a caller check.
// It backs the background warmup job.
func (s *Service) WarmGroup(ctx context.Context, groupID string) error {
	_, err := s.groupSummary(ctx, groupID)
	return err
}

func (s *Service) groupSummary(ctx context.Context, groupID string) (Summary, error) {
	return s.cached(ctx, groupID, "group", groupID, func(ctx context.Context) (Summary, error) {
		expenses, err := s.expenses.ListExpensesByGroup(ctx, groupID)
		if err != nil {
			return Summary{}, shared.WrapStorage("list expenses", err)
		}
		summary, err := s.summarize(ctx, groupID, expenses)
		if err != nil {
			return Summary{}, err
		}
		summary.Scope, summary.ScopeID = "group", groupID
		return summary, nil
	})
}

// InvalidateGroup drops every cached summary of the group.
func (s *Service) InvalidateGroup(ctx context.Context, groupID string) error {
	return s.cache.Bump(ctx, groupID)
}

func (s *Service) summarize(ctx context.Context, groupID string, expenses []allocation.Expense) (Summary, error) {
	members, err := s.members.ListGroupMembers(ctx, groupID)
	if err != nil {
		return Summary{}, shared.WrapStorage("list members", err)
	}
	ids := groups.UserIDs(members)
	totals, err := AllMemberTotals(expenses, ids)
	if err != nil {
		return Summary{}, err
	}
	currency, _ := expenseCurrency(expenses)
	summary := Summary{Currency: currency, Members: OrderedTotals(totals, ids), Expenses: make([]Coverage, 0, len(expenses))}
	for _, e := range expenses {
		cov, err := CoverageOf(e)
		if err != nil {
			return Summary{}, err
		}
		summary.Expenses = append(summary.Expenses, cov)
	}
	return summary, nil
}

// cached collapses concurrent computations of the same summary and stores the
// result under the group's cache version.
func (s *Service) cached(ctx context.Context, groupID, scope, id string, compute func(context.Context) (Summary, error)) (Summary, error) {
	key, err := s.cache.BuildKey(ctx, groupID, scope, id)
	if err != nil {
		s.logger.WarnContext(ctx, "balance cache key", slog.Any("error", err))
		return compute(ctx)
	}
	// The shared computation outlives any single caller's cancellation.
	flightCtx := context.WithoutCancel(ctx)
	ch := s.flight.DoChan(key, func() (any, error) {
		var out Summary
		err := s.cache.FetchJSON(flightCtx, key, &out, func(ctx context.Context) (any, error) {
			return compute(ctx)
		})
		return out, err
	})
	select {
	case <-ctx.Done():
		return Summary{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return Summary{}, res.Err
		}
		summary, ok := res.Val.(Summary)
		if !ok {
			return Summary{}, fmt.Errorf("balances: unexpected cached value %T", res.Val)
		}
		return summary, nil
	}
}
