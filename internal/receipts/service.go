package receipts

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/groupspend/groupspend/internal/shared"
)

// ErrExtractorUnavailable indicates no extraction backend is configured.
var ErrExtractorUnavailable = fmt.Errorf("receipts: extractor not configured: %w", shared.ErrUnavailable)

// EventReceiptCreated is the routing key published after a receipt is stored.
const EventReceiptCreated = "receipt.created"

// MembershipGuard checks whether a user belongs to a group.
type MembershipGuard interface {
	RequireMember(ctx context.Context, groupID, userID string) error
}

// Extractor turns a receipt image into a raw candidate payload.
type Extractor interface {
	ExtractReceipt(ctx context.Context, image []byte, mimeType string) ([]byte, error)
}

// Publisher emits domain events.
type Publisher interface {
	Publish(ctx context.Context, routingKey string, payload any) error
}

// Recorder observes receipt outcomes.
type Recorder interface {
	ObserveReceiptCreated(source string)
	ObserveExtraction(outcome string)
}

// Service orchestrates receipt construction, parsing and storage.
type Service struct {
	repo      Repository
	guard     MembershipGuard
	parser    *Parser
	extractor Extractor
	events    Publisher
	recorder  Recorder
	logger    *slog.Logger
}

// NewService builds a receipt service.
func NewService(repo Repository, guard MembershipGuard, parser *Parser, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, guard: guard, parser: parser, logger: logger}
}

// WithExtractor configures the image extraction backend.
func (s *Service) WithExtractor(e Extractor) *Service {
	s.extractor = e
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

// CreatedEvent is the payload of EventReceiptCreated.
type CreatedEvent struct {
	ReceiptID  string `json:"receipt_id"`
	GroupID    string `json:"group_id"`
	UploadedBy string `json:"uploaded_by"`
	Title      string `json:"title"`
	TotalMinor int64  `json:"total_minor"`
	Currency   string `json:"currency"`
	ItemCount  int    `json:"item_count"`
}

// Create validates a manually entered receipt and stores it.
func (s *Service) Create(ctx context.Context, in ReceiptInput) (Draft, error) {
	if strings.TrimSpace(in.Currency) == "" && in.TotalAmount.Currency == "" {
		in.Currency = s.parser.defaultCurrency
		in.TotalAmount.Currency = s.parser.defaultCurrency
		for i := range in.Items {
			if in.Items[i].UnitPrice.Currency == "" {
				in.Items[i].UnitPrice.Currency = s.parser.defaultCurrency
			}
		}
	}
	receipt, err := NewReceipt(in)
	if err != nil {
		return Draft{}, err
	}
	div, err := receipt.Divergence(s.parser.tolerancePct)
	if err != nil {
		return Draft{}, err
	}
	return s.store(ctx, Draft{Receipt: receipt, Divergence: div}, "manual")
}

// ParseCandidate validates a raw candidate for the group without storing it.
func (s *Service) ParseCandidate(ctx context.Context, raw []byte, groupID, userID string) (Draft, error) {
	if err := s.guard.RequireMember(ctx, groupID, userID); err != nil {
		return Draft{}, err
	}
	return s.parser.Parse(raw, groupID, userID)
}

// CreateFromCandidate validates a raw candidate and stores the receipt.
func (s *Service) CreateFromCandidate(ctx context.Context, raw []byte, groupID, userID string) (Draft, error) {
	draft, err := s.parser.Parse(raw, groupID, userID)
	if err != nil {
		return Draft{}, err
	}
	return s.store(ctx, draft, "candidate")
}

// Extract runs the configured extractor on an image and validates its output.
// Extractor failures are returned as shared.ExtractionError without retry.
func (s *Service) Extract(ctx context.Context, image []byte, mimeType, groupID, userID string) (Draft, error) {
	if err := s.guard.RequireMember(ctx, groupID, userID); err != nil {
		return Draft{}, err
	}
	raw, err := s.extractRaw(ctx, image, mimeType)
	if err != nil {
		return Draft{}, err
	}
	draft, err := s.parser.Parse(raw, groupID, userID)
	if err != nil {
		s.observeExtraction("rejected")
		return Draft{}, err
	}
	s.observeExtraction("ok")
	return draft, nil
}

// ExtractAndCreate runs extraction and stores the resulting receipt.
func (s *Service) ExtractAndCreate(ctx context.Context, image []byte, mimeType, groupID, userID string) (Draft, error) {
	draft, err := s.Extract(ctx, image, mimeType, groupID, userID)
	if err != nil {
		return Draft{}, err
	}
	return s.store(ctx, draft, "extraction")
}

func (s *Service) extractRaw(ctx context.Context, image []byte, mimeType string) ([]byte, error) {
	if s.extractor == nil {
		return nil, ErrExtractorUnavailable
	}
	raw, err := s.extractor.ExtractReceipt(ctx, image, mimeType)
	if err != nil {
		s.observeExtraction("failed")
		var ee *shared.ExtractionError
		if errors.As(err, &ee) {
			return nil, err
		}
		return nil, &shared.ExtractionError{Err: err}
	}
	return raw, nil
}

// Get returns a receipt visible to the user.
func (s *Service) Get(ctx context.Context, id, userID string) (Receipt, error) {
	receipt, err := s.repo.FindReceipt(ctx, id)
	if err != nil {
		return Receipt{}, shared.WrapStorage("find receipt", err)
	}
	if err := s.guard.RequireMember(ctx, receipt.GroupID, userID); err != nil {
		return Receipt{}, err
	}
	return receipt, nil
}

// ListByGroup returns a group's receipts, newest first.
func (s *Service) ListByGroup(ctx context.Context, groupID, userID string) ([]Receipt, error) {
	if err := s.guard.RequireMember(ctx, groupID, userID); err != nil {
		return nil, err
	}
	list, err := s.repo.ListByGroup(ctx, groupID)
	if err != nil {
		return nil, shared.WrapStorage("list receipts", err)
	}
	return list, nil
}

func (s *Service) store(ctx context.Context, draft Draft, source string) (Draft, error) {
	receipt := draft.Receipt
	if err := s.guard.RequireMember(ctx, receipt.GroupID, receipt.UploadedBy); err != nil {
		return Draft{}, err
	}
	stored, err := s.repo.CreateReceipt(ctx, receipt)
	if err != nil {
		return Draft{}, shared.WrapStorage("create receipt", err)
	}
	draft.Receipt = stored
	if s.recorder != nil {
		s.recorder.ObserveReceiptCreated(source)
	}
	s.logger.InfoContext(ctx, "receipt created",
		slog.String("receipt_id", stored.ID),
		slog.String("group_id", stored.GroupID),
		slog.String("source", source),
		slog.Int("items", len(stored.Items)),
		slog.Bool("divergence_flagged", draft.Divergence.Flagged))
	if s.events != nil {
		evt := CreatedEvent{
			ReceiptID:  stored.ID,
			GroupID:    stored.GroupID,
			UploadedBy: stored.UploadedBy,
			Title:      stored.Title,
			TotalMinor: stored.TotalAmount.Minor,
			Currency:   stored.Currency,
			ItemCount:  len(stored.Items),
		}
		if err := s.events.Publish(ctx, EventReceiptCreated, evt); err != nil {
			s.logger.WarnContext(ctx, "publish receipt event", slog.Any("error", err))
		}
	}
	return draft, nil
}

func (s *Service) observeExtraction(outcome string) {
	if s.recorder != nil {
		s.recorder.ObserveExtraction(outcome)
	}
}
