package idempotency

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ManuelReschke/OrderHook/app/models"
	"github.com/ManuelReschke/OrderHook/app/repository"
	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"
)

// ErrStoreUnavailable means the dedup table could not be consulted. Callers
// must fail the request instead of processing without deduplication.
var ErrStoreUnavailable = errors.New("idempotency store unavailable")

// BeginResult reports whether the caller is the first handler of an event.
type BeginResult struct {
	OK        bool
	Duplicate bool
	Event     *models.PaymentEvent
}

// Outcome is the final processing state written back onto the event row.
type Outcome struct {
	Status       string
	HandleStatus string
	ErrorCode    string
}

// Store records each (provider, provider_event_id) at most once.
type Store struct {
	repo repository.PaymentEventRepository
	now  func() time.Time
}

func NewStore(repo repository.PaymentEventRepository) *Store {
	return &Store{repo: repo, now: time.Now}
}

// NewStoreFromDB creates a store from a GORM DB handle.
func NewStoreFromDB(db *gorm.DB) *Store {
	return NewStore(repository.NewPaymentEventRepository(db))
}

// Begin inserts seed keyed by (provider, providerEventID) if absent. Exactly
// one of any number of concurrent callers gets Duplicate=false.
func (s *Store) Begin(provider, providerEventID string, seed *models.PaymentEvent) (BeginResult, error) {
	provider = strings.ToLower(strings.TrimSpace(provider))
	providerEventID = strings.TrimSpace(providerEventID)
	if provider == "" || providerEventID == "" {
		return BeginResult{}, errors.New("provider and provider_event_id are required")
	}
	if seed == nil {
		seed = &models.PaymentEvent{}
	}
	seed.Provider = provider
	seed.ProviderEventID = providerEventID
	if seed.Status == "" {
		seed.Status = models.PaymentEventStatusReceived
	}

	created, stored, err := s.repo.CreateIfNotExists(seed)
	if err != nil {
		log.Errorf("[Idempotency] begin %s/%s failed: %v", provider, providerEventID, err)
		return BeginResult{OK: false}, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return BeginResult{OK: true, Duplicate: !created, Event: stored}, nil
}

// MarkProcessing claims a received row for the caller. It reports false when
// the row had already left received.
func (s *Store) MarkProcessing(id uint) (bool, error) {
	if id == 0 {
		return false, errors.New("payment event id is required")
	}
	claimed, err := s.repo.MarkProcessing(id)
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return claimed, nil
}

// Finish records the outcome. A row that already holds a final outcome is
// left untouched.
func (s *Store) Finish(id uint, out Outcome) error {
	if id == 0 {
		return errors.New("payment event id is required")
	}
	switch out.Status {
	case models.PaymentEventStatusProcessed, models.PaymentEventStatusFailed:
	default:
		return fmt.Errorf("invalid final status %q", out.Status)
	}

	updated, err := s.repo.MarkFinished(id, out.Status, out.HandleStatus, out.ErrorCode, s.now())
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if !updated {
		log.Warnf("[Idempotency] event %d already finished, outcome %q not recorded", id, out.HandleStatus)
	}
	return nil
}
