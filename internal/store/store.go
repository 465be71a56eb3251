package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/devnight0507/reverse-bot/internal/model"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("store: not found")

// Store defines the persistence operations the automation core and the
// operator API need. The core treats applicants as read-mostly: it only
// writes back the coarse status field and appends events.
type Store interface {
	// Applicants.
	CreateApplicant(ctx context.Context, a *model.Applicant) error
	GetApplicant(ctx context.Context, id uint) (*model.Applicant, error)
	ListApplicants(ctx context.Context) ([]model.Applicant, error)
	ListMonitoringApplicants(ctx context.Context) ([]model.Applicant, error)
	UpdateApplicantStatus(ctx context.Context, id uint, status string) error

	// Booking attempts.
	CreateAttempt(ctx context.Context, a *model.BookingAttempt) error
	UpdateAttempt(ctx context.Context, a *model.BookingAttempt) error
	ListAttempts(ctx context.Context, applicantID uint) ([]model.BookingAttempt, error)

	// Events, append-only.
	AppendEvent(ctx context.Context, e *model.EventRecord) error
	ListEvents(ctx context.Context, applicantID uint, limit int) ([]model.EventRecord, error)

	// Session restore tokens, keyed per credential set.
	SaveSessionToken(ctx context.Context, rec *model.SessionRecord) error
	LoadSessionToken(ctx context.Context, credentialKey string) (*model.SessionRecord, error)
	DeleteSessionToken(ctx context.Context, credentialKey string) error

	// DB exposes the underlying handle for the API layer and the
	// notification pool.
	DB() *gorm.DB
}

type gormStore struct {
	db *gorm.DB
}

// NewGormStore creates a new GORM-backed store.
func NewGormStore(db *gorm.DB) Store {
	return &gormStore{db: db}
}

func (s *gormStore) DB() *gorm.DB { return s.db }

func (s *gormStore) CreateApplicant(ctx context.Context, a *model.Applicant) error {
	if a.Status == "" {
		a.Status = model.ApplicantMonitoring
	}
	return s.db.WithContext(ctx).Create(a).Error
}

func (s *gormStore) GetApplicant(ctx context.Context, id uint) (*model.Applicant, error) {
	var a model.Applicant
	if err := s.db.WithContext(ctx).First(&a, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &a, nil
}

func (s *gormStore) ListApplicants(ctx context.Context) ([]model.Applicant, error) {
	var out []model.Applicant
	err := s.db.WithContext(ctx).Order("id").Find(&out).Error
	return out, err
}

func (s *gormStore) ListMonitoringApplicants(ctx context.Context) ([]model.Applicant, error) {
	var out []model.Applicant
	err := s.db.WithContext(ctx).
		Where("status = ?", model.ApplicantMonitoring).
		Order("id").
		Find(&out).Error
	return out, err
}

func (s *gormStore) UpdateApplicantStatus(ctx context.Context, id uint, status string) error {
	res := s.db.WithContext(ctx).
		Model(&model.Applicant{}).
		Where("id = ?", id).
		Update("status", status)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *gormStore) CreateAttempt(ctx context.Context, a *model.BookingAttempt) error {
	return s.db.WithContext(ctx).Create(a).Error
}

// UpdateAttempt persists a state transition. Terminal rows are immutable: a
// further update is refused rather than silently rewriting history.
func (s *gormStore) UpdateAttempt(ctx context.Context, a *model.BookingAttempt) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var current model.BookingAttempt
		if err := tx.First(&current, "id = ?", a.ID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return err
		}
		if current.Terminal() {
			return fmt.Errorf("booking attempt %s is terminal (%s)", a.ID, current.State)
		}
		return tx.Save(a).Error
	})
}

func (s *gormStore) ListAttempts(ctx context.Context, applicantID uint) ([]model.BookingAttempt, error) {
	var out []model.BookingAttempt
	q := s.db.WithContext(ctx).Order("created_at DESC")
	if applicantID != 0 {
		q = q.Where("applicant_id = ?", applicantID)
	}
	err := q.Find(&out).Error
	return out, err
}

func (s *gormStore) AppendEvent(ctx context.Context, e *model.EventRecord) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	return s.db.WithContext(ctx).Create(e).Error
}

func (s *gormStore) ListEvents(ctx context.Context, applicantID uint, limit int) ([]model.EventRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	var out []model.EventRecord
	q := s.db.WithContext(ctx).Order("created_at DESC").Limit(limit)
	if applicantID != 0 {
		q = q.Where("applicant_id = ?", applicantID)
	}
	err := q.Find(&out).Error
	return out, err
}

// SaveSessionToken overwrites the restore token for a credential set.
func (s *gormStore) SaveSessionToken(ctx context.Context, rec *model.SessionRecord) error {
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "credential_key"}},
		DoUpdates: clause.AssignmentColumns([]string{"token", "expires_at", "last_used_at", "updated_at"}),
	}).Create(rec).Error
}

func (s *gormStore) LoadSessionToken(ctx context.Context, credentialKey string) (*model.SessionRecord, error) {
	var rec model.SessionRecord
	err := s.db.WithContext(ctx).First(&rec, "credential_key = ?", credentialKey).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &rec, nil
}

func (s *gormStore) DeleteSessionToken(ctx context.Context, credentialKey string) error {
	return s.db.WithContext(ctx).
		Delete(&model.SessionRecord{}, "credential_key = ?", credentialKey).Error
}
