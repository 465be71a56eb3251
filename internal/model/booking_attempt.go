package model

import "time"

// BookingAttempt states. An attempt only moves forward through
// discovered -> form_opened -> submitted -> committed, or drops to failed;
// a terminal row is never mutated again, so the table doubles as an audit
// trail of every race for a slot.
const (
	AttemptDiscovered = "discovered"
	AttemptFormOpened = "form_opened"
	AttemptSubmitted  = "submitted"
	AttemptCommitted  = "committed"
	AttemptFailed     = "failed"
)

// BookingAttempt is one reservation transaction for one discovered slot.
type BookingAttempt struct {
	ID          string `gorm:"primaryKey;size:36" json:"id"`
	ApplicantID uint   `gorm:"not null;index" json:"applicant_id"`

	SlotID   string    `gorm:"size:64;not null" json:"slot_id"`
	SlotDate time.Time `json:"slot_date"`
	SlotTime string    `gorm:"size:20" json:"slot_time"`
	Center   string    `gorm:"size:100" json:"center"`
	Category string    `gorm:"size:100" json:"category"`

	State            string `gorm:"size:20;not null" json:"state"`
	FailReason       string `gorm:"size:100" json:"fail_reason,omitempty"`
	ConfirmationCode string `gorm:"size:100" json:"confirmation_code,omitempty"`
	// Hash of the submitted applicant payload, kept for manual
	// reconciliation of unconfirmed submissions.
	SubmittedHash string `gorm:"size:64" json:"-"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Applicant Applicant `gorm:"constraint:OnDelete:CASCADE" json:"-"`
}

// Terminal reports whether the attempt reached a final state.
func (a *BookingAttempt) Terminal() bool {
	return a.State == AttemptCommitted || a.State == AttemptFailed
}
