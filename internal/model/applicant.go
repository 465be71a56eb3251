package model

import "time"

// Applicant statuses written back by the automation core. Detailed history
// lives in EventRecord; this is only the coarse view the dashboard reads.
const (
	ApplicantMonitoring = "monitoring"
	ApplicantBooked     = "booked"
	ApplicantFailed     = "failed"
)

// Applicant stores one visa applicant and their monitoring target.
type Applicant struct {
	ID             uint   `gorm:"primaryKey" json:"id"`
	FirstName      string `gorm:"size:100;not null" json:"first_name"`
	LastName       string `gorm:"size:100;not null" json:"last_name"`
	Email          string `gorm:"size:255;not null" json:"email"`
	Phone          string `gorm:"size:50" json:"phone"`
	PassportNumber string `gorm:"size:50;uniqueIndex;not null" json:"passport_number"`
	DateOfBirth    string `gorm:"size:10" json:"date_of_birth"`
	Nationality    string `gorm:"size:50" json:"nationality"`

	// Portal credential set this applicant's session is bound to.
	CredentialKey  string `gorm:"size:128;not null;index" json:"credential_key"`
	PortalEmail    string `gorm:"size:255;not null" json:"portal_email"`
	PortalPassword string `gorm:"size:255;not null" json:"-"`

	// Monitoring target.
	Center      string    `gorm:"size:100;not null" json:"center"`
	Category    string    `gorm:"size:100;not null" json:"category"`
	Subcategory string    `gorm:"size:100" json:"subcategory"`
	WindowStart time.Time `json:"window_start"`
	WindowEnd   time.Time `json:"window_end"`

	Status    string    `gorm:"size:20;not null;default:monitoring" json:"status"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
