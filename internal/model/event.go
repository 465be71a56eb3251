package model

import "time"

// EventRecord is an append-only record of a lifecycle transition. The core
// only ever inserts; consumers (persistence, notification) read.
type EventRecord struct {
	ID          int64     `gorm:"autoIncrement;primaryKey" json:"id"`
	ApplicantID uint      `gorm:"not null;index" json:"applicant_id"`
	Kind        string    `gorm:"size:40;not null;index" json:"kind"`
	Detail      string    `gorm:"type:text" json:"detail"`
	CreatedAt   time.Time `gorm:"index" json:"created_at"`
}
