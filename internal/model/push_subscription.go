package model

import "time"

// PushSubscription stores a web push subscription of an operator browser.
// Every subscription receives every booking lifecycle notification.
type PushSubscription struct {
	Endpoint  string `gorm:"primaryKey;size:512"`
	P256DH    string `gorm:"column:p256dh;size:256;not null"`
	Auth      string `gorm:"size:256;not null"`
	CreatedAt time.Time
}
