package models

import (
	"time"
)

const (
	DefaultFacultyDepartment     = "unassigned"
	DefaultFacultyMaxWeeklyHours = 20
)

// FacultyProfile is the scheduling record created when a faculty account is approved.
// The scheduling subsystem owns it; this service only instantiates it.
type FacultyProfile struct {
	ID             string    `json:"id"`
	AccountID      string    `json:"account_id"`
	Department     string    `json:"department"`
	MaxWeeklyHours int       `json:"max_weekly_hours"`
	CreatedAt      time.Time `json:"created_at"`
}
