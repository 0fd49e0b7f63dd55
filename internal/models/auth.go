package models

import (
	"github.com/golang-jwt/jwt/v5"
)

// SessionClaims are carried by a session token
type SessionClaims struct {
	AccountID string `json:"account_id"`
	Role      Role   `json:"role"`
	jwt.RegisteredClaims
}

// Notification templates understood by the notifier
type NotificationTemplate string

const (
	TemplateOTPCode         NotificationTemplate = "otp_code"
	TemplateWelcome         NotificationTemplate = "welcome"
	TemplateFacultyApproved NotificationTemplate = "faculty_approved"
)

// Notification is one queued email
type Notification struct {
	Address  string
	Template NotificationTemplate
	Data     map[string]string
}
