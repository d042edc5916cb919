package models

import "time"

// AccessStatus enumerates access request workflow states.
type AccessStatus string

const (
	AccessStatusPending     AccessStatus = "pending"
	AccessStatusPendingInfo AccessStatus = "pending_info"
	AccessStatusApproved    AccessStatus = "approved"
	AccessStatusDenied      AccessStatus = "denied"
)

// Terminal reports whether the status admits no further transitions.
func (s AccessStatus) Terminal() bool {
	return s == AccessStatusApproved || s == AccessStatusDenied
}

// AccessGrantType says whether a grant targets a user or a role.
type AccessGrantType string

const (
	AccessGrantUser AccessGrantType = "USER"
	AccessGrantRole AccessGrantType = "ROLE"
)

// Valid reports whether the grant type is part of the closed set.
func (t AccessGrantType) Valid() bool {
	return t == AccessGrantUser || t == AccessGrantRole
}

// AccessRequest is a proposed data-access grant awaiting approval.
type AccessRequest struct {
	BaseModel

	TableFullName   string          `gorm:"not null;index" json:"table_full_name"`
	Requester       string          `gorm:"not null;index" json:"requester"`
	Justification   string          `gorm:"not null" json:"justification"`
	AccessStartDate time.Time       `gorm:"not null" json:"access_start_date"`
	AccessEndDate   time.Time       `gorm:"not null;index" json:"access_end_date"`
	AccessType      AccessGrantType `gorm:"not null" json:"access_type"`
	GrantToName     string          `gorm:"not null" json:"grant_to_name"`

	AssignedTo      *string      `gorm:"index" json:"assigned_to,omitempty"`
	AdditionalInfo  *string      `json:"additional_info,omitempty"`
	Status          AccessStatus `gorm:"not null;default:pending;index" json:"status"`
	Approver        *string      `json:"approver,omitempty"`
	DecisionComment *string      `json:"decision_comment,omitempty"`
	DecisionDate    *time.Time   `json:"decision_date,omitempty"`
	RequestedAt     time.Time    `gorm:"not null;index" json:"requested_at"`

	// RevokedAt marks that the expiry sweeper has already issued the revoke for
	// an approved grant whose window has closed.
	RevokedAt *time.Time `json:"revoked_at,omitempty"`
}
