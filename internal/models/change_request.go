package models

import "time"

// ChangeRequestType enumerates the supported metadata edit proposals.
type ChangeRequestType string

const (
	ChangeTypeDescription       ChangeRequestType = "DESCRIPTION"
	ChangeTypeTagAdd            ChangeRequestType = "TAG_ADD"
	ChangeTypeTagRemove         ChangeRequestType = "TAG_REMOVE"
	ChangeTypeAttributeCreate   ChangeRequestType = "ATTRIBUTE_CREATE"
	ChangeTypeAttributeEdit     ChangeRequestType = "ATTRIBUTE_EDIT"
	ChangeTypeEnumerationAdd    ChangeRequestType = "ENUMERATION_ADD"
	ChangeTypeEnumerationEdit   ChangeRequestType = "ENUMERATION_EDIT"
	ChangeTypeColumnDescription ChangeRequestType = "COLUMN_DESCRIPTION"
)

// Valid reports whether the request type is part of the closed set.
func (t ChangeRequestType) Valid() bool {
	switch t {
	case ChangeTypeDescription, ChangeTypeTagAdd, ChangeTypeTagRemove,
		ChangeTypeAttributeCreate, ChangeTypeAttributeEdit,
		ChangeTypeEnumerationAdd, ChangeTypeEnumerationEdit,
		ChangeTypeColumnDescription:
		return true
	}
	return false
}

// ChangeStatus enumerates change request workflow states.
type ChangeStatus string

const (
	ChangeStatusPending        ChangeStatus = "pending"
	ChangeStatusMoreInfoNeeded ChangeStatus = "more_info_needed"
	ChangeStatusApproved       ChangeStatus = "approved"
	ChangeStatusDenied         ChangeStatus = "denied"
)

// Terminal reports whether the status admits no further transitions.
func (s ChangeStatus) Terminal() bool {
	return s == ChangeStatusApproved || s == ChangeStatusDenied
}

// ChangeRequest is a proposed metadata edit awaiting approval.
type ChangeRequest struct {
	BaseModel

	RequestType   ChangeRequestType `gorm:"not null;index" json:"request_type"`
	TargetObject  string            `gorm:"not null;index" json:"target_object"`
	Requester     string            `gorm:"not null;index" json:"requester"`
	Justification string            `gorm:"not null" json:"justification"`

	// ProposedChange and CurrentValue hold JSON payloads whose shape is keyed
	// on RequestType; the catalog appliers validate them before use.
	ProposedChange string  `gorm:"type:json;not null" json:"proposed_change"`
	CurrentValue   *string `gorm:"type:json" json:"current_value,omitempty"`

	AssignedTo      *string      `gorm:"index" json:"assigned_to,omitempty"`
	Status          ChangeStatus `gorm:"not null;default:pending;index" json:"status"`
	Approver        *string      `json:"approver,omitempty"`
	DecisionComment *string      `json:"decision_comment,omitempty"`
	DecisionDate    *time.Time   `json:"decision_date,omitempty"`
	RequestedAt     time.Time    `gorm:"not null;index" json:"requested_at"`
}
