package models

import "time"

// RolePermission assigns a permission kind to a role. Rows are created and
// deleted, never updated in place; the (role, kind) pair is unique.
type RolePermission struct {
	BaseModel

	Role      string    `gorm:"not null;uniqueIndex:idx_role_permission" json:"role"`
	Kind      string    `gorm:"not null;uniqueIndex:idx_role_permission" json:"permission_kind"`
	GrantedBy string    `json:"granted_by"`
	GrantedAt time.Time `json:"granted_at"`
}
