package database

import (
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/datakite/steward/internal/models"
	"github.com/datakite/steward/internal/permissions"
)

// AdminRole is the governance role seeded with every permission so a fresh
// deployment can be administered at all.
const AdminRole = "STEWARD_ADMIN"

// AutoMigrate creates or updates the database schema for all models.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.RolePermission{},
		&models.ChangeRequest{},
		&models.AccessRequest{},
		&models.ObjectDescription{},
		&models.ObjectTag{},
		&models.Attribute{},
		&models.AttributeEnumeration{},
		&models.Contact{},
		&models.AuditLog{},
	)
}

// SeedData assigns the full permission set to the admin role. Existing
// assignments are left untouched.
func SeedData(db *gorm.DB) error {
	for _, kind := range permissions.All() {
		assignment := models.RolePermission{
			Role:      AdminRole,
			Kind:      string(kind),
			GrantedBy: "seed",
			GrantedAt: time.Now().UTC(),
		}
		err := db.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "role"}, {Name: "kind"}},
			DoNothing: true,
		}).Create(&assignment).Error
		if err != nil {
			return err
		}
	}
	return nil
}
