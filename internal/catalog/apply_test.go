package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/datakite/steward/internal/models"
)

type recordingExecutor struct {
	statements []string
	err        error
}

func (r *recordingExecutor) Exec(_ context.Context, stmt string) error {
	if r.err != nil {
		return r.err
	}
	r.statements = append(r.statements, stmt)
	return nil
}

func setupCatalogTest(t *testing.T) (*gorm.DB, *Registry, *recordingExecutor) {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)

	require.NoError(t, db.AutoMigrate(
		&models.ObjectDescription{},
		&models.ObjectTag{},
		&models.Attribute{},
		&models.AttributeEnumeration{},
	))

	sqlDB, err := db.DB()
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = sqlDB.Close()
	})

	exec := &recordingExecutor{}
	registry, err := NewRegistry(db, exec)
	require.NoError(t, err)

	return db, registry, exec
}

func TestDescriptionApplyUpserts(t *testing.T) {
	db, registry, _ := setupCatalogTest(t)

	in := ApplyInput{
		Target:  "DB.SCH.T1",
		Payload: json.RawMessage(`{"description":"first"}`),
		Actor:   "alice",
	}
	require.NoError(t, registry.Apply(context.Background(), models.ChangeTypeDescription, in))

	in.Payload = json.RawMessage(`{"description":"second"}`)
	require.NoError(t, registry.Apply(context.Background(), models.ChangeTypeDescription, in))

	var stored models.ObjectDescription
	require.NoError(t, db.First(&stored, "object_name = ?", "DB.SCH.T1").Error)
	require.Equal(t, "second", stored.Description)
	require.Equal(t, "alice", stored.UpdatedBy)

	var count int64
	require.NoError(t, db.Model(&models.ObjectDescription{}).Count(&count).Error)
	require.EqualValues(t, 1, count)
}

func TestTagAddAndRemove(t *testing.T) {
	db, registry, _ := setupCatalogTest(t)

	add := ApplyInput{
		Target:  "DB.SCH.T1",
		Payload: json.RawMessage(`{"tag_name":"pii","action":"add"}`),
		Actor:   "alice",
	}
	require.NoError(t, registry.Apply(context.Background(), models.ChangeTypeTagAdd, add))

	var tag models.ObjectTag
	require.NoError(t, db.First(&tag, "object_name = ? AND tag_name = ?", "DB.SCH.T1", "pii").Error)

	remove := ApplyInput{
		Target:  "DB.SCH.T1",
		Payload: json.RawMessage(fmt.Sprintf(`{"tag_id":%q,"tag_name":"pii","action":"remove"}`, tag.ID)),
	}
	require.NoError(t, registry.Apply(context.Background(), models.ChangeTypeTagRemove, remove))

	err := db.First(&models.ObjectTag{}, "id = ?", tag.ID).Error
	require.ErrorIs(t, err, gorm.ErrRecordNotFound)

	// Removing again fails: the linkage is gone.
	require.Error(t, registry.Apply(context.Background(), models.ChangeTypeTagRemove, remove))
}

func TestTagAddRejectsWrongAction(t *testing.T) {
	_, registry, _ := setupCatalogTest(t)

	err := registry.Validate(models.ChangeTypeTagAdd, json.RawMessage(`{"tag_name":"pii","action":"remove"}`))
	require.Error(t, err)
}

func TestAttributeCreateWithEnumerations(t *testing.T) {
	db, registry, _ := setupCatalogTest(t)

	payload := `{
		"attribute_name": "data_domain",
		"display_name": "Data Domain",
		"description": "Business domain of the object",
		"enumerations": [
			{"value_code": "FIN", "value_description": "Finance", "sort_order": 1},
			{"value_code": "HR", "value_description": "Human Resources", "sort_order": 2}
		]
	}`
	in := ApplyInput{Target: "data_domain", Payload: json.RawMessage(payload), Actor: "alice"}
	require.NoError(t, registry.Apply(context.Background(), models.ChangeTypeAttributeCreate, in))

	var attribute models.Attribute
	require.NoError(t, db.Preload("Enumerations").First(&attribute, "attribute_name = ?", "data_domain").Error)
	require.Len(t, attribute.Enumerations, 2)
}

func TestAttributeEditRequiresExistingAttribute(t *testing.T) {
	db, registry, _ := setupCatalogTest(t)

	in := ApplyInput{
		Target:  "missing_attribute",
		Payload: json.RawMessage(`{"description":"updated"}`),
	}
	require.Error(t, registry.Apply(context.Background(), models.ChangeTypeAttributeEdit, in))

	require.NoError(t, db.Create(&models.Attribute{AttributeName: "present", Description: "old"}).Error)

	in.Target = "present"
	require.NoError(t, registry.Apply(context.Background(), models.ChangeTypeAttributeEdit, in))

	var stored models.Attribute
	require.NoError(t, db.First(&stored, "attribute_name = ?", "present").Error)
	require.Equal(t, "updated", stored.Description)
}

func TestEnumerationAddAndEdit(t *testing.T) {
	db, registry, _ := setupCatalogTest(t)

	require.NoError(t, db.Create(&models.Attribute{AttributeName: "data_domain"}).Error)

	add := ApplyInput{
		Target:  "data_domain",
		Payload: json.RawMessage(`{"action":"add","value_code":"MKT","value_description":"Marketing"}`),
	}
	require.NoError(t, registry.Apply(context.Background(), models.ChangeTypeEnumerationAdd, add))

	var enum models.AttributeEnumeration
	require.NoError(t, db.First(&enum, "value_code = ?", "MKT").Error)

	edit := ApplyInput{
		Target:  "data_domain",
		Payload: json.RawMessage(fmt.Sprintf(`{"action":"edit","enumeration_id":%q,"value_description":"Marketing & Sales"}`, enum.ID)),
	}
	require.NoError(t, registry.Apply(context.Background(), models.ChangeTypeEnumerationEdit, edit))

	require.NoError(t, db.First(&enum, "id = ?", enum.ID).Error)
	require.Equal(t, "Marketing & Sales", enum.ValueDescription)
}

func TestColumnDescriptionGoesThroughExecutor(t *testing.T) {
	_, registry, exec := setupCatalogTest(t)

	in := ApplyInput{
		Target:  "DB.SCH.T1.COL",
		Payload: json.RawMessage(`{"description":"it's a column"}`),
	}
	require.NoError(t, registry.Apply(context.Background(), models.ChangeTypeColumnDescription, in))

	require.Len(t, exec.statements, 1)
	require.Equal(t, `COMMENT ON COLUMN "DB"."SCH"."T1"."COL" IS 'it''s a column'`, exec.statements[0])
}

func TestColumnDescriptionRequiresFourPartTarget(t *testing.T) {
	_, registry, _ := setupCatalogTest(t)

	in := ApplyInput{
		Target:  "DB.SCH.T1",
		Payload: json.RawMessage(`{"description":"x"}`),
	}
	require.Error(t, registry.Apply(context.Background(), models.ChangeTypeColumnDescription, in))
}

func TestUnknownRequestType(t *testing.T) {
	_, registry, _ := setupCatalogTest(t)

	err := registry.Validate(models.ChangeRequestType("RENAME_TABLE"), json.RawMessage(`{}`))
	require.ErrorIs(t, err, ErrUnknownRequestType)
}

func TestMalformedPayloadRejected(t *testing.T) {
	_, registry, _ := setupCatalogTest(t)

	require.Error(t, registry.Validate(models.ChangeTypeDescription, json.RawMessage(`{"description":`)))
	require.Error(t, registry.Validate(models.ChangeTypeDescription, nil))
	require.Error(t, registry.Validate(models.ChangeTypeDescription, json.RawMessage(`{}`)))
}
