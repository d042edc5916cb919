package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/datakite/steward/internal/executor"
	"github.com/datakite/steward/internal/models"
	apperrors "github.com/datakite/steward/pkg/errors"
	"github.com/datakite/steward/pkg/validator"
)

// ErrUnknownRequestType rejects change requests outside the closed type set.
var ErrUnknownRequestType = apperrors.New("UNKNOWN_REQUEST_TYPE", "Unknown change request type", http.StatusBadRequest)

// ApplyInput carries everything an applier needs to mutate the target store.
type ApplyInput struct {
	Target  string
	Payload json.RawMessage
	Actor   string
}

// Applier validates a proposed-change payload and applies it to the target
// store once the request is approved.
type Applier interface {
	Validate(payload json.RawMessage) error
	Apply(ctx context.Context, in ApplyInput) error
}

// Registry maps each change request type to its applier.
type Registry struct {
	appliers map[models.ChangeRequestType]Applier
}

// NewRegistry wires the applier for every supported request type.
func NewRegistry(db *gorm.DB, exec executor.Executor) (*Registry, error) {
	if db == nil {
		return nil, errors.New("catalog: db is required")
	}
	if exec == nil {
		return nil, errors.New("catalog: executor is required")
	}

	return &Registry{
		appliers: map[models.ChangeRequestType]Applier{
			models.ChangeTypeDescription:       &descriptionApplier{db: db},
			models.ChangeTypeTagAdd:            &tagAddApplier{db: db},
			models.ChangeTypeTagRemove:         &tagRemoveApplier{db: db},
			models.ChangeTypeAttributeCreate:   &attributeCreateApplier{db: db},
			models.ChangeTypeAttributeEdit:     &attributeEditApplier{db: db},
			models.ChangeTypeEnumerationAdd:    &enumerationAddApplier{db: db},
			models.ChangeTypeEnumerationEdit:   &enumerationEditApplier{db: db},
			models.ChangeTypeColumnDescription: &columnDescriptionApplier{exec: exec},
		},
	}, nil
}

// Validate checks a payload against the shape required by the request type.
func (r *Registry) Validate(requestType models.ChangeRequestType, payload json.RawMessage) error {
	applier, ok := r.appliers[requestType]
	if !ok {
		return ErrUnknownRequestType
	}
	return applier.Validate(payload)
}

// Apply mutates the target store for an approved request.
func (r *Registry) Apply(ctx context.Context, requestType models.ChangeRequestType, in ApplyInput) error {
	applier, ok := r.appliers[requestType]
	if !ok {
		return ErrUnknownRequestType
	}
	if err := applier.Validate(in.Payload); err != nil {
		return err
	}
	return applier.Apply(ctx, in)
}

func decodePayload(payload json.RawMessage, out any) error {
	if len(payload) == 0 {
		return apperrors.NewBadRequest("proposed change payload is required")
	}
	if err := json.Unmarshal(payload, out); err != nil {
		return apperrors.NewBadRequest(fmt.Sprintf("malformed payload: %v", err))
	}
	if err := validator.ValidateStruct(out); err != nil {
		return apperrors.NewBadRequest(err.Error())
	}
	return nil
}

type descriptionPayload struct {
	Description string `json:"description" validate:"required"`
}

type descriptionApplier struct {
	db *gorm.DB
}

func (a *descriptionApplier) Validate(payload json.RawMessage) error {
	var p descriptionPayload
	return decodePayload(payload, &p)
}

func (a *descriptionApplier) Apply(ctx context.Context, in ApplyInput) error {
	var p descriptionPayload
	if err := decodePayload(in.Payload, &p); err != nil {
		return err
	}

	record := models.ObjectDescription{
		ObjectName:  in.Target,
		Description: p.Description,
		UpdatedBy:   in.Actor,
	}
	return a.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "object_name"}},
		DoUpdates: clause.AssignmentColumns([]string{"description", "updated_by", "updated_at"}),
	}).Create(&record).Error
}

type tagAddPayload struct {
	TagName string `json:"tag_name" validate:"required"`
	Action  string `json:"action" validate:"required,eq=add"`
}

type tagAddApplier struct {
	db *gorm.DB
}

func (a *tagAddApplier) Validate(payload json.RawMessage) error {
	var p tagAddPayload
	return decodePayload(payload, &p)
}

func (a *tagAddApplier) Apply(ctx context.Context, in ApplyInput) error {
	var p tagAddPayload
	if err := decodePayload(in.Payload, &p); err != nil {
		return err
	}

	record := models.ObjectTag{
		ObjectName: in.Target,
		TagName:    p.TagName,
		AddedBy:    in.Actor,
	}
	return a.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&record).Error
}

type tagRemovePayload struct {
	TagID   string `json:"tag_id" validate:"required"`
	TagName string `json:"tag_name" validate:"required"`
	Action  string `json:"action" validate:"required,eq=remove"`
}

type tagRemoveApplier struct {
	db *gorm.DB
}

func (a *tagRemoveApplier) Validate(payload json.RawMessage) error {
	var p tagRemovePayload
	return decodePayload(payload, &p)
}

func (a *tagRemoveApplier) Apply(ctx context.Context, in ApplyInput) error {
	var p tagRemovePayload
	if err := decodePayload(in.Payload, &p); err != nil {
		return err
	}

	result := a.db.WithContext(ctx).
		Where("id = ? AND object_name = ?", p.TagID, in.Target).
		Delete(&models.ObjectTag{})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("catalog: tag %s not linked to %s", p.TagName, in.Target)
	}
	return nil
}

type enumerationValue struct {
	ValueCode        string `json:"value_code" validate:"required"`
	ValueDescription string `json:"value_description" validate:"required"`
	SortOrder        int    `json:"sort_order"`
}

type attributeCreatePayload struct {
	AttributeName string             `json:"attribute_name" validate:"required"`
	DisplayName   string             `json:"display_name" validate:"required"`
	Description   string             `json:"description" validate:"required"`
	Enumerations  []enumerationValue `json:"enumerations" validate:"omitempty,dive"`
}

type attributeCreateApplier struct {
	db *gorm.DB
}

func (a *attributeCreateApplier) Validate(payload json.RawMessage) error {
	var p attributeCreatePayload
	return decodePayload(payload, &p)
}

func (a *attributeCreateApplier) Apply(ctx context.Context, in ApplyInput) error {
	var p attributeCreatePayload
	if err := decodePayload(in.Payload, &p); err != nil {
		return err
	}

	return a.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		attribute := models.Attribute{
			AttributeName: p.AttributeName,
			DisplayName:   p.DisplayName,
			Description:   p.Description,
			UpdatedBy:     in.Actor,
		}
		if err := tx.Create(&attribute).Error; err != nil {
			return err
		}

		for _, value := range p.Enumerations {
			enum := models.AttributeEnumeration{
				AttributeID:      attribute.ID,
				ValueCode:        value.ValueCode,
				ValueDescription: value.ValueDescription,
				SortOrder:        value.SortOrder,
			}
			if err := tx.Create(&enum).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

type attributeEditApplier struct {
	db *gorm.DB
}

func (a *attributeEditApplier) Validate(payload json.RawMessage) error {
	var p descriptionPayload
	return decodePayload(payload, &p)
}

func (a *attributeEditApplier) Apply(ctx context.Context, in ApplyInput) error {
	var p descriptionPayload
	if err := decodePayload(in.Payload, &p); err != nil {
		return err
	}

	result := a.db.WithContext(ctx).
		Model(&models.Attribute{}).
		Where("attribute_name = ?", in.Target).
		Updates(map[string]any{"description": p.Description, "updated_by": in.Actor})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("catalog: attribute %s not found", in.Target)
	}
	return nil
}

type enumerationAddPayload struct {
	Action           string `json:"action" validate:"required,eq=add"`
	ValueCode        string `json:"value_code" validate:"required"`
	ValueDescription string `json:"value_description" validate:"required"`
	SortOrder        int    `json:"sort_order"`
}

type enumerationAddApplier struct {
	db *gorm.DB
}

func (a *enumerationAddApplier) Validate(payload json.RawMessage) error {
	var p enumerationAddPayload
	return decodePayload(payload, &p)
}

func (a *enumerationAddApplier) Apply(ctx context.Context, in ApplyInput) error {
	var p enumerationAddPayload
	if err := decodePayload(in.Payload, &p); err != nil {
		return err
	}

	var attribute models.Attribute
	if err := a.db.WithContext(ctx).
		First(&attribute, "attribute_name = ?", in.Target).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("catalog: attribute %s not found", in.Target)
		}
		return err
	}

	enum := models.AttributeEnumeration{
		AttributeID:      attribute.ID,
		ValueCode:        p.ValueCode,
		ValueDescription: p.ValueDescription,
		SortOrder:        p.SortOrder,
	}
	return a.db.WithContext(ctx).Create(&enum).Error
}

type enumerationEditPayload struct {
	Action           string `json:"action" validate:"required,eq=edit"`
	EnumerationID    string `json:"enumeration_id" validate:"required"`
	ValueDescription string `json:"value_description" validate:"required"`
}

type enumerationEditApplier struct {
	db *gorm.DB
}

func (a *enumerationEditApplier) Validate(payload json.RawMessage) error {
	var p enumerationEditPayload
	return decodePayload(payload, &p)
}

func (a *enumerationEditApplier) Apply(ctx context.Context, in ApplyInput) error {
	var p enumerationEditPayload
	if err := decodePayload(in.Payload, &p); err != nil {
		return err
	}

	result := a.db.WithContext(ctx).
		Model(&models.AttributeEnumeration{}).
		Where("id = ?", p.EnumerationID).
		Update("value_description", p.ValueDescription)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("catalog: enumeration %s not found", p.EnumerationID)
	}
	return nil
}

type columnDescriptionApplier struct {
	exec executor.Executor
}

func (a *columnDescriptionApplier) Validate(payload json.RawMessage) error {
	var p descriptionPayload
	return decodePayload(payload, &p)
}

func (a *columnDescriptionApplier) Apply(ctx context.Context, in ApplyInput) error {
	var p descriptionPayload
	if err := decodePayload(in.Payload, &p); err != nil {
		return err
	}

	// Target must be db.schema.table.column for a column comment.
	if parts := strings.Split(in.Target, "."); len(parts) != 4 {
		return apperrors.NewBadRequest("column target must be db.schema.table.column")
	}

	stmt := fmt.Sprintf("COMMENT ON COLUMN %s IS '%s'",
		executor.QualifiedIdent(in.Target),
		strings.ReplaceAll(p.Description, "'", "''"),
	)
	return a.exec.Exec(ctx, stmt)
}
