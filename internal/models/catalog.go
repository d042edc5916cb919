package models

// ObjectDescription stores the curated description for a catalog object.
type ObjectDescription struct {
	BaseModel

	ObjectName  string `gorm:"not null;uniqueIndex" json:"object_name"`
	Description string `gorm:"not null" json:"description"`
	UpdatedBy   string `json:"updated_by"`
}

// ObjectTag links a tag to a catalog object.
type ObjectTag struct {
	BaseModel

	ObjectName string `gorm:"not null;uniqueIndex:idx_object_tag" json:"object_name"`
	TagName    string `gorm:"not null;uniqueIndex:idx_object_tag" json:"tag_name"`
	AddedBy    string `json:"added_by"`
}

// Attribute is a business-glossary attribute definition.
type Attribute struct {
	BaseModel

	AttributeName string `gorm:"not null;uniqueIndex" json:"attribute_name"`
	DisplayName   string `json:"display_name"`
	Description   string `json:"description"`
	UpdatedBy     string `json:"updated_by"`

	Enumerations []AttributeEnumeration `gorm:"foreignKey:AttributeID" json:"enumerations,omitempty"`
}

// AttributeEnumeration is one allowed value of an attribute.
type AttributeEnumeration struct {
	BaseModel

	AttributeID      string `gorm:"type:uuid;not null;index" json:"attribute_id"`
	ValueCode        string `gorm:"not null" json:"value_code"`
	ValueDescription string `gorm:"not null" json:"value_description"`
	SortOrder        int    `json:"sort_order"`
}

// Contact maps a catalog object to its responsible party. Used as a
// best-effort hint when routing change requests for review.
type Contact struct {
	BaseModel

	ObjectName  string `gorm:"not null;uniqueIndex" json:"object_name"`
	ContactName string `gorm:"not null" json:"contact_name"`
}
