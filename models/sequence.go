package models

import "gorm.io/gorm"

// Sequence represents an ordered, time-delayed set of message steps
// applied to a lead.
type Sequence struct {
	gorm.Model

	Name        string `gorm:"not null" json:"name"`
	Description string `json:"description"`

	// Relations
	Steps []SequenceStep `gorm:"foreignKey:SequenceID" json:"steps,omitempty"`
}

// StepConditions gates a step on the engagement of the previous step's
// message. Both flags combine as AND: the step is skipped if either
// triggering engagement happened.
type StepConditions struct {
	IfNotOpened  bool `json:"if_not_opened"`
	IfNotClicked bool `json:"if_not_clicked"`
}

// SequenceStep is one unit of a sequence: a template, channel, delay and
// optional skip condition. Step 0 always fires immediately and carries no
// conditions.
type SequenceStep struct {
	gorm.Model
	SequenceID uint `gorm:"not null;index" json:"sequence_id"`
	TemplateID uint `gorm:"not null;index" json:"template_id"`

	StepNumber int    `gorm:"not null" json:"step_number"`
	DelayHours int    `gorm:"not null;default:0" json:"delay_hours"`
	Channel    string `gorm:"not null" json:"channel"`

	Conditions *StepConditions `gorm:"type:jsonb;serializer:json" json:"conditions,omitempty"`

	// Optional A/B split: when ABKey is set, VariantTemplateIDs lists the
	// alternative templates and the variant selector picks one per lead.
	ABKey              string `json:"ab_key,omitempty"`
	VariantTemplateIDs []uint `gorm:"type:jsonb;serializer:json" json:"variant_template_ids,omitempty"`

	// Relations
	Template Template `json:"-"`
}
