package model

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// RobotType is the closed set of robot categories.
type RobotType string

const (
	TypeIndustrial  RobotType = "industrial"
	TypeService     RobotType = "service"
	TypeMedical     RobotType = "medical"
	TypeEducational RobotType = "educational"
	TypeOther       RobotType = "other"
)

// RobotTypes lists every accepted RobotType in display order.
var RobotTypes = []RobotType{TypeIndustrial, TypeService, TypeMedical, TypeEducational, TypeOther}

// Robot is the sole persisted entity. Columns are managed by the versioned
// migrations in internal/db, not by AutoMigrate.
type Robot struct {
	ID        string    `gorm:"primaryKey;size:36" json:"id" yaml:"id"`
	Name      string    `gorm:"size:30;not null" json:"name" yaml:"name"`
	Label     string    `gorm:"not null" json:"label" yaml:"label"`
	Year      int       `gorm:"not null" json:"year" yaml:"year"`
	Type      RobotType `gorm:"size:16;not null" json:"type" yaml:"type"`
	CreatedAt time.Time `gorm:"not null" json:"createdAt" yaml:"createdAt"`
	UpdatedAt time.Time `gorm:"not null" json:"updatedAt" yaml:"updatedAt"`
	Archived  bool      `gorm:"not null" json:"archived" yaml:"archived"`
}

// TableName pins the table name used by the migrations.
func (Robot) TableName() string {
	return "robots"
}

// RobotInput is the caller-supplied part of a Robot.
type RobotInput struct {
	Name  string    `json:"name" yaml:"name" validate:"min=2,max=30"`
	Label string    `json:"label" yaml:"label" validate:"min=3"`
	Year  int       `json:"year" yaml:"year" validate:"robotyear"`
	Type  RobotType `json:"type" yaml:"type" validate:"oneof=industrial service medical educational other"`
}

// Normalized returns a copy with name and label trimmed.
func (in RobotInput) Normalized() RobotInput {
	in.Name = strings.TrimSpace(in.Name)
	in.Label = strings.TrimSpace(in.Label)
	return in
}

// Input extracts the mutable fields of r.
func (r Robot) Input() RobotInput {
	return RobotInput{Name: r.Name, Label: r.Label, Year: r.Year, Type: r.Type}
}

// NameKey is the normalised form used for case-insensitive uniqueness.
func NameKey(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// NewID returns a fresh time-ordered UUID (version 7).
func NewID() string {
	return uuid.Must(uuid.NewV7()).String()
}

// Now is the timestamp source for createdAt/updatedAt.
func Now() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}
