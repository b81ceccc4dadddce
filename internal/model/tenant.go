package model

import "time"

// Tenant represents a business account owning one calendar identity.
// Rows are created and edited by the dashboard; this subsystem only
// reads them (credential rows reference the tenant by ID).
type Tenant struct {
	ID                  string    `json:"id" gorm:"type:uuid;primaryKey"`
	Name                string    `json:"name" gorm:"not null"`
	CalendarID          string    `json:"calendar_id" gorm:"not null;default:'primary'"`
	Timezone            string    `json:"timezone" gorm:"not null;default:'America/Los_Angeles'"`
	BusinessHoursStart  int       `json:"business_hours_start" gorm:"not null;default:9"`
	BusinessHoursEnd    int       `json:"business_hours_end" gorm:"not null;default:17"`
	SlotDurationMinutes int       `json:"slot_duration_minutes" gorm:"not null;default:30"`
	CreatedAt           time.Time `json:"created_at"`
	UpdatedAt           time.Time `json:"updated_at"`
}

// TableName specifies the table name for Tenant
func (Tenant) TableName() string {
	return "tenants"
}
