package models

import "time"

type Clinic struct {
	ClinicID             string    `json:"clinic_id"`
	Name                 string    `json:"name"`
	Timezone             string    `json:"timezone"`
	Language             string    `json:"language"`
	NotificationsEnabled bool      `json:"notifications_enabled"`
	CreatedAt            time.Time `json:"created_at"`
}

type Holiday struct {
	ClinicID string `json:"clinic_id"`
	Date     string `json:"date"`
	Name     string `json:"name"`
}

type Staff struct {
	StaffID      string `json:"staff_id"`
	ClinicID     string `json:"clinic_id"`
	Email        string `json:"email"`
	Name         string `json:"name"`
	Role         string `json:"role"`
	PasswordHash string `json:"-"`
}

const (
	RoleAdmin        = "admin"
	RoleReceptionist = "receptionist"
	RoleDentist      = "dentist"
)
