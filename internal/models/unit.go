package models

// UnitStatus is the operational status of a single motorcycle.
type UnitStatus string

const (
	UnitAvailable UnitStatus = "AVAILABLE"
	UnitRented    UnitStatus = "RENTED"
	UnitInService UnitStatus = "IN_SERVICE"
	UnitOverdue   UnitStatus = "OVERDUE"
)

// Valid reports whether s is a known status.
func (s UnitStatus) Valid() bool {
	switch s {
	case UnitAvailable, UnitRented, UnitInService, UnitOverdue:
		return true
	}
	return false
}

// RentalType is a motorcycle model grouping several physical units.
type RentalType struct {
	ID           int64  `json:"id"`
	Brand        string `json:"brand"`
	Model        string `json:"model"`
	Displacement int    `json:"displacement"` // cc
	Image        string `json:"image,omitempty"`
	Slug         string `json:"slug,omitempty"`
}

// RentalUnit is one physical motorcycle as seen by the client.
type RentalUnit struct {
	ID        int64      `json:"id"`
	Plate     string     `json:"plate"`
	Color     string     `json:"color"`
	DailyRate int64      `json:"dailyRate"`
	Status    UnitStatus `json:"status"`
	Type      RentalType `json:"type"`
}

// IsAvailable reports whether the unit can be offered for rent.
func (u *RentalUnit) IsAvailable() bool {
	return u.Status == UnitAvailable
}

// DisplayName returns "Brand Model (plate)".
func (u *RentalUnit) DisplayName() string {
	name := u.Type.Brand
	if u.Type.Model != "" {
		if name != "" {
			name += " "
		}
		name += u.Type.Model
	}
	if name == "" {
		return u.Plate
	}
	return name + " (" + u.Plate + ")"
}
