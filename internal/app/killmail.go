package app

import "time"

// Killmail is one kill credited to a corporation member.
type Killmail struct {
	ID               int64
	Time             time.Time
	CharacterID      int64
	SolarSystemID    int64
	VictimShipTypeID int64
	TotalValue       float64
}

// SolarSystem is a reference data row from the static data export.
type SolarSystem struct {
	ID   int64
	Name string
}

// ItemType is a reference data row from the static data export.
type ItemType struct {
	ID   int64
	Name string
}
