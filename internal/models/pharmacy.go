package models

import (
	"time"
)

// Day keys indexing the weekly operating-hours table.
const (
	DayMon     = "mon"
	DayTue     = "tue"
	DayWed     = "wed"
	DayThu     = "thu"
	DayFri     = "fri"
	DaySat     = "sat"
	DaySun     = "sun"
	DayHoliday = "holiday"
)

// HoursSlot is one day's open/close pair, each a 4-digit "HHMM" string.
type HoursSlot struct {
	Open  string `json:"open"`
	Close string `json:"close"`
}

// OperatingHours maps a day key to its slot. A nil slot (or missing key)
// means closed or unknown for that day.
type OperatingHours map[string]*HoursSlot

// Operating states derived from hours + current instant.
const (
	StateOpen        = "open"
	StateClosingSoon = "closing-soon"
	StateClosed      = "closed"
	StateUnknown     = "unknown"
)

// OperatingStatus is computed fresh per query and never persisted.
// ClosesAt carries today's "HHMM" close time when known, for display.
type OperatingStatus struct {
	State    string `json:"state"`
	ClosesAt string `json:"closes_at,omitempty"`
}

// Pharmacy is a public-data pharmacy record persisted in Postgres.
type Pharmacy struct {
	HPID      string         `json:"hpid"`
	Name      string         `json:"name"`
	Address   string         `json:"address"`
	Sido      string         `json:"sido"`
	Gugun     string         `json:"gugun"`
	Phone     string         `json:"phone,omitempty"`
	Lat       float64        `json:"lat,omitempty"`
	Lng       float64        `json:"lng,omitempty"`
	Hours     OperatingHours `json:"hours,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}
