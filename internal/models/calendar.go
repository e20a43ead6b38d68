package models

import "time"

// CalendarCounter tracks the next unused slot index of a publishing calendar
type CalendarCounter struct {
	Calendar  string    `gorm:"primaryKey;size:64" json:"calendar"`
	NextIndex int64     `gorm:"not null;default:0" json:"next_index"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}
