package database

import (
	"time"
)

// NewItem is the data recorded on the first sighting of an item.
type NewItem struct {
	ID          string // canonical identity
	Title       string
	Link        string
	Source      string
	PublishedAt *time.Time
	ContentHash string
}

type Item struct {
	ID          string
	Title       string
	Link        string
	Source      string
	PublishedAt *time.Time
	RetrievedAt time.Time
	ContentHash string // reserved for duplicate-content detection, not used for dedup
	Processed   bool
}

type Stats struct {
	Items          int `json:"items"`
	ProcessedItems int `json:"processed_items"`
	Discards       int `json:"discards"`
	Deliveries     int `json:"deliveries"`
}
