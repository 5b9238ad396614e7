package models

import "fmt"

// Storage keys for the persisted index and the display preference.
const (
	PhotosKey   = "photomenu:photos"
	ViewModeKey = "photomenu:viewMode"
)

// Photo represents one stored photo. Records are immutable once written.
type Photo struct {
	ID        string `json:"id"`
	FileName  string `json:"fileName"`
	Locator   string `json:"locator"`
	CreatedAt int64  `json:"createdAt"` // milliseconds since epoch
	Width     int    `json:"width"`
	Height    int    `json:"height"`
}

// NewPhoto derives a record from its creation timestamp and blob locator.
// Dimensions are left at zero; nothing populates them yet.
func NewPhoto(createdAt int64, locator string) Photo {
	return Photo{
		ID:        PhotoID(createdAt),
		FileName:  PhotoFileName(createdAt),
		Locator:   locator,
		CreatedAt: createdAt,
	}
}

// PhotoID returns the record id for a creation timestamp.
func PhotoID(createdAt int64) string {
	return fmt.Sprintf("photo-%d", createdAt)
}

// PhotoFileName returns the blob file name for a creation timestamp.
func PhotoFileName(createdAt int64) string {
	return PhotoID(createdAt) + ".jpg"
}

// ViewMode is the persisted gallery layout preference.
type ViewMode string

const (
	ViewModeGrid ViewMode = "grid"
	ViewModeList ViewMode = "list"
)

// DefaultViewMode applies when no valid preference has been stored.
const DefaultViewMode = ViewModeGrid

// Valid reports whether v is a known view mode.
func (v ViewMode) Valid() bool {
	return v == ViewModeGrid || v == ViewModeList
}

// Toggle returns the other view mode.
func (v ViewMode) Toggle() ViewMode {
	if v == ViewModeList {
		return ViewModeGrid
	}
	return ViewModeList
}
