package domain

import "time"

// CatalogEntry describes a deployable container image template.
type CatalogEntry struct {
	ID          string
	Name        string
	Description string
	Image       string
	Version     string
	IsActive    bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}
