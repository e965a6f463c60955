package models

import (
	"strings"
	"time"
)

// User is an account that can sign in and watch the catalog.
type User struct {
	ID           int64      `json:"id"`
	Email        string     `json:"email"`
	PasswordHash string     `json:"passwordHash,omitempty"`
	IsActive     bool       `json:"isActive"`
	IsStaff      bool       `json:"isStaff"`
	DateJoined   time.Time  `json:"dateJoined"`
	LastLogin    *time.Time `json:"lastLogin,omitempty"`
}

// Category groups catalog entries on the frontend.
type Category string

const (
	CategoryDrama   Category = "Drama"
	CategoryRomance Category = "Romance"
	CategoryAction  Category = "Action"
	CategoryComedy  Category = "Comedy"
)

// Categories lists every valid category in display order.
var Categories = []Category{CategoryDrama, CategoryRomance, CategoryAction, CategoryComedy}

// ParseCategory matches value case-insensitively against Categories.
func ParseCategory(value string) (Category, bool) {
	trimmed := strings.TrimSpace(value)
	for _, c := range Categories {
		if strings.EqualFold(string(c), trimmed) {
			return c, true
		}
	}
	return "", false
}

// Video is a catalog entry. SourcePath and ThumbnailPath are relative to the
// media root.
type Video struct {
	ID            int64     `json:"id"`
	Title         string    `json:"title"`
	Description   string    `json:"description"`
	Category      Category  `json:"category"`
	CreatedAt     time.Time `json:"createdAt"`
	SourcePath    string    `json:"sourcePath,omitempty"`
	ThumbnailPath string    `json:"thumbnailPath,omitempty"`
}

// MaxTitleLength bounds Video.Title.
const MaxTitleLength = 200
