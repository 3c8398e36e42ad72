package api

import (
	"encoding/json"
	"time"
)

// User is the profile returned by login and /auth/me.
type User struct {
	ID    string `json:"_id"`
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
	Role  string `json:"role,omitempty"`
}

// LoginResult is the body of a successful login.
type LoginResult struct {
	Token string `json:"token"`
	User  User   `json:"user"`
}

// Dimensions of a physical item, in centimetres.
type Dimensions struct {
	Length float64 `json:"length"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Item is an item as the backend reports it.
type Item struct {
	ID                 string      `json:"_id"`
	Name               string      `json:"name"`
	Description        string      `json:"description,omitempty"`
	Category           string      `json:"category,omitempty"`
	ItemType           string      `json:"item_type,omitempty"`
	Price              float64     `json:"price"`
	Weight             float64     `json:"weight,omitempty"`
	Dimensions         *Dimensions `json:"dimensions,omitempty"`
	DownloadURL        string      `json:"download_url,omitempty"`
	FileSize           int64       `json:"file_size,omitempty"`
	DurationHours      int         `json:"duration_hours,omitempty"`
	Tags               []string    `json:"tags,omitempty"`
	IsActive           bool        `json:"is_active"`
	Version            int         `json:"version,omitempty"`
	CreatedBy          string      `json:"created_by,omitempty"`
	NormalizedName     string      `json:"normalizedName,omitempty"`
	NormalizedCategory string      `json:"normalizedCategory,omitempty"`
	CreatedAt          *time.Time  `json:"createdAt,omitempty"`
	UpdatedAt          *time.Time  `json:"updatedAt,omitempty"`
}

// Pagination is the listing metadata.
type Pagination struct {
	Total int `json:"total"`
	Page  int `json:"page,omitempty"`
	Limit int `json:"limit,omitempty"`
}

// ItemList is one page of a listing.
type ItemList struct {
	Items      []Item     `json:"items"`
	Pagination Pagination `json:"pagination"`
}

// Status filters a listing by activity.
type Status string

const (
	StatusActive   Status = "active"
	StatusInactive Status = "inactive"
)

// ListOptions are the query parameters of GET /items.
type ListOptions struct {
	Search string
	Status Status
	Limit  int
	Page   int
}

// unwrap returns the payload inside a {"data": ...} envelope, or body
// itself when there is no envelope. The backend uses both shapes.
func unwrap(body []byte) []byte {
	var env struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(body, &env); err == nil && len(env.Data) > 0 && string(env.Data) != "null" {
		return env.Data
	}
	return body
}
