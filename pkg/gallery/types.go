package gallery

import (
	"errors"
	"time"
)

// Visibility controls who can see an album
type Visibility string

const (
	VisibilityPublic   Visibility = "public"   // Listed and viewable by anyone
	VisibilityUnlisted Visibility = "unlisted" // Viewable by anyone with the link
	VisibilityPrivate  Visibility = "private"  // Signed-in users only
)

// Valid reports whether v is a known visibility
func (v Visibility) Valid() bool {
	switch v {
	case VisibilityPublic, VisibilityUnlisted, VisibilityPrivate:
		return true
	}
	return false
}

// Anonymous reports whether visitors without a session may view the album
func (v Visibility) Anonymous() bool {
	return v == VisibilityPublic || v == VisibilityUnlisted
}

// MediaType distinguishes stills from videos
type MediaType string

const (
	MediaImage MediaType = "image"
	MediaVideo MediaType = "video"
)

// Status tracks variant generation for a photo
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusReady      Status = "ready"
	StatusFailed     Status = "failed"
)

// Album groups photos and videos
type Album struct {
	ID           int64      `json:"id"`
	Slug         string     `json:"slug"`
	Title        string     `json:"title"`
	Description  string     `json:"description"`
	CoverPhotoID *int64     `json:"cover_photo_id,omitempty"`
	Visibility   Visibility `json:"visibility"`
	SortOrder    int        `json:"sort_order"`
	PhotoCount   int        `json:"photo_count"`
	CreatedBy    *int64     `json:"created_by,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// Variant is one rendered rendition of a photo
type Variant struct {
	Key         string `json:"key"`
	ContentType string `json:"content_type"`
	Width       int    `json:"width,omitempty"`
	Height      int    `json:"height,omitempty"`
	Size        int64  `json:"size,omitempty"`
}

// Photo is an uploaded image or video
type Photo struct {
	ID               int64              `json:"id"`
	AlbumID          int64              `json:"album_id"`
	MediaType        MediaType          `json:"media_type"`
	OriginalKey      string             `json:"-"`
	OriginalFilename string             `json:"original_filename"`
	ContentType      string             `json:"content_type"`
	SizeBytes        int64              `json:"size_bytes"`
	Width            int                `json:"width"`
	Height           int                `json:"height"`
	DurationMS       int64              `json:"duration_ms,omitempty"`
	Caption          string             `json:"caption"`
	Position         int                `json:"position"`
	Status           Status             `json:"status"`
	FailureReason    string             `json:"failure_reason,omitempty"`
	Variants         map[string]Variant `json:"variants"`
	TakenAt          *time.Time         `json:"taken_at,omitempty"`
	UploadedBy       *int64             `json:"uploaded_by,omitempty"`
	CreatedAt        time.Time          `json:"created_at"`
	UpdatedAt        time.Time          `json:"updated_at"`
}

// BlobKeys returns the original and every variant key
func (p *Photo) BlobKeys() []string {
	keys := make([]string, 0, len(p.Variants)+1)
	if p.OriginalKey != "" {
		keys = append(keys, p.OriginalKey)
	}
	for _, v := range p.Variants {
		if v.Key != "" {
			keys = append(keys, v.Key)
		}
	}
	return keys
}

// NewAlbum holds the fields for CreateAlbum
type NewAlbum struct {
	Title       string     `json:"title"`
	Slug        string     `json:"slug,omitempty"`
	Description string     `json:"description"`
	Visibility  Visibility `json:"visibility"`
	CreatedBy   *int64     `json:"-"`
}

// AlbumUpdate carries edits; nil fields are left unchanged
type AlbumUpdate struct {
	Title       *string     `json:"title,omitempty"`
	Slug        *string     `json:"slug,omitempty"`
	Description *string     `json:"description,omitempty"`
	Visibility  *Visibility `json:"visibility,omitempty"`
}

// AlbumFilter selects albums for ListAlbums
type AlbumFilter struct {
	Visibility []Visibility
	Limit      int
	Offset     int
}

// NewPhoto holds the fields recorded when an upload is accepted
type NewPhoto struct {
	AlbumID          int64
	MediaType        MediaType
	OriginalKey      string
	OriginalFilename string
	ContentType      string
	SizeBytes        int64
	TakenAt          *time.Time
	UploadedBy       *int64
}

// PhotoUpdate carries caption and capture time edits
type PhotoUpdate struct {
	Caption      *string    `json:"caption,omitempty"`
	TakenAt      *time.Time `json:"taken_at,omitempty"`
	ClearTakenAt bool       `json:"clear_taken_at,omitempty"`
}

// Dimensions are measured while processing
type Dimensions struct {
	Width      int
	Height     int
	DurationMS int64
}

// AlbumView is an album with its photos, as served to viewers
type AlbumView struct {
	Album  *Album   `json:"album"`
	Photos []*Photo `json:"photos"`
}

var (
	ErrNotFound          = errors.New("not found")
	ErrSlugTaken         = errors.New("slug already in use")
	ErrInvalidVisibility = errors.New("invalid visibility")
	ErrInvalidInput      = errors.New("invalid input")
	ErrPhotoNotInAlbum   = errors.New("photo does not belong to album")
	ErrReorderMismatch   = errors.New("reorder ids must list every item exactly once")
)
