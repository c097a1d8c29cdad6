package branding

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/mail"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/platinummonkey/lightbox/pkg/database"
	"github.com/platinummonkey/lightbox/pkg/i18n"
)

var (
	ErrInvalidColor = errors.New("color must be #rrggbb")
	ErrInvalidInput = errors.New("invalid input")
	ErrNoAsset      = errors.New("asset not set")
	ErrUnknownAsset = errors.New("unknown branding asset")
)

// settingsID is the primary key of the only branding row
const settingsID = 1

var (
	colorPattern    = regexp.MustCompile(`^#[0-9a-fA-F]{6}$`)
	maxFieldLengths = map[string]int{"site_title": 100, "tagline": 200, "footer_text": 500}
)

// Asset names a branding image
type Asset string

const (
	AssetLogo    Asset = "logo"
	AssetFavicon Asset = "favicon"
)

// maxEdge is the long edge assets are scaled down to
func (a Asset) maxEdge() int {
	if a == AssetFavicon {
		return 64
	}
	return 512
}

// Settings is the single site-wide branding record
type Settings struct {
	SiteTitle     string    `json:"site_title"`
	Tagline       string    `json:"tagline"`
	PrimaryColor  string    `json:"primary_color"`
	AccentColor   string    `json:"accent_color"`
	FooterText    string    `json:"footer_text"`
	ContactEmail  string    `json:"contact_email"`
	LogoKey       string    `json:"logo_key,omitempty"`
	FaviconKey    string    `json:"favicon_key,omitempty"`
	DefaultLocale string    `json:"default_locale"`
	UpdatedAt     time.Time `json:"updated_at"`
	UpdatedBy     *int64    `json:"updated_by,omitempty"`
}

// Defaults are served until an admin saves settings
func Defaults() *Settings {
	return &Settings{
		SiteTitle:     "Lightbox",
		PrimaryColor:  "#1f6feb",
		AccentColor:   "#f78166",
		DefaultLocale: i18n.DefaultLocale,
	}
}

// PublicSettings is what anonymous visitors see
type PublicSettings struct {
	SiteTitle     string `json:"site_title"`
	Tagline       string `json:"tagline"`
	PrimaryColor  string `json:"primary_color"`
	AccentColor   string `json:"accent_color"`
	FooterText    string `json:"footer_text"`
	ContactEmail  string `json:"contact_email,omitempty"`
	LogoURL       string `json:"logo_url,omitempty"`
	FaviconURL    string `json:"favicon_url,omitempty"`
	DefaultLocale string `json:"default_locale"`
}

// Public strips storage keys and audit fields. Asset URLs carry the update
// time so browsers refetch after a change.
func (s *Settings) Public(assetBase string) PublicSettings {
	v := strconv.FormatInt(s.UpdatedAt.Unix(), 10)
	p := PublicSettings{
		SiteTitle:     s.SiteTitle,
		Tagline:       s.Tagline,
		PrimaryColor:  s.PrimaryColor,
		AccentColor:   s.AccentColor,
		FooterText:    s.FooterText,
		ContactEmail:  s.ContactEmail,
		DefaultLocale: s.DefaultLocale,
	}
	if s.LogoKey != "" {
		p.LogoURL = strings.TrimSuffix(assetBase, "/") + "/logo?v=" + v
	}
	if s.FaviconKey != "" {
		p.FaviconURL = strings.TrimSuffix(assetBase, "/") + "/favicon?v=" + v
	}
	return p
}

func (s *Settings) assetKey(a Asset) string {
	if a == AssetFavicon {
		return s.FaviconKey
	}
	return s.LogoKey
}

func (s *Settings) setAssetKey(a Asset, key string) {
	if a == AssetFavicon {
		s.FaviconKey = key
	} else {
		s.LogoKey = key
	}
}

// Update carries edits; nil fields are left unchanged
type Update struct {
	SiteTitle     *string `json:"site_title,omitempty"`
	Tagline       *string `json:"tagline,omitempty"`
	PrimaryColor  *string `json:"primary_color,omitempty"`
	AccentColor   *string `json:"accent_color,omitempty"`
	FooterText    *string `json:"footer_text,omitempty"`
	ContactEmail  *string `json:"contact_email,omitempty"`
	DefaultLocale *string `json:"default_locale,omitempty"`
}

func checkLength(field, value string) error {
	if max := maxFieldLengths[field]; len(value) > max {
		return fmt.Errorf("%w: %s longer than %d characters", ErrInvalidInput, field, max)
	}
	return nil
}

func normalizeColor(c string) (string, error) {
	c = strings.TrimSpace(c)
	if !colorPattern.MatchString(c) {
		return "", ErrInvalidColor
	}
	return strings.ToLower(c), nil
}

// apply validates upd and writes it into s
func (upd Update) apply(s *Settings) error {
	if upd.SiteTitle != nil {
		title := strings.TrimSpace(*upd.SiteTitle)
		if title == "" {
			return fmt.Errorf("%w: site title is required", ErrInvalidInput)
		}
		if err := checkLength("site_title", title); err != nil {
			return err
		}
		s.SiteTitle = title
	}
	if upd.Tagline != nil {
		if err := checkLength("tagline", strings.TrimSpace(*upd.Tagline)); err != nil {
			return err
		}
		s.Tagline = strings.TrimSpace(*upd.Tagline)
	}
	if upd.FooterText != nil {
		if err := checkLength("footer_text", strings.TrimSpace(*upd.FooterText)); err != nil {
			return err
		}
		s.FooterText = strings.TrimSpace(*upd.FooterText)
	}
	if upd.PrimaryColor != nil {
		c, err := normalizeColor(*upd.PrimaryColor)
		if err != nil {
			return fmt.Errorf("primary color: %w", err)
		}
		s.PrimaryColor = c
	}
	if upd.AccentColor != nil {
		c, err := normalizeColor(*upd.AccentColor)
		if err != nil {
			return fmt.Errorf("accent color: %w", err)
		}
		s.AccentColor = c
	}
	if upd.ContactEmail != nil {
		email := strings.TrimSpace(*upd.ContactEmail)
		if email != "" {
			addr, err := mail.ParseAddress(email)
			if err != nil || addr.Address != email {
				return fmt.Errorf("%w: contact email", ErrInvalidInput)
			}
		}
		s.ContactEmail = email
	}
	if upd.DefaultLocale != nil {
		locale := i18n.Canonical(*upd.DefaultLocale)
		if locale == "" {
			return fmt.Errorf("%w: unsupported locale %q", ErrInvalidInput, *upd.DefaultLocale)
		}
		s.DefaultLocale = locale
	}
	return nil
}

// Store reads and writes the branding row
type Store struct {
	db *sql.DB
}

// NewStore creates a store over an open database
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Get returns the saved settings, or Defaults when none were saved
func (s *Store) Get(ctx context.Context) (*Settings, error) {
	out := &Settings{}
	var updatedBy sql.NullInt64
	err := s.db.QueryRowContext(ctx, `
		SELECT site_title, tagline, primary_color, accent_color, footer_text, contact_email,
			logo_key, favicon_key, default_locale, updated_at, updated_by
		FROM branding WHERE id = $1`, settingsID,
	).Scan(&out.SiteTitle, &out.Tagline, &out.PrimaryColor, &out.AccentColor, &out.FooterText,
		&out.ContactEmail, &out.LogoKey, &out.FaviconKey, &out.DefaultLocale, &out.UpdatedAt, &updatedBy)
	if errors.Is(err, sql.ErrNoRows) {
		return Defaults(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get branding: %w", err)
	}
	out.UpdatedBy = database.Int64Ptr(updatedBy)
	return out, nil
}

// Save upserts the settings row
func (s *Store) Save(ctx context.Context, in *Settings) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO branding (id, site_title, tagline, primary_color, accent_color, footer_text,
			contact_email, logo_key, favicon_key, default_locale, updated_at, updated_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (id) DO UPDATE SET
			site_title = excluded.site_title,
			tagline = excluded.tagline,
			primary_color = excluded.primary_color,
			accent_color = excluded.accent_color,
			footer_text = excluded.footer_text,
			contact_email = excluded.contact_email,
			logo_key = excluded.logo_key,
			favicon_key = excluded.favicon_key,
			default_locale = excluded.default_locale,
			updated_at = excluded.updated_at,
			updated_by = excluded.updated_by`,
		settingsID, in.SiteTitle, in.Tagline, in.PrimaryColor, in.AccentColor, in.FooterText,
		in.ContactEmail, in.LogoKey, in.FaviconKey, in.DefaultLocale, in.UpdatedAt, database.NullInt64(in.UpdatedBy))
	if err != nil {
		return fmt.Errorf("failed to save branding: %w", err)
	}
	return nil
}
