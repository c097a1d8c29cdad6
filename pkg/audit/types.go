package audit

import (
	"time"
)

// EventType is the category of an audit event
type EventType string

const (
	// Authentication events
	EventAuthLogin                EventType = "auth.login"
	EventAuthLoginFailed          EventType = "auth.login_failed"
	EventAuthLogout               EventType = "auth.logout"
	EventAuthMFAVerified          EventType = "auth.mfa_verified"
	EventAuthMFAFailed            EventType = "auth.mfa_failed"
	EventAuthMFAEnabled           EventType = "auth.mfa_enabled"
	EventAuthMFADisabled          EventType = "auth.mfa_disabled"
	EventAuthRecoveryCodeUsed     EventType = "auth.recovery_code_used"
	EventAuthPasskeyRegistered    EventType = "auth.passkey_registered"
	EventAuthPasskeyRemoved       EventType = "auth.passkey_removed"
	EventAuthPasskeyLogin         EventType = "auth.passkey_login"
	EventAuthOIDCLogin            EventType = "auth.oidc_login"
	EventAuthPasswordChanged      EventType = "auth.password_changed"
	EventAuthPasswordResetRequest EventType = "auth.password_reset_requested"
	EventAuthPasswordReset        EventType = "auth.password_reset"
	EventAuthSessionRevoked       EventType = "auth.session_revoked"
	EventAuthInvitationAccepted   EventType = "auth.invitation_accepted"

	// Admin actions
	EventAdminUserCreated       EventType = "admin.user_created"
	EventAdminUserUpdated       EventType = "admin.user_updated"
	EventAdminUserDeactivated   EventType = "admin.user_deactivated"
	EventAdminMFAReset          EventType = "admin.mfa_reset"
	EventAdminInvitationCreated EventType = "admin.invitation_created"
	EventAdminInvitationRevoked EventType = "admin.invitation_revoked"

	// Gallery changes
	EventAlbumCreated     EventType = "album.created"
	EventAlbumUpdated     EventType = "album.updated"
	EventAlbumDeleted     EventType = "album.deleted"
	EventAlbumsReordered  EventType = "album.reordered"
	EventPhotoUploaded    EventType = "photo.uploaded"
	EventPhotoUpdated     EventType = "photo.updated"
	EventPhotoMoved       EventType = "photo.moved"
	EventPhotoDeleted     EventType = "photo.deleted"
	EventPhotoReprocessed EventType = "photo.reprocessed"

	// Settings
	EventBrandingUpdated      EventType = "branding.updated"
	EventBrandingAssetChanged EventType = "branding.asset_changed"

	// Access control
	EventAccessDenied EventType = "access.denied"
)

// Status is the outcome of an event
type Status string

const (
	StatusSuccess Status = "success"
	StatusFailure Status = "failure"
	StatusDenied  Status = "denied"
)

// TargetType is the kind of object an event acted on
type TargetType string

const (
	TargetUser       TargetType = "user"
	TargetSession    TargetType = "session"
	TargetPasskey    TargetType = "passkey"
	TargetInvitation TargetType = "invitation"
	TargetAlbum      TargetType = "album"
	TargetPhoto      TargetType = "photo"
	TargetBranding   TargetType = "branding"
	TargetRequest    TargetType = "request"
)

// Event is a single audit log entry
type Event struct {
	ID        int64     `json:"id"`
	EventType EventType `json:"event_type"`
	Status    Status    `json:"status"`

	ActorID       *int64 `json:"actor_id,omitempty"`
	ActorUsername string `json:"actor_username,omitempty"`

	TargetType TargetType `json:"target_type,omitempty"`
	TargetID   string     `json:"target_id,omitempty"`

	IPAddress string `json:"ip_address,omitempty"`
	UserAgent string `json:"user_agent,omitempty"`
	RequestID string `json:"request_id,omitempty"`

	Message  string                 `json:"message,omitempty"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// Filter narrows a listing. Zero fields match everything.
type Filter struct {
	Since      *time.Time
	Until      *time.Time
	ActorID    *int64
	EventTypes []EventType
	Status     Status
	TargetType TargetType
	TargetID   string
	IPAddress  string
	Search     string

	Limit  int
	Offset int
}

// ExportFormat is a download format for audit logs
type ExportFormat string

const (
	ExportJSON   ExportFormat = "json"
	ExportCSV    ExportFormat = "csv"
	ExportNDJSON ExportFormat = "ndjson"
)

// Stats summarises audit activity over a time range
type Stats struct {
	TotalEvents  int64               `json:"total_events"`
	ByType       map[EventType]int64 `json:"by_type"`
	ByStatus     map[Status]int64    `json:"by_status"`
	FailedLogins int64               `json:"failed_logins"`
	UniqueActors int64               `json:"unique_actors"`
	UniqueIPs    int64               `json:"unique_ips"`
	Since        time.Time           `json:"since"`
}
