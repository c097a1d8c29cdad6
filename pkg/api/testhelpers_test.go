package api

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/platinummonkey/lightbox/pkg/audit"
	"github.com/platinummonkey/lightbox/pkg/auth"
	"github.com/platinummonkey/lightbox/pkg/branding"
	"github.com/platinummonkey/lightbox/pkg/database"
	"github.com/platinummonkey/lightbox/pkg/gallery"
	"github.com/platinummonkey/lightbox/pkg/media"
	"github.com/platinummonkey/lightbox/pkg/middleware"
	"github.com/platinummonkey/lightbox/pkg/notifications"
	"github.com/platinummonkey/lightbox/pkg/storage"
)

const testPassword = "correct-horse-battery"

// fakeQueue records photos handed to processing
type fakeQueue struct {
	mu      sync.Mutex
	gallery *gallery.Service
	queued  []int64
}

func (q *fakeQueue) Enqueue(photoID int64) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.queued = append(q.queued, photoID)
	return nil
}

func (q *fakeQueue) Reprocess(ctx context.Context, photoID int64) (*gallery.Photo, error) {
	photo, err := q.gallery.ResetForReprocessing(ctx, photoID)
	if err != nil {
		return nil, err
	}
	return photo, q.Enqueue(photoID)
}

func (q *fakeQueue) Pending() int64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return int64(len(q.queued))
}

func (q *fakeQueue) ids() []int64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]int64(nil), q.queued...)
}

type apiEnv struct {
	server   *Server
	auth     *auth.Service
	gallery  *gallery.Service
	branding *branding.Service
	notes    *notifications.Dispatcher
	audit    *audit.DBLogger
	blobs    *storage.FileSystemBlobStore
	queue    *fakeQueue
	cache    *variantCache
}

type envSetup struct {
	deps  *Dependencies
	cfg   *Config
	notes []notifications.DispatcherOption
}

type envOption func(*envSetup)

func withLoginLimit(n int) envOption {
	return func(s *envSetup) {
		s.deps.LoginLimiter = middleware.NewMemoryLimiter(middleware.RateLimitConfig{RequestsPerWindow: n, WindowDuration: time.Minute})
	}
}

func withConfig(fn func(*Config)) envOption {
	return func(s *envSetup) { fn(s.cfg) }
}

func withoutMediaPipeline() envOption {
	return func(s *envSetup) {
		s.deps.Uploader = nil
		s.deps.Media = nil
	}
}

func withPusher(p notifications.Pusher) envOption {
	return func(s *envSetup) {
		s.notes = append(s.notes, notifications.WithPusher(p))
	}
}

func newAPIEnv(t *testing.T, opts ...envOption) *apiEnv {
	t.Helper()
	ctx := context.Background()

	db, err := database.Open(ctx, database.Config{
		Driver: "sqlite3",
		URL:    "file::memory:?_foreign_keys=on",
	})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, db.Migrate(ctx))

	blobs, err := storage.NewFileSystemBlobStore(t.TempDir())
	require.NoError(t, err)

	challenges := auth.NewMemoryChallengeStore(time.Hour)
	t.Cleanup(func() { challenges.Close() })
	authCfg := auth.DefaultConfig()
	authCfg.BcryptCost = bcrypt.MinCost
	authSvc := auth.NewService(auth.NewStore(db.DB), challenges, authCfg)

	gallerySvc := gallery.NewService(gallery.NewStore(db.DB), blobs)
	brandingSvc := branding.NewService(branding.NewStore(db.DB), blobs, nil, nil)
	auditLog, err := audit.NewDBLogger(db.DB)
	require.NoError(t, err)

	queue := &fakeQueue{gallery: gallerySvc}
	deps := Dependencies{
		Auth:        authSvc,
		Gallery:     gallerySvc,
		Uploader:    media.NewUploader(gallerySvc, blobs, queue, 10<<20),
		Media:       queue,
		Branding:    brandingSvc,
		Blobs:       blobs,
		Audit:       auditLog,
		AuditReader: auditLog,
	}
	cfg := Config{
		CookieName:       "lightbox_session",
		PublicURL:        "https://photos.example.com",
		VariantCacheSize: 16,
		Version:          "test",
	}
	setup := &envSetup{deps: &deps, cfg: &cfg, notes: []notifications.DispatcherOption{notifications.WithSyncDelivery()}}
	for _, opt := range opts {
		opt(setup)
	}
	dispatcher := notifications.NewDispatcher(notifications.NewStore(db.DB), authSvc, setup.notes...)
	deps.Notifications = dispatcher

	server, err := NewServer(deps, cfg)
	require.NoError(t, err)

	env := &apiEnv{
		server:   server,
		auth:     authSvc,
		gallery:  gallerySvc,
		branding: brandingSvc,
		notes:    dispatcher,
		audit:    auditLog,
		blobs:    blobs,
		queue:    queue,
		cache:    server.cache,
	}
	return env
}

func (e *apiEnv) createUser(t *testing.T, username string, role auth.Role) *auth.User {
	t.Helper()
	u, err := e.auth.CreateUser(context.Background(), auth.NewUser{
		Username: username,
		Email:    username + "@example.com",
		Role:     role,
		Password: testPassword,
	})
	require.NoError(t, err)
	return u
}

// login signs in through the service and returns a bearer token
func (e *apiEnv) login(t *testing.T, username string) string {
	t.Helper()
	res, err := e.auth.Login(context.Background(), username, testPassword, auth.ClientMeta{IPAddress: "127.0.0.1"})
	require.NoError(t, err)
	require.NotNil(t, res.Session)
	return res.Session.Token
}

func (e *apiEnv) request(t *testing.T, method, path string, body interface{}, token string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	r := httptest.NewRequest(method, path, reader)
	if body != nil {
		r.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		r.Header.Set("Authorization", "Bearer "+token)
	}
	return e.serve(r)
}

func (e *apiEnv) serve(r *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	e.server.ServeHTTP(w, r)
	return w
}

func (e *apiEnv) auditEvents(t *testing.T, eventType audit.EventType) []*audit.Event {
	t.Helper()
	events, _, err := e.audit.List(context.Background(), audit.Filter{EventTypes: []audit.EventType{eventType}, Limit: 100})
	require.NoError(t, err)
	return events
}

func (e *apiEnv) notifications(t *testing.T, userID int64) []*notifications.Notification {
	t.Helper()
	notes, err := e.notes.List(context.Background(), userID, false, 100, 0)
	require.NoError(t, err)
	return notes
}

func hasNotification(notes []*notifications.Notification, t notifications.EventType) bool {
	for _, n := range notes {
		if n.Type == t {
			return true
		}
	}
	return false
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder, dest interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), dest), w.Body.String())
}

func pngBytes(t *testing.T, width, height int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for x := 0; x < width; x++ {
		for y := 0; y < height; y++ {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 200, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

type formFile struct {
	field       string
	filename    string
	contentType string
	data        []byte
}

func multipartRequest(t *testing.T, method, path, token string, files ...formFile) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for _, f := range files {
		h := make(map[string][]string)
		h["Content-Disposition"] = []string{`form-data; name="` + f.field + `"; filename="` + f.filename + `"`}
		h["Content-Type"] = []string{f.contentType}
		part, err := mw.CreatePart(h)
		require.NoError(t, err)
		_, err = part.Write(f.data)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())

	r := httptest.NewRequest(method, path, &buf)
	r.Header.Set("Content-Type", mw.FormDataContentType())
	if token != "" {
		r.Header.Set("Authorization", "Bearer "+token)
	}
	return r
}

func itoa(id int64) string {
	return strconv.FormatInt(id, 10)
}
