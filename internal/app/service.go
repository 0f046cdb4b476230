// Package app wires the stores and services behind the HTTP API.
package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"regexp"
	"strings"
	"time"

	"catbook/api/internal/auth"
	"catbook/api/internal/config"
	"catbook/api/internal/document"
	"catbook/api/internal/export"
	"catbook/api/internal/history"
	"catbook/api/internal/notebook"
	"catbook/api/internal/notify"
	"catbook/api/internal/perm"
	"catbook/api/internal/search"
	"catbook/api/internal/session"
	"catbook/api/internal/store"

	"github.com/google/uuid"
)

// Session is an authenticated caller. The zero value is the anonymous
// caller: UserID is empty and only public refs are reachable.
type Session struct {
	Token        string
	RefreshToken string
	UserID       string
	Username     string
	JTI          string
	ExpiresAt    time.Time
}

func (s Session) Anonymous() bool { return s.UserID == "" }

// RefDoc describes a ref to a client opening it: the document content
// at head plus what the caller may do with it.
type RefDoc struct {
	RefID     uuid.UUID       `json:"refId"`
	DocType   string          `json:"docType"`
	Content   json.RawMessage `json:"content"`
	MaxLevel  perm.Level      `json:"permissionLevel"`
	CreatedAt time.Time       `json:"createdAt"`
}

// PermissionsView is the wire shape of a ref's permissions.
type PermissionsView struct {
	Owner  string                `json:"owner,omitempty"`
	Anyone perm.Level            `json:"anyone"`
	Users  map[string]perm.Level `json:"users,omitempty"`
}

// dataStore is the slice of the Postgres store the service needs.
type dataStore interface {
	Ping(ctx context.Context) error
	NewRef(ctx context.Context, owner, docType string, content json.RawMessage) (uuid.UUID, error)
	GetRef(ctx context.Context, refID uuid.UUID) (store.Ref, error)
	HeadSnapshot(ctx context.Context, refID uuid.UUID) (json.RawMessage, error)
	Autosave(ctx context.Context, refID uuid.UUID, content json.RawMessage) error
	SaveSnapshot(ctx context.Context, refID uuid.UUID, content json.RawMessage) (int64, error)
	Permissions(ctx context.Context, refID uuid.UUID) (store.RefPermissions, error)
	MaxLevel(ctx context.Context, refID uuid.UUID, user string) (perm.Level, error)
	SetAnyoneLevel(ctx context.Context, refID uuid.UUID, level perm.Level) error
	SetUserLevel(ctx context.Context, refID uuid.UUID, user string, level perm.Level) error
	EnsureUser(ctx context.Context, userID string) (store.User, error)
	GetUser(ctx context.Context, userID string) (store.User, error)
	UsernameAvailable(ctx context.Context, username string) (bool, error)
	SetProfile(ctx context.Context, userID string, username *string, displayName string) error
}

// sessionStore holds refresh tokens between sign-ins.
type sessionStore interface {
	Save(ctx context.Context, tokenHash, userID string, expiresAt time.Time) error
	Lookup(ctx context.Context, tokenHash string) (session.TokenData, error)
	Revoke(ctx context.Context, tokenHash string) error
}

// historyService records frozen snapshots; nil disables history.
type historyService interface {
	EnsureRepo(refID uuid.UUID, initial json.RawMessage, author string) error
	RecordSnapshot(refID uuid.UUID, content json.RawMessage, author, message string) (history.CommitInfo, error)
	History(refID uuid.UUID, limit int) ([]history.CommitInfo, error)
	At(refID uuid.UUID, hash string) (json.RawMessage, error)
}

// exporter renders a ref to an artifact; nil disables export.
type exporter interface {
	Export(ctx context.Context, req export.Request) (*export.Result, error)
	Archived(ctx context.Context, refID uuid.UUID, filename string) (*export.Result, error)
}

// notifier broadcasts head updates to other instances; nil disables it.
type notifier interface {
	Publish(ctx context.Context, update notify.RefUpdate) error
}

type Service struct {
	cfg      config.Config
	store    dataStore
	sessions sessionStore
	search   *search.Service
	history  historyService
	export   exporter
	notify   notifier
}

func New(cfg config.Config, dataStore *store.PostgresStore, sessions *session.RedisStore,
	searchSvc *search.Service, historySvc *history.Service, exportSvc *export.Service,
	notifySvc *notify.Notifier) *Service {
	s := &Service{
		cfg:      cfg,
		store:    dataStore,
		sessions: sessions,
		search:   searchSvc,
	}
	// Nil concrete pointers must stay nil interfaces.
	if historySvc != nil {
		s.history = historySvc
	}
	if exportSvc != nil {
		s.export = exportSvc
	}
	if notifySvc != nil {
		s.notify = notifySvc
	}
	return s
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// Login establishes a session for an externally authenticated user id,
// creating the user row on first sign-in.
func (s *Service) Login(ctx context.Context, userID string) (Session, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return Session{}, errValidation("userId is required")
	}
	user, err := s.store.EnsureUser(ctx, userID)
	if err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

// Refresh rotates a refresh token: the presented token is revoked and a
// fresh session is issued.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (Session, error) {
	tokenHash := auth.HashToken(refreshToken)
	data, err := s.sessions.Lookup(ctx, tokenHash)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			return Session{}, errUnauthorized()
		}
		return Session{}, err
	}
	if err := s.sessions.Revoke(ctx, tokenHash); err != nil {
		return Session{}, err
	}
	user, err := s.store.GetUser(ctx, data.UserID)
	if err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

func (s *Service) Logout(ctx context.Context, refreshToken string) error {
	if refreshToken == "" {
		return nil
	}
	return s.sessions.Revoke(ctx, auth.HashToken(refreshToken))
}

func (s *Service) issueSession(ctx context.Context, user store.User) (Session, error) {
	now := time.Now()
	expiresAt := now.Add(s.cfg.AccessTTL)
	jti := uuid.NewString()

	username := ""
	if user.Username != nil {
		username = *user.Username
	}
	token, err := auth.IssueToken([]byte(s.cfg.JWTSecret), auth.Claims{
		Sub:      user.ID,
		Username: username,
		JTI:      jti,
		Exp:      expiresAt.Unix(),
	})
	if err != nil {
		return Session{}, err
	}

	refresh := uuid.NewString() + uuid.NewString()
	if err := s.sessions.Save(ctx, auth.HashToken(refresh), user.ID, now.Add(s.cfg.RefreshTTL)); err != nil {
		return Session{}, err
	}

	return Session{
		Token:        token,
		RefreshToken: refresh,
		UserID:       user.ID,
		Username:     username,
		JTI:          jti,
		ExpiresAt:    expiresAt,
	}, nil
}

// SessionFromToken verifies an access token and reconstructs the
// session it encodes.
func (s *Service) SessionFromToken(token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.JWTSecret), token)
	if err != nil {
		return Session{}, err
	}
	return Session{
		Token:     token,
		UserID:    claims.Sub,
		Username:  claims.Username,
		JTI:       claims.JTI,
		ExpiresAt: time.Unix(claims.Exp, 0),
	}, nil
}

// CreateRef validates the document and creates a ref whose head points
// at it. Anonymous callers may create refs; such refs are writable by
// anyone.
func (s *Service) CreateRef(ctx context.Context, sess Session, content json.RawMessage) (uuid.UUID, error) {
	docType, err := document.Sniff(content)
	if err != nil {
		return uuid.Nil, errValidation(err.Error())
	}
	if _, err := document.Decode(content); err != nil {
		return uuid.Nil, errValidation(err.Error())
	}

	refID, err := s.store.NewRef(ctx, sess.UserID, string(docType), content)
	if err != nil {
		return uuid.Nil, err
	}

	if s.history != nil {
		if err := s.history.EnsureRepo(refID, content, sess.UserID); err != nil {
			log.Printf("app: init history for %s: %v", refID, err)
		}
	}
	s.indexRef(ctx, refID, string(docType), content)
	return refID, nil
}

// GetDoc returns the ref's head content together with the caller's
// permission level.
func (s *Service) GetDoc(ctx context.Context, sess Session, refID uuid.UUID) (RefDoc, error) {
	level, err := s.requireLevel(ctx, sess, refID, perm.Read)
	if err != nil {
		return RefDoc{}, err
	}
	ref, err := s.store.GetRef(ctx, refID)
	if err != nil {
		return RefDoc{}, s.mapStoreErr(err)
	}
	content, err := s.store.HeadSnapshot(ctx, refID)
	if err != nil {
		return RefDoc{}, s.mapStoreErr(err)
	}
	return RefDoc{
		RefID:     refID,
		DocType:   ref.DocType,
		Content:   content,
		MaxLevel:  level,
		CreatedAt: ref.CreatedAt,
	}, nil
}

// GetHead returns the head content alone.
func (s *Service) GetHead(ctx context.Context, sess Session, refID uuid.UUID) (json.RawMessage, error) {
	if _, err := s.requireLevel(ctx, sess, refID, perm.Read); err != nil {
		return nil, err
	}
	content, err := s.store.HeadSnapshot(ctx, refID)
	if err != nil {
		return nil, s.mapStoreErr(err)
	}
	return content, nil
}

// Autosave overwrites the mutable head snapshot in place.
func (s *Service) Autosave(ctx context.Context, sess Session, refID uuid.UUID, content json.RawMessage) error {
	if _, err := s.requireLevel(ctx, sess, refID, perm.Write); err != nil {
		return err
	}
	if _, err := document.Decode(content); err != nil {
		return errValidation(err.Error())
	}
	if err := s.store.Autosave(ctx, refID, content); err != nil {
		return s.mapStoreErr(err)
	}
	s.publishUpdate(ctx, refID, sess.UserID, 0)
	s.indexRef(ctx, refID, "", content)
	return nil
}

// SaveSnapshot freezes the current head and opens a new mutable one.
func (s *Service) SaveSnapshot(ctx context.Context, sess Session, refID uuid.UUID, content json.RawMessage, message string) (int64, error) {
	if _, err := s.requireLevel(ctx, sess, refID, perm.Write); err != nil {
		return 0, err
	}
	if _, err := document.Decode(content); err != nil {
		return 0, errValidation(err.Error())
	}
	snapshotID, err := s.store.SaveSnapshot(ctx, refID, content)
	if err != nil {
		return 0, s.mapStoreErr(err)
	}

	if s.history != nil {
		if message == "" {
			message = fmt.Sprintf("snapshot %d", snapshotID)
		}
		if _, err := s.history.RecordSnapshot(refID, content, sess.UserID, message); err != nil {
			log.Printf("app: record history for %s: %v", refID, err)
		}
	}
	s.publishUpdate(ctx, refID, sess.UserID, snapshotID)
	s.indexRef(ctx, refID, "", content)
	return snapshotID, nil
}

// History lists recorded snapshots, newest first.
func (s *Service) History(ctx context.Context, sess Session, refID uuid.UUID, limit int) ([]history.CommitInfo, error) {
	if _, err := s.requireLevel(ctx, sess, refID, perm.Read); err != nil {
		return nil, err
	}
	if s.history == nil {
		return nil, domainError(http.StatusServiceUnavailable, "HISTORY_UNAVAILABLE", "History is not configured", nil)
	}
	return s.history.History(refID, limit)
}

// HistoryAt returns the document content recorded at a commit.
func (s *Service) HistoryAt(ctx context.Context, sess Session, refID uuid.UUID, hash string) (json.RawMessage, error) {
	if _, err := s.requireLevel(ctx, sess, refID, perm.Read); err != nil {
		return nil, err
	}
	if s.history == nil {
		return nil, domainError(http.StatusServiceUnavailable, "HISTORY_UNAVAILABLE", "History is not configured", nil)
	}
	content, err := s.history.At(refID, hash)
	if err != nil {
		return nil, errNotFound("Commit")
	}
	return content, nil
}

// GetPermissions returns a ref's sharing settings to any reader.
func (s *Service) GetPermissions(ctx context.Context, sess Session, refID uuid.UUID) (PermissionsView, error) {
	if _, err := s.requireLevel(ctx, sess, refID, perm.Read); err != nil {
		return PermissionsView{}, err
	}
	perms, err := s.store.Permissions(ctx, refID)
	if err != nil {
		return PermissionsView{}, s.mapStoreErr(err)
	}
	return PermissionsView{Owner: perms.Owner, Anyone: perms.Anyone, Users: perms.Users}, nil
}

// SetPermissions replaces the sharing settings of a ref. Only the owner
// may change them, and ownership itself cannot be granted here.
func (s *Service) SetPermissions(ctx context.Context, sess Session, refID uuid.UUID, anyone perm.Level, users map[string]perm.Level) error {
	perms, err := s.store.Permissions(ctx, refID)
	if err != nil {
		return s.mapStoreErr(err)
	}
	if sess.Anonymous() || sess.UserID != perms.Owner {
		return errForbidden()
	}
	if anyone == perm.Own {
		return errValidation("anyone cannot hold own level")
	}
	for user, level := range users {
		if level == perm.Own {
			return errValidation("ownership cannot be granted")
		}
		if user == perms.Owner {
			return errValidation("owner level cannot be changed")
		}
	}
	if err := s.store.SetAnyoneLevel(ctx, refID, anyone); err != nil {
		return s.mapStoreErr(err)
	}
	for user, level := range users {
		if err := s.store.SetUserLevel(ctx, refID, user, level); err != nil {
			return s.mapStoreErr(err)
		}
	}
	// Sharing changes what search may show.
	if content, err := s.store.HeadSnapshot(ctx, refID); err == nil {
		s.indexRef(ctx, refID, "", content)
	}
	return nil
}

// Export renders the ref in the requested format.
func (s *Service) Export(ctx context.Context, sess Session, refID uuid.UUID, format export.Format) (*export.Result, error) {
	if _, err := s.requireLevel(ctx, sess, refID, perm.Read); err != nil {
		return nil, err
	}
	if s.export == nil {
		return nil, domainError(http.StatusServiceUnavailable, "EXPORT_UNAVAILABLE", "Export is not configured", nil)
	}
	res, err := s.export.Export(ctx, export.Request{RefID: refID, Format: format})
	if err != nil {
		switch {
		case errors.Is(err, export.ErrUnsupportedFormat):
			return nil, errValidation(err.Error())
		case errors.Is(err, export.ErrContentUnavailable):
			return nil, errNotFound("Ref")
		case errors.Is(err, export.ErrPDFDependencyMissing):
			return nil, domainError(http.StatusServiceUnavailable, "EXPORT_UNAVAILABLE", "PDF renderer is not installed", nil)
		}
		return nil, err
	}
	return res, nil
}

// ExportArtifact returns a previously archived export of the ref.
func (s *Service) ExportArtifact(ctx context.Context, sess Session, refID uuid.UUID, filename string) (*export.Result, error) {
	if _, err := s.requireLevel(ctx, sess, refID, perm.Read); err != nil {
		return nil, err
	}
	if s.export == nil {
		return nil, domainError(http.StatusServiceUnavailable, "EXPORT_UNAVAILABLE", "Export is not configured", nil)
	}
	res, err := s.export.Archived(ctx, refID, filename)
	if err != nil {
		if errors.Is(err, export.ErrContentUnavailable) {
			return nil, errNotFound("Artifact")
		}
		return nil, err
	}
	return res, nil
}

// Search returns refs the caller may read that match the query.
func (s *Service) Search(sess Session, q search.Query) search.Response {
	q.User = sess.UserID
	if q.Limit <= 0 || q.Limit > 100 {
		q.Limit = 20
	}
	return s.search.Search(q)
}

// SignUpOrSignIn records that an externally authenticated user exists.
func (s *Service) SignUpOrSignIn(ctx context.Context, sess Session) error {
	if sess.Anonymous() {
		return errUnauthorized()
	}
	_, err := s.store.EnsureUser(ctx, sess.UserID)
	return err
}

// Profile returns the caller's username and display name.
func (s *Service) Profile(ctx context.Context, sess Session) (store.User, error) {
	if sess.Anonymous() {
		return store.User{}, errUnauthorized()
	}
	user, err := s.store.GetUser(ctx, sess.UserID)
	if err != nil {
		return store.User{}, s.mapStoreErr(err)
	}
	return user, nil
}

// SetProfile updates the caller's username and display name. A nil
// username clears it.
func (s *Service) SetProfile(ctx context.Context, sess Session, username *string, displayName string) error {
	if sess.Anonymous() {
		return errUnauthorized()
	}
	if username != nil && !IsUsernameValid(*username) {
		return errValidation("Username does not follow the rules")
	}
	return s.mapStoreErr(s.store.SetProfile(ctx, sess.UserID, username, displayName))
}

// UsernameAvailable reports whether the username is valid and unclaimed.
func (s *Service) UsernameAvailable(ctx context.Context, username string) (bool, error) {
	if !IsUsernameValid(username) {
		return false, nil
	}
	return s.store.UsernameAvailable(ctx, username)
}

var (
	usernameChars = regexp.MustCompile(`^[0-9A-Za-z_\-.]*$`)
	usernameStart = regexp.MustCompile(`^[0-9A-Za-z]`)
	usernameEnd   = regexp.MustCompile(`[0-9A-Za-z]$`)
)

// IsUsernameValid reports whether a username is nonempty, uses only
// ASCII alphanumerics, dashes, dots, and underscores, and starts and
// ends with an alphanumeric. These rules keep usernames URL-safe.
func IsUsernameValid(username string) bool {
	return usernameChars.MatchString(username) &&
		usernameStart.MatchString(username) &&
		usernameEnd.MatchString(username)
}

// requireLevel resolves the caller's level on a ref and checks it
// against the minimum. A missing ref surfaces as not found, never as a
// permission error.
func (s *Service) requireLevel(ctx context.Context, sess Session, refID uuid.UUID, want perm.Level) (perm.Level, error) {
	if _, err := s.store.GetRef(ctx, refID); err != nil {
		return perm.Deny, s.mapStoreErr(err)
	}
	level, err := s.store.MaxLevel(ctx, refID, sess.UserID)
	if err != nil {
		return perm.Deny, s.mapStoreErr(err)
	}
	if !level.AtLeast(want) {
		if sess.Anonymous() {
			return perm.Deny, errUnauthorized()
		}
		return perm.Deny, errForbidden()
	}
	return level, nil
}

func (s *Service) mapStoreErr(err error) error {
	if errors.Is(err, store.ErrNotFound) {
		return errNotFound("Ref")
	}
	return err
}

func (s *Service) publishUpdate(ctx context.Context, refID uuid.UUID, actor string, snapshot int64) {
	if s.notify == nil {
		return
	}
	if err := s.notify.Publish(ctx, notify.RefUpdate{RefID: refID, Actor: actor, Snapshot: snapshot}); err != nil {
		log.Printf("app: publish update for %s: %v", refID, err)
	}
}

// indexRef pushes the ref's current name, text, and sharing into the
// search index. docType may be empty; it is then read from the store.
func (s *Service) indexRef(ctx context.Context, refID uuid.UUID, docType string, content json.RawMessage) {
	if s.search == nil {
		return
	}
	if docType == "" {
		ref, err := s.store.GetRef(ctx, refID)
		if err != nil {
			return
		}
		docType = ref.DocType
	}
	perms, err := s.store.Permissions(ctx, refID)
	if err != nil {
		return
	}

	rec := search.RefRecord{
		ID:      refID.String(),
		DocType: docType,
		Owner:   perms.Owner,
		Public:  perms.Anyone.AtLeast(perm.Read),
	}
	for user, level := range perms.Users {
		if level.AtLeast(perm.Read) {
			rec.Readers = append(rec.Readers, user)
		}
	}
	rec.Name, rec.Text = documentText(content)
	s.search.IndexRef(rec)
}

// documentText extracts the name and rich-text prose for indexing.
func documentText(raw json.RawMessage) (name, text string) {
	doc, err := document.Decode(raw)
	if err != nil {
		return "", ""
	}
	var parts []string
	collect := func(kind notebook.Kind, cellText string) {
		if kind == notebook.KindRichText && strings.TrimSpace(cellText) != "" {
			parts = append(parts, cellText)
		}
	}
	switch d := doc.(type) {
	case *document.ModelDocument:
		name = d.Name
		for _, c := range d.Notebook.Cells {
			collect(c.Kind, c.Text)
		}
	case *document.DiagramDocument:
		name = d.Name
		for _, c := range d.Notebook.Cells {
			collect(c.Kind, c.Text)
		}
	case *document.AnalysisDocument:
		name = d.Name
		for _, c := range d.Notebook.Cells {
			collect(c.Kind, c.Text)
		}
	}
	return name, strings.Join(parts, "\n")
}
