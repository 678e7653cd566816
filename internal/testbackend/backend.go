// Package testbackend is an in-process fake of the API server the client
// talks to. It issues JWT access tokens and single-use rotating refresh
// tokens, speaks the business envelope, and optionally encrypts bodies with
// the server half of the envelope protocol.
package testbackend

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/junoyi/authkit/envelope/envelopetest"
	"github.com/junoyi/authkit/internal"
	"github.com/junoyi/authkit/jwt"
)

const (
	CodeSuccess      = 200
	CodeUnauthorized = 401
	CodeBadLogin     = 1001
	CodeDemo         = 1002

	// Issuer is the iss claim of every access token.
	Issuer = "testbackend"

	maxBody = 1 << 20
)

// User is an account known to the backend.
type User struct {
	ID          int64
	Name        string
	Password    string
	Permissions []string
	Roles       []int
}

// Options configures a Backend.
type Options struct {
	Users     []User
	AccessTTL time.Duration
	Secret    []byte
	// Crypto, when set, lets the backend decrypt X-Encrypted request bodies.
	Crypto *envelopetest.Server
	// EncryptResponses wraps every response body in an envelope.
	EncryptResponses bool
	// BusinessUnauthorized answers auth failures with HTTP 200 and code 401
	// instead of HTTP 401.
	BusinessUnauthorized bool
	// RefreshDelay holds every refresh call, widening race windows.
	RefreshDelay time.Duration
	// RefreshGate, when set, holds every refresh call until it is closed.
	RefreshGate <-chan struct{}
	Logger      logrus.FieldLogger
}

// Recorded is one request as the backend saw it, after decryption.
type Recorded struct {
	Method        string
	Path          string
	Query         string
	Authorization string
	Encrypted     bool
	ContentType   string
	RequestID     string
	Body          string
}

type loginSession struct {
	user       User
	secretHash [32]byte
}

type failure struct {
	status    int
	remaining int
}

// Backend is the fake server. It is safe for concurrent use.
type Backend struct {
	opts   Options
	router *mux.Router
	tokens *jwt.Manager
	log    logrus.FieldLogger

	mu       sync.Mutex
	users    map[string]User
	sessions map[string]*loginSession
	access   map[string]int64
	failures map[string]*failure
	recorded []Recorded

	refreshCalls   atomic.Int64
	refreshReuse   atomic.Int64
	refreshFailure atomic.Int32
}

// DefaultUsers returns the accounts used by tests and the example.
func DefaultUsers() []User {
	return []User{
		{ID: 1, Name: "super", Password: "123456", Permissions: []string{"*"}, Roles: []int{1}},
		{ID: 2, Name: "admin", Password: "123456", Permissions: []string{"system.**", "monitor.**", "-system.menu.delete"}, Roles: []int{2}},
		{ID: 3, Name: "guest", Password: "123456", Permissions: []string{"system.user.list"}, Roles: []int{3}},
	}
}

// New builds a Backend.
func New(opts Options) (*Backend, error) {
	if opts.AccessTTL <= 0 {
		opts.AccessTTL = 15 * time.Minute
	}
	if len(opts.Secret) == 0 {
		opts.Secret = []byte("testbackend-signing-secret")
	}
	if opts.Users == nil {
		opts.Users = DefaultUsers()
	}
	if opts.EncryptResponses && opts.Crypto == nil {
		return nil, errors.New("testbackend: EncryptResponses requires Crypto")
	}
	if opts.Logger == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		opts.Logger = l
	}

	tokens, err := jwt.NewManager(jwt.Config{
		AccessTTL: opts.AccessTTL,
		Method:    jwt.MethodHS256,
		Secret:    opts.Secret,
		Issuer:    Issuer,
	})
	if err != nil {
		return nil, err
	}

	b := &Backend{
		opts:     opts,
		tokens:   tokens,
		log:      opts.Logger.WithField("component", "testbackend"),
		users:    make(map[string]User, len(opts.Users)),
		sessions: make(map[string]*loginSession),
		access:   make(map[string]int64),
		failures: make(map[string]*failure),
	}
	for _, u := range opts.Users {
		b.users[u.Name] = u
	}
	b.router = b.routes()
	return b, nil
}

// Handler returns the HTTP handler.
func (b *Backend) Handler() http.Handler {
	return b.router
}

// RefreshCalls returns how many refresh requests were received.
func (b *Backend) RefreshCalls() int64 {
	return b.refreshCalls.Load()
}

// RefreshReuse returns how many refresh requests presented a rotated token.
func (b *Backend) RefreshReuse() int64 {
	return b.refreshReuse.Load()
}

// ExpireAccessTokens invalidates every access token issued so far.
func (b *Backend) ExpireAccessTokens() {
	b.mu.Lock()
	defer b.mu.Unlock()
	clear(b.access)
}

// FailRefresh makes refresh calls answer with HTTP status until reset with 0.
func (b *Backend) FailRefresh(status int) {
	b.refreshFailure.Store(int32(status))
}

// FailNext makes the next n requests to path answer with HTTP status.
func (b *Backend) FailNext(path string, status, n int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures[path] = &failure{status: status, remaining: n}
}

// Requests returns a copy of the recorded requests.
func (b *Backend) Requests() []Recorded {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Recorded(nil), b.recorded...)
}

// IssueSession logs user in directly and returns its token pair.
func (b *Backend) IssueSession(name string) (accessToken, refreshToken string, err error) {
	b.mu.Lock()
	u, ok := b.users[name]
	b.mu.Unlock()
	if !ok {
		return "", "", errors.New("testbackend: unknown user")
	}
	return b.newSession(u)
}

func (b *Backend) newSession(u User) (string, string, error) {
	sid, err := internal.NewSessionID()
	if err != nil {
		return "", "", err
	}
	secret, err := internal.NewRefreshSecret()
	if err != nil {
		return "", "", err
	}
	refreshToken, err := internal.EncodeRefreshToken(sid.String(), secret)
	if err != nil {
		return "", "", err
	}
	accessToken, err := b.issueAccess(u)
	if err != nil {
		return "", "", err
	}

	b.mu.Lock()
	b.sessions[sid.String()] = &loginSession{user: u, secretHash: internal.HashRefreshSecret(secret)}
	b.mu.Unlock()
	return accessToken, refreshToken, nil
}

func (b *Backend) issueAccess(u User) (string, error) {
	token, err := b.tokens.Issue(u.ID, u.Name)
	if err != nil {
		return "", err
	}
	b.mu.Lock()
	b.access[token] = u.ID
	b.mu.Unlock()
	return token, nil
}

// rotate validates a refresh token and replaces its secret. The presented
// token is dead afterwards.
func (b *Backend) rotate(token string) (string, string, bool) {
	sid, secret, err := internal.DecodeRefreshToken(token)
	if err != nil {
		return "", "", false
	}

	next, err := internal.NewRefreshSecret()
	if err != nil {
		return "", "", false
	}

	b.mu.Lock()
	sess, ok := b.sessions[sid]
	if !ok || sess.secretHash != internal.HashRefreshSecret(secret) {
		b.mu.Unlock()
		if ok {
			b.refreshReuse.Add(1)
		}
		return "", "", false
	}
	sess.secretHash = internal.HashRefreshSecret(next)
	user := sess.user
	b.mu.Unlock()

	refreshToken, err := internal.EncodeRefreshToken(sid, next)
	if err != nil {
		return "", "", false
	}
	accessToken, err := b.issueAccess(user)
	if err != nil {
		return "", "", false
	}
	return accessToken, refreshToken, true
}

func (b *Backend) authenticate(r *http.Request) (User, bool) {
	token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	if token == "" {
		return User{}, false
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	id, ok := b.access[token]
	if !ok {
		return User{}, false
	}
	for _, u := range b.users {
		if u.ID == id {
			return u, true
		}
	}
	return User{}, false
}

func (b *Backend) takeFailure(path string) (int, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	f, ok := b.failures[path]
	if !ok || f.remaining <= 0 {
		return 0, false
	}
	f.remaining--
	return f.status, true
}

func (b *Backend) record(rec Recorded) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.recorded = append(b.recorded, rec)
}

type envelopeBody struct {
	Code int    `json:"code"`
	Msg  string `json:"msg,omitempty"`
	Data any    `json:"data"`
}

func (b *Backend) write(w http.ResponseWriter, status int, body envelopeBody) {
	data, err := json.Marshal(body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	if b.opts.EncryptResponses {
		sealed, err := b.opts.Crypto.EncryptResponse(string(data))
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(status)
		_, _ = io.WriteString(w, sealed)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

func (b *Backend) unauthorized(w http.ResponseWriter) {
	if b.opts.BusinessUnauthorized {
		b.write(w, http.StatusOK, envelopeBody{Code: CodeUnauthorized, Msg: "token expired"})
		return
	}
	b.write(w, http.StatusUnauthorized, envelopeBody{Code: CodeUnauthorized, Msg: "token expired"})
}
