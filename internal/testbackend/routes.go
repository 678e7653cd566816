package testbackend

import (
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/gorilla/mux"
)

func (b *Backend) routes() *mux.Router {
	r := mux.NewRouter()
	r.Use(b.recordMiddleware)

	r.HandleFunc("/auth/login", b.handleLogin).Methods(http.MethodPost)
	r.HandleFunc("/auth/refresh", b.handleRefresh).Methods(http.MethodPost)
	r.HandleFunc("/auth/logout", b.withAuth(b.handleLogout)).Methods(http.MethodPost)
	r.HandleFunc("/user/info", b.withAuth(b.handleUserInfo)).Methods(http.MethodGet)
	r.HandleFunc("/echo", b.withAuth(b.handleEcho)).Methods(http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete)
	r.HandleFunc("/business-error", b.withAuth(b.handleBusinessError)).Methods(http.MethodGet, http.MethodPost)
	r.HandleFunc("/raw", b.handleRaw).Methods(http.MethodGet)
	r.HandleFunc("/slow", b.handleSlow).Methods(http.MethodGet)
	return r
}

type bodyKey struct{}

// recordMiddleware decrypts X-Encrypted bodies, records the request and
// applies injected failures.
func (b *Backend) recordMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, err := io.ReadAll(io.LimitReader(r.Body, maxBody))
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		encrypted := r.Header.Get("X-Encrypted") == "true"
		body := string(raw)
		if encrypted {
			if b.opts.Crypto == nil {
				http.Error(w, "encryption not supported", http.StatusBadRequest)
				return
			}
			body, err = b.opts.Crypto.DecryptRequest(body)
			if err != nil {
				b.log.WithError(err).Warn("testbackend: request decrypt failed")
				http.Error(w, "bad envelope", http.StatusBadRequest)
				return
			}
		}

		b.record(Recorded{
			Method:        r.Method,
			Path:          r.URL.Path,
			Query:         r.URL.RawQuery,
			Authorization: r.Header.Get("Authorization"),
			Encrypted:     encrypted,
			ContentType:   r.Header.Get("Content-Type"),
			RequestID:     r.Header.Get("X-Request-Id"),
			Body:          body,
		})

		if status, ok := b.takeFailure(r.URL.Path); ok {
			w.WriteHeader(status)
			return
		}

		ctx := r.Context()
		next.ServeHTTP(w, r.WithContext(withBody(ctx, body)))
	})
}

func (b *Backend) withAuth(h func(http.ResponseWriter, *http.Request, User)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		u, ok := b.authenticate(r)
		if !ok {
			b.unauthorized(w)
			return
		}
		h(w, r, u)
	}
}

func (b *Backend) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserName string `json:"userName"`
		Password string `json:"password"`
	}
	if err := json.Unmarshal([]byte(bodyFrom(r.Context())), &req); err != nil {
		b.write(w, http.StatusOK, envelopeBody{Code: CodeBadLogin, Msg: "invalid request"})
		return
	}

	b.mu.Lock()
	u, ok := b.users[req.UserName]
	b.mu.Unlock()
	if !ok || u.Password != req.Password {
		b.write(w, http.StatusOK, envelopeBody{Code: CodeBadLogin, Msg: "wrong user name or password"})
		return
	}

	access, refresh, err := b.newSession(u)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	b.write(w, http.StatusOK, envelopeBody{Code: CodeSuccess, Msg: "login ok", Data: map[string]string{
		"accessToken":  access,
		"refreshToken": refresh,
	}})
}

func (b *Backend) handleRefresh(w http.ResponseWriter, r *http.Request) {
	b.refreshCalls.Add(1)
	if b.opts.RefreshDelay > 0 {
		time.Sleep(b.opts.RefreshDelay)
	}
	if b.opts.RefreshGate != nil {
		select {
		case <-b.opts.RefreshGate:
		case <-r.Context().Done():
			return
		}
	}
	if status := b.refreshFailure.Load(); status != 0 {
		w.WriteHeader(int(status))
		return
	}

	access, refresh, ok := b.rotate(r.URL.Query().Get("refreshToken"))
	if !ok {
		b.write(w, http.StatusOK, envelopeBody{Code: CodeUnauthorized, Msg: "refresh token invalid"})
		return
	}
	b.write(w, http.StatusOK, envelopeBody{Code: CodeSuccess, Data: map[string]string{
		"accessToken":  access,
		"refreshToken": refresh,
	}})
}

func (b *Backend) handleLogout(w http.ResponseWriter, r *http.Request, _ User) {
	b.write(w, http.StatusOK, envelopeBody{Code: CodeSuccess})
}

func (b *Backend) handleUserInfo(w http.ResponseWriter, _ *http.Request, u User) {
	b.write(w, http.StatusOK, envelopeBody{Code: CodeSuccess, Data: map[string]any{
		"userId":      u.ID,
		"userName":    u.Name,
		"permissions": u.Permissions,
		"roles":       u.Roles,
	}})
}

func (b *Backend) handleEcho(w http.ResponseWriter, r *http.Request, u User) {
	data := map[string]any{
		"method": r.Method,
		"user":   u.Name,
		"query":  r.URL.Query(),
	}
	if body := bodyFrom(r.Context()); body != "" {
		var decoded any
		if err := json.Unmarshal([]byte(body), &decoded); err == nil {
			data["body"] = decoded
		} else {
			data["body"] = body
		}
	}

	msg := ""
	if r.Method != http.MethodGet {
		msg = "saved"
	}
	b.write(w, http.StatusOK, envelopeBody{Code: CodeSuccess, Msg: msg, Data: data})
}

func (b *Backend) handleBusinessError(w http.ResponseWriter, _ *http.Request, _ User) {
	b.write(w, http.StatusOK, envelopeBody{Code: CodeDemo, Msg: "record is locked"})
}

// handleRaw answers with a non-envelope body.
func (b *Backend) handleRaw(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	_, _ = io.WriteString(w, "pong")
}

func (b *Backend) handleSlow(w http.ResponseWriter, r *http.Request) {
	select {
	case <-time.After(2 * time.Second):
		b.write(w, http.StatusOK, envelopeBody{Code: CodeSuccess})
	case <-r.Context().Done():
	}
}
