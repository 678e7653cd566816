package authkit

import (
	"context"
	"fmt"
	"net/http"

	"github.com/junoyi/authkit/internal/audit"
	"github.com/junoyi/authkit/internal/flows"
	"github.com/junoyi/authkit/permission"
	"github.com/junoyi/authkit/session"
)

// Credentials is the login body of the default backend contract.
type Credentials struct {
	UserName string `json:"userName"`
	Password string `json:"password"`
}

// Login posts credentials to Refresh.LoginPath and stores the returned
// token pair. credentials is usually a Credentials value; any JSON
// encodable body is accepted.
func (c *Client) Login(ctx context.Context, credentials any) error {
	res := flows.RunLogin(ctx, credentials, flows.LoginDeps{
		Post:   c.rawPost,
		Path:   c.cfg.Refresh.LoginPath,
		Codes:  c.codes,
		Decode: c.decodeLenient,
	})
	if res.Failure != flows.RefreshFailureNone {
		err := loginError(res)
		c.emitAudit(ctx, audit.Event{
			EventType: audit.EventLogin,
			Path:      c.cfg.Refresh.LoginPath,
			Error:     err.Error(),
		})
		return err
	}

	c.cancelLogout()
	if err := c.session.SetTokens(ctx, res.AccessToken, res.RefreshToken); err != nil {
		return fmt.Errorf("store tokens: %w", err)
	}

	c.metrics.Inc(MetricLogin)
	c.log.Info("authkit: signed in")
	c.emitAudit(ctx, audit.Event{
		EventType: audit.EventLogin,
		Path:      c.cfg.Refresh.LoginPath,
		Success:   true,
	})
	return nil
}

func loginError(res flows.RefreshResult) *HTTPError {
	switch res.Failure {
	case flows.RefreshFailureTransport:
		if he, ok := AsHTTPError(res.Err); ok {
			return he
		}
		return &HTTPError{Kind: KindNetwork, Message: "network error", Err: res.Err}
	case flows.RefreshFailureBusiness:
		return &HTTPError{Code: res.Code, Kind: KindBusiness, Message: res.Message, Err: res.Err}
	case flows.RefreshFailureStatus:
		kind := KindHTTP
		switch {
		case res.Code == http.StatusUnauthorized:
			kind = KindUnauthorized
		case flows.IsTransientStatus(res.Code):
			kind = KindTransient
		}
		return &HTTPError{Code: res.Code, Kind: kind, Message: res.Message, Err: res.Err}
	default:
		return &HTTPError{Code: res.Code, Kind: KindDecode, Message: "unexpected login response", Err: res.Err}
	}
}

// LoadProfile fetches Refresh.ProfilePath and stores the user id, name,
// permissions and roles in the session.
func (c *Client) LoadProfile(ctx context.Context) (session.Profile, error) {
	if !c.session.Authenticated() {
		return session.Profile{}, ErrNotAuthenticated
	}

	p, err := Fetch[session.Profile](ctx, c, Request{
		Method:                      http.MethodGet,
		URL:                         c.cfg.Refresh.ProfilePath,
		SuppressSuccessNotification: true,
	})
	if err != nil {
		return session.Profile{}, err
	}
	if err := c.session.SetProfile(ctx, p); err != nil {
		return session.Profile{}, fmt.Errorf("store profile: %w", err)
	}
	return p, nil
}

// Logout tells the backend (best effort) and clears the session.
func (c *Client) Logout(ctx context.Context) error {
	userID := c.userID()
	if c.session.AccessToken() != "" && c.cfg.Refresh.LogoutPath != "" {
		_, err := c.Do(ctx, Request{
			Method:                      http.MethodPost,
			URL:                         c.cfg.Refresh.LogoutPath,
			SuppressErrorNotification:   true,
			SuppressSuccessNotification: true,
			noRecovery:                  true,
		})
		if err != nil {
			c.log.WithError(err).Debug("authkit: logout call failed")
		}
	}

	c.cancelLogout()
	if err := c.session.Clear(ctx); err != nil {
		return fmt.Errorf("clear session: %w", err)
	}

	c.metrics.Inc(MetricLogout)
	c.emitAudit(ctx, audit.Event{EventType: audit.EventLogout, UserID: userID, Success: true})
	return nil
}

// Authenticated reports whether the session holds an access token.
func (c *Client) Authenticated() bool {
	return c.session.Authenticated()
}

// HasPermission evaluates required against the session's permissions with
// wildcard and deny-list semantics.
func (c *Client) HasPermission(required string) bool {
	return c.checker.Has(required)
}

// HasAnyPermission is true when at least one of required is granted.
func (c *Client) HasAnyPermission(required ...string) bool {
	return c.checker.HasAny(required...)
}

// HasAllPermissions is true when every one of required is granted.
func (c *Client) HasAllPermissions(required ...string) bool {
	return c.checker.HasAll(required...)
}

// IsSuperAdmin is true for a "*" or "**" grant or the super admin role.
func (c *Client) IsSuperAdmin() bool {
	return c.checker.IsSuperAdmin() || permission.HasAnyRole(c.session.Roles(), permission.SuperAdminRoleID)
}

// HasRole reports whether the session holds any of roles.
func (c *Client) HasRole(roles ...int) bool {
	return permission.HasAnyRole(c.session.Roles(), roles...)
}

// HasAuth is the button-level auth mark check.
func (c *Client) HasAuth(mark string, routeMarks ...string) bool {
	return permission.HasAuth(mark, c.session.Permissions(), routeMarks)
}
