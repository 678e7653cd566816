package session

import "time"

// Session is the client-side authentication state: the token pair issued by
// login or refresh and the profile loaded after login.
//
// A Session value is a snapshot. Use [Manager] to share and mutate the live
// session.
type Session struct {
	SchemaVersion uint8

	AccessToken  string
	RefreshToken string

	UserID      int64
	UserName    string
	Permissions []string
	Roles       []int

	// Unix seconds. Zero means unknown.
	IssuedAt    int64
	ExpiresAt   int64
	RefreshedAt int64
}

// Profile is the user information stored alongside the tokens.
type Profile struct {
	UserID      int64    `json:"userId"`
	UserName    string   `json:"userName"`
	Permissions []string `json:"permissions"`
	Roles       []int    `json:"roles"`
}

// Authenticated reports whether the session holds an access token.
func (s *Session) Authenticated() bool {
	return s != nil && s.AccessToken != ""
}

// Expired reports whether the access token expiry is known and not after now.
func (s *Session) Expired(now time.Time) bool {
	return s != nil && s.ExpiresAt > 0 && s.ExpiresAt <= now.Unix()
}

// Clone returns a deep copy.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	out := *s
	if s.Permissions != nil {
		out.Permissions = append([]string(nil), s.Permissions...)
	}
	if s.Roles != nil {
		out.Roles = append([]int(nil), s.Roles...)
	}
	return &out
}

// Profile returns the profile part of the session.
func (s *Session) Profile() Profile {
	return Profile{
		UserID:      s.UserID,
		UserName:    s.UserName,
		Permissions: append([]string(nil), s.Permissions...),
		Roles:       append([]int(nil), s.Roles...),
	}
}
