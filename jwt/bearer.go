package jwt

import "strings"

const bearerScheme = "Bearer "

// Bearer formats token as an Authorization header value. A token that
// already carries the scheme, in any case, is returned unchanged so the
// prefix is never doubled. An empty token yields "".
func Bearer(token string) string {
	if token == "" {
		return ""
	}
	if hasBearerScheme(token) {
		return token
	}
	return bearerScheme + token
}

// StripBearer returns token without a leading "Bearer " scheme.
func StripBearer(token string) string {
	token = strings.TrimSpace(token)
	if hasBearerScheme(token) {
		return strings.TrimSpace(token[len(bearerScheme):])
	}
	return token
}

func hasBearerScheme(token string) bool {
	return len(token) > len(bearerScheme) && strings.EqualFold(token[:len(bearerScheme)], bearerScheme)
}
