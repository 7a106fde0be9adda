package api

import (
	"errors"
	"net/http"
	"strings"
	"unsafe"

	"github.com/labstack/echo/v4"
)

var (
	errMissingAuthorization = errors.New("missing authorization header")
	errBadAuthorization     = errors.New("bad auth header")
)

const bearerScheme = "Bearer "

// bearerTokenFromHeader returns the token of the first Authorization header
// without copying it.
func bearerTokenFromHeader(header http.Header) ([]byte, error) {
	values := header.Values(echo.HeaderAuthorization)
	if len(values) == 0 {
		return nil, errMissingAuthorization
	}
	return bearerTokenFromString(values[0])
}

// bearerTokenFromString strips the scheme, matched case-insensitively. The
// remaining token must look like a compact JWS.
func bearerTokenFromString(raw string) ([]byte, error) {
	raw = strings.Trim(raw, " ")
	if raw == "" {
		return nil, errMissingAuthorization
	}
	if len(raw) <= len(bearerScheme) || !strings.EqualFold(raw[:len(bearerScheme)], bearerScheme) {
		return nil, errBadAuthorization
	}
	token := strings.TrimLeft(raw[len(bearerScheme):], " ")
	if strings.Count(token, ".") != 2 {
		return nil, errBadAuthorization
	}
	return readOnlyBytes(token), nil
}

func readOnlyBytes(s string) []byte {
	if s == "" {
		return nil
	}
	return unsafe.Slice(unsafe.StringData(s), len(s))
}

func readOnlyString(b []byte) string {
	if len(b) == 0 {
		return ""
	}
	return unsafe.String(&b[0], len(b))
}
