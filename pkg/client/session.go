package client

import (
	"net/url"
	"regexp"
	"strings"
)

var xsrfTokenPattern = regexp.MustCompile(`XSRF-TOKEN=([^;]+)`)

// Session is the credential a client submits to start a run: the raw cookie
// header copied from a logged-in browser plus the anti-forgery token derived
// from it.
type Session struct {
	Cookie    string
	XSRFToken string
}

// ParseSession builds a Session from a cookie blob. A missing XSRF-TOKEN
// yields an empty token rather than an error; the admin site decides whether
// it needs one.
func ParseSession(cookie string) Session {
	cookie = strings.TrimSpace(cookie)
	return Session{
		Cookie:    cookie,
		XSRFToken: xsrfToken(cookie),
	}
}

func xsrfToken(cookie string) string {
	m := xsrfTokenPattern.FindStringSubmatch(cookie)
	if len(m) < 2 {
		return ""
	}
	token, err := url.PathUnescape(m[1])
	if err != nil {
		return m[1]
	}
	return token
}

// headers returns the request headers for this session.
func (s Session) headers(userAgent string) map[string]string {
	return map[string]string{
		"Cookie":           s.Cookie,
		"User-Agent":       userAgent,
		"Accept":           "application/json",
		"X-XSRF-TOKEN":     s.XSRFToken,
		"X-Requested-With": "XMLHttpRequest",
	}
}
