// Package csrf validates the per-session anti-forgery token on
// state-changing requests.
package csrf

import (
	"crypto/subtle"
	"errors"
	"mime"
	"net/http"

	"github.com/MrEthical07/goSession/internal"
	"github.com/MrEthical07/goSession/session"
)

const (
	HeaderName = "X-CSRF-Token"
	FormField  = "csrf_token"

	maxFormMemory = 32 << 20
)

var (
	// ErrTokenMismatch is returned when the submitted token is missing or differs.
	ErrTokenMismatch = errors.New("csrf token mismatch")
)

// Gate checks submitted tokens against the session. The zero value is enabled.
type Gate struct {
	// Disabled turns validation off for every request.
	Disabled bool
}

// Applies reports whether method is checked.
func Applies(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return true
	default:
		return false
	}
}

// Validate checks r against rec. The form field, when present, is removed
// from r's parsed form values.
func (g Gate) Validate(rec *session.Record, r *http.Request) error {
	if !Applies(r.Method) {
		return nil
	}

	submitted := r.Header.Get(HeaderName)
	if submitted == "" {
		submitted = takeFormToken(r)
	} else {
		stripFormToken(r)
	}

	if g.Disabled || rec.IsGuest() || len(rec.Data) == 0 || rec.Device == session.DeviceMobile {
		return nil
	}

	expected := rec.String(session.DataCSRFToken)
	if expected == "" {
		return nil
	}

	if subtle.ConstantTimeCompare([]byte(expected), []byte(submitted)) != 1 {
		return ErrTokenMismatch
	}

	return nil
}

// EnsureToken returns the session's token, generating one when absent. The
// boolean is true when a new token was stored in rec.
func EnsureToken(rec *session.Record) (string, bool, error) {
	if rec.IsGuest() {
		return "", false, nil
	}
	if tok := rec.String(session.DataCSRFToken); tok != "" {
		return tok, false, nil
	}

	tok, err := internal.NewCSRFToken()
	if err != nil {
		return "", false, err
	}
	rec.Set(session.DataCSRFToken, tok)
	return tok, true, nil
}

func takeFormToken(r *http.Request) string {
	parseForm(r)
	tok := r.PostFormValue(FormField)
	if tok == "" {
		tok = r.FormValue(FormField)
	}
	stripFormToken(r)
	return tok
}

func stripFormToken(r *http.Request) {
	if r.Form != nil {
		r.Form.Del(FormField)
	}
	if r.PostForm != nil {
		r.PostForm.Del(FormField)
	}
	if r.MultipartForm != nil {
		delete(r.MultipartForm.Value, FormField)
	}
}

func parseForm(r *http.Request) {
	ct, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if ct == "multipart/form-data" {
		_ = r.ParseMultipartForm(maxFormMemory)
		return
	}
	_ = r.ParseForm()
}
