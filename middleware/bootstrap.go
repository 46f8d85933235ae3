package middleware

import (
	"net"
	"net/http"
	"slices"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"
	"golang.org/x/text/language"

	goSession "github.com/MrEthical07/goSession"
	"github.com/MrEthical07/goSession/cookie"
	"github.com/MrEthical07/goSession/internal"
	"github.com/MrEthical07/goSession/session"
)

// Bootstrap returns the per-request session middleware.
//
// A backend failure while resuming the session aborts the request with 503.
// A CSRF mismatch aborts it with 400. Every other request reaches next with
// a *goSession.RequestContext available through goSession.FromContext.
func Bootstrap(engine *goSession.Engine) func(http.Handler) http.Handler {
	cfg := engine.Config()
	langs := newLanguages(cfg.Language)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rc := &goSession.RequestContext{
				TenantID: resolveTenant(r, cfg.Tenant),
				ClientIP: clientIP(r),
				Scheme:   "http",
				Device:   session.DeviceDesktop,
				Cookies:  cookie.New(cookie.IsSecureRequest(r) || cfg.Cookie.ForceSecure),
			}
			if cookie.IsSecureRequest(r) {
				rc.Scheme = "https"
			}

			logger := hlog.FromRequest(r).With().Str(internal.LogTenantID, rc.TenantID).Logger()
			ctx := logger.WithContext(r.Context())

			var sid string
			if c, err := r.Cookie(cfg.Cookie.SessionName); err == nil {
				sid = c.Value
			}

			if err := engine.Resume(ctx, rc, sid); err != nil {
				logger.Error().Err(err).Msg("resume session failed")
				writeError(w, r.WithContext(ctx), cfg.Debug, rc, err)
				return
			}

			rc.Language = langs.pick(rc.Session.String(session.DataLanguage), r.Header.Get("Accept-Language"))

			ctx = goSession.WithRequestContext(ctx, rc)
			if !rc.IsGuest() {
				ctx = logger.With().Str(internal.LogUserName, rc.User()).Logger().WithContext(ctx)
			}
			r = r.WithContext(ctx)

			sw := &sessionWriter{ResponseWriter: w, engine: engine, rc: rc, r: r}

			if err := engine.ValidateCSRF(ctx, rc, r); err != nil {
				writeError(sw, r, cfg.Debug, rc, err)
				return
			}

			next.ServeHTTP(sw, r)
			sw.commit()
		})
	}
}

//-------------------------------------------------------------

// sessionWriter touches the session and flushes the cookie jar right before
// the response header is sent.
type sessionWriter struct {
	http.ResponseWriter

	engine    *goSession.Engine
	rc        *goSession.RequestContext
	r         *http.Request
	committed bool
}

func (w *sessionWriter) commit() {
	if w.committed {
		return
	}
	w.committed = true

	ctx := w.r.Context()
	if _, err := w.engine.Touch(ctx, w.rc); err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Msg("touch session failed")
	}
	w.rc.Cookies.Flush(ctx, w.ResponseWriter)
}

func (w *sessionWriter) WriteHeader(status int) {
	w.commit()
	w.ResponseWriter.WriteHeader(status)
}

func (w *sessionWriter) Write(b []byte) (int, error) {
	w.commit()
	return w.ResponseWriter.Write(b) //nolint:wrapcheck
}

func (w *sessionWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

//-------------------------------------------------------------

func resolveTenant(r *http.Request, cfg goSession.TenantConfig) string {
	if cfg.Header != "" {
		if v := strings.TrimSpace(r.Header.Get(cfg.Header)); v != "" {
			return v
		}
	}
	if cfg.FromHost {
		host := r.Host
		if h, _, err := net.SplitHostPort(host); err == nil {
			host = h
		}
		if host != "" {
			return strings.ToLower(host)
		}
	}
	if cfg.Default != "" {
		return cfg.Default
	}
	return "default"
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

//-------------------------------------------------------------

type languages struct {
	fallback  string
	supported []string
	matcher   language.Matcher
}

func newLanguages(cfg goSession.LanguageConfig) languages {
	l := languages{fallback: cfg.Default}
	if l.fallback == "" {
		l.fallback = "en"
	}

	// The default goes first: the matcher falls back to the first tag.
	l.supported = append([]string{l.fallback}, slices.DeleteFunc(slices.Clone(cfg.Supported), func(s string) bool {
		return s == l.fallback
	})...)

	tags := make([]language.Tag, 0, len(l.supported))
	for _, s := range l.supported {
		tags = append(tags, language.Make(s))
	}
	l.matcher = language.NewMatcher(tags)

	return l
}

// pick prefers the session language, then Accept-Language, then the default.
func (l languages) pick(sessionLang, acceptLanguage string) string {
	if sessionLang != "" && slices.Contains(l.supported, sessionLang) {
		return sessionLang
	}
	if acceptLanguage == "" {
		return l.fallback
	}

	tags, _, err := language.ParseAcceptLanguage(acceptLanguage)
	if err != nil || len(tags) == 0 {
		return l.fallback
	}

	_, idx, conf := l.matcher.Match(tags...)
	if conf == language.No {
		return l.fallback
	}
	return l.supported[idx]
}
