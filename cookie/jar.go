package cookie

import (
	"context"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"sync"
	"time"
)

// Options are the per-cookie attributes accepted by [Jar.Set].
type Options struct {
	// Expires is omitted from the header when zero (session cookie).
	Expires time.Time
	// Secure overrides the scheme-derived default when non-nil.
	Secure   *bool
	HTTPOnly bool
	// SameSite defaults to Lax. Mobile jars always drop the attribute.
	SameSite http.SameSite
	Path     string
	Domain   string
}

// Jar collects cookie mutations for a single request. It is safe for
// concurrent use by the handler and the response writer wrapper.
type Jar struct {
	mu      sync.Mutex
	secure  bool
	mobile  bool
	order   []string
	sets    map[string]*http.Cookie
	deletes []deletion
	flushed bool
	now     func() time.Time
}

// deletion keeps the scope a cookie was set with; a removal only reaches the
// browser's cookie when Path and Domain match.
type deletion struct {
	name   string
	path   string
	domain string
}

// New returns an empty jar. secure is the default Secure flag, normally
// [IsSecureRequest] of the current request.
func New(secure bool) *Jar {
	return &Jar{
		secure: secure,
		sets:   map[string]*http.Cookie{},
		now:    time.Now,
	}
}

// SetMobile switches SameSite handling once the client device is known.
func (j *Jar) SetMobile(mobile bool) {
	j.mu.Lock()
	j.mobile = mobile
	j.mu.Unlock()
}

// Set stages name=value, replacing any earlier staged value for name.
func (j *Jar) Set(name, value string, opts Options) {
	if name == "" {
		return
	}

	secure := j.secure
	if opts.Secure != nil {
		secure = *opts.Secure
	}
	sameSite := opts.SameSite
	if sameSite == 0 {
		sameSite = http.SameSiteLaxMode
	}
	path := opts.Path
	if path == "" {
		path = "/"
	}

	c := &http.Cookie{
		Name:     name,
		Value:    url.PathEscape(value),
		Path:     path,
		Domain:   opts.Domain,
		Expires:  opts.Expires,
		Secure:   secure,
		HttpOnly: opts.HTTPOnly,
		SameSite: sameSite,
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	if _, ok := j.sets[name]; !ok {
		j.order = append(j.order, name)
	}
	j.sets[name] = c
}

// Delete stages removal of names within the Path and Domain of opts; other
// fields are ignored. Deletions are written after every set.
func (j *Jar) Delete(opts Options, names ...string) {
	path := opts.Path
	if path == "" {
		path = "/"
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	for _, name := range names {
		if name == "" || j.deletedLocked(name) {
			continue
		}
		j.deletes = append(j.deletes, deletion{name: name, path: path, domain: opts.Domain})
	}
}

func (j *Jar) deletedLocked(name string) bool {
	return slices.ContainsFunc(j.deletes, func(d deletion) bool { return d.name == name })
}

// Get returns the staged, unescaped value of name.
func (j *Jar) Get(name string) (string, bool) {
	j.mu.Lock()
	defer j.mu.Unlock()

	c, ok := j.sets[name]
	if !ok {
		return "", false
	}
	v, err := url.PathUnescape(c.Value)
	if err != nil {
		return c.Value, true
	}
	return v, true
}

// Deleted reports whether name is staged for deletion.
func (j *Jar) Deleted(name string) bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.deletedLocked(name)
}

// Flush writes staged cookies to w. It returns false without writing when ctx
// is done or the jar was already flushed.
func (j *Jar) Flush(ctx context.Context, w http.ResponseWriter) bool {
	if ctx.Err() != nil {
		return false
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	if j.flushed {
		return false
	}
	j.flushed = true

	for _, name := range j.order {
		c := *j.sets[name]
		if j.mobile {
			c.SameSite = http.SameSiteDefaultMode
		}
		http.SetCookie(w, &c)
	}

	past := j.now().Add(-24 * time.Hour)
	for _, d := range j.deletes {
		http.SetCookie(w, &http.Cookie{
			Name:    d.name,
			Value:   "",
			Path:    d.path,
			Domain:  d.domain,
			Expires: past,
			MaxAge:  -1,
			Secure:  j.secure,
		})
	}

	return true
}

// IsSecureRequest reports whether r arrived over https, directly or through a
// proxy that sets X-Forwarded-Proto or Forwarded.
func IsSecureRequest(r *http.Request) bool {
	if r.TLS != nil {
		return true
	}
	if strings.EqualFold(r.Header.Get("X-Forwarded-Proto"), "https") {
		return true
	}
	return strings.Contains(strings.ToLower(r.Header.Get("Forwarded")), "proto=https")
}
