package middleware

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/render"
	"github.com/rs/zerolog"

	goSession "github.com/MrEthical07/goSession"
)

// ErrorResponse is the JSON body of every rejected request.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	// RetryAfter is the lockout remainder in seconds.
	RetryAfter int    `json:"retry_after,omitempty"`
	Detail     string `json:"detail,omitempty"`
}

// publicMessages lists the sentinels whose text may be shown to clients, most
// specific first.
var publicMessages = []error{
	goSession.ErrSecondFactorRequired,
	goSession.ErrSecondFactorInvalid,
	goSession.ErrIncompleteCredentials,
	goSession.ErrInvalidCredentials,
	goSession.ErrAccountDisabled,
	goSession.ErrRestrictedHours,
	goSession.ErrAuthenticationDenied,
}

// WriteError renders err with the status chosen by goSession.HTTPStatus.
// Infrastructure detail is included only when debug is set and the request
// did not ask to suppress it.
func WriteError(w http.ResponseWriter, r *http.Request, debug bool, err error) {
	rc, _ := goSession.FromContext(r.Context())
	writeError(w, r, debug, rc, err)
}

func writeError(w http.ResponseWriter, r *http.Request, debug bool, rc *goSession.RequestContext, err error) {
	kind := goSession.KindOf(err)
	code := goSession.HTTPStatus(err)
	res := ErrorResponse{Error: kind.String()}

	switch kind {
	case goSession.KindSecurityLockout:
		var lockErr *goSession.LockoutError
		if errors.As(err, &lockErr) {
			secs := int(lockErr.RetryAfter.Seconds() + 0.5)
			if secs < 1 {
				secs = 1
			}
			w.Header().Set("Retry-After", strconv.Itoa(secs))
			res.RetryAfter = secs
			res.Message = lockErr.Error()
		} else {
			res.Message = goSession.ErrSecurityLockout.Error()
		}
	case goSession.KindCSRFTokenError:
		res.Message = goSession.ErrCSRFToken.Error()
	case goSession.KindInfrastructureError:
		res.Message = http.StatusText(code)
		if debug && (rc == nil || !rc.SuppressTraceback) {
			res.Detail = err.Error()
		}
		zerolog.Ctx(r.Context()).Error().Err(err).Msg("request failed")
	default:
		res.Message = http.StatusText(code)
		for _, s := range publicMessages {
			if errors.Is(err, s) {
				res.Message = s.Error()
				break
			}
		}
	}

	render.Status(r, code)
	render.JSON(w, r, &res)
}
