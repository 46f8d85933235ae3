package middleware

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/rs/zerolog"

	goSession "github.com/MrEthical07/goSession"
	"github.com/MrEthical07/goSession/internal"
	"github.com/MrEthical07/goSession/session"
)

// Form fields read by [Login].
const (
	FieldUser     = "usr"
	FieldPassword = "pwd"
	FieldOTP      = "otp"
	FieldDevice   = "device"
)

// LoginResponse is returned by a successful login.
type LoginResponse struct {
	Message    string `json:"message"`
	HomePage   string `json:"home_page,omitempty"`
	RedirectTo string `json:"redirect_to,omitempty"`
	FullName   string `json:"full_name,omitempty"`
}

// MessageResponse is returned by handlers without a payload.
type MessageResponse struct {
	Message string `json:"message"`
}

// Routes mounts the login, logout and boot handlers behind [Bootstrap].
//
//	POST /login
//	POST /logout
//	GET  /session
func Routes(engine *goSession.Engine) chi.Router {
	r := chi.NewRouter()
	r.Use(Bootstrap(engine))

	r.Post("/login", Login(engine))
	r.Post("/logout", Logout(engine))
	r.Get("/session", Boot(engine))

	return r
}

// Login authenticates the submitted form.
func Login(engine *goSession.Engine) http.HandlerFunc {
	debug := engine.Config().Debug

	return func(w http.ResponseWriter, r *http.Request) {
		rc, ok := goSession.FromContext(r.Context())
		if !ok {
			WriteError(w, r, debug, goSession.ErrEngineNotReady)
			return
		}

		req := goSession.LoginRequest{
			User:     r.FormValue(FieldUser),
			Password: r.FormValue(FieldPassword),
			OTP:      r.FormValue(FieldOTP),
		}
		if d := r.FormValue(FieldDevice); d != "" {
			req.Device = session.ParseDevice(d)
		}

		res, err := engine.Login(r.Context(), rc, req)
		if err != nil {
			zerolog.Ctx(r.Context()).Info().
				Str(internal.LogUserName, req.User).
				Str(internal.LogAuthResult, goSession.KindOf(err).String()).
				Msg("login rejected")
			writeError(w, r, debug, rc, err)

			return
		}

		render.Status(r, http.StatusOK)
		render.JSON(w, r, &LoginResponse{
			Message:    res.Message,
			HomePage:   res.HomePage,
			RedirectTo: res.RedirectTo,
			FullName:   res.FullName,
		})
	}
}

// Logout ends the current session. Guests get the same response.
func Logout(engine *goSession.Engine) http.HandlerFunc {
	debug := engine.Config().Debug

	return func(w http.ResponseWriter, r *http.Request) {
		rc, ok := goSession.FromContext(r.Context())
		if !ok {
			WriteError(w, r, debug, goSession.ErrEngineNotReady)
			return
		}

		if err := engine.Logout(r.Context(), rc); err != nil {
			writeError(w, r, debug, rc, err)
			return
		}

		render.Status(r, http.StatusOK)
		render.JSON(w, r, &MessageResponse{Message: "Logged Out"})
	}
}

// Boot serves the page-load payload.
func Boot(engine *goSession.Engine) http.HandlerFunc {
	debug := engine.Config().Debug

	return func(w http.ResponseWriter, r *http.Request) {
		rc, ok := goSession.FromContext(r.Context())
		if !ok {
			WriteError(w, r, debug, goSession.ErrEngineNotReady)
			return
		}

		info, err := engine.Boot(r.Context(), rc)
		if err != nil {
			writeError(w, r, debug, rc, err)
			return
		}

		render.Status(r, http.StatusOK)
		render.JSON(w, r, &info)
	}
}
