package web

import (
	"crypto/rand"
	"encoding/hex"
	"net/http"
	"time"

	log "github.com/go-pkgz/lgr"
	"github.com/go-pkgz/rest"
	"golang.org/x/crypto/bcrypt"
)

const (
	authCookie = "sitemaster-auth"
	authUser   = "sitemaster"
)

// handleLogin checks the password and starts a session, accepts form or json body
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	password, err := loginPassword(r)
	if err != nil {
		rest.SendErrorJSON(w, r, log.Default(), http.StatusBadRequest, err, "invalid login request")
		return
	}
	if password == "" {
		rest.SendErrorJSON(w, r, log.Default(), http.StatusBadRequest, nil, "password is required")
		return
	}

	if err := bcrypt.CompareHashAndPassword([]byte(s.passwordHash), []byte(password)); err != nil {
		rest.SendErrorJSON(w, r, log.Default(), http.StatusUnauthorized, nil, "invalid password")
		return
	}

	token, err := s.createSession()
	if err != nil {
		rest.SendErrorJSON(w, r, log.Default(), http.StatusInternalServerError, err, "failed to create session")
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     authCookie,
		Value:    token,
		Path:     s.cookiePath(),
		MaxAge:   int(s.loginTTL.Seconds()),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   r.TLS != nil || r.Header.Get("X-Forwarded-Proto") == "https",
	})
	rest.RenderJSON(w, rest.JSON{"status": "ok"})
}

// handleLogout drops the session and clears the auth cookie
func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if cookie, err := r.Cookie(authCookie); err == nil {
		s.sessionsMu.Lock()
		delete(s.sessions, cookie.Value)
		s.sessionsMu.Unlock()
	}

	http.SetCookie(w, &http.Cookie{
		Name:     authCookie,
		Value:    "",
		Path:     s.cookiePath(),
		MaxAge:   -1,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   r.TLS != nil || r.Header.Get("X-Forwarded-Proto") == "https",
	})
	rest.RenderJSON(w, rest.JSON{"status": "ok"})
}

// authMiddleware checks session cookie or falls back to basic auth
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/login" {
			next.ServeHTTP(w, r)
			return
		}

		if cookie, err := r.Cookie(authCookie); err == nil && s.validSession(cookie.Value) {
			next.ServeHTTP(w, r)
			return
		}

		username, password, ok := r.BasicAuth()
		if ok && username == authUser {
			if err := bcrypt.CompareHashAndPassword([]byte(s.passwordHash), []byte(password)); err == nil {
				next.ServeHTTP(w, r)
				return
			}
		}

		w.Header().Set("WWW-Authenticate", `Basic realm="SiteMaster"`)
		rest.SendErrorJSON(w, r, log.Default(), http.StatusUnauthorized, nil, "unauthorized")
	})
}

// createSession makes a random session token and stores it, expired sessions are pruned here
func (s *Server) createSession() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	token := hex.EncodeToString(buf)

	s.sessionsMu.Lock()
	defer s.sessionsMu.Unlock()
	now := time.Now()
	for k, v := range s.sessions {
		if now.Sub(v.createdAt) > s.loginTTL {
			delete(s.sessions, k)
		}
	}
	s.sessions[token] = session{token: token, createdAt: now}
	return token, nil
}

// validSession checks the token belongs to a live session
func (s *Server) validSession(token string) bool {
	s.sessionsMu.Lock()
	defer s.sessionsMu.Unlock()
	sess, ok := s.sessions[token]
	if !ok {
		return false
	}
	if time.Since(sess.createdAt) > s.loginTTL {
		delete(s.sessions, token)
		return false
	}
	return true
}

// cookiePath returns the cookie path with base URL support
func (s *Server) cookiePath() string {
	if s.baseURL == "" {
		return "/"
	}
	return s.baseURL + "/"
}

func loginPassword(r *http.Request) (string, error) {
	if r.Header.Get("Content-Type") == "application/json" {
		var req struct {
			Password string `json:"password"`
		}
		if err := decodeJSON(r, &req); err != nil {
			return "", err
		}
		return req.Password, nil
	}
	if err := r.ParseForm(); err != nil {
		return "", err
	}
	return r.FormValue("password"), nil
}
