package devstore

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"net/http"
	"sync"
	"time"
)

const (
	sessionCookieName = "sessionid"
	// CSRFCookieName is the double-submit cookie mirrored in the page's meta tag.
	CSRFCookieName = "csrftoken"
	// CSRFHeaderName must carry the token on every unsafe request.
	CSRFHeaderName = "X-CSRFToken"
)

type ctxKey string

const ctxKeySession ctxKey = "session"

// session is the server-side state behind the sessionid cookie.
type session struct {
	ID        string
	UserID    string
	CSRFToken string
}

// owner keys carts and favorites: the user once signed in, the session before.
func (s *session) owner() string {
	if s.UserID != "" {
		return "user:" + s.UserID
	}
	return "session:" + s.ID
}

type shelf struct {
	cart      map[string]int
	favorites map[string]struct{}
}

// store keeps sessions and the carts and favorites of their owners in memory.
type store struct {
	mu       sync.Mutex
	sessions map[string]*session
	shelves  map[string]*shelf
}

func newStore() *store {
	return &store{
		sessions: map[string]*session{},
		shelves:  map[string]*shelf{},
	}
}

func (s *store) session(id string) (session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return session{}, false
	}
	return *sess, true
}

func (s *store) newSession() session {
	sess := &session{ID: randToken(), CSRFToken: randToken()}
	s.mu.Lock()
	s.sessions[sess.ID] = sess
	s.mu.Unlock()
	return *sess
}

// login attaches userID to the session under a fresh id and token.
func (s *store) login(id, userID string) session {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, id)
	sess := &session{ID: randToken(), UserID: userID, CSRFToken: randToken()}
	s.sessions[sess.ID] = sess
	return *sess
}

// withShelf runs fn with the owner's shelf locked.
func (s *store) withShelf(owner string, fn func(*shelf)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sh, ok := s.shelves[owner]
	if !ok {
		sh = &shelf{cart: map[string]int{}, favorites: map[string]struct{}{}}
		s.shelves[owner] = sh
	}
	fn(sh)
}

func (sh *shelf) cartCount() int {
	total := 0
	for _, qty := range sh.cart {
		total += qty
	}
	return total
}

// sessionMiddleware loads or starts the session and stores it on the context.
func (s *Server) sessionMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var (
			sess  session
			found bool
		)
		if c, err := r.Cookie(sessionCookieName); err == nil && c.Value != "" {
			sess, found = s.store.session(c.Value)
		}
		if !found {
			sess = s.store.newSession()
			writeSessionCookie(w, sess)
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxKeySession, sess)))
	})
}

func sessionFrom(r *http.Request) session {
	sess, _ := r.Context().Value(ctxKeySession).(session)
	return sess
}

func writeSessionCookie(w http.ResponseWriter, sess session) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    sess.ID,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Expires:  time.Now().Add(14 * 24 * time.Hour),
	})
}

func writeCSRFCookie(w http.ResponseWriter, sess session) {
	http.SetCookie(w, &http.Cookie{
		Name:     CSRFCookieName,
		Value:    sess.CSRFToken,
		Path:     "/",
		HttpOnly: false,
		SameSite: http.SameSiteLaxMode,
		Expires:  time.Now().Add(365 * 24 * time.Hour),
	})
}

// csrfMiddleware issues the token cookie and verifies unsafe requests carry the
// session's token in both the cookie and the header.
func csrfMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sess := sessionFrom(r)
		cookie, cookieErr := r.Cookie(CSRFCookieName)
		if cookieErr != nil || cookie.Value != sess.CSRFToken {
			writeCSRFCookie(w, sess)
		}

		if !isSafeMethod(r.Method) {
			hdr := r.Header.Get(CSRFHeaderName)
			if hdr == "" || hdr != sess.CSRFToken || cookieErr != nil || cookie.Value != sess.CSRFToken {
				writeError(w, r, http.StatusForbidden, "CSRF verification failed")
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

func isSafeMethod(m string) bool {
	switch m {
	case http.MethodGet, http.MethodHead, http.MethodOptions, http.MethodTrace:
		return true
	default:
		return false
	}
}

func randToken() string {
	b := make([]byte, 16)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
