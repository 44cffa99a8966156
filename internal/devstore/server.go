// Package devstore is a development storefront: it renders a catalog page with
// cart and wishlist controls and serves the two mutation endpoints the widgets call.
// Carts and favorites live in memory.
package devstore

import (
	"embed"
	"encoding/json"
	"fmt"
	"html/template"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"finitefield.org/storefront-sync/internal/observability"
)

//go:embed templates/*.tmpl
var templateFS embed.FS

// Default icon assets rendered into wishlist controls.
const (
	DefaultIconFilled  = "/static/images/redWishlist.svg"
	DefaultIconOutline = "/static/images/wishlist.svg"
)

// Server is the development storefront's HTTP handler.
type Server struct {
	catalog            catalog
	store              *store
	logger             *zap.Logger
	page               *template.Template
	router             chi.Router
	cartRequiresLogin  bool
	anonymousFavorites bool
	iconFilled         string
	iconOutline        string
}

// Option customises a Server.
type Option func(*Server)

// WithCatalog replaces the default catalog.
func WithCatalog(products []Product) Option {
	return func(s *Server) {
		if len(products) > 0 {
			s.catalog = newCatalog(products)
		}
	}
}

// WithCartRequiresLogin answers 401 to anonymous cart additions.
func WithCartRequiresLogin() Option {
	return func(s *Server) { s.cartRequiresLogin = true }
}

// WithAnonymousFavorites keeps favorites in the session for anonymous visitors
// instead of answering 401.
func WithAnonymousFavorites() Option {
	return func(s *Server) { s.anonymousFavorites = true }
}

// WithIcons overrides the wishlist icon assets.
func WithIcons(filled, outline string) Option {
	return func(s *Server) {
		if strings.TrimSpace(filled) != "" {
			s.iconFilled = strings.TrimSpace(filled)
		}
		if strings.TrimSpace(outline) != "" {
			s.iconOutline = strings.TrimSpace(outline)
		}
	}
}

// WithLogger sets the request logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// New builds the storefront router.
func New(opts ...Option) (*Server, error) {
	page, err := template.ParseFS(templateFS, "templates/catalog.html.tmpl")
	if err != nil {
		return nil, fmt.Errorf("devstore: parse templates: %w", err)
	}
	s := &Server{
		catalog:     newCatalog(DefaultCatalog()),
		store:       newStore(),
		logger:      zap.NewNop(),
		page:        page,
		iconFilled:  DefaultIconFilled,
		iconOutline: DefaultIconOutline,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.router = s.routes()
	return s, nil
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(observability.RequestLogger(observability.Component(s.logger, "devstore")))
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Group(func(r chi.Router) {
		r.Use(s.sessionMiddleware)
		r.Use(csrfMiddleware)

		r.Get("/", s.handleCatalog)
		r.Get("/login", s.handleLogin)
		r.Post("/cart/add/{productID}/", s.handleCartAdd)
		r.Post("/favorites/toggle/{productID}/", s.handleFavoriteToggle)
	})
	return r
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

type productView struct {
	Product
	Icon string
}

type catalogView struct {
	Title          string
	CSRFToken      string
	UserID         string
	CartCount      int
	FavoritesCount int
	Products       []productView
}

func (s *Server) handleCatalog(w http.ResponseWriter, r *http.Request) {
	sess := sessionFrom(r)
	view := catalogView{
		Title:     "Storefront",
		CSRFToken: sess.CSRFToken,
		UserID:    sess.UserID,
	}
	s.store.withShelf(sess.owner(), func(sh *shelf) {
		view.CartCount = sh.cartCount()
		view.FavoritesCount = len(sh.favorites)
		for _, p := range s.catalog.order {
			icon := s.iconOutline
			if _, fav := sh.favorites[p.ID]; fav {
				icon = s.iconFilled
			}
			view.Products = append(view.Products, productView{Product: p, Icon: icon})
		}
	})

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := s.page.Execute(w, view); err != nil {
		observability.FromContext(r.Context()).Error("render catalog", zap.Error(err))
	}
}

// handleLogin signs the visitor in as ?user= and starts a fresh session.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	userID := strings.TrimSpace(r.URL.Query().Get("user"))
	if userID == "" {
		writeError(w, r, http.StatusBadRequest, "user is required")
		return
	}
	sess := s.store.login(sessionFrom(r).ID, userID)
	writeSessionCookie(w, sess)
	writeCSRFCookie(w, sess)

	next := r.URL.Query().Get("next")
	if !strings.HasPrefix(next, "/") || strings.HasPrefix(next, "//") {
		next = "/"
	}
	http.Redirect(w, r, next, http.StatusSeeOther)
}

func (s *Server) handleCartAdd(w http.ResponseWriter, r *http.Request) {
	sess := sessionFrom(r)
	if s.cartRequiresLogin && sess.UserID == "" {
		writeUnauthenticated(w)
		return
	}
	id := chi.URLParam(r, "productID")
	product, ok := s.catalog.lookup(id)
	if !ok {
		writeError(w, r, http.StatusNotFound, "Product Not Found")
		return
	}

	var count int
	s.store.withShelf(sess.owner(), func(sh *shelf) {
		sh.cart[product.ID]++
		count = sh.cartCount()
	})
	writeJSON(w, http.StatusOK, map[string]any{
		"success":    true,
		"message":    "Product added to cart",
		"cart_count": count,
	})
}

func (s *Server) handleFavoriteToggle(w http.ResponseWriter, r *http.Request) {
	sess := sessionFrom(r)
	if !s.anonymousFavorites && sess.UserID == "" {
		writeUnauthenticated(w)
		return
	}
	id := chi.URLParam(r, "productID")
	product, ok := s.catalog.lookup(id)
	if !ok {
		observability.FromContext(r.Context()).Warn("favorite toggle for unknown product", zap.String("product_id", observability.SanitizeProductRef(id)))
		writeJSON(w, http.StatusOK, map[string]any{
			"success": false,
			"message": fmt.Sprintf("Product %s not found", id),
		})
		return
	}

	var (
		favorite bool
		count    int
	)
	s.store.withShelf(sess.owner(), func(sh *shelf) {
		if _, exists := sh.favorites[product.ID]; exists {
			delete(sh.favorites, product.ID)
		} else {
			sh.favorites[product.ID] = struct{}{}
			favorite = true
		}
		count = len(sh.favorites)
	})
	message := "Product removed from favorites"
	if favorite {
		message = "Product added to favorites"
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":         true,
		"message":         message,
		"is_favorite":     favorite,
		"favorites_count": count,
	})
}

type errorBody struct {
	Message    string `json:"message"`
	StatusCode int    `json:"status_code"`
}

type errorEnvelope struct {
	Success bool      `json:"success"`
	Error   errorBody `json:"error"`
}

func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	observability.FromContext(r.Context()).Debug("request rejected", zap.Int("status", code), zap.String("reason", msg))
	writeJSON(w, code, errorEnvelope{Error: errorBody{Message: msg, StatusCode: code}})
}

func writeUnauthenticated(w http.ResponseWriter) {
	writeJSON(w, http.StatusUnauthorized, map[string]any{
		"success": false,
		"message": "Authentication required",
	})
}

func writeJSON(w http.ResponseWriter, code int, body any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(body)
}
