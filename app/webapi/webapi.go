// Package webapi provides the HTTP surface for the moderation engine: the
// message-send path for chat clients and word-list/violations management for
// the admin side.
package webapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/didip/tollbooth/v8"
	"github.com/go-pkgz/lgr"
	"github.com/go-pkgz/rest"
	"github.com/go-pkgz/routegroup"

	"github.com/avoro/chat-guard/app/guard"
	"github.com/avoro/chat-guard/app/storage"
	"github.com/avoro/chat-guard/lib/modcheck"
)

// Server is a web API server.
type Server struct {
	Config
}

// Config defines server parameters
type Config struct {
	Version    string     // version to show in app info header
	ListenAddr string     // listen address
	Guard      Moderator  // moderation pipeline
	Detector   Detector   // classifier for check-only requests
	Lexicon    Lexicon    // word lists management
	Violations Violations // violations log reader
	AuthPasswd string     // basic auth password for user "chat-guard"
	Dbg        bool       // debug mode
}

// Moderator runs the full moderation pipeline for outgoing messages.
type Moderator interface {
	OnMessage(ctx context.Context, req modcheck.Request) guard.Response
	UserStatus(ctx context.Context, userID string) (blocked bool, warnings int, err error)
}

// Detector is a message classifier interface.
type Detector interface {
	Check(req modcheck.Request) modcheck.Verdict
}

// Lexicon is a word lists management interface.
type Lexicon interface {
	Words(category modcheck.Category) map[string]struct{}
	SetWords(ctx context.Context, category modcheck.Category, words []string) error
}

// Violations is a violations log reader interface.
type Violations interface {
	Read(ctx context.Context, n int) ([]storage.ViolationInfo, error)
}

// NewServer creates a new web API server.
func NewServer(config Config) *Server {
	return &Server{Config: config}
}

// Run starts the server and blocks until ctx is canceled.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{Addr: s.ListenAddr, Handler: s.routes(), ReadTimeout: 5 * time.Second, WriteTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Printf("[WARN] failed to shutdown webapi server: %v", err)
		} else {
			log.Printf("[INFO] webapi server stopped")
		}
	}()

	log.Printf("[INFO] start webapi server on %s", s.ListenAddr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to run server: %w", err)
	}
	return nil
}

// routes builds the router with all middlewares and handlers
func (s *Server) routes() http.Handler {
	router := routegroup.New(http.NewServeMux())
	router.Use(rest.Recoverer(lgr.Default()))
	router.Use(rest.AppInfo("chat-guard", "avoro", s.Version), rest.Ping)
	router.Use(tollbooth.HTTPMiddleware(tollbooth.NewLimiter(50, nil)))
	router.Use(rest.SizeLimit(1024 * 1024)) // 1M max request size

	if s.AuthPasswd != "" {
		log.Printf("[INFO] basic auth enabled for webapi server")
		router.Use(rest.BasicAuthWithPrompt("chat-guard", s.AuthPasswd))
	} else {
		log.Printf("[WARN] basic auth disabled, access to webapi is not protected")
	}

	router.HandleFunc("POST /message", s.messageHandler) // full pipeline: classify + sanctions
	router.HandleFunc("POST /check", s.checkHandler)     // classify only, no side effects
	router.HandleFunc("GET /users/{id}", s.userHandler)  // user standing: blocked flag + warnings

	router.Mount("/words").Route(func(b *routegroup.Bundle) {
		b.HandleFunc("GET /{category}", s.getWordsHandler)
		b.HandleFunc("PUT /{category}", s.updateWordsHandler)
	})

	router.HandleFunc("GET /violations", s.violationsHandler)
	return router
}

// messageHandler handles POST /message requests, runs the full moderation
// pipeline and returns the decision.
func (s *Server) messageHandler(w http.ResponseWriter, r *http.Request) {
	req := modcheck.Request{}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		rest.RenderJSON(w, rest.JSON{"error": "can't decode request", "details": err.Error()})
		log.Printf("[WARN] can't decode request: %v", err)
		return
	}
	if req.UserID == "" {
		w.WriteHeader(http.StatusBadRequest)
		rest.RenderJSON(w, rest.JSON{"error": "user_id is required"})
		return
	}
	resp := s.Guard.OnMessage(r.Context(), req)
	rest.RenderJSON(w, resp)
}

// checkHandler handles POST /check requests, classification only - no
// sanctions applied, nothing persisted.
func (s *Server) checkHandler(w http.ResponseWriter, r *http.Request) {
	req := modcheck.Request{}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		rest.RenderJSON(w, rest.JSON{"error": "can't decode request", "details": err.Error()})
		log.Printf("[WARN] can't decode request: %v", err)
		return
	}
	verdict := s.Detector.Check(req)
	rest.RenderJSON(w, rest.JSON{"violation": verdict.HasViolation(), "verdict": verdict})
}

// userHandler handles GET /users/{id} requests
func (s *Server) userHandler(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("id")
	blocked, warnings, err := s.Guard.UserStatus(r.Context(), userID)
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		rest.RenderJSON(w, rest.JSON{"error": "can't get user status", "details": err.Error()})
		return
	}
	rest.RenderJSON(w, rest.JSON{"user_id": userID, "blocked": blocked, "warnings": warnings})
}

// getWordsHandler handles GET /words/{category} requests
func (s *Server) getWordsHandler(w http.ResponseWriter, r *http.Request) {
	category := modcheck.Category(r.PathValue("category"))
	if err := category.Validate(); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		rest.RenderJSON(w, rest.JSON{"error": err.Error()})
		return
	}
	set := s.Lexicon.Words(category)
	words := make([]string, 0, len(set))
	for word := range set {
		words = append(words, word)
	}
	rest.RenderJSON(w, rest.JSON{"category": category, "words": words, "count": len(words)})
}

// updateWordsHandler handles PUT /words/{category} requests, replacing the
// category's word list.
func (s *Server) updateWordsHandler(w http.ResponseWriter, r *http.Request) {
	category := modcheck.Category(r.PathValue("category"))
	if err := category.Validate(); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		rest.RenderJSON(w, rest.JSON{"error": err.Error()})
		return
	}

	req := struct {
		Words []string `json:"words"`
	}{}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		rest.RenderJSON(w, rest.JSON{"error": "can't decode request", "details": err.Error()})
		return
	}
	if err := s.Lexicon.SetWords(r.Context(), category, req.Words); err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		rest.RenderJSON(w, rest.JSON{"error": "can't update words", "details": err.Error()})
		log.Printf("[WARN] can't update %s: %v", category, err)
		return
	}
	log.Printf("[INFO] %s updated, %d words", category, len(req.Words))
	rest.RenderJSON(w, rest.JSON{"updated": true, "category": category, "count": len(req.Words)})
}

// violationsHandler handles GET /violations requests, returns the recent
// violations, optional ?limit=N (default 100)
func (s *Server) violationsHandler(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		val, err := strconv.Atoi(v)
		if err != nil || val <= 0 {
			w.WriteHeader(http.StatusBadRequest)
			rest.RenderJSON(w, rest.JSON{"error": fmt.Sprintf("invalid limit %q", v)})
			return
		}
		limit = val
	}
	entries, err := s.Violations.Read(r.Context(), limit)
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		rest.RenderJSON(w, rest.JSON{"error": "can't read violations", "details": err.Error()})
		return
	}
	rest.RenderJSON(w, rest.JSON{"violations": entries, "count": len(entries)})
}
