// Package api exposes the game engine over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/qninhdt/storyforge/server/internal/game"
	mw "github.com/qninhdt/storyforge/server/internal/middleware"
	"github.com/qninhdt/storyforge/server/internal/validation"
)

const (
	serviceName    = "StoryForge API"
	serviceVersion = "1.0.0"
)

// OwnerStore resolves who owns a session
type OwnerStore interface {
	SessionOwner(ctx context.Context, sessionID string) (string, error)
}

// Config tunes the HTTP surface
type Config struct {
	RateLimitRPS   float64
	RateLimitBurst int
	MaxBodyBytes   int64
	CORSOrigins    []string
	// JWTSecret enables bearer-token auth on session routes when set
	JWTSecret string
}

// Server handles HTTP requests
type Server struct {
	router chi.Router
	engine *game.Engine
	owners OwnerStore
	auth   *mw.Authenticator
	logger *zap.Logger
}

// NewServer creates a new API server
func NewServer(engine *game.Engine, owners OwnerStore, cfg Config, logger *zap.Logger) *Server {
	s := &Server{
		router: chi.NewRouter(),
		engine: engine,
		owners: owners,
		logger: logger.Named("api"),
	}
	if cfg.JWTSecret != "" {
		s.auth = mw.NewAuthenticator(cfg.JWTSecret, logger)
	}

	s.setupRoutes(cfg)
	return s
}

// setupRoutes configures all API routes
func (s *Server) setupRoutes(cfg Config) {
	s.router.Use(middleware.RequestID)
	s.router.Use(mw.RequestLogger(s.logger))
	s.router.Use(middleware.Recoverer)
	s.router.Use(mw.CORS(cfg.CORSOrigins))
	s.router.Use(mw.NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst, s.logger).Middleware)
	s.router.Use(mw.SecurityHeaders)
	s.router.Use(mw.MaxBodySize(cfg.MaxBodyBytes))

	s.router.Handle("/metrics", promhttp.Handler())

	s.router.Route("/api", func(r chi.Router) {
		r.Get("/", s.root)
		r.Get("/health", s.health)

		r.Get("/campaigns", s.listCampaigns)
		r.Get("/campaigns/{campaignId}", s.getCampaign)
		r.Get("/campaigns/{campaignId}/characters", s.getCampaignCharacters)

		// Session routes need a token when auth is enabled
		r.Group(func(r chi.Router) {
			if s.auth != nil {
				r.Use(s.auth.Middleware)
			}
			r.Post("/campaigns/{campaignId}/start", s.startSession)

			r.Route("/sessions/{sessionId}", func(r chi.Router) {
				r.Use(s.sessionAccess)
				r.Get("/", s.getSession)
				r.Delete("/", s.endSession)
				r.Post("/action", s.submitAction)
				r.Get("/quests", s.getQuests)
				r.Post("/quests/{questId}/objectives/{objectiveId}/complete", s.completeObjective)
				r.Get("/anchors", s.getAnchors)
				r.Post("/character/equip", s.equipItem)
				r.Post("/character/unequip", s.unequipItem)
			})
		})
	})
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// errorBody is the error response shape
type errorBody struct {
	Message string `json:"message"`
}

// writeJSON writes a JSON response
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// writeError writes an error response (sanitized)
func writeError(w http.ResponseWriter, status int, message string) {
	if status >= 500 {
		message = "Internal server error"
	}
	writeJSON(w, status, errorBody{Message: message})
}

// fail maps an engine error onto a status code
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, game.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, game.ErrValidation):
		status = http.StatusBadRequest
	case errors.Is(err, game.ErrConflict):
		status = http.StatusConflict
	}

	if status == http.StatusInternalServerError {
		s.logger.Error("Request failed",
			zap.String("path", r.URL.Path),
			zap.String("requestID", middleware.GetReqID(r.Context())),
			zap.Error(err))
	}
	writeError(w, status, err.Error())
}

// decode reads a JSON body into dst and validates it
func decode(r *http.Request, dst interface{}) (int, error) {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			return http.StatusRequestEntityTooLarge, errors.New("request body too large")
		}
		return http.StatusBadRequest, errors.New("invalid request body")
	}
	if err := validation.Struct(dst); err != nil {
		return http.StatusBadRequest, err
	}
	return 0, nil
}

// pathID reads and validates a URL parameter
func pathID(r *http.Request, name, kind string) (string, error) {
	id := chi.URLParam(r, name)
	return id, validation.ValidateID(kind, id)
}

// sessionAccess validates the session id and, with auth enabled, checks
// that the caller owns the session
func (s *Server) sessionAccess(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sessionID, err := pathID(r, "sessionId", "session")
		if err != nil {
			s.fail(w, r, err)
			return
		}
		if s.auth == nil {
			next.ServeHTTP(w, r)
			return
		}

		userID := mw.UserID(r.Context())
		if userID == "" {
			writeError(w, http.StatusUnauthorized, "Missing user ID")
			return
		}
		owner, err := s.owners.SessionOwner(r.Context(), sessionID)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		if owner != userID {
			s.logger.Warn("Session access denied", zap.String("sessionID", sessionID), zap.String("userID", userID))
			writeError(w, http.StatusForbidden, "Access denied")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// root returns the service banner
func (s *Server) root(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"message": serviceName, "version": serviceVersion})
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

// listCampaigns lists campaign summaries
func (s *Server) listCampaigns(w http.ResponseWriter, r *http.Request) {
	campaigns, err := s.engine.ListCampaigns(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, campaigns)
}

// getCampaign gets a full campaign
func (s *Server) getCampaign(w http.ResponseWriter, r *http.Request) {
	campaignID, err := pathID(r, "campaignId", "campaign")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	campaign, err := s.engine.GetCampaign(r.Context(), campaignID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, campaign)
}

// getCampaignCharacters lists the characters a campaign offers
func (s *Server) getCampaignCharacters(w http.ResponseWriter, r *http.Request) {
	campaignID, err := pathID(r, "campaignId", "campaign")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	characters, err := s.engine.CampaignCharacters(r.Context(), campaignID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, characters)
}

// startSession starts a new session for the caller
func (s *Server) startSession(w http.ResponseWriter, r *http.Request) {
	campaignID, err := pathID(r, "campaignId", "campaign")
	if err != nil {
		s.fail(w, r, err)
		return
	}

	var req validation.StartSessionRequest
	if status, err := decode(r, &req); err != nil {
		writeError(w, status, err.Error())
		return
	}

	session, err := s.engine.StartSession(r.Context(), campaignID, req.CharacterID, mw.UserID(r.Context()))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, session)
}

// getSession gets a session
func (s *Server) getSession(w http.ResponseWriter, r *http.Request) {
	session, err := s.engine.GetSession(r.Context(), chi.URLParam(r, "sessionId"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, session)
}

// endSession deletes a session
func (s *Server) endSession(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.EndSession(r.Context(), chi.URLParam(r, "sessionId")); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Session ended successfully"})
}

// submitAction runs one turn
func (s *Server) submitAction(w http.ResponseWriter, r *http.Request) {
	var req validation.ActionRequest
	if status, err := decode(r, &req); err != nil {
		writeError(w, status, err.Error())
		return
	}

	result, err := s.engine.ProcessAction(r.Context(), chi.URLParam(r, "sessionId"), req.Input())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// getQuests returns the session's quest buckets
func (s *Server) getQuests(w http.ResponseWriter, r *http.Request) {
	quests, err := s.engine.Quests(r.Context(), chi.URLParam(r, "sessionId"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, quests)
}

// completeObjective marks an objective completed
func (s *Server) completeObjective(w http.ResponseWriter, r *http.Request) {
	questID, err := pathID(r, "questId", "quest")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	objectiveID, err := pathID(r, "objectiveId", "objective")
	if err != nil {
		s.fail(w, r, err)
		return
	}

	quests, err := s.engine.CompleteObjective(r.Context(), chi.URLParam(r, "sessionId"), questID, objectiveID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, quests)
}

// getAnchors returns the session's anchor catalog
func (s *Server) getAnchors(w http.ResponseWriter, r *http.Request) {
	anchors, err := s.engine.Anchors(r.Context(), chi.URLParam(r, "sessionId"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, anchors)
}

// equipItem moves an inventory item into a slot
func (s *Server) equipItem(w http.ResponseWriter, r *http.Request) {
	var req validation.EquipRequest
	if status, err := decode(r, &req); err != nil {
		writeError(w, status, err.Error())
		return
	}

	character, err := s.engine.Equip(r.Context(), chi.URLParam(r, "sessionId"), req.ItemID, game.Slot(req.Slot))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, character)
}

// unequipItem moves a slot's item back to the inventory
func (s *Server) unequipItem(w http.ResponseWriter, r *http.Request) {
	var req validation.UnequipRequest
	if status, err := decode(r, &req); err != nil {
		writeError(w, status, err.Error())
		return
	}

	character, err := s.engine.Unequip(r.Context(), chi.URLParam(r, "sessionId"), game.Slot(req.Slot))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, character)
}
