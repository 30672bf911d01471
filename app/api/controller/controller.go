package controller

import (
	"net/http"

	"github.com/go-jose/go-jose/v4/json"
	"github.com/gorilla/mux"

	"github.com/proofofgood/engine/app/api/types"
	"github.com/proofofgood/engine/pkg/utils"
)

type Controller struct {
	App        *types.App
	AdminToken string
	AuthUser   string
	Users      map[string]types.User
	AuthHash   []byte
	JWTSecret  []byte
}

// NewController returns a new controller.
func NewController(app *types.App) *Controller {
	adminToken := utils.Env("ADMIN_TOKEN", "devtoken")
	adminUser := utils.Env("ADMIN_USER", "admin")
	adminUsersJSON := utils.Env("ADMIN_USERS", "")
	adminPass := utils.Env("ADMIN_PASSWORD", "admin")
	jwtSecret := []byte(utils.Env("SESSION_SECRET", "change-me-please"))

	phash, _ := utils.HashOrRead(adminPass)
	users := map[string]types.User{}
	users[adminUser] = types.User{Username: adminUser, Hash: phash, Role: "admin"}
	if adminUsersJSON != "" {
		_ = json.Unmarshal([]byte(adminUsersJSON), &users)
	}

	return &Controller{
		App:        app,
		AdminToken: adminToken,
		AuthUser:   adminUser,
		Users:      users,
		AuthHash:   phash,
		JWTSecret:  jwtSecret,
	}
}

// WithCORS is a middleware that adds CORS headers to the response.
func WithCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")

		// Development: Echo back the origin to allow credentials with any origin
		// TODO: Restrict this in production to specific domains
		if origin != "" {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Credentials", "true")
		} else {
			w.Header().Set("Access-Control-Allow-Origin", "*")
		}
		w.Header().Set("Vary", "Origin")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Allow-Methods", http.MethodGet+", "+http.MethodPost+", "+http.MethodPut+", "+http.MethodPatch+", "+http.MethodDelete+", "+http.MethodOptions)

		// Fast-path the preflight
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// NewRouter returns a new router with all the routes defined in this file.
func (c *Controller) NewRouter() (*mux.Router, error) {
	r := mux.NewRouter()

	r.Handle("/health", http.HandlerFunc(c.HandleHealth)).Methods(http.MethodGet)

	// Admin console sessions (role management only; challenge operations
	// authenticate through caller addresses checked by the engine).
	r.HandleFunc("/api/auth/login", c.HandleAdminLogin).Methods(http.MethodPost)
	r.HandleFunc("/api/auth/logout", c.HandleAdminLogout).Methods(http.MethodPost)

	// Challenge lifecycle
	r.HandleFunc("/challenges", c.HandleCreateChallenge).Methods(http.MethodPost)
	r.HandleFunc("/challenges", c.HandleListChallenges).Methods(http.MethodGet)
	r.HandleFunc("/challenges/due", c.HandleDueChallenges).Methods(http.MethodGet)
	r.HandleFunc("/challenges/{id}", c.HandleGetChallenge).Methods(http.MethodGet)
	r.HandleFunc("/challenges/{id}/activate", c.HandleActivateChallenge).Methods(http.MethodPost)
	r.HandleFunc("/challenges/{id}/cancel", c.HandleCancelChallenge).Methods(http.MethodPost)

	// Participation and verification
	r.HandleFunc("/challenges/{id}/join", c.HandleJoin).Methods(http.MethodPost)
	r.HandleFunc("/challenges/{id}/proof", c.HandleSubmitProof).Methods(http.MethodPost)
	r.HandleFunc("/challenges/{id}/participants", c.HandleListParticipants).Methods(http.MethodGet)
	r.HandleFunc("/challenges/{id}/votes", c.HandleCastVote).Methods(http.MethodPost)
	r.HandleFunc("/challenges/{id}/participants/{participant}/votes", c.HandleListVotes).Methods(http.MethodGet)

	// Settlement
	r.HandleFunc("/challenges/{id}/finalize", c.HandleFinalize).Methods(http.MethodPost)
	r.HandleFunc("/challenges/{id}/participants/{participant}/settlement", c.HandleGetSettlement).Methods(http.MethodGet)
	r.HandleFunc("/challenges/{id}/escrow", c.HandleGetEscrow).Methods(http.MethodGet)
	r.HandleFunc("/challenges/{id}/summary", c.HandleGetSummary).Methods(http.MethodGet)
	r.HandleFunc("/challenges/{id}/events", c.HandleChallengeEvents).Methods(http.MethodGet)

	// Analytics (503 when ClickHouse is disabled)
	r.HandleFunc("/leaderboard", c.HandleLeaderboard).Methods(http.MethodGet)
	r.HandleFunc("/activity", c.HandleActivity).Methods(http.MethodGet)
	r.HandleFunc("/participants/{participant}/history", c.HandleParticipantHistory).Methods(http.MethodGet)

	// Role administration
	r.Handle("/api/roles", c.RequireAdmin(http.HandlerFunc(c.HandleGrantRole))).Methods(http.MethodPost)
	r.Handle("/api/roles", c.RequireAdmin(http.HandlerFunc(c.HandleRevokeRole))).Methods(http.MethodDelete)
	r.HandleFunc("/api/roles/{role}/{target}", c.HandleCheckRole).Methods(http.MethodGet)

	// Real-time event feed
	r.HandleFunc("/ws", c.HandleWebSocket).Methods(http.MethodGet)

	return r, nil
}
