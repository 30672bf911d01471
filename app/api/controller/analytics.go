package controller

import (
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

func (c *Controller) requireAnalytics(w http.ResponseWriter) bool {
	if c.App.AnalyticsDB == nil {
		c.writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "analytics store not configured"})
		return false
	}
	return true
}

func queryInt(r *http.Request, key string, def int) int {
	if raw := r.URL.Query().Get(key); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil && v > 0 {
			return v
		}
	}
	return def
}

func (c *Controller) HandleLeaderboard(w http.ResponseWriter, r *http.Request) {
	if !c.requireAnalytics(w) {
		return
	}
	rows, err := c.App.AnalyticsDB.Leaderboard(r.Context(), queryInt(r, "limit", 50))
	if err != nil {
		c.App.Logger.Error("leaderboard query failed", zap.Error(err))
		c.writeJSON(w, http.StatusBadGateway, map[string]string{"error": "analytics query failed"})
		return
	}
	c.writeJSON(w, http.StatusOK, map[string]any{"leaderboard": rows})
}

func (c *Controller) HandleActivity(w http.ResponseWriter, r *http.Request) {
	if !c.requireAnalytics(w) {
		return
	}
	rows, err := c.App.AnalyticsDB.Activity(r.Context(), queryInt(r, "days", 30))
	if err != nil {
		c.App.Logger.Error("activity query failed", zap.Error(err))
		c.writeJSON(w, http.StatusBadGateway, map[string]string{"error": "analytics query failed"})
		return
	}
	c.writeJSON(w, http.StatusOK, map[string]any{"activity": rows})
}

func (c *Controller) HandleParticipantHistory(w http.ResponseWriter, r *http.Request) {
	if !c.requireAnalytics(w) {
		return
	}
	participant := mux.Vars(r)["participant"]
	rows, err := c.App.AnalyticsDB.ParticipantHistory(r.Context(), participant, queryInt(r, "limit", 100))
	if err != nil {
		c.App.Logger.Error("participant history query failed", zap.Error(err))
		c.writeJSON(w, http.StatusBadGateway, map[string]string{"error": "analytics query failed"})
		return
	}
	c.writeJSON(w, http.StatusOK, map[string]any{"participant": participant, "history": rows})
}
