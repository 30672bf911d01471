package controller

import (
	"net/http"

	"github.com/gorilla/mux"
)

type roleRequest struct {
	Role   string `json:"role"`
	Target string `json:"target"`
	Caller string `json:"caller"`
}

func (c *Controller) HandleGrantRole(w http.ResponseWriter, r *http.Request) {
	var in roleRequest
	if !c.decodeBody(w, r, &in) {
		return
	}
	if err := c.App.Engine.GrantRole(r.Context(), in.Role, in.Target, in.Caller); err != nil {
		c.writeError(w, err)
		return
	}
	c.writeJSON(w, http.StatusOK, map[string]any{"role": in.Role, "target": in.Target, "granted": true})
}

func (c *Controller) HandleRevokeRole(w http.ResponseWriter, r *http.Request) {
	var in roleRequest
	if !c.decodeBody(w, r, &in) {
		return
	}
	if err := c.App.Engine.RevokeRole(r.Context(), in.Role, in.Target, in.Caller); err != nil {
		c.writeError(w, err)
		return
	}
	c.writeJSON(w, http.StatusOK, map[string]any{"role": in.Role, "target": in.Target, "granted": false})
}

func (c *Controller) HandleCheckRole(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	c.writeJSON(w, http.StatusOK, map[string]any{
		"role":    vars["role"],
		"target":  vars["target"],
		"granted": c.App.Engine.HasRole(vars["role"], vars["target"]),
	})
}
