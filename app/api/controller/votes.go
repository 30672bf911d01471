package controller

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/proofofgood/engine/pkg/engine"
	"github.com/proofofgood/engine/pkg/model"
)

func (c *Controller) HandleCastVote(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var in struct {
		Participant string `json:"participant"`
		Verifier    string `json:"verifier"`
		Decision    string `json:"decision"`
	}
	if !c.decodeBody(w, r, &in) {
		return
	}

	decision, ok := model.ParseVoteDecision(in.Decision)
	if !ok {
		c.writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "decision must be approve or reject",
			"code":  engine.CodeInvalidParameter,
		})
		return
	}

	vote, err := c.App.Engine.CastVote(r.Context(), id, in.Participant, in.Verifier, decision)
	if err != nil {
		c.writeError(w, err)
		return
	}
	c.writeJSON(w, http.StatusCreated, vote)
}

func (c *Controller) HandleListVotes(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	votes, err := c.App.Engine.ListVotes(vars["id"], vars["participant"])
	if err != nil {
		c.writeError(w, err)
		return
	}
	c.writeJSON(w, http.StatusOK, map[string]any{"votes": votes})
}
