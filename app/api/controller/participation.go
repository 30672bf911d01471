package controller

import (
	"net/http"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/proofofgood/engine/pkg/engine"
)

func (c *Controller) HandleJoin(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var in struct {
		Participant string `json:"participant"`
		Stake       uint64 `json:"stake"`
	}
	if !c.decodeBody(w, r, &in) {
		return
	}

	part, err := c.App.Engine.Join(r.Context(), id, in.Participant, in.Stake)
	if err != nil {
		c.writeError(w, err)
		return
	}
	c.writeJSON(w, http.StatusCreated, part)
}

func (c *Controller) HandleSubmitProof(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var in struct {
		Participant string `json:"participant"`
		EvidenceRef string `json:"evidenceRef"`
		Note        string `json:"note"`
	}
	if !c.decodeBody(w, r, &in) {
		return
	}

	// Confirm the reference resolves before it enters the ledger. The
	// engine treats references as opaque; retrievability is checked here.
	if in.EvidenceRef != "" {
		if _, err := c.App.Evidence.Check(r.Context(), in.EvidenceRef); err != nil {
			c.App.Logger.Debug("Evidence check failed",
				zap.String("ref", in.EvidenceRef),
				zap.Error(err))
			c.writeJSON(w, http.StatusBadGateway, map[string]string{
				"error": "evidence reference could not be resolved",
				"code":  engine.CodeExternalDependency,
			})
			return
		}
	}

	part, err := c.App.Engine.SubmitProof(r.Context(), id, in.Participant, in.EvidenceRef, in.Note)
	if err != nil {
		c.writeError(w, err)
		return
	}
	c.writeJSON(w, http.StatusOK, part)
}

func (c *Controller) HandleListParticipants(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	parts, err := c.App.Engine.ListParticipants(id)
	if err != nil {
		c.writeError(w, err)
		return
	}
	c.writeJSON(w, http.StatusOK, map[string]any{"participants": parts})
}
