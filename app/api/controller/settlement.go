package controller

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/proofofgood/engine/pkg/utils"
)

// HandleFinalize runs one bounded settlement step. Finalize is
// permissionless and idempotent, so the settler retries it freely until
// done is reported.
func (c *Controller) HandleFinalize(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var in struct {
		Caller   string `json:"caller"`
		MaxBatch int    `json:"maxBatch"`
	}
	if !c.decodeBody(w, r, &in) {
		return
	}
	if in.Caller == "" {
		in.Caller = "api"
	}

	res, err := c.App.Engine.Finalize(r.Context(), id, in.Caller, in.MaxBatch)
	if err != nil {
		c.writeError(w, err)
		return
	}
	c.writeJSON(w, http.StatusOK, res)
}

// HandleDueChallenges lists challenges whose vote window has closed and
// which still need finalize work. The settler polls this.
func (c *Controller) HandleDueChallenges(w http.ResponseWriter, r *http.Request) {
	now := c.App.Engine.Now()
	due := c.App.Engine.DueChallenges(now)
	c.writeJSON(w, http.StatusOK, map[string]any{"due": due, "asOf": now})
}

func (c *Controller) HandleGetSettlement(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	rec, err := c.App.Engine.GetSettlement(vars["id"], vars["participant"])
	if err != nil {
		c.writeError(w, err)
		return
	}
	c.writeJSON(w, http.StatusOK, rec)
}

func (c *Controller) HandleGetEscrow(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	account, err := c.App.Engine.GetEscrow(id)
	if err != nil {
		c.writeError(w, err)
		return
	}

	// Optionally cross-check against the persisted view.
	if c.App.LedgerDB != nil && utils.EnvBool("ESCROW_CROSSCHECK", false) {
		if row, rowErr := c.App.LedgerDB.EscrowRow(r.Context(), id); rowErr == nil && row != account {
			c.App.Logger.Warn("escrow view mismatch between memory and ledger")
		}
	}

	c.writeJSON(w, http.StatusOK, account)
}

func (c *Controller) HandleGetSummary(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	summary, err := c.App.Engine.GetChallengeSummary(id)
	if err != nil {
		c.writeError(w, err)
		return
	}
	c.writeJSON(w, http.StatusOK, summary)
}
