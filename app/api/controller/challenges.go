package controller

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/proofofgood/engine/pkg/engine"
	"github.com/proofofgood/engine/pkg/model"
)

// createChallengeRequest is the wire shape for challenge creation.
// Amounts are base units; graceWindowSeconds of zero means the platform
// default.
type createChallengeRequest struct {
	Creator            string   `json:"creator"`
	Title              string   `json:"title"`
	Description        string   `json:"description"`
	Category           string   `json:"category"`
	MetadataRef        string   `json:"metadataRef"`
	Kind               string   `json:"kind"`
	StakeAmount        uint64   `json:"stakeAmount"`
	CreatorDeposit     uint64   `json:"creatorDeposit"`
	Deadline           time.Time `json:"deadline"`
	GraceWindowSeconds int64    `json:"graceWindowSeconds"`
	MaxParticipants    int      `json:"maxParticipants"`
	Verifiers          []string `json:"verifiers"`
	RequiresFollow     bool     `json:"requiresFollow"`
	MinFollowers       int      `json:"minFollowers"`

	// Optional policy overrides. Defaults come from the challenge kind.
	Policy *model.EconomicPolicy `json:"policy"`
}

func (c *Controller) HandleCreateChallenge(w http.ResponseWriter, r *http.Request) {
	var in createChallengeRequest
	if !c.decodeBody(w, r, &in) {
		return
	}

	kind, ok := model.ParseChallengeKind(in.Kind)
	if !ok {
		c.writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "unknown challenge kind: " + in.Kind,
			"code":  engine.CodeInvalidParameter,
		})
		return
	}

	ch, err := c.App.Engine.CreateChallenge(r.Context(), in.Creator, engine.CreateParams{
		Title:           in.Title,
		Description:     in.Description,
		Category:        in.Category,
		MetadataRef:     in.MetadataRef,
		Kind:            kind,
		StakeAmount:     in.StakeAmount,
		CreatorDeposit:  in.CreatorDeposit,
		Deadline:        in.Deadline,
		GraceWindow:     time.Duration(in.GraceWindowSeconds) * time.Second,
		MaxParticipants: in.MaxParticipants,
		Verifiers:       in.Verifiers,
		RequiresFollow:  in.RequiresFollow,
		MinFollowers:    in.MinFollowers,
		Policy:          in.Policy,
	})
	if err != nil {
		c.writeError(w, err)
		return
	}
	c.writeJSON(w, http.StatusCreated, ch)
}

func (c *Controller) HandleListChallenges(w http.ResponseWriter, r *http.Request) {
	challenges := c.App.Engine.ListChallenges()

	// Optional ?state= filter using the wire state names.
	if want := r.URL.Query().Get("state"); want != "" {
		filtered := challenges[:0]
		for _, ch := range challenges {
			if ch.State.String() == want {
				filtered = append(filtered, ch)
			}
		}
		challenges = filtered
	}

	c.writeJSON(w, http.StatusOK, map[string]any{"challenges": challenges})
}

func (c *Controller) HandleGetChallenge(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	ch, err := c.App.Engine.GetChallenge(id)
	if err != nil {
		c.writeError(w, err)
		return
	}
	c.writeJSON(w, http.StatusOK, ch)
}

func (c *Controller) HandleActivateChallenge(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var in struct {
		Caller string `json:"caller"`
	}
	if !c.decodeBody(w, r, &in) {
		return
	}

	ch, err := c.App.Engine.ActivateChallenge(r.Context(), id, in.Caller)
	if err != nil {
		c.writeError(w, err)
		return
	}
	c.writeJSON(w, http.StatusOK, ch)
}

func (c *Controller) HandleCancelChallenge(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var in struct {
		Caller string `json:"caller"`
	}
	if !c.decodeBody(w, r, &in) {
		return
	}

	ch, err := c.App.Engine.CancelChallenge(r.Context(), id, in.Caller)
	if err != nil {
		c.writeError(w, err)
		return
	}
	c.writeJSON(w, http.StatusOK, ch)
}

// HandleChallengeEvents returns the raw journal slice for a challenge, the
// audit view. Requires the postgres ledger.
func (c *Controller) HandleChallengeEvents(w http.ResponseWriter, r *http.Request) {
	if c.App.LedgerDB == nil {
		c.writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "ledger database not available"})
		return
	}
	id := mux.Vars(r)["id"]

	events, err := c.App.LedgerDB.EventsByChallenge(r.Context(), id, 0)
	if err != nil {
		c.writeError(w, err)
		return
	}
	c.writeJSON(w, http.StatusOK, map[string]any{"events": events})
}
