package activity

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/go-jose/go-jose/v4/json"

	"github.com/proofofgood/engine/app/settler/types"
	"github.com/proofofgood/engine/pkg/utils"
)

// APIClient talks to the engine API. The settler never touches the ledger
// directly: all settlement work goes through the same HTTP surface every
// other caller uses, so the engine's writer lock stays the single point of
// serialization.
type APIClient struct {
	baseURL string
	caller  string
	client  *http.Client
}

// StatusError is a non-2xx response from the engine API. The status code
// decides whether a retry can help.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("engine api: http %d: %s", e.Code, e.Body)
}

// Permanent reports whether retrying the same request is pointless.
func (e *StatusError) Permanent() bool {
	return e.Code >= 400 && e.Code < 500
}

// NewAPIClient builds a client against ENGINE_API_URL.
func NewAPIClient() *APIClient {
	return &APIClient{
		baseURL: utils.Env("ENGINE_API_URL", "http://localhost:3000"),
		caller:  utils.Env("SETTLER_ID", "settler"),
		client:  &http.Client{Timeout: utils.EnvDuration("ENGINE_API_TIMEOUT", 30*time.Second)},
	}
}

// DueChallenges returns the IDs of challenges ready for settlement.
func (c *APIClient) DueChallenges(ctx context.Context) ([]string, error) {
	var out struct {
		Due []string `json:"due"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/challenges/due", nil, &out); err != nil {
		return nil, err
	}
	return out.Due, nil
}

// FinalizeStep runs one bounded settlement batch for a challenge.
func (c *APIClient) FinalizeStep(ctx context.Context, challengeID string, maxBatch int) (types.FinalizeStepOutput, error) {
	var out types.FinalizeStepOutput
	path := fmt.Sprintf("/challenges/%s/finalize", url.PathEscape(challengeID))
	body := map[string]any{"caller": c.caller, "maxBatch": maxBatch}
	if err := c.doJSON(ctx, http.MethodPost, path, body, &out); err != nil {
		return types.FinalizeStepOutput{}, err
	}
	return out, nil
}

func (c *APIClient) doJSON(ctx context.Context, method, path string, payload any, out any) error {
	var body *bytes.Reader
	if payload != nil {
		b, mErr := json.Marshal(payload)
		if mErr != nil {
			return mErr
		}
		body = bytes.NewReader(b)
	} else {
		body = bytes.NewReader(nil)
	}

	req, reqErr := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if reqErr != nil {
		return reqErr
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}

	if resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		_ = utils.DrainAndClose(resp.Body)
		return &StatusError{Code: resp.StatusCode, Body: string(bytes.TrimSpace(snippet))}
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			_ = utils.DrainAndClose(resp.Body)
			return err
		}
	}

	return utils.DrainAndClose(resp.Body)
}
