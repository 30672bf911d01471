package types

// FinalizeInput is the input to the finalize workflow and its step activity.
type FinalizeInput struct {
	ChallengeID string `json:"challengeId"`
	MaxBatch    int    `json:"maxBatch"`
	Caller      string `json:"caller"`
}

// FinalizeStepOutput mirrors one finalize step as reported by the API.
type FinalizeStepOutput struct {
	Settled int  `json:"settled"`
	Cursor  int  `json:"cursor"`
	Done    bool `json:"done"`
}

// FinalizeOutput is the terminal result of a finalize workflow run.
type FinalizeOutput struct {
	ChallengeID string `json:"challengeId"`
	Steps       int    `json:"steps"`
	Settled     int    `json:"settled"`
	Done        bool   `json:"done"`
}

// DueScanOutput summarizes one scan over due challenges.
type DueScanOutput struct {
	Due        int     `json:"due"`
	Scheduled  int     `json:"scheduled"`
	Failed     int     `json:"failed"`
	DurationMs float64 `json:"duration_ms"`
}
