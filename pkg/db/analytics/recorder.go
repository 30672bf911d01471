package analytics

import (
	"context"

	"go.uber.org/zap"

	"github.com/proofofgood/engine/pkg/model"
)

// Recorder streams committed events into ClickHouse. Failures are logged
// and swallowed; the ledger has already durably recorded the event.
type Recorder struct {
	DB     *DB
	Logger *zap.Logger
}

func NewRecorder(db *DB, logger *zap.Logger) *Recorder {
	return &Recorder{DB: db, Logger: logger}
}

func (r *Recorder) PublishEvent(ctx context.Context, ev model.Event) {
	if err := r.DB.InsertEvent(ctx, ev); err != nil {
		r.Logger.Warn("analytics event insert failed",
			zap.Uint64("seq", ev.Seq),
			zap.String("kind", string(ev.Kind)),
			zap.Error(err))
	}

	if ev.Kind != model.EventSettlementChunkApplied {
		return
	}
	payload, err := model.DecodePayload(ev)
	if err != nil {
		r.Logger.Warn("analytics payload decode failed", zap.Uint64("seq", ev.Seq), zap.Error(err))
		return
	}
	chunk, ok := payload.(*model.SettlementChunkAppliedPayload)
	if !ok || len(chunk.Records) == 0 {
		return
	}
	if err := r.DB.InsertOutcomes(ctx, chunk.Records); err != nil {
		r.Logger.Warn("analytics outcomes insert failed",
			zap.String("challenge_id", ev.ChallengeID),
			zap.Error(err))
	}
}
