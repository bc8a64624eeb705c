package worker

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/leadgen/internal/crm"
	"github.com/sells-group/leadgen/internal/enrich"
	"github.com/sells-group/leadgen/internal/model"
	"github.com/sells-group/leadgen/internal/queue"
	"github.com/sells-group/leadgen/internal/scorer"
	"github.com/sells-group/leadgen/internal/store"
)

// EnrichStage consumes to_enrich and runs the provider waterfall.
type EnrichStage struct {
	Orchestrator *enrich.Orchestrator
}

func (s *EnrichStage) Topic() string { return queue.TopicEnrich }

func (s *EnrichStage) Process(ctx context.Context, companyID string) error {
	err := s.Orchestrator.EnrichCompany(ctx, companyID)
	if errors.Is(err, enrich.ErrDeferred) {
		// The claim was released; the reclaim loop republishes.
		return nil
	}
	// Terminal failures are already recorded on the company, so a
	// redelivery is a cheap skip; infra errors get the retry.
	return err
}

// ScoreStage consumes to_score, computes a score record, and hands the
// company to the sync stage.
type ScoreStage struct {
	Store  store.Store
	Scorer *scorer.Scorer
	Queue  queue.Queue
}

func (s *ScoreStage) Topic() string { return queue.TopicScore }

func (s *ScoreStage) Process(ctx context.Context, companyID string) error {
	company, err := s.Store.GetCompany(ctx, companyID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			zap.L().Warn("score: company vanished", zap.String("company_id", companyID))
			return nil
		}
		return err
	}
	if company.EnrichmentStatus != model.EnrichmentEnriched {
		// Stale delivery: the enrichment stage has not finished (or has
		// failed) since this message was published.
		zap.L().Debug("score: skipping company not enriched",
			zap.String("company_id", companyID),
			zap.String("status", string(company.EnrichmentStatus)),
		)
		return nil
	}

	contacts, err := s.Store.ListContacts(ctx, companyID)
	if err != nil {
		return err
	}

	record := s.Scorer.Score(company, contacts)
	if err := s.Store.InsertScore(ctx, &record); err != nil {
		return err
	}
	if err := s.Store.UpdateLeadScore(ctx, companyID, record.TotalScore); err != nil {
		return err
	}

	zap.L().Info("score: company scored",
		zap.String("company_id", companyID),
		zap.Int("score", record.TotalScore),
		zap.String("grade", record.Grade),
		zap.String("variant", record.Variant),
	)

	cid, err := uuid.Parse(companyID)
	if err != nil {
		return eris.Wrapf(err, "score: company id %q", companyID)
	}
	return s.Queue.Publish(ctx, queue.TopicSync, queue.NewMessage(cid))
}

// SyncStage consumes to_sync and pushes the company into the CRM.
type SyncStage struct {
	Store  store.Store
	Engine *crm.Engine
}

func (s *SyncStage) Topic() string { return queue.TopicSync }

func (s *SyncStage) Process(ctx context.Context, companyID string) error {
	if _, err := s.Store.LatestScore(ctx, companyID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			zap.L().Debug("sync: skipping company without score record",
				zap.String("company_id", companyID),
			)
			return nil
		}
		return err
	}
	return s.Engine.SyncCompany(ctx, companyID)
}
