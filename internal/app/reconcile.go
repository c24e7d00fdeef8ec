/**
 * @description
 * Grant reconciliation job. No distributed transaction spans the completion
 * update and the ledger inserts, so a grant can fail after the completion
 * flag has committed. This job sweeps for users marked onboarding-complete
 * whose ledger is missing the tier subscription grant and repairs them.
 */
package app

import (
	"context"
	"time"
)

const reconcileBatchSize = 100

// ReconcileMissingGrants repairs profiles that completed onboarding without
// receiving their subscription grant. Safe to run repeatedly: the sweep query
// only returns users with no subscription-type ledger entry.
func (s *Service) ReconcileMissingGrants(ctx context.Context) {
	profiles, err := s.repo.ProfilesMissingSubscriptionGrant(ctx, reconcileBatchSize)
	if err != nil {
		s.logger.Error("grant reconciliation sweep failed", "error", err)
		return
	}
	if len(profiles) == 0 {
		return
	}

	s.logger.Info("reconciling under-credited profiles", "count", len(profiles))

	repaired := 0
	for _, profile := range profiles {
		if ctx.Err() != nil {
			return
		}
		if profile.SelectedTier == "" {
			s.logger.Warn("completed profile has no selected tier, cannot reconcile", "user_id", profile.ID)
			continue
		}
		if err := s.grantSubscriptionShares(ctx, profile.ID, profile.SelectedTier, "", true); err != nil {
			s.logger.Error("reconciliation grant failed", "user_id", profile.ID, "tier", profile.SelectedTier, "error", err)
			continue
		}
		repaired++
	}

	s.logger.Info("grant reconciliation finished", "repaired", repaired)
}

// RunReconcileJob is the cron entrypoint.
func (s *Service) RunReconcileJob() {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()
	s.ReconcileMissingGrants(ctx)
}
