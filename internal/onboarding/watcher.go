/**
 * @description
 * Completion watching for the checkout screen. The Watcher prefers a push
 * subscription to the profile event stream and degrades to polling when no
 * push source is available or the subscription drops. Its lifecycle is owned
 * by the caller: created when the checkout screen mounts, stopped exactly once
 * when it unmounts.
 *
 * The Poller is the fallback path on its own: bounded polling of the profile
 * after a checkout return, proceeding regardless of outcome once the ceiling
 * is reached.
 */
package onboarding

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/ampel/onboarding-service/internal/domain"
)

const (
	DefaultPollInterval = 1 * time.Second
	DefaultPollCeiling  = 30 * time.Second
)

// ProfileFetcher loads the current profile snapshot.
type ProfileFetcher func(ctx context.Context) (*domain.UserProfile, error)

// PushSource is a subscription to the profile event stream for one user.
// The returned channel is closed by the source when the subscription ends.
type PushSource interface {
	SubscribeProfileEvents(ctx context.Context, userID string) (<-chan domain.ProfileEvent, error)
}

// Poller polls a profile until onboarding completes or the ceiling elapses.
type Poller struct {
	Fetch    ProfileFetcher
	Interval time.Duration
	Ceiling  time.Duration
}

// WaitForCompletion polls at the configured interval and returns true as soon
// as the completion flag is observed. It returns false without error when the
// ceiling elapses first; the caller proceeds and lets route evaluation settle
// the final state. Transient fetch errors are tolerated between ticks.
func (p *Poller) WaitForCompletion(ctx context.Context) (bool, error) {
	interval := p.Interval
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	ceiling := p.Ceiling
	if ceiling <= 0 {
		ceiling = DefaultPollCeiling
	}

	deadline := time.NewTimer(ceiling)
	defer deadline.Stop()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		profile, err := p.Fetch(ctx)
		if err == nil && profile.OnboardingComplete() {
			return true, nil
		}

		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-deadline.C:
			return false, nil
		case <-ticker.C:
		}
	}
}

// Watcher delivers profile events for one user, push-first with a polling
// fallback. It is not restartable: one Start, one Stop.
type Watcher struct {
	userID   string
	push     PushSource
	fetch    ProfileFetcher
	interval time.Duration
	logger   *slog.Logger

	cancel   context.CancelFunc
	stopOnce sync.Once
	done     chan struct{}
}

// NewWatcher builds a watcher for userID. push may be nil, in which case the
// watcher polls from the start.
func NewWatcher(userID string, push PushSource, fetch ProfileFetcher, interval time.Duration, logger *slog.Logger) *Watcher {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &Watcher{
		userID:   userID,
		push:     push,
		fetch:    fetch,
		interval: interval,
		logger:   logger,
		done:     make(chan struct{}),
	}
}

// Start begins watching and returns the event channel. The channel is closed
// when the watcher stops or ctx is cancelled.
func (w *Watcher) Start(ctx context.Context) <-chan domain.ProfileEvent {
	ctx, w.cancel = context.WithCancel(ctx)
	out := make(chan domain.ProfileEvent, 8)

	go func() {
		defer close(out)
		defer close(w.done)

		if w.push != nil {
			events, err := w.push.SubscribeProfileEvents(ctx, w.userID)
			if err == nil {
				for {
					select {
					case <-ctx.Done():
						return
					case event, ok := <-events:
						if !ok {
							// Subscription dropped; fall back to polling.
							w.logger.Warn("profile event subscription closed, polling instead", "user_id", w.userID)
							w.pollLoop(ctx, out)
							return
						}
						select {
						case out <- event:
						case <-ctx.Done():
							return
						}
					}
				}
			}
			w.logger.Warn("profile event subscription unavailable, polling instead", "user_id", w.userID, "error", err)
		}
		w.pollLoop(ctx, out)
	}()

	return out
}

// Stop tears the watcher down. Safe to call more than once; blocks until the
// event channel is closed.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		if w.cancel != nil {
			w.cancel()
		}
	})
	<-w.done
}

// pollLoop synthesizes profile events by diffing successive snapshots.
func (w *Watcher) pollLoop(ctx context.Context, out chan<- domain.ProfileEvent) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	var last *domain.UserProfile
	for {
		profile, err := w.fetch(ctx)
		if err == nil {
			for _, event := range diffProfiles(last, profile) {
				select {
				case out <- event:
				case <-ctx.Done():
					return
				}
			}
			last = profile
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func diffProfiles(prev, next *domain.UserProfile) []domain.ProfileEvent {
	if next == nil {
		return nil
	}
	var events []domain.ProfileEvent
	now := time.Now().UTC()
	if prev != nil && prev.KYCStatus != next.KYCStatus {
		events = append(events, domain.ProfileEvent{
			Type:       domain.EventKYCStatusChanged,
			UserID:     next.ID,
			KYCStatus:  next.KYCStatus,
			OccurredAt: now,
		})
	}
	if prev != nil && prev.SubscriptionStatus != next.SubscriptionStatus {
		events = append(events, domain.ProfileEvent{
			Type:               domain.EventSubscriptionChanged,
			UserID:             next.ID,
			SubscriptionStatus: next.SubscriptionStatus,
			OccurredAt:         now,
		})
	}
	if (prev == nil || prev.OnboardingCompletedAt == nil) && next.OnboardingCompletedAt != nil {
		events = append(events, domain.ProfileEvent{
			Type:       domain.EventOnboardingCompleted,
			UserID:     next.ID,
			OccurredAt: now,
		})
	}
	return events
}
