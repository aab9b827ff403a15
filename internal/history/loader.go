// Package history drives paginated history loading for team conversations:
// the first-page bootstrap and backward "load older" fetches.
package history

import (
	"context"
	"fmt"
	"sync"

	"github.com/xhj721521/teamchat/internal/chat"
	"github.com/xhj721521/teamchat/internal/gateway"
	"go.uber.org/zap"
)

// Loader fetches history pages and feeds them into the store. At most one
// backward fetch is in flight per team; concurrent calls are no-ops. A fetch
// error leaves the team's pagination boundary untouched so the UI can simply
// re-offer "load more".
type Loader struct {
	store   *chat.Store
	fetcher gateway.HistoryFetcher
	logger  *zap.Logger

	bootstrapLimit int
	olderLimit     int

	mu       sync.Mutex
	inflight map[string]bool
}

// NewLoader creates a loader. Limits below 1 fall back to defaults.
func NewLoader(store *chat.Store, fetcher gateway.HistoryFetcher, logger *zap.Logger, bootstrapLimit, olderLimit int) *Loader {
	if logger == nil {
		logger = zap.NewNop()
	}
	if bootstrapLimit <= 0 {
		bootstrapLimit = 24
	}
	if olderLimit <= 0 {
		olderLimit = 20
	}
	return &Loader{
		store:          store,
		fetcher:        fetcher,
		logger:         logger,
		bootstrapLimit: bootstrapLimit,
		olderLimit:     olderLimit,
		inflight:       make(map[string]bool),
	}
}

// Bootstrap loads the first history page and initializes the team's log.
// Re-entering a conversation re-bootstraps, which reopens backward pagination
// without disturbing the read position.
func (l *Loader) Bootstrap(ctx context.Context, teamID string) error {
	if !l.acquire(teamID) {
		return nil
	}
	defer l.release(teamID)

	gen := l.store.Generation(teamID)
	page, err := l.fetcher.FetchHistory(ctx, teamID, gateway.Query{Limit: l.bootstrapLimit})
	if err != nil {
		return fmt.Errorf("bootstrap %s: %w", teamID, err)
	}
	if l.store.Generation(teamID) != gen {
		l.logger.Info("discarding stale bootstrap response", zap.String("team_id", teamID))
		return nil
	}

	l.store.Bootstrap(teamID, chat.Page{
		Messages:      page.Items,
		HasMoreBefore: page.NextBefore != 0,
		BeforeCursor:  page.NextBefore,
	})
	return nil
}

// LoadOlder fetches the next older page using the team's backward cursor and
// prepends it. No-op when the team was never bootstrapped, when backward
// pagination is closed, or when a fetch is already pending for the team.
func (l *Loader) LoadOlder(ctx context.Context, teamID string) error {
	st, ok := l.store.Team(teamID)
	if !ok || !st.HasMoreBefore {
		return nil
	}
	if !l.acquire(teamID) {
		return nil
	}
	defer l.release(teamID)

	gen := l.store.Generation(teamID)
	page, err := l.fetcher.FetchHistory(ctx, teamID, gateway.Query{
		Before: st.BeforeCursor,
		Limit:  l.olderLimit,
	})
	if err != nil {
		return fmt.Errorf("load older %s: %w", teamID, err)
	}
	if l.store.Generation(teamID) != gen {
		l.logger.Info("discarding stale history page", zap.String("team_id", teamID))
		return nil
	}

	l.store.AddOlderMessages(teamID, chat.Page{
		Messages:      page.Items,
		HasMoreBefore: page.NextBefore != 0,
		BeforeCursor:  page.NextBefore,
	})
	return nil
}

func (l *Loader) acquire(teamID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.inflight[teamID] {
		return false
	}
	l.inflight[teamID] = true
	return true
}

func (l *Loader) release(teamID string) {
	l.mu.Lock()
	delete(l.inflight, teamID)
	l.mu.Unlock()
}
