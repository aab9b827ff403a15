package persist

import (
	"github.com/xhj721521/teamchat/internal/chat"
	"go.uber.org/zap"
)

// Checkpointer moves conversation state between the in-memory store and the
// snapshot storage. Checkpoints are explicit, invoked at lifecycle
// boundaries (daemon stop, host app backgrounding) rather than on every
// mutation.
type Checkpointer struct {
	store  *chat.Store
	snaps  Snapshots
	logger *zap.Logger
}

// NewCheckpointer creates a checkpointer over the given storage port.
func NewCheckpointer(store *chat.Store, snaps Snapshots, logger *zap.Logger) *Checkpointer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Checkpointer{store: store, snaps: snaps, logger: logger}
}

// CheckpointAll saves a snapshot of every team currently in the store.
// Failures are logged per team; the first error is returned after all teams
// were attempted.
func (c *Checkpointer) CheckpointAll() error {
	var firstErr error
	for _, teamID := range c.store.TeamIDs() {
		st, ok := c.store.Team(teamID)
		if !ok {
			continue
		}
		if err := c.snaps.SaveTeam(st); err != nil {
			c.logger.Error("checkpoint failed", zap.String("team_id", teamID), zap.Error(err))
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		c.logger.Info("team checkpointed",
			zap.String("team_id", teamID),
			zap.Int("messages", len(st.Messages)))
	}
	return firstErr
}

// Restore loads every saved snapshot into the store and returns how many
// teams were restored.
func (c *Checkpointer) Restore() (int, error) {
	states, err := c.snaps.LoadAll()
	if err != nil {
		return 0, err
	}
	for _, st := range states {
		c.store.Restore(st)
	}
	return len(states), nil
}

// Forget drops the saved snapshot for a team that was reset.
func (c *Checkpointer) Forget(teamID string) error {
	return c.snaps.DeleteTeam(teamID)
}
