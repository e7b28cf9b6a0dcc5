// Package spacemessage persists the chronological message list of a
// space: ordinary posted messages plus the single per-tool-call message
// the Stream Processor (C5) renders and updates through a visible tool
// call's lifecycle.
package spacemessage

import (
	"context"

	"github.com/lucentgrid/meridian/pkg/models"
)

// Store is the persistence contract for space messages.
type Store interface {
	// Insert assigns the next Seq for msg.SmartSpaceID and persists it.
	Insert(ctx context.Context, msg *models.SpaceMessage) error

	// FindByToolCall returns the SpaceMessage rendering (runID, callID),
	// or nil if that tool call never rendered one.
	FindByToolCall(ctx context.Context, runID, callID string) (*models.SpaceMessage, error)

	// UpdateStatus transitions an existing message's status and content.
	UpdateStatus(ctx context.Context, id string, status models.SpaceMessageStatus, content string) (*models.SpaceMessage, error)

	// RecentMessages returns up to limit of the most recently inserted
	// messages for smartSpaceID, oldest first, for the inbox event's
	// recentContext field (spec §4.4 "Event shape").
	RecentMessages(ctx context.Context, smartSpaceID string, limit int) ([]*models.SpaceMessage, error)
}

// CompleteToolCallMessage transitions the SpaceMessage rendering
// (runID, callID) to complete and returns it, or (nil, nil) if that
// tool call never rendered one. It implements
// asynctool.SpaceMessageCompleter.
func CompleteToolCallMessage(ctx context.Context, store Store, runID, callID string) (*models.SpaceMessage, error) {
	msg, err := store.FindByToolCall(ctx, runID, callID)
	if err != nil {
		return nil, err
	}
	if msg == nil {
		return nil, nil
	}
	return store.UpdateStatus(ctx, msg.ID, models.SpaceMessageComplete, msg.Content)
}

// Completer adapts a Store into the asynctool.SpaceMessageCompleter
// interface.
type Completer struct {
	Store Store
}

func (c Completer) CompleteToolCallMessage(ctx context.Context, runID, callID string) (*models.SpaceMessage, error) {
	return CompleteToolCallMessage(ctx, c.Store, runID, callID)
}
