package image

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/segmentio/kafka-go"
	"github.com/wb-go/wbf/zlog"

	"github.com/aliskhannn/alteration-tracker/internal/model"
)

// deleter defines the interface for removing stored objects.
type deleter interface {
	Delete(ctx context.Context, key string) error
}

// references defines the interface for checking whether an object is still
// attached to a work item.
type references interface {
	ImageInUse(ctx context.Context, publicID string) (bool, error)
}

// ReplacedHandler deletes the object a work item stopped referencing, unless
// another work item still points at it.
type ReplacedHandler struct {
	storage deleter
	refs    references
}

// NewReplacedHandler creates a new handler with the given storage and
// reference lookup.
func NewReplacedHandler(s deleter, refs references) *ReplacedHandler {
	return &ReplacedHandler{storage: s, refs: refs}
}

// Handle processes one image.replaced message. Messages of any other type
// and events without a previous object are acknowledged and skipped.
func (h *ReplacedHandler) Handle(ctx context.Context, msg kafka.Message) error {
	var evt model.ImageReplaced
	if err := json.Unmarshal(msg.Value, &evt); err != nil {
		return fmt.Errorf("unmarshal event: %w", err)
	}

	if evt.Type != model.EventImageReplaced || evt.Previous.PublicID == "" {
		zlog.Logger.Warn().Str("type", evt.Type).Msg("skipping event")
		return nil
	}

	if evt.Previous.PublicID == evt.Current.PublicID {
		return nil
	}

	inUse, err := h.refs.ImageInUse(ctx, evt.Previous.PublicID)
	if err != nil {
		return fmt.Errorf("check image references: %w", err)
	}
	if inUse {
		zlog.Logger.Info().
			Int64("work_item_id", evt.WorkItemID).
			Str("public_id", evt.Previous.PublicID).
			Msg("replaced image still referenced, keeping it")
		return nil
	}

	if err := h.storage.Delete(ctx, evt.Previous.PublicID); err != nil {
		return fmt.Errorf("delete previous image: %w", err)
	}

	zlog.Logger.Info().
		Int64("work_item_id", evt.WorkItemID).
		Str("public_id", evt.Previous.PublicID).
		Msg("orphaned image deleted")

	return nil
}
