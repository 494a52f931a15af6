package model

import (
	"time"

	"github.com/google/uuid"
)

// EventImageReplaced is emitted after a full update swaps a work item's image.
const EventImageReplaced = "image.replaced"

// ImageReplaced tells the cleanup consumer which stored object became orphaned.
type ImageReplaced struct {
	ID         uuid.UUID `json:"id"`
	Type       string    `json:"type"`
	WorkItemID int64     `json:"work_item_id"`
	Previous   ImageRef  `json:"previous"`
	Current    ImageRef  `json:"current"`
	OccurredAt time.Time `json:"occurred_at"`
}
