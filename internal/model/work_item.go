package model

import "time"

// Status is the canonical lifecycle state of a work item.
type Status string

const (
	StatusPending    Status = "PENDING"
	StatusInProgress Status = "IN_PROGRESS"
	StatusDone       Status = "DONE"
)

// Valid reports whether s is one of the canonical statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusInProgress, StatusDone:
		return true
	}
	return false
}

// WorkItem is a garment-alteration order as persisted.
type WorkItem struct {
	ID           int64     `json:"id"`
	BillNumber   string    `json:"billNumber"`
	TailorName   string    `json:"tailorName"`
	ItemName     string    `json:"itemName"`
	DateAssigned *string   `json:"dateAssigned"` // YYYY-MM-DD
	DateDelivery *string   `json:"dateDelivery"` // YYYY-MM-DD
	TimeDelivery *string   `json:"timeDelivery"` // HH:MM:SS
	Status       Status    `json:"status"`
	Packed       bool      `json:"packed"`
	ImageRef     *ImageRef `json:"imageRef"`
	Notes        *string   `json:"notes"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// Patch describes a partial write to a work item. Nil fields are left untouched.
// A non-nil pointer to nil (for the nullable columns) clears the column.
type Patch struct {
	BillNumber   *string
	TailorName   *string
	ItemName     *string
	DateAssigned **string
	DateDelivery **string
	TimeDelivery **string
	Status       *Status
	Packed       *bool
	ImageRef     *ImageRef
	Notes        **string
}

// ListOrder is the documented sort key for listing work items.
type ListOrder string

const (
	// OrderIDDesc sorts newest id first. It is the default.
	OrderIDDesc ListOrder = "id"
	// OrderCreatedDesc sorts by creation time, newest first, ties broken by id.
	OrderCreatedDesc ListOrder = "created_at"
)

// ParseListOrder maps a query value onto a ListOrder, falling back to OrderIDDesc.
func ParseListOrder(s string) ListOrder {
	if ListOrder(s) == OrderCreatedDesc {
		return OrderCreatedDesc
	}
	return OrderIDDesc
}

// ListFilter narrows a listing. Zero values mean "no filter".
type ListFilter struct {
	Bill         string
	Tailor       string
	Status       Status
	Packed       *bool
	DateDelivery string
}
