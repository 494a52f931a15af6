package workitem

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/wb-go/wbf/ginext"

	"github.com/aliskhannn/alteration-tracker/internal/api/respond"
	"github.com/aliskhannn/alteration-tracker/internal/errs"
	"github.com/aliskhannn/alteration-tracker/internal/model"
	"github.com/aliskhannn/alteration-tracker/internal/service/workitem"
	"github.com/aliskhannn/alteration-tracker/internal/status"
)

// service defines the interface for work item operations.
type service interface {
	Create(ctx context.Context, f workitem.Fields) (*model.WorkItem, error)
	Get(ctx context.Context, id int64) (*model.WorkItem, error)
	Update(ctx context.Context, id int64, f workitem.Fields) (*model.WorkItem, error)
	UpdateStatus(ctx context.Context, id int64, rawStatus string, rawPacked any) (*model.WorkItem, error)
	List(ctx context.Context, order model.ListOrder, filter model.ListFilter) ([]model.WorkItem, error)
}

// Handler provides HTTP handlers for work item endpoints.
type Handler struct {
	service     service
	maxBodySize int64
}

// NewHandler creates a new Handler. JSON bodies larger than maxBodySize are
// rejected with 413 before they are decoded.
func NewHandler(s service, maxBodySize int64) *Handler {
	return &Handler{service: s, maxBodySize: maxBodySize}
}

// Request is the body of a create or full update.
// ImageRef is accepted for clients that send back a record they read: it may
// be a URL string or an {imageUrl, publicId} object.
type Request struct {
	BillNumber   string          `json:"billNumber"`
	TailorName   string          `json:"tailorName"`
	ItemName     string          `json:"itemName"`
	DateAssigned *string         `json:"dateAssigned"`
	DateDelivery *string         `json:"dateDelivery"`
	TimeDelivery *string         `json:"timeDelivery"`
	Status       any             `json:"status"`
	Packed       any             `json:"packed"`
	ImageURL     string          `json:"imageUrl"`
	PublicID     string          `json:"publicId"`
	ImageRef     json.RawMessage `json:"imageRef"`
	Notes        *string         `json:"notes"`
}

// StatusRequest is the body of a status-only update.
type StatusRequest struct {
	Status any `json:"status"`
	Packed any `json:"packed"`
}

// List handles GET /work-items.
func (h *Handler) List(c *ginext.Context) {
	order := model.ParseListOrder(c.Query("order"))
	filter := filtersFromQuery(c)

	items, err := h.service.List(c.Request.Context(), order, filter)
	if err != nil {
		respond.FromError(c, err)
		return
	}

	respond.OK(c, items)
}

// Get handles GET /work-items/:id.
func (h *Handler) Get(c *ginext.Context) {
	id, err := parseID(c)
	if err != nil {
		respond.FromError(c, err)
		return
	}

	item, err := h.service.Get(c.Request.Context(), id)
	if err != nil {
		respond.FromError(c, err)
		return
	}

	respond.OK(c, item)
}

// Create handles POST /work-items.
func (h *Handler) Create(c *ginext.Context) {
	var req Request
	if err := h.bind(c, &req); err != nil {
		respond.FromError(c, err)
		return
	}

	fields, err := req.fields()
	if err != nil {
		respond.FromError(c, err)
		return
	}

	item, err := h.service.Create(c.Request.Context(), fields)
	if err != nil {
		respond.FromError(c, err)
		return
	}

	respond.Created(c, item)
}

// Update handles PUT /work-items/:id.
func (h *Handler) Update(c *ginext.Context) {
	id, err := parseID(c)
	if err != nil {
		respond.FromError(c, err)
		return
	}

	var req Request
	if err := h.bind(c, &req); err != nil {
		respond.FromError(c, err)
		return
	}

	fields, err := req.fields()
	if err != nil {
		respond.FromError(c, err)
		return
	}

	item, err := h.service.Update(c.Request.Context(), id, fields)
	if err != nil {
		respond.FromError(c, err)
		return
	}

	respond.OK(c, item)
}

// UpdateStatus handles PATCH /work-items/:id/status.
func (h *Handler) UpdateStatus(c *ginext.Context) {
	id, err := parseID(c)
	if err != nil {
		respond.FromError(c, err)
		return
	}

	var req StatusRequest
	if err := h.bind(c, &req); err != nil {
		respond.FromError(c, err)
		return
	}

	item, err := h.service.UpdateStatus(c.Request.Context(), id, status.Text(req.Status), req.Packed)
	if err != nil {
		respond.FromError(c, err)
		return
	}

	respond.OK(c, item)
}

// bind decodes the JSON body into dst, enforcing the body size cap. An empty
// body leaves dst at its zero value.
func (h *Handler) bind(c *ginext.Context, dst any) error {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxBodySize)

	if err := c.ShouldBindJSON(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return fmt.Errorf("%w: request body exceeds %d bytes", errs.ErrPayloadTooLarge, tooLarge.Limit)
		}
		return fmt.Errorf("%w: invalid JSON body: %v", errs.ErrValidation, err)
	}

	return nil
}

// fields converts the request into service input, folding the legacy
// imageRef field into imageUrl/publicId when those are blank.
func (r Request) fields() (workitem.Fields, error) {
	f := workitem.Fields{
		BillNumber:   r.BillNumber,
		TailorName:   r.TailorName,
		ItemName:     r.ItemName,
		DateAssigned: r.DateAssigned,
		DateDelivery: r.DateDelivery,
		TimeDelivery: r.TimeDelivery,
		Status:       status.Text(r.Status),
		Packed:       r.Packed,
		ImageURL:     r.ImageURL,
		PublicID:     r.PublicID,
		Notes:        r.Notes,
	}

	raw := bytes.TrimSpace(r.ImageRef)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return f, nil
	}

	var ref model.ImageRef
	switch raw[0] {
	case '"':
		if err := json.Unmarshal(raw, &ref.URL); err != nil {
			return f, fmt.Errorf("%w: imageRef: %v", errs.ErrValidation, err)
		}
	case '{':
		if err := json.Unmarshal(raw, &ref); err != nil {
			return f, fmt.Errorf("%w: imageRef: %v", errs.ErrValidation, err)
		}
	default:
		return f, fmt.Errorf("%w: imageRef must be a string or an object", errs.ErrValidation)
	}

	if f.ImageURL == "" {
		f.ImageURL = ref.URL
	}
	if f.PublicID == "" {
		f.PublicID = ref.PublicID
	}

	return f, nil
}

// parseID reads the :id path parameter. An id that cannot name a stored
// work item is answered like an unknown one, with its own message.
func parseID(c *ginext.Context) (int64, error) {
	raw := c.Param("id")

	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: %q is not a positive integer", errs.ErrMalformedID, raw)
	}

	return id, nil
}

// filtersFromQuery extracts list filters from the query string. Values that
// do not parse are ignored.
func filtersFromQuery(c *ginext.Context) model.ListFilter {
	f := model.ListFilter{
		Bill:   c.Query("bill"),
		Tailor: c.Query("tailor"),
	}

	if s := model.Status(strings.ToUpper(strings.TrimSpace(c.Query("status")))); s.Valid() {
		f.Status = s
	}

	switch c.Query("packed") {
	case "1", "true":
		v := true
		f.Packed = &v
	case "0", "false":
		v := false
		f.Packed = &v
	}

	if d := c.Query("date"); isDate(d) {
		f.DateDelivery = d
	}

	return f
}

func isDate(s string) bool {
	_, err := time.Parse(time.DateOnly, s)
	return err == nil
}
