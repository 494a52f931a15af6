package workitem

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/wb-go/wbf/zlog"

	"github.com/aliskhannn/alteration-tracker/internal/errs"
	"github.com/aliskhannn/alteration-tracker/internal/model"
	"github.com/aliskhannn/alteration-tracker/internal/status"
)

// inlineDataPrefix marks a data URI, i.e. image bytes smuggled into a JSON field.
const inlineDataPrefix = "data:"

// publishTimeout bounds the background delivery of an image-replaced event.
const publishTimeout = 10 * time.Second

// repository defines the interface for work item persistence.
type repository interface {
	Insert(ctx context.Context, item model.WorkItem) (*model.WorkItem, error)
	GetByID(ctx context.Context, id int64) (*model.WorkItem, error)
	UpdateByID(ctx context.Context, id int64, patch model.Patch) (*model.WorkItem, *model.ImageRef, error)
	ListAll(ctx context.Context, order model.ListOrder, filter model.ListFilter) ([]model.WorkItem, error)
}

// publisher defines the interface for announcing replaced images.
type publisher interface {
	PublishImageReplaced(ctx context.Context, evt model.ImageReplaced) error
}

// Fields are the client-supplied values of a create or full update.
// Status and Packed are raw and go through the status normalizer.
type Fields struct {
	BillNumber   string
	TailorName   string
	ItemName     string
	DateAssigned *string
	DateDelivery *string
	TimeDelivery *string
	Status       string
	Packed       any
	ImageURL     string
	PublicID     string
	Notes        *string
}

// Options configures the merge engine.
type Options struct {
	// ImageBaseURL is the public prefix of the image store. When set, image
	// references must live under it.
	ImageBaseURL string
}

// Service applies create and update requests to work items.
type Service struct {
	repo      repository
	publisher publisher
	imageBase string
}

// NewService creates a new Service. pub may be nil, in which case replaced
// images are not announced.
func NewService(repo repository, pub publisher, opts Options) *Service {
	return &Service{
		repo:      repo,
		publisher: pub,
		imageBase: strings.TrimRight(opts.ImageBaseURL, "/"),
	}
}

// Create validates f and stores a new work item.
func (s *Service) Create(ctx context.Context, f Fields) (*model.WorkItem, error) {
	v, err := s.validate(f)
	if err != nil {
		return nil, err
	}

	item := model.WorkItem{
		BillNumber:   v.billNumber,
		TailorName:   v.tailorName,
		ItemName:     v.itemName,
		DateAssigned: v.dateAssigned,
		DateDelivery: v.dateDelivery,
		TimeDelivery: v.timeDelivery,
		Status:       status.Normalize(f.Status, f.Packed),
		Packed:       status.CoercePacked(f.Packed),
		ImageRef:     v.imageRef,
		Notes:        v.notes,
	}

	created, err := s.repo.Insert(ctx, item)
	if err != nil {
		return nil, err
	}

	zlog.Logger.Info().Int64("id", created.ID).Str("status", string(created.Status)).Msg("work item created")

	return created, nil
}

// Get returns a single work item.
func (s *Service) Get(ctx context.Context, id int64) (*model.WorkItem, error) {
	return s.repo.GetByID(ctx, id)
}

// Update replaces every field of the work item with f, except the image
// reference: a blank ImageURL keeps whatever image is stored.
func (s *Service) Update(ctx context.Context, id int64, f Fields) (*model.WorkItem, error) {
	v, err := s.validate(f)
	if err != nil {
		return nil, err
	}

	st := status.Normalize(f.Status, f.Packed)
	packed := status.CoercePacked(f.Packed)

	patch := model.Patch{
		BillNumber:   &v.billNumber,
		TailorName:   &v.tailorName,
		ItemName:     &v.itemName,
		DateAssigned: &v.dateAssigned,
		DateDelivery: &v.dateDelivery,
		TimeDelivery: &v.timeDelivery,
		Status:       &st,
		Packed:       &packed,
		ImageRef:     v.imageRef,
		Notes:        &v.notes,
	}

	updated, prev, err := s.repo.UpdateByID(ctx, id, patch)
	if err != nil {
		return nil, err
	}

	zlog.Logger.Info().Int64("id", id).Str("status", string(updated.Status)).Msg("work item updated")

	if v.imageRef != nil && prev != nil && prev.PublicID != v.imageRef.PublicID {
		s.announceReplaced(ctx, id, *prev, *v.imageRef)
	}

	return updated, nil
}

// UpdateStatus writes only status and packed.
func (s *Service) UpdateStatus(ctx context.Context, id int64, rawStatus string, rawPacked any) (*model.WorkItem, error) {
	st := status.Normalize(rawStatus, rawPacked)
	packed := status.CoercePacked(rawPacked)

	updated, _, err := s.repo.UpdateByID(ctx, id, model.Patch{Status: &st, Packed: &packed})
	if err != nil {
		return nil, err
	}

	zlog.Logger.Info().Int64("id", id).Str("status", string(st)).Bool("packed", packed).Msg("work item status updated")

	return updated, nil
}

// List returns work items matching filter in the given order.
func (s *Service) List(ctx context.Context, order model.ListOrder, filter model.ListFilter) ([]model.WorkItem, error) {
	return s.repo.ListAll(ctx, order, filter)
}

// announceReplaced publishes the event in the background. The update has
// already committed, so a failed publish is logged and otherwise ignored.
func (s *Service) announceReplaced(ctx context.Context, id int64, prev, cur model.ImageRef) {
	if s.publisher == nil {
		return
	}

	evt := model.ImageReplaced{
		ID:         uuid.New(),
		Type:       model.EventImageReplaced,
		WorkItemID: id,
		Previous:   prev,
		Current:    cur,
		OccurredAt: time.Now().UTC(),
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
		defer cancel()

		if err := s.publisher.PublishImageReplaced(ctx, evt); err != nil {
			zlog.Logger.Error().Err(err).
				Int64("id", id).
				Str("previous", prev.PublicID).
				Msg("failed to publish image replaced event")
		}
	}()
}

type validated struct {
	billNumber   string
	tailorName   string
	itemName     string
	dateAssigned *string
	dateDelivery *string
	timeDelivery *string
	imageRef     *model.ImageRef
	notes        *string
}

func (s *Service) validate(f Fields) (validated, error) {
	var v validated

	v.billNumber = strings.TrimSpace(f.BillNumber)
	v.tailorName = strings.TrimSpace(f.TailorName)
	v.itemName = strings.TrimSpace(f.ItemName)
	if v.billNumber == "" || v.tailorName == "" || v.itemName == "" {
		return v, fmt.Errorf("%w: billNumber, tailorName and itemName are required", errs.ErrValidation)
	}

	ref, err := s.resolveImage(f.ImageURL, f.PublicID)
	if err != nil {
		return v, err
	}
	v.imageRef = ref

	if v.dateAssigned, err = parseDate("dateAssigned", f.DateAssigned); err != nil {
		return v, err
	}
	if v.dateDelivery, err = parseDate("dateDelivery", f.DateDelivery); err != nil {
		return v, err
	}
	if v.timeDelivery, err = parseTime("timeDelivery", f.TimeDelivery); err != nil {
		return v, err
	}

	v.notes = optional(f.Notes)

	return v, nil
}

// resolveImage turns the request's image fields into a reference. A blank
// URL yields nil. Inline data is always rejected, even alongside a blank URL.
func (s *Service) resolveImage(rawURL, publicID string) (*model.ImageRef, error) {
	rawURL = strings.TrimSpace(rawURL)
	publicID = strings.TrimSpace(publicID)

	if isInline(rawURL) || isInline(publicID) {
		return nil, fmt.Errorf("%w: inline image data is not accepted, upload the image to /images first", errs.ErrValidation)
	}

	if rawURL == "" {
		return nil, nil
	}

	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("%w: imageUrl must be an absolute http(s) URL", errs.ErrValidation)
	}

	key := strings.TrimPrefix(u.Path, "/")
	if s.imageBase != "" {
		if !strings.HasPrefix(rawURL, s.imageBase+"/") {
			return nil, fmt.Errorf("%w: imageUrl does not point at the image store", errs.ErrValidation)
		}
		key = strings.TrimPrefix(rawURL, s.imageBase+"/")
	}

	switch {
	case publicID == "":
		publicID = key
	case s.imageBase != "" && publicID != key:
		return nil, fmt.Errorf("%w: publicId does not match imageUrl", errs.ErrValidation)
	}

	return &model.ImageRef{URL: rawURL, PublicID: publicID}, nil
}

func isInline(s string) bool {
	return len(s) >= len(inlineDataPrefix) && strings.EqualFold(s[:len(inlineDataPrefix)], inlineDataPrefix)
}

func optional(s *string) *string {
	if s == nil {
		return nil
	}
	t := strings.TrimSpace(*s)
	if t == "" {
		return nil
	}
	return &t
}

func parseDate(field string, s *string) (*string, error) {
	v := optional(s)
	if v == nil {
		return nil, nil
	}
	if _, err := time.Parse(time.DateOnly, *v); err != nil {
		return nil, fmt.Errorf("%w: %s must be YYYY-MM-DD", errs.ErrValidation, field)
	}
	return v, nil
}

func parseTime(field string, s *string) (*string, error) {
	v := optional(s)
	if v == nil {
		return nil, nil
	}
	if _, err := time.Parse(time.TimeOnly, *v); err == nil {
		return v, nil
	}
	if _, err := time.Parse("15:04", *v); err == nil {
		return v, nil
	}
	return nil, fmt.Errorf("%w: %s must be HH:MM or HH:MM:SS", errs.ErrValidation, field)
}
