package workitem

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aliskhannn/alteration-tracker/internal/errs"
	"github.com/aliskhannn/alteration-tracker/internal/model"
)

const base = "https://cdn.example.com/alterations"

// memRepo is an in-memory repository that applies patches the way the
// postgres repository does.
type memRepo struct {
	mu      sync.Mutex
	items   map[int64]model.WorkItem
	nextID  int64
	writes  int
	failErr error
}

func newMemRepo() *memRepo {
	return &memRepo{items: make(map[int64]model.WorkItem), nextID: 1}
}

func (r *memRepo) Insert(_ context.Context, item model.WorkItem) (*model.WorkItem, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failErr != nil {
		return nil, r.failErr
	}

	r.writes++
	item.ID = r.nextID
	r.nextID++
	item.CreatedAt = time.Now()
	item.UpdatedAt = item.CreatedAt
	r.items[item.ID] = item
	return &item, nil
}

func (r *memRepo) GetByID(_ context.Context, id int64) (*model.WorkItem, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	item, ok := r.items[id]
	if !ok {
		return nil, fmt.Errorf("work item %d: %w", id, errs.ErrNotFound)
	}
	return &item, nil
}

func (r *memRepo) UpdateByID(_ context.Context, id int64, p model.Patch) (*model.WorkItem, *model.ImageRef, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failErr != nil {
		return nil, nil, r.failErr
	}

	item, ok := r.items[id]
	if !ok {
		return nil, nil, fmt.Errorf("work item %d: %w", id, errs.ErrNotFound)
	}
	prev := item.ImageRef

	r.writes++
	if p.BillNumber != nil {
		item.BillNumber = *p.BillNumber
	}
	if p.TailorName != nil {
		item.TailorName = *p.TailorName
	}
	if p.ItemName != nil {
		item.ItemName = *p.ItemName
	}
	if p.DateAssigned != nil {
		item.DateAssigned = *p.DateAssigned
	}
	if p.DateDelivery != nil {
		item.DateDelivery = *p.DateDelivery
	}
	if p.TimeDelivery != nil {
		item.TimeDelivery = *p.TimeDelivery
	}
	if p.Status != nil {
		item.Status = *p.Status
	}
	if p.Packed != nil {
		item.Packed = *p.Packed
	}
	if p.ImageRef != nil {
		ref := *p.ImageRef
		item.ImageRef = &ref
	}
	if p.Notes != nil {
		item.Notes = *p.Notes
	}
	item.UpdatedAt = time.Now()
	r.items[id] = item

	return &item, prev, nil
}

func (r *memRepo) ListAll(_ context.Context, _ model.ListOrder, _ model.ListFilter) ([]model.WorkItem, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]model.WorkItem, 0, len(r.items))
	for _, it := range r.items {
		out = append(out, it)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

// put seeds an item with a fixed id.
func (r *memRepo) put(item model.WorkItem) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items[item.ID] = item
	if item.ID >= r.nextID {
		r.nextID = item.ID + 1
	}
}

type stubPublisher struct {
	events chan model.ImageReplaced
	err    error
}

func newStubPublisher() *stubPublisher {
	return &stubPublisher{events: make(chan model.ImageReplaced, 4)}
}

func (p *stubPublisher) PublishImageReplaced(_ context.Context, evt model.ImageReplaced) error {
	p.events <- evt
	return p.err
}

func ptr[T any](v T) *T { return &v }

func baseFields() Fields {
	return Fields{BillNumber: "B1", TailorName: "Asad", ItemName: "Shirt"}
}

func seeded(repo *memRepo) model.WorkItem {
	item := model.WorkItem{
		ID:         7,
		BillNumber: "B7",
		TailorName: "Asad",
		ItemName:   "Kurta",
		Status:     model.StatusInProgress,
		ImageRef:   &model.ImageRef{URL: base + "/chitrali-alterations/old.jpg", PublicID: "chitrali-alterations/old.jpg"},
		Notes:      ptr("shorten sleeves"),
	}
	repo.put(item)
	return item
}

func TestCreateDefaultsToPending(t *testing.T) {
	svc := NewService(newMemRepo(), nil, Options{ImageBaseURL: base})

	item, err := svc.Create(context.Background(), baseFields())
	require.NoError(t, err)

	assert.Equal(t, model.StatusPending, item.Status)
	assert.False(t, item.Packed)
	assert.Nil(t, item.ImageRef)
	assert.Nil(t, item.DateDelivery)
	assert.Equal(t, item.CreatedAt, item.UpdatedAt)
}

func TestCreateTrimsRequiredFields(t *testing.T) {
	svc := NewService(newMemRepo(), nil, Options{})

	f := Fields{BillNumber: "  B1 ", TailorName: "\tAsad", ItemName: "Shirt\n"}
	item, err := svc.Create(context.Background(), f)
	require.NoError(t, err)

	assert.Equal(t, "B1", item.BillNumber)
	assert.Equal(t, "Asad", item.TailorName)
	assert.Equal(t, "Shirt", item.ItemName)
}

func TestCreateRequiresFields(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Fields)
	}{
		{"missing bill", func(f *Fields) { f.BillNumber = "" }},
		{"blank tailor", func(f *Fields) { f.TailorName = "   " }},
		{"missing item", func(f *Fields) { f.ItemName = "" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := newMemRepo()
			svc := NewService(repo, nil, Options{})

			f := baseFields()
			tt.mutate(&f)

			_, err := svc.Create(context.Background(), f)
			assert.ErrorIs(t, err, errs.ErrValidation)
			assert.Equal(t, 0, repo.writes)
		})
	}
}

func TestCreatePackedForcesDone(t *testing.T) {
	svc := NewService(newMemRepo(), nil, Options{})

	f := baseFields()
	f.Status = "pending"
	f.Packed = 1.0

	item, err := svc.Create(context.Background(), f)
	require.NoError(t, err)
	assert.Equal(t, model.StatusDone, item.Status)
	assert.True(t, item.Packed)
}

func TestCreateRejectsInlineImage(t *testing.T) {
	for _, tt := range []struct {
		name     string
		url, pid string
	}{
		{"data uri in url", "data:image/jpeg;base64,/9j/4AAQSkZJRg==", ""},
		{"upper case marker", "  DATA:image/png;base64,iVBORw0KGgo=", ""},
		{"data uri in public id", "", "data:image/png;base64,AAAA"},
	} {
		t.Run(tt.name, func(t *testing.T) {
			repo := newMemRepo()
			svc := NewService(repo, nil, Options{ImageBaseURL: base})

			f := baseFields()
			f.ImageURL, f.PublicID = tt.url, tt.pid

			_, err := svc.Create(context.Background(), f)
			assert.ErrorIs(t, err, errs.ErrValidation)
			assert.Equal(t, 0, repo.writes)
		})
	}
}

func TestCreateWithUploadedImage(t *testing.T) {
	svc := NewService(newMemRepo(), nil, Options{ImageBaseURL: base + "/"})

	f := baseFields()
	f.ImageURL = base + "/chitrali-alterations/abc.jpg"

	item, err := svc.Create(context.Background(), f)
	require.NoError(t, err)
	require.NotNil(t, item.ImageRef)
	assert.Equal(t, "chitrali-alterations/abc.jpg", item.ImageRef.PublicID)
	assert.Equal(t, f.ImageURL, item.ImageRef.URL)
}

func TestCreateRejectsForeignImage(t *testing.T) {
	tests := []struct {
		name, url, pid string
	}{
		{"other host", "https://evil.example.com/x.jpg", ""},
		{"relative", "/chitrali-alterations/x.jpg", ""},
		{"ftp", "ftp://cdn.example.com/alterations/x.jpg", ""},
		{"prefix trick", base + "-evil/x.jpg", ""},
		{"mismatched id", base + "/chitrali-alterations/x.jpg", "chitrali-alterations/y.jpg"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := newMemRepo()
			svc := NewService(repo, nil, Options{ImageBaseURL: base})

			f := baseFields()
			f.ImageURL, f.PublicID = tt.url, tt.pid

			_, err := svc.Create(context.Background(), f)
			assert.ErrorIs(t, err, errs.ErrValidation)
			assert.Equal(t, 0, repo.writes)
		})
	}
}

func TestCreateWithoutImageBaseDerivesIDFromPath(t *testing.T) {
	svc := NewService(newMemRepo(), nil, Options{})

	f := baseFields()
	f.ImageURL = "https://images.example.org/bucket/folder/a.jpg"

	item, err := svc.Create(context.Background(), f)
	require.NoError(t, err)
	assert.Equal(t, "bucket/folder/a.jpg", item.ImageRef.PublicID)
}

func TestCreateValidatesDates(t *testing.T) {
	svc := NewService(newMemRepo(), nil, Options{})

	f := baseFields()
	f.DateAssigned = ptr("2024-05-01")
	f.DateDelivery = ptr(" ")
	f.TimeDelivery = ptr("14:30")
	f.Notes = ptr("")

	item, err := svc.Create(context.Background(), f)
	require.NoError(t, err)
	assert.Equal(t, "2024-05-01", *item.DateAssigned)
	assert.Nil(t, item.DateDelivery)
	assert.Equal(t, "14:30", *item.TimeDelivery)
	assert.Nil(t, item.Notes)

	for _, bad := range []Fields{
		{BillNumber: "B", TailorName: "T", ItemName: "I", DateAssigned: ptr("01/05/2024")},
		{BillNumber: "B", TailorName: "T", ItemName: "I", DateDelivery: ptr("2024-13-01")},
		{BillNumber: "B", TailorName: "T", ItemName: "I", TimeDelivery: ptr("2pm")},
	} {
		_, err := svc.Create(context.Background(), bad)
		assert.ErrorIs(t, err, errs.ErrValidation)
	}
}

func TestCreatePersistenceError(t *testing.T) {
	repo := newMemRepo()
	repo.failErr = fmt.Errorf("insert: %w", errs.ErrPersistence)
	svc := NewService(repo, nil, Options{})

	_, err := svc.Create(context.Background(), baseFields())
	assert.ErrorIs(t, err, errs.ErrPersistence)
}

func TestUpdatePackedStringMakesDone(t *testing.T) {
	repo := newMemRepo()
	seeded(repo)
	svc := NewService(repo, nil, Options{ImageBaseURL: base})

	f := Fields{BillNumber: "B7", TailorName: "Asad", ItemName: "Kurta", Packed: "true"}
	item, err := svc.Update(context.Background(), 7, f)
	require.NoError(t, err)

	assert.Equal(t, model.StatusDone, item.Status)
	assert.True(t, item.Packed)
}

func TestUpdateBlankImagePreservesReference(t *testing.T) {
	for _, blank := range []string{"", "   "} {
		repo := newMemRepo()
		before := seeded(repo)
		svc := NewService(repo, nil, Options{ImageBaseURL: base})

		f := Fields{
			BillNumber:   "B7",
			TailorName:   "Bilal",
			ItemName:     "Kurta",
			DateDelivery: ptr("2024-06-01"),
			Status:       "in_progress",
			ImageURL:     blank,
			Notes:        ptr("new notes"),
		}
		item, err := svc.Update(context.Background(), 7, f)
		require.NoError(t, err)

		assert.Equal(t, before.ImageRef, item.ImageRef)
		assert.Equal(t, "Bilal", item.TailorName)
		assert.Equal(t, model.StatusInProgress, item.Status)
	}
}

func TestUpdateIsFullReplaceForOtherFields(t *testing.T) {
	repo := newMemRepo()
	seeded(repo)
	svc := NewService(repo, nil, Options{})

	item, err := svc.Update(context.Background(), 7, Fields{BillNumber: "B7", TailorName: "Asad", ItemName: "Kurta"})
	require.NoError(t, err)

	assert.Nil(t, item.Notes)
	assert.Equal(t, model.StatusPending, item.Status)
	assert.False(t, item.Packed)
}

func TestUpdateReplacesImageAndAnnounces(t *testing.T) {
	repo := newMemRepo()
	before := seeded(repo)
	pub := newStubPublisher()
	svc := NewService(repo, pub, Options{ImageBaseURL: base})

	f := Fields{BillNumber: "B7", TailorName: "Asad", ItemName: "Kurta", ImageURL: base + "/chitrali-alterations/new.jpg"}
	item, err := svc.Update(context.Background(), 7, f)
	require.NoError(t, err)
	assert.Equal(t, "chitrali-alterations/new.jpg", item.ImageRef.PublicID)

	select {
	case evt := <-pub.events:
		assert.Equal(t, model.EventImageReplaced, evt.Type)
		assert.Equal(t, int64(7), evt.WorkItemID)
		assert.Equal(t, *before.ImageRef, evt.Previous)
		assert.Equal(t, "chitrali-alterations/new.jpg", evt.Current.PublicID)
	case <-time.After(2 * time.Second):
		t.Fatal("expected image replaced event")
	}
}

func TestUpdateSameImageDoesNotAnnounce(t *testing.T) {
	repo := newMemRepo()
	before := seeded(repo)
	pub := newStubPublisher()
	svc := NewService(repo, pub, Options{ImageBaseURL: base})

	f := Fields{BillNumber: "B7", TailorName: "Asad", ItemName: "Kurta", ImageURL: before.ImageRef.URL}
	_, err := svc.Update(context.Background(), 7, f)
	require.NoError(t, err)

	select {
	case <-pub.events:
		t.Fatal("unexpected event")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestUpdatePublishFailureDoesNotFailUpdate(t *testing.T) {
	repo := newMemRepo()
	seeded(repo)
	pub := newStubPublisher()
	pub.err = errors.New("broker down")
	svc := NewService(repo, pub, Options{ImageBaseURL: base})

	f := Fields{BillNumber: "B7", TailorName: "Asad", ItemName: "Kurta", ImageURL: base + "/chitrali-alterations/new.jpg"}
	item, err := svc.Update(context.Background(), 7, f)
	require.NoError(t, err)
	assert.Equal(t, "chitrali-alterations/new.jpg", item.ImageRef.PublicID)

	<-pub.events
}

func TestUpdateRejectsInlineImageWithoutWrite(t *testing.T) {
	repo := newMemRepo()
	before := seeded(repo)
	svc := NewService(repo, nil, Options{ImageBaseURL: base})

	f := Fields{BillNumber: "X", TailorName: "Y", ItemName: "Z", ImageURL: "data:image/jpeg;base64,AAAA"}
	_, err := svc.Update(context.Background(), 7, f)
	assert.ErrorIs(t, err, errs.ErrValidation)

	after, err := repo.GetByID(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, before, *after)
	assert.Equal(t, 0, repo.writes)
}

func TestUpdateMissingID(t *testing.T) {
	svc := NewService(newMemRepo(), nil, Options{})

	_, err := svc.Update(context.Background(), 404, baseFields())
	assert.ErrorIs(t, err, errs.ErrNotFound)
}

func TestUpdateStatusTouchesOnlyStatus(t *testing.T) {
	repo := newMemRepo()
	before := seeded(repo)
	svc := NewService(repo, nil, Options{})

	item, err := svc.UpdateStatus(context.Background(), 7, "done", nil)
	require.NoError(t, err)
	assert.Equal(t, model.StatusDone, item.Status)
	assert.False(t, item.Packed)
	assert.Equal(t, before.Notes, item.Notes)
	assert.Equal(t, before.ImageRef, item.ImageRef)
	assert.Equal(t, before.TailorName, item.TailorName)

	item, err = svc.UpdateStatus(context.Background(), 7, "PENDING", "1")
	require.NoError(t, err)
	assert.Equal(t, model.StatusDone, item.Status)
	assert.True(t, item.Packed)

	item, err = svc.UpdateStatus(context.Background(), 7, "garbage", false)
	require.NoError(t, err)
	assert.Equal(t, model.StatusPending, item.Status)
	assert.False(t, item.Packed)
}

func TestUpdateStatusMissingID(t *testing.T) {
	svc := NewService(newMemRepo(), nil, Options{})

	_, err := svc.UpdateStatus(context.Background(), 1, "DONE", true)
	assert.ErrorIs(t, err, errs.ErrNotFound)
}

func TestConcurrentUpdatesLastWriteWins(t *testing.T) {
	repo := newMemRepo()
	seeded(repo)
	svc := NewService(repo, nil, Options{})

	var wg sync.WaitGroup
	tailors := []string{"A", "B", "C", "D", "E", "F", "G", "H"}
	for _, name := range tailors {
		wg.Add(1)
		go func(name string) {
			defer wg.Done()
			_, err := svc.Update(context.Background(), 7, Fields{BillNumber: "B7", TailorName: name, ItemName: "Kurta"})
			assert.NoError(t, err)
		}(name)
	}
	wg.Wait()

	final, err := repo.GetByID(context.Background(), 7)
	require.NoError(t, err)
	assert.Contains(t, tailors, final.TailorName)
	assert.Equal(t, len(tailors), repo.writes)
}

func TestListAndGet(t *testing.T) {
	repo := newMemRepo()
	svc := NewService(repo, nil, Options{})

	for i := 0; i < 3; i++ {
		_, err := svc.Create(context.Background(), baseFields())
		require.NoError(t, err)
	}

	items, err := svc.List(context.Background(), model.OrderIDDesc, model.ListFilter{})
	require.NoError(t, err)
	require.Len(t, items, 3)
	assert.Equal(t, int64(3), items[0].ID)

	got, err := svc.Get(context.Background(), 2)
	require.NoError(t, err)
	assert.Equal(t, int64(2), got.ID)
}
