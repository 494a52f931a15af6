package workitem

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/wb-go/wbf/dbpg"

	"github.com/aliskhannn/alteration-tracker/internal/errs"
	"github.com/aliskhannn/alteration-tracker/internal/model"
)

// columns is the projection shared by every query that returns a work item.
// Date and time columns are read back as text so they round-trip unchanged.
const columns = `id, bill_number, tailor_name, item_name,
	date_assigned::text, date_delivery::text, time_delivery::text,
	status, packed, image_url, image_public_id, notes, created_at, updated_at`

// Repository persists work items in PostgreSQL.
type Repository struct {
	db *dbpg.DB
}

// NewRepository creates a new Repository with the given DB connection.
func NewRepository(db *dbpg.DB) *Repository {
	return &Repository{db: db}
}

// reader returns the connection used for listings: the first replica if
// one is configured, the master otherwise.
func (r *Repository) reader() *sql.DB {
	if len(r.db.Slaves) > 0 {
		return r.db.Slaves[0]
	}
	return r.db.Master
}

// Insert stores a new work item and returns it as persisted, with id and
// timestamps assigned by the database.
func (r *Repository) Insert(ctx context.Context, item model.WorkItem) (*model.WorkItem, error) {
	query := `
		INSERT INTO work_items (
			bill_number, tailor_name, item_name, date_assigned, date_delivery,
			time_delivery, status, packed, image_url, image_public_id, notes
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING ` + columns

	var url, publicID *string
	if item.ImageRef != nil {
		url, publicID = &item.ImageRef.URL, &item.ImageRef.PublicID
	}

	row := r.db.Master.QueryRowContext(
		ctx, query,
		item.BillNumber, item.TailorName, item.ItemName, item.DateAssigned, item.DateDelivery,
		item.TimeDelivery, string(item.Status), item.Packed, url, publicID, item.Notes,
	)

	created, err := scanWorkItem(row)
	if err != nil {
		return nil, fmt.Errorf("insert: failed to insert work item: %w: %w", errs.ErrPersistence, err)
	}

	return created, nil
}

// GetByID returns the work item with the given id, or errs.ErrNotFound.
func (r *Repository) GetByID(ctx context.Context, id int64) (*model.WorkItem, error) {
	query := `SELECT ` + columns + ` FROM work_items WHERE id = $1`

	item, err := scanWorkItem(r.db.Master.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("work item %d: %w", id, errs.ErrNotFound)
		}
		return nil, fmt.Errorf("get: failed to get work item: %w: %w", errs.ErrPersistence, err)
	}

	return item, nil
}

// UpdateByID applies patch to the work item with the given id and bumps
// updated_at. It returns the updated record and the image reference that was
// stored before the update (nil if there was none). The read of the previous
// reference and the write happen in one transaction with the row locked, so
// the returned previous reference is exactly the one this write replaced.
// Concurrent updates to the same id still resolve as last write wins.
func (r *Repository) UpdateByID(ctx context.Context, id int64, patch model.Patch) (*model.WorkItem, *model.ImageRef, error) {
	tx, err := r.db.Master.BeginTx(ctx, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("update: failed to begin transaction: %w: %w", errs.ErrPersistence, err)
	}
	defer func() { _ = tx.Rollback() }()

	var prevURL, prevPublicID sql.NullString
	err = tx.QueryRowContext(ctx,
		`SELECT image_url, image_public_id FROM work_items WHERE id = $1 FOR UPDATE`, id,
	).Scan(&prevURL, &prevPublicID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil, fmt.Errorf("work item %d: %w", id, errs.ErrNotFound)
		}
		return nil, nil, fmt.Errorf("update: failed to lock work item: %w: %w", errs.ErrPersistence, err)
	}

	query, args := buildUpdate(id, patch)
	updated, err := scanWorkItem(tx.QueryRowContext(ctx, query, args...))
	if err != nil {
		return nil, nil, fmt.Errorf("update: failed to update work item: %w: %w", errs.ErrPersistence, err)
	}

	if err := tx.Commit(); err != nil {
		return nil, nil, fmt.Errorf("update: failed to commit: %w: %w", errs.ErrPersistence, err)
	}

	var prev *model.ImageRef
	if prevURL.Valid {
		prev = &model.ImageRef{URL: prevURL.String, PublicID: prevPublicID.String}
	}

	return updated, prev, nil
}

// ImageInUse reports whether any work item still references the stored
// object with the given provider id.
func (r *Repository) ImageInUse(ctx context.Context, publicID string) (bool, error) {
	query := `SELECT EXISTS (SELECT 1 FROM work_items WHERE image_public_id = $1)`

	var inUse bool
	if err := r.db.Master.QueryRowContext(ctx, query, publicID).Scan(&inUse); err != nil {
		return false, fmt.Errorf("image in use: failed to query: %w: %w", errs.ErrPersistence, err)
	}

	return inUse, nil
}

// ListAll returns every work item matching filter, sorted by order.
func (r *Repository) ListAll(ctx context.Context, order model.ListOrder, filter model.ListFilter) ([]model.WorkItem, error) {
	query, args := buildList(order, filter)

	rows, err := r.reader().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list: failed to query work items: %w: %w", errs.ErrPersistence, err)
	}
	defer rows.Close()

	items := make([]model.WorkItem, 0)
	for rows.Next() {
		item, err := scanWorkItem(rows)
		if err != nil {
			return nil, fmt.Errorf("list: failed to scan work item: %w: %w", errs.ErrPersistence, err)
		}
		items = append(items, *item)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list: rows error: %w: %w", errs.ErrPersistence, err)
	}

	return items, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanWorkItem(s scanner) (*model.WorkItem, error) {
	var (
		item                                     model.WorkItem
		status                                   string
		dateAssigned, dateDelivery, timeDelivery sql.NullString
		url, publicID, notes                     sql.NullString
	)

	err := s.Scan(
		&item.ID, &item.BillNumber, &item.TailorName, &item.ItemName,
		&dateAssigned, &dateDelivery, &timeDelivery,
		&status, &item.Packed, &url, &publicID, &notes, &item.CreatedAt, &item.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	item.Status = model.Status(status)
	item.DateAssigned = nullable(dateAssigned)
	item.DateDelivery = nullable(dateDelivery)
	item.TimeDelivery = nullable(timeDelivery)
	item.Notes = nullable(notes)
	if url.Valid {
		item.ImageRef = &model.ImageRef{URL: url.String, PublicID: publicID.String}
	}

	return &item, nil
}

func nullable(s sql.NullString) *string {
	if !s.Valid {
		return nil
	}
	v := s.String
	return &v
}

// buildUpdate renders the UPDATE statement for patch. Only fields set in the
// patch appear in the SET list; updated_at is always bumped.
func buildUpdate(id int64, p model.Patch) (string, []any) {
	var (
		sets []string
		args []any
	)

	set := func(col string, v any) {
		args = append(args, v)
		sets = append(sets, col+" = $"+strconv.Itoa(len(args)))
	}

	if p.BillNumber != nil {
		set("bill_number", *p.BillNumber)
	}
	if p.TailorName != nil {
		set("tailor_name", *p.TailorName)
	}
	if p.ItemName != nil {
		set("item_name", *p.ItemName)
	}
	if p.DateAssigned != nil {
		set("date_assigned", *p.DateAssigned)
	}
	if p.DateDelivery != nil {
		set("date_delivery", *p.DateDelivery)
	}
	if p.TimeDelivery != nil {
		set("time_delivery", *p.TimeDelivery)
	}
	if p.Status != nil {
		set("status", string(*p.Status))
	}
	if p.Packed != nil {
		set("packed", *p.Packed)
	}
	if p.ImageRef != nil {
		set("image_url", p.ImageRef.URL)
		set("image_public_id", p.ImageRef.PublicID)
	}
	if p.Notes != nil {
		set("notes", *p.Notes)
	}

	sets = append(sets, "updated_at = NOW()")
	args = append(args, id)

	query := "UPDATE work_items SET " + strings.Join(sets, ", ") +
		" WHERE id = $" + strconv.Itoa(len(args)) +
		" RETURNING " + columns

	return query, args
}

// buildList renders the SELECT for a filtered, ordered listing.
func buildList(order model.ListOrder, f model.ListFilter) (string, []any) {
	var (
		where []string
		args  []any
	)

	add := func(cond string, v any) {
		args = append(args, v)
		where = append(where, strings.ReplaceAll(cond, "?", "$"+strconv.Itoa(len(args))))
	}

	if f.Bill != "" {
		add("bill_number ILIKE ?", "%"+escapeLike(f.Bill)+"%")
	}
	if f.Tailor != "" {
		add("tailor_name ILIKE ?", "%"+escapeLike(f.Tailor)+"%")
	}
	if f.Status != "" {
		add("status = ?", string(f.Status))
	}
	if f.Packed != nil {
		add("packed = ?", *f.Packed)
	}
	if f.DateDelivery != "" {
		add("date_delivery = ?", f.DateDelivery)
	}

	var b strings.Builder
	b.WriteString("SELECT " + columns + " FROM work_items")
	if len(where) > 0 {
		b.WriteString(" WHERE " + strings.Join(where, " AND "))
	}

	switch order {
	case model.OrderCreatedDesc:
		b.WriteString(" ORDER BY created_at DESC, id DESC")
	default:
		b.WriteString(" ORDER BY id DESC")
	}

	return b.String(), args
}

// escapeLike escapes the LIKE wildcards so filters match literally.
func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}
