package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	. "github.com/Masterminds/squirrel"
	"github.com/pocketbase/dbx"

	"github.com/cadenza-av/cadenza/model"
)

type autoscanRepository struct {
	sqlRepository
	store *SQLStore
}

func newAutoscanRepository(ctx context.Context, db dbx.Builder, store *SQLStore) *autoscanRepository {
	r := &autoscanRepository{store: store}
	r.ctx = ctx
	r.db = db
	r.tableName = autoscanTable
	return r
}

type dbAutoscan struct {
	ID           int32          `db:"id"`
	ObjID        sql.NullInt32  `db:"obj_id"`
	ScanMode     string         `db:"scan_mode"`
	Recursive    bool           `db:"recursive"`
	Hidden       bool           `db:"hidden"`
	Interval     int64          `db:"scan_interval"`
	LastModified sql.NullInt64  `db:"last_modified"`
	Persistent   bool           `db:"persistent"`
	Location     sql.NullString `db:"location"`
	PathIDs      sql.NullString `db:"path_ids"`
	Touched      bool           `db:"touched"`
}

func (row *dbAutoscan) toModel() *model.Autoscan {
	adir := &model.Autoscan{
		ID:         row.ID,
		ObjectID:   model.InvalidObjectID,
		Mode:       model.ScanMode(row.ScanMode),
		Recursive:  row.Recursive,
		Hidden:     row.Hidden,
		Interval:   time.Duration(row.Interval) * time.Second,
		Persistent: row.Persistent,
		Location:   row.Location.String,
		PathIDs:    parsePathIDs(row.PathIDs.String),
		Touched:    row.Touched,
	}
	if row.ObjID.Valid {
		adir.ObjectID = row.ObjID.Int32
	}
	if row.LastModified.Valid {
		adir.LastModified = time.Unix(row.LastModified.Int64, 0)
	}
	return adir
}

func (r *autoscanRepository) toColumns(adir *model.Autoscan) map[string]any {
	cols := map[string]any{
		"scan_mode":     string(adir.Mode),
		"recursive":     adir.Recursive,
		"hidden":        adir.Hidden,
		"scan_interval": int64(adir.Interval.Seconds()),
		"persistent":    adir.Persistent,
		"location":      adir.Location,
		"path_ids":      formatPathIDs(adir.PathIDs),
		"touched":       adir.Touched,
	}
	if adir.ObjectID != model.InvalidObjectID {
		cols["obj_id"] = adir.ObjectID
	} else {
		cols["obj_id"] = nil
	}
	if !adir.LastModified.IsZero() {
		cols["last_modified"] = adir.LastModified.Unix()
	} else {
		cols["last_modified"] = nil
	}
	return cols
}

func (r *autoscanRepository) GetAll(mode model.ScanMode) (model.Autoscans, error) {
	sel := r.newSelect()
	if mode != "" {
		sel = sel.Where(Eq{"scan_mode": string(mode)})
	}
	var rows []dbAutoscan
	if err := r.queryAll(sel.OrderBy("id"), &rows); err != nil {
		return nil, err
	}
	result := make(model.Autoscans, len(rows))
	for i := range rows {
		result[i] = rows[i].toModel()
	}
	return result, nil
}

func (r *autoscanRepository) Get(objectID int32) (*model.Autoscan, error) {
	var row dbAutoscan
	err := r.queryOne(r.newSelect().Where(Eq{"obj_id": objectID}), &row)
	if err != nil {
		return nil, err
	}
	return row.toModel(), nil
}

// Add installs a new autoscan after overlap validation, precomputing the
// ancestor path and marking the target container persistent.
func (r *autoscanRepository) Add(adir *model.Autoscan) error {
	pathIDs, err := r.CheckOverlapping(adir)
	if err != nil {
		return err
	}
	adir.PathIDs = pathIDs
	newID, err := r.insertReturningID(Insert(autoscanTable).SetMap(r.toColumns(adir)))
	if err != nil {
		return err
	}
	adir.ID = int32(newID)
	return r.setTargetPersistent(adir.ObjectID, true)
}

func (r *autoscanRepository) Update(adir *model.Autoscan) error {
	if _, err := r.CheckOverlapping(adir); err != nil {
		return err
	}
	if adir.ObjectID != model.InvalidObjectID {
		pathIDs, err := r.store.Object(r.ctx).PathIDs(adir.ObjectID)
		if err != nil {
			return err
		}
		adir.PathIDs = pathIDs
	}
	_, err := r.executeSQL(Update(autoscanTable).SetMap(r.toColumns(adir)).Where(Eq{"id": adir.ID}))
	return err
}

func (r *autoscanRepository) Remove(id int32) error {
	var row dbAutoscan
	err := r.queryOne(r.newSelect().Where(Eq{"id": id}), &row)
	if err != nil {
		return err
	}
	if row.ObjID.Valid {
		if err := r.setTargetPersistent(row.ObjID.Int32, false); err != nil {
			return err
		}
	}
	return r.delete(Eq{"id": id})
}

func (r *autoscanRepository) setTargetPersistent(objectID int32, persistent bool) error {
	if objectID == model.InvalidObjectID {
		return nil
	}
	op := fmt.Sprintf("flags | %d", model.FlagPersistentContainer)
	if !persistent {
		op = fmt.Sprintf("flags & ~%d", model.FlagPersistentContainer)
	}
	_, err := r.executeSQL(Update(objectTable).Set("flags", Expr(op)).Where(Eq{"id": objectID}))
	return err
}

// CheckOverlapping enforces the overlap rules: no second scan on the same
// target, no scan under a recursive scan, no recursive scan over an existing
// one. It returns the ancestor path ids of the target on success.
func (r *autoscanRepository) CheckOverlapping(adir *model.Autoscan) ([]int32, error) {
	if adir == nil {
		return nil, fmt.Errorf("%w: nil autoscan", model.ErrInvalidArgument)
	}
	if adir.ObjectID == model.InvalidObjectID {
		return nil, nil
	}

	notSelf := func(sel SelectBuilder) SelectBuilder {
		if adir.ID > 0 {
			return sel.Where(NotEq{"id": adir.ID})
		}
		return sel
	}

	// direct duplicate on the same container
	dup, err := r.countWhere(notSelf(r.newSelect().Where(Eq{"obj_id": adir.ObjectID})))
	if err != nil {
		return nil, err
	}
	if dup > 0 {
		return nil, fmt.Errorf("%w: there is already an autoscan set on object %d",
			model.ErrOverlappingAutoscan, adir.ObjectID)
	}

	// a recursive new scan must not span an existing scan below it
	if adir.Recursive {
		below, err := r.countWhere(notSelf(r.newSelect().
			Where(Like{"path_ids": fmt.Sprintf("%%,%d,%%", adir.ObjectID)})))
		if err != nil {
			return nil, err
		}
		if below > 0 {
			return nil, fmt.Errorf("%w: an autoscan already exists below object %d",
				model.ErrOverlappingAutoscan, adir.ObjectID)
		}
	}

	pathIDs, err := r.store.Object(r.ctx).PathIDs(adir.ObjectID)
	if err != nil {
		return nil, err
	}
	if len(pathIDs) == 0 {
		return nil, fmt.Errorf("%w: autoscan target %d has no path", model.ErrInvalidArgument, adir.ObjectID)
	}

	// the new scan must not sit below an existing recursive scan
	above, err := r.countWhere(notSelf(r.newSelect().
		Where(Eq{"obj_id": pathIDs}).
		Where(Eq{"recursive": true})))
	if err != nil {
		return nil, err
	}
	if above > 0 {
		return nil, fmt.Errorf("%w: a recursive autoscan already covers object %d",
			model.ErrOverlappingAutoscan, adir.ObjectID)
	}
	return pathIDs, nil
}

func (r *autoscanRepository) countWhere(sel SelectBuilder) (int, error) {
	count, err := r.count(sel)
	if errors.Is(err, model.ErrNotFound) {
		return 0, nil
	}
	return count, err
}

// path ids are stored as ",id,id,...," so LIKE '%,x,%' finds ancestors.
func formatPathIDs(ids []int32) string {
	if len(ids) == 0 {
		return ""
	}
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = fmt.Sprintf("%d", id)
	}
	return "," + strings.Join(parts, ",") + ","
}

func parsePathIDs(s string) []int32 {
	var ids []int32
	for _, part := range strings.Split(strings.Trim(s, ","), ",") {
		if part == "" {
			continue
		}
		var id int32
		if _, err := fmt.Sscanf(part, "%d", &id); err == nil {
			ids = append(ids, id)
		}
	}
	return ids
}
