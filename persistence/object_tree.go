package persistence

import (
	"database/sql"
	"fmt"
	"strings"

	. "github.com/Masterminds/squirrel"

	"github.com/cadenza-av/cadenza/log"
	"github.com/cadenza-av/cadenza/model"
)

// RemoveObject removes one object together with its descendants and every
// item referencing a removed item. With cascade set, a reference item (the
// object itself or a child of a removed container) is resolved to its
// target, which is removed in its place. Containers left childless are
// purged unless they carry the persistent flag.
func (r *objectRepository) RemoveObject(id int32, cascade bool) (*model.ChangedContainers, error) {
	var row struct {
		ObjectType int           `db:"object_type"`
		RefID      sql.NullInt32 `db:"ref_id"`
	}
	err := r.queryOne(Select("object_type", "ref_id").From(objectTable).Where(Eq{"id": id}), &row)
	if err != nil {
		return nil, err
	}

	isContainer := row.ObjectType&model.ObjectTypeContainer != 0
	if cascade && !isContainer && row.RefID.Valid {
		refID := row.RefID.Int32
		if !model.IsForbiddenID(refID) {
			id = refID
		}
	}
	if model.IsForbiddenID(id) {
		return nil, fmt.Errorf("%w: tried to remove forbidden id %d", model.ErrInvalidArgument, id)
	}

	var items, containers []int32
	if isContainer {
		containers = append(containers, id)
	} else {
		items = append(items, id)
	}
	changed, err := r.recursiveRemove(items, containers, cascade)
	if err != nil {
		return nil, err
	}
	return r.purgeEmptyContainers(changed)
}

// RemoveObjects removes a set of objects in one operation.
func (r *objectRepository) RemoveObjects(ids []int32, cascade bool) (*model.ChangedContainers, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	for _, id := range ids {
		if model.IsForbiddenID(id) {
			return nil, fmt.Errorf("%w: tried to remove forbidden id %d", model.ErrInvalidArgument, id)
		}
	}
	var rows []struct {
		ID         int32 `db:"id"`
		ObjectType int   `db:"object_type"`
	}
	err := r.queryAll(Select("id", "object_type").From(objectTable).Where(Eq{"id": ids}), &rows)
	if err != nil {
		return nil, err
	}
	var items, containers []int32
	for _, row := range rows {
		if row.ObjectType&model.ObjectTypeContainer != 0 {
			containers = append(containers, row.ID)
		} else {
			items = append(items, row.ID)
		}
	}
	changed, err := r.recursiveRemove(items, containers, cascade)
	if err != nil {
		return nil, err
	}
	return r.purgeEmptyContainers(changed)
}

func (r *objectRepository) selectIDs(sel SelectBuilder) ([]int32, error) {
	var rows []struct {
		ID int32 `db:"id"`
	}
	if err := r.queryAll(sel, &rows); err != nil {
		return nil, err
	}
	ids := make([]int32, len(rows))
	for i, row := range rows {
		ids[i] = row.ID
	}
	return ids, nil
}

// recursiveRemove computes the transitive closure over child-of and
// referenced-by edges with an iterative worklist, deleting in batches and
// collecting the containers whose content changed.
func (r *objectRepository) recursiveRemove(items, containers []int32, cascade bool) (*model.ChangedContainers, error) {
	changed := &model.ChangedContainers{}

	itemIDs := append([]int32{}, items...)
	containerIDs := append([]int32{}, containers...)
	parentIDs := append([]int32{}, items...)
	removeIDs := append([]int32{}, containers...)

	// containers to notify about before anything disappears
	if len(containers) > 0 {
		probe := append(append([]int32{}, parentIDs...), containers...)
		parents, err := r.selectIDs(Select("distinct parent_id as id").From(objectTable).Where(Eq{"id": probe}))
		if err != nil {
			return nil, err
		}
		changed.UI = append(changed.UI, parents...)
		parentIDs = nil
	}

	count := 0
	for len(itemIDs) > 0 || len(parentIDs) > 0 || len(containerIDs) > 0 {
		if len(parentIDs) > 0 {
			removeIDs = append(removeIDs, parentIDs...)
			parents, err := r.selectIDs(Select("distinct parent_id as id").From(objectTable).Where(Eq{"id": parentIDs}))
			if err != nil {
				return nil, err
			}
			parentIDs = nil
			changed.UPnP = append(changed.UPnP, parents...)
		}

		if len(itemIDs) > 0 {
			var refRows []struct {
				ID       int32 `db:"id"`
				ParentID int32 `db:"parent_id"`
			}
			err := r.queryAll(Select("distinct id", "parent_id").From(objectTable).Where(Eq{"ref_id": itemIDs}), &refRows)
			if err != nil {
				return nil, err
			}
			itemIDs = nil
			for _, row := range refRows {
				removeIDs = append(removeIDs, row.ID)
				changed.UPnP = append(changed.UPnP, row.ParentID)
			}
		}

		if len(containerIDs) > 0 {
			var childRows []struct {
				ID         int32         `db:"id"`
				ObjectType int           `db:"object_type"`
				RefID      sql.NullInt32 `db:"ref_id"`
			}
			err := r.queryAll(Select("distinct id", "object_type", "ref_id").From(objectTable).
				Where(Eq{"parent_id": containerIDs}), &childRows)
			if err != nil {
				return nil, err
			}
			containerIDs = nil
			for _, row := range childRows {
				if row.ObjectType&model.ObjectTypeContainer != 0 {
					containerIDs = append(containerIDs, row.ID)
					removeIDs = append(removeIDs, row.ID)
				} else if cascade && row.RefID.Valid && !model.IsForbiddenID(row.RefID.Int32) {
					refID := row.RefID.Int32
					parentIDs = append(parentIDs, refID)
					itemIDs = append(itemIDs, refID)
					removeIDs = append(removeIDs, refID)
				} else {
					removeIDs = append(removeIDs, row.ID)
					itemIDs = append(itemIDs, row.ID)
				}
			}
		}

		if len(removeIDs) > model.MaxRemoveSize {
			if err := r.removeBatch(removeIDs); err != nil {
				return nil, err
			}
			removeIDs = removeIDs[:0]
		}
		if count++; count > model.MaxRemoveRecursion {
			return nil, fmt.Errorf("%w: remove recursion exceeded, graph looks malformed", model.ErrDatabaseFailure)
		}
	}

	if len(removeIDs) > 0 {
		if err := r.removeBatch(removeIDs); err != nil {
			return nil, err
		}
	}
	return changed, nil
}

// removeBatch deletes rows, repairing attached autoscans first: persistent
// scans are detached keeping their last location, others are deleted.
func (r *objectRepository) removeBatch(objectIDs []int32) error {
	var scans []struct {
		ID         int32  `db:"id"`
		Persistent bool   `db:"persistent"`
		Location   string `db:"location"`
	}
	sel := fmt.Sprintf("SELECT %s AS id, %s AS persistent, %s AS location FROM %s JOIN %s ON %s = %s WHERE %s IN (%s)",
		autoscanMapper.MapQuoted("id", false),
		autoscanMapper.MapQuoted("persistent", false),
		browseMapper.MapQuoted("path", false),
		autoscanMapper.TableQuoted(), browseMapper.TableQuoted(),
		browseMapper.MapQuoted("@id", false), autoscanMapper.MapQuoted("obj_id", false),
		browseMapper.MapQuoted("@id", false), joinIDs(objectIDs))
	if err := r.rawAll(sel, nil, &scans); err != nil {
		return err
	}
	var deleteScans []int32
	for _, scan := range scans {
		if scan.Persistent {
			_, err := r.executeSQL(Update(autoscanTable).
				Set("obj_id", nil).
				Set("location", scan.Location).
				Where(Eq{"id": scan.ID}))
			if err != nil {
				return err
			}
		} else {
			deleteScans = append(deleteScans, scan.ID)
		}
	}
	if len(deleteScans) > 0 {
		if _, err := r.executeSQL(Delete(autoscanTable).Where(Eq{"id": deleteScans})); err != nil {
			return err
		}
	}

	for _, table := range []string{metadataTable, resourceTable, playStatusTable} {
		if _, err := r.executeSQL(Delete(table).Where(Eq{"item_id": objectIDs})); err != nil {
			return err
		}
	}
	_, err := r.executeSQL(Delete(objectTable).Where(Eq{"id": objectIDs}))
	return err
}

// purgeEmptyContainers iteratively removes containers left with zero
// children unless they carry the persistent flag, then reports the final
// changed sets.
func (r *objectRepository) purgeEmptyContainers(maybeEmpty *model.ChangedContainers) (*model.ChangedContainers, error) {
	if maybeEmpty.Empty() {
		return maybeEmpty, nil
	}
	changed := &model.ChangedContainers{}

	type folderRow struct {
		ID         int32  `db:"id"`
		ChildCount int    `db:"child_count"`
		ParentID   int32  `db:"parent_id"`
		Flags      uint32 `db:"flags"`
	}
	selectFor := func(ids []int32) string {
		return fmt.Sprintf(`SELECT fol.id AS id, COUNT(cld.parent_id) AS child_count, fol.parent_id AS parent_id, fol.flags AS flags
 FROM %s fol LEFT JOIN %s cld ON fol.id = cld.parent_id
 WHERE fol.object_type & %d = %d AND fol.id IN (%s) GROUP BY fol.id, fol.parent_id, fol.flags`,
			objectTable, objectTable, model.ObjectTypeContainer, model.ObjectTypeContainer, joinIDs(ids))
	}

	selUI := dedupeIDs(maybeEmpty.UI)
	selUPnP := dedupeIDs(maybeEmpty.UPnP)
	var del []int32

	count := 0
	for again := true; again; {
		again = false

		if len(selUPnP) > 0 {
			var rows []folderRow
			if err := r.rawAll(selectFor(selUPnP), nil, &rows); err != nil {
				return nil, err
			}
			selUPnP = nil
			for _, row := range rows {
				switch {
				case row.Flags&model.FlagPersistentContainer != 0:
					changed.UPnP = append(changed.UPnP, row.ID)
				case row.ChildCount == 0 && !model.IsForbiddenID(row.ID):
					del = append(del, row.ID)
					selUI = append(selUI, row.ParentID)
				default:
					selUPnP = append(selUPnP, row.ID)
				}
			}
		}

		if len(selUI) > 0 {
			var rows []folderRow
			if err := r.rawAll(selectFor(selUI), nil, &rows); err != nil {
				return nil, err
			}
			selUI = nil
			for _, row := range rows {
				switch {
				case row.Flags&model.FlagPersistentContainer != 0:
					changed.UI = append(changed.UI, row.ID)
					changed.UPnP = append(changed.UPnP, row.ID)
				case row.ChildCount == 0 && !model.IsForbiddenID(row.ID):
					del = append(del, row.ID)
					selUI = append(selUI, row.ParentID)
				default:
					selUI = append(selUI, row.ID)
				}
			}
		}

		if len(del) > 0 {
			if err := r.removeBatch(del); err != nil {
				return nil, err
			}
			del = nil
			if len(selUI) > 0 || len(selUPnP) > 0 {
				again = true
			}
		}
		if count++; count >= model.MaxRemoveRecursion {
			return nil, fmt.Errorf("%w: purge recursion exceeded", model.ErrDatabaseFailure)
		}
	}

	changed.UI = dedupeIDs(append(changed.UI, selUI...))
	changed.UPnP = dedupeIDs(append(changed.UPnP, append(selUI, selUPnP...)...))
	log.Debug(r.ctx, "Purge finished", "upnp", len(changed.UPnP), "ui", len(changed.UI))
	return changed, nil
}

// IncrementUpdateIDs atomically bumps update_id on the listed containers and
// returns the "id,value" CSV for the subscription bus.
func (r *objectRepository) IncrementUpdateIDs(ids []int32) (string, error) {
	if len(ids) == 0 {
		return "", nil
	}
	ids = dedupeIDs(ids)
	_, err := r.executeSQL(Update(objectTable).
		Set("update_id", Expr("update_id + 1")).
		Where(Eq{"id": ids}))
	if err != nil {
		return "", err
	}
	var rows []struct {
		ID       int32 `db:"id"`
		UpdateID int32 `db:"update_id"`
	}
	if err := r.queryAll(Select("id", "update_id").From(objectTable).Where(Eq{"id": ids}), &rows); err != nil {
		return "", err
	}
	parts := make([]string, 0, len(rows))
	for _, row := range rows {
		parts = append(parts, fmt.Sprintf("%d,%d", row.ID, row.UpdateID))
	}
	return strings.Join(parts, ","), nil
}

// PathIDs walks the parent chain of id up to the root, leaf first.
func (r *objectRepository) PathIDs(id int32) ([]int32, error) {
	if id == model.InvalidObjectID {
		return nil, nil
	}
	var pathIDs []int32
	for id != model.RootID {
		pathIDs = append(pathIDs, id)
		var row struct {
			ParentID int32 `db:"parent_id"`
		}
		err := r.queryOne(Select("parent_id").From(objectTable).Where(Eq{"id": id}), &row)
		if err != nil {
			break
		}
		id = row.ParentID
	}
	return pathIDs, nil
}

func joinIDs(ids []int32) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = fmt.Sprintf("%d", id)
	}
	return strings.Join(parts, ",")
}

func dedupeIDs(ids []int32) []int32 {
	seen := make(map[int32]struct{}, len(ids))
	out := make([]int32, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
