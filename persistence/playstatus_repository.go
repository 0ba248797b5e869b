package persistence

import (
	"context"
	"database/sql"
	"time"

	. "github.com/Masterminds/squirrel"
	"github.com/pocketbase/dbx"

	"github.com/cadenza-av/cadenza/model"
)

type playStatusRepository struct {
	sqlRepository
}

func newPlayStatusRepository(ctx context.Context, db dbx.Builder) *playStatusRepository {
	r := &playStatusRepository{}
	r.ctx = ctx
	r.db = db
	r.tableName = playStatusTable
	return r
}

func (r *playStatusRepository) Get(group string, itemID int32) (*model.PlayStatus, error) {
	var row struct {
		PlayCount   int           `db:"play_count"`
		LastPlayed  sql.NullInt64 `db:"last_played"`
		BookmarkPos int64         `db:"bookmark_pos"`
	}
	err := r.queryOne(r.newSelect("play_count", "last_played", "bookmark_pos").
		Where(Eq{"group_name": group, "item_id": itemID}), &row)
	if err != nil {
		return nil, err
	}
	status := &model.PlayStatus{
		Group:       group,
		ItemID:      itemID,
		PlayCount:   row.PlayCount,
		BookmarkPos: time.Duration(row.BookmarkPos) * time.Second,
	}
	if row.LastPlayed.Valid {
		status.LastPlayed = time.Unix(row.LastPlayed.Int64, 0)
	}
	return status, nil
}

func (r *playStatusRepository) Put(status *model.PlayStatus) error {
	cols := map[string]any{
		"play_count":   status.PlayCount,
		"bookmark_pos": int64(status.BookmarkPos.Seconds()),
	}
	if !status.LastPlayed.IsZero() {
		cols["last_played"] = status.LastPlayed.Unix()
	}
	affected, err := r.executeSQL(Update(playStatusTable).SetMap(cols).
		Where(Eq{"group_name": status.Group, "item_id": status.ItemID}))
	if err != nil {
		return err
	}
	if affected == 0 {
		cols["group_name"] = status.Group
		cols["item_id"] = status.ItemID
		_, err = r.executeSQL(Insert(playStatusTable).SetMap(cols))
	}
	return err
}

var _ model.PlayStatusRepository = (*playStatusRepository)(nil)
