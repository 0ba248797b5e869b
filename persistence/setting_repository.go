package persistence

import (
	"context"

	. "github.com/Masterminds/squirrel"
	"github.com/pocketbase/dbx"

	"github.com/cadenza-av/cadenza/model"
)

type settingRepository struct {
	sqlRepository
}

func newSettingRepository(ctx context.Context, db dbx.Builder) *settingRepository {
	r := &settingRepository{}
	r.ctx = ctx
	r.db = db
	r.tableName = settingTable
	return r
}

func (r *settingRepository) Get(key string) (string, error) {
	var row struct {
		Value string `db:"value"`
	}
	err := r.queryOne(r.newSelect("value").Where(Eq{"key": key}), &row)
	return row.Value, err
}

func (r *settingRepository) Put(key, value string) error {
	affected, err := r.executeSQL(Update(settingTable).Set("value", value).Where(Eq{"key": key}))
	if err != nil {
		return err
	}
	if affected == 0 {
		_, err = r.executeSQL(Insert(settingTable).Columns("key", "value").Values(key, value))
	}
	return err
}

var _ model.SettingRepository = (*settingRepository)(nil)
