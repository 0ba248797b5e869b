package persistence

import (
	"context"
	"strings"

	. "github.com/Masterminds/squirrel"
	"github.com/pocketbase/dbx"

	"github.com/cadenza-av/cadenza/model"
)

type configValueRepository struct {
	sqlRepository
}

func newConfigValueRepository(ctx context.Context, db dbx.Builder) *configValueRepository {
	r := &configValueRepository{}
	r.ctx = ctx
	r.db = db
	r.tableName = configTable
	return r
}

type dbConfigValue struct {
	Item   string `db:"item"`
	Key    string `db:"key"`
	Value  string `db:"value"`
	Status string `db:"status"`
}

func (r *configValueRepository) GetAll() ([]model.ConfigValue, error) {
	var rows []dbConfigValue
	if err := r.queryAll(r.newSelect().OrderBy("item"), &rows); err != nil {
		return nil, err
	}
	result := make([]model.ConfigValue, len(rows))
	for i, row := range rows {
		result[i] = model.ConfigValue{
			Item:   row.Item,
			Key:    row.Key,
			Value:  row.Value,
			Status: model.ConfigValueStatus(row.Status),
		}
	}
	return result, nil
}

// Update persists one UI config edit. A reset either restores the row to
// unchanged or, when the xpath addresses a list entry (it ends with "]"),
// drops the row entirely.
func (r *configValueRepository) Update(key, item, value string, status model.ConfigValueStatus) error {
	if status == model.StatusReset {
		if strings.HasSuffix(item, "]") {
			return r.Remove(item)
		}
		status = model.StatusUnchanged
	}
	affected, err := r.executeSQL(Update(configTable).
		Set("key", key).
		Set("value", value).
		Set("status", string(status)).
		Where(Eq{"item": item}))
	if err != nil {
		return err
	}
	if affected == 0 {
		_, err = r.executeSQL(Insert(configTable).
			Columns("item", "key", "value", "status").
			Values(item, key, value, string(status)))
	}
	return err
}

func (r *configValueRepository) Remove(item string) error {
	return r.delete(Eq{"item": item})
}

var _ model.ConfigValueRepository = (*configValueRepository)(nil)
