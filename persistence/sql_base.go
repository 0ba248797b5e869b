package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	. "github.com/Masterminds/squirrel"
	"github.com/pocketbase/dbx"

	"github.com/cadenza-av/cadenza/log"
	"github.com/cadenza-av/cadenza/model"
)

// sqlRepository is the shared base of all repositories: it bridges squirrel
// builders onto the dbx executor and normalizes error kinds.
type sqlRepository struct {
	ctx       context.Context
	db        dbx.Builder
	tableName string
}

func (r sqlRepository) newSelect(columns ...string) SelectBuilder {
	if len(columns) == 0 {
		columns = []string{"*"}
	}
	return Select(columns...).From(r.tableName)
}

// toSQL renders a squirrel Sqlizer and rebinds its positional placeholders
// into dbx named parameters.
func (r sqlRepository) toSQL(sp Sqlizer) (string, dbx.Params, error) {
	query, args, err := sp.ToSql()
	if err != nil {
		return "", nil, fmt.Errorf("building query: %w", err)
	}
	params := dbx.Params{}
	final := make([]byte, 0, len(query)+len(args)*4)
	argIndex := 0
	for i := 0; i < len(query); i++ {
		if query[i] != '?' {
			final = append(final, query[i])
			continue
		}
		name := fmt.Sprintf("p%d", argIndex)
		params[name] = args[argIndex]
		final = append(final, []byte("{:"+name+"}")...)
		argIndex++
	}
	if argIndex != len(args) {
		return "", nil, fmt.Errorf("placeholder count mismatch in %q", query)
	}
	return string(final), params, nil
}

func (r sqlRepository) queryAll(sp Sqlizer, out any) error {
	query, params, err := r.toSQL(sp)
	if err != nil {
		return err
	}
	err = r.db.NewQuery(query).Bind(params).WithContext(r.ctx).All(out)
	return r.wrapError(err, query)
}

func (r sqlRepository) queryOne(sp Sqlizer, out any) error {
	query, params, err := r.toSQL(sp)
	if err != nil {
		return err
	}
	err = r.db.NewQuery(query).Bind(params).WithContext(r.ctx).One(out)
	return r.wrapError(err, query)
}

func (r sqlRepository) executeSQL(sp Sqlizer) (int64, error) {
	query, params, err := r.toSQL(sp)
	if err != nil {
		return 0, err
	}
	res, err := r.db.NewQuery(query).Bind(params).WithContext(r.ctx).Execute()
	if err != nil {
		return 0, r.wrapError(err, query)
	}
	affected, _ := res.RowsAffected()
	return affected, nil
}

// insertReturningID executes an INSERT and returns the generated key.
func (r sqlRepository) insertReturningID(sp Sqlizer) (int64, error) {
	query, params, err := r.toSQL(sp)
	if err != nil {
		return 0, err
	}
	res, err := r.db.NewQuery(query).Bind(params).WithContext(r.ctx).Execute()
	if err != nil {
		return 0, r.wrapError(err, query)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("%w: fetching last insert id: %v", model.ErrDatabaseFailure, err)
	}
	return id, nil
}

func (r sqlRepository) count(sp SelectBuilder) (int, error) {
	var res struct {
		Count int `db:"count"`
	}
	err := r.queryOne(sp.RemoveColumns().Column("count(*) as count"), &res)
	if errors.Is(err, model.ErrNotFound) {
		return 0, nil
	}
	return res.Count, err
}

func (r sqlRepository) exists(cond Sqlizer) (bool, error) {
	c, err := r.count(r.newSelect().Where(cond))
	return c > 0, err
}

func (r sqlRepository) delete(cond Sqlizer) error {
	_, err := r.executeSQL(Delete(r.tableName).Where(cond))
	return err
}

func (r sqlRepository) wrapError(err error, query string) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, sql.ErrNoRows):
		return model.ErrNotFound
	default:
		log.Error(r.ctx, "SQL statement failed", err, "query", query)
		return fmt.Errorf("%w: %v", model.ErrDatabaseFailure, err)
	}
}
