package persistence

import (
	"context"
	"time"

	. "github.com/Masterminds/squirrel"
	"github.com/pocketbase/dbx"

	"github.com/cadenza-av/cadenza/model"
)

type clientRepository struct {
	sqlRepository
}

func newClientRepository(ctx context.Context, db dbx.Builder) *clientRepository {
	r := &clientRepository{}
	r.ctx = ctx
	r.db = db
	r.tableName = clientTable
	return r
}

type dbClient struct {
	Addr      string `db:"addr"`
	Port      int    `db:"port"`
	UserAgent string `db:"user_agent"`
	Headers   string `db:"headers"`
	FirstSeen int64  `db:"first_seen"`
	LastSeen  int64  `db:"last_seen"`
}

func (r *clientRepository) GetAll() (model.ClientObservations, error) {
	var rows []dbClient
	if err := r.queryAll(r.newSelect().OrderBy("last_seen desc"), &rows); err != nil {
		return nil, err
	}
	result := make(model.ClientObservations, len(rows))
	for i, row := range rows {
		result[i] = &model.ClientObservation{
			Addr:      row.Addr,
			Port:      row.Port,
			UserAgent: row.UserAgent,
			Headers:   decodeDict(row.Headers),
			FirstSeen: time.Unix(row.FirstSeen, 0),
			LastSeen:  time.Unix(row.LastSeen, 0),
		}
	}
	return result, nil
}

func (r *clientRepository) Put(obs *model.ClientObservation) error {
	cols := map[string]any{
		"port":       obs.Port,
		"user_agent": obs.UserAgent,
		"headers":    encodeDict(obs.Headers),
		"first_seen": obs.FirstSeen.Unix(),
		"last_seen":  obs.LastSeen.Unix(),
	}
	affected, err := r.executeSQL(Update(clientTable).SetMap(cols).Where(Eq{"addr": obs.Addr}))
	if err != nil {
		return err
	}
	if affected == 0 {
		cols["addr"] = obs.Addr
		_, err = r.executeSQL(Insert(clientTable).SetMap(cols))
	}
	return err
}

func (r *clientRepository) Delete(addr string) error {
	return r.delete(Eq{"addr": addr})
}

func (r *clientRepository) DeleteBefore(cutoff time.Time) error {
	return r.delete(Lt{"last_seen": cutoff.Unix()})
}

var _ model.ClientRepository = (*clientRepository)(nil)
