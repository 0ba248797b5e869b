package migrations

import (
	"context"
	"database/sql"
	"hash/crc32"

	"github.com/pressly/goose/v3"
)

func init() {
	goose.AddMigrationContext(upStripLocationPrefix, downStripLocationPrefix)
}

// Locations used to carry a single-byte prefix (D directory, F file,
// V virtual). The prefix moves into the object_type virtual marker bit and
// the hashes are recomputed over the bare path.
func upStripLocationPrefix(ctx context.Context, tx *sql.Tx) error {
	rows, err := tx.QueryContext(ctx, `select id, object_type, location from cds_object
		where location is not null and location != ''`)
	if err != nil {
		return err
	}
	type fix struct {
		id         int64
		objectType int64
		location   string
	}
	var fixes []fix
	for rows.Next() {
		var f fix
		if err := rows.Scan(&f.id, &f.objectType, &f.location); err != nil {
			rows.Close()
			return err
		}
		switch f.location[0] {
		case 'D', 'F':
			f.location = f.location[1:]
		case 'V':
			f.location = f.location[1:]
			f.objectType |= 0x0010
		default:
			continue
		}
		fixes = append(fixes, f)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	for _, f := range fixes {
		hash := int64(crc32.ChecksumIEEE([]byte(f.location)))
		_, err := tx.ExecContext(ctx,
			`update cds_object set location = ?, location_hash = ?, object_type = ? where id = ?`,
			f.location, hash, f.objectType, f.id)
		if err != nil {
			return err
		}
	}
	_, err = tx.ExecContext(ctx, `update internal_setting set value = '2' where key = 'db_version'`)
	return err
}

func downStripLocationPrefix(_ context.Context, _ *sql.Tx) error {
	// prefixes are not recoverable once the marker bit is authoritative
	return nil
}
