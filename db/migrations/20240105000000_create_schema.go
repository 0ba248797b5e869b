package migrations

import (
	"context"
	"database/sql"

	"github.com/pressly/goose/v3"
)

func init() {
	goose.AddMigrationContext(upCreateSchema, downCreateSchema)
}

func upCreateSchema(_ context.Context, tx *sql.Tx) error {
	_, err := tx.Exec(`
create table if not exists cds_object
(
    id            integer not null primary key autoincrement,
    ref_id        integer references cds_object(id),
    parent_id     integer not null default 0,
    object_type   integer not null,
    upnp_class    varchar(80),
    dc_title      varchar(255),
    location      text,
    location_hash integer,
    auxdata       text,
    update_id     integer not null default 0,
    mime_type     varchar(40),
    flags         integer not null default 1,
    part_number   integer,
    track_number  integer,
    service_id    varchar(255),
    bookmark_pos  integer not null default 0,
    last_modified integer,
    last_updated  integer default 0
);

create index if not exists cds_object_parent on cds_object(parent_id, object_type, dc_title);
create index if not exists cds_object_ref on cds_object(ref_id);
create index if not exists cds_object_path on cds_object(location_hash);
create index if not exists cds_object_service on cds_object(service_id);

create table if not exists metadata
(
    id             integer not null primary key autoincrement,
    item_id        integer not null references cds_object(id) on delete cascade,
    property_name  varchar(255) not null,
    property_value text not null
);

create index if not exists metadata_item on metadata(item_id);

create table if not exists resource
(
    item_id      integer not null references cds_object(id) on delete cascade,
    res_id       integer not null,
    handler_type integer not null default 0,
    purpose      integer not null default 0,
    options      text,
    parameters   text,
    primary key (item_id, res_id)
);

create table if not exists autoscan
(
    id            integer not null primary key autoincrement,
    obj_id        integer references cds_object(id),
    scan_mode     varchar(16) not null,
    recursive     boolean not null default false,
    hidden        boolean not null default false,
    scan_interval integer not null default 0,
    last_modified integer,
    persistent    boolean not null default false,
    location      text,
    path_ids      text,
    touched       boolean not null default true
);

create unique index if not exists autoscan_obj_id on autoscan(obj_id);

create table if not exists internal_setting
(
    key   varchar(40) not null primary key,
    value varchar(255) not null
);

create table if not exists config_value
(
    item   varchar(255) not null primary key,
    key    varchar(255) not null,
    value  text not null,
    status varchar(20) not null
);

create table if not exists client
(
    addr       varchar(64) not null primary key,
    port       integer not null default 0,
    user_agent text,
    headers    text,
    first_seen integer not null,
    last_seen  integer not null
);

create table if not exists playstatus
(
    group_name   varchar(64) not null,
    item_id      integer not null,
    play_count   integer not null default 0,
    last_played  integer,
    bookmark_pos integer not null default 0,
    primary key (group_name, item_id)
);

insert into cds_object (id, parent_id, object_type, upnp_class, dc_title, flags)
    values (0, -1, 1, 'object.container', 'Root', 1);
insert into cds_object (id, parent_id, object_type, upnp_class, dc_title, flags)
    values (1, 0, 1, 'object.container', 'PC Directory', 1);

insert into internal_setting (key, value) values ('db_version', '1');
insert into internal_setting (key, value) values ('system_update_id', '0');
`)
	return err
}

func downCreateSchema(_ context.Context, tx *sql.Tx) error {
	_, err := tx.Exec(`
drop table if exists playstatus;
drop table if exists client;
drop table if exists config_value;
drop table if exists internal_setting;
drop table if exists autoscan;
drop table if exists resource;
drop table if exists metadata;
drop table if exists cds_object;
`)
	return err
}
