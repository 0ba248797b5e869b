package persistence

import (
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	. "github.com/Masterminds/squirrel"
	"github.com/pocketbase/dbx"

	"github.com/cadenza-av/cadenza/log"
	"github.com/cadenza-av/cadenza/model"
)

// storedType renders the persisted object_type bits including the virtual
// marker.
func storedType(obj *model.Object) int {
	t := obj.ObjectType
	if obj.Virtual {
		t |= model.ObjectTypeVirtualMarker
	}
	return t
}

// checkRefID resolves the reference target of a virtual pure item: either
// the explicit ref id or the non-virtual item at the same location.
func (r *objectRepository) checkRefID(obj *model.Object) (*model.Object, error) {
	if !obj.Virtual {
		return nil, fmt.Errorf("%w: checkRefID called for non-virtual object", model.ErrInvalidArgument)
	}
	if obj.RefID > 0 {
		refObj, err := r.LoadObject(obj.RefID)
		if err == nil && refObj.Location != "" {
			return refObj, nil
		}
	}
	if obj.Location == "" {
		return nil, fmt.Errorf("%w: virtual item has no reference and no location", model.ErrInvalidArgument)
	}
	return r.FindObjectByPath(obj.Location, true)
}

// columnSet is one sub-table write: nil values become SQL NULL.
type columnSet map[string]any

// buildObjectColumns computes the cds_object column values for an insert or
// update, nulling columns whose value is inherited from the reference row.
func (r *objectRepository) buildObjectColumns(obj *model.Object, isUpdate bool) (columnSet, int32, bool, error) {
	changedContainer := int32(model.InvalidObjectID)

	var refObj *model.Object
	hasReference := false
	playlistRef := obj.GetFlag(model.FlagPlaylistRef)
	switch {
	case playlistRef:
		if obj.IsPureItem() && !obj.Virtual {
			return nil, changedContainer, false, fmt.Errorf("%w: pure item with playlist-ref flag", model.ErrInvalidArgument)
		}
		if obj.RefID <= 0 {
			return nil, changedContainer, false, fmt.Errorf("%w: playlist-ref flag without ref id", model.ErrInvalidArgument)
		}
		var err error
		refObj, err = r.LoadObject(obj.RefID)
		if err != nil {
			return nil, changedContainer, false, fmt.Errorf("%w: playlist-ref target %d missing", model.ErrInvalidArgument, obj.RefID)
		}
	case obj.Virtual && obj.IsPureItem():
		var err error
		refObj, err = r.checkRefID(obj)
		if err != nil {
			return nil, changedContainer, false, fmt.Errorf("%w: virtual item with illegal reference and location", model.ErrInvalidArgument)
		}
		hasReference = true
	case obj.RefID > 0:
		if obj.GetFlag(model.FlagOnlineService) {
			var err error
			refObj, err = r.LoadObject(obj.RefID)
			if err != nil {
				return nil, changedContainer, false, fmt.Errorf("%w: online-service ref %d missing", model.ErrInvalidArgument, obj.RefID)
			}
			hasReference = true
		} else if !obj.IsContainer() {
			return nil, changedContainer, false, fmt.Errorf("%w: ref id set on plain item", model.ErrInvalidArgument)
		}
	}

	cols := columnSet{"object_type": storedType(obj)}

	if hasReference || playlistRef {
		cols["ref_id"] = refObj.ID
	} else if isUpdate {
		cols["ref_id"] = nil
	}

	if !hasReference || refObj.Class != obj.Class {
		cols["upnp_class"] = obj.Class
	} else if isUpdate {
		cols["upnp_class"] = nil
	}

	cols["dc_title"] = obj.Title

	if isUpdate {
		cols["auxdata"] = nil
	}
	if len(obj.AuxData) > 0 && (!hasReference || encodeDict(obj.AuxData) != encodeDict(refObj.AuxData)) {
		cols["auxdata"] = encodeDict(obj.AuxData)
	}

	useResourceRef := obj.GetFlag(model.FlagUseResourceRef)
	cols["flags"] = obj.Flags

	if !obj.LastModified.IsZero() {
		cols["last_modified"] = obj.LastModified.Unix()
	} else {
		cols["last_modified"] = nil
	}
	cols["last_updated"] = model.Now().Unix()

	if obj.IsContainer() && isUpdate && obj.Virtual {
		cols["location"] = obj.Location
		cols["location_hash"] = int64(model.LocationHash(obj.Location))
	}

	if obj.IsItem() {
		if !hasReference {
			if obj.Location == "" {
				return nil, changedContainer, false, fmt.Errorf("%w: non-referenced item without location", model.ErrInvalidArgument)
			}
			if obj.IsPureItem() {
				parentID, deepest, err := r.ensurePathExistence(filepath.Dir(obj.Location))
				if err != nil {
					return nil, changedContainer, false, err
				}
				obj.ParentID = parentID
				changedContainer = deepest
				cols["location"] = obj.Location
				cols["location_hash"] = int64(model.LocationHash(obj.Location))
			} else {
				cols["location"] = obj.Location
				cols["location_hash"] = nil
			}
		} else if isUpdate {
			cols["location"] = nil
			cols["location_hash"] = nil
		}

		if obj.TrackNumber > 0 {
			cols["track_number"] = obj.TrackNumber
		} else if isUpdate {
			cols["track_number"] = nil
		}
		if obj.PartNumber > 0 {
			cols["part_number"] = obj.PartNumber
		} else if isUpdate {
			cols["part_number"] = nil
		}
		cols["bookmark_pos"] = int64(obj.BookmarkPos.Seconds())

		if obj.ServiceID != "" {
			if !hasReference || refObj.ServiceID != obj.ServiceID {
				cols["service_id"] = obj.ServiceID
			} else {
				cols["service_id"] = nil
			}
		} else if isUpdate {
			cols["service_id"] = nil
		}

		mime := obj.MimeType
		if len(mime) > 40 {
			mime = mime[:40]
		}
		cols["mime_type"] = mime
	}

	// duplicate detection for reference-bearing inserts
	if hasReference && !isUpdate {
		dup, err := r.exists(And{
			Eq{"parent_id": obj.ParentID},
			Eq{"ref_id": refObj.ID},
			Eq{"dc_title": obj.Title},
		})
		if err != nil {
			return nil, changedContainer, false, err
		}
		if dup {
			return nil, changedContainer, true, nil
		}
	}

	if obj.ParentID == model.InvalidObjectID {
		return nil, changedContainer, false, fmt.Errorf("%w: illegal parent id for %q", model.ErrInvalidArgument, obj.Location)
	}
	cols["parent_id"] = obj.ParentID

	// metadata and resources are skipped entirely when fully inherited
	if hasReference && mapsEqualStr(obj.Metadata, refObj.Metadata) {
		obj.Metadata = nil
	}
	if hasReference && useResourceRef {
		obj.Resources = nil
	} else if hasReference && refObj.ResourcesEqual(obj) {
		obj.Resources = nil
	}

	return cols, changedContainer, false, nil
}

func mapsEqualStr(a, b map[string]string) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		if b[k] != v {
			return false
		}
	}
	return true
}

// AddObject inserts obj and its sub-tables, assigning the new id. A
// duplicate reference insert is silently dropped.
func (r *objectRepository) AddObject(obj *model.Object) (int32, error) {
	if obj.ID != model.InvalidObjectID {
		return model.InvalidObjectID, fmt.Errorf("%w: object already has an id", model.ErrInvalidArgument)
	}
	cols, changedContainer, duplicate, err := r.buildObjectColumns(obj, false)
	if err != nil {
		return changedContainer, err
	}
	if duplicate {
		log.Debug(r.ctx, "Dropping duplicate reference insert", "parent", obj.ParentID, "title", obj.Title)
		return changedContainer, nil
	}

	insert := Insert(objectTable).SetMap(map[string]any(cols))
	newID, err := r.insertReturningID(insert)
	if err != nil {
		return changedContainer, err
	}
	obj.ID = int32(newID)

	if err := r.writeMetadata(obj.ID, obj.Metadata); err != nil {
		return changedContainer, err
	}
	if err := r.writeResources(obj.ID, obj.Resources); err != nil {
		return changedContainer, err
	}
	return changedContainer, nil
}

// UpdateObject diffs metadata and resources against the stored rows inside
// one logical operation. FS_ROOT accepts only a rename.
func (r *objectRepository) UpdateObject(obj *model.Object) (int32, error) {
	changedContainer := int32(model.InvalidObjectID)
	if obj.ID == model.FsRootID {
		_, err := r.executeSQL(Update(objectTable).
			Set("dc_title", obj.Title).
			Set("upnp_class", obj.Class).
			Where(Eq{"id": obj.ID}))
		return changedContainer, err
	}
	if model.IsForbiddenID(obj.ID) {
		return changedContainer, fmt.Errorf("%w: forbidden object id %d", model.ErrInvalidArgument, obj.ID)
	}

	cols, changedContainer, _, err := r.buildObjectColumns(obj, true)
	if err != nil {
		return changedContainer, err
	}
	if _, err := r.executeSQL(Update(objectTable).SetMap(map[string]any(cols)).Where(Eq{"id": obj.ID})); err != nil {
		return changedContainer, err
	}

	if _, err := r.executeSQL(Delete(metadataTable).Where(Eq{"item_id": obj.ID})); err != nil {
		return changedContainer, err
	}
	if err := r.writeMetadata(obj.ID, obj.Metadata); err != nil {
		return changedContainer, err
	}
	if err := r.replaceResources(obj.ID, obj.Resources); err != nil {
		return changedContainer, err
	}
	return changedContainer, nil
}

func (r *objectRepository) writeMetadata(id int32, metadata map[string]string) error {
	for key, value := range metadata {
		_, err := r.executeSQL(Insert(metadataTable).Columns("item_id", "property_name", "property_value").
			Values(id, key, value))
		if err != nil {
			return err
		}
	}
	return nil
}

func resourceColumns(id int32, res *model.Resource, resID int) map[string]any {
	intAttr := func(name string) any {
		if v, ok := res.Attributes[name]; ok {
			if n, err := strconv.ParseInt(v, 10, 64); err == nil {
				return n
			}
		}
		return nil
	}
	strAttr := func(name string) any {
		if v, ok := res.Attributes[name]; ok && v != "" {
			return v
		}
		return nil
	}
	return map[string]any{
		"item_id":           id,
		"res_id":            resID,
		"handler_type":      int(res.HandlerType),
		"purpose":           int(res.Purpose),
		"options":           encodeDict(res.Options),
		"parameters":        encodeDict(res.Parameters),
		"protocol_info":     strAttr(model.ResAttrProtocolInfo),
		"size":              intAttr(model.ResAttrSize),
		"duration":          strAttr(model.ResAttrDuration),
		"bitrate":           intAttr(model.ResAttrBitrate),
		"resolution":        strAttr(model.ResAttrResolution),
		"sample_frequency":  intAttr(model.ResAttrSampleFrequency),
		"nr_audio_channels": intAttr(model.ResAttrNrAudioChannels),
		"language":          strAttr(model.ResAttrLanguage),
	}
}

func (r *objectRepository) writeResources(id int32, resources []*model.Resource) error {
	for i, res := range resources {
		_, err := r.executeSQL(Insert(resourceTable).SetMap(resourceColumns(id, res, i)))
		if err != nil {
			return err
		}
	}
	return nil
}

// replaceResources rewrites the resource list keeping res_id values dense
// [0..n).
func (r *objectRepository) replaceResources(id int32, resources []*model.Resource) error {
	if _, err := r.executeSQL(Delete(resourceTable).
		Where(Eq{"item_id": id}).
		Where(GtOrEq{"res_id": len(resources)})); err != nil {
		return err
	}
	for i, res := range resources {
		cols := resourceColumns(id, res, i)
		affected, err := r.executeSQL(Update(resourceTable).SetMap(cols).
			Where(Eq{"item_id": id, "res_id": i}))
		if err != nil {
			return err
		}
		if affected == 0 {
			if _, err := r.executeSQL(Insert(resourceTable).SetMap(cols)); err != nil {
				return err
			}
		}
	}
	return nil
}

// FindObjectByPath matches by location hash then the full location;
// references are excluded so virtual aliases never shadow the primary
// object.
func (r *objectRepository) FindObjectByPath(fullpath string, wasRegularFile bool) (*model.Object, error) {
	_ = wasRegularFile
	query := browseQuery() +
		" WHERE c.location_hash = {:hash} AND c.location = {:loc} AND c.ref_id IS NULL LIMIT 1"
	var rows []dbObject
	err := r.rawAll(query, dbx.Params{
		"hash": int64(model.LocationHash(fullpath)),
		"loc":  fullpath,
	}, &rows)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("%w: path %q", model.ErrNotFound, fullpath)
	}
	return r.materialize(&rows[0], true)
}

func (r *objectRepository) FindObjectIDByPath(fullpath string, wasRegularFile bool) (int32, error) {
	obj, err := r.FindObjectByPath(fullpath, wasRegularFile)
	if err != nil {
		return model.InvalidObjectID, err
	}
	return obj.ID, nil
}

// ensurePathExistence walks up the physical path creating missing ancestor
// containers; it returns the parent id for the leaf and the deepest newly
// created container.
func (r *objectRepository) ensurePathExistence(path string) (int32, int32, error) {
	if path == "/" || path == "." || path == "" {
		return model.FsRootID, model.InvalidObjectID, nil
	}
	obj, err := r.FindObjectByPath(path, false)
	if err == nil {
		return obj.ID, model.InvalidObjectID, nil
	}
	if !errors.Is(err, model.ErrNotFound) {
		return model.InvalidObjectID, model.InvalidObjectID, err
	}
	parentID, _, err := r.ensurePathExistence(filepath.Dir(path))
	if err != nil {
		return model.InvalidObjectID, model.InvalidObjectID, err
	}
	// the container created here is deeper than any created by the ancestors
	newID, err := r.createContainer(parentID, filepath.Base(path), path, false, "", 0, nil)
	return newID, newID, err
}

func (r *objectRepository) createContainer(parentID int32, name, location string, virtual bool, class string, refID int32, metadata map[string]string) (int32, error) {
	if refID > 0 {
		if _, err := r.LoadObject(refID); err != nil {
			return model.InvalidObjectID, fmt.Errorf("%w: container ref %d missing", model.ErrInvalidArgument, refID)
		}
	}
	if class == "" {
		class = model.ClassContainer
	}
	objType := model.ObjectTypeContainer
	if virtual {
		objType |= model.ObjectTypeVirtualMarker
	}
	cols := map[string]any{
		"parent_id":     parentID,
		"object_type":   objType,
		"upnp_class":    class,
		"dc_title":      name,
		"location":      location,
		"location_hash": int64(model.LocationHash(location)),
		"flags":         model.FlagRestricted,
		"last_updated":  model.Now().Unix(),
	}
	if refID > 0 {
		cols["ref_id"] = refID
	}
	newID, err := r.insertReturningID(Insert(objectTable).SetMap(cols))
	if err != nil {
		return model.InvalidObjectID, err
	}
	if err := r.writeMetadata(int32(newID), metadata); err != nil {
		return model.InvalidObjectID, err
	}
	log.Debug(r.ctx, "Created container", "id", newID, "location", location, "virtual", virtual)
	return int32(newID), nil
}

// AddContainerChain idempotently creates the virtual path, applying the
// class chain segment by segment and the metadata only to the leaf. Newly
// created ids are returned deepest first.
func (r *objectRepository) AddContainerChain(virtualPath, lastClass string, lastRefID int32, lastMetadata map[string]string) (int32, []int32, error) {
	virtualPath = reduceSlashes(virtualPath)
	if virtualPath == "/" || virtualPath == "" {
		return model.RootID, nil, nil
	}

	var row struct {
		ID int32 `db:"id"`
	}
	err := r.queryOne(Select("id").From(objectTable).
		Where(Eq{"location_hash": int64(model.LocationHash(virtualPath))}).
		Where(Eq{"location": virtualPath}).
		Where(fmt.Sprintf("object_type & %d = %d", model.ObjectTypeContainer, model.ObjectTypeContainer)),
		&row)
	if err == nil {
		return row.ID, nil, nil
	}
	if !errors.Is(err, model.ErrNotFound) {
		return model.InvalidObjectID, nil, err
	}

	parentPath, leafName := splitVirtualPath(virtualPath)
	classes := strings.Split(lastClass, "/")
	leafClass := classes[len(classes)-1]
	parentClasses := strings.Join(classes[:len(classes)-1], "/")

	parentID, created, err := r.AddContainerChain(parentPath, parentClasses, 0, nil)
	if err != nil {
		return model.InvalidObjectID, created, err
	}

	leafID, err := r.createContainer(parentID, unescapeVirtualSegment(leafName), virtualPath, true, leafClass, lastRefID, lastMetadata)
	if err != nil {
		return model.InvalidObjectID, created, err
	}
	return leafID, append([]int32{leafID}, created...), nil
}

// BuildContainerPath appends an escaped title to the parent's virtual path.
func (r *objectRepository) BuildContainerPath(parentID int32, title string) (string, error) {
	escaped := escapeVirtualSegment(title)
	if parentID == model.RootID {
		return "/" + escaped, nil
	}
	var row struct {
		Location   string `db:"location"`
		ObjectType int    `db:"object_type"`
	}
	err := r.queryOne(Select("location", "object_type").From(objectTable).Where(Eq{"id": parentID}), &row)
	if err != nil {
		return "", err
	}
	if row.ObjectType&model.ObjectTypeVirtualMarker == 0 {
		return "", fmt.Errorf("%w: parent %d is not a virtual container", model.ErrInvalidArgument, parentID)
	}
	return row.Location + "/" + escaped, nil
}

func reduceSlashes(p string) string {
	for strings.Contains(p, "//") {
		p = strings.ReplaceAll(p, "//", "/")
	}
	return strings.TrimSuffix(p, "/")
}

// splitVirtualPath splits off the last path segment honoring backslash
// escapes of the separator.
func splitVirtualPath(p string) (string, string) {
	for i := len(p) - 1; i >= 0; i-- {
		if p[i] == '/' && (i == 0 || p[i-1] != '\\') {
			if i == 0 {
				return "/", p[1:]
			}
			return p[:i], p[i+1:]
		}
	}
	return "/", p
}

func escapeVirtualSegment(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	return strings.ReplaceAll(s, "/", `\/`)
}

func unescapeVirtualSegment(s string) string {
	s = strings.ReplaceAll(s, `\/`, "/")
	return strings.ReplaceAll(s, `\\`, `\`)
}
