package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"
	"time"

	. "github.com/Masterminds/squirrel"
	"github.com/pocketbase/dbx"

	"github.com/cadenza-av/cadenza/conf"
	"github.com/cadenza-av/cadenza/core/search"
	"github.com/cadenza-av/cadenza/log"
	"github.com/cadenza-av/cadenza/model"
)

type objectRepository struct {
	sqlRepository
	shared *storeShared
}

func newObjectRepository(ctx context.Context, db dbx.Builder, shared *storeShared) *objectRepository {
	r := &objectRepository{shared: shared}
	r.ctx = ctx
	r.db = db
	r.tableName = objectTable
	return r
}

// dbObject is the scan target of the browse query: the object row, the
// referenced row and the attached autoscan row.
type dbObject struct {
	ID           int32          `db:"id"`
	RefID        sql.NullInt32  `db:"ref_id"`
	ParentID     int32          `db:"parent_id"`
	ObjectType   int            `db:"object_type"`
	UpnpClass    sql.NullString `db:"upnp_class"`
	DcTitle      sql.NullString `db:"dc_title"`
	Location     sql.NullString `db:"location"`
	Auxdata      sql.NullString `db:"auxdata"`
	UpdateID     int32          `db:"update_id"`
	MimeType     sql.NullString `db:"mime_type"`
	Flags        uint32         `db:"flags"`
	PartNumber   sql.NullInt32  `db:"part_number"`
	TrackNumber  sql.NullInt32  `db:"track_number"`
	ServiceID    sql.NullString `db:"service_id"`
	BookmarkPos  int64          `db:"bookmark_pos"`
	LastModified sql.NullInt64  `db:"last_modified"`
	LastUpdated  sql.NullInt64  `db:"last_updated"`

	RefObjectType sql.NullInt32  `db:"ref_object_type"`
	RefUpnpClass  sql.NullString `db:"ref_upnp_class"`
	RefLocation   sql.NullString `db:"ref_location"`
	RefMimeType   sql.NullString `db:"ref_mime_type"`
	RefServiceID  sql.NullString `db:"ref_service_id"`

	AsPersistent sql.NullBool `db:"as_persistent"`
}

var browseColumns = []string{
	"c.id", "c.ref_id", "c.parent_id", "c.object_type", "c.upnp_class",
	"c.dc_title", "c.location", "c.auxdata", "c.update_id", "c.mime_type",
	"c.flags", "c.part_number", "c.track_number", "c.service_id",
	"c.bookmark_pos", "c.last_modified", "c.last_updated",
	"r.object_type AS ref_object_type", "r.upnp_class AS ref_upnp_class",
	"r.location AS ref_location", "r.mime_type AS ref_mime_type",
	"r.service_id AS ref_service_id",
	"a.persistent AS as_persistent",
}

// browseQuery is the alias pattern of the engine: object row "c", referenced
// row "r", autoscan row "a".
func browseQuery() string {
	return fmt.Sprintf("SELECT %s FROM %s c LEFT JOIN %s r ON c.ref_id = r.id LEFT JOIN %s a ON a.obj_id = c.id",
		strings.Join(browseColumns, ", "), objectTable, objectTable, autoscanTable)
}

func (r *objectRepository) rawAll(query string, params dbx.Params, out any) error {
	err := r.db.NewQuery(query).Bind(params).WithContext(r.ctx).All(out)
	return r.wrapError(err, query)
}

// materialize turns a scanned row into a model object, back-filling
// inherited fields from the referenced row.
func (r *objectRepository) materialize(row *dbObject, withDetails bool) (*model.Object, error) {
	obj := &model.Object{
		ID:          row.ID,
		ParentID:    row.ParentID,
		ObjectType:  row.ObjectType &^ model.ObjectTypeVirtualMarker,
		Virtual:     row.ObjectType&model.ObjectTypeVirtualMarker != 0,
		Title:       row.DcTitle.String,
		Class:       row.UpnpClass.String,
		Location:    row.Location.String,
		MimeType:    row.MimeType.String,
		Flags:       row.Flags,
		UpdateID:    row.UpdateID,
		ServiceID:   row.ServiceID.String,
		BookmarkPos: time.Duration(row.BookmarkPos) * time.Second,
		PartNumber:  int(row.PartNumber.Int32),
		TrackNumber: int(row.TrackNumber.Int32),
		Metadata:    map[string]string{},
		AuxData:     decodeDict(row.Auxdata.String),
	}
	if row.RefID.Valid {
		obj.RefID = row.RefID.Int32
	}
	if row.LastModified.Valid {
		obj.LastModified = time.Unix(row.LastModified.Int64, 0)
	}
	if row.LastUpdated.Valid {
		obj.LastUpdated = time.Unix(row.LastUpdated.Int64, 0)
	}
	if row.AsPersistent.Valid && row.AsPersistent.Bool {
		obj.SetFlag(model.FlagPersistentContainer)
	}

	// inherit unset columns from the reference row
	if obj.RefID > 0 {
		if obj.Class == "" {
			obj.Class = row.RefUpnpClass.String
		}
		if obj.Location == "" {
			obj.Location = row.RefLocation.String
		}
		if obj.MimeType == "" {
			obj.MimeType = row.RefMimeType.String
		}
		if obj.ServiceID == "" {
			obj.ServiceID = row.RefServiceID.String
		}
	}

	if withDetails {
		meta, err := r.metadataFor(obj.ID)
		if err != nil {
			return nil, err
		}
		if len(meta) == 0 && obj.RefID > 0 {
			meta, err = r.metadataFor(obj.RefID)
			if err != nil {
				return nil, err
			}
		}
		obj.Metadata = meta

		resTarget := obj.ID
		if obj.GetFlag(model.FlagUseResourceRef) && obj.RefID > 0 {
			resTarget = obj.RefID
		}
		resources, err := r.resourcesFor(resTarget)
		if err != nil {
			return nil, err
		}
		if len(resources) == 0 && obj.RefID > 0 {
			resources, err = r.resourcesFor(obj.RefID)
			if err != nil {
				return nil, err
			}
		}
		obj.Resources = resources
	}
	return obj, nil
}

func (r *objectRepository) metadataFor(id int32) (map[string]string, error) {
	var rows []struct {
		Name  string `db:"property_name"`
		Value string `db:"property_value"`
	}
	err := r.queryAll(Select("property_name", "property_value").From(metadataTable).
		Where(Eq{"item_id": id}), &rows)
	if err != nil {
		return nil, err
	}
	meta := make(map[string]string, len(rows))
	for _, row := range rows {
		meta[row.Name] = row.Value
	}
	return meta, nil
}

type dbResource struct {
	ResID         int            `db:"res_id"`
	HandlerType   int            `db:"handler_type"`
	Purpose       int            `db:"purpose"`
	Options       sql.NullString `db:"options"`
	Parameters    sql.NullString `db:"parameters"`
	ProtocolInfo  sql.NullString `db:"protocol_info"`
	Size          sql.NullInt64  `db:"size"`
	Duration      sql.NullString `db:"duration"`
	Bitrate       sql.NullInt64  `db:"bitrate"`
	Resolution    sql.NullString `db:"resolution"`
	SampleFreq    sql.NullInt64  `db:"sample_frequency"`
	AudioChannels sql.NullInt64  `db:"nr_audio_channels"`
	Language      sql.NullString `db:"language"`
}

func (r *objectRepository) resourcesFor(id int32) ([]*model.Resource, error) {
	var rows []dbResource
	err := r.queryAll(Select("res_id", "handler_type", "purpose", "options", "parameters",
		"protocol_info", "size", "duration", "bitrate", "resolution",
		"sample_frequency", "nr_audio_channels", "language").
		From(resourceTable).Where(Eq{"item_id": id}).OrderBy("res_id"), &rows)
	if err != nil {
		return nil, err
	}
	resources := make([]*model.Resource, 0, len(rows))
	for _, row := range rows {
		res := model.NewResource(model.ResourceHandlerType(row.HandlerType), model.ResourcePurpose(row.Purpose))
		res.ID = row.ResID
		res.Options = decodeDict(row.Options.String)
		res.Parameters = decodeDict(row.Parameters.String)
		setAttr := func(name string, v sql.NullString) {
			if v.Valid && v.String != "" {
				res.Attributes[name] = v.String
			}
		}
		setAttr(model.ResAttrProtocolInfo, row.ProtocolInfo)
		setAttr(model.ResAttrDuration, row.Duration)
		setAttr(model.ResAttrResolution, row.Resolution)
		setAttr(model.ResAttrLanguage, row.Language)
		if row.Size.Valid {
			res.Attributes[model.ResAttrSize] = fmt.Sprintf("%d", row.Size.Int64)
		}
		if row.Bitrate.Valid {
			res.Attributes[model.ResAttrBitrate] = fmt.Sprintf("%d", row.Bitrate.Int64)
		}
		if row.SampleFreq.Valid {
			res.Attributes[model.ResAttrSampleFrequency] = fmt.Sprintf("%d", row.SampleFreq.Int64)
		}
		if row.AudioChannels.Valid {
			res.Attributes[model.ResAttrNrAudioChannels] = fmt.Sprintf("%d", row.AudioChannels.Int64)
		}
		resources = append(resources, res)
	}
	return resources, nil
}

// LoadObject returns one object with metadata and resources attached.
// Negative ids resolve against the in-memory dynamic container cache.
func (r *objectRepository) LoadObject(id int32) (*model.Object, error) {
	if id < 0 {
		r.shared.dynMu.Lock()
		dyn, ok := r.shared.dynContainers[id]
		r.shared.dynMu.Unlock()
		if ok {
			return dyn, nil
		}
	}
	var rows []dbObject
	query := browseQuery() + " WHERE c.id = {:id} LIMIT 1"
	if err := r.rawAll(query, dbx.Params{"id": id}, &rows); err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("%w: object %d", model.ErrNotFound, id)
	}
	return r.materialize(&rows[0], true)
}

func (r *objectRepository) LoadObjectByServiceID(serviceID string) (*model.Object, error) {
	var rows []dbObject
	query := browseQuery() + " WHERE c.service_id = {:sid} LIMIT 1"
	if err := r.rawAll(query, dbx.Params{"sid": serviceID}, &rows); err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("%w: service id %q", model.ErrNotFound, serviceID)
	}
	return r.materialize(&rows[0], true)
}

func (r *objectRepository) ServiceObjectIDs(servicePrefix byte) ([]int32, error) {
	var rows []struct {
		ID int32 `db:"id"`
	}
	err := r.queryAll(Select("id").From(objectTable).
		Where(Like{"service_id": string(servicePrefix) + "%"}), &rows)
	if err != nil {
		return nil, err
	}
	ids := make([]int32, len(rows))
	for i, row := range rows {
		ids[i] = row.ID
	}
	return ids, nil
}

// Browse lists children (or the parent itself for the metadata flag) and
// fills TotalMatches on the param.
func (r *objectRepository) Browse(param *model.BrowseParam) (model.Objects, error) {
	parent := param.Parent

	// browse of a cached dynamic container runs its configured search
	if parent.ID < 0 {
		if spec := dynamicSpecFor(parent.Location); spec != nil {
			count := param.RequestedCount
			if count == 0 {
				count = 1000
			}
			if spec.MaxCount > 0 && count > spec.MaxCount {
				count = spec.MaxCount
			}
			result, total, err := r.Search(&model.SearchParam{
				ContainerID:    fmt.Sprintf("%d", parent.ParentID),
				Criteria:       spec.Filter,
				SortCriteria:   spec.Sort,
				StartingIndex:  param.StartingIndex,
				RequestedCount: count,
				Group:          param.Group,
			})
			if err != nil {
				return nil, err
			}
			param.TotalMatches = total
			return result, nil
		}
		log.Warn(r.ctx, "Dynamic content misconfigured", "id", parent.ID, "location", parent.Location)
	}

	getContainers := param.GetFlag(model.BrowseContainers)
	getItems := param.GetFlag(model.BrowseItems)
	hideFsRoot := param.GetFlag(model.BrowseHideFsRoot)
	directChildren := param.GetFlag(model.BrowseDirectChildren) && parent.IsContainer()

	if directChildren {
		total, err := r.ChildCount(parent.ID, getContainers, getItems, hideFsRoot)
		if err != nil {
			return nil, err
		}
		param.TotalMatches = total
	} else {
		param.TotalMatches = 1
	}

	var where []string
	params := dbx.Params{}
	orderBy := ""
	limit := ""

	if directChildren {
		count := param.RequestedCount
		doLimit := true
		if count == 0 {
			if param.StartingIndex > 0 {
				count = int(^uint(0) >> 1)
			} else {
				doLimit = false
			}
		}

		where = append(where, fmt.Sprintf("%s = {:parent}", browseMapper.MapQuoted(search.PropertyParentID, false)))
		params["parent"] = parent.ID
		if parent.ID == model.RootID && hideFsRoot {
			where = append(where, fmt.Sprintf("%s != %d", browseMapper.MapQuoted(search.PropertyID, false), model.FsRootID))
		}

		orderByCode := func() string {
			if param.GetFlag(model.BrowseTrackSort) {
				return browseMapper.MapQuoted("upnp:episodeSeason", false) + "," +
					browseMapper.MapQuoted("upnp:originalTrackNumber", false)
			}
			sortSQL, _, _ := search.NewSortParser(browseMapper, playStatusMapper, nil, param.SortCriteria).Parse()
			if sortSQL == "" {
				sortSQL = browseMapper.MapQuoted("dc:title", false)
			}
			return sortSQL
		}

		switch {
		case !getContainers && !getItems:
			where = append(where, "0 = 1")
		case getContainers && !getItems:
			where = append(where, fmt.Sprintf("c.object_type & %d = %d", model.ObjectTypeContainer, model.ObjectTypeContainer))
			orderBy = " ORDER BY " + orderByCode()
		case !getContainers && getItems:
			where = append(where, fmt.Sprintf("(c.object_type & %d) = %d", model.ObjectTypeItem, model.ObjectTypeItem))
			orderBy = " ORDER BY " + orderByCode()
		default:
			// containers sort before items
			orderBy = fmt.Sprintf(" ORDER BY (c.object_type & %d = %d) DESC, %s",
				model.ObjectTypeContainer, model.ObjectTypeContainer, orderByCode())
		}
		if doLimit {
			limit = fmt.Sprintf(" LIMIT %d OFFSET %d", count, param.StartingIndex)
		}
	} else {
		where = append(where, fmt.Sprintf("%s = {:id}", browseMapper.MapQuoted(search.PropertyID, false)))
		params["id"] = parent.ID
		limit = " LIMIT 1"
	}

	query := fmt.Sprintf("%s WHERE %s%s%s", browseQuery(), strings.Join(where, " AND "), orderBy, limit)
	log.Trace(r.ctx, "Browse query", "sql", query)

	var rows []dbObject
	if err := r.rawAll(query, params, &rows); err != nil {
		return nil, err
	}

	result := make(model.Objects, 0, len(rows))
	for i := range rows {
		obj, err := r.materialize(&rows[i], true)
		if err != nil {
			return nil, err
		}
		result = append(result, obj)
	}

	// child counts for returned containers
	for _, obj := range result {
		if obj.IsContainer() {
			count, err := r.ChildCount(obj.ID, getContainers, getItems, hideFsRoot)
			if err != nil {
				return nil, err
			}
			obj.ChildCount = count
		}
	}

	if param.DynamicAllowed && conf.Server.UPnP.DynamicContentShown &&
		getContainers && directChildren && param.StartingIndex == 0 {
		result = r.appendDynamicContainers(parent, result, param)
	}
	return result, nil
}

// appendDynamicContainers materializes configured dynamic content specs as
// synthetic children of parent and caches them for later loads by id.
func (r *objectRepository) appendDynamicContainers(parent *model.Object, result model.Objects, param *model.BrowseParam) model.Objects {
	r.shared.dynMu.Lock()
	defer r.shared.dynMu.Unlock()
	for k := range conf.Server.DynamicContent {
		spec := &conf.Server.DynamicContent[k]
		parentPath := virtualDirname(spec.Location)
		if parent.Location != parentPath && !(parent.Location == "" && parentPath == "/") {
			continue
		}
		dynID := -(parent.ID+1)*10000 - int32(k)
		dyn, ok := r.shared.dynContainers[dynID]
		if !ok {
			dyn = model.NewObject(model.ObjectTypeContainer)
			dyn.ID = dynID
			dyn.ParentID = parent.ID
			dyn.Title = spec.Title
			dyn.Location = spec.Location
			dyn.Class = model.ClassDynamicFolder
			dyn.Virtual = true
			if spec.Image != "" {
				art := model.NewResource(model.HandlerContainerArt, model.PurposeThumbnail)
				art.SetAttribute(model.ResAttrProtocolInfo, model.RenderProtocolInfo("image/jpeg"))
				art.AddParameter(model.ResourceParamContentType, model.ContentTypeAlbumArt)
				art.AddOption("file", spec.Image)
				dyn.AddResource(art)
			}
			r.shared.dynContainers[dynID] = dyn
		}
		result = append(result, dyn)
		param.TotalMatches++
	}
	return result
}

func dynamicSpecFor(location string) *conf.DynamicContentSpec {
	for i := range conf.Server.DynamicContent {
		if conf.Server.DynamicContent[i].Location == location {
			return &conf.Server.DynamicContent[i]
		}
	}
	return nil
}

func virtualDirname(p string) string {
	idx := strings.LastIndexByte(strings.TrimRight(p, "/"), '/')
	if idx <= 0 {
		return "/"
	}
	return p[:idx]
}

// Search compiles the criteria, runs a COUNT then the paginated SELECT with
// metadata and resource joins.
func (r *objectRepository) Search(param *model.SearchParam) (model.Objects, int, error) {
	root, err := search.NewParser(searchEmitter, param.Criteria).Parse()
	if err != nil {
		return nil, 0, err
	}
	predicate, err := root.Emit()
	if err != nil {
		return nil, 0, err
	}
	if predicate == "" {
		predicate = "1 = 1"
	}

	joins := fmt.Sprintf("%s c LEFT JOIN %s m ON c.id = m.item_id LEFT JOIN %s re ON c.id = re.item_id",
		objectTable, metadataTable, resourceTable)
	params := dbx.Params{}
	if param.Group != "" {
		joins += fmt.Sprintf(" LEFT JOIN %s p ON c.id = p.item_id AND p.group_name = {:grp}", playStatusTable)
		params["grp"] = param.Group
	}

	countQuery := fmt.Sprintf("SELECT COUNT(DISTINCT c.id) AS count FROM %s WHERE %s", joins, predicate)
	log.Trace(r.ctx, "Search count query", "sql", countQuery)
	var countRow struct {
		Count int `db:"count"`
	}
	if err := r.db.NewQuery(countQuery).Bind(params).WithContext(r.ctx).One(&countRow); err != nil {
		return nil, 0, r.wrapError(err, countQuery)
	}
	numMatches := countRow.Count

	sortSQL, addColumns, addJoin := search.NewSortParser(browseMapper, playStatusMapper, metaMapper, param.SortCriteria).Parse()
	if sortSQL == "" {
		sortSQL = browseMapper.MapQuoted(search.PropertyID, false)
	}

	limit := ""
	if param.StartingIndex > 0 || param.RequestedCount > 0 {
		count := int64(param.RequestedCount)
		if count == 0 {
			count = 10000000000
		}
		limit = fmt.Sprintf(" LIMIT %d OFFSET %d", count, param.StartingIndex)
	}

	columns := make([]string, 0, len(browseColumns))
	for _, col := range browseColumns {
		if strings.HasPrefix(col, "c.") {
			columns = append(columns, col)
		}
	}
	query := fmt.Sprintf("SELECT DISTINCT %s%s FROM %s %s WHERE %s ORDER BY %s%s",
		strings.Join(columns, ", "), addColumns, joins, addJoin, predicate, sortSQL, limit)
	log.Trace(r.ctx, "Search query", "sql", query)

	var rows []dbObject
	if err := r.rawAll(query, params, &rows); err != nil {
		return nil, 0, err
	}
	result := make(model.Objects, 0, len(rows))
	for i := range rows {
		obj, err := r.materialize(&rows[i], true)
		if err != nil {
			return nil, 0, err
		}
		result = append(result, obj)
	}

	// never report more hits than the client can retrieve
	if param.RequestedCount > 0 && len(result) < param.RequestedCount {
		numMatches = param.StartingIndex + len(result)
	}
	return result, numMatches, nil
}

func (r *objectRepository) ChildCount(id int32, containers, items, hideFsRoot bool) (int, error) {
	sel := Select("count(*) as count").From(objectTable).Where(Eq{"parent_id": id})
	switch {
	case containers && !items:
		sel = sel.Where(fmt.Sprintf("object_type & %d = %d", model.ObjectTypeContainer, model.ObjectTypeContainer))
	case items && !containers:
		sel = sel.Where(fmt.Sprintf("(object_type & %d) = %d", model.ObjectTypeItem, model.ObjectTypeItem))
	case !containers && !items:
		return 0, nil
	}
	if id == model.RootID && hideFsRoot {
		sel = sel.Where(NotEq{"id": model.FsRootID})
	}
	var row struct {
		Count int `db:"count"`
	}
	err := r.queryOne(sel, &row)
	return row.Count, err
}

func (r *objectRepository) TotalFiles(virtualOnly bool, mimeType, class string) (int, error) {
	sel := Select("count(*) as count").From(objectTable).
		Where(fmt.Sprintf("(object_type & %d) = %d", model.ObjectTypeItem, model.ObjectTypeItem))
	if virtualOnly {
		sel = sel.Where(fmt.Sprintf("object_type & %d = %d", model.ObjectTypeVirtualMarker, model.ObjectTypeVirtualMarker))
	}
	if mimeType != "" {
		sel = sel.Where(Like{"mime_type": mimeType + "%"})
	}
	if class != "" {
		sel = sel.Where(Like{"upnp_class": class + "%"})
	}
	var row struct {
		Count int `db:"count"`
	}
	err := r.queryOne(sel, &row)
	return row.Count, err
}

func (r *objectRepository) MimeTypes() ([]string, error) {
	var rows []struct {
		MimeType string `db:"mime_type"`
	}
	err := r.queryAll(Select("distinct mime_type").From(objectTable).
		Where(NotEq{"mime_type": nil}).Where(NotEq{"mime_type": ""}).OrderBy("mime_type"), &rows)
	if err != nil {
		return nil, err
	}
	types := make([]string, len(rows))
	for i, row := range rows {
		types[i] = row.MimeType
	}
	return types, nil
}

func (r *objectRepository) FsRootName() (string, error) {
	var row struct {
		Title string `db:"dc_title"`
	}
	err := r.queryOne(Select("dc_title").From(objectTable).Where(Eq{"id": model.FsRootID}), &row)
	return row.Title, err
}

func (r *objectRepository) ClearFlag(flag uint32) error {
	_, err := r.executeSQL(Update(objectTable).
		Set("flags", Expr(fmt.Sprintf("flags & ~%d", flag))).
		Where(fmt.Sprintf("flags & %d = %d", flag, flag)))
	return err
}

// encodeDict serializes an aux-data or options dictionary.
func encodeDict(dict map[string]string) string {
	if len(dict) == 0 {
		return ""
	}
	keys := make([]string, 0, len(dict))
	for k := range dict {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%s", urlEscape(k), urlEscape(dict[k])))
	}
	return strings.Join(parts, "&")
}

func decodeDict(s string) map[string]string {
	dict := map[string]string{}
	if s == "" {
		return dict
	}
	for _, part := range strings.Split(s, "&") {
		if key, value, found := strings.Cut(part, "="); found {
			dict[urlUnescape(key)] = urlUnescape(value)
		}
	}
	return dict
}
