package upnp

import (
	"context"
	"encoding/xml"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/cadenza-av/cadenza/conf"
	"github.com/cadenza-av/cadenza/log"
	"github.com/cadenza-av/cadenza/model"
)

// BrowseRequest represents a ContentDirectory Browse request
type BrowseRequest struct {
	XMLName        xml.Name `xml:"Browse"`
	ObjectID       string   `xml:"ObjectID"`
	BrowseFlag     string   `xml:"BrowseFlag"`
	Filter         string   `xml:"Filter"`
	StartingIndex  int      `xml:"StartingIndex"`
	RequestedCount int      `xml:"RequestedCount"`
	SortCriteria   string   `xml:"SortCriteria"`
}

// BrowseResponse represents a ContentDirectory Browse response
type BrowseResponse struct {
	XMLName        xml.Name `xml:"urn:schemas-upnp-org:service:ContentDirectory:1 BrowseResponse"`
	Result         string   `xml:"Result"`
	NumberReturned int      `xml:"NumberReturned"`
	TotalMatches   int      `xml:"TotalMatches"`
	UpdateID       int64    `xml:"UpdateID"`
}

// SearchRequest represents a ContentDirectory Search request
type SearchRequest struct {
	XMLName        xml.Name `xml:"Search"`
	ContainerID    string   `xml:"ContainerID"`
	SearchCriteria string   `xml:"SearchCriteria"`
	Filter         string   `xml:"Filter"`
	StartingIndex  int      `xml:"StartingIndex"`
	RequestedCount int      `xml:"RequestedCount"`
	SortCriteria   string   `xml:"SortCriteria"`
}

// SearchResponse represents a ContentDirectory Search response
type SearchResponse struct {
	XMLName        xml.Name `xml:"urn:schemas-upnp-org:service:ContentDirectory:1 SearchResponse"`
	Result         string   `xml:"Result"`
	NumberReturned int      `xml:"NumberReturned"`
	TotalMatches   int      `xml:"TotalMatches"`
	UpdateID       int64    `xml:"UpdateID"`
}

// GetSearchCapabilitiesResponse for GetSearchCapabilities action
type GetSearchCapabilitiesResponse struct {
	XMLName    xml.Name `xml:"urn:schemas-upnp-org:service:ContentDirectory:1 GetSearchCapabilitiesResponse"`
	SearchCaps string   `xml:"SearchCaps"`
}

// GetSortCapabilitiesResponse for GetSortCapabilities action
type GetSortCapabilitiesResponse struct {
	XMLName  xml.Name `xml:"urn:schemas-upnp-org:service:ContentDirectory:1 GetSortCapabilitiesResponse"`
	SortCaps string   `xml:"SortCaps"`
}

// GetSortExtensionCapabilitiesResponse for GetSortExtensionCapabilities
type GetSortExtensionCapabilitiesResponse struct {
	XMLName       xml.Name `xml:"urn:schemas-upnp-org:service:ContentDirectory:1 GetSortExtensionCapabilitiesResponse"`
	SortExtCaps   string   `xml:"SortExtensionCaps"`
}

// GetFeatureListResponse for GetFeatureList action
type GetFeatureListResponse struct {
	XMLName     xml.Name `xml:"urn:schemas-upnp-org:service:ContentDirectory:1 GetFeatureListResponse"`
	FeatureList string   `xml:"FeatureList"`
}

// GetSystemUpdateIDResponse for GetSystemUpdateID action
type GetSystemUpdateIDResponse struct {
	XMLName xml.Name `xml:"urn:schemas-upnp-org:service:ContentDirectory:1 GetSystemUpdateIDResponse"`
	Id      int64    `xml:"Id"`
}

// Samsung extension payloads.
type SetBookmarkRequest struct {
	XMLName  xml.Name `xml:"X_SetBookmark"`
	ObjectID string   `xml:"ObjectID"`
	PosSecond int     `xml:"PosSecond"`
	CategoryType string `xml:"CategoryType"`
	RID       string  `xml:"RID"`
}

type SetBookmarkResponse struct {
	XMLName xml.Name `xml:"urn:schemas-upnp-org:service:ContentDirectory:1 X_SetBookmarkResponse"`
}

type SamsungFeatureListResponse struct {
	XMLName     xml.Name `xml:"urn:schemas-upnp-org:service:ContentDirectory:1 X_GetFeatureListResponse"`
	FeatureList string   `xml:"FeatureList"`
}

type GetObjectIDFromIndexRequest struct {
	XMLName      xml.Name `xml:"X_GetObjectIDfromIndex"`
	CategoryType int      `xml:"CategoryType"`
	Index        int      `xml:"Index"`
}

type GetObjectIDFromIndexResponse struct {
	XMLName  xml.Name `xml:"urn:schemas-upnp-org:service:ContentDirectory:1 X_GetObjectIDfromIndexResponse"`
	ObjectID string   `xml:"ObjectID"`
}

type GetIndexFromRIDRequest struct {
	XMLName  xml.Name `xml:"X_GetIndexfromRID"`
	ObjectID string   `xml:"ObjectID"`
	RID      string   `xml:"RID"`
}

type GetIndexFromRIDResponse struct {
	XMLName xml.Name `xml:"urn:schemas-upnp-org:service:ContentDirectory:1 X_GetIndexfromRIDResponse"`
	Index   int      `xml:"Index"`
}

// ConnectionManager responses.
type GetProtocolInfoResponse struct {
	XMLName xml.Name `xml:"urn:schemas-upnp-org:service:ConnectionManager:1 GetProtocolInfoResponse"`
	Source  string   `xml:"Source"`
	Sink    string   `xml:"Sink"`
}

type GetCurrentConnectionIDsResponse struct {
	XMLName       xml.Name `xml:"urn:schemas-upnp-org:service:ConnectionManager:1 GetCurrentConnectionIDsResponse"`
	ConnectionIDs string   `xml:"ConnectionIDs"`
}

type GetCurrentConnectionInfoResponse struct {
	XMLName               xml.Name `xml:"urn:schemas-upnp-org:service:ConnectionManager:1 GetCurrentConnectionInfoResponse"`
	RcsID                 int      `xml:"RcsID"`
	AVTransportID         int      `xml:"AVTransportID"`
	ProtocolInfo          string   `xml:"ProtocolInfo"`
	PeerConnectionManager string   `xml:"PeerConnectionManager"`
	PeerConnectionID      int      `xml:"PeerConnectionID"`
	Direction             string   `xml:"Direction"`
	Status                string   `xml:"Status"`
}

func unmarshalAction[T any](body []byte) (*T, error) {
	var req T
	if err := xml.Unmarshal(body, &req); err != nil {
		return nil, fmt.Errorf("%w: malformed action body: %v", model.ErrInvalidArgument, err)
	}
	return &req, nil
}

func parseObjectID(s string) (int32, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(s), 10, 32)
	if err != nil {
		return 0, fmt.Errorf("%w: malformed ObjectID %q", model.ErrInvalidArgument, s)
	}
	return int32(id), nil
}

// handleBrowse runs the CDS Browse action against the storage engine and
// renders the result as DIDL-Lite.
func (r *Router) handleBrowse(ctx context.Context, profile *model.ClientProfile, body []byte) (*BrowseResponse, error) {
	req, err := unmarshalAction[BrowseRequest](body)
	if err != nil {
		return nil, err
	}
	objectID, err := parseObjectID(req.ObjectID)
	if err != nil {
		return nil, err
	}

	// Samsung sends magic category ids; substitute the feature root
	if profile.HasQuirk(model.QuirkSamsung) {
		if root, ok := r.samsungFeatureRoot(ctx, objectID); ok {
			objectID = root
		}
	}

	parent, err := r.ds.Object(ctx).LoadObject(objectID)
	if err != nil {
		return nil, err
	}

	flags := model.BrowseItems | model.BrowseContainers
	switch req.BrowseFlag {
	case "BrowseDirectChildren":
		flags |= model.BrowseDirectChildren
	case "BrowseMetadata":
		flags |= model.BrowseMetadata
	default:
		return nil, fmt.Errorf("%w: invalid BrowseFlag %q", model.ErrInvalidArgument, req.BrowseFlag)
	}
	if parent.DerivedFrom(model.ClassMusicAlbum) || parent.DerivedFrom(model.ClassPlaylistContainer) {
		flags |= model.BrowseTrackSort
	}

	sortCriteria := req.SortCriteria
	if profile.HasQuirk(model.QuirkForceSortCriteriaTitle) {
		sortCriteria = "+dc:title"
	}

	param := &model.BrowseParam{
		Parent:         parent,
		Flags:          flags,
		StartingIndex:  req.StartingIndex,
		RequestedCount: req.RequestedCount,
		SortCriteria:   sortCriteria,
		Group:          profile.Group,
		DynamicAllowed: !profile.HasQuirk(model.QuirkSamsungHideDynamic),
	}
	objects, err := r.ds.Object(ctx).Browse(param)
	if err != nil {
		return nil, err
	}

	result, err := r.renderDIDL(ctx, profile, objects, flags&model.BrowseMetadata != 0)
	if err != nil {
		return nil, err
	}
	return &BrowseResponse{
		Result:         result,
		NumberReturned: len(objects),
		TotalMatches:   param.TotalMatches,
		UpdateID:       r.bus.SystemUpdateID(),
	}, nil
}

// handleSearch compiles the criteria and renders the paginated result.
// Default sort when unspecified is +dc:title.
func (r *Router) handleSearch(ctx context.Context, profile *model.ClientProfile, body []byte) (*SearchResponse, error) {
	req, err := unmarshalAction[SearchRequest](body)
	if err != nil {
		return nil, err
	}
	sortCriteria := req.SortCriteria
	if sortCriteria == "" {
		sortCriteria = "+dc:title"
	}
	objects, total, err := r.ds.Object(ctx).Search(&model.SearchParam{
		ContainerID:    req.ContainerID,
		Criteria:       req.SearchCriteria,
		SortCriteria:   sortCriteria,
		StartingIndex:  req.StartingIndex,
		RequestedCount: req.RequestedCount,
		Group:          profile.Group,
	})
	if err != nil {
		return nil, err
	}
	result, err := r.renderDIDL(ctx, profile, objects, false)
	if err != nil {
		return nil, err
	}
	return &SearchResponse{
		Result:         result,
		NumberReturned: len(objects),
		TotalMatches:   total,
		UpdateID:       r.bus.SystemUpdateID(),
	}, nil
}

func (r *Router) handleGetSearchCapabilities(context.Context) (*GetSearchCapabilitiesResponse, error) {
	return &GetSearchCapabilitiesResponse{
		SearchCaps: "dc:title,dc:creator,upnp:class,upnp:artist,upnp:album,upnp:genre,@id,@parentID,@refID,upnp:originalTrackNumber",
	}, nil
}

func (r *Router) handleGetSortCapabilities(context.Context) (*GetSortCapabilitiesResponse, error) {
	return &GetSortCapabilitiesResponse{
		SortCaps: "dc:title,dc:date,upnp:class,upnp:artist,upnp:album,upnp:originalTrackNumber,upnp:episodeSeason",
	}, nil
}

func (r *Router) handleGetSortExtensionCapabilities(context.Context) (*GetSortExtensionCapabilitiesResponse, error) {
	return &GetSortExtensionCapabilitiesResponse{SortExtCaps: "+,-"}, nil
}

func (r *Router) handleGetFeatureList(context.Context) (*GetFeatureListResponse, error) {
	features := `<Features xmlns="urn:schemas-upnp-org:av:avs"` +
		` xmlns:xsi="http://www.w3.org/2001/XMLSchema-instance"` +
		` xsi:schemaLocation="urn:schemas-upnp-org:av:avs http://www.upnp.org/schemas/av/avs.xsd">` +
		`<Feature name="samsung.com_BASICVIEW" version="1">` +
		`<container id="0" type="object.item.audioItem"/>` +
		`<container id="0" type="object.item.videoItem"/>` +
		`<container id="0" type="object.item.imageItem"/>` +
		`</Feature></Features>`
	return &GetFeatureListResponse{FeatureList: features}, nil
}

func (r *Router) handleGetSystemUpdateID(context.Context) (*GetSystemUpdateIDResponse, error) {
	return &GetSystemUpdateIDResponse{Id: r.bus.SystemUpdateID()}, nil
}

// handleSetBookmark stores the playback position under the client's group;
// without an explicit group tag the primary group is used.
func (r *Router) handleSetBookmark(ctx context.Context, profile *model.ClientProfile, body []byte) (*SetBookmarkResponse, error) {
	req, err := unmarshalAction[SetBookmarkRequest](body)
	if err != nil {
		return nil, err
	}
	objectID, err := parseObjectID(req.ObjectID)
	if err != nil {
		return nil, err
	}
	obj, err := r.ds.Object(ctx).LoadObject(objectID)
	if err != nil {
		return nil, err
	}
	group := profile.Group
	if group == "" {
		group = model.DefaultClientGroup
	}
	status := &model.PlayStatus{Group: group, ItemID: obj.ID}
	if existing, err := r.ds.PlayStatus(ctx).Get(group, obj.ID); err == nil {
		status = existing
	}
	status.BookmarkPos = secondsToDuration(req.PosSecond)
	status.LastPlayed = model.Now()
	status.PlayCount++
	if err := r.ds.PlayStatus(ctx).Put(status); err != nil {
		return nil, err
	}
	log.Debug(ctx, "Stored bookmark", "object", obj.ID, "group", group, "pos", req.PosSecond)
	return &SetBookmarkResponse{}, nil
}

func (r *Router) handleSamsungFeatureList(ctx context.Context, profile *model.ClientProfile) (*SamsungFeatureListResponse, error) {
	if !profile.HasQuirk(model.QuirkSamsungFeatures) {
		return nil, fmt.Errorf("%w: client does not negotiate Samsung features", model.ErrInvalidArgument)
	}
	resp, err := r.handleGetFeatureList(ctx)
	if err != nil {
		return nil, err
	}
	return &SamsungFeatureListResponse{FeatureList: resp.FeatureList}, nil
}

// samsungFeatureRoot maps the magic Samsung category ids (sent as object
// ids) onto the root container, which the feature list advertises for every
// media type.
func (r *Router) samsungFeatureRoot(ctx context.Context, objectID int32) (int32, bool) {
	// category ids per the BASICVIEW feature: audio, video, image
	if objectID >= 0 {
		return 0, false
	}
	switch objectID {
	case -1, -2, -3:
		log.Debug(ctx, "Substituting Samsung feature root", "category", objectID)
		return model.RootID, true
	}
	return 0, false
}

func (r *Router) handleGetObjectIDFromIndex(ctx context.Context, profile *model.ClientProfile, body []byte) (*GetObjectIDFromIndexResponse, error) {
	req, err := unmarshalAction[GetObjectIDFromIndexRequest](body)
	if err != nil {
		return nil, err
	}
	parent, err := r.ds.Object(ctx).LoadObject(model.RootID)
	if err != nil {
		return nil, err
	}
	objects, err := r.ds.Object(ctx).Browse(&model.BrowseParam{
		Parent:         parent,
		Flags:          model.BrowseDirectChildren | model.BrowseItems | model.BrowseContainers,
		StartingIndex:  req.Index,
		RequestedCount: 1,
		Group:          profile.Group,
	})
	if err != nil {
		return nil, err
	}
	if len(objects) == 0 {
		return nil, fmt.Errorf("%w: no object at index %d", model.ErrNotFound, req.Index)
	}
	return &GetObjectIDFromIndexResponse{ObjectID: strconv.Itoa(int(objects[0].ID))}, nil
}

func (r *Router) handleGetIndexFromRID(ctx context.Context, body []byte) (*GetIndexFromRIDResponse, error) {
	if _, err := unmarshalAction[GetIndexFromRIDRequest](body); err != nil {
		return nil, err
	}
	// point the client at the first entry; resuming by RID is not tracked
	return &GetIndexFromRIDResponse{Index: 0}, nil
}

func secondsToDuration(seconds int) time.Duration {
	return time.Duration(seconds) * time.Second
}

// effectiveStringLimit is min(server limit, client limit); zero means
// unlimited.
func effectiveStringLimit(profile *model.ClientProfile) int {
	limit := conf.Server.UPnP.StringLimit
	if profile.StringLimit > 0 && (limit == 0 || profile.StringLimit < limit) {
		limit = profile.StringLimit
	}
	return limit
}
