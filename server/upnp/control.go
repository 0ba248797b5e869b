package upnp

import (
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/cadenza-av/cadenza/log"
	"github.com/cadenza-av/cadenza/model"
)

// SOAPEnvelope represents a SOAP envelope
type SOAPEnvelope struct {
	XMLName xml.Name `xml:"http://schemas.xmlsoap.org/soap/envelope/ Envelope"`
	Body    SOAPBody
}

// SOAPBody represents the SOAP body
type SOAPBody struct {
	XMLName xml.Name `xml:"http://schemas.xmlsoap.org/soap/envelope/ Body"`
	Content []byte   `xml:",innerxml"`
}

// UPnP error codes
const (
	upnpErrorInvalidAction    = 401
	upnpErrorInvalidArgs      = 402
	upnpErrorActionFailed     = 501
	upnpErrorNoSuchObject     = 701
	upnpErrorInvalidSort      = 709
	upnpErrorInvalidContainer = 710
)

// handleContentDirectoryControl handles SOAP requests for the
// ContentDirectory service.
func (r *Router) handleContentDirectoryControl(w http.ResponseWriter, req *http.Request) {
	ctx := req.Context()

	body, err := io.ReadAll(req.Body)
	if err != nil {
		log.Error(ctx, "Failed to read SOAP request", err)
		r.writeSOAPFault(w, upnpErrorActionFailed, "Failed to read request")
		return
	}

	var envelope SOAPEnvelope
	if err := xml.Unmarshal(body, &envelope); err != nil {
		log.Error(ctx, "Failed to parse SOAP envelope", err)
		r.writeSOAPFault(w, upnpErrorActionFailed, "Invalid SOAP envelope")
		return
	}

	soapAction := strings.Trim(req.Header.Get("SOAPAction"), `"`)
	action := extractActionName(soapAction)

	profile := r.resolveClient(req)
	log.Debug(ctx, "ContentDirectory request", "action", action, "client", profile.Name)

	var response any
	switch action {
	case "Browse":
		response, err = r.handleBrowse(ctx, profile, envelope.Body.Content)
	case "Search":
		response, err = r.handleSearch(ctx, profile, envelope.Body.Content)
	case "GetSearchCapabilities":
		response, err = r.handleGetSearchCapabilities(ctx)
	case "GetSortCapabilities":
		response, err = r.handleGetSortCapabilities(ctx)
	case "GetSortExtensionCapabilities":
		response, err = r.handleGetSortExtensionCapabilities(ctx)
	case "GetFeatureList":
		response, err = r.handleGetFeatureList(ctx)
	case "GetSystemUpdateID":
		response, err = r.handleGetSystemUpdateID(ctx)
	case "X_SetBookmark":
		response, err = r.handleSetBookmark(ctx, profile, envelope.Body.Content)
	case "X_GetFeatureList":
		response, err = r.handleSamsungFeatureList(ctx, profile)
	case "X_GetObjectIDfromIndex":
		response, err = r.handleGetObjectIDFromIndex(ctx, profile, envelope.Body.Content)
	case "X_GetIndexfromRID":
		response, err = r.handleGetIndexFromRID(ctx, envelope.Body.Content)
	default:
		log.Warn(ctx, "Unknown ContentDirectory action", "action", action)
		r.writeSOAPFault(w, upnpErrorInvalidAction, fmt.Sprintf("Unknown action: %s", action))
		return
	}

	if err != nil {
		code := upnpErrorCode(err)
		log.Error(ctx, "ContentDirectory action failed", err, "action", action, "code", code)
		r.writeSOAPFault(w, code, err.Error())
		return
	}
	r.writeSOAPResponse(w, response)
}

// upnpErrorCode maps the structured error kinds onto CDS fault codes.
func upnpErrorCode(err error) int {
	switch {
	case errors.Is(err, model.ErrNotFound):
		return upnpErrorNoSuchObject
	case errors.Is(err, model.ErrInvalidArgument):
		return upnpErrorInvalidArgs
	case errors.Is(err, model.ErrOverlappingAutoscan):
		return upnpErrorActionFailed
	default:
		return upnpErrorActionFailed
	}
}

// handleConnectionManagerControl answers the minimal ConnectionManager
// actions renderers require before browsing.
func (r *Router) handleConnectionManagerControl(w http.ResponseWriter, req *http.Request) {
	ctx := req.Context()
	soapAction := strings.Trim(req.Header.Get("SOAPAction"), `"`)
	switch extractActionName(soapAction) {
	case "GetProtocolInfo":
		r.writeSOAPResponse(w, &GetProtocolInfoResponse{
			Source: r.protocolInfoSource(ctx),
			Sink:   "",
		})
	case "GetCurrentConnectionIDs":
		r.writeSOAPResponse(w, &GetCurrentConnectionIDsResponse{ConnectionIDs: "0"})
	case "GetCurrentConnectionInfo":
		r.writeSOAPResponse(w, &GetCurrentConnectionInfoResponse{
			RcsID: -1, AVTransportID: -1, ProtocolInfo: "",
			PeerConnectionManager: "", PeerConnectionID: -1,
			Direction: "Output", Status: "OK",
		})
	default:
		r.writeSOAPFault(w, upnpErrorInvalidAction, "Unknown action")
	}
}

func (r *Router) protocolInfoSource(ctx context.Context) string {
	types, err := r.ds.Object(ctx).MimeTypes()
	if err != nil {
		log.Warn(ctx, "Cannot enumerate mime types", err)
		return "http-get:*:*:*"
	}
	parts := make([]string, 0, len(types))
	for _, t := range types {
		parts = append(parts, model.RenderProtocolInfo(t))
	}
	if len(parts) == 0 {
		return "http-get:*:*:*"
	}
	return strings.Join(parts, ",")
}

func extractActionName(soapAction string) string {
	if idx := strings.LastIndex(soapAction, "#"); idx >= 0 {
		return soapAction[idx+1:]
	}
	return soapAction
}

func (r *Router) writeSOAPResponse(w http.ResponseWriter, response any) {
	body, err := xml.Marshal(response)
	if err != nil {
		log.Error("Failed to marshal SOAP response", err)
		r.writeSOAPFault(w, upnpErrorActionFailed, "Internal error")
		return
	}
	envelope := fmt.Sprintf(`<?xml version="1.0" encoding="utf-8"?>`+
		`<s:Envelope xmlns:s="http://schemas.xmlsoap.org/soap/envelope/" `+
		`s:encodingStyle="http://schemas.xmlsoap.org/soap/encoding/"><s:Body>%s</s:Body></s:Envelope>`,
		string(body))
	w.Header().Set("Content-Type", `text/xml; charset="utf-8"`)
	w.Header().Set("Ext", "")
	_, _ = w.Write([]byte(envelope))
}

func (r *Router) writeSOAPFault(w http.ResponseWriter, code int, message string) {
	fault := fmt.Sprintf(`<?xml version="1.0" encoding="utf-8"?>`+
		`<s:Envelope xmlns:s="http://schemas.xmlsoap.org/soap/envelope/" `+
		`s:encodingStyle="http://schemas.xmlsoap.org/soap/encoding/"><s:Body><s:Fault>`+
		`<faultcode>s:Client</faultcode><faultstring>UPnPError</faultstring><detail>`+
		`<UPnPError xmlns="urn:schemas-upnp-org:control-1-0">`+
		`<errorCode>%d</errorCode><errorDescription>%s</errorDescription>`+
		`</UPnPError></detail></s:Fault></s:Body></s:Envelope>`, code, xmlEscape(message))
	w.Header().Set("Content-Type", `text/xml; charset="utf-8"`)
	w.WriteHeader(http.StatusInternalServerError)
	_, _ = w.Write([]byte(fault))
}
