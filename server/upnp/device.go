package upnp

import (
	"encoding/xml"
	"fmt"
	"net/http"

	"github.com/cadenza-av/cadenza/log"
)

// Device description structures per UPnP Device Architecture 1.0.

type deviceDescription struct {
	XMLName     xml.Name    `xml:"urn:schemas-upnp-org:device-1-0 root"`
	SpecVersion specVersion `xml:"specVersion"`
	Device      device      `xml:"device"`
}

type specVersion struct {
	Major int `xml:"major"`
	Minor int `xml:"minor"`
}

type device struct {
	DeviceType       string    `xml:"deviceType"`
	FriendlyName     string    `xml:"friendlyName"`
	Manufacturer     string    `xml:"manufacturer"`
	ManufacturerURL  string    `xml:"manufacturerURL"`
	ModelDescription string    `xml:"modelDescription"`
	ModelName        string    `xml:"modelName"`
	ModelNumber      string    `xml:"modelNumber"`
	SerialNumber     string    `xml:"serialNumber"`
	UDN              string    `xml:"UDN"`
	DLNADoc          string    `xml:"dlna:X_DLNADOC"`
	Services         []service `xml:"serviceList>service"`
}

type service struct {
	ServiceType string `xml:"serviceType"`
	ServiceID   string `xml:"serviceId"`
	SCPDURL     string `xml:"SCPDURL"`
	ControlURL  string `xml:"controlURL"`
	EventSubURL string `xml:"eventSubURL"`
}

func (r *Router) handleDeviceDescription(w http.ResponseWriter, req *http.Request) {
	services := []service{
		{
			ServiceType: contentDirectoryType,
			ServiceID:   contentDirectoryID,
			SCPDURL:     "/cds.xml",
			ControlURL:  "/upnp/control/cds",
			EventSubURL: "/upnp/event/cds",
		},
		{
			ServiceType: connectionManagerType,
			ServiceID:   connectionManagerID,
			SCPDURL:     "/cm.xml",
			ControlURL:  "/upnp/control/cm",
			EventSubURL: "/upnp/event/cm",
		},
	}
	// the registrar is only advertised once a Samsung renderer showed up
	if r.clients.SamsungFeaturesSeen() {
		services = append(services, service{
			ServiceType: mediaReceiverType,
			ServiceID:   mediaReceiverID,
			SCPDURL:     "/mr_reg.xml",
			ControlURL:  "/upnp/control/mr_reg",
			EventSubURL: "/upnp/event/mr_reg",
		})
	}

	desc := deviceDescription{
		SpecVersion: specVersion{Major: 1, Minor: 0},
		Device: device{
			DeviceType:       deviceType,
			FriendlyName:     r.serverName,
			Manufacturer:     "Cadenza Contributors",
			ManufacturerURL:  "https://github.com/cadenza-av/cadenza",
			ModelDescription: "Free UPnP AV MediaServer",
			ModelName:        "Cadenza",
			ModelNumber:      "1.0",
			SerialNumber:     "1",
			UDN:              r.udn,
			DLNADoc:          "DMS-1.50",
			Services:         services,
		},
	}

	body, err := xml.MarshalIndent(desc, "", "  ")
	if err != nil {
		log.Error(req.Context(), "Failed to render device description", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", `text/xml; charset="utf-8"`)
	fmt.Fprintf(w, "%s%s", xml.Header, body)
}

func (r *Router) serveSCPD(w http.ResponseWriter, actions string) {
	w.Header().Set("Content-Type", `text/xml; charset="utf-8"`)
	fmt.Fprintf(w, `<?xml version="1.0" encoding="utf-8"?>`+
		`<scpd xmlns="urn:schemas-upnp-org:service-1-0">`+
		`<specVersion><major>1</major><minor>0</minor></specVersion>`+
		`<actionList>%s</actionList><serviceStateTable/></scpd>`, actions)
}

func (r *Router) handleCDSDescription(w http.ResponseWriter, _ *http.Request) {
	var actions string
	for _, name := range []string{
		"Browse", "Search", "GetSearchCapabilities", "GetSortCapabilities",
		"GetSortExtensionCapabilities", "GetFeatureList", "GetSystemUpdateID",
		"X_SetBookmark", "X_GetFeatureList", "X_GetObjectIDfromIndex", "X_GetIndexfromRID",
	} {
		actions += "<action><name>" + name + "</name></action>"
	}
	r.serveSCPD(w, actions)
}

func (r *Router) handleCMDescription(w http.ResponseWriter, _ *http.Request) {
	var actions string
	for _, name := range []string{"GetProtocolInfo", "GetCurrentConnectionIDs", "GetCurrentConnectionInfo"} {
		actions += "<action><name>" + name + "</name></action>"
	}
	r.serveSCPD(w, actions)
}

func (r *Router) handleMRRegDescription(w http.ResponseWriter, _ *http.Request) {
	r.serveSCPD(w, "<action><name>IsAuthorized</name></action>")
}
