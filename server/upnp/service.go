// Package upnp exposes the MediaServer device: the ContentDirectory and
// ConnectionManager services over SOAP, GENA eventing, SSDP discovery and
// the media fetch endpoints.
package upnp

import (
	"context"
	"encoding/xml"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/cadenza-av/cadenza/conf"
	"github.com/cadenza-av/cadenza/core/clients"
	"github.com/cadenza-av/cadenza/core/events"
	"github.com/cadenza-av/cadenza/core/metadata"
	"github.com/cadenza-av/cadenza/core/transcode"
	"github.com/cadenza-av/cadenza/log"
	"github.com/cadenza-av/cadenza/model"
)

const (
	deviceType            = "urn:schemas-upnp-org:device:MediaServer:1"
	contentDirectoryType  = "urn:schemas-upnp-org:service:ContentDirectory:1"
	contentDirectoryID    = "urn:upnp-org:serviceId:ContentDirectory"
	connectionManagerType = "urn:schemas-upnp-org:service:ConnectionManager:1"
	connectionManagerID   = "urn:upnp-org:serviceId:ConnectionManager"
	mediaReceiverType     = "urn:microsoft.com:service:X_MS_MediaReceiverRegistrar:1"
	mediaReceiverID       = "urn:microsoft.com:serviceId:X_MS_MediaReceiverRegistrar"
)

// Router handles every UPnP-facing HTTP request.
type Router struct {
	ds         model.DataStore
	bus        *events.Bus
	clients    *clients.Manager
	dispatcher *transcode.Dispatcher
	extractors *metadata.Registry

	serverName string
	udn        string
	httpPort   int

	mu      sync.RWMutex
	subs    map[string]*subscription
	running bool
	cancel  context.CancelFunc
}

func New(ds model.DataStore, bus *events.Bus, cm *clients.Manager, dispatcher *transcode.Dispatcher, extractors *metadata.Registry) *Router {
	serverName := conf.Server.FriendlyName
	if serverName == "" {
		serverName = "Cadenza"
	}
	return &Router{
		ds:         ds,
		bus:        bus,
		clients:    cm,
		dispatcher: dispatcher,
		extractors: extractors,
		serverName: serverName,
		udn:        "uuid:" + uuid.NewSHA1(uuid.NameSpaceURL, []byte(serverName+fmt.Sprint(conf.Server.Port))).String(),
		httpPort:   conf.Server.Port,
		subs:       map[string]*subscription{},
	}
}

// Routes mounts the device endpoints.
func (r *Router) Routes() chi.Router {
	router := chi.NewRouter()

	router.Get("/description.xml", r.handleDeviceDescription)

	router.Get("/cds.xml", r.handleCDSDescription)
	router.Post("/upnp/control/cds", r.handleContentDirectoryControl)
	router.HandleFunc("/upnp/event/cds", r.handleEventSubscription)

	router.Get("/cm.xml", r.handleCMDescription)
	router.Post("/upnp/control/cm", r.handleConnectionManagerControl)
	router.HandleFunc("/upnp/event/cm", r.handleEventSubscription)

	router.Get("/mr_reg.xml", r.handleMRRegDescription)
	router.Post("/upnp/control/mr_reg", r.handleMediaReceiverControl)

	router.Get("/content/media/*", r.handleMedia)
	router.Head("/content/media/*", r.handleMedia)

	return router
}

// Start brings up SSDP advertising; HTTP serving is owned by the outer
// server.
func (r *Router) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return nil
	}
	ctx, r.cancel = context.WithCancel(ctx)
	r.running = true
	r.mu.Unlock()
	return r.startSSDP(ctx)
}

func (r *Router) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.running {
		return
	}
	r.running = false
	if r.cancel != nil {
		r.cancel()
	}
}

// resolveClient asks the registry for the caller's profile.
func (r *Router) resolveClient(req *http.Request) *model.ClientProfile {
	host, portStr, err := net.SplitHostPort(req.RemoteAddr)
	if err != nil {
		host = req.RemoteAddr
	}
	port := 0
	fmt.Sscanf(portStr, "%d", &port)
	headers := map[string]string{}
	for _, name := range []string{"User-Agent", "Accept-Language", "X-AV-Client-Info", "getcontentFeatures.dlna.org"} {
		if value := req.Header.Get(name); value != "" {
			headers[name] = value
		}
	}
	return r.clients.ResolveProfile(req.Context(), host, port, req.Header.Get("User-Agent"), headers)
}

func (r *Router) baseURL(req *http.Request) string {
	if req != nil && req.Host != "" {
		return "http://" + req.Host
	}
	return fmt.Sprintf("http://%s:%d", localIP(), r.httpPort)
}

// mediaURL builds /content/media/<param>/<param>/... fetch paths.
func (r *Router) mediaURL(obj *model.Object, res *model.Resource, profileName string) string {
	url := fmt.Sprintf("http://%s:%d/content/media/object_id/%d/res_id/%d", localIP(), r.httpPort, obj.ID, res.ID)
	if profileName != "" {
		url += "/pr_name/" + profileName + "/tr/1"
	}
	// the extension only decorates the URL for picky renderers
	ext := "bin"
	if _, subtype, found := strings.Cut(obj.MimeType, "/"); found && subtype != "" {
		ext = subtype
	}
	return url + "/file." + ext
}

func (r *Router) artURL(obj *model.Object, res *model.Resource) string {
	return r.mediaURL(obj, res, "")
}

func localIP() string {
	conn, err := net.Dial("udp4", "239.255.255.250:1900")
	if err != nil {
		return "127.0.0.1"
	}
	defer conn.Close()
	if addr, ok := conn.LocalAddr().(*net.UDPAddr); ok {
		return addr.IP.String()
	}
	return "127.0.0.1"
}

// handleMediaReceiverControl keeps Xbox/Samsung registrars happy.
func (r *Router) handleMediaReceiverControl(w http.ResponseWriter, req *http.Request) {
	type registrarResponse struct {
		XMLName xml.Name `xml:"urn:microsoft.com:service:X_MS_MediaReceiverRegistrar:1 IsAuthorizedResponse"`
		Result  int      `xml:"Result"`
	}
	log.Debug(req.Context(), "MediaReceiverRegistrar request")
	r.writeSOAPResponse(w, &registrarResponse{Result: 1})
}
