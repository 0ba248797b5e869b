package upnp

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"strings"
	"time"

	anacrolixlog "github.com/anacrolix/log"
	"github.com/anacrolix/dms/ssdp"

	"github.com/cadenza-av/cadenza/conf"
	"github.com/cadenza-av/cadenza/log"
)

// An interface with these flags should be valid for SSDP.
const ssdpInterfaceFlags = net.FlagUp | net.FlagMulticast

// startSSDP advertises the device on every multicast-capable interface. The
// registrar service type is included when a Samsung renderer has been
// observed.
func (r *Router) startSSDP(ctx context.Context) error {
	interfaces, err := net.Interfaces()
	if err != nil {
		return fmt.Errorf("enumerating interfaces: %w", err)
	}
	started := 0
	for _, intf := range interfaces {
		if intf.Flags&ssdpInterfaceFlags != ssdpInterfaceFlags {
			continue
		}
		go r.serveSSDPOn(ctx, intf)
		started++
	}
	if started == 0 {
		log.Warn(ctx, "No multicast-capable interface found, discovery disabled")
	}
	return nil
}

func (r *Router) serveSSDPOn(ctx context.Context, intf net.Interface) {
	advertiseLocation := func(ip net.IP) string {
		u := url.URL{
			Scheme: "http",
			Host:   (&net.TCPAddr{IP: ip, Port: r.httpPort}).String(),
			Path:   "/description.xml",
		}
		return u.String()
	}

	services := []string{contentDirectoryType, connectionManagerType}
	if r.clients.SamsungFeaturesSeen() {
		services = append(services, mediaReceiverType)
	}

	interval := conf.Server.UPnP.AnnounceInterval
	if interval <= 0 {
		interval = 30 * time.Minute
	}

	ssdpServer := ssdp.Server{
		Interface:      intf,
		Devices:        []string{deviceType},
		Services:       services,
		IPFilter:       func(net.IP) bool { return true },
		Location:       advertiseLocation,
		Server:         "Linux/1.0 UPnP/1.0 Cadenza/1.0",
		UUID:           strings.TrimPrefix(r.udn, "uuid:"),
		NotifyInterval: interval,
		Logger:         anacrolixlog.Default,
	}
	if err := ssdpServer.Init(); err != nil {
		// dud interfaces fail to bind, that is expected
		if strings.Contains(err.Error(), "listen") {
			return
		}
		log.Error(ctx, "Cannot create SSDP server", err, "interface", intf.Name)
		return
	}
	defer ssdpServer.Close()
	log.Info(ctx, "Started SSDP", "interface", intf.Name)

	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		if err := ssdpServer.Serve(); err != nil {
			log.Debug(ctx, "SSDP serve ended", err, "interface", intf.Name)
		}
	}()
	select {
	case <-ctx.Done():
	case <-stopped:
	}
}
