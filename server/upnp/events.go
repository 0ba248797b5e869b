package upnp

import (
	"bytes"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/cadenza-av/cadenza/log"
)

// subscription is one GENA subscriber of the ContentDirectory events.
type subscription struct {
	sid      string
	callback string
	expires  time.Time
	seq      uint32
}

const defaultSubscriptionTimeout = 1800 * time.Second

// handleEventSubscription implements GENA SUBSCRIBE / UNSUBSCRIBE. A newly
// accepted subscriber immediately receives the current state.
func (r *Router) handleEventSubscription(w http.ResponseWriter, req *http.Request) {
	switch req.Method {
	case "SUBSCRIBE":
		r.handleSubscribe(w, req)
	case "UNSUBSCRIBE":
		r.handleUnsubscribe(w, req)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (r *Router) handleSubscribe(w http.ResponseWriter, req *http.Request) {
	ctx := req.Context()

	if sid := req.Header.Get("SID"); sid != "" {
		// renewal
		r.mu.Lock()
		sub, ok := r.subs[sid]
		if ok {
			sub.expires = time.Now().Add(defaultSubscriptionTimeout)
		}
		r.mu.Unlock()
		if !ok {
			w.WriteHeader(http.StatusPreconditionFailed)
			return
		}
		w.Header().Set("SID", sid)
		w.Header().Set("Timeout", "Second-1800")
		return
	}

	callback := strings.Trim(req.Header.Get("Callback"), "<>")
	if callback == "" {
		w.WriteHeader(http.StatusPreconditionFailed)
		return
	}
	sub := &subscription{
		sid:      "uuid:" + uuid.NewString(),
		callback: callback,
		expires:  time.Now().Add(defaultSubscriptionTimeout),
	}
	r.mu.Lock()
	r.subs[sub.sid] = sub
	r.mu.Unlock()

	w.Header().Set("SID", sub.sid)
	w.Header().Set("Timeout", "Second-1800")
	w.WriteHeader(http.StatusOK)

	log.Debug(ctx, "Accepted event subscription", "sid", sub.sid, "callback", callback)
	// initial event with the current state
	go r.notifyOne(sub, r.bus.SystemUpdateID(), "")
}

func (r *Router) handleUnsubscribe(w http.ResponseWriter, req *http.Request) {
	sid := req.Header.Get("SID")
	r.mu.Lock()
	_, ok := r.subs[sid]
	delete(r.subs, sid)
	r.mu.Unlock()
	if !ok {
		w.WriteHeader(http.StatusPreconditionFailed)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// NotifyContentChanged implements events.Notifier: it fans the state change
// out to all live subscribers. Dropped subscribers are forgotten, not
// retried.
func (r *Router) NotifyContentChanged(systemUpdateID int64, containerUpdateIDs string) {
	r.mu.Lock()
	subs := make([]*subscription, 0, len(r.subs))
	now := time.Now()
	for sid, sub := range r.subs {
		if sub.expires.Before(now) {
			delete(r.subs, sid)
			continue
		}
		subs = append(subs, sub)
	}
	r.mu.Unlock()

	for _, sub := range subs {
		go r.notifyOne(sub, systemUpdateID, containerUpdateIDs)
	}
}

func (r *Router) notifyOne(sub *subscription, systemUpdateID int64, containerUpdateIDs string) {
	var vars strings.Builder
	fmt.Fprintf(&vars, `<e:property><SystemUpdateID>%d</SystemUpdateID></e:property>`, systemUpdateID)
	if containerUpdateIDs != "" {
		fmt.Fprintf(&vars, `<e:property><ContainerUpdateIDs>%s</ContainerUpdateIDs></e:property>`,
			xmlEscape(containerUpdateIDs))
	}
	body := fmt.Sprintf(`<?xml version="1.0" encoding="utf-8"?>`+
		`<e:propertyset xmlns:e="urn:schemas-upnp-org:event-1-0">%s</e:propertyset>`, vars.String())

	req, err := http.NewRequest("NOTIFY", sub.callback, bytes.NewBufferString(body))
	if err != nil {
		return
	}
	req.Header.Set("Content-Type", `text/xml; charset="utf-8"`)
	req.Header.Set("NT", "upnp:event")
	req.Header.Set("NTS", "upnp:propchange")
	req.Header.Set("SID", sub.sid)
	r.mu.Lock()
	req.Header.Set("SEQ", fmt.Sprintf("%d", sub.seq))
	sub.seq++
	r.mu.Unlock()

	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		log.Debug("Event delivery failed", err, "sid", sub.sid)
		r.mu.Lock()
		delete(r.subs, sub.sid)
		r.mu.Unlock()
		return
	}
	_ = resp.Body.Close()
}
