package upnp

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Service names used in event subscription URLs.
const (
	serviceAVTransport      = "AVTransport"
	serviceRenderingControl = "RenderingControl"
)

const tempSubscriptionTimeout = time.Hour

// subscription is one GENA subscriber for one device service. Temporary
// subscriptions are synthesized for controllers that cast without
// subscribing; their callback is undeliverable and exists only to carry
// the last-play-url and the active-client binding.
type subscription struct {
	SID         string
	Service     string
	Callback    string
	ClientIP    string
	Expires     time.Time
	Seq         int
	LastPlayURL string
	Temporary   bool
}

// subTable is the per-device subscription registry. One subscription per
// (device, client IP, service); a newer subscription evicts the older.
type subTable struct {
	mu       sync.Mutex
	byDevice map[string]map[string]*subscription // device id -> sid -> sub
	now      func() time.Time
}

func newSubTable() *subTable {
	return &subTable{
		byDevice: make(map[string]map[string]*subscription),
		now:      time.Now,
	}
}

func (t *subTable) deviceSubsLocked(deviceID string) map[string]*subscription {
	subs := t.byDevice[deviceID]
	if subs == nil {
		subs = make(map[string]*subscription)
		t.byDevice[deviceID] = subs
	}
	return subs
}

// Add registers a new subscription, evicting any prior one for the same
// (client IP, service) pair on this device.
func (t *subTable) Add(deviceID, service, callback, clientIP string, timeout time.Duration, temporary bool) *subscription {
	t.mu.Lock()
	defer t.mu.Unlock()

	subs := t.deviceSubsLocked(deviceID)
	for sid, sub := range subs {
		if sub.ClientIP == clientIP && sub.Service == service {
			delete(subs, sid)
		}
	}

	sub := &subscription{
		SID:       fmt.Sprintf("uuid:%s", uuid.NewString()),
		Service:   service,
		Callback:  callback,
		ClientIP:  clientIP,
		Expires:   t.now().Add(timeout),
		Temporary: temporary,
	}
	subs[sub.SID] = sub
	return sub
}

// AddTemporary synthesizes a subscription slot for a non-subscribing
// caster.
func (t *subTable) AddTemporary(deviceID, clientIP string) *subscription {
	callback := fmt.Sprintf("http://%s/temp/", clientIP)
	return t.Add(deviceID, serviceAVTransport, callback, clientIP, tempSubscriptionTimeout, true)
}

// Renew extends an existing subscription. Returns false for unknown SIDs.
func (t *subTable) Renew(deviceID, sid string, timeout time.Duration) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	sub, ok := t.byDevice[deviceID][sid]
	if !ok {
		return false
	}
	sub.Expires = t.now().Add(timeout)
	return true
}

// Remove drops a subscription. Returns false for unknown SIDs.
func (t *subTable) Remove(deviceID, sid string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.byDevice[deviceID][sid]; !ok {
		return false
	}
	delete(t.byDevice[deviceID], sid)
	return true
}

// RemoveDevice drops every subscription for a removed renderer.
func (t *subTable) RemoveDevice(deviceID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.byDevice, deviceID)
}

// FindByIP returns the live subscription for (device, service, client IP).
func (t *subTable) FindByIP(deviceID, service, clientIP string) (*subscription, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.now()
	for _, sub := range t.byDevice[deviceID] {
		if sub.ClientIP == clientIP && sub.Service == service && sub.Expires.After(now) {
			return sub, true
		}
	}
	return nil, false
}

// SetLastPlayURL records the URI a subscriber handed to SetAVTransportURI.
func (t *subTable) SetLastPlayURL(deviceID, sid, url string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if sub, ok := t.byDevice[deviceID][sid]; ok {
		sub.LastPlayURL = url
	}
}

// LastPlayURL returns the recorded URI for one subscriber.
func (t *subTable) LastPlayURL(deviceID, sid string) string {
	t.mu.Lock()
	defer t.mu.Unlock()
	if sub, ok := t.byDevice[deviceID][sid]; ok {
		return sub.LastPlayURL
	}
	return ""
}

// notifyTarget is one NOTIFY delivery, snapshotted with its sequence
// number already claimed.
type notifyTarget struct {
	SID      string
	Callback string
	ClientIP string
	Seq      int
}

// ClaimAVTransportTargets prunes expired AVTransport subscriptions, then
// returns a delivery snapshot with per-subscription sequence numbers
// consumed. Temporary subscriptions are skipped; their callbacks do not
// exist.
func (t *subTable) ClaimAVTransportTargets(deviceID string) []notifyTarget {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	subs := t.byDevice[deviceID]
	var targets []notifyTarget
	for sid, sub := range subs {
		if sub.Expires.Before(now) {
			delete(subs, sid)
			continue
		}
		if sub.Service != serviceAVTransport || sub.Temporary {
			continue
		}
		targets = append(targets, notifyTarget{
			SID:      sub.SID,
			Callback: sub.Callback,
			ClientIP: sub.ClientIP,
			Seq:      sub.Seq,
		})
		sub.Seq++
	}
	return targets
}

// ClaimSeq consumes the next sequence number for one subscription; used
// for the initial NOTIFY.
func (t *subTable) ClaimSeq(deviceID, sid string) (int, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	sub, ok := t.byDevice[deviceID][sid]
	if !ok {
		return 0, false
	}
	seq := sub.Seq
	sub.Seq++
	return seq, true
}
