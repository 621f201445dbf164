package connectivity

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"time"

	"github.com/vistoria/fieldsync/internal/models"
	"github.com/vistoria/fieldsync/internal/observability"
)

// NetworkStatus is the device-level view of the network interface
type NetworkStatus struct {
	Connected         bool
	InternetReachable bool
}

// NetworkMonitor reports the device's network-interface status. The OS-level
// flags are a cheap pre-filter only; they produce false positives behind
// captive portals, so a healthy-looking interface still gets a real probe.
type NetworkMonitor interface {
	Status() NetworkStatus
}

// InterfaceMonitor is the default NetworkMonitor, derived from the host's
// network interfaces
type InterfaceMonitor struct{}

// Status reports connected when any non-loopback interface is up with an
// address. Reachability cannot be observed at this level, so it mirrors
// the connected flag and the probe's round trip settles the question.
func (InterfaceMonitor) Status() NetworkStatus {
	ifaces, err := net.Interfaces()
	if err != nil {
		return NetworkStatus{}
	}
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err == nil && len(addrs) > 0 {
			return NetworkStatus{Connected: true, InternetReachable: true}
		}
	}
	return NetworkStatus{}
}

// Prober answers "can I reach the sync backend right now?". It never
// returns an error: any outcome other than a confirmed healthy response
// is simply "not reachable".
type Prober struct {
	baseURL string
	client  *http.Client
	monitor NetworkMonitor
	sleep   func(time.Duration)
}

// NewProber creates a Prober with a dedicated short-timeout HTTP client.
// The probe timeout is deliberately shorter than ordinary API timeouts so
// the gate itself never becomes the bottleneck.
func NewProber(baseURL string, timeout time.Duration, monitor NetworkMonitor) *Prober {
	if monitor == nil {
		monitor = InterfaceMonitor{}
	}
	return &Prober{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
		monitor: monitor,
		sleep:   time.Sleep,
	}
}

// SetSleep overrides the inter-attempt delay function (test support)
func (p *Prober) SetSleep(sleep func(time.Duration)) {
	p.sleep = sleep
}

// Check reports whether the backend is reachable. The interface status is
// consulted first; if it looks down, no network call is made. Otherwise a
// health request must come back 2xx with a status payload of "ok".
func (p *Prober) Check(ctx context.Context) bool {
	status := p.monitor.Status()
	if !status.Connected || !status.InternetReachable {
		return false
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/api/health", nil)
	if err != nil {
		return false
	}

	resp, err := p.client.Do(req)
	if err != nil {
		observability.Debugf("health probe failed: %v", err)
		return false
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return false
	}

	var health models.HealthResponse
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		return false
	}
	return health.Status == "ok"
}

// CheckWithRetry probes up to attempts times with a fixed inter-attempt
// delay and derives a coarse quality rating: first-attempt success is
// good, success after two or more attempts is poor, exhaustion is none.
func (p *Prober) CheckWithRetry(ctx context.Context, attempts int, delay time.Duration) (bool, models.ConnectionQuality) {
	if attempts <= 0 {
		attempts = 1
	}
	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 {
			p.sleep(delay)
		}
		if p.Check(ctx) {
			if attempt == 1 {
				return true, models.QualityGood
			}
			return true, models.QualityPoor
		}
	}
	return false, models.QualityNone
}
