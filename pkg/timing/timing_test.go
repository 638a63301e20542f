package timing

import (
	"testing"
	"time"
)

func TestTimerMetrics(t *testing.T) {
	timer := NewTimer()

	timer.StartDNS()
	time.Sleep(time.Millisecond)
	timer.EndDNS()

	timer.StartTCP()
	time.Sleep(time.Millisecond)
	timer.EndTCP()

	timer.StartTTFB()
	time.Sleep(time.Millisecond)
	timer.EndTTFB()

	m := timer.Metrics()

	if m.DNSLookup <= 0 {
		t.Error("DNSLookup should be positive")
	}
	if m.TCPConnect <= 0 {
		t.Error("TCPConnect should be positive")
	}
	if m.TLSHandshake != 0 {
		t.Error("TLSHandshake should be zero when StartTLS/EndTLS were never called")
	}
	if m.TTFB <= 0 {
		t.Error("TTFB should be positive")
	}
	if m.TotalTime <= 0 {
		t.Error("TotalTime should be positive")
	}
}

func TestMetricsConnectionTime(t *testing.T) {
	m := Metrics{DNSLookup: time.Millisecond, TCPConnect: 2 * time.Millisecond, TLSHandshake: 3 * time.Millisecond}
	if got := m.ConnectionTime(); got != 6*time.Millisecond {
		t.Errorf("ConnectionTime() = %v, want 6ms", got)
	}
}

func TestMetricsNetworkTime(t *testing.T) {
	m := Metrics{TotalTime: 10 * time.Millisecond, TTFB: 4 * time.Millisecond}
	if got := m.NetworkTime(); got != 6*time.Millisecond {
		t.Errorf("NetworkTime() = %v, want 6ms", got)
	}
}

func TestMetricsString(t *testing.T) {
	m := Metrics{TTFB: time.Millisecond}
	if s := m.String(); s == "" {
		t.Error("String() should not be empty")
	}
}
