package metrics

import "testing"

func TestSnapshotCounts(t *testing.T) {
	m := New()
	m.IncSqueaksSaved()
	m.IncSqueaksSaved()
	m.IncPaymentsReceived()
	snap := m.Snapshot()
	if snap.SqueaksSaved != 2 || snap.PaymentsReceived != 1 {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}
	if got := snap.String(); got != "squeaks=2 keys=0 offers=0/0 payments=1/0 requests=0" {
		t.Fatalf("unexpected string: %s", got)
	}
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	m.IncSqueaksSaved()
	m.IncSecretKeysSaved()
	m.IncOffersCreated()
	m.IncOffersReceived()
	m.IncPaymentsReceived()
	m.IncPaymentsSent()
	m.IncPeerRequests()
	if m.Snapshot() != (Snapshot{}) {
		t.Fatalf("expected zero snapshot")
	}
}
