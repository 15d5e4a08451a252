package observability

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecordAdmissionAndRejection(t *testing.T) {
	RecordAdmission("vpn_connect")
	RecordRejection("vpn_connect", "rate_limited")
}

func TestRecordBanUpdatesActiveGauge(t *testing.T) {
	before := testutil.ToFloat64(ActiveBans)
	RecordBan("ddos_threshold", 1)
	after := testutil.ToFloat64(ActiveBans)
	if after != before+1 {
		t.Fatalf("expected active bans to increase by 1, got %v -> %v", before, after)
	}
}

func TestSetActiveSessions(t *testing.T) {
	SetActiveSessions(42)
	if got := testutil.ToFloat64(ActiveSessions); got != 42 {
		t.Fatalf("expected 42, got %v", got)
	}
}

func TestRecordSessionConnectSuccessAndFailure(t *testing.T) {
	RecordSessionConnect(50*time.Millisecond, nil, "")
	RecordSessionConnect(0, errAlreadyConnectedForTest, "already_connected")
}

var errAlreadyConnectedForTest = &testError{"already connected"}

type testError struct{ msg string }

func (e *testError) Error() string { return e.msg }

func TestSetServerLoadAndActiveServers(t *testing.T) {
	SetServerLoad("srv-1", "us-east", 0.5)
	SetActiveServers(10)
	if got := testutil.ToFloat64(ActiveServers); got != 10 {
		t.Fatalf("expected 10, got %v", got)
	}
}

func TestRecordVerificationIssuedAndOutcome(t *testing.T) {
	RecordVerificationIssued("email_verify")
	RecordVerificationOutcome("email_verify", "ok")
	RecordVerificationOutcome("password_reset", "expired")
}

func TestRecordPayment(t *testing.T) {
	RecordPayment("succeeded")
	RecordPayment("failed")
}

func TestRecordNotificationPublishFailure(t *testing.T) {
	before := testutil.ToFloat64(NotificationPublishFailures)
	RecordNotificationPublishFailure()
	after := testutil.ToFloat64(NotificationPublishFailures)
	if after != before+1 {
		t.Fatalf("expected counter to increase by 1, got %v -> %v", before, after)
	}
}

func TestAdjustWSConnectionsActive(t *testing.T) {
	AdjustWSConnectionsActive("session", 1)
	AdjustWSConnectionsActive("session", 1)
	AdjustWSConnectionsActive("session", -1)
	got := testutil.ToFloat64(WSConnectionsActive.WithLabelValues("session"))
	if got != 1 {
		t.Fatalf("expected gauge to net to 1, got %v", got)
	}
}

func TestAllCollectorsDescribeWithoutPanic(t *testing.T) {
	collectors := []prometheus.Collector{
		AdmissionsTotal, RejectionsTotal, BansTotal, ActiveBans, ActiveSessions,
		SessionConnectDuration, SessionConnectErrors, ServerLoad, ActiveServers,
		TotalSubscribers, VerificationCodesIssued, VerificationOutcomes,
		PaymentsProcessed, NotificationPublishFailures, WSConnectionsActive,
	}
	for _, c := range collectors {
		ch := make(chan *prometheus.Desc, 4)
		c.Describe(ch)
		close(ch)
		count := 0
		for range ch {
			count++
		}
		if count == 0 {
			t.Error("collector produced no descriptors")
		}
	}
}
