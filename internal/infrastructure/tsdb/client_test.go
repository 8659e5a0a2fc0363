package tsdb_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/Barraka/room-controller/internal/infrastructure/config"
	"github.com/Barraka/room-controller/internal/infrastructure/tsdb"
)

// fakeInflux is a minimal InfluxDB v2 stand-in: answers pings and
// captures line-protocol write bodies.
type fakeInflux struct {
	mu     sync.Mutex
	writes []string
}

func (f *fakeInflux) handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasSuffix(r.URL.Path, "/ping"):
			w.WriteHeader(http.StatusNoContent)
		case strings.Contains(r.URL.Path, "/write"):
			body, _ := io.ReadAll(r.Body)
			f.mu.Lock()
			f.writes = append(f.writes, string(body))
			f.mu.Unlock()
			w.WriteHeader(http.StatusNoContent)
		default:
			w.WriteHeader(http.StatusOK)
		}
	}
}

func (f *fakeInflux) payload() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return strings.Join(f.writes, "\n")
}

func testClient(t *testing.T) (*tsdb.Client, *fakeInflux) {
	t.Helper()

	fake := &fakeInflux{}
	server := httptest.NewServer(fake.handler())
	t.Cleanup(server.Close)

	client, err := tsdb.Connect(config.InfluxDBConfig{
		Enabled:       true,
		URL:           server.URL,
		Token:         "test-token",
		Org:           "escape",
		Bucket:        "telemetry",
		BatchSize:     1,
		FlushInterval: 1,
	})
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	t.Cleanup(func() { client.Close() })
	return client, fake
}

func TestConnect_Disabled(t *testing.T) {
	_, err := tsdb.Connect(config.InfluxDBConfig{Enabled: false})
	if !errors.Is(err, tsdb.ErrDisabled) {
		t.Errorf("Connect() error = %v, want ErrDisabled", err)
	}
}

func TestConnect_Unreachable(t *testing.T) {
	_, err := tsdb.Connect(config.InfluxDBConfig{
		Enabled: true,
		URL:     "http://127.0.0.1:59999",
		Token:   "x",
	})
	if err == nil {
		t.Fatal("Connect() should fail for unreachable server")
	}
	if !errors.Is(err, tsdb.ErrConnectionFailed) {
		t.Errorf("Connect() error = %v, want ErrConnectionFailed", err)
	}
}

func TestHealthCheck(t *testing.T) {
	client, _ := testClient(t)

	if !client.IsConnected() {
		t.Error("IsConnected() = false after Connect()")
	}
	if err := client.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() error = %v", err)
	}
}

func TestWritePropState(t *testing.T) {
	client, fake := testClient(t)

	client.WritePropState("vault", "keypad-01", "solved", true)
	client.Flush()

	payload := fake.payload()
	if !strings.Contains(payload, "prop_state") {
		t.Errorf("payload missing prop_state measurement: %q", payload)
	}
	if !strings.Contains(payload, "prop_id=keypad-01") {
		t.Errorf("payload missing prop tag: %q", payload)
	}
}

func TestWriteSessionMetric(t *testing.T) {
	client, fake := testClient(t)

	client.WriteSessionMetric("vault", "sess-1", "start", 0)
	client.Flush()

	payload := fake.payload()
	if !strings.Contains(payload, "session") {
		t.Errorf("payload missing session measurement: %q", payload)
	}
	if !strings.Contains(payload, "phase=start") {
		t.Errorf("payload missing phase tag: %q", payload)
	}
}

func TestWrite_NilClient(t *testing.T) {
	// Telemetry is optional; a nil client must be a safe no-op.
	var client *tsdb.Client

	client.WritePropState("vault", "keypad-01", "solved", true)
	client.WriteSensorEvent("vault", "keypad-01", "btn-1", true)
	client.WriteSessionMetric("vault", "sess-1", "end", 1000)
	client.Flush()

	if client.IsConnected() {
		t.Error("IsConnected() on nil client should be false")
	}
	if err := client.Close(); err != nil {
		t.Errorf("Close() on nil client error = %v", err)
	}
}
