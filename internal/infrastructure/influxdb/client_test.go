package influxdb

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/nerrad567/gray-logic-mesh/internal/infrastructure/config"
)

// testConfig returns a configuration for a local dev InfluxDB.
func testConfig() config.InfluxDBConfig {
	return config.InfluxDBConfig{
		Enabled:       true,
		URL:           "http://127.0.0.1:8086",
		Token:         "meshcore-dev-token",
		Org:           "graylogic",
		Bucket:        "mesh",
		BatchSize:     100,
		FlushInterval: 1,
	}
}

// fakeWriter records points instead of sending them.
type fakeWriter struct {
	mu      sync.Mutex
	points  []*write.Point
	flushes int
}

func (f *fakeWriter) WritePoint(p *write.Point) {
	f.mu.Lock()
	f.points = append(f.points, p)
	f.mu.Unlock()
}

func (f *fakeWriter) Flush() {
	f.mu.Lock()
	f.flushes++
	f.mu.Unlock()
}

func (f *fakeWriter) lines() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.points))
	for _, p := range f.points {
		out = append(out, write.PointToLineProtocol(p, time.Nanosecond))
	}
	return out
}

func newTestClient() (*Client, *fakeWriter) {
	w := &fakeWriter{}
	return &Client{writeAPI: w, cfg: testConfig(), connected: true}, w
}

// =============================================================================
// Connection Tests
// =============================================================================

func TestConnect_Disabled(t *testing.T) {
	cfg := testConfig()
	cfg.Enabled = false

	_, err := Connect(context.Background(), cfg)
	if !errors.Is(err, ErrDisabled) {
		t.Errorf("Connect() error = %v, want ErrDisabled", err)
	}
}

func TestConnect_Unreachable(t *testing.T) {
	cfg := testConfig()
	cfg.URL = "http://127.0.0.1:59999"

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err := Connect(ctx, cfg)
	if !errors.Is(err, ErrConnectionFailed) {
		t.Errorf("Connect() error = %v, want ErrConnectionFailed", err)
	}
}

func TestClose_Nil(t *testing.T) {
	c := &Client{}
	if err := c.Close(); err != nil {
		t.Errorf("Close() on empty client error = %v", err)
	}
}

func TestClose_FlushesAndDisconnects(t *testing.T) {
	c, w := newTestClient()

	if err := c.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if c.IsConnected() {
		t.Error("IsConnected() = true after Close()")
	}
	if w.flushes != 1 {
		t.Errorf("flushes = %d, want 1", w.flushes)
	}

	c.Flush()
	if w.flushes != 1 {
		t.Error("Flush() after Close() should be a no-op")
	}
}

func TestHealthCheck_NotConnected(t *testing.T) {
	c := &Client{}
	if err := c.HealthCheck(context.Background()); !errors.Is(err, ErrNotConnected) {
		t.Errorf("HealthCheck() error = %v, want ErrNotConnected", err)
	}
}

func TestHandleWriteErrors(t *testing.T) {
	c, _ := newTestClient()

	got := make(chan error, 1)
	c.SetOnError(func(err error) { got <- err })

	errs := make(chan error, 1)
	errs <- errors.New("bucket not found")
	close(errs)
	c.handleWriteErrors(errs)

	select {
	case err := <-got:
		if !errors.Is(err, ErrWriteFailed) {
			t.Errorf("callback error = %v, want ErrWriteFailed", err)
		}
	default:
		t.Fatal("error callback not invoked")
	}
}

// =============================================================================
// Write Tests
// =============================================================================

func TestWriteLifecycleEvent(t *testing.T) {
	c, w := newTestClient()
	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	c.WriteLifecycleEvent("device_joined", "00:0d:6f:00:0a:90:69:e2", 0x1234, "new", ts)

	lines := w.lines()
	if len(lines) != 1 {
		t.Fatalf("points = %d, want 1", len(lines))
	}
	line := lines[0]
	for _, want := range []string{
		"mesh_events,event=device_joined,status=new ",
		`ieee="00:0d:6f:00:0a:90:69:e2"`,
		"nwk=4660i",
	} {
		if !strings.Contains(line, want) {
			t.Errorf("line %q missing %q", line, want)
		}
	}
	if !strings.HasSuffix(line, "1772366400000000000") {
		t.Errorf("line %q has wrong timestamp", line)
	}
}

func TestWriteRequestOutcome(t *testing.T) {
	tests := []struct {
		name    string
		failed  bool
		outcome string
	}{
		{"success", false, "outcome=ok"},
		{"failure", true, "outcome=failed"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, w := newTestClient()
			c.WriteRequestOutcome(0x0034, 3, tt.failed, 250*time.Millisecond)

			lines := w.lines()
			if len(lines) != 1 {
				t.Fatalf("points = %d, want 1", len(lines))
			}
			for _, want := range []string{MeasurementRequests, tt.outcome, "attempts=3i", "cluster=52i", "elapsed_ms=250i"} {
				if !strings.Contains(lines[0], want) {
					t.Errorf("line %q missing %q", lines[0], want)
				}
			}
		})
	}
}

func TestWriteRegistrySize(t *testing.T) {
	c, w := newTestClient()
	c.WriteRegistrySize(7)

	lines := w.lines()
	if len(lines) != 1 || !strings.HasPrefix(lines[0], "mesh_registry devices=7i") {
		t.Errorf("lines = %v", lines)
	}
}

func TestWrite_DisconnectedIsNoop(t *testing.T) {
	c, w := newTestClient()
	c.connected = false

	c.WriteLifecycleEvent("device_left", "00:00:00:00:00:00:00:01", 1, "new", time.Now())
	c.WriteRegistrySize(1)

	if n := len(w.lines()); n != 0 {
		t.Errorf("points = %d, want 0", n)
	}
}
