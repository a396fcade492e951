package api

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	gosrt "github.com/datarhei/gosrt"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"gotest.tools/v3/assert"

	"github.com/voc/tsmon/analyzer"
	"github.com/voc/tsmon/capture"
	"github.com/voc/tsmon/pipeline"
	"github.com/voc/tsmon/registry"
	"github.com/voc/tsmon/stream"
)

type fakeSockets struct{}

func (fakeSockets) SocketStatistics() []*capture.SocketStatistics {
	var stats gosrt.StatisticsAccumulated
	stats.PktRecv = 42
	stats.ByteRecv = 42 * 1316
	return []*capture.SocketStatistics{{Address: "127.0.0.1:1234", StreamID: "publish/monitor", Stats: stats}}
}

func newTestSession(t *testing.T) *Session {
	t.Helper()
	reg := registry.New()
	video := stream.New(nil, 0, 0)
	video.StreamType = "video"
	video.Codec = "H264"
	video.Count = 10
	video.TotalBits = 10 * 188 * 8
	video.ErrorCount = 2
	video.Bitrate = 1504000
	video.IATAvg = time.Millisecond
	assert.NilError(t, reg.Upsert(0x100, *video))
	assert.NilError(t, reg.Upsert(0, *stream.New(nil, 0, 0)))

	errs := analyzer.NewTR101290Errors()
	errs.Add(analyzer.ContinuityCounterError)
	errs.Add(analyzer.ContinuityCounterError)
	errs.Add(analyzer.PATError)

	q := capture.NewQueue(8, capture.PolicyDrop)
	return &Session{
		Registry: reg,
		Errors:   errs,
		Queue:    q,
		Pipeline: pipeline.New(pipeline.DefaultConfig(), q, reg, errs, nil),
		Sockets:  fakeSockets{},
		Started:  time.Now().Add(-time.Minute),
	}
}

func do(t *testing.T, h http.Handler, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestServer_PIDs(t *testing.T) {
	s := NewServer(Config{Hostname: "monitor.test"}, newTestSession(t))
	h := s.Handler()

	rec := do(t, h, http.MethodGet, "/pids")
	assert.Equal(t, rec.Code, http.StatusOK)
	body := rec.Body.String()
	assert.Assert(t, strings.HasPrefix(body, "2 PIDs\n"), body)
	assert.Assert(t, strings.Contains(body, "PID: 256 (0x0100)"), body)

	rec = do(t, h, http.MethodGet, "/pids.json")
	assert.Equal(t, rec.Code, http.StatusOK)
	assert.Equal(t, rec.Header().Get("Content-Type"), "application/json")
	var pids []map[string]any
	assert.NilError(t, json.Unmarshal(rec.Body.Bytes(), &pids))
	assert.Equal(t, len(pids), 2)
	assert.Equal(t, pids[1]["pid"], float64(0x100))
	assert.Equal(t, pids[1]["codec"], "H264")
}

func TestServer_TR101290(t *testing.T) {
	session := newTestSession(t)
	h := NewServer(Config{Hostname: "monitor.test"}, session).Handler()

	rec := do(t, h, http.MethodGet, "/tr101290")
	assert.Equal(t, rec.Code, http.StatusOK)
	var counts analyzer.TR101290Counts
	assert.NilError(t, json.Unmarshal(rec.Body.Bytes(), &counts))
	assert.Equal(t, counts.ContinuityCounterErrors, uint64(2))
	assert.Equal(t, counts.PATErrors, uint64(1))

	// reset needs POST
	rec = do(t, h, http.MethodGet, "/tr101290/reset")
	assert.Equal(t, rec.Code, http.StatusMethodNotAllowed)
	assert.Equal(t, session.Errors.Get(analyzer.PATError), uint64(1))

	rec = do(t, h, http.MethodPost, "/tr101290/reset")
	assert.Equal(t, rec.Code, http.StatusNoContent)
	assert.Equal(t, session.Errors.Snapshot(), analyzer.TR101290Counts{})
}

func TestServer_PIDsReset(t *testing.T) {
	session := newTestSession(t)
	h := NewServer(Config{Hostname: "monitor.test"}, session).Handler()

	rec := do(t, h, http.MethodGet, "/pids/reset")
	assert.Equal(t, rec.Code, http.StatusMethodNotAllowed)

	errCh := make(chan error, 1)
	go func() {
		errCh <- session.Pipeline.Run(context.Background())
	}()
	defer func() {
		session.Pipeline.Stop()
		assert.NilError(t, <-errCh)
	}()

	rec = do(t, h, http.MethodPost, "/pids/reset")
	assert.Equal(t, rec.Code, http.StatusAccepted)
	deadline := time.Now().Add(2 * time.Second)
	for {
		video, _ := session.Registry.Get(0x100)
		if video.Count == 0 {
			assert.Equal(t, video.ErrorCount, uint32(0))
			assert.Equal(t, video.Codec, "H264")
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("reset not applied")
		}
		time.Sleep(5 * time.Millisecond)
	}
	assert.Equal(t, session.Registry.Len(), 2)
	// TR 101 290 counters have their own reset
	assert.Equal(t, session.Errors.Get(analyzer.PATError), uint64(1))
}

func TestServer_PIDsResetWithoutPipeline(t *testing.T) {
	session := newTestSession(t)
	session.Pipeline = nil
	h := NewServer(Config{Hostname: "monitor.test"}, session).Handler()

	rec := do(t, h, http.MethodPost, "/pids/reset")
	assert.Equal(t, rec.Code, http.StatusNoContent)
	video, _ := session.Registry.Get(0x100)
	assert.Equal(t, video.Count, uint32(0))
	assert.Equal(t, video.TotalBits, uint64(0))

	h = NewServer(Config{Hostname: "monitor.test"}, &Session{}).Handler()
	assert.Equal(t, do(t, h, http.MethodPost, "/pids/reset").Code, http.StatusServiceUnavailable)
}

func TestServer_Status(t *testing.T) {
	session := newTestSession(t)
	h := NewServer(Config{Hostname: "monitor.test"}, session).Handler()

	rec := do(t, h, http.MethodGet, "/status")
	assert.Equal(t, rec.Code, http.StatusOK)
	var st Status
	assert.NilError(t, json.Unmarshal(rec.Body.Bytes(), &st))
	assert.Equal(t, st.Hostname, "monitor.test")
	assert.Equal(t, st.Transport, "mpegts")
	assert.Equal(t, st.PIDs, 2)
	assert.Equal(t, st.QueueCapacity, 8)
	assert.Equal(t, st.QueuePolicy, "drop")
	assert.Assert(t, st.Uptime >= 60, st.Uptime)
	assert.Equal(t, st.ProcessRunning, false)
}

func TestServer_EmptySession(t *testing.T) {
	h := NewServer(Config{Hostname: "monitor.test"}, &Session{}).Handler()
	assert.Equal(t, do(t, h, http.MethodGet, "/pids").Code, http.StatusServiceUnavailable)
	assert.Equal(t, do(t, h, http.MethodGet, "/tr101290").Code, http.StatusServiceUnavailable)
	assert.Equal(t, do(t, h, http.MethodGet, "/status").Code, http.StatusOK)

	rec := do(t, h, http.MethodGet, "/sockets")
	assert.Equal(t, strings.TrimSpace(rec.Body.String()), "[]")
	assert.Equal(t, do(t, h, http.MethodGet, "/metrics").Code, http.StatusOK)
}

func TestServer_Sockets(t *testing.T) {
	h := NewServer(Config{Hostname: "monitor.test"}, newTestSession(t)).Handler()
	rec := do(t, h, http.MethodGet, "/sockets")
	var stats []map[string]any
	assert.NilError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.Equal(t, len(stats), 1)
	assert.Equal(t, stats[0]["stream_id"], "publish/monitor")
}

func TestServer_Listen(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	assert.NilError(t, err)
	addr := ln.Addr().String()
	ln.Close()

	s := NewServer(Config{Address: addr, Hostname: "monitor.test"}, newTestSession(t))
	ctx, cancel := context.WithCancel(context.Background())
	assert.NilError(t, s.Listen(ctx))

	resp, err := http.Get("http://" + addr + "/status")
	assert.NilError(t, err)
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.NilError(t, err)
	assert.Assert(t, strings.Contains(string(body), `"hostname":"monitor.test"`))

	cancel()
	s.Wait()
}

func TestExporter(t *testing.T) {
	e := NewExporter(newTestSession(t))

	expected := `
# HELP tsmon_tr101290_errors_total TR 101 290 error indicators of the session
# TYPE tsmon_tr101290_errors_total counter
tsmon_tr101290_errors_total{name="cat_error",priority="2"} 0
tsmon_tr101290_errors_total{name="continuity_count_error",priority="1"} 2
tsmon_tr101290_errors_total{name="crc_error",priority="2"} 0
tsmon_tr101290_errors_total{name="pat_error",priority="1"} 1
tsmon_tr101290_errors_total{name="pcr_discontinuity_error",priority="2"} 0
tsmon_tr101290_errors_total{name="pcr_repetition_error",priority="2"} 0
tsmon_tr101290_errors_total{name="pid_error",priority="1"} 0
tsmon_tr101290_errors_total{name="pmt_error",priority="1"} 0
tsmon_tr101290_errors_total{name="pts_error",priority="2"} 0
tsmon_tr101290_errors_total{name="rtp_sequence_error",priority="3"} 0
tsmon_tr101290_errors_total{name="sync_byte_error",priority="1"} 0
tsmon_tr101290_errors_total{name="transport_error",priority="2"} 0
tsmon_tr101290_errors_total{name="ts_sync_loss",priority="1"} 0
tsmon_tr101290_errors_total{name="unreferenced_pid",priority="3"} 0
# HELP tsmon_pid_errors_total total number of continuity and sequence errors per PID
# TYPE tsmon_pid_errors_total counter
tsmon_pid_errors_total{codec="H264",pid="0x0100",stream_type="video"} 2
tsmon_pid_errors_total{codec="NONE",pid="0x0000",stream_type="unknown"} 0
# HELP tsmon_srt_receive_packets_total total number of received packets
# TYPE tsmon_srt_receive_packets_total counter
tsmon_srt_receive_packets_total{address="127.0.0.1:1234",stream_id="publish/monitor"} 42
`
	err := testutil.CollectAndCompare(e, strings.NewReader(expected),
		"tsmon_tr101290_errors_total", "tsmon_pid_errors_total", "tsmon_srt_receive_packets_total")
	assert.NilError(t, err)

	// 2 PIDs x 5 + pid count + 14 TR 101 290 + 3 queue + 4 pipeline + 1 sockets + 5 per socket
	assert.Equal(t, testutil.CollectAndCount(e), 38)
}

func TestServer_MetricsHostLabel(t *testing.T) {
	h := NewServer(Config{Hostname: "monitor.test"}, newTestSession(t)).Handler()
	rec := do(t, h, http.MethodGet, "/metrics")
	assert.Equal(t, rec.Code, http.StatusOK)
	body := rec.Body.String()
	assert.Assert(t, strings.Contains(body, `tsmon_tr101290_errors_total{host="monitor.test",name="pat_error",priority="1"} 1`), body)
}
