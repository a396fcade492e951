// Package api serves the analysis state over HTTP: text and JSON PID
// summaries, the TR 101 290 counters and Prometheus metrics.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	fqdn "github.com/Showmax/go-fqdn"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/voc/tsmon/analyzer"
	"github.com/voc/tsmon/capture"
	"github.com/voc/tsmon/pipeline"
	"github.com/voc/tsmon/registry"
)

// SocketStatser reports transport level statistics of connected peers
type SocketStatser interface {
	SocketStatistics() []*capture.SocketStatistics
}

// Session bundles the state the API reports on. Nil members are skipped.
type Session struct {
	Registry *registry.Registry
	Errors   *analyzer.TR101290Errors
	Pipeline *pipeline.Pipeline
	Queue    *capture.Queue
	Sockets  SocketStatser
	Started  time.Time
}

type Config struct {
	Address  string
	Hostname string
}

// Server serves HTTP API requests
type Server struct {
	conf     Config
	session  *Session
	hostname string
	metrics  *prometheus.Registry
	log      *slog.Logger
	done     sync.WaitGroup
}

// Status is the body of /status
type Status struct {
	Hostname       string         `json:"hostname"`
	Transport      string         `json:"transport"`
	Uptime         float64        `json:"uptime_seconds"`
	PIDs           int            `json:"pids"`
	QueueDepth     int            `json:"queue_depth"`
	QueueCapacity  int            `json:"queue_capacity"`
	QueueDrops     uint64         `json:"queue_drops"`
	QueuePolicy    string         `json:"queue_policy"`
	Pipeline       pipeline.Stats `json:"pipeline"`
	ProcessRunning bool           `json:"processing"`
}

func NewServer(conf Config, session *Session) *Server {
	if session.Started.IsZero() {
		session.Started = time.Now()
	}
	s := &Server{
		conf:     conf,
		session:  session,
		hostname: conf.Hostname,
		metrics:  prometheus.NewRegistry(),
		log:      slog.With("component", "api"),
	}
	if s.hostname == "" {
		s.hostname = lookupHostname()
	}
	prometheus.WrapRegistererWith(prometheus.Labels{"host": s.hostname}, s.metrics).MustRegister(NewExporter(session))
	return s
}

func lookupHostname() string {
	name, err := fqdn.FqdnHostname()
	if err == nil {
		return name
	}
	name, err = os.Hostname()
	if err != nil {
		return "unknown"
	}
	return name
}

// Handler returns the API routes
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /pids", s.HandlePIDs)
	mux.HandleFunc("GET /pids.json", s.HandlePIDsJSON)
	mux.HandleFunc("POST /pids/reset", s.HandlePIDsReset)
	mux.HandleFunc("GET /tr101290", s.HandleTR101290)
	mux.HandleFunc("POST /tr101290/reset", s.HandleTR101290Reset)
	mux.HandleFunc("GET /status", s.HandleStatus)
	mux.HandleFunc("GET /sockets", s.HandleSockets)
	mux.Handle("GET /metrics", promhttp.HandlerFor(s.metrics, promhttp.HandlerOpts{}))
	return mux
}

// Listen starts serving on the configured address until ctx ends
func (s *Server) Listen(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.conf.Address)
	if err != nil {
		return err
	}
	serv := &http.Server{
		Handler:        s.Handler(),
		ReadTimeout:    5 * time.Second,
		WriteTimeout:   5 * time.Second,
		MaxHeaderBytes: 1 << 14,
	}
	s.log.Info("listening", "addr", ln.Addr())

	s.done.Add(1)
	go func() {
		defer s.done.Done()
		err := serv.Serve(ln)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("serve failed", "err", err)
		}
	}()
	s.done.Add(1)
	go func() {
		defer s.done.Done()
		<-ctx.Done()
		ctx2, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
		defer cancel()
		serv.Shutdown(ctx2)
	}()

	return nil
}

// Wait blocks until listening sockets have been closed
func (s *Server) Wait() {
	s.done.Wait()
}

func (s *Server) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Debug("write response", "err", err)
	}
}

func (s *Server) HandlePIDs(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	if s.session.Registry == nil {
		http.Error(w, "no registry", http.StatusServiceUnavailable)
		return
	}
	w.Write([]byte(s.session.Registry.RenderSummary()))
}

func (s *Server) HandlePIDsJSON(w http.ResponseWriter, r *http.Request) {
	if s.session.Registry == nil {
		http.Error(w, "no registry", http.StatusServiceUnavailable)
		return
	}
	s.writeJSON(w, s.session.Registry.Snapshot())
}

// HandlePIDsReset zeroes the per-PID statistics. A running pipeline
// applies the reset between two buffers and the request is only accepted.
func (s *Server) HandlePIDsReset(w http.ResponseWriter, r *http.Request) {
	switch {
	case s.session.Pipeline != nil:
		s.session.Pipeline.ResetStats()
		s.log.Info("PID statistics reset requested", "remote", r.RemoteAddr)
		w.WriteHeader(http.StatusAccepted)
	case s.session.Registry != nil:
		s.session.Registry.Reset()
		s.log.Info("PID statistics reset", "remote", r.RemoteAddr)
		w.WriteHeader(http.StatusNoContent)
	default:
		http.Error(w, "no registry", http.StatusServiceUnavailable)
	}
}

func (s *Server) HandleTR101290(w http.ResponseWriter, r *http.Request) {
	if s.session.Errors == nil {
		http.Error(w, "no analyzer", http.StatusServiceUnavailable)
		return
	}
	s.writeJSON(w, s.session.Errors.Snapshot())
}

func (s *Server) HandleTR101290Reset(w http.ResponseWriter, r *http.Request) {
	if s.session.Errors == nil {
		http.Error(w, "no analyzer", http.StatusServiceUnavailable)
		return
	}
	s.session.Errors.Reset()
	s.log.Info("TR 101 290 counters reset", "remote", r.RemoteAddr)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) HandleStatus(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, s.status())
}

func (s *Server) status() Status {
	st := Status{
		Hostname:  s.hostname,
		Transport: "unknown",
		Uptime:    time.Since(s.session.Started).Seconds(),
	}
	if s.session.Registry != nil {
		st.PIDs = s.session.Registry.Len()
	}
	if q := s.session.Queue; q != nil {
		st.QueueDepth = q.Len()
		st.QueueCapacity = q.Cap()
		st.QueueDrops = q.Drops()
		st.QueuePolicy = q.Policy().String()
	}
	if p := s.session.Pipeline; p != nil {
		st.Transport = p.Classifier().Session().String()
		st.Pipeline = p.Stats()
		st.ProcessRunning = p.Running()
	}
	return st
}

func (s *Server) HandleSockets(w http.ResponseWriter, r *http.Request) {
	stats := []*capture.SocketStatistics{}
	if s.session.Sockets != nil {
		stats = s.session.Sockets.SocketStatistics()
	}
	s.writeJSON(w, stats)
}
