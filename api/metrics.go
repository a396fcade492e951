package api

import (
	"fmt"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/voc/tsmon/analyzer"
)

const (
	Namespace = "tsmon"

	pidSubsystem      = "pid"
	tr101290Subsystem = "tr101290"
	queueSubsystem    = "queue"
	pipelineSubsystem = "pipeline"
	srtSubsystem      = "srt"
)

var pidLabels = []string{"pid", "stream_type", "codec"}

var (
	pidPacketsDesc = prometheus.NewDesc(
		prometheus.BuildFQName(Namespace, pidSubsystem, "packets_total"),
		"total number of packets received per PID",
		pidLabels, nil,
	)

	pidBitsDesc = prometheus.NewDesc(
		prometheus.BuildFQName(Namespace, pidSubsystem, "bits_total"),
		"total number of bits received per PID",
		pidLabels, nil,
	)

	pidErrorsDesc = prometheus.NewDesc(
		prometheus.BuildFQName(Namespace, pidSubsystem, "errors_total"),
		"total number of continuity and sequence errors per PID",
		pidLabels, nil,
	)

	pidBitrateDesc = prometheus.NewDesc(
		prometheus.BuildFQName(Namespace, pidSubsystem, "bitrate_bps"),
		"current bitrate per PID in bits per second",
		pidLabels, nil,
	)

	pidIATDesc = prometheus.NewDesc(
		prometheus.BuildFQName(Namespace, pidSubsystem, "iat_avg_seconds"),
		"average packet inter-arrival time per PID",
		pidLabels, nil,
	)

	pidCountDesc = prometheus.NewDesc(
		prometheus.BuildFQName(Namespace, pidSubsystem, "pids"),
		"number of PIDs seen",
		nil, nil,
	)

	tr101290Desc = prometheus.NewDesc(
		prometheus.BuildFQName(Namespace, tr101290Subsystem, "errors_total"),
		"TR 101 290 error indicators of the session",
		[]string{"priority", "name"}, nil,
	)

	queueDepthDesc = prometheus.NewDesc(
		prometheus.BuildFQName(Namespace, queueSubsystem, "depth"),
		"number of capture buffers waiting for processing",
		nil, nil,
	)

	queueCapacityDesc = prometheus.NewDesc(
		prometheus.BuildFQName(Namespace, queueSubsystem, "capacity"),
		"capture queue capacity",
		nil, nil,
	)

	queueDropsDesc = prometheus.NewDesc(
		prometheus.BuildFQName(Namespace, queueSubsystem, "dropped_total"),
		"capture buffers dropped because the queue was full",
		nil, nil,
	)

	buffersDesc = prometheus.NewDesc(
		prometheus.BuildFQName(Namespace, pipelineSubsystem, "buffers_total"),
		"capture buffers processed",
		nil, nil,
	)

	recordsDesc = prometheus.NewDesc(
		prometheus.BuildFQName(Namespace, pipelineSubsystem, "records_total"),
		"packet records decoded",
		nil, nil,
	)

	nullPacketsDesc = prometheus.NewDesc(
		prometheus.BuildFQName(Namespace, pipelineSubsystem, "null_packets_total"),
		"null packets filtered",
		nil, nil,
	)

	unknownBuffersDesc = prometheus.NewDesc(
		prometheus.BuildFQName(Namespace, pipelineSubsystem, "unknown_buffers_total"),
		"capture buffers of unknown transport",
		nil, nil,
	)

	activeSocketsDesc = prometheus.NewDesc(
		prometheus.BuildFQName(Namespace, srtSubsystem, "active_sockets"),
		"The number of active SRT sockets",
		nil, nil,
	)

	pktRecvTotalDesc = prometheus.NewDesc(
		prometheus.BuildFQName(Namespace, srtSubsystem, "receive_packets_total"),
		"total number of received packets",
		[]string{"address", "stream_id"}, nil,
	)

	pktRecvLossTotalDesc = prometheus.NewDesc(
		prometheus.BuildFQName(Namespace, srtSubsystem, "receive_lost_packets_total"),
		"total number of lost packets (receive_side)",
		[]string{"address", "stream_id"}, nil,
	)

	pktRecvDropTotalDesc = prometheus.NewDesc(
		prometheus.BuildFQName(Namespace, srtSubsystem, "receive_dropped_packets_total"),
		"number of too-late-to play missing packets",
		[]string{"address", "stream_id"}, nil,
	)

	pktRecvRetransTotalDesc = prometheus.NewDesc(
		prometheus.BuildFQName(Namespace, srtSubsystem, "receive_retransmitted_packets_total"),
		"total number of retransmitted packets registered at the receiver",
		[]string{"address", "stream_id"}, nil,
	)

	byteRecvTotalDesc = prometheus.NewDesc(
		prometheus.BuildFQName(Namespace, srtSubsystem, "receive_bytes_total"),
		"total number of received bytes",
		[]string{"address", "stream_id"}, nil,
	)
)

// Exporter collects metrics. It implements prometheus.Collector.
type Exporter struct {
	session *Session
}

func NewExporter(s *Session) *Exporter {
	return &Exporter{session: s}
}

// Describe implements prometheus.Collector.
func (e *Exporter) Describe(ch chan<- *prometheus.Desc) {
	ch <- pidPacketsDesc
	ch <- pidBitsDesc
	ch <- pidErrorsDesc
	ch <- pidBitrateDesc
	ch <- pidIATDesc
	ch <- pidCountDesc
	ch <- tr101290Desc
	ch <- queueDepthDesc
	ch <- queueCapacityDesc
	ch <- queueDropsDesc
	ch <- buffersDesc
	ch <- recordsDesc
	ch <- nullPacketsDesc
	ch <- unknownBuffersDesc
	ch <- activeSocketsDesc
	ch <- pktRecvTotalDesc
	ch <- pktRecvLossTotalDesc
	ch <- pktRecvDropTotalDesc
	ch <- pktRecvRetransTotalDesc
	ch <- byteRecvTotalDesc
}

// Collect implements prometheus.Collector.
func (e *Exporter) Collect(ch chan<- prometheus.Metric) {
	s := e.session

	if s.Registry != nil {
		pids := s.Registry.Snapshot()
		ch <- prometheus.MustNewConstMetric(pidCountDesc, prometheus.GaugeValue, float64(len(pids)))
		for _, d := range pids {
			labels := []string{fmt.Sprintf("0x%04x", d.PID), d.StreamType, d.Codec}
			ch <- prometheus.MustNewConstMetric(pidPacketsDesc, prometheus.CounterValue, float64(d.Count), labels...)
			ch <- prometheus.MustNewConstMetric(pidBitsDesc, prometheus.CounterValue, float64(d.TotalBits), labels...)
			ch <- prometheus.MustNewConstMetric(pidErrorsDesc, prometheus.CounterValue, float64(d.ErrorCount), labels...)
			ch <- prometheus.MustNewConstMetric(pidBitrateDesc, prometheus.GaugeValue, float64(d.Bitrate), labels...)
			ch <- prometheus.MustNewConstMetric(pidIATDesc, prometheus.GaugeValue, d.IATAvg.Seconds(), labels...)
		}
	}

	if s.Errors != nil {
		for _, kind := range analyzer.ErrorKinds() {
			ch <- prometheus.MustNewConstMetric(tr101290Desc, prometheus.CounterValue, float64(s.Errors.Get(kind)),
				strconv.Itoa(kind.Priority()), kind.String())
		}
	}

	if s.Queue != nil {
		ch <- prometheus.MustNewConstMetric(queueDepthDesc, prometheus.GaugeValue, float64(s.Queue.Len()))
		ch <- prometheus.MustNewConstMetric(queueCapacityDesc, prometheus.GaugeValue, float64(s.Queue.Cap()))
		ch <- prometheus.MustNewConstMetric(queueDropsDesc, prometheus.CounterValue, float64(s.Queue.Drops()))
	}

	if s.Pipeline != nil {
		stats := s.Pipeline.Stats()
		ch <- prometheus.MustNewConstMetric(buffersDesc, prometheus.CounterValue, float64(stats.Buffers))
		ch <- prometheus.MustNewConstMetric(recordsDesc, prometheus.CounterValue, float64(stats.Records))
		ch <- prometheus.MustNewConstMetric(nullPacketsDesc, prometheus.CounterValue, float64(stats.NullPackets))
		ch <- prometheus.MustNewConstMetric(unknownBuffersDesc, prometheus.CounterValue, float64(stats.Unknown))
	}

	if s.Sockets != nil {
		stats := s.Sockets.SocketStatistics()
		ch <- prometheus.MustNewConstMetric(activeSocketsDesc, prometheus.GaugeValue, float64(len(stats)))
		for _, stat := range stats {
			ch <- prometheus.MustNewConstMetric(pktRecvTotalDesc, prometheus.CounterValue, float64(stat.Stats.PktRecv), stat.Address, stat.StreamID)
			ch <- prometheus.MustNewConstMetric(pktRecvLossTotalDesc, prometheus.CounterValue, float64(stat.Stats.PktRecvLoss), stat.Address, stat.StreamID)
			ch <- prometheus.MustNewConstMetric(pktRecvDropTotalDesc, prometheus.CounterValue, float64(stat.Stats.PktRecvDrop), stat.Address, stat.StreamID)
			ch <- prometheus.MustNewConstMetric(pktRecvRetransTotalDesc, prometheus.CounterValue, float64(stat.Stats.PktRecvRetrans), stat.Address, stat.StreamID)
			ch <- prometheus.MustNewConstMetric(byteRecvTotalDesc, prometheus.CounterValue, float64(stat.Stats.ByteRecv), stat.Address, stat.StreamID)
		}
	}
}
