package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"ZoomSpectra/internal/query"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
)

type metrics struct {
	registry        *prometheus.Registry
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
}

func newMetrics(querier query.Querier) *metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(prometheus.NewGoCollector())
	registry.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))

	m := &metrics{
		registry: registry,
		requestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "zoomspectra_api_requests_total",
				Help: "Total number of API requests",
			},
			[]string{"route", "code"},
		),
		requestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "zoomspectra_api_request_duration_seconds",
				Help:    "API request latency",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"route"},
		),
	}
	registry.MustRegister(m.requestsTotal, m.requestDuration, newReportCollector(querier))
	return m
}

func (m *metrics) handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{EnableOpenMetrics: true})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// middleware counts requests per route template.
func (m *metrics) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		route := "unknown"
		if cur := mux.CurrentRoute(r); cur != nil {
			if tpl, err := cur.GetPathTemplate(); err == nil {
				route = tpl
			}
		}
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(rec, r)
		m.requestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
		m.requestsTotal.WithLabelValues(route, strconv.Itoa(rec.status)).Inc()
	})
}

// reportCollector exposes the summary of the latest report as gauges, read at scrape time.
type reportCollector struct {
	querier query.Querier

	meetings       *prometheus.Desc
	meetingStreams *prometheus.Desc
	streams        *prometheus.Desc
	failedStreams  *prometheus.Desc
	packets        *prometheus.Desc
	bytes          *prometheus.Desc
}

func newReportCollector(querier query.Querier) *reportCollector {
	return &reportCollector{
		querier:        querier,
		meetings:       prometheus.NewDesc("zoomspectra_meetings", "Meetings in the latest report", nil, nil),
		meetingStreams: prometheus.NewDesc("zoomspectra_meeting_streams", "Streams assigned to meetings", nil, nil),
		streams:        prometheus.NewDesc("zoomspectra_streams", "Streams with quality rows", nil, nil),
		failedStreams:  prometheus.NewDesc("zoomspectra_failed_streams", "Streams dropped by the frame-rate window", nil, nil),
		packets:        prometheus.NewDesc("zoomspectra_meeting_packets", "Packets of all meeting streams", nil, nil),
		bytes:          prometheus.NewDesc("zoomspectra_meeting_bytes", "Bytes of all meeting streams", nil, nil),
	}
}

func (c *reportCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.meetings
	ch <- c.meetingStreams
	ch <- c.streams
	ch <- c.failedStreams
	ch <- c.packets
	ch <- c.bytes
}

func (c *reportCollector) Collect(ch chan<- prometheus.Metric) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s, err := c.querier.Summary(ctx)
	if err != nil {
		log.Debugf("No report summary for metrics: %v", err)
		return
	}
	ch <- prometheus.MustNewConstMetric(c.meetings, prometheus.GaugeValue, float64(s.Meetings))
	ch <- prometheus.MustNewConstMetric(c.meetingStreams, prometheus.GaugeValue, float64(s.MeetingStreams))
	ch <- prometheus.MustNewConstMetric(c.streams, prometheus.GaugeValue, float64(s.Streams))
	ch <- prometheus.MustNewConstMetric(c.failedStreams, prometheus.GaugeValue, float64(s.FailedStreams))
	ch <- prometheus.MustNewConstMetric(c.packets, prometheus.GaugeValue, float64(s.TotalPackets))
	ch <- prometheus.MustNewConstMetric(c.bytes, prometheus.GaugeValue, float64(s.TotalBytes))
}
