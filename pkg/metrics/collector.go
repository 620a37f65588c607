package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var latencyQuantiles = []float64{0.5, 0.95, 0.99}

// Collector exposes an Aggregator to Prometheus. Values are read from a
// fresh snapshot on every scrape, so the aggregator stays the only source
// of truth.
type Collector struct {
	agg *Aggregator

	requests    *prometheus.Desc
	active      *prometheus.Desc
	peakActive  *prometheus.Desc
	uniqueUsers *prometheus.Desc
	successRate *prometheus.Desc
	latency     *prometheus.Desc
	cacheHits   *prometheus.Desc
	cacheMisses *prometheus.Desc
	cacheRate   *prometheus.Desc
	errors      *prometheus.Desc
	tokens      *prometheus.Desc
	audioChunks *prometheus.Desc
	respBytes   *prometheus.Desc
	uptime      *prometheus.Desc
}

func NewCollector(namespace string, agg *Aggregator) *Collector {
	if namespace == "" {
		namespace = "voxstream"
	}
	name := func(n string) string { return prometheus.BuildFQName(namespace, "", n) }
	return &Collector{
		agg:         agg,
		requests:    prometheus.NewDesc(name("requests_total"), "Streams finished, by outcome.", []string{"outcome"}, nil),
		active:      prometheus.NewDesc(name("active_streams"), "Streams currently in flight.", nil, nil),
		peakActive:  prometheus.NewDesc(name("active_streams_peak"), "Highest number of concurrent streams since reset.", nil, nil),
		uniqueUsers: prometheus.NewDesc(name("unique_users"), "Users seen within the staleness window.", nil, nil),
		successRate: prometheus.NewDesc(name("success_rate_percent"), "Successful streams as a share of recorded streams.", nil, nil),
		latency:     prometheus.NewDesc(name("latency_milliseconds"), "Stream latency samples, by category.", []string{"category"}, nil),
		cacheHits:   prometheus.NewDesc(name("cache_hits_total"), "Cache hits, by class.", []string{"class"}, nil),
		cacheMisses: prometheus.NewDesc(name("cache_misses_total"), "Cache misses, by class.", []string{"class"}, nil),
		cacheRate:   prometheus.NewDesc(name("cache_hit_rate_percent"), "Cache hit rate, by class.", []string{"class"}, nil),
		errors:      prometheus.NewDesc(name("errors_total"), "Errors and warnings, by kind.", []string{"kind"}, nil),
		tokens:      prometheus.NewDesc(name("tokens_total"), "Text units delivered.", nil, nil),
		audioChunks: prometheus.NewDesc(name("audio_chunks_total"), "Audio chunks delivered.", nil, nil),
		respBytes:   prometheus.NewDesc(name("response_bytes_total"), "Bytes written to clients by successful streams.", nil, nil),
		uptime:      prometheus.NewDesc(name("uptime_seconds"), "Seconds since the aggregator started or was reset.", nil, nil),
	}
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range []*prometheus.Desc{
		c.requests, c.active, c.peakActive, c.uniqueUsers, c.successRate, c.latency,
		c.cacheHits, c.cacheMisses, c.cacheRate, c.errors, c.tokens, c.audioChunks,
		c.respBytes, c.uptime,
	} {
		ch <- d
	}
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	snap := c.agg.Snapshot()

	ch <- prometheus.MustNewConstMetric(c.requests, prometheus.CounterValue, float64(snap.Requests.Successful), "success")
	ch <- prometheus.MustNewConstMetric(c.requests, prometheus.CounterValue, float64(snap.Requests.Failed), "error")
	ch <- prometheus.MustNewConstMetric(c.requests, prometheus.CounterValue, float64(snap.Requests.Aborted), "aborted")
	ch <- prometheus.MustNewConstMetric(c.active, prometheus.GaugeValue, float64(snap.Requests.Active))
	ch <- prometheus.MustNewConstMetric(c.peakActive, prometheus.GaugeValue, float64(snap.Requests.PeakActive))
	ch <- prometheus.MustNewConstMetric(c.uniqueUsers, prometheus.GaugeValue, float64(snap.Requests.UniqueUsers))
	ch <- prometheus.MustNewConstMetric(c.successRate, prometheus.GaugeValue, snap.Requests.SuccessRate)

	for category, s := range map[string]Summary{
		"first_token": snap.Latency.FirstToken,
		"first_audio": snap.Latency.FirstAudio,
		"total":       snap.Latency.Total,
	} {
		quantiles := map[float64]float64{
			latencyQuantiles[0]: s.P50,
			latencyQuantiles[1]: s.P95,
			latencyQuantiles[2]: s.P99,
		}
		ch <- prometheus.MustNewConstSummary(c.latency, uint64(s.Count), s.Avg*float64(s.Count), quantiles, category)
	}

	for class, cs := range snap.Cache {
		ch <- prometheus.MustNewConstMetric(c.cacheHits, prometheus.CounterValue, float64(cs.Hits), class)
		ch <- prometheus.MustNewConstMetric(c.cacheMisses, prometheus.CounterValue, float64(cs.Misses), class)
		ch <- prometheus.MustNewConstMetric(c.cacheRate, prometheus.GaugeValue, cs.HitRate, class)
	}
	for kind, n := range snap.Errors {
		ch <- prometheus.MustNewConstMetric(c.errors, prometheus.CounterValue, float64(n), kind)
	}

	ch <- prometheus.MustNewConstMetric(c.tokens, prometheus.CounterValue, float64(snap.Resources.TotalTokens))
	ch <- prometheus.MustNewConstMetric(c.audioChunks, prometheus.CounterValue, float64(snap.Resources.TotalAudioChunks))
	ch <- prometheus.MustNewConstMetric(c.respBytes, prometheus.CounterValue, float64(snap.Resources.TotalResponseBytes))
	ch <- prometheus.MustNewConstMetric(c.uptime, prometheus.GaugeValue, snap.Uptime.Seconds)
}

var _ prometheus.Collector = (*Collector)(nil)

// Handler serves the aggregator, plus Go runtime and process collectors,
// in the Prometheus exposition format on a private registry.
func Handler(namespace string, agg *Aggregator) http.Handler {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		NewCollector(namespace, agg),
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
