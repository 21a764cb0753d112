package metrics

import (
	"encoding/json"
	"math"
	"net/http"
	"sort"
	"time"

	dto "github.com/prometheus/client_model/go"
)

// Summary is the JSON response for the admin metrics endpoint.
type Summary struct {
	HTTP      httpSummary   `json:"http"`
	Admin     httpSummary   `json:"admin"`
	Quota     quotaSummary  `json:"quota"`
	RateLimit rateLimitInfo `json:"rateLimit"`
	Collector collectorInfo `json:"collector"`
	Generator generatorInfo `json:"generator"`
	Auth      authInfo      `json:"auth"`
	DB        dbInfo        `json:"db"`
	Server    serverInfo    `json:"server"`
}

type httpSummary struct {
	TotalRequests float64 `json:"totalRequests"`
	ErrorRate     float64 `json:"errorRate"`
	P50Latency    float64 `json:"p50Latency"`
	P95Latency    float64 `json:"p95Latency"`
	P99Latency    float64 `json:"p99Latency"`
}

type quotaSummary struct {
	Decisions     float64 `json:"decisions"`
	Allowed       float64 `json:"allowed"`
	QuotaExceeded float64 `json:"quotaExceeded"`
	Forbidden     float64 `json:"forbidden"`
	NotFound      float64 `json:"notFound"`
	StoreErrors   float64 `json:"storeErrors"`
	Conflicts     float64 `json:"conflicts"`
}

type rateLimitInfo struct {
	Rejections float64 `json:"rejections"`
}

type collectorInfo struct {
	BufferSize   float64 `json:"bufferSize"`
	TotalFlushes float64 `json:"totalFlushes"`
	FlushErrors  float64 `json:"flushErrors"`
	Events       float64 `json:"events"`
}

type generatorInfo struct {
	Requests float64 `json:"requests"`
	Errors   float64 `json:"errors"`
	P50      float64 `json:"p50"`
	P95      float64 `json:"p95"`
}

type authInfo struct {
	Failures  float64 `json:"failures"`
	Successes float64 `json:"successes"`
}

type serverInfo struct {
	StartTime     float64 `json:"startTime"`
	UptimeSeconds float64 `json:"uptimeSeconds"`
}

type dbInfo struct {
	TotalConns    float64 `json:"totalConns"`
	IdleConns     float64 `json:"idleConns"`
	AcquiredConns float64 `json:"acquiredConns"`
}

// Handler returns an http.HandlerFunc that serves live metrics in JSON format.
func (m *Metrics) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		summary, err := m.Summarize()
		if err != nil {
			http.Error(w, "failed to gather metrics", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Cache-Control", "no-cache, no-store")
		_ = json.NewEncoder(w).Encode(summary)
	}
}

// Summarize gathers the registry into a Summary.
func (m *Metrics) Summarize() (*Summary, error) {
	families, err := m.registry.Gather()
	if err != nil {
		return nil, err
	}

	fam := make(map[string]*dto.MetricFamily, len(families))
	for _, f := range families {
		fam[f.GetName()] = f
	}

	decisions := fam["pantry_quota_decisions_total"]
	start := gaugeValue(fam["pantry_server_start_time_seconds"])

	return &Summary{
		HTTP:  httpKind(fam, "api"),
		Admin: httpKind(fam, "admin"),
		Quota: quotaSummary{
			Decisions:     sumCounter(decisions, nil),
			Allowed:       sumCounter(decisions, withLabel("outcome", "allowed")),
			QuotaExceeded: sumCounter(decisions, withLabel("outcome", "quota_exceeded")),
			Forbidden:     sumCounter(decisions, withLabel("outcome", "forbidden")),
			NotFound:      sumCounter(decisions, withLabel("outcome", "not_found")),
			StoreErrors:   sumCounter(fam["pantry_quota_store_errors_total"], nil),
			Conflicts:     sumCounter(fam["pantry_quota_store_conflicts_total"], nil),
		},
		RateLimit: rateLimitInfo{
			Rejections: sumCounter(fam["pantry_ratelimit_rejections_total"], nil),
		},
		Collector: collectorInfo{
			BufferSize:   gaugeValue(fam["pantry_collector_buffer_size"]),
			TotalFlushes: sumCounter(fam["pantry_collector_flushes_total"], nil),
			FlushErrors:  sumCounter(fam["pantry_collector_flushes_total"], withLabel("status", "error")),
			Events:       sumCounter(fam["pantry_collector_events_total"], nil),
		},
		Generator: generatorInfo{
			Requests: sumCounter(fam["pantry_generator_requests_total"], nil),
			Errors:   sumCounter(fam["pantry_generator_requests_total"], withLabel("status", "error")),
			P50:      histogramPercentile(fam["pantry_generator_duration_seconds"], 0.50, nil),
			P95:      histogramPercentile(fam["pantry_generator_duration_seconds"], 0.95, nil),
		},
		Auth: authInfo{
			Failures:  sumCounter(fam["pantry_auth_failures_total"], nil),
			Successes: sumCounter(fam["pantry_auth_successes_total"], nil),
		},
		DB: dbInfo{
			TotalConns:    gaugeValue(fam["pantry_db_pool_total_conns"]),
			IdleConns:     gaugeValue(fam["pantry_db_pool_idle_conns"]),
			AcquiredConns: gaugeValue(fam["pantry_db_pool_acquired_conns"]),
		},
		Server: serverInfo{
			StartTime:     start,
			UptimeSeconds: float64(time.Now().Unix()) - start,
		},
	}, nil
}

func httpKind(fam map[string]*dto.MetricFamily, kind string) httpSummary {
	match := withLabel("kind", kind)
	durations := fam["pantry_http_request_duration_seconds"]
	return httpSummary{
		TotalRequests: sumCounter(fam["pantry_http_requests_total"], match),
		ErrorRate:     errorRate(fam["pantry_http_requests_total"], match),
		P50Latency:    histogramPercentile(durations, 0.50, match),
		P95Latency:    histogramPercentile(durations, 0.95, match),
		P99Latency:    histogramPercentile(durations, 0.99, match),
	}
}

// --- Prometheus metric helpers ---

// metricFilter selects metrics within a family; nil selects all.
type metricFilter func(*dto.Metric) bool

func withLabel(name, value string) metricFilter {
	return func(m *dto.Metric) bool {
		for _, lp := range m.GetLabel() {
			if lp.GetName() == name && lp.GetValue() == value {
				return true
			}
		}
		return false
	}
}

func sumCounter(f *dto.MetricFamily, match metricFilter) float64 {
	if f == nil {
		return 0
	}
	var total float64
	for _, m := range f.GetMetric() {
		if m.GetCounter() != nil && (match == nil || match(m)) {
			total += m.GetCounter().GetValue()
		}
	}
	return total
}

func gaugeValue(f *dto.MetricFamily) float64 {
	if f == nil {
		return 0
	}
	ms := f.GetMetric()
	if len(ms) == 0 || ms[0].GetGauge() == nil {
		return 0
	}
	return ms[0].GetGauge().GetValue()
}

// errorRate is the share of requests that ended in a 5xx. Quota rejections
// (429) and client errors are expected outcomes here.
func errorRate(f *dto.MetricFamily, match metricFilter) float64 {
	if f == nil {
		return 0
	}
	var total, errs float64
	for _, m := range f.GetMetric() {
		if m.GetCounter() == nil || (match != nil && !match(m)) {
			continue
		}
		v := m.GetCounter().GetValue()
		total += v
		for _, lp := range m.GetLabel() {
			if lp.GetName() == "status_code" && len(lp.GetValue()) > 0 && lp.GetValue()[0] == '5' {
				errs += v
			}
		}
	}
	if total == 0 {
		return 0
	}
	return errs / total
}

// histogramPercentile computes a percentile from aggregated histogram buckets
// using linear interpolation.
func histogramPercentile(f *dto.MetricFamily, q float64, match metricFilter) float64 {
	if f == nil {
		return 0
	}

	type bucket struct {
		upperBound      float64
		cumulativeCount uint64
	}
	var totalCount uint64
	bucketMap := make(map[float64]uint64)

	for _, m := range f.GetMetric() {
		h := m.GetHistogram()
		if h == nil || (match != nil && !match(m)) {
			continue
		}
		totalCount += h.GetSampleCount()
		for _, b := range h.GetBucket() {
			bucketMap[b.GetUpperBound()] += b.GetCumulativeCount()
		}
	}
	if totalCount == 0 {
		return 0
	}

	buckets := make([]bucket, 0, len(bucketMap))
	for ub, count := range bucketMap {
		buckets = append(buckets, bucket{upperBound: ub, cumulativeCount: count})
	}
	sort.Slice(buckets, func(i, j int) bool {
		return buckets[i].upperBound < buckets[j].upperBound
	})

	rank := q * float64(totalCount)

	var prevBound float64
	var prevCount uint64
	for _, b := range buckets {
		if math.IsInf(b.upperBound, 1) {
			break
		}
		if float64(b.cumulativeCount) >= rank {
			bucketCount := b.cumulativeCount - prevCount
			if bucketCount == 0 {
				return b.upperBound
			}
			fraction := (rank - float64(prevCount)) / float64(bucketCount)
			return prevBound + fraction*(b.upperBound-prevBound)
		}
		prevBound = b.upperBound
		prevCount = b.cumulativeCount
	}

	// Past the last finite bound.
	for i := len(buckets) - 1; i >= 0; i-- {
		if !math.IsInf(buckets[i].upperBound, 1) {
			return buckets[i].upperBound
		}
	}
	return 0
}
