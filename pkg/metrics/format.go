package metrics

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
)

// FormatText renders a snapshot for people: one section per area, counts
// with thousands separators, sizes in SI units and rates as percentages.
func FormatText(snap Snapshot) string {
	var b strings.Builder
	WriteText(&b, snap)
	return b.String()
}

func WriteText(w io.Writer, snap Snapshot) {
	r := snap.Requests
	fmt.Fprintf(w, "uptime          %s (since %s)\n",
		(time.Duration(snap.Uptime.Seconds) * time.Second).String(),
		snap.Uptime.StartedAt.UTC().Format(time.RFC3339))
	fmt.Fprintf(w, "requests        total=%s successful=%s failed=%s aborted=%s\n",
		humanize.Comma(r.Total), humanize.Comma(r.Successful), humanize.Comma(r.Failed), humanize.Comma(r.Aborted))
	fmt.Fprintf(w, "success rate    %s\n", percent(r.SuccessRate))
	fmt.Fprintf(w, "active streams  %d (peak %d), unique users %d\n", r.Active, r.PeakActive, r.UniqueUsers)

	writeLatency(w, "first token", snap.Latency.FirstToken)
	writeLatency(w, "first audio", snap.Latency.FirstAudio)
	writeLatency(w, "total", snap.Latency.Total)

	for _, class := range sortedKeys(snap.Cache) {
		c := snap.Cache[class]
		fmt.Fprintf(w, "cache %-9s hits=%s misses=%s hit rate=%s\n",
			class, humanize.Comma(c.Hits), humanize.Comma(c.Misses), percent(c.HitRate))
	}
	for _, kind := range sortedKeys(snap.Errors) {
		fmt.Fprintf(w, "errors %-24s %s\n", kind, humanize.Comma(snap.Errors[kind]))
	}

	res := snap.Resources
	fmt.Fprintf(w, "responses       avg %s, total %s\n",
		humanize.Bytes(uint64(res.AvgResponseBytes)), humanize.Bytes(uint64(res.TotalResponseBytes)))
	fmt.Fprintf(w, "delivered       tokens=%s words=%s sentences=%s audio chunks=%s\n",
		humanize.Comma(res.TotalTokens), humanize.Comma(res.TotalWords),
		humanize.Comma(res.TotalSentences), humanize.Comma(res.TotalAudioChunks))
}

func writeLatency(w io.Writer, label string, s Summary) {
	if s.Count == 0 {
		fmt.Fprintf(w, "latency %-11s no samples\n", label)
		return
	}
	fmt.Fprintf(w, "latency %-11s avg=%sms p50=%sms p95=%sms p99=%sms (n=%s)\n",
		label,
		humanize.FtoaWithDigits(s.Avg, 1),
		humanize.FtoaWithDigits(s.P50, 1),
		humanize.FtoaWithDigits(s.P95, 1),
		humanize.FtoaWithDigits(s.P99, 1),
		humanize.Comma(int64(s.Count)))
}

func percent(v float64) string {
	return humanize.FtoaWithDigits(v, 2) + "%"
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
