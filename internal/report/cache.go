package report

import (
	"fmt"
	"strings"

	"github.com/metalagman/adkx/internal/cache"
	"github.com/metalagman/adkx/internal/cacheperf"
	"github.com/metalagman/adkx/internal/experiment"
)

// CacheReport renders the analyzer report of one agent.
func CacheReport(st Styles, title string, r cacheperf.Report) string {
	if r.Status != cacheperf.StatusActive {
		return st.Title.Render(title) + "\n" + st.Muted.Render("No cache data recorded.") + "\n"
	}
	t := Table{Title: title, Headers: []string{"Metric", "Value"}}
	t.AddRow("Status", st.Good.Render(r.Status))
	t.AddRow("Cache hit ratio", ratio(st, r.CacheHitRatioPercent)+fmt.Sprintf(" (%d / %d tokens)", r.TotalCachedTokens, r.TotalPromptTokens))
	t.AddRow("Cache utilization", ratio(st, r.CacheUtilizationRatioPercent)+fmt.Sprintf(" (%d / %d requests)", r.RequestsWithCacheHits, r.TotalRequests))
	t.AddRow("Avg cached tokens/request", fmt.Sprintf("%.0f", r.AvgCachedTokensPerRequest))
	t.AddRow("Requests with cache", fmt.Sprint(r.RequestsWithCache))
	t.AddRow("Avg invocations used", fmt.Sprintf("%.1f", r.AvgInvocationsUsed))
	t.AddRow("Cache refreshes", fmt.Sprint(r.CacheRefreshes))
	if r.LatestCache != "" {
		t.AddRow("Latest cache", r.LatestCache)
	}
	return t.Render(st)
}

// CacheHistory renders the cache metadata recorded by an agent, oldest
// first.
func CacheHistory(st Styles, history []cache.Metadata) string {
	t := Table{Title: "Cache history", Headers: []string{"#", "Cache", "Invocations", "Contents", "Expires"}}
	for i, md := range history {
		name := md.ID()
		if name == "" {
			name = st.Muted.Render("fingerprint " + short(md.Fingerprint))
		}
		expires := "-"
		if !md.ExpireTime.IsZero() {
			expires = md.ExpireTime.Format("15:04:05")
		}
		t.AddRow(fmt.Sprint(i+1), name, fmt.Sprint(md.InvocationsUsed), fmt.Sprint(md.ContentsCount), expires)
	}
	return t.Render(st)
}

// Experiment renders the averaged comparison of an experiment.
func Experiment(st Styles, sum experiment.Summary) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s\n", st.Title.Render(fmt.Sprintf("Cache experiment: %s on %s", sum.App, sum.Model)))
	if sum.Description != "" {
		fmt.Fprintf(&b, "%s\n", st.Muted.Render(sum.Description))
	}
	fmt.Fprintf(&b, "%s\n\n", st.Muted.Render(fmt.Sprintf("runs: %d, duration: %s", sum.Statistics.RunsCompleted, sum.Duration.Round(1e6))))

	t := Table{Headers: []string{"Metric", experiment.VariantCached, experiment.VariantUncached}}
	t.AddRow("Cache hit ratio",
		ratio(st, sum.Cached.CacheHitRatioPercent)+spread(sum.Statistics.CacheHitRatioStd, "%"),
		ratio(st, sum.Uncached.CacheHitRatioPercent))
	t.AddRow("Cache utilization",
		ratio(st, sum.Cached.CacheUtilizationRatioPercent)+spread(sum.Statistics.CacheUtilizationStd, "%"),
		ratio(st, sum.Uncached.CacheUtilizationRatioPercent))
	t.AddRow("Avg cached tokens/request",
		fmt.Sprintf("%.0f", sum.Cached.AvgCachedTokensPerRequest)+spread(sum.Statistics.CachedTokensPerRequestStd, ""),
		fmt.Sprintf("%.0f", sum.Uncached.AvgCachedTokensPerRequest))
	t.AddRow("Prompt tokens", fmt.Sprintf("%.0f", sum.Cached.TotalPromptTokens), fmt.Sprintf("%.0f", sum.Uncached.TotalPromptTokens))
	t.AddRow("Cached tokens", fmt.Sprintf("%.0f", sum.Cached.TotalCachedTokens), fmt.Sprintf("%.0f", sum.Uncached.TotalCachedTokens))
	t.AddRow("Requests with hits", fmt.Sprintf("%.1f", sum.Cached.RequestsWithCacheHits), fmt.Sprintf("%.1f", sum.Uncached.RequestsWithCacheHits))
	b.WriteString(t.Render(st))
	return b.String()
}

func ratio(st Styles, pct float64) string {
	s := fmt.Sprintf("%.1f%%", pct)
	switch {
	case pct >= 50:
		return st.Good.Render(s)
	case pct > 0:
		return st.Warn.Render(s)
	default:
		return st.Muted.Render(s)
	}
}

func spread(std float64, unit string) string {
	if std == 0 {
		return ""
	}
	return fmt.Sprintf(" (±%.1f%s)", std, unit)
}

func short(s string) string {
	if len(s) > 8 {
		return s[:8]
	}
	return s
}
