// Package cacheperf reports how well context caching served an agent,
// from the cache metadata and token usage recorded on session events.
package cacheperf

import (
	"context"
	"fmt"

	"github.com/metalagman/adkx/internal/cache"
	"github.com/metalagman/adkx/internal/session"
)

// Report statuses.
const (
	StatusNoCacheData = "no_cache_data"
	StatusActive      = "active"
)

// Report summarizes cache usage of one agent in one session.
type Report struct {
	Status                       string  `json:"status"`
	RequestsWithCache            int     `json:"requests_with_cache"`
	AvgInvocationsUsed           float64 `json:"avg_invocations_used"`
	LatestCache                  string  `json:"latest_cache,omitempty"`
	CacheRefreshes               int     `json:"cache_refreshes"`
	TotalInvocations             int     `json:"total_invocations"`
	TotalPromptTokens            int64   `json:"total_prompt_tokens"`
	TotalCachedTokens            int64   `json:"total_cached_tokens"`
	CacheHitRatioPercent         float64 `json:"cache_hit_ratio_percent"`
	CacheUtilizationRatioPercent float64 `json:"cache_utilization_ratio_percent"`
	AvgCachedTokensPerRequest    float64 `json:"avg_cached_tokens_per_request"`
	TotalRequests                int     `json:"total_requests"`
	RequestsWithCacheHits        int     `json:"requests_with_cache_hits"`
}

// Analyzer reads sessions from a session service.
type Analyzer struct {
	sessions session.Service
}

// NewAnalyzer returns an analyzer over sessions.
func NewAnalyzer(sessions session.Service) *Analyzer {
	return &Analyzer{sessions: sessions}
}

func (a *Analyzer) events(ctx context.Context, appName, userID, sessionID string) ([]*session.Event, error) {
	sess, err := a.sessions.Get(ctx, &session.GetRequest{AppName: appName, UserID: userID, SessionID: sessionID})
	if err != nil {
		return nil, fmt.Errorf("load session %s: %w", sessionID, err)
	}
	return sess.Events(), nil
}

// CacheHistory returns the cache metadata recorded by agentName, oldest
// first. An empty agentName selects every agent.
func (a *Analyzer) CacheHistory(ctx context.Context, appName, userID, sessionID, agentName string) ([]cache.Metadata, error) {
	events, err := a.events(ctx, appName, userID, sessionID)
	if err != nil {
		return nil, err
	}
	var out []cache.Metadata
	for _, ev := range events {
		if ev.CacheMetadata != nil && matches(ev, agentName) {
			out = append(out, *ev.CacheMetadata)
		}
	}
	return out, nil
}

// AnalyzeAgent builds the report for agentName. An empty agentName
// selects every agent.
func (a *Analyzer) AnalyzeAgent(ctx context.Context, appName, userID, sessionID, agentName string) (Report, error) {
	events, err := a.events(ctx, appName, userID, sessionID)
	if err != nil {
		return Report{}, err
	}
	return Analyze(events, agentName), nil
}

// Analyze builds a report from events.
func Analyze(events []*session.Event, agentName string) Report {
	var (
		r     Report
		names = map[string]struct{}{}
		last  *cache.Metadata
	)
	for _, ev := range events {
		if !matches(ev, agentName) {
			continue
		}
		if md := ev.CacheMetadata; md != nil {
			r.RequestsWithCache++
			r.TotalInvocations += md.InvocationsUsed
			if md.CacheName != "" {
				names[md.CacheName] = struct{}{}
			}
			last = md
		}
		if u := ev.UsageMetadata; u != nil {
			r.TotalRequests++
			r.TotalPromptTokens += int64(u.PromptTokenCount)
			r.TotalCachedTokens += int64(u.CachedContentTokenCount)
			if u.CachedContentTokenCount > 0 {
				r.RequestsWithCacheHits++
			}
		}
	}
	if r.RequestsWithCache == 0 {
		return Report{Status: StatusNoCacheData}
	}

	r.Status = StatusActive
	r.CacheRefreshes = len(names)
	r.LatestCache = last.CacheName
	r.AvgInvocationsUsed = float64(r.TotalInvocations) / float64(r.RequestsWithCache)
	if r.TotalPromptTokens > 0 {
		r.CacheHitRatioPercent = float64(r.TotalCachedTokens) / float64(r.TotalPromptTokens) * 100
	}
	if r.TotalRequests > 0 {
		r.CacheUtilizationRatioPercent = float64(r.RequestsWithCacheHits) / float64(r.TotalRequests) * 100
		r.AvgCachedTokensPerRequest = float64(r.TotalCachedTokens) / float64(r.TotalRequests)
	}
	return r
}

func matches(ev *session.Event, agentName string) bool {
	return agentName == "" || ev.Author == agentName
}
