package agent

import (
	"github.com/metalagman/adkx/internal/cache"
	"github.com/metalagman/adkx/internal/llm"
	"github.com/metalagman/adkx/internal/session"
)

// FindLatestCache returns the newest cache metadata recorded by agentName.
// Metadata from an earlier invocation counts the current one as another
// use of the cache.
func FindLatestCache(events []*session.Event, agentName, invocationID string) *cache.Metadata {
	for i := len(events) - 1; i >= 0; i-- {
		ev := events[i]
		if ev.Author != agentName || ev.CacheMetadata == nil {
			continue
		}
		md := *ev.CacheMetadata
		if ev.InvocationID != "" && ev.InvocationID != invocationID {
			md = md.WithInvocationsUsed(md.InvocationsUsed + 1)
		}
		return &md
	}
	return nil
}

// applyCacheConfig hands the app cache config and the latest metadata of
// the agent to the model.
func applyCacheConfig(ictx *InvocationContext, req *llm.Request) {
	if ictx.CacheConfig == nil {
		return
	}
	cfg := *ictx.CacheConfig
	req.CacheConfig = &cfg
	if ictx.Session != nil {
		req.CacheMetadata = FindLatestCache(ictx.Session.Events(), ictx.Agent.Name(), ictx.InvocationID)
	}
}
