package gemini

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/metalagman/adkx/internal/cache"
	"github.com/metalagman/adkx/internal/llm"
	"github.com/rs/zerolog/log"
	"google.golang.org/genai"
)

const fingerprintLen = 16

// CacheManager creates, reuses and retires cached contents for requests
// that carry a cache config.
type CacheManager struct {
	backend Backend
	now     func() time.Time
}

// NewCacheManager returns a manager over backend.
func NewCacheManager(backend Backend) *CacheManager {
	return &CacheManager{backend: backend, now: time.Now}
}

// HandleContextCaching decides whether req can use a cache and rewrites it
// accordingly. The returned metadata is attached to the response; nil means
// nothing was cached.
func (m *CacheManager) HandleContextCaching(ctx context.Context, req *llm.Request) (*cache.Metadata, error) {
	if req.CacheConfig == nil {
		return nil, nil
	}
	cfg := *req.CacheConfig

	if prev := req.CacheMetadata; prev != nil && prev.Active() {
		if m.isValid(req, cfg, *prev) {
			md := *prev
			applyCache(req, md.CacheName, md.ContentsCount)
			log.Debug().Str("cache", md.ID()).Int("invocations_used", md.InvocationsUsed).Msg("cache: reusing cached content")
			return &md, nil
		}
		m.cleanup(ctx, prev.CacheName)
	}

	count := len(req.Contents) - 1
	if count <= 0 {
		return nil, nil
	}
	fingerprint := Fingerprint(req, count)

	if cfg.MinTokens > 0 {
		tokens, err := m.backend.CountTokens(ctx, req.Model, req.Contents[:count])
		if err != nil {
			return nil, err
		}
		if tokens < cfg.MinTokens {
			log.Debug().Int("tokens", tokens).Int("min_tokens", cfg.MinTokens).Msg("cache: below minimum, recording fingerprint only")
			md, err := cache.NewMetadata("", fingerprint, time.Time{}, 0, count, time.Time{})
			if err != nil {
				return nil, err
			}
			return &md, nil
		}
	}

	md, err := m.create(ctx, req, cfg, count, fingerprint)
	if err != nil {
		return nil, err
	}
	applyCache(req, md.CacheName, md.ContentsCount)
	return md, nil
}

func (m *CacheManager) isValid(req *llm.Request, cfg cache.Config, md cache.Metadata) bool {
	if md.ContentsCount > len(req.Contents) {
		return false
	}
	if Fingerprint(req, md.ContentsCount) != md.Fingerprint {
		log.Debug().Str("cache", md.ID()).Msg("cache: fingerprint changed")
		return false
	}
	if md.ExpireSoon(m.now()) {
		log.Debug().Str("cache", md.ID()).Msg("cache: expiring soon")
		return false
	}
	if md.InvocationsUsed > cfg.CacheIntervals {
		log.Debug().Str("cache", md.ID()).Int("invocations_used", md.InvocationsUsed).Int("cache_intervals", cfg.CacheIntervals).Msg("cache: intervals exceeded")
		return false
	}
	return true
}

func (m *CacheManager) create(ctx context.Context, req *llm.Request, cfg cache.Config, count int, fingerprint string) (*cache.Metadata, error) {
	ccCfg := &genai.CreateCachedContentConfig{
		TTL:         cfg.TTL,
		DisplayName: "adkx-cache-" + fingerprint,
		Contents:    req.Contents[:count],
	}
	if req.Config != nil {
		ccCfg.SystemInstruction = req.Config.SystemInstruction
		ccCfg.Tools = req.Config.Tools
		ccCfg.ToolConfig = req.Config.ToolConfig
	}
	now := m.now()
	cc, err := m.backend.CreateCache(ctx, req.Model, ccCfg)
	if err != nil {
		return nil, err
	}
	expire := cc.ExpireTime
	if expire.IsZero() {
		expire = now.Add(cfg.TTL)
	}
	md, err := cache.NewMetadata(cc.Name, fingerprint, expire, 1, count, now)
	if err != nil {
		return nil, err
	}
	log.Info().Str("cache", md.ID()).Int("contents", count).Str("ttl", cfg.TTLString()).Msg("cache: created cached content")
	return &md, nil
}

func (m *CacheManager) cleanup(ctx context.Context, name string) {
	if err := m.backend.DeleteCache(ctx, name); err != nil {
		log.Warn().Err(err).Str("cache", name).Msg("cache: cleanup failed")
	}
}

// PopulateResponse attaches md to resp without touching the usage counter.
func (m *CacheManager) PopulateResponse(resp *llm.Response, md *cache.Metadata) {
	if md == nil {
		return
	}
	cp := *md
	resp.CacheMetadata = &cp
}

// applyCache points req at the cache and drops what the cache holds.
func applyCache(req *llm.Request, name string, count int) {
	if req.Config == nil {
		req.Config = &genai.GenerateContentConfig{}
	}
	req.Config.CachedContent = name
	req.Config.SystemInstruction = nil
	req.Config.Tools = nil
	req.Config.ToolConfig = nil
	if count > len(req.Contents) {
		count = len(req.Contents)
	}
	req.Contents = req.Contents[count:]
}

type fingerprintInput struct {
	SystemInstruction *genai.Content    `json:"system_instruction,omitempty"`
	Tools             []*genai.Tool     `json:"tools,omitempty"`
	ToolConfig        *genai.ToolConfig `json:"tool_config,omitempty"`
	Contents          []*genai.Content  `json:"contents,omitempty"`
}

// Fingerprint hashes the part of req a cache would hold: the system
// instruction, tools, tool config and the first count contents.
func Fingerprint(req *llm.Request, count int) string {
	in := fingerprintInput{}
	if req.Config != nil {
		in.SystemInstruction = req.Config.SystemInstruction
		in.Tools = req.Config.Tools
		in.ToolConfig = req.Config.ToolConfig
	}
	if count > len(req.Contents) {
		count = len(req.Contents)
	}
	if count > 0 {
		in.Contents = req.Contents[:count]
	}
	raw, err := json.Marshal(in)
	if err != nil {
		raw = fmt.Appendf(nil, "%v", in)
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])[:fingerprintLen]
}
