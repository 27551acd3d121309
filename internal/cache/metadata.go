package cache

import (
	"fmt"
	"strings"
	"time"
)

// expiryBuffer is how long before expiry a cache is treated as unusable.
const expiryBuffer = 2 * time.Minute

// Metadata identifies a cached-content resource and tracks its usage.
//
// Metadata is a value type: helpers return modified copies and never mutate
// the receiver, so a value stored on a session event stays as recorded.
// Token counts live on the response usage metadata, not here.
type Metadata struct {
	// CacheName is the full resource name, e.g.
	// projects/123/locations/us-central1/cachedContents/456. It is empty
	// when only a fingerprint has been recorded.
	CacheName string `json:"cache_name,omitempty"`
	// ExpireTime is when the server drops the cache.
	ExpireTime time.Time `json:"expire_time"`
	// Fingerprint hashes the cached prefix of the request.
	Fingerprint string `json:"fingerprint"`
	// InvocationsUsed counts invocations served by this cache.
	InvocationsUsed int `json:"invocations_used"`
	// ContentsCount is the number of request contents stored in the cache.
	ContentsCount int `json:"contents_count"`
	// CreatedAt is zero when the cache was reused rather than created.
	CreatedAt time.Time `json:"created_at,omitempty"`
}

// NewMetadata validates counters and returns a Metadata value.
func NewMetadata(name, fingerprint string, expireTime time.Time, invocationsUsed, contentsCount int, createdAt time.Time) (Metadata, error) {
	if invocationsUsed < 0 {
		return Metadata{}, fmt.Errorf("invocations_used must be greater than or equal to 0, got %d", invocationsUsed)
	}
	if contentsCount < 0 {
		return Metadata{}, fmt.Errorf("contents_count must be greater than or equal to 0, got %d", contentsCount)
	}
	return Metadata{
		CacheName:       name,
		ExpireTime:      expireTime,
		Fingerprint:     fingerprint,
		InvocationsUsed: invocationsUsed,
		ContentsCount:   contentsCount,
		CreatedAt:       createdAt,
	}, nil
}

// Active reports whether the metadata refers to a created cache.
func (m Metadata) Active() bool {
	return m.CacheName != ""
}

// ExpireSoon reports whether the cache expires within the processing buffer.
func (m Metadata) ExpireSoon(now time.Time) bool {
	return now.After(m.ExpireTime.Add(-expiryBuffer))
}

// WithInvocationsUsed returns a copy with the usage counter replaced.
func (m Metadata) WithInvocationsUsed(n int) Metadata {
	m.InvocationsUsed = n
	return m
}

// ID returns the trailing segment of the cache resource name.
func (m Metadata) ID() string {
	if i := strings.LastIndex(m.CacheName, "/"); i >= 0 {
		return m.CacheName[i+1:]
	}
	return m.CacheName
}

func (m Metadata) String() string {
	return m.describe(time.Now())
}

func (m Metadata) describe(now time.Time) string {
	if !m.Active() {
		return fmt.Sprintf("Fingerprint-only metadata %s: %d contents", m.Fingerprint, m.ContentsCount)
	}
	minutes := m.ExpireTime.Sub(now).Minutes()
	return fmt.Sprintf("Cache %s: used %d invocations, cached %d contents, expires in %.1fmin",
		m.ID(), m.InvocationsUsed, m.ContentsCount, minutes)
}
