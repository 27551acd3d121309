package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testCacheName = "projects/123/locations/us-central1/cachedContents/456"

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, 10, cfg.CacheIntervals)
	assert.Equal(t, 30*time.Minute, cfg.TTL)
	assert.Equal(t, 0, cfg.MinTokens)
	require.NoError(t, cfg.Validate())
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr string
	}{
		{name: "lower bound", cfg: Config{CacheIntervals: 1, TTL: time.Second}},
		{name: "upper bound", cfg: Config{CacheIntervals: 100, TTL: 24 * time.Hour}},
		{name: "intervals too low", cfg: Config{CacheIntervals: 0, TTL: time.Second}, wantErr: "greater than or equal to 1"},
		{name: "intervals too high", cfg: Config{CacheIntervals: 101, TTL: time.Second}, wantErr: "less than or equal to 100"},
		{name: "zero ttl", cfg: Config{CacheIntervals: 1}, wantErr: "greater than 0"},
		{name: "negative ttl", cfg: Config{CacheIntervals: 1, TTL: -time.Second}, wantErr: "greater than 0"},
		{name: "negative min tokens", cfg: Config{CacheIntervals: 1, TTL: time.Second, MinTokens: -1}, wantErr: "min_tokens"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalidConfig)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestConfigTTLString(t *testing.T) {
	assert.Equal(t, "1800s", DefaultConfig().TTLString())
	assert.Equal(t, "90s", Config{TTL: 90 * time.Second}.TTLString())
}

func TestNewMetadataRejectsNegativeCounters(t *testing.T) {
	_, err := NewMetadata(testCacheName, "abc123", time.Now(), -1, 1, time.Time{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "greater than or equal to 0")

	_, err = NewMetadata(testCacheName, "abc123", time.Now(), 1, -1, time.Time{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "greater than or equal to 0")

	md, err := NewMetadata(testCacheName, "abc123", time.Now(), 0, 0, time.Time{})
	require.NoError(t, err)
	assert.True(t, md.CreatedAt.IsZero())
}

func TestMetadataExpireSoon(t *testing.T) {
	now := time.Now()
	later := Metadata{CacheName: testCacheName, ExpireTime: now.Add(10 * time.Minute)}
	assert.False(t, later.ExpireSoon(now))

	soon := Metadata{CacheName: testCacheName, ExpireTime: now.Add(time.Minute)}
	assert.True(t, soon.ExpireSoon(now))
}

func TestMetadataString(t *testing.T) {
	now := time.Now()
	md := Metadata{
		CacheName:       "projects/123/locations/us-central1/cachedContents/test456",
		ExpireTime:      now.Add(30 * time.Minute),
		Fingerprint:     "abc123",
		InvocationsUsed: 7,
		ContentsCount:   4,
	}
	got := md.describe(now)
	assert.Contains(t, got, "test456")
	assert.Contains(t, got, "used 7 invocations")
	assert.Contains(t, got, "cached 4 contents")
	assert.Contains(t, got, "expires in 30.0min")
}

func TestMetadataWithInvocationsUsedCopies(t *testing.T) {
	md := Metadata{CacheName: testCacheName, InvocationsUsed: 5}
	next := md.WithInvocationsUsed(6)
	assert.Equal(t, 5, md.InvocationsUsed)
	assert.Equal(t, 6, next.InvocationsUsed)
	assert.Equal(t, "456", next.ID())
}

func TestFingerprintOnlyMetadata(t *testing.T) {
	md := Metadata{Fingerprint: "fp", ContentsCount: 2}
	assert.False(t, md.Active())
	assert.Contains(t, md.String(), "Fingerprint-only")
}
