// Package cache provides a tag-invalidated cache for hot identity store
// reads, backed by process memory or Redis.
package cache

import (
	"context"
	"sync"
	"time"
)

// Cache stores opaque values under keys and groups keys under tags so a
// write can invalidate every dependent entry at once.
type Cache interface {
	// Get returns the value stored under key. ok is false on a miss.
	Get(ctx context.Context, key string) (value []byte, ok bool, err error)

	// Set stores value under key and attaches it to tags.
	Set(ctx context.Context, key string, value []byte, tags []string) error

	// InvalidateTags removes every key attached to any of tags.
	InvalidateTags(ctx context.Context, tags ...string) error

	// Close releases resources held by the cache.
	Close() error
}

// Tag helpers. Every write path invalidates the tags of the records it
// touched.

// EnvironmentTag groups entries derived from one environment.
func EnvironmentTag(environmentID string) string {
	return "environments-" + environmentID
}

// EnvironmentSurveysTag groups the survey list of an environment.
func EnvironmentSurveysTag(environmentID string) string {
	return "environments-" + environmentID + "-surveys"
}

// EnvironmentActionClassesTag groups the action class list of an environment.
func EnvironmentActionClassesTag(environmentID string) string {
	return "environments-" + environmentID + "-actionClasses"
}

// SurveyTag groups entries containing one survey.
func SurveyTag(surveyID string) string {
	return "surveys-" + surveyID
}

// PersonTag groups entries derived from one person.
func PersonTag(personID string) string {
	return "people-" + personID
}

type memoryEntry struct {
	value     []byte
	expiresAt time.Time
}

// MemoryCache is an in-process Cache.
type MemoryCache struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
	tags    map[string]map[string]struct{}
	ttl     time.Duration
	now     func() time.Time
}

// NewMemoryCache creates an in-process cache whose entries expire after ttl.
func NewMemoryCache(ttl time.Duration) *MemoryCache {
	return &MemoryCache{
		entries: make(map[string]memoryEntry),
		tags:    make(map[string]map[string]struct{}),
		ttl:     ttl,
		now:     time.Now,
	}
}

// Get implements Cache.
func (c *MemoryCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok {
		return nil, false, nil
	}
	if c.ttl > 0 && c.now().After(entry.expiresAt) {
		c.mu.Lock()
		delete(c.entries, key)
		c.mu.Unlock()
		return nil, false, nil
	}
	return entry.value, true, nil
}

// Set implements Cache.
func (c *MemoryCache) Set(_ context.Context, key string, value []byte, tags []string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[key] = memoryEntry{value: value, expiresAt: c.now().Add(c.ttl)}
	for _, tag := range tags {
		keys, ok := c.tags[tag]
		if !ok {
			keys = make(map[string]struct{})
			c.tags[tag] = keys
		}
		keys[key] = struct{}{}
	}
	return nil
}

// InvalidateTags implements Cache.
func (c *MemoryCache) InvalidateTags(_ context.Context, tags ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, tag := range tags {
		for key := range c.tags[tag] {
			delete(c.entries, key)
		}
		delete(c.tags, tag)
	}
	return nil
}

// Len returns the number of stored entries, expired ones included.
func (c *MemoryCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Close implements Cache.
func (c *MemoryCache) Close() error {
	return nil
}
