package targeting

import (
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/oschwald/maxminddb-golang"

	"github.com/adforge/adledger/internal/models"
)

// GeoProvider resolves an IP address to a country code.
type GeoProvider interface {
	Country(ip string) (string, error)
	Close() error
}

// MaxMindProvider implements GeoProvider over a GeoLite2 database.
type MaxMindProvider struct {
	reader *maxminddb.Reader
}

// NewMaxMindProvider opens the MaxMind database at dbPath.
func NewMaxMindProvider(dbPath string) (*MaxMindProvider, error) {
	reader, err := maxminddb.Open(dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open GeoIP database: %w", err)
	}
	return &MaxMindProvider{reader: reader}, nil
}

// Country returns the ISO 3166-1 alpha-2 code for the IP.
func (m *MaxMindProvider) Country(ip string) (string, error) {
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return "", fmt.Errorf("invalid IP address: %s", ip)
	}

	var record struct {
		Country struct {
			ISOCode string `maxminddb:"iso_code"`
		} `maxminddb:"country"`
	}
	if err := m.reader.Lookup(parsed, &record); err != nil {
		return "", err
	}
	return record.Country.ISOCode, nil
}

// Close closes the underlying database.
func (m *MaxMindProvider) Close() error {
	if m.reader != nil {
		return m.reader.Close()
	}
	return nil
}

// ContextResolver enriches a raw request into a RequestContext, with a
// bounded TTL cache in front of the geo provider.
type ContextResolver struct {
	geo GeoProvider

	mu      sync.RWMutex
	cache   map[string]geoCacheEntry
	maxSize int
	ttl     time.Duration
}

type geoCacheEntry struct {
	country   string
	expiresAt time.Time
}

// NewContextResolver creates a resolver. geo may be nil, in which case
// the country field is left to whatever the caller supplied.
func NewContextResolver(geo GeoProvider, cacheSize int, cacheTTL time.Duration) *ContextResolver {
	return &ContextResolver{
		geo:     geo,
		cache:   make(map[string]geoCacheEntry),
		maxSize: cacheSize,
		ttl:     cacheTTL,
	}
}

// Resolve fills in missing country and device-type fields from the IP
// and user agent. Lookup failures leave fields empty; the evaluator
// fails closed on configured categories.
func (r *ContextResolver) Resolve(ctx models.RequestContext) models.RequestContext {
	if ctx.Country == "" && ctx.IP != "" && r.geo != nil {
		ctx.Country = r.lookupCountry(ctx.IP)
	}
	if ctx.DeviceType == "" && ctx.UserAgent != "" {
		ctx.DeviceType = DeviceTypeFromUserAgent(ctx.UserAgent)
	}
	return ctx
}

func (r *ContextResolver) lookupCountry(ip string) string {
	r.mu.RLock()
	entry, ok := r.cache[ip]
	r.mu.RUnlock()
	if ok && time.Now().Before(entry.expiresAt) {
		return entry.country
	}

	country, err := r.geo.Country(ip)
	if err != nil {
		return ""
	}

	r.mu.Lock()
	if len(r.cache) >= r.maxSize {
		// Simple eviction: drop an arbitrary entry.
		for k := range r.cache {
			delete(r.cache, k)
			break
		}
	}
	r.cache[ip] = geoCacheEntry{country: country, expiresAt: time.Now().Add(r.ttl)}
	r.mu.Unlock()

	return country
}

// DeviceTypeFromUserAgent classifies a user agent into mobile, tablet
// or desktop.
func DeviceTypeFromUserAgent(ua string) string {
	ua = strings.ToLower(ua)
	switch {
	case strings.Contains(ua, "ipad") || strings.Contains(ua, "tablet"):
		return "tablet"
	case strings.Contains(ua, "mobi") || strings.Contains(ua, "android") || strings.Contains(ua, "iphone"):
		return "mobile"
	case ua == "":
		return ""
	default:
		return "desktop"
	}
}

// MockGeoProvider is an in-memory geo provider for tests.
type MockGeoProvider struct {
	data map[string]string
}

func NewMockGeoProvider() *MockGeoProvider {
	return &MockGeoProvider{data: make(map[string]string)}
}

func (m *MockGeoProvider) AddEntry(ip, country string) {
	m.data[ip] = country
}

func (m *MockGeoProvider) Country(ip string) (string, error) {
	if net.ParseIP(ip) == nil {
		return "", fmt.Errorf("invalid IP address: %s", ip)
	}
	return m.data[ip], nil
}

func (m *MockGeoProvider) Close() error { return nil }
