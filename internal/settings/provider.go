package settings

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/spencook/subscriptions-reference-app-sub001/internal/domain"
	"gopkg.in/yaml.v3"
)

// Provider resolves the dunning policy of a shop.
type Provider interface {
	Resolve(ctx context.Context, shop string) (domain.Settings, error)
}

type fileDocument struct {
	Shops map[string]yaml.Node `yaml:"shops"`
}

// StaticProvider serves per-shop settings loaded once at startup. Shops
// without an entry get the defaults; a shop entry only overrides the keys it
// sets.
type StaticProvider struct {
	defaults domain.Settings
	shops    map[string]domain.Settings
}

func NewStaticProvider(defaults domain.Settings, shops map[string]domain.Settings) (*StaticProvider, error) {
	if err := defaults.Validate(); err != nil {
		return nil, fmt.Errorf("invalid default settings: %w", err)
	}

	normalized := make(map[string]domain.Settings, len(shops))
	for shop, s := range shops {
		if err := s.Validate(); err != nil {
			return nil, fmt.Errorf("invalid settings for shop %s: %w", shop, err)
		}
		normalized[normalizeShop(shop)] = s
	}
	return &StaticProvider{defaults: defaults, shops: normalized}, nil
}

// LoadFile reads a YAML settings file of the form
//
//	shops:
//	  example.myshopify.com:
//	    retryAttempts: 4
//	    onFailure: pause
//
// An empty path yields a provider that only serves defaults.
func LoadFile(path string, defaults domain.Settings) (*StaticProvider, error) {
	if strings.TrimSpace(path) == "" {
		return NewStaticProvider(defaults, nil)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read settings file: %w", err)
	}
	return Parse(data, defaults)
}

func Parse(data []byte, defaults domain.Settings) (*StaticProvider, error) {
	var doc fileDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse settings file: %w", err)
	}

	shops := make(map[string]domain.Settings, len(doc.Shops))
	for shop, node := range doc.Shops {
		merged := defaults
		if err := node.Decode(&merged); err != nil {
			return nil, fmt.Errorf("failed to parse settings for shop %s: %w", shop, err)
		}
		shops[shop] = merged
	}
	return NewStaticProvider(defaults, shops)
}

func (p *StaticProvider) Resolve(ctx context.Context, shop string) (domain.Settings, error) {
	if s, ok := p.shops[normalizeShop(shop)]; ok {
		return s, nil
	}
	return p.defaults, nil
}

// Shops lists the shops with their own settings, sorted.
func (p *StaticProvider) Shops() []string {
	shops := make([]string, 0, len(p.shops))
	for shop := range p.shops {
		shops = append(shops, shop)
	}
	sort.Strings(shops)
	return shops
}

func normalizeShop(shop string) string {
	return strings.ToLower(strings.TrimSpace(shop))
}
