package settings

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/spencook/subscriptions-reference-app-sub001/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var defaults = domain.Settings{
	RetryAttempts:            3,
	DaysBetweenRetryAttempts: 1,
	OnFailure:                domain.OnFailureSkip,
}

const settingsYAML = `
shops:
  Shop-One.myshopify.com:
    retryAttempts: 5
    onFailure: pause
    inventoryRetryAttempts: 2
    inventoryNotificationFrequency: immediately
  shop-two.myshopify.com:
    daysBetweenRetryAttempts: 7
`

func TestParseMergesShopEntriesOverDefaults(t *testing.T) {
	t.Parallel()

	provider, err := Parse([]byte(settingsYAML), defaults)
	require.NoError(t, err)

	one, err := provider.Resolve(context.Background(), "shop-one.myshopify.com")
	require.NoError(t, err)
	assert.Equal(t, 5, one.RetryAttempts)
	assert.Equal(t, 1, one.DaysBetweenRetryAttempts)
	assert.Equal(t, domain.OnFailurePause, one.OnFailure)
	require.NotNil(t, one.InventoryRetryAttempts)
	assert.Equal(t, 2, *one.InventoryRetryAttempts)
	assert.Equal(t, domain.DefaultInventoryDaysBetweenRetryAttempts, one.EffectiveInventoryDaysBetweenRetryAttempts())
	assert.Equal(t, domain.NotificationFrequencyImmediately, one.InventoryNotificationFrequency)

	two, err := provider.Resolve(context.Background(), " SHOP-TWO.myshopify.com ")
	require.NoError(t, err)
	assert.Equal(t, 3, two.RetryAttempts)
	assert.Equal(t, 7, two.DaysBetweenRetryAttempts)
	assert.Equal(t, domain.OnFailureSkip, two.OnFailure)

	shops := provider.Shops()
	assert.Equal(t, []string{"shop-one.myshopify.com", "shop-two.myshopify.com"}, shops)
}

func TestResolveFallsBackToDefaults(t *testing.T) {
	t.Parallel()

	provider, err := Parse([]byte(settingsYAML), defaults)
	require.NoError(t, err)

	got, err := provider.Resolve(context.Background(), "unknown.myshopify.com")
	require.NoError(t, err)
	assert.Equal(t, defaults, got)
}

func TestParseRejectsInvalidSettings(t *testing.T) {
	t.Parallel()

	tests := map[string]string{
		"bad onFailure":  "shops:\n  a:\n    onFailure: refund\n",
		"negative":       "shops:\n  a:\n    retryAttempts: -1\n",
		"bad frequency":  "shops:\n  a:\n    inventoryNotificationFrequency: hourly\n",
		"malformed yaml": "shops: [",
		"wrong type":     "shops:\n  a:\n    retryAttempts: many\n",
	}
	for name, doc := range tests {
		doc := doc
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			_, err := Parse([]byte(doc), defaults)
			require.Error(t, err)
		})
	}
}

func TestNewStaticProviderValidatesDefaults(t *testing.T) {
	t.Parallel()

	_, err := NewStaticProvider(domain.Settings{RetryAttempts: 1}, nil)
	assert.True(t, errors.Is(err, domain.ErrValidation))
}

func TestLoadFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "shops.yaml")
	require.NoError(t, os.WriteFile(path, []byte(settingsYAML), 0o600))

	provider, err := LoadFile(path, defaults)
	require.NoError(t, err)
	got, err := provider.Resolve(context.Background(), "shop-one.myshopify.com")
	require.NoError(t, err)
	assert.Equal(t, 5, got.RetryAttempts)

	empty, err := LoadFile("", defaults)
	require.NoError(t, err)
	assert.Empty(t, empty.Shops())

	_, err = LoadFile(filepath.Join(t.TempDir(), "missing.yaml"), defaults)
	require.Error(t, err)
}
