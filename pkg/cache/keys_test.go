package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTenantKey(t *testing.T) {
	assert.Equal(t, "tenant:t-1:overview:30", TenantKey("t-1", "overview:30"))
}

func TestUserKey(t *testing.T) {
	assert.Equal(t, "user:u-1:prefs", UserKey("u-1", "prefs"))
}

func TestCanonicalKeyStableForMaps(t *testing.T) {
	// Maps built in different insertion orders must serialize identically
	a := map[string]string{"event_type": "click", "user_id": "u-1"}
	b := map[string]string{"user_id": "u-1", "event_type": "click"}

	ka, err := CanonicalKey("events", a)
	require.NoError(t, err)
	kb, err := CanonicalKey("events", b)
	require.NoError(t, err)
	assert.Equal(t, ka, kb)
}

func TestCanonicalKeyDistinguishesFilters(t *testing.T) {
	type filter struct {
		EventType string     `json:"event_type,omitempty"`
		UserID    string     `json:"user_id,omitempty"`
		Start     *time.Time `json:"start,omitempty"`
	}

	k1, err := CanonicalKey("events", filter{EventType: "click"})
	require.NoError(t, err)
	k2, err := CanonicalKey("events", filter{EventType: "view"})
	require.NoError(t, err)
	assert.NotEqual(t, k1, k2)

	now := time.Now()
	k3, err := CanonicalKey("events", filter{EventType: "click", Start: &now})
	require.NoError(t, err)
	assert.NotEqual(t, k1, k3)
}

func TestCanonicalKeyUnserializable(t *testing.T) {
	_, err := CanonicalKey("events", make(chan int))
	assert.Error(t, err)
}
