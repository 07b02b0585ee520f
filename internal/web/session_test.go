package web

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"food_detector/internal/detector"
	"food_detector/internal/upload"
)

func TestSessionStore_Expiry(t *testing.T) {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	st := NewSessionStore(time.Minute, 0)
	st.now = func() time.Time { return now }

	s, err := st.Create()
	require.NoError(t, err)
	assert.Len(t, s.ID, 32)

	now = now.Add(50 * time.Second)
	got, ok := st.Get(s.ID)
	require.True(t, ok)
	assert.Same(t, s, got)

	// Get refreshed the idle timer.
	now = now.Add(50 * time.Second)
	_, ok = st.Get(s.ID)
	assert.True(t, ok)

	now = now.Add(2 * time.Minute)
	_, ok = st.Get(s.ID)
	assert.False(t, ok)
	assert.Equal(t, 0, st.Len())
}

func TestSessionStore_CreateSweepsExpired(t *testing.T) {
	now := time.Now()
	st := NewSessionStore(time.Minute, 0)
	st.now = func() time.Time { return now }

	first, err := st.Create()
	require.NoError(t, err)
	now = now.Add(2 * time.Minute)
	second, err := st.Create()
	require.NoError(t, err)

	assert.NotEqual(t, first.ID, second.ID)
	assert.Equal(t, 1, st.Len())
	_, ok := st.Get("unknown")
	assert.False(t, ok)
}

func TestSession_ReplaceDropsResult(t *testing.T) {
	var s Session
	s.replace(&upload.Image{Name: "a.png"})
	s.setResult(&detector.Result{}, []byte{1})
	require.NotNil(t, s.result)

	s.replace(&upload.Image{Name: "b.png"})
	assert.Nil(t, s.result)
	assert.Nil(t, s.annotated)
	assert.Equal(t, "b.png", s.upload.Name)
	assert.EqualValues(t, 3, s.version)
}

func TestSessionStore_EvictsLeastRecentlyUsed(t *testing.T) {
	now := time.Now()
	st := NewSessionStore(time.Hour, 2)
	st.now = func() time.Time { return now }

	a, err := st.Create()
	require.NoError(t, err)
	now = now.Add(time.Second)
	b, err := st.Create()
	require.NoError(t, err)

	// Touching a makes b the oldest.
	now = now.Add(time.Second)
	_, ok := st.Get(a.ID)
	require.True(t, ok)

	now = now.Add(time.Second)
	c, err := st.Create()
	require.NoError(t, err)

	assert.Equal(t, 2, st.Len())
	_, ok = st.Get(b.ID)
	assert.False(t, ok)
	_, ok = st.Get(a.ID)
	assert.True(t, ok)
	_, ok = st.Get(c.ID)
	assert.True(t, ok)
}
