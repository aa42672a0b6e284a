package media

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"watchroom-server/clock"
	"watchroom-server/domain"
)

var t0 = time.Date(2024, 5, 1, 20, 0, 0, 0, time.UTC)

var hd = []Rendition{{Quality: "720p", URL: "https://cdn.example.com/m1/720p.m3u8"}}

func TestCatalog_Lifecycle(t *testing.T) {
	c := NewCatalog()

	it, err := c.Register("m1", "Heat", t0)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, it.Status)

	_, err = c.Register("m1", "Heat", t0)
	assert.ErrorIs(t, err, domain.ErrAlreadyExists)

	_, err = c.Playable("m1")
	assert.ErrorIs(t, err, domain.ErrInvalidState)

	it, err = c.Progress("m1", 140, t0.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, StatusProcessing, it.Status)
	assert.Equal(t, 99, it.Progress)

	it, err = c.Complete("m1", hd, t0.Add(2*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, StatusReady, it.Status)
	assert.Equal(t, 100, it.Progress)

	got, err := c.Playable("m1")
	require.NoError(t, err)
	assert.Equal(t, hd, got)

	_, err = c.Progress("m1", 10, t0)
	assert.ErrorIs(t, err, domain.ErrInvalidState)
	_, err = c.Fail("m1", "late failure", t0)
	assert.ErrorIs(t, err, domain.ErrInvalidState)
}

func TestCatalog_Errors(t *testing.T) {
	c := NewCatalog()

	tests := []struct {
		name string
		call func() error
		want error
	}{
		{"get unknown", func() error { _, err := c.Get("nope"); return err }, domain.ErrNotFound},
		{"playable unknown", func() error { _, err := c.Playable("nope"); return err }, domain.ErrNotFound},
		{"progress unknown", func() error { _, err := c.Progress("nope", 1, t0); return err }, domain.ErrNotFound},
		{"complete without renditions", func() error {
			if _, err := c.Register("empty", "", t0); err != nil {
				return err
			}
			_, err := c.Complete("empty", nil, t0)
			return err
		}, domain.ErrInvalidState},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, tt.call(), tt.want)
		})
	}
}

func TestCatalog_FailedIsNotPlayable(t *testing.T) {
	c := NewCatalog()
	_, err := c.Register("m2", "", t0)
	require.NoError(t, err)

	it, err := c.Fail("m2", "codec unsupported", t0)
	require.NoError(t, err)
	assert.Equal(t, "codec unsupported", it.Error)

	_, err = c.Playable("m2")
	assert.ErrorIs(t, err, domain.ErrInvalidState)
	_, err = c.Complete("m2", hd, t0)
	assert.ErrorIs(t, err, domain.ErrInvalidState)
}

func TestCatalog_GetReturnsCopy(t *testing.T) {
	c := NewCatalog()
	_, err := c.Register("m1", "", t0)
	require.NoError(t, err)
	_, err = c.Complete("m1", hd, t0)
	require.NoError(t, err)

	it, err := c.Get("m1")
	require.NoError(t, err)
	it.Renditions[0].URL = "changed"

	again, err := c.Get("m1")
	require.NoError(t, err)
	assert.Equal(t, hd[0].URL, again.Renditions[0].URL)
}

func TestSubscriber_Apply(t *testing.T) {
	c := NewCatalog()
	s := NewSubscriber(nil, "", c, clock.NewManual(t0))
	assert.Equal(t, DefaultChannel, s.channel)

	require.NoError(t, s.Apply(Signal{MediaID: "m3", Title: "Alien", Status: StatusProcessing, Progress: 40}))
	it, err := c.Get("m3")
	require.NoError(t, err)
	assert.Equal(t, "Alien", it.Title)
	assert.Equal(t, 40, it.Progress)

	require.NoError(t, s.Apply(Signal{MediaID: "m3", Status: StatusReady, Renditions: hd}))
	got, err := c.Playable("m3")
	require.NoError(t, err)
	assert.Equal(t, hd, got)

	assert.ErrorIs(t, s.Apply(Signal{MediaID: "m3", Status: StatusFailed}), domain.ErrInvalidState)
	assert.ErrorIs(t, s.Apply(Signal{MediaID: "m3", Status: "exploded"}), domain.ErrInvalidState)
	assert.ErrorIs(t, s.Apply(Signal{Status: StatusPending}), domain.ErrInvalidState)
}

func TestSubscriber_HandleIgnoresGarbage(t *testing.T) {
	c := NewCatalog()
	s := NewSubscriber(nil, "media:test", c, clock.NewManual(t0))

	s.handle([]byte("not json"))
	s.handle([]byte(`{"mediaId":"m4","status":"failed","error":"boom"}`))

	assert.Len(t, c.List(), 1)
	it, err := c.Get("m4")
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, it.Status)
}
