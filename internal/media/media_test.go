package media

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/counselhub/room-server-go/internal/call"
)

func acquire(t *testing.T, d *Devices) *Session {
	t.Helper()
	m, err := d.Acquire(context.Background(), call.Constraints{Audio: true})
	require.NoError(t, err)
	s, ok := m.(*Session)
	require.True(t, ok)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSDP(t *testing.T) {
	t.Run("offer round-trips through parser", func(t *testing.T) {
		body, err := BuildSDP(42, "10.0.0.5", 20004)
		require.NoError(t, err)
		assert.Contains(t, string(body), "a=rtpmap:0 PCMU/8000")

		ep, err := ParseSDP(body)
		require.NoError(t, err)
		assert.Equal(t, "10.0.0.5", ep.Host)
		assert.Equal(t, 20004, ep.Port)
	})

	t.Run("media level connection wins over session level", func(t *testing.T) {
		body := strings.Join([]string{
			"v=0",
			"o=- 1 1 IN IP4 10.0.0.1",
			"s=-",
			"c=IN IP4 10.0.0.1",
			"t=0 0",
			"m=audio 30000 RTP/AVP 8 0",
			"c=IN IP4 10.0.0.9",
			"",
		}, "\r\n")

		ep, err := ParseSDP([]byte(body))
		require.NoError(t, err)
		assert.Equal(t, "10.0.0.9", ep.Host)
		assert.Equal(t, 30000, ep.Port)
	})

	t.Run("rejects description without PCMU", func(t *testing.T) {
		body := "v=0\r\no=- 1 1 IN IP4 10.0.0.1\r\ns=-\r\nc=IN IP4 10.0.0.1\r\nt=0 0\r\nm=audio 30000 RTP/AVP 8\r\n"
		_, err := ParseSDP([]byte(body))
		assert.Error(t, err)
	})

	t.Run("rejects description without audio", func(t *testing.T) {
		body := "v=0\r\no=- 1 1 IN IP4 10.0.0.1\r\ns=-\r\nc=IN IP4 10.0.0.1\r\nt=0 0\r\nm=video 30000 RTP/AVP 96\r\n"
		_, err := ParseSDP([]byte(body))
		assert.Error(t, err)
	})

	t.Run("rejects garbage", func(t *testing.T) {
		_, err := ParseSDP([]byte("not sdp"))
		assert.Error(t, err)
	})
}

func TestDevices(t *testing.T) {
	t.Run("requires audio", func(t *testing.T) {
		d := NewDevices("127.0.0.1", "127.0.0.1", 41000, 41009)
		_, err := d.Acquire(context.Background(), call.Constraints{Video: true})
		assert.Error(t, err)
	})

	t.Run("exhausted range", func(t *testing.T) {
		d := NewDevices("127.0.0.1", "127.0.0.1", 41010, 41010)
		acquire(t, d)

		_, err := d.Acquire(context.Background(), call.Constraints{Audio: true})
		assert.ErrorIs(t, err, ErrNoPorts)
	})

	t.Run("close releases port", func(t *testing.T) {
		d := NewDevices("127.0.0.1", "127.0.0.1", 41020, 41020)
		s := acquire(t, d)
		assert.Equal(t, 41020, s.Port())
		assert.Equal(t, 1, d.InUse())

		require.NoError(t, s.Close())
		assert.Equal(t, 0, d.InUse())

		again := acquire(t, d)
		assert.Equal(t, 41020, again.Port())
	})

	t.Run("cancelled context", func(t *testing.T) {
		d := NewDevices("127.0.0.1", "127.0.0.1", 41030, 41039)
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := d.Acquire(ctx, call.Constraints{Audio: true})
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestIsPermissionError(t *testing.T) {
	assert.True(t, isPermissionError(fmt.Errorf("listen: %w", syscall.EACCES)))
	assert.True(t, isPermissionError(syscall.EPERM))
	assert.False(t, isPermissionError(errors.New("address already in use")))
}

func TestSessionExchangesRTP(t *testing.T) {
	d := NewDevices("127.0.0.1", "127.0.0.1", 41040, 41049)
	caller := acquire(t, d)
	callee := acquire(t, d)

	offer, err := caller.Offer()
	require.NoError(t, err)
	answer, err := callee.Answer(offer)
	require.NoError(t, err)
	require.NoError(t, caller.SetRemote(answer))

	callerFirst := caller.Start()
	calleeFirst := callee.Start()

	for name, ch := range map[string]<-chan struct{}{"caller": callerFirst, "callee": calleeFirst} {
		select {
		case <-ch:
		case <-time.After(2 * time.Second):
			t.Fatalf("%s never saw an rtp packet", name)
		}
	}
}

func TestSessionFlags(t *testing.T) {
	d := NewDevices("127.0.0.1", "127.0.0.1", 41050, 41059)
	m, err := d.Acquire(context.Background(), call.Constraints{Audio: true, Video: true})
	require.NoError(t, err)
	s := m.(*Session)
	defer s.Close()

	assert.True(t, s.Video())
	s.SetVideo(false)
	assert.False(t, s.Video())

	assert.False(t, s.Muted())
	s.SetMuted(true)
	assert.True(t, s.Muted())

	assert.NoError(t, s.Close())
	assert.NoError(t, s.Close())
}
