package psrdada

import (
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// Segments are system-global, so every test gets its own key. Keys step by
// two because each segment pair occupies key and key+1; the base mixes in
// the pid and clock so leftovers from a crashed run do not collide.
var keySeq atomic.Uint32

func init() {
	keySeq.Store((uint32(os.Getpid()) << 16) | (uint32(time.Now().UnixNano()) & 0xfffc))
}

func nextKey() Key {
	return Key(keySeq.Add(2))
}

// buildTestClient builds a fresh segment pair and schedules its teardown.
func buildTestClient(t testing.TB, b *ClientBuilder) *Client {
	t.Helper()
	client, err := b.Build()
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Destroy() })
	return client
}

// newTestRing builds a segment pair and attaches a second client to it, the
// way a peer process would. The peer detaches before the pair is destroyed.
func newTestRing(t testing.TB, b *ClientBuilder) (local, peer *Client) {
	t.Helper()
	local, err := b.Build()
	require.NoError(t, err)
	peer, err = Connect(local.Key())
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = peer.Close()
		_ = local.Destroy()
	})
	return local, peer
}
