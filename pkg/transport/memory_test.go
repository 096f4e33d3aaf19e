package transport

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sessionwire/sessionwire/pkg/wire"
)

func TestMemoryTransport_StartSessionIdempotent(t *testing.T) {
	tr := NewMemoryTransport(nil)
	defer tr.Shutdown(context.Background())

	ctx := context.Background()
	require.NoError(t, tr.StartSession(ctx, "s1"))
	require.NoError(t, tr.StartSession(ctx, "s1"))

	// A reader attached before the second StartSession must survive it.
	reader, err := tr.Consume(ctx, "s1", func([]byte) error { return nil })
	require.NoError(t, err)
	defer reader.Close()

	require.NoError(t, tr.StartSession(ctx, "s1"))
	assert.Equal(t, 1, tr.ReaderCount("s1"))
}

func TestMemoryTransport_PublishDispatchesToWorker(t *testing.T) {
	tr := NewMemoryTransport(nil)
	defer tr.Shutdown(context.Background())

	ctx := context.Background()
	require.NoError(t, tr.StartSession(ctx, "s1"))

	require.NoError(t, tr.BindWorker("s1", func(env *wire.Envelope) []byte {
		res, _ := (&wire.Result{ID: env.ID, Screenshot: "cGl4ZWxz", URL: "https://example.com"}).Encode()
		return res
	}))

	received := make(chan *wire.Result, 1)
	reader, err := tr.Consume(ctx, "s1", func(data []byte) error {
		res, err := wire.DecodeResult(data)
		if err != nil {
			return err
		}
		received <- res
		return nil
	})
	require.NoError(t, err)
	defer reader.Close()

	env := wire.NewCommand(json.RawMessage(`{"name":"screenshot"}`))
	require.NoError(t, tr.Publish(ctx, "s1", env))

	select {
	case res := <-received:
		assert.Equal(t, env.ID, res.ID)
		assert.Equal(t, "https://example.com", res.URL)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for worker result")
	}
}

func TestMemoryTransport_InjectFansOutToAllReaders(t *testing.T) {
	tr := NewMemoryTransport(nil)
	defer tr.Shutdown(context.Background())

	ctx := context.Background()
	require.NoError(t, tr.StartSession(ctx, "s1"))

	var a, b atomic.Int32
	ra, err := tr.Consume(ctx, "s1", func([]byte) error { a.Add(1); return nil })
	require.NoError(t, err)
	defer ra.Close()
	rb, err := tr.Consume(ctx, "s1", func([]byte) error { b.Add(1); return nil })
	require.NoError(t, err)
	defer rb.Close()

	res, _ := (&wire.Result{ID: "m1", Screenshot: "eA=="}).Encode()
	tr.InjectResult("s1", res)

	assert.Eventually(t, func() bool {
		return a.Load() == 1 && b.Load() == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestMemoryTransport_PublishUnknownSession(t *testing.T) {
	tr := NewMemoryTransport(nil)
	defer tr.Shutdown(context.Background())

	err := tr.Publish(context.Background(), "nope", wire.NewCommand(nil))
	assert.ErrorIs(t, err, ErrNoSession)
}

func TestMemoryTransport_EndSessionReleasesReaders(t *testing.T) {
	tr := NewMemoryTransport(nil)
	defer tr.Shutdown(context.Background())

	ctx := context.Background()
	require.NoError(t, tr.StartSession(ctx, "s1"))
	_, err := tr.Consume(ctx, "s1", func([]byte) error { return nil })
	require.NoError(t, err)
	require.True(t, tr.HasReader("s1"))

	require.NoError(t, tr.EndSession(ctx, "s1"))
	assert.False(t, tr.HasReader("s1"))
	assert.Equal(t, 0, tr.ReaderCount("s1"))

	// Deleting again is success.
	assert.NoError(t, tr.EndSession(ctx, "s1"))
}

func TestMemoryTransport_ReaderCloseIsIdempotent(t *testing.T) {
	tr := NewMemoryTransport(nil)
	defer tr.Shutdown(context.Background())

	ctx := context.Background()
	require.NoError(t, tr.StartSession(ctx, "s1"))
	reader, err := tr.Consume(ctx, "s1", func([]byte) error { return nil })
	require.NoError(t, err)

	require.NoError(t, reader.Close())
	require.NoError(t, reader.Close())
	assert.Equal(t, 0, tr.ReaderCount("s1"))
}

func TestMemoryTransport_ClosedOperationsFail(t *testing.T) {
	tr := NewMemoryTransport(nil)
	require.NoError(t, tr.Shutdown(context.Background()))

	ctx := context.Background()
	assert.ErrorIs(t, tr.StartSession(ctx, "s1"), ErrClosed)
	assert.ErrorIs(t, tr.Publish(ctx, "s1", wire.NewCommand(nil)), ErrClosed)
	_, err := tr.Consume(ctx, "s1", func([]byte) error { return nil })
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, tr.Shutdown(ctx), ErrClosed)
}

func TestMemoryReader_DropsOldestWhenFull(t *testing.T) {
	tr := NewMemoryTransport(nil)
	defer tr.Shutdown(context.Background())

	ctx := context.Background()
	require.NoError(t, tr.StartSession(ctx, "s1"))

	// Block the handler on the first message so the queue fills behind it.
	started := make(chan struct{})
	release := make(chan struct{})
	var first atomic.Bool
	seen := make(chan string, readerBuffer+8)
	reader, err := tr.Consume(ctx, "s1", func(data []byte) error {
		if first.CompareAndSwap(false, true) {
			close(started)
			<-release
		}
		res, _ := wire.DecodeResult(data)
		seen <- res.ID
		return nil
	})
	require.NoError(t, err)
	defer reader.Close()

	blocker, _ := (&wire.Result{ID: "blocker"}).Encode()
	tr.InjectResult("s1", blocker)
	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("handler never started")
	}

	// readerBuffer messages fill the queue; the overflow evicts the oldest.
	total := readerBuffer + 4
	for i := 0; i < total; i++ {
		res, _ := (&wire.Result{ID: idFor(i)}).Encode()
		tr.InjectResult("s1", res)
	}
	close(release)

	got := map[string]bool{}
	deadline := time.After(2 * time.Second)
	for len(got) < readerBuffer+1 {
		select {
		case id := <-seen:
			got[id] = true
		case <-deadline:
			t.Fatalf("only received %d results", len(got))
		}
	}

	// The newest message always survives; the displaced ones are the oldest.
	assert.True(t, got["blocker"])
	assert.True(t, got[idFor(total-1)], "newest result must not be dropped")
	assert.False(t, got[idFor(0)], "oldest queued result should have been evicted")
}

func idFor(i int) string {
	return string(rune('A'+i/26)) + string(rune('a'+i%26))
}
