package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sessionwire/sessionwire/pkg/transport"
	"github.com/sessionwire/sessionwire/pkg/wire"
)

// echoWorker resolves every command with a fixed screenshot and the command
// id, after an optional delay.
func echoWorker(delay time.Duration) transport.WorkerFunc {
	return func(env *wire.Envelope) []byte {
		if env.Type != wire.TypeCommand {
			return nil
		}
		time.Sleep(delay)
		data, _ := (&wire.Result{ID: env.ID, Screenshot: "cGl4ZWxz", URL: "https://example.com"}).Encode()
		return data
	}
}

func newTestBridge(t *testing.T) (*Bridge, *transport.MemoryTransport) {
	t.Helper()
	tr := transport.NewMemoryTransport(nil)
	t.Cleanup(func() { tr.Shutdown(context.Background()) })
	b := New(tr, nil)
	t.Cleanup(func() { b.Shutdown(context.Background()) })
	return b, tr
}

func TestSubmitAndWait_ReturnsMatchingResult(t *testing.T) {
	b, tr := newTestBridge(t)
	ctx := context.Background()

	require.NoError(t, tr.StartSession(ctx, "s1"))
	require.NoError(t, tr.BindWorker("s1", echoWorker(0)))

	env := wire.NewCommand(json.RawMessage(`{"name":"click_at","args":{"x":10,"y":20}}`))
	start := time.Now()
	res, err := b.SubmitAndWait(ctx, "s1", env, 2*time.Second)

	require.NoError(t, err)
	assert.Equal(t, env.ID, res.ID)
	assert.Equal(t, "cGl4ZWxz", res.Screenshot)
	assert.Equal(t, "https://example.com", res.URL)
	assert.Less(t, time.Since(start), 2*time.Second)
	assert.Zero(t, b.Pending("s1"), "pending table must be emptied")
}

func TestSubmitAndWait_TimeoutWhenNoResult(t *testing.T) {
	b, tr := newTestBridge(t)
	ctx := context.Background()

	require.NoError(t, tr.StartSession(ctx, "s2"))
	// No worker bound: the command is published and never answered.

	env := wire.NewCommand(json.RawMessage(`{"name":"screenshot"}`))
	start := time.Now()
	_, err := b.SubmitAndWait(ctx, "s2", env, time.Second)
	elapsed := time.Since(start)

	assert.ErrorIs(t, err, ErrTimeout)
	assert.GreaterOrEqual(t, elapsed, time.Second)
	assert.Less(t, elapsed, 1500*time.Millisecond, "timeout should fire near the deadline")
	assert.Zero(t, b.Pending("s2"))

	// A result arriving after the timeout is discarded without error.
	late, _ := (&wire.Result{ID: env.ID, Screenshot: "bGF0ZQ=="}).Encode()
	tr.InjectResult("s2", late)
	time.Sleep(50 * time.Millisecond)
	assert.Zero(t, b.Pending("s2"))
}

func TestSubmitAndWait_WorkerError(t *testing.T) {
	b, tr := newTestBridge(t)
	ctx := context.Background()

	require.NoError(t, tr.StartSession(ctx, "s1"))
	require.NoError(t, tr.BindWorker("s1", func(env *wire.Envelope) []byte {
		data, _ := (&wire.Result{ID: env.ID, Error: "element not found"}).Encode()
		return data
	}))

	res, err := b.SubmitAndWait(ctx, "s1", wire.NewCommand(nil), 2*time.Second)
	require.NoError(t, err, "a worker failure is a result, not a transport error")
	assert.True(t, res.Failed())
	assert.Equal(t, "element not found", res.Error)
}

func TestSubmitAndWait_DeliveryErrorCleansSlot(t *testing.T) {
	tr := &failingPublishTransport{MemoryTransport: transport.NewMemoryTransport(nil)}
	defer tr.Shutdown(context.Background())
	b := New(tr, nil)
	defer b.Shutdown(context.Background())

	ctx := context.Background()
	require.NoError(t, tr.StartSession(ctx, "s1"))

	_, err := b.SubmitAndWait(ctx, "s1", wire.NewCommand(nil), time.Second)
	assert.ErrorIs(t, err, transport.ErrDelivery)
	assert.Zero(t, b.Pending("s1"))
}

func TestSubmitAndWait_SelfHealsMissingReader(t *testing.T) {
	b, tr := newTestBridge(t)
	ctx := context.Background()

	// Simulate a session created by a sibling frontend: the transport knows
	// it, but this process holds no reader.
	require.NoError(t, tr.StartSession(ctx, "elsewhere"))
	require.NoError(t, tr.BindWorker("elsewhere", echoWorker(0)))
	require.False(t, tr.HasReader("elsewhere"))

	res, err := b.SubmitAndWait(ctx, "elsewhere", wire.NewCommand(nil), 2*time.Second)
	require.NoError(t, err)
	assert.NotEmpty(t, res.Screenshot)
	assert.True(t, tr.HasReader("elsewhere"), "publishing must have provisioned a local reader")
}

func TestSubmitAndWait_ConcurrentCommandsGetOwnResults(t *testing.T) {
	b, tr := newTestBridge(t)
	ctx := context.Background()

	require.NoError(t, tr.StartSession(ctx, "s1"))
	// The worker answers each command with its own id in the URL, after a
	// jittered delay so results come back out of submission order.
	require.NoError(t, tr.BindWorker("s1", func(env *wire.Envelope) []byte {
		time.Sleep(time.Duration(len(env.ID)%7) * 5 * time.Millisecond)
		data, _ := (&wire.Result{ID: env.ID, Screenshot: "eA==", URL: "url-" + env.ID}).Encode()
		return data
	}))

	const n = 32
	var wg sync.WaitGroup
	errs := make([]error, n)
	results := make([]*wire.Result, n)
	envs := make([]*wire.Envelope, n)

	for i := 0; i < n; i++ {
		envs[i] = wire.NewCommand(json.RawMessage(fmt.Sprintf(`{"name":"click_at","args":{"x":%d,"y":0}}`, i)))
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = b.SubmitAndWait(ctx, "s1", envs[i], 5*time.Second)
		}(i)
	}
	wg.Wait()

	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, envs[i].ID, results[i].ID, "command %d got someone else's result", i)
		assert.Equal(t, "url-"+envs[i].ID, results[i].URL)
	}
	assert.Zero(t, b.Pending("s1"))
}

func TestAbortSession_FailsInFlightCommands(t *testing.T) {
	b, tr := newTestBridge(t)
	ctx := context.Background()

	require.NoError(t, tr.StartSession(ctx, "s1"))
	// Worker that never answers.

	done := make(chan error, 1)
	go func() {
		_, err := b.SubmitAndWait(ctx, "s1", wire.NewCommand(nil), 10*time.Second)
		done <- err
	}()

	require.Eventually(t, func() bool { return b.Pending("s1") == 1 }, 2*time.Second, 10*time.Millisecond)

	b.AbortSession("s1")

	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrSessionDeleted)
	case <-time.After(2 * time.Second):
		t.Fatal("in-flight command was not force-resolved")
	}
	assert.False(t, tr.HasReader("s1"), "correlator reader must be released")
}

func TestResultHandler_MalformedAndStaleAreDiscarded(t *testing.T) {
	b, tr := newTestBridge(t)
	ctx := context.Background()

	require.NoError(t, tr.StartSession(ctx, "s1"))
	require.NoError(t, b.EnsureConsumer(ctx, "s1"))

	// Neither of these may break the shared reader.
	tr.InjectResult("s1", []byte("not json"))
	tr.InjectResult("s1", []byte(`{"id":"stale-id","screenshot":"eA=="}`))

	// The reader still works afterwards.
	require.NoError(t, tr.BindWorker("s1", echoWorker(0)))
	res, err := b.SubmitAndWait(ctx, "s1", wire.NewCommand(nil), 2*time.Second)
	require.NoError(t, err)
	assert.NotEmpty(t, res.Screenshot)
}

func TestEnsureConsumer_SingleReaderPerSession(t *testing.T) {
	b, tr := newTestBridge(t)
	ctx := context.Background()

	require.NoError(t, tr.StartSession(ctx, "s1"))
	require.NoError(t, b.EnsureConsumer(ctx, "s1"))
	require.NoError(t, b.EnsureConsumer(ctx, "s1"))

	assert.Equal(t, 1, tr.ReaderCount("s1"))
}

// failingPublishTransport fails every publish with a delivery error.
type failingPublishTransport struct {
	*transport.MemoryTransport
}

func (f *failingPublishTransport) Publish(ctx context.Context, sessionID string, env *wire.Envelope) error {
	return fmt.Errorf("%w: broker unreachable", transport.ErrDelivery)
}
