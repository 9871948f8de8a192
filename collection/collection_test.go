package collection

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kevinxiao27/livelist/bridge"
	"github.com/kevinxiao27/livelist/internal/metrics"
	"github.com/kevinxiao27/livelist/store"
	"github.com/kevinxiao27/livelist/stream"
)

// fakeStream hands events straight to whoever is subscribed.
type fakeStream struct {
	mu    sync.Mutex
	sinks []stream.Sink[store.Event]
}

func (s *fakeStream) Subscribe(o stream.Observer[store.Event]) stream.Subscription {
	return stream.Create(func(sink stream.Sink[store.Event]) func() {
		s.mu.Lock()
		s.sinks = append(s.sinks, sink)
		s.mu.Unlock()
		return func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			for i, v := range s.sinks {
				if v == sink {
					s.sinks = append(s.sinks[:i:i], s.sinks[i+1:]...)
					return
				}
			}
		}
	}).Subscribe(o)
}

func (s *fakeStream) current() []stream.Sink[store.Event] {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]stream.Sink[store.Event]{}, s.sinks...)
}

func (s *fakeStream) emit(ev store.Event) {
	for _, sink := range s.current() {
		sink.Next(ev)
	}
}

func (s *fakeStream) fail(err error) {
	for _, sink := range s.current() {
		sink.Error(err)
	}
}

func (s *fakeStream) subscribers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sinks)
}

type write struct {
	op       string
	key      string
	value    any
	priority float64
}

type fakeRemote struct {
	added, removed, changed, moved fakeStream

	mu     sync.Mutex
	writes []write
	err    error
}

func (r *fakeRemote) ChildAdded() stream.Observable[store.Event]   { return &r.added }
func (r *fakeRemote) ChildRemoved() stream.Observable[store.Event] { return &r.removed }
func (r *fakeRemote) ChildChanged() stream.Observable[store.Event] { return &r.changed }
func (r *fakeRemote) ChildMoved() stream.Observable[store.Event]   { return &r.moved }

func (r *fakeRemote) record(w write) *bridge.Future {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.writes = append(r.writes, w)
	if r.err != nil {
		return bridge.Reject(r.err)
	}
	return bridge.Resolve(nil, w.key)
}

func (r *fakeRemote) Push(value any) *bridge.Future {
	return r.record(write{op: "push", key: "pushed", value: value})
}

func (r *fakeRemote) RemoveChild(key string) *bridge.Future {
	return r.record(write{op: "remove", key: key})
}

func (r *fakeRemote) SetChild(key string, value any) *bridge.Future {
	return r.record(write{op: "set", key: key, value: value})
}

func (r *fakeRemote) SetChildPriority(key string, priority float64) *bridge.Future {
	return r.record(write{op: "priority", key: key, priority: priority})
}

func (r *fakeRemote) recorded() []write {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]write{}, r.writes...)
}

func (r *fakeRemote) add(key, prev string, value any) {
	r.added.emit(store.Event{Kind: store.ChildAdded, Key: key, PrevKey: prev, Value: value})
}

func (r *fakeRemote) remove(key string) {
	r.removed.emit(store.Event{Kind: store.ChildRemoved, Key: key})
}

func (r *fakeRemote) change(key string, value any) {
	r.changed.emit(store.Event{Kind: store.ChildChanged, Key: key, Value: value})
}

func (r *fakeRemote) move(key, prev string) {
	r.moved.emit(store.Event{Kind: store.ChildMoved, Key: key, PrevKey: prev})
}

type recorder[T any] struct {
	mu        sync.Mutex
	values    []T
	err       error
	completed bool
}

func (r *recorder[T]) observer() stream.Observer[T] {
	return stream.Observer[T]{
		Next: func(v T) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.values = append(r.values, v)
		},
		Error: func(err error) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.err = err
		},
		Complete: func() {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.completed = true
		},
	}
}

func (r *recorder[T]) last() T {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.values[len(r.values)-1]
}

func newStrings(t *testing.T, opts ...Option) (*Collection[string], *fakeRemote) {
	t.Helper()
	remote := &fakeRemote{}
	c, err := New[string](remote, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c, remote
}

func keys[T any](entries []Entry[T]) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.ID
	}
	return out
}

func TestAddThenRemoveScenario(t *testing.T) {
	c, remote := newStrings(t)
	r := &recorder[[]string]{}
	c.Subscribe(r.observer())

	remote.add("1", "", "a")
	remote.add("2", "1", "b")
	assert.Equal(t, []string{"a", "b"}, r.last())

	remote.remove("1")
	assert.Equal(t, [][]string{{"a"}, {"a", "b"}, {"b"}}, r.values)
}

func TestNewAttachesAllFourStreams(t *testing.T) {
	c, remote := newStrings(t)
	for _, s := range []*fakeStream{&remote.added, &remote.removed, &remote.changed, &remote.moved} {
		assert.Equal(t, 1, s.subscribers())
	}

	require.NoError(t, c.Close())
	for _, s := range []*fakeStream{&remote.added, &remote.removed, &remote.changed, &remote.moved} {
		assert.Equal(t, 0, s.subscribers())
	}
	assert.ErrorIs(t, c.Close(), ErrClosed)
}

func TestOrderFollowsPrevKeyChain(t *testing.T) {
	c, remote := newStrings(t)

	remote.add("c", "", "c")
	remote.add("a", "", "a")
	remote.add("b", "a", "b")
	remote.add("d", "c", "d")
	assert.Equal(t, []string{"a", "b", "c", "d"}, keys(c.Snapshot()))
}

func TestAddAfterUnknownKeyAppends(t *testing.T) {
	c, remote := newStrings(t)

	remote.add("a", "", "a")
	remote.add("b", "a", "b")
	remote.add("z", "missing", "z")
	assert.Equal(t, []string{"a", "b", "z"}, c.Array())
}

func TestDuplicateAddKeepsKeysUnique(t *testing.T) {
	c, remote := newStrings(t)

	remote.add("a", "", "a")
	remote.add("b", "a", "b")
	remote.add("a", "b", "a2")
	assert.Equal(t, []string{"b", "a"}, keys(c.Snapshot()))
	assert.Equal(t, []string{"b", "a2"}, c.Array())
}

func TestMove(t *testing.T) {
	tests := []struct {
		name string
		key  string
		prev string
		want []string
	}{
		{name: "forward past the end", key: "A", prev: "C", want: []string{"B", "C", "A"}},
		{name: "backward", key: "C", prev: "A", want: []string{"A", "C", "B"}},
		{name: "to front", key: "B", prev: "", want: []string{"B", "A", "C"}},
		{name: "after unknown appends", key: "A", prev: "X", want: []string{"B", "C", "A"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, remote := newStrings(t)
			remote.add("A", "", "A")
			remote.add("B", "A", "B")
			remote.add("C", "B", "C")

			remote.move(tt.key, tt.prev)
			assert.Equal(t, tt.want, keys(c.Snapshot()))
		})
	}
}

func TestMissingKeysAreIgnored(t *testing.T) {
	c, remote := newStrings(t)
	remote.add("a", "", "a")

	r := &recorder[[]string]{}
	c.Subscribe(r.observer())
	require.Len(t, r.values, 1)

	remote.remove("nope")
	remote.change("nope", "x")
	remote.move("nope", "a")
	assert.Len(t, r.values, 1)
	assert.Equal(t, []string{"a"}, c.Array())
}

func TestChangeKeepsPosition(t *testing.T) {
	c, remote := newStrings(t)
	remote.add("a", "", "a")
	remote.add("b", "a", "b")
	remote.add("c", "b", "c")

	remote.change("b", "B")
	assert.Equal(t, []string{"a", "B", "c"}, c.Array())
	assert.Equal(t, []string{"a", "b", "c"}, keys(c.Snapshot()))
}

func TestNothingBeforeFirstMutation(t *testing.T) {
	c, remote := newStrings(t)
	r := &recorder[[]string]{}
	c.Subscribe(r.observer())
	assert.Empty(t, r.values)

	remote.remove("a")
	assert.Empty(t, r.values)
}

func TestLateSubscriberGetsLatestOnly(t *testing.T) {
	c, remote := newStrings(t)
	remote.add("a", "", "a")
	remote.add("b", "a", "b")
	remote.add("c", "b", "c")

	r := &recorder[[]string]{}
	c.Subscribe(r.observer())
	assert.Equal(t, [][]string{{"a", "b", "c"}}, r.values)

	remote.remove("b")
	assert.Equal(t, [][]string{{"a", "b", "c"}, {"a", "c"}}, r.values)
}

func TestObserverMayReadCurrentState(t *testing.T) {
	c, remote := newStrings(t)
	var seen [][]string
	c.SubscribeFunc(func([]string) { seen = append(seen, c.Array()) }, nil, nil)

	remote.add("a", "", "a")
	remote.add("b", "a", "b")
	assert.Equal(t, [][]string{{"a"}, {"a", "b"}}, seen)
}

func TestLengthIsDistinct(t *testing.T) {
	c, remote := newStrings(t)
	r := &recorder[int]{}
	c.Length().Subscribe(r.observer())

	remote.add("a", "", "a")
	remote.add("b", "a", "b")
	remote.change("a", "A")
	remote.move("a", "b")
	remote.remove("a")
	assert.Equal(t, []int{1, 2, 1}, r.values)
}

func TestIndexOfKeyIsDistinct(t *testing.T) {
	c, remote := newStrings(t)
	remote.add("a", "", "a")
	remote.add("b", "a", "b")

	r := &recorder[int]{}
	c.IndexOfKey("b").Subscribe(r.observer())
	remote.change("a", "A")
	remote.add("c", "", "c")
	remote.remove("c")
	remote.remove("b")
	assert.Equal(t, []int{1, 2, 1, -1}, r.values)
}

func TestIndexOfValue(t *testing.T) {
	c, remote := newStrings(t)
	r := &recorder[int]{}
	c.IndexOf("b").Subscribe(r.observer())

	remote.add("1", "", "a")
	remote.add("2", "1", "b")
	remote.add("3", "", "c")
	assert.Equal(t, []int{-1, 1, 2}, r.values)
}

func TestDerivedViews(t *testing.T) {
	c, remote := newStrings(t)
	remote.add("1", "", "apple")
	remote.add("2", "1", "banana")
	remote.add("3", "2", "avocado")

	filtered := &recorder[[]string]{}
	c.Filter(func(s string) bool { return s[0] == 'a' }).Subscribe(filtered.observer())
	assert.Equal(t, []string{"apple", "avocado"}, filtered.last())

	lengths := &recorder[[]int]{}
	Map(c, func(s string) int { return len(s) }).Subscribe(lengths.observer())
	assert.Equal(t, []int{5, 6, 7}, lengths.last())

	found := &recorder[Found[string]]{}
	c.Find(func(s string) bool { return s[0] == 'b' }).Subscribe(found.observer())
	index := &recorder[int]{}
	c.FindIndex(func(s string) bool { return s[0] == 'b' }).Subscribe(index.observer())

	remote.change("1", "apricot")
	remote.remove("2")

	assert.Equal(t, []Found[string]{{Value: "banana", OK: true}, {}}, found.values)
	assert.Equal(t, []int{1, -1}, index.values)
}

func TestSourceErrorTerminates(t *testing.T) {
	c, remote := newStrings(t)
	remote.add("a", "", "a")

	r := &recorder[[]string]{}
	c.Subscribe(r.observer())

	boom := errors.New("permission denied")
	remote.moved.fail(boom)
	assert.ErrorIs(t, r.err, boom)
	assert.True(t, c.Closed())
	for _, s := range []*fakeStream{&remote.added, &remote.removed, &remote.changed, &remote.moved} {
		assert.Equal(t, 0, s.subscribers())
	}

	late := &recorder[[]string]{}
	c.Subscribe(late.observer())
	assert.Equal(t, [][]string{{"a"}}, late.values)
	assert.ErrorIs(t, late.err, boom)
}

func TestSourceFailingDuringNew(t *testing.T) {
	remote := &fakeRemote{}
	boom := errors.New("denied")
	failing := &failingRemote{fakeRemote: remote, err: boom}

	c, err := New[string](failing)
	require.NoError(t, err)
	assert.True(t, c.Closed())
	assert.Equal(t, 0, remote.removed.subscribers())

	r := &recorder[[]string]{}
	c.Subscribe(r.observer())
	assert.ErrorIs(t, r.err, boom)
}

type failingRemote struct {
	*fakeRemote
	err error
}

func (r *failingRemote) ChildAdded() stream.Observable[store.Event] {
	return stream.Fail[store.Event](r.err)
}

func TestSourceCompletionCompletes(t *testing.T) {
	c, remote := newStrings(t)
	r := &recorder[[]string]{}
	c.Subscribe(r.observer())

	for _, sink := range remote.changed.current() {
		sink.Complete()
	}
	assert.True(t, r.completed)
	assert.Equal(t, 0, remote.added.subscribers())
}

func TestCloseStopsMutation(t *testing.T) {
	c, remote := newStrings(t)
	remote.add("a", "", "a")

	r := &recorder[[]string]{}
	c.Subscribe(r.observer())
	require.NoError(t, c.Close())
	assert.True(t, r.completed)

	remote.add("b", "a", "b")
	assert.Equal(t, []string{"a"}, c.Array())

	_, err := c.Add(context.Background(), "c")
	assert.ErrorIs(t, err, ErrClosed)
	assert.Empty(t, remote.recorded())
}

type item struct {
	Title string `json:"title"`
	Done  bool   `json:"done"`
}

func TestDecodesRawValues(t *testing.T) {
	remote := &fakeRemote{}
	c, err := New[item](remote)
	require.NoError(t, err)
	defer c.Close()

	remote.add("1", "", map[string]any{"title": "milk", "done": true})
	remote.add("2", "1", item{Title: "eggs"})
	assert.Equal(t, []item{{Title: "milk", Done: true}, {Title: "eggs"}}, c.Array())
}

func TestDecodeFailureTerminates(t *testing.T) {
	remote := &fakeRemote{}
	c, err := New[item](remote)
	require.NoError(t, err)

	r := &recorder[[]item]{}
	c.Subscribe(r.observer())
	remote.add("bad", "", "not an object")

	var decodeErr *DecodeError
	require.ErrorAs(t, r.err, &decodeErr)
	assert.Equal(t, "bad", decodeErr.Key)
	assert.True(t, c.Closed())
	assert.Equal(t, 0, remote.added.subscribers())
}

func TestCustomDecoder(t *testing.T) {
	remote := &fakeRemote{}
	decode := func(raw any, out any) error {
		*(out.(*int)) = len(raw.([]byte))
		return nil
	}
	c, err := New[int](remote, WithDecoder(decode))
	require.NoError(t, err)
	defer c.Close()

	remote.add("1", "", []byte("four"))
	assert.Equal(t, []int{4}, c.Array())
}

func TestCopySnapshots(t *testing.T) {
	c, remote := newStrings(t)
	r := &recorder[[]string]{}
	c.Subscribe(r.observer())

	remote.add("a", "", "a")
	before := c.Array()
	remote.change("a", "A")

	assert.Equal(t, []string{"a"}, before)
	assert.Equal(t, []string{"a"}, r.values[0])
	assert.Equal(t, []string{"A"}, r.values[1])
}

func TestLiveSnapshotsAlias(t *testing.T) {
	c, remote := newStrings(t, WithCopySnapshots(false))

	remote.add("a", "", "a")
	live := c.Array()
	entries := c.Snapshot()
	remote.change("a", "A")

	assert.Equal(t, []string{"A"}, live)
	assert.Equal(t, "A", entries[0].Value)
	assert.Equal(t, []string{"A"}, c.Array())
}

func TestMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	_, remote := newStrings(t, WithRegisterer(reg), WithName("todos"))

	remote.add("a", "", "a")
	remote.add("b", "a", "b")
	remote.remove("missing")
	remote.move("b", "")

	m, err := metrics.For(reg)
	require.NoError(t, err)
	assert.Equal(t, 2.0, testutil.ToFloat64(m.Applied.WithLabelValues("todos", "child_added")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Applied.WithLabelValues("todos", "child_moved")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Ignored.WithLabelValues("todos", "child_removed")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.Snapshots.WithLabelValues("todos")))
}

func TestAdd(t *testing.T) {
	c, remote := newStrings(t)
	key, err := c.Add(context.Background(), "milk")
	require.NoError(t, err)
	assert.Equal(t, "pushed", key)
	assert.Equal(t, []write{{op: "push", key: "pushed", value: "milk"}}, remote.recorded())
}

func TestAsyncWritesReturnFutures(t *testing.T) {
	ctx := context.Background()
	c, remote := newStrings(t)

	results, err := c.AddAsync("milk").Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, "pushed", PushedKey(results))
	require.NoError(t, c.SetAsync("pushed", "eggs").Ack(ctx))
	require.NoError(t, c.MoveAsync("pushed", 3).Ack(ctx))
	require.NoError(t, c.RemoveAsync("pushed").Ack(ctx))
	assert.Len(t, remote.recorded(), 4)

	// validation failures come back already rejected
	for _, f := range []*bridge.Future{c.RemoveAsync(""), c.SetAsync("", "x"), c.MoveAsync(" ", 1)} {
		assert.True(t, f.Resolved())
		assert.ErrorIs(t, f.Err(), ErrInvalidKey)
	}

	require.NoError(t, c.Close())
	assert.ErrorIs(t, c.AddAsync("late").Err(), ErrClosed)
	assert.Len(t, remote.recorded(), 4)
}

func TestAddNilIsRejected(t *testing.T) {
	remote := &fakeRemote{}
	c, err := New[*item](remote)
	require.NoError(t, err)
	defer c.Close()

	_, err = c.Add(context.Background(), nil)
	assert.ErrorIs(t, err, ErrNilValue)
	assert.Empty(t, remote.recorded())
}

func TestRemoteErrorsPropagate(t *testing.T) {
	c, remote := newStrings(t)
	boom := errors.New("write failed")
	remote.err = boom

	_, err := c.Add(context.Background(), "a")
	assert.ErrorIs(t, err, boom)
	assert.ErrorIs(t, c.Remove(context.Background(), "a"), boom)
	assert.ErrorIs(t, c.Set(context.Background(), "a", "b"), boom)
	assert.ErrorIs(t, c.Move(context.Background(), "a", 1), boom)
	assert.Len(t, remote.recorded(), 4)
}

func TestRemoveAndRemoveAt(t *testing.T) {
	c, remote := newStrings(t)
	remote.add("a", "", "a")
	remote.add("b", "a", "b")

	assert.ErrorIs(t, c.Remove(context.Background(), ""), ErrInvalidKey)
	assert.ErrorIs(t, c.RemoveAt(context.Background(), 2), ErrIndexOutOfRange)
	assert.ErrorIs(t, c.RemoveAt(context.Background(), -1), ErrIndexOutOfRange)
	require.NoError(t, c.RemoveAt(context.Background(), 1))
	require.NoError(t, c.Remove(context.Background(), "a"))

	assert.Equal(t, []write{{op: "remove", key: "b"}, {op: "remove", key: "a"}}, remote.recorded())
}

func TestSetStripsIdentity(t *testing.T) {
	remote := &fakeRemote{}
	c, err := New[map[string]any](remote)
	require.NoError(t, err)
	defer c.Close()

	value := map[string]any{"$id": "k", "title": "milk"}
	require.NoError(t, c.Set(context.Background(), "k", value))
	assert.ErrorIs(t, c.Set(context.Background(), " ", value), ErrInvalidKey)

	writes := remote.recorded()
	require.Len(t, writes, 1)
	assert.Equal(t, map[string]any{"title": "milk"}, writes[0].value)
	assert.Contains(t, value, "$id")
}

func TestMoveWritesPriority(t *testing.T) {
	c, remote := newStrings(t)
	require.NoError(t, c.Move(context.Background(), "a", 2.5))
	assert.Equal(t, []write{{op: "priority", key: "a", priority: 2.5}}, remote.recorded())
}

func TestConcurrentSubscribersSeeEverySnapshot(t *testing.T) {
	c, remote := newStrings(t)
	const n = 50

	var wg sync.WaitGroup
	recorders := make([]*recorder[[]Entry[string]], 8)
	for i := range recorders {
		recorders[i] = &recorder[[]Entry[string]]{}
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		prev := ""
		for i := 0; i < n; i++ {
			key := string(rune('a'+i%26)) + string(rune('0'+i/26))
			remote.add(key, prev, key)
			prev = key
		}
	}()
	for _, r := range recorders {
		r := r
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.Entries().Subscribe(r.observer())
		}()
	}
	wg.Wait()

	for _, r := range recorders {
		r.mu.Lock()
		require.NotEmpty(t, r.values)
		// contiguous lengths, ending at n
		first := len(r.values[0])
		for i, snap := range r.values {
			assert.Len(t, snap, first+i)
		}
		assert.Len(t, r.values[len(r.values)-1], n)
		r.mu.Unlock()
	}
}
