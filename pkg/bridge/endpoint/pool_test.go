package endpoint_test

import (
	"regexp"
	"testing"

	"github.com/chris-alexander-pop/zmqbridge/pkg/bridge/endpoint"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestPoolFanOutPreservesOrder(t *testing.T) {
	p := endpoint.NewPool()
	a := &endpoint.Record{Key: "MD.AAPL", ID: uuid.New(), Value: "a"}
	b := &endpoint.Record{Key: "MD.AAPL", ID: uuid.New(), Value: "b"}
	p.Register("MD.AAPL", a)
	p.Register("MD.AAPL", b)

	var seen []string
	p.ForEach("MD.AAPL", func(r *endpoint.Record) { seen = append(seen, r.Value.(string)) })
	require.Equal(t, []string{"a", "b"}, seen)
}

func TestPoolUnregisterRemovesOnlyMatchingID(t *testing.T) {
	p := endpoint.NewPool()
	a := &endpoint.Record{Key: "K", ID: uuid.New()}
	b := &endpoint.Record{Key: "K", ID: uuid.New()}
	p.Register("K", a)
	p.Register("K", b)

	require.True(t, p.Unregister("K", a.ID))
	require.False(t, p.Unregister("K", a.ID))
	require.True(t, p.HasAny("K"))

	var remaining []*endpoint.Record
	p.ForEach("K", func(r *endpoint.Record) { remaining = append(remaining, r) })
	require.Equal(t, []*endpoint.Record{b}, remaining)
}

func TestPoolUnregisterLastEntryDropsKey(t *testing.T) {
	p := endpoint.NewPool()
	a := &endpoint.Record{Key: "K", ID: uuid.New()}
	p.Register("K", a)
	require.True(t, p.Unregister("K", a.ID))
	require.False(t, p.HasAny("K"))
}

func TestPoolUnregisterByID(t *testing.T) {
	p := endpoint.NewPool()
	a := &endpoint.Record{Key: "K", ID: uuid.New()}
	p.Register("K", a)
	require.True(t, p.UnregisterByID(a.ID))
	require.False(t, p.HasAny("K"))
	require.False(t, p.UnregisterByID(a.ID))
}

func TestPoolLookupDoesNotRemove(t *testing.T) {
	p := endpoint.NewPool()
	a := &endpoint.Record{Key: "K", ID: uuid.New()}
	p.Register("K", a)

	rec, ok := p.Lookup(a.ID)
	require.True(t, ok)
	require.Same(t, a, rec)
	require.True(t, p.HasAny("K"), "Lookup must not remove the record")

	_, ok = p.Lookup(uuid.New())
	require.False(t, ok)
}

func TestWildcardListMatchesInOrder(t *testing.T) {
	w := endpoint.NewWildcardList()
	first := &endpoint.Record{ID: uuid.New(), Regex: regexp.MustCompile(`^MD\..*`), Value: "first"}
	second := &endpoint.Record{ID: uuid.New(), Regex: regexp.MustCompile(`^MD\.AAPL$`), Value: "second"}
	w.Add(first)
	w.Add(second)

	var matched []string
	w.ForEachMatching("MD.AAPL", func(r *endpoint.Record) { matched = append(matched, r.Value.(string)) })
	require.Equal(t, []string{"first", "second"}, matched)
}

func TestWildcardListRemove(t *testing.T) {
	w := endpoint.NewWildcardList()
	r := &endpoint.Record{ID: uuid.New(), Regex: regexp.MustCompile(`.*`)}
	w.Add(r)
	require.True(t, w.Remove(r.ID))
	require.Equal(t, 0, w.Len())
}

func TestWildcardListFindDoesNotRemove(t *testing.T) {
	w := endpoint.NewWildcardList()
	r := &endpoint.Record{ID: uuid.New(), Regex: regexp.MustCompile(`.*`)}
	w.Add(r)

	found, ok := w.Find(r.ID)
	require.True(t, ok)
	require.Same(t, r, found)
	require.Equal(t, 1, w.Len(), "Find must not remove the record")

	_, ok = w.Find(uuid.New())
	require.False(t, ok)
}
