package registry

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/archivist/internal/failure"
)

type plain struct{ tag string }

func (plain) Archive(context.Context, Request, Sink) error { return nil }

type extended struct {
	plain
	id, name, link string
}

func (e extended) ToolID() string       { return e.id }
func (e extended) Name() string         { return e.name }
func (e extended) LinkedToolID() string { return e.link }

func TestRegisterRejectsDuplicateKeepingFirst(t *testing.T) {
	r := New()
	first := plain{tag: "first"}
	require.NoError(t, r.Register("forum", first))

	err := r.Register("forum", plain{tag: "second"})
	require.Error(t, err)
	assert.True(t, failure.Is(err, failure.KindDuplicateArchiver))

	got, ok := r.Get("forum")
	require.True(t, ok)
	assert.Equal(t, first, got)
	assert.Equal(t, 1, r.Len())
}

func TestRegisterValidates(t *testing.T) {
	r := New()
	assert.True(t, failure.Is(r.Register("", plain{}), failure.KindInvalidArgument))
	assert.True(t, failure.Is(r.Register("x", nil), failure.KindInvalidArgument))
}

func TestUnregister(t *testing.T) {
	r := New()
	require.NoError(t, r.Register("a", plain{}))
	r.Unregister("a")
	r.Unregister("missing")

	_, ok := r.Get("a")
	assert.False(t, ok)
	require.NoError(t, r.Register("a", plain{}), "id is reusable after unregister")
}

func TestIDsSorted(t *testing.T) {
	r := New()
	for _, id := range []string{"c", "a", "b"} {
		require.NoError(t, r.Register(id, plain{}))
	}
	assert.Equal(t, []string{"a", "b", "c"}, r.IDs())
}

func TestDescribe(t *testing.T) {
	d := Describe("forum", plain{})
	assert.Equal(t, Descriptor{ID: "forum", Name: "forum"}, d)

	d = Describe("attach", extended{id: "attach", name: "Attachments", link: "forum"})
	assert.Equal(t, Descriptor{ID: "attach", Name: "Attachments", LinkedToolID: "forum", Extended: true}, d)

	r := New()
	require.NoError(t, r.Register("b", extended{id: "b", name: "Bee"}))
	require.NoError(t, r.Register("a", plain{}))
	ds := r.Descriptors()
	require.Len(t, ds, 2)
	assert.Equal(t, "a", ds[0].ID)
	assert.Equal(t, "Bee", ds[1].Name)
}

func TestConcurrentRegisterLookup(t *testing.T) {
	r := New()
	var wg sync.WaitGroup
	var dupes sync.Map

	for i := 0; i < 50; i++ {
		wg.Add(3)
		id := fmt.Sprintf("tool-%d", i%10)
		go func() {
			defer wg.Done()
			if err := r.Register(id, plain{}); err != nil {
				dupes.Store(id, true)
			}
		}()
		go func() {
			defer wg.Done()
			r.Get(id)
			r.IDs()
		}()
		go func() {
			defer wg.Done()
			r.Len()
		}()
	}
	wg.Wait()
	assert.Equal(t, 10, r.Len())
}
