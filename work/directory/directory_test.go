package directory

import (
	"sync"
	"testing"

	"chanrelay/work/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func rec(name, link, server string) types.ChannelRecord {
	return types.ChannelRecord{Name: name, Link: link, ServerName: server}
}

func TestEmptyDirectory(t *testing.T) {
	d := New()
	assert.Zero(t, d.Current().Len())
	assert.Empty(t, d.ListGrouped())
	assert.Nil(t, d.GetByName("X"))
	_, ok := d.GetByID(1)
	assert.False(t, ok)
}

func TestStageIsInvisibleUntilPublished(t *testing.T) {
	d := New()
	s := d.Stage()
	added := s.Add(types.ChannelRecord{Name: "A", Link: "l1", Cookie: "c=1", UserAgent: "UA"})

	assert.Equal(t, types.HeadersFor("c=1", "UA"), added.Headers)
	assert.Equal(t, 1, s.Len())
	_, ok := d.GetByID(added.ID)
	assert.False(t, ok)

	gen := d.Publish(s)
	assert.Same(t, gen, d.Current())
	assert.False(t, gen.BuiltAt.IsZero())

	got, ok := d.GetByID(added.ID)
	require.True(t, ok)
	assert.Equal(t, added, got)
}

func TestGroupingAndLookup(t *testing.T) {
	d := New()
	s := d.Stage()
	x1 := s.Add(rec("X", "l1", "Server 1"))
	y := s.Add(rec("Y", "l2", "Server 1"))
	x2 := s.Add(rec("X", "l3", "Server 2"))
	x3 := s.Add(rec("X", "l4", "Server 3"))
	d.Publish(s)

	assert.Equal(t, []types.ChannelRecord{x1, x2, x3}, d.GetByName("X"))
	assert.Equal(t, []types.ChannelRecord{y}, d.GetByName("Y"))

	grouped := d.ListGrouped()
	require.Len(t, grouped, 2)
	assert.Equal(t, x1.ID, grouped[0].ID)
	assert.Equal(t, "Server 1", grouped[0].ServerName)
	assert.Equal(t, 3, grouped[0].ServerCount)
	assert.Equal(t, y.ID, grouped[1].ID)
	assert.Equal(t, 1, grouped[1].ServerCount)

	got, ok := d.GetByID(x2.ID)
	require.True(t, ok)
	assert.Equal(t, "Server 2", got.ServerName)
}

func TestIDsAreFreshPerGeneration(t *testing.T) {
	d := New()
	s := d.Stage()
	old := s.Add(rec("A", "l1", "s"))
	first := d.Publish(s)

	s = d.Stage()
	fresh := s.Add(rec("A", "l1", "s"))
	second := d.Publish(s)

	assert.Greater(t, second.Seq, first.Seq)
	assert.NotEqual(t, old.ID, fresh.ID)
	_, ok := d.GetByID(old.ID)
	assert.False(t, ok)
	_, ok = d.GetByID(fresh.ID)
	assert.True(t, ok)

	// The retired generation is still a consistent snapshot
	_, ok = first.GetByID(old.ID)
	assert.True(t, ok)
}

func TestEmptyPublishReplacesTable(t *testing.T) {
	d := New()
	s := d.Stage()
	s.Add(rec("A", "l1", "s"))
	d.Publish(s)

	d.Publish(d.Stage())
	assert.Empty(t, d.ListGrouped())
}

func TestReadersSeeWholeGenerations(t *testing.T) {
	d := New()
	const size = 50

	var wg sync.WaitGroup
	stop := make(chan struct{})
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				n := d.Current().Len()
				if n != 0 && n != size {
					t.Errorf("observed partial generation of %d records", n)
					return
				}
			}
		}()
	}

	for range 20 {
		s := d.Stage()
		for i := range size {
			s.Add(rec("A", string(rune('a'+i%26))+"x", "s"))
		}
		d.Publish(s)
	}
	close(stop)
	wg.Wait()
}
