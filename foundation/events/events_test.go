package events_test

import (
	"encoding/json"
	"testing"

	"github.com/ledgercore/node/foundation/events"
	"github.com/stretchr/testify/require"
)

// Success and failure markers.
const (
	success = "✓"
	failed  = "✗"
)

func Test_Events(t *testing.T) {
	evts := events.New()

	t.Log("Given the need to fan events out to receivers.")
	{
		a := evts.Acquire("a")
		b := evts.Acquire("b")
		require.Equal(t, a, evts.Acquire("a"))
		require.Equal(t, 2, evts.Receivers())

		evts.Send("hello")
		require.Equal(t, "hello", <-a)
		require.Equal(t, "hello", <-b)
		t.Logf("\t%s\tShould deliver to every receiver.", success)

		require.NoError(t, evts.SendEvent("block", map[string]uint64{"height": 3}))
		var ev events.Event
		require.NoError(t, json.Unmarshal([]byte(<-a), &ev))
		require.Equal(t, "block", ev.Kind)
		require.JSONEq(t, `{"height":3}`, string(ev.Data))
		<-b
		t.Logf("\t%s\tShould deliver typed JSON events.", success)

		ev2 := evts.Viewer()
		ev2("state: AddBlock: started")
		ev2("viewer: block: %d", 9)
		require.Equal(t, "block: 9", <-a)
		require.Len(t, a, 0)
		<-b
		t.Logf("\t%s\tShould forward only viewer events.", success)

		require.NoError(t, evts.Release("b"))
		require.Error(t, evts.Release("b"))
		_, open := <-b
		require.False(t, open)
		t.Logf("\t%s\tShould close released channels.", success)

		for range 150 {
			evts.Send("flood")
		}
		require.Equal(t, uint64(50), evts.Dropped())
		t.Logf("\t%s\tShould drop events for a slow receiver.", success)

		evts.Shutdown()
		require.Equal(t, 0, evts.Receivers())
		for range a {
		}
		t.Logf("\t%s\tShould close every channel on shutdown.", success)
	}
}
