package wizard

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JonMunkholm/csvwizard/internal/backend"
)

const testTimeout = 2 * time.Second

func newDedup(t *testing.T, f *fakeBackend) *DedupController {
	t.Helper()
	c := NewDedup(f, testOptions())
	t.Cleanup(c.Close)
	return c
}

func dedupFake() *fakeBackend {
	f := newFake()
	f.dedupCols = &backend.DedupColumns{
		Filepath:         "uploads/crm.csv",
		Columns:          []string{"nombre", "mail_2", "correo", "mail_1"},
		SuggestedColumns: []string{"mail_2", "mail_1"},
	}
	f.dedupPreview = &backend.DedupPreview{
		Preview: []string{"a@x.com", "b@x.com"},
		Stats:   backend.Stats{TotalRaw: 10, TotalUnique: 6, Duplicates: 3, Invalid: 1},
	}
	f.dedupID = "dd-1"
	return f
}

func TestDedup_FullFlow(t *testing.T) {
	ctx := context.Background()
	f := dedupFake()
	done := complete("/downloads/unique.csv")
	done.InvalidResult = "/downloads/invalid.csv"
	done.Stats = &backend.Stats{TotalRaw: 10, TotalUnique: 6, Duplicates: 3, Invalid: 1}
	f.script("dd-1", processing(20), done)

	c := newDedup(t, f)
	require.NoError(t, c.SelectFile(ctx, csvUpload("crm.csv")))

	v := c.View()
	assert.Equal(t, StateAwaitingFieldSelection, v.State)
	var order []string
	var selected []string
	for _, col := range v.DedupColumns {
		order = append(order, col.Name)
		if col.Selected {
			selected = append(selected, col.Name)
		}
	}
	assert.Equal(t, []string{"mail_1", "mail_2", "correo", "nombre"}, order)
	assert.Equal(t, []string{"mail_1", "mail_2"}, selected)
	assert.Equal(t, []string{"mail_2", "mail_1"}, v.Columns, "pre-selection follows suggestion order")

	require.NoError(t, c.ToggleColumn("correo", true))
	require.NoError(t, c.ToggleColumn("mail_2", false))

	require.NoError(t, c.Preview(ctx))
	v = c.View()
	assert.Equal(t, StatePreviewing, v.State)
	assert.Equal(t, []string{"a@x.com", "b@x.com"}, v.DedupPreview)
	require.NotNil(t, v.Stats)
	assert.Equal(t, 6, v.Stats.TotalUnique)
	assert.Equal(t, []string{"mail_1", "correo"}, f.dedupReqs[0].Columns)

	require.NoError(t, c.Process(ctx))
	v = waitState(t, c, StateDownloadable)
	assert.Equal(t, "/downloads/unique.csv", v.Result)
	assert.Equal(t, "/downloads/invalid.csv", v.InvalidResult)
	require.NotNil(t, v.FinalStats)
	assert.Equal(t, 3, v.FinalStats.Duplicates)
}

func TestDedup_InconsistentStatsShownVerbatim(t *testing.T) {
	f := dedupFake()
	f.dedupPreview.Stats = backend.Stats{TotalRaw: 10, TotalUnique: 9, Duplicates: 9, Invalid: 9}

	c := newDedup(t, f)
	require.NoError(t, c.SelectFile(context.Background(), csvUpload("crm.csv")))
	require.NoError(t, c.Preview(context.Background()))

	v := c.View()
	require.NotNil(t, v.Stats)
	assert.Equal(t, backend.Stats{TotalRaw: 10, TotalUnique: 9, Duplicates: 9, Invalid: 9}, *v.Stats)
}

func TestDedup_NoSuggestions(t *testing.T) {
	f := dedupFake()
	f.dedupCols.SuggestedColumns = nil

	c := newDedup(t, f)
	require.NoError(t, c.SelectFile(context.Background(), csvUpload("crm.csv")))

	v := c.View()
	assert.Empty(t, v.Columns)
	err := c.Preview(context.Background())
	assert.ErrorIs(t, err, ErrNoSelection)
	assert.Empty(t, f.dedupReqs)
}

func TestDedup_BackToUploadClearsSelection(t *testing.T) {
	f := dedupFake()
	c := newDedup(t, f)
	require.NoError(t, c.SelectFile(context.Background(), csvUpload("crm.csv")))

	require.NoError(t, c.BackToUpload())
	v := c.View()
	assert.Equal(t, StateIdle, v.State)
	assert.Empty(t, v.Filepath)
	assert.Empty(t, v.Columns)
	assert.Empty(t, v.DedupColumns)
}

func TestDedup_TaskErrorReturnsToPreview(t *testing.T) {
	ctx := context.Background()
	f := dedupFake()
	f.script("dd-1", failed("CRM corrupto"))

	c := newDedup(t, f)
	require.NoError(t, c.SelectFile(ctx, csvUpload("crm.csv")))
	require.NoError(t, c.Preview(ctx))
	require.NoError(t, c.Process(ctx))

	v := waitState(t, c, StatePreviewing)
	assert.Equal(t, "CRM corrupto", v.Error)
}

func TestDedup_UnknownTaskIsError(t *testing.T) {
	ctx := context.Background()
	f := dedupFake()
	f.dedupID = "never-scripted"

	c := newDedup(t, f)
	require.NoError(t, c.SelectFile(ctx, csvUpload("crm.csv")))
	require.NoError(t, c.Preview(ctx))
	require.NoError(t, c.Process(ctx))

	v := waitState(t, c, StatePreviewing)
	assert.Equal(t, "Task not found", v.Error)
}

func TestSubscribe_DisposeStopsEvents(t *testing.T) {
	f := dedupFake()
	c := newDedup(t, f)

	var mu sync.Mutex
	var seen []uint64
	dispose := c.Subscribe(func(ev Event) {
		mu.Lock()
		seen = append(seen, ev.View.Seq)
		mu.Unlock()
	})

	require.NoError(t, c.SelectFile(context.Background(), csvUpload("crm.csv")))
	dispose()
	dispose()
	c.Reset()

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, seen)
	for i := 1; i < len(seen); i++ {
		assert.Greater(t, seen[i], seen[i-1])
	}
	assert.Less(t, seen[len(seen)-1], c.View().Seq)
}

func TestNotifierReceivesNotifications(t *testing.T) {
	var mu sync.Mutex
	var got []Notification
	opts := testOptions()
	opts.Notifier = NotifierFunc(func(n Notification) {
		mu.Lock()
		got = append(got, n)
		mu.Unlock()
	})

	c := NewDedup(dedupFake(), opts)
	defer c.Close()
	require.NoError(t, c.SelectFile(context.Background(), csvUpload("crm.csv")))

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, got)
	assert.Equal(t, LevelSuccess, got[len(got)-1].Level)
	assert.Contains(t, got[len(got)-1].Message, "2 email")
}

func TestNew_ByFlow(t *testing.T) {
	for _, flow := range []Flow{FlowTransform, FlowExport, FlowDedup} {
		c, ok := New(flow, newFake(), testOptions())
		require.True(t, ok)
		assert.Equal(t, flow, c.Kind())
		assert.NotEmpty(t, c.ID())
		c.Close()
	}
	_, ok := New("bogus", newFake(), testOptions())
	assert.False(t, ok)

	_, ok = ParseFlow("export")
	assert.True(t, ok)
}

func TestDedup_StatsFixtures(t *testing.T) {
	tests := []struct {
		name       string
		stats      backend.Stats
		consistent bool
	}{
		{"hundred rows", backend.Stats{TotalRaw: 100, TotalUnique: 80, Duplicates: 15, Invalid: 5}, true},
		{"default fixture", dedupFake().dedupPreview.Stats, true},
		{"server miscount", backend.Stats{TotalRaw: 100, TotalUnique: 80, Duplicates: 15, Invalid: 9}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			f := dedupFake()
			f.dedupPreview.Stats = tt.stats
			done := complete("/downloads/unique.csv")
			done.Stats = &tt.stats
			f.script("dd-1", done)

			c := newDedup(t, f)
			require.NoError(t, c.SelectFile(ctx, csvUpload("crm.csv")))
			require.NoError(t, c.Preview(ctx))

			v := c.View()
			require.NotNil(t, v.Stats)
			assert.Equal(t, tt.stats, *v.Stats)
			assert.Equal(t, tt.consistent, v.Stats.Consistent())

			require.NoError(t, c.Process(ctx))
			v = waitState(t, c, StateDownloadable)
			require.NotNil(t, v.FinalStats)
			assert.Equal(t, tt.stats, *v.FinalStats)
			assert.Equal(t, tt.consistent, v.FinalStats.Consistent())
		})
	}
}
