package wizard

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JonMunkholm/csvwizard/internal/backend"
	"github.com/JonMunkholm/csvwizard/internal/poller"
	"github.com/JonMunkholm/csvwizard/internal/selection"
)

func fieldNames(v View) []string {
	out := make([]string, len(v.Fields))
	for i, f := range v.Fields {
		out[i] = f.Name
	}
	return out
}

func newTransform(t *testing.T, f *fakeBackend) *TransformController {
	t.Helper()
	c := NewTransform(f, testOptions())
	t.Cleanup(c.Close)
	return c
}

func TestTransform_FullFlowWithReorder(t *testing.T) {
	ctx := context.Background()
	f := newFake()
	f.columns = &backend.Columns{
		Filepath: "uploads/a.csv",
		Columns:  []string{"nombre", "email", "icommkt_x", "apellido", "docnum"},
	}
	f.startID = "t-1"
	rows := 42
	done := complete("/downloads/out.csv")
	done.ProcessedRows = &rows
	f.script("t-1", processing(10), processing(60), done)

	c := newTransform(t, f)
	require.NoError(t, c.SelectFile(ctx, csvUpload("a.csv")))

	v := c.View()
	assert.Equal(t, StateAwaitingFieldSelection, v.State)
	assert.Equal(t, []string{"email", "docnum", "apellido", "nombre", "icommkt_x"}, fieldNames(v))
	assert.Equal(t, 100, v.UploadPercent)

	require.NoError(t, c.ToggleField("nombre", true))
	require.NoError(t, c.ToggleField("apellido", true))
	require.NoError(t, c.Continue(ctx))
	assert.Equal(t, StateReordering, c.View().State)

	ok, err := c.BeginMove("apellido")
	require.NoError(t, err)
	require.True(t, ok)
	_, err = c.ConsiderDrop(130, "nombre", selection.Box{Top: 100, Bottom: 140})
	require.NoError(t, err)
	require.NoError(t, c.EndMove())

	require.NoError(t, c.ConfirmOrder(ctx, nil))
	v = c.View()
	assert.Equal(t, StatePreviewing, v.State)
	assert.Equal(t, []string{"email", "docnum", "nombre", "apellido"}, v.Columns)
	require.Len(t, f.previewReqs, 1)
	assert.Equal(t, "uploads/a.csv", f.previewReqs[0].Filepath)

	require.NoError(t, c.Process(ctx))
	v = waitState(t, c, StateDownloadable)
	assert.Equal(t, "/downloads/out.csv", v.Result)
	require.NotNil(t, v.ProcessedRows)
	assert.Equal(t, 42, *v.ProcessedRows)
	assert.Equal(t, 100, v.TaskPercent)
	require.Len(t, f.startReqs, 1)
	assert.Equal(t, []string{"email", "docnum", "nombre", "apellido"}, f.startReqs[0].Columns)
}

func TestTransform_MandatoryOnlySkipsReorder(t *testing.T) {
	ctx := context.Background()
	f := newFake()
	f.columns = &backend.Columns{Filepath: "p", Columns: []string{"email", "x"}}

	c := newTransform(t, f)
	require.NoError(t, c.SelectFile(ctx, csvUpload("a.csv")))
	require.NoError(t, c.Continue(ctx))

	v := c.View()
	assert.Equal(t, StatePreviewing, v.State)
	assert.Equal(t, []string{"email"}, v.Columns)
}

func TestTransform_DocnumGenerationWarning(t *testing.T) {
	f := newFake()
	f.columns = &backend.Columns{Filepath: "p", Columns: []string{"email"}, NeedsDocnumGeneration: true}

	c := newTransform(t, f)
	require.NoError(t, c.SelectFile(context.Background(), csvUpload("a.csv")))
	require.NoError(t, c.Continue(context.Background()))

	v := c.View()
	assert.True(t, v.NeedsDocnumGeneration)
	require.Len(t, f.previewReqs, 1)
	assert.True(t, f.previewReqs[0].NeedsDocnumGeneration)

	var warned bool
	for _, n := range v.Notifications {
		if n.Level == LevelWarning {
			warned = true
		}
	}
	assert.True(t, warned, "expected docnum warning")
}

func TestTransform_EmptySelectionRejected(t *testing.T) {
	f := newFake()
	f.columns = &backend.Columns{Filepath: "p", Columns: []string{"a", "b"}}

	c := newTransform(t, f)
	require.NoError(t, c.SelectFile(context.Background(), csvUpload("a.csv")))

	err := c.Continue(context.Background())
	var inputErr *InputError
	require.ErrorAs(t, err, &inputErr)
	assert.ErrorIs(t, err, ErrNoSelection)
	assert.Empty(t, f.previewReqs, "no request on empty selection")
	assert.Equal(t, StateAwaitingFieldSelection, c.View().State)
}

func TestTransform_MandatoryCannotBeDeselected(t *testing.T) {
	f := newFake()
	f.columns = &backend.Columns{Filepath: "p", Columns: []string{"email", "a"}}

	c := newTransform(t, f)
	require.NoError(t, c.SelectFile(context.Background(), csvUpload("a.csv")))

	err := c.ToggleField("email", false)
	assert.ErrorIs(t, err, selection.ErrFieldFixed)

	var inputErr *InputError
	assert.ErrorAs(t, err, &inputErr)
	for _, row := range c.View().Fields {
		if row.Name == "email" {
			assert.True(t, row.Selected)
		}
	}
}

func TestTransform_PreviewFailureStaysInReorder(t *testing.T) {
	ctx := context.Background()
	f := newFake()
	f.columns = &backend.Columns{Filepath: "p", Columns: []string{"email", "a"}}
	f.previewErr = &backend.APIError{Op: "preview", Status: 400, Message: "Columna inválida"}

	c := newTransform(t, f)
	require.NoError(t, c.SelectFile(ctx, csvUpload("a.csv")))
	require.NoError(t, c.ToggleField("a", true))
	require.NoError(t, c.Continue(ctx))

	err := c.ConfirmOrder(ctx, nil)
	require.Error(t, err)

	v := c.View()
	assert.Equal(t, StateReordering, v.State)
	assert.Equal(t, "Columna inválida", v.Error)
	assert.False(t, v.Busy)
}

func TestTransform_ConfirmOrderRejectsMovedMandatory(t *testing.T) {
	ctx := context.Background()
	f := newFake()
	f.columns = &backend.Columns{Filepath: "p", Columns: []string{"email", "a", "b"}}

	c := newTransform(t, f)
	require.NoError(t, c.SelectFile(ctx, csvUpload("a.csv")))
	_, err := c.ToggleAll()
	require.NoError(t, err)
	require.NoError(t, c.Continue(ctx))

	err = c.ConfirmOrder(ctx, []string{"a", "email", "b"})
	assert.ErrorIs(t, err, selection.ErrMandatoryOrder)
	assert.Empty(t, f.previewReqs)

	require.NoError(t, c.ConfirmOrder(ctx, []string{"email", "b", "a"}))
	assert.Equal(t, []string{"email", "b", "a"}, f.previewReqs[0].Columns)
}

func TestTransform_TaskErrorReturnsToPreview(t *testing.T) {
	ctx := context.Background()
	f := newFake()
	f.columns = &backend.Columns{Filepath: "p", Columns: []string{"email"}}
	f.startID = "t-err"
	f.script("t-err", processing(30), failed("disk full"))

	var mu sync.Mutex
	var outcomes []*Outcome
	c := newTransform(t, f)
	dispose := c.Subscribe(func(ev Event) {
		if ev.Outcome != nil {
			mu.Lock()
			outcomes = append(outcomes, ev.Outcome)
			mu.Unlock()
		}
	})
	defer dispose()

	require.NoError(t, c.SelectFile(ctx, csvUpload("a.csv")))
	require.NoError(t, c.Continue(ctx))
	require.NoError(t, c.Process(ctx))

	v := waitState(t, c, StatePreviewing)
	assert.Equal(t, "disk full", v.Error)
	assert.Empty(t, v.Result)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, outcomes, 1)
	assert.Equal(t, poller.StatusError, outcomes[0].Status)
	assert.Equal(t, "disk full", outcomes[0].Error)
	assert.Equal(t, StageProcess, outcomes[0].Stage)
}

func TestTransform_MalformedResultIsError(t *testing.T) {
	ctx := context.Background()
	f := newFake()
	f.columns = &backend.Columns{Filepath: "p", Columns: []string{"email"}}
	f.startID = "t-bad"
	f.script("t-bad", complete(map[string]string{"unexpected": "object"}))

	c := newTransform(t, f)
	require.NoError(t, c.SelectFile(ctx, csvUpload("a.csv")))
	require.NoError(t, c.Continue(ctx))
	require.NoError(t, c.Process(ctx))

	v := waitState(t, c, StatePreviewing)
	assert.NotEmpty(t, v.Error)
}

func TestTransform_ResetStopsPolling(t *testing.T) {
	ctx := context.Background()
	f := newFake()
	f.columns = &backend.Columns{Filepath: "p", Columns: []string{"email"}}
	f.startID = "t-long"
	f.script("t-long", processing(5))

	c := newTransform(t, f)
	require.NoError(t, c.SelectFile(ctx, csvUpload("a.csv")))
	require.NoError(t, c.Continue(ctx))
	require.NoError(t, c.Process(ctx))
	require.Eventually(t, func() bool { return f.calls("t-long") >= 2 }, time.Second, time.Millisecond)

	c.Reset()
	v := c.View()
	assert.Equal(t, StateIdle, v.State)
	assert.Empty(t, v.TaskID)
	assert.False(t, c.Active())

	// Allow one in-flight query to land, then require silence.
	time.Sleep(5 * testInterval)
	calls := f.calls("t-long")
	time.Sleep(10 * testInterval)
	assert.Equal(t, calls, f.calls("t-long"))
	assert.Equal(t, StateIdle, c.View().State)
}

func TestTransform_ResetSupersedesInflightDiscovery(t *testing.T) {
	f := newFake()
	f.columns = &backend.Columns{Filepath: "p", Columns: []string{"email"}}
	gate := make(chan struct{})
	f.setGate(gate)

	c := newTransform(t, f)
	errc := make(chan error, 1)
	go func() { errc <- c.SelectFile(context.Background(), csvUpload("a.csv")) }()

	require.Eventually(t, func() bool { return c.View().Busy }, time.Second, time.Millisecond)
	c.Reset()
	close(gate)

	select {
	case err := <-errc:
		assert.ErrorIs(t, err, ErrSuperseded)
	case <-time.After(2 * time.Second):
		t.Fatal("SelectFile did not return")
	}

	v := c.View()
	assert.Equal(t, StateIdle, v.State)
	assert.Empty(t, v.Fields)
	assert.False(t, v.Busy)
}

func TestTransform_BusyRejectsSecondRequest(t *testing.T) {
	ctx := context.Background()
	f := newFake()
	f.columns = &backend.Columns{Filepath: "p", Columns: []string{"email"}}

	c := newTransform(t, f)
	require.NoError(t, c.SelectFile(ctx, csvUpload("a.csv")))

	gate := make(chan struct{})
	f.setGate(gate)
	errc := make(chan error, 1)
	go func() { errc <- c.Continue(ctx) }()
	require.Eventually(t, func() bool { return c.View().Busy }, time.Second, time.Millisecond)

	assert.ErrorIs(t, c.Continue(ctx), ErrBusy)
	assert.ErrorIs(t, c.ToggleField("email", true), ErrBusy)

	close(gate)
	require.NoError(t, <-errc)
	assert.Equal(t, StatePreviewing, c.View().State)
}

func TestTransform_BackFromPreview(t *testing.T) {
	ctx := context.Background()
	f := newFake()
	f.columns = &backend.Columns{Filepath: "p", Columns: []string{"email", "a"}}

	c := newTransform(t, f)
	require.NoError(t, c.SelectFile(ctx, csvUpload("a.csv")))
	require.NoError(t, c.ToggleField("a", true))
	require.NoError(t, c.Continue(ctx))
	require.NoError(t, c.ConfirmOrder(ctx, nil))

	require.NoError(t, c.Back())
	v := c.View()
	assert.Equal(t, StateAwaitingFieldSelection, v.State)
	assert.Empty(t, v.Preview)
	assert.Equal(t, []string{"email", "a"}, c.s.fields.Selected(), "selection kept")
}

func TestTransform_WrongStateActions(t *testing.T) {
	c := newTransform(t, newFake())

	assert.ErrorIs(t, c.Continue(context.Background()), ErrWrongState)
	assert.ErrorIs(t, c.Process(context.Background()), ErrWrongState)
	assert.ErrorIs(t, c.Back(), ErrWrongState)
	_, err := c.BeginMove("a")
	assert.ErrorIs(t, err, ErrWrongState)
}

func TestTransform_SelectFileFailureReturnsIdle(t *testing.T) {
	f := newFake()
	f.discoverErr = &backend.APIError{Op: "discover", Status: 400, Message: "Archivo inválido"}

	c := newTransform(t, f)
	err := c.SelectFile(context.Background(), csvUpload("a.csv"))
	require.Error(t, err)

	v := c.View()
	assert.Equal(t, StateIdle, v.State)
	assert.Equal(t, "Archivo inválido", v.Error)
	assert.Empty(t, v.FileName)
}

func TestTransform_NoFileRejected(t *testing.T) {
	c := newTransform(t, newFake())
	err := c.SelectFile(context.Background(), backend.Upload{})
	assert.ErrorIs(t, err, ErrNoFile)
}

func TestTransform_ApplyPreset(t *testing.T) {
	f := newFake()
	f.columns = &backend.Columns{Filepath: "p", Columns: []string{"email", "docnum", "PLUS_NRO_SOCIO", "zzz"}}

	c := newTransform(t, f)
	require.NoError(t, c.SelectFile(context.Background(), csvUpload("a.csv")))
	require.NoError(t, c.ApplyPreset("arplus-cumple"))
	assert.Equal(t, []string{"email", "docnum", "PLUS_NRO_SOCIO"}, c.s.fields.Selected())

	err := c.ApplyPreset("nope")
	assert.True(t, errors.Is(err, ErrUnknownPreset))
}

func TestTransform_ClosedRejectsActions(t *testing.T) {
	c := NewTransform(newFake(), testOptions())
	c.Close()

	assert.ErrorIs(t, c.SelectFile(context.Background(), csvUpload("a.csv")), ErrClosed)
	assert.ErrorIs(t, c.Back(), ErrClosed)
}

func TestTransform_CaseVariantMandatoryColumns(t *testing.T) {
	ctx := context.Background()

	t.Run("mandatory only", func(t *testing.T) {
		f := newFake()
		f.columns = &backend.Columns{Filepath: "p", Columns: []string{"email", "Email", "docnum"}}

		c := newTransform(t, f)
		require.NoError(t, c.SelectFile(ctx, csvUpload("a.csv")))
		require.NoError(t, c.Continue(ctx))

		assert.Equal(t, StatePreviewing, c.View().State)
		require.Len(t, f.previewReqs, 1)
		assert.Equal(t, []string{"email", "docnum"}, f.previewReqs[0].Columns)
	})

	t.Run("with an optional field", func(t *testing.T) {
		f := newFake()
		f.columns = &backend.Columns{Filepath: "p", Columns: []string{"email", "Email", "x"}}

		c := newTransform(t, f)
		require.NoError(t, c.SelectFile(ctx, csvUpload("a.csv")))
		require.NoError(t, c.ToggleField("x", true))
		require.NoError(t, c.Continue(ctx))
		require.NoError(t, c.ConfirmOrder(ctx, nil))

		assert.Equal(t, StatePreviewing, c.View().State)
		assert.Equal(t, []string{"email", "x"}, c.View().Columns)
	})
}

func TestTransform_Scenarios(t *testing.T) {
	tests := []struct {
		name    string
		columns []string
		toggle  []string
		order   []string
		want    []string
	}{
		{
			name:    "mandatory only skips reorder",
			columns: []string{"email", "docnum", "PLUS_NRO_SOCIO"},
			want:    []string{"email", "docnum"},
		},
		{
			name:    "confirmed order keeps mandatory prefix",
			columns: []string{"email", "Foo", "docnum"},
			toggle:  []string{"Foo"},
			order:   []string{"email", "docnum", "Foo"},
			want:    []string{"email", "docnum", "Foo"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			f := newFake()
			f.columns = &backend.Columns{Filepath: "p", Columns: tt.columns}

			c := newTransform(t, f)
			require.NoError(t, c.SelectFile(ctx, csvUpload("a.csv")))
			for _, name := range tt.toggle {
				require.NoError(t, c.ToggleField(name, true))
			}
			require.NoError(t, c.Continue(ctx))
			if tt.order != nil {
				require.Equal(t, StateReordering, c.View().State)
				require.NoError(t, c.ConfirmOrder(ctx, tt.order))
			}

			v := c.View()
			assert.Equal(t, StatePreviewing, v.State)
			assert.Equal(t, tt.want, v.Columns)
			require.Len(t, f.previewReqs, 1)
			assert.Equal(t, tt.want, f.previewReqs[0].Columns)
		})
	}
}

func TestTransform_BackKeepsConfirmedOrder(t *testing.T) {
	ctx := context.Background()
	f := newFake()
	f.columns = &backend.Columns{Filepath: "p", Columns: []string{"email", "a", "b", "c"}}

	c := newTransform(t, f)
	require.NoError(t, c.SelectFile(ctx, csvUpload("a.csv")))
	require.NoError(t, c.ToggleField("a", true))
	require.NoError(t, c.ToggleField("b", true))
	require.NoError(t, c.Continue(ctx))
	require.NoError(t, c.ConfirmOrder(ctx, []string{"email", "b", "a"}))

	require.NoError(t, c.Back())
	require.NoError(t, c.Continue(ctx))
	assert.Equal(t, []string{"email", "b", "a"}, c.s.reorder.Order(), "same selection resumes confirmed order")

	require.NoError(t, c.Back())
	require.NoError(t, c.ToggleField("c", true))
	require.NoError(t, c.Continue(ctx))
	assert.Equal(t, []string{"email", "a", "b", "c"}, c.s.reorder.Order(), "changed selection starts over")
}
