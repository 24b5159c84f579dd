package registry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/zjrosen/formulary/internal/formula"
	"github.com/zjrosen/formulary/internal/formula/builtin"
	"github.com/zjrosen/formulary/internal/pubsub"
)

func testDescriptor(name string) formula.Descriptor {
	return formula.Descriptor{
		Name:        name,
		Category:    "test",
		Description: "test formula " + name,
		Parameters: []formula.ParameterSpec{
			{Name: "text_column", Kind: formula.ParamText, Label: "Column", Required: true},
		},
	}
}

// closingExecutor records Close calls.
type closingExecutor struct {
	formula.ExecutorFuncs
	closed *int
}

func (c closingExecutor) Close() error {
	*c.closed++
	return nil
}

func newClosing() (closingExecutor, *int) {
	n := 0
	return closingExecutor{ExecutorFuncs: formula.ExecutorFuncs{}, closed: &n}, &n
}

func TestRegistry_RegisterAndGet(t *testing.T) {
	r := New()
	require.NoError(t, r.Register(testDescriptor("UPPER"), builtin.NewUpper()))

	reg, ok := r.Get("UPPER")
	require.True(t, ok)
	require.Equal(t, "UPPER", reg.Descriptor.Name)
	require.True(t, reg.Bound())
	require.True(t, reg.Descriptor.IsActive())

	_, ok = r.Get("LOWER")
	require.False(t, ok)
}

func TestRegistry_RegisterRejectsInvalid(t *testing.T) {
	r := New()

	err := r.Register(testDescriptor("UPPER"), nil)
	require.ErrorIs(t, err, formula.ErrConfig)

	bad := testDescriptor("")
	err = r.Register(bad, builtin.NewUpper())
	require.ErrorIs(t, err, formula.ErrConfig)
	require.Empty(t, r.List())
}

func TestRegistry_RegisterSameTypeReplaces(t *testing.T) {
	r := New()
	require.NoError(t, r.Register(testDescriptor("UPPER"), builtin.NewUpper()))

	d := testDescriptor("UPPER")
	d.Description = "replaced"
	require.NoError(t, r.Register(d, builtin.NewUpper()))

	reg, _ := r.Get("UPPER")
	require.Equal(t, "replaced", reg.Descriptor.Description)
	require.Len(t, r.List(), 1)
}

func TestRegistry_RegisterDifferentTypeFails(t *testing.T) {
	r := New()
	require.NoError(t, r.Register(testDescriptor("UPPER"), builtin.NewUpper()))

	err := r.Register(testDescriptor("UPPER"), builtin.NewLower())
	require.ErrorIs(t, err, formula.ErrConfig)
	require.Contains(t, err.Error(), "UPPER")

	reg, _ := r.Get("UPPER")
	require.Contains(t, reg.Executor, "UpperExecutor")
}

func TestRegistry_BindSwapsAndClosesPrevious(t *testing.T) {
	r := New()
	old, closed := newClosing()
	require.NoError(t, r.Register(testDescriptor("UPPER"), old))

	require.NoError(t, r.Bind("UPPER", builtin.NewUpper()))
	require.Equal(t, 1, *closed)

	err := r.Bind("MISSING", builtin.NewUpper())
	require.ErrorIs(t, err, formula.ErrNotFound)
}

func TestRegistry_DefineThenExecuteReportsMissingExecutor(t *testing.T) {
	r := New()
	require.NoError(t, r.Define(testDescriptor("CUSTOM")))
	require.ErrorIs(t, r.Define(testDescriptor("CUSTOM")), formula.ErrConfig)

	req := formula.NewRequest("CUSTOM", []formula.Row{{"a": formula.String("x")}}, formula.Params{"text_column": formula.String("a")})
	res, err := r.Execute(context.Background(), req)
	require.ErrorIs(t, err, formula.ErrExecutorMissing)
	require.Equal(t, formula.StatusError, res.Status)
	require.NotEmpty(t, res.ErrorMessage)

	require.NoError(t, r.Bind("CUSTOM", builtin.NewUpper()))
	res, err = r.Execute(context.Background(), req)
	require.NoError(t, err)
	require.True(t, res.Succeeded())
}

func TestRegistry_UpdateKeepsExecutor(t *testing.T) {
	r := New()
	require.NoError(t, r.Register(testDescriptor("UPPER"), builtin.NewUpper()))

	d := testDescriptor("UPPER")
	d.Tip = "new tip"
	require.NoError(t, r.Update(d))

	reg, _ := r.Get("UPPER")
	require.Equal(t, "new tip", reg.Descriptor.Tip)
	require.True(t, reg.Bound())

	require.ErrorIs(t, r.Update(testDescriptor("NOPE")), formula.ErrNotFound)
}

func TestRegistry_RemoveThenReregister(t *testing.T) {
	r := New()
	exec, closed := newClosing()
	require.NoError(t, r.Register(testDescriptor("UPPER"), exec))

	require.NoError(t, r.Remove("UPPER"))
	require.Equal(t, 1, *closed)
	require.ErrorIs(t, r.Remove("UPPER"), formula.ErrNotFound)

	_, err := r.Execute(context.Background(), formula.NewRequest("UPPER", nil, nil))
	require.ErrorIs(t, err, formula.ErrNotFound)

	// Any executor type is accepted once the name is gone.
	require.NoError(t, r.Register(testDescriptor("UPPER"), builtin.NewLower()))
	reg, ok := r.Get("UPPER")
	require.True(t, ok)
	require.Contains(t, reg.Executor, "LowerExecutor")
}

func TestRegistry_RemoveUnboundDescriptor(t *testing.T) {
	r := New()
	require.NoError(t, r.Define(testDescriptor("DRAFT")))
	require.NoError(t, r.Remove("DRAFT"))
	require.Empty(t, r.List())
}

func TestRegistry_DisableAndEnable(t *testing.T) {
	r := New()
	require.NoError(t, r.Register(testDescriptor("UPPER"), builtin.NewUpper()))
	require.NoError(t, r.Register(testDescriptor("LOWER"), builtin.NewLower()))

	require.NoError(t, r.SetActive("UPPER", false))
	require.Len(t, r.List(), 2)
	active := r.ListActive()
	require.Len(t, active, 1)
	require.Equal(t, "LOWER", active[0].Descriptor.Name)

	req := formula.NewRequest("UPPER", []formula.Row{{"a": formula.String("x")}}, formula.Params{"text_column": formula.String("a")})
	res, err := r.Execute(context.Background(), req)
	require.ErrorIs(t, err, formula.ErrDisabled)
	require.Equal(t, formula.StatusError, res.Status)

	require.NoError(t, r.SetActive("UPPER", true))
	res, err = r.Execute(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, "X", res.Data[0]["upper_result"].Text())

	require.ErrorIs(t, r.SetActive("NOPE", true), formula.ErrNotFound)
}

func TestRegistry_ExecuteUnknownName(t *testing.T) {
	r := New()
	res, err := r.Execute(context.Background(), formula.NewRequest("NOPE", nil, nil))
	require.ErrorIs(t, err, formula.ErrNotFound)
	require.Equal(t, formula.StatusError, res.Status)
	require.Equal(t, "NOPE", res.Metadata.FormulaName)
	require.Contains(t, res.ErrorMessage, "NOPE")
}

func TestRegistry_ExecuteMissingParameterIsSoftError(t *testing.T) {
	r := New()
	require.NoError(t, builtin.RegisterAll(r))

	req := formula.NewRequest("ADD", []formula.Row{{"a": formula.Number(1)}}, formula.Params{"number1": formula.String("a")})
	res, err := r.Execute(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, formula.StatusError, res.Status)
	require.Contains(t, res.ErrorMessage, "missing required parameter")
	require.Contains(t, res.ErrorMessage, "number2")
	require.Empty(t, res.Data)
	require.GreaterOrEqual(t, res.Metadata.ElapsedMS, 0.0)
}

func TestRegistry_ExecuteAdd(t *testing.T) {
	r := New()
	require.NoError(t, builtin.RegisterAll(r))

	req := formula.NewRequest("ADD",
		[]formula.Row{{"a": formula.Number(2), "b": formula.Number(3)}},
		formula.Params{"number1": formula.String("a"), "number2": formula.String("b")})
	res, err := r.Execute(context.Background(), req)
	require.NoError(t, err)
	require.True(t, res.Succeeded())
	require.Equal(t, 5.0, res.Data[0]["add_result"].Float())
	require.Equal(t, 1, res.Metadata.InputRows)
	require.Equal(t, 1, res.Metadata.OutputRows)
	require.Equal(t, []string{"add_result"}, res.Metadata.OutputColumns)
}

func TestRegistry_ExecuteShapesOutput(t *testing.T) {
	r := New()
	require.NoError(t, builtin.RegisterAll(r))

	sample := 1
	req := formula.NewRequest("UPPER",
		[]formula.Row{{"n": formula.String("a")}, {"n": formula.String("b")}},
		formula.Params{"text_column": formula.String("n")})
	req.OutputConfig.OutputColumn = "shout"
	req.OutputConfig.SampleSize = &sample

	res, err := r.Execute(context.Background(), req)
	require.NoError(t, err)
	require.Len(t, res.Data, 1)
	require.Equal(t, "A", res.Data[0]["shout"].Text())
	require.Equal(t, 2, res.Metadata.OutputRows)
	require.Equal(t, []string{"shout"}, res.Metadata.OutputColumns)
}

func TestRegistry_ExecuteWithoutMetadata(t *testing.T) {
	r := New()
	require.NoError(t, builtin.RegisterAll(r))

	req := formula.NewRequest("UPPER", []formula.Row{{"n": formula.String("a")}}, formula.Params{"text_column": formula.String("n")})
	req.OutputConfig.IncludeMetadata = false

	res, err := r.Execute(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, "UPPER", res.Metadata.FormulaName)
	require.Zero(t, res.Metadata.InputRows)
	require.Nil(t, res.Metadata.OutputColumns)
}

func TestRegistry_ExecutorErrorAndPanic(t *testing.T) {
	r := New()
	failing := formula.ExecutorFuncs{Run: func([]formula.Row, formula.Params) ([]formula.Row, error) {
		return nil, errors.New("boom")
	}}
	panicking := formula.ExecutorFuncs{Run: func([]formula.Row, formula.Params) ([]formula.Row, error) {
		panic("kaboom")
	}}
	require.NoError(t, r.Register(testDescriptor("FAIL"), failing))
	require.NoError(t, r.Register(testDescriptor("PANIC"), panicking))

	params := formula.Params{"text_column": formula.String("a")}
	for _, name := range []string{"FAIL", "PANIC"} {
		res, err := r.Execute(context.Background(), formula.NewRequest(name, nil, params))
		require.NoError(t, err, name)
		require.Equal(t, formula.StatusError, res.Status, name)
		require.Contains(t, res.ErrorMessage, formula.ErrExecution.Error(), name)
	}
}

func TestRegistry_ExecutorValidationRunsAfterDescriptorChecks(t *testing.T) {
	r := New()
	calls := 0
	exec := formula.ExecutorFuncs{Validate: func(formula.Params) error {
		calls++
		return errors.New("column list is empty")
	}}
	require.NoError(t, r.Register(testDescriptor("CHECK"), exec))

	res, err := r.Execute(context.Background(), formula.NewRequest("CHECK", nil, formula.Params{}))
	require.NoError(t, err)
	require.Zero(t, calls)
	require.Contains(t, res.ErrorMessage, "text_column")

	res, err = r.Execute(context.Background(), formula.NewRequest("CHECK", nil, formula.Params{"text_column": formula.String("a")}))
	require.NoError(t, err)
	require.Equal(t, 1, calls)
	require.Contains(t, res.ErrorMessage, formula.ErrParameter.Error())
	require.Contains(t, res.ErrorMessage, "column list is empty")
}

func TestRegistry_OutputColumns(t *testing.T) {
	r := New()
	require.NoError(t, builtin.RegisterAll(r))

	cols, err := r.OutputColumns("UPPER", formula.Params{"text_column": formula.String("n")})
	require.NoError(t, err)
	require.Equal(t, []string{"upper_result"}, cols)

	_, err = r.OutputColumns("NOPE", nil)
	require.ErrorIs(t, err, formula.ErrNotFound)
}

func TestRegistry_ListIsSortedSnapshot(t *testing.T) {
	r := New()
	require.NoError(t, builtin.RegisterAll(r))

	list := r.List()
	require.Len(t, list, len(builtin.Names()))
	for i := 1; i < len(list); i++ {
		require.Less(t, list[i-1].Descriptor.Name, list[i].Descriptor.Name)
	}

	list[0].Descriptor.Parameters[0].Name = "mutated"
	again, _ := r.Get(list[0].Descriptor.Name)
	require.NotEqual(t, "mutated", again.Descriptor.Parameters[0].Name)
}

func TestRegistry_PublishesLifecycleEvents(t *testing.T) {
	broker := pubsub.NewBroker[Event]()
	defer broker.Close()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sub := broker.Subscribe(ctx)

	r := New(WithEvents(broker))
	require.NoError(t, r.Register(testDescriptor("UPPER"), builtin.NewUpper()))
	require.NoError(t, r.SetActive("UPPER", false))
	require.NoError(t, r.Remove("UPPER"))

	want := []pubsub.EventType{pubsub.RegisteredEvent, pubsub.StatusEvent, pubsub.RemovedEvent}
	for _, kind := range want {
		select {
		case ev := <-sub:
			require.Equal(t, kind, ev.Type)
			require.Equal(t, "UPPER", ev.Payload.Name)
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for %s", kind)
		}
	}
}

func TestRegistry_Metrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	r := New(WithMetrics(NewMetrics(reg)))
	require.NoError(t, builtin.RegisterAll(r))

	_, _ = r.Execute(context.Background(), formula.NewRequest("UPPER", nil, formula.Params{"text_column": formula.String("n")}))
	_, _ = r.Execute(context.Background(), formula.NewRequest("NOPE", nil, nil))

	require.Equal(t, float64(len(builtin.Names())), testutil.ToFloat64(r.metrics.formulas))
	require.Equal(t, 1.0, testutil.ToFloat64(r.metrics.executions.WithLabelValues("UPPER", "success")))
	require.Equal(t, 1.0, testutil.ToFloat64(r.metrics.executions.WithLabelValues("unknown", "not_found")))
}

func TestRegistry_ConcurrentAccess(t *testing.T) {
	r := New()
	require.NoError(t, builtin.RegisterAll(r))

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			name := fmt.Sprintf("CUSTOM_%d", i)
			_ = r.Register(testDescriptor(name), builtin.NewUpper())
			_ = r.SetActive("UPPER", i%2 == 0)
			_, _ = r.Execute(context.Background(), formula.NewRequest("LOWER",
				[]formula.Row{{"n": formula.String("A")}}, formula.Params{"text_column": formula.String("n")}))
			_ = r.List()
			_ = r.Remove(name)
		}(i)
	}
	wg.Wait()
	require.Len(t, r.List(), len(builtin.Names()))
}

func TestRegistry_Close(t *testing.T) {
	r := New()
	exec, closed := newClosing()
	require.NoError(t, r.Register(testDescriptor("X"), exec))
	require.NoError(t, r.Close())
	require.Equal(t, 1, *closed)
	require.Empty(t, r.List())
}

func TestRegistry_RegisteredNamesListedExactlyOnce(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		names := rapid.SliceOf(rapid.StringMatching(`[A-Z]{1,6}`)).Draw(t, "names")
		r := New()
		want := map[string]bool{}
		for _, n := range names {
			if err := r.Register(testDescriptor(n), builtin.NewUpper()); err != nil {
				t.Fatalf("register %s: %v", n, err)
			}
			want[n] = true
		}

		seen := map[string]int{}
		for _, reg := range r.List() {
			seen[reg.Descriptor.Name]++
		}
		if len(seen) != len(want) {
			t.Fatalf("listed %d names, registered %d", len(seen), len(want))
		}
		for n, c := range seen {
			if c != 1 || !want[n] {
				t.Fatalf("name %q listed %d times", n, c)
			}
		}

		unknown := rapid.StringMatching(`[a-z]{1,6}`).Draw(t, "unknown")
		if _, err := r.Execute(context.Background(), formula.NewRequest(unknown, nil, nil)); !errors.Is(err, formula.ErrNotFound) {
			t.Fatalf("unknown name %q: got %v", unknown, err)
		}
	})
}
