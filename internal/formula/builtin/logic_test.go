package builtin

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/zjrosen/formulary/internal/formula"
)

func TestIf(t *testing.T) {
	rows := []formula.Row{
		{"ok": formula.Bool(true)},
		{"ok": str("no")},
		{},
	}

	out := run(t, IfExecutor{}, rows, formula.Params{"condition_column": str("ok")})
	require.Equal(t, "TRUE", out[0]["if_result"].Text())
	require.Equal(t, "FALSE", out[1]["if_result"].Text())
	require.Equal(t, "FALSE", out[2]["if_result"].Text())

	out = run(t, IfExecutor{}, rows, formula.Params{"condition_column": str("ok"), "true_value": str("pass"), "false_value": str("fail")})
	require.Equal(t, "pass", out[0]["if_result"].Text())
	require.Equal(t, "fail", out[2]["if_result"].Text())
}

func TestCount(t *testing.T) {
	out := run(t, CountExecutor{}, []formula.Row{{"a": formula.Null()}, {"b": num(1)}}, formula.Params{"column": str("a")})
	require.Equal(t, 1.0, out[0]["count_result"].Float())
	require.Equal(t, 0.0, out[1]["count_result"].Float())
}

func TestUniqueCount(t *testing.T) {
	rows := []formula.Row{
		{"c": str("x")}, {"c": str("y")}, {"c": str("x")}, {"c": num(1)}, {"c": str("1")}, {"d": num(0)},
	}
	out := run(t, UniqueCountExecutor{}, rows, formula.Params{"column": str("c")})
	require.Len(t, out, len(rows))
	for _, row := range out {
		require.Equal(t, 4.0, row["unique_count_result"].Float())
	}
}

func TestUniqueCount_NaNIsNotNull(t *testing.T) {
	rows := []formula.Row{
		{"c": num(math.NaN())}, {"c": formula.Null()}, {"c": num(math.NaN())},
	}
	out := run(t, UniqueCountExecutor{}, rows, formula.Params{"column": str("c")})
	require.Equal(t, 2.0, out[0]["unique_count_result"].Float())
}

func TestSumIfAndCountIf(t *testing.T) {
	rows := []formula.Row{
		{"region": str("east"), "sales": num(10)},
		{"region": str("west"), "sales": num(7)},
		{"region": str("east")},
		{"sales": num(3)},
	}

	out := run(t, SumIfExecutor{}, rows, formula.Params{
		"sum_column": str("sales"), "condition_column": str("region"), "condition_value": str("east"),
	})
	got := []float64{}
	for _, row := range out {
		got = append(got, row["sumif_result"].Float())
	}
	require.Equal(t, []float64{10, 0, 0, 0}, got)

	out = run(t, CountIfExecutor{}, rows, formula.Params{"condition_column": str("region"), "condition_value": str("east")})
	got = got[:0]
	for _, row := range out {
		got = append(got, row["countif_result"].Float())
	}
	require.Equal(t, []float64{1, 0, 1, 0}, got)
}

func TestConditionValueRequired(t *testing.T) {
	err := CountIfExecutor{}.ValidateParameters(formula.Params{"condition_column": str("r")})
	require.ErrorIs(t, err, formula.ErrParameter)
	require.Contains(t, err.Error(), "condition_value")

	err = SumIfExecutor{}.ValidateParameters(formula.Params{"sum_column": str("s"), "condition_column": str("r")})
	require.ErrorIs(t, err, formula.ErrParameter)
}
