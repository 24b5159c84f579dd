package testutil

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBuilder_StandardSales(t *testing.T) {
	db := NewTestDB(t)
	NewBuilder(t, db).WithStandardSales().Build()

	var count, nullRegions, nullAmounts int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*), SUM(region IS NULL), SUM(amount IS NULL) FROM sales`).
		Scan(&count, &nullRegions, &nullAmounts))
	require.Equal(t, 6, count)
	require.Equal(t, 1, nullRegions)
	require.Equal(t, 1, nullAmounts)
}

func TestRows(t *testing.T) {
	rows := NewRows().
		Row("name", "ada", "n", 2).
		Row("name", nil, "flag", true).
		Row("dangling").
		Build()

	require.Len(t, rows, 3)
	require.Equal(t, "ada", rows[0]["name"].Text())
	require.Equal(t, 2.0, rows[0]["n"].Float())
	require.True(t, rows[1]["name"].IsNull())
	require.True(t, rows[1]["flag"].Truthy())
	v, ok := rows[2]["dangling"]
	require.True(t, ok)
	require.True(t, v.IsNull())
}
