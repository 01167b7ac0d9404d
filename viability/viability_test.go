package viability

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/nvr-ai/seedvision/table"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func tableOf(germinated, ungerminated int) *table.Table {
	t := &table.Table{}
	for i := 0; i < germinated; i++ {
		t.Rows = append(t.Rows, table.Row{Class: 1, Score: 0.9})
	}
	for i := 0; i < ungerminated; i++ {
		t.Rows = append(t.Rows, table.Row{Class: 2, Score: 0.9})
	}
	return t
}

// TestCompute verifies counts, percentage and parent image derivation.
//
// @example
// go test -v -run TestCompute
func TestCompute(t *testing.T) {
	summary, err := NewCalculator().Compute(tableOf(30, 70), "/data/plate4_12.jpg")
	require.NoError(t, err)

	assert.Equal(t, 30, summary.GerminatedCount)
	assert.Equal(t, 70, summary.UngerminatedCount)
	assert.Equal(t, 100, summary.TotalCount)
	assert.InDelta(t, 30.0, summary.PercentViability, 1e-9)
	assert.Equal(t, "plate4", summary.ParentImage)
	assert.Equal(t, "/data/plate4_12.jpg", summary.ImagePath)
}

func TestComputeErrors(t *testing.T) {
	tests := []struct {
		name  string
		table *table.Table
		is    error
	}{
		{name: "nil table", table: nil, is: ErrEmptyTable},
		{name: "no rows", table: tableOf(0, 0), is: ErrEmptyTable},
		{name: "only germinated", table: tableOf(3, 0), is: ErrMissingClass},
		{name: "only ungerminated", table: tableOf(0, 3), is: ErrMissingClass},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewCalculator().Compute(tt.table, "a_b.jpg")
			assert.ErrorIs(t, err, tt.is)
		})
	}
}

func TestComputeCustomClasses(t *testing.T) {
	tbl := &table.Table{Rows: []table.Row{{Class: 5}, {Class: 7}, {Class: 7}, {Class: 9}}}

	summary, err := Calculator{GerminatedClass: 7, UngerminatedClass: 5}.Compute(tbl, "x.png")
	require.NoError(t, err)
	assert.Equal(t, 2, summary.GerminatedCount)
	assert.Equal(t, 1, summary.UngerminatedCount)
	assert.Equal(t, 4, summary.TotalCount)
	assert.InDelta(t, 50.0, summary.PercentViability, 1e-9)
}

func TestAggregate(t *testing.T) {
	got := Aggregate([]Summary{
		{ParentImage: "plateB", GerminatedCount: 1, UngerminatedCount: 1, TotalCount: 2, ImagePath: "plateB_1.jpg"},
		{ParentImage: "plateA", GerminatedCount: 3, UngerminatedCount: 1, TotalCount: 4},
		{ParentImage: "plateA", GerminatedCount: 1, UngerminatedCount: 3, TotalCount: 4},
	})

	require.Len(t, got, 2)
	assert.Equal(t, Summary{ParentImage: "plateA", GerminatedCount: 4, UngerminatedCount: 4, TotalCount: 8, PercentViability: 50}, got[0])
	assert.Equal(t, "plateB", got[1].ParentImage)
	assert.Empty(t, got[1].ImagePath)
	assert.InDelta(t, 50.0, got[1].PercentViability, 1e-9)
}

func TestWriteReports(t *testing.T) {
	summaries := []Summary{{ParentImage: "p", ImagePath: "p_1.jpg", GerminatedCount: 1, UngerminatedCount: 2, TotalCount: 3, PercentViability: 100.0 / 3}}

	var js bytes.Buffer
	require.NoError(t, WriteJSON(&js, summaries))
	var decoded []Summary
	require.NoError(t, json.Unmarshal(js.Bytes(), &decoded))
	assert.Equal(t, summaries, decoded)

	var empty bytes.Buffer
	require.NoError(t, WriteJSON(&empty, nil))
	assert.Equal(t, "[]\n", empty.String())

	var csv bytes.Buffer
	require.NoError(t, WriteCSV(&csv, summaries))
	lines := strings.Split(strings.TrimSpace(csv.String()), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, "p,p_1.jpg,1,2,3,33.33", lines[1])
}
