package chart

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bcrosbie/evalboard/internal/domain"
	"github.com/bcrosbie/evalboard/internal/series"
)

var pngMagic = []byte("\x89PNG\r\n\x1a\n")

func sampleResult() series.Result {
	return series.Build(domain.EvalDataByDate{
		"2024-01-01": {{ModelID: "m1", DatasetKey: "AIME24", Score: 0.8}},
		"2024-01-02": {{ModelID: "m1", DatasetKey: "AIME25", Score: 0.5}},
		"2024-01-03": {{ModelID: "m1", DatasetKey: "AIME24", Score: 0.6}},
	}, series.Filter{ModelID: "m1"})
}

func TestHandleRendersPNGWithGaps(t *testing.T) {
	table := NewTable(WithSize(640, 320))
	h, err := table.Acquire("m1")
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, h.Render(sampleResult(), &buf))
	assert.True(t, bytes.HasPrefix(buf.Bytes(), pngMagic))
	assert.Equal(t, buf.Bytes(), h.Last())
}

func TestHandleRendersSingleDate(t *testing.T) {
	result := series.Build(domain.EvalDataByDate{
		"2024-01-01": {{ModelID: "m1", DatasetKey: "AIME24", Score: 0.8}},
	}, series.Filter{})
	h, err := NewTable().Acquire("m1")
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, h.Render(result, &buf))
	assert.True(t, bytes.HasPrefix(buf.Bytes(), pngMagic))
}

func TestRenderWithoutSeries(t *testing.T) {
	h, err := NewTable().Acquire("m1")
	require.NoError(t, err)

	var buf bytes.Buffer
	assert.ErrorIs(t, h.Render(series.Result{Dates: []string{"2024-01-01"}}, &buf), ErrNoData)
}

func TestTableAcquireIsLazyAndStable(t *testing.T) {
	table := NewTable()
	assert.Empty(t, table.Models())

	first, err := table.Acquire("m1")
	require.NoError(t, err)
	again, err := table.Acquire("m1")
	require.NoError(t, err)
	assert.Same(t, first, again)
	assert.Equal(t, []string{"m1"}, table.Models())
}

func TestTableReleasesExactlyOnce(t *testing.T) {
	table := NewTable()
	h, err := table.Acquire("m1")
	require.NoError(t, err)
	_, err = table.Acquire("m2")
	require.NoError(t, err)

	assert.True(t, table.Release("m1"))
	assert.False(t, table.Release("m1"))
	assert.ErrorIs(t, h.Render(sampleResult(), &bytes.Buffer{}), ErrReleased)

	table.Close()
	assert.Empty(t, table.Models())
	assert.False(t, table.Release("m2"))
	_, err = table.Acquire("m3")
	assert.ErrorIs(t, err, ErrClosed)
}
