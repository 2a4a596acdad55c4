package embedding

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCosineSimilarity(t *testing.T) {
	identical, err := CosineSimilarity([]float32{1, 0, 0}, []float32{1, 0, 0})
	require.NoError(t, err)
	assert.InDelta(t, 1.0, identical, 1e-9)

	orthogonal, err := CosineSimilarity([]float32{1, 0}, []float32{0, 1})
	require.NoError(t, err)
	assert.InDelta(t, 0.0, orthogonal, 1e-9)

	opposite, err := CosineSimilarity([]float32{1, 0}, []float32{-1, 0})
	require.NoError(t, err)
	assert.InDelta(t, -1.0, opposite, 1e-9)
}

func TestCosineSimilarityDimensionMismatch(t *testing.T) {
	_, err := CosineSimilarity([]float32{1, 2}, []float32{1, 2, 3})
	assert.Error(t, err)
}

func TestCosineSimilarityZeroVector(t *testing.T) {
	sim, err := CosineSimilarity([]float32{0, 0}, []float32{1, 1})
	require.NoError(t, err)
	assert.Zero(t, sim)
}

func TestMockEmbedderKeywordAxes(t *testing.T) {
	ctx := context.Background()
	mock := NewMockEmbedder("vpn", "printer")

	vpnQuery, err := mock.Embed(ctx, "My VPN won't connect", TaskRetrievalQuery)
	require.NoError(t, err)
	vpnDoc, err := mock.Embed(ctx, "Troubleshooting VPN connectivity", TaskRetrievalDocument)
	require.NoError(t, err)
	printerDoc, err := mock.Embed(ctx, "Printer offline fixes", TaskRetrievalDocument)
	require.NoError(t, err)
	unrelated, err := mock.Embed(ctx, "what is the weather", TaskRetrievalQuery)
	require.NoError(t, err)

	same, err := CosineSimilarity(vpnQuery, vpnDoc)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, same, 1e-9)

	cross, err := CosineSimilarity(vpnQuery, printerDoc)
	require.NoError(t, err)
	assert.InDelta(t, 0.0, cross, 1e-9)

	fallback, err := CosineSimilarity(unrelated, vpnDoc)
	require.NoError(t, err)
	assert.InDelta(t, 0.0, fallback, 1e-9)

	assert.Equal(t, 4, mock.CallCount())
}

func TestMockEmbedderError(t *testing.T) {
	mock := NewMockEmbedder("vpn")
	mock.Err = errors.New("embedder down")

	_, err := mock.Embed(context.Background(), "anything", TaskRetrievalQuery)
	assert.Error(t, err)
}
