package mock

import (
	"context"
	"math"
	"testing"

	"github.com/poiesic/ragcore/ai"
	"github.com/poiesic/ragcore/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMockEmbedder_Default(t *testing.T) {
	m := NewMockEmbedder()
	r := m.Embed(context.Background(), []string{"a", "b"})

	success, ok := r.(ai.Success)
	require.True(t, ok)
	require.Len(t, success.Vectors, 2)
	assert.Len(t, success.Vectors[0], DefaultDimensions)
	assert.Equal(t, Vector("a", DefaultDimensions), success.Vectors[0])
	assert.Equal(t, 1, m.CallCount())
	assert.Equal(t, [][]string{{"a", "b"}}, m.Calls())
}

func TestMockEmbedder_Script(t *testing.T) {
	m := NewMockEmbedder().Script(
		ai.RateLimited{Message: "slow down"},
		ai.Failure{Kind: core.KindConnection, Message: "reset"},
	)
	m.Dimensions = 4

	_, ok := m.Embed(context.Background(), []string{"x"}).(ai.RateLimited)
	assert.True(t, ok)

	f, ok := m.Embed(context.Background(), []string{"x"}).(ai.Failure)
	require.True(t, ok)
	assert.Equal(t, core.KindConnection, f.Kind)

	s, ok := m.Embed(context.Background(), []string{"x"}).(ai.Success)
	require.True(t, ok, "script exhausted, default behavior resumes")
	assert.Len(t, s.Vectors[0], 4)
	assert.Equal(t, 3, m.CallCount())

	m.Reset()
	assert.Zero(t, m.CallCount())
}

func TestVectorIsUnitLength(t *testing.T) {
	v := Vector("hello world", 64)
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	assert.InDelta(t, 1.0, math.Sqrt(sum), 1e-5)
}

func TestMockProvider(t *testing.T) {
	p := NewMockProvider()
	assert.Same(t, p.Embeddings(), p.Embedder())
	assert.Same(t, p.Answers(), p.AnswerGenerator())
	assert.False(t, p.Closed())
	assert.NoError(t, p.Close())
	assert.True(t, p.Closed())

	bare := NewMockProviderWithServices(NewMockEmbedder(), nil)
	assert.Nil(t, bare.AnswerGenerator())
	assert.Nil(t, bare.Answers())
}
