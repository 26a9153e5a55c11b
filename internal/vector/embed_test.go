package vector

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"gonum.org/v1/gonum/floats"
)

func TestFeatureHasherDeterministic(t *testing.T) {
	h := NewFeatureHasher(128)

	a := h.EmbedText("wireless noise cancelling headphones")
	b := h.EmbedText("wireless noise cancelling headphones")

	assert.Equal(t, a, b)
	assert.Len(t, a, 128)
}

func TestFeatureHasherUnitNorm(t *testing.T) {
	h := NewFeatureHasher(64)

	vec := h.EmbedText("mechanical keyboard with rgb lighting")

	assert.InDelta(t, 1.0, floats.Norm(vec, 2), 1e-9)
}

func TestFeatureHasherCaseInsensitive(t *testing.T) {
	h := NewFeatureHasher(64)

	assert.Equal(t, h.EmbedText("Gaming Mouse"), h.EmbedText("gaming mouse"))
}

func TestFeatureHasherIgnoresPunctuation(t *testing.T) {
	h := NewFeatureHasher(64)

	assert.Equal(t, h.EmbedText("usb-c, cable!"), h.EmbedText("usb c cable"))
}

func TestFeatureHasherEmptyText(t *testing.T) {
	h := NewFeatureHasher(32)

	vec := h.EmbedText("")

	assert.Len(t, vec, 32)
	assert.Equal(t, 0.0, floats.Norm(vec, 2))
}

func TestFeatureHasherDefaultDimension(t *testing.T) {
	h := NewFeatureHasher(0)

	assert.Equal(t, 512, h.Dimension())
}

func TestFeatureHasherDistinctTexts(t *testing.T) {
	h := NewFeatureHasher(256)

	a := h.EmbedText("leather office chair")
	b := h.EmbedText("stainless steel water bottle")

	assert.NotEqual(t, a, b)
}
