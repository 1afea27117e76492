package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestQuotaVariant(t *testing.T) {
	unlimited := FromColumn(nil)
	assert.True(t, unlimited.IsUnlimited())
	assert.Nil(t, unlimited.Column())
	assert.False(t, unlimited.Exceeded(1<<60, 0))

	v := int64(100)
	bounded := FromColumn(&v)
	assert.False(t, bounded.IsUnlimited())
	assert.Equal(t, int64(100), *bounded.Column())
	assert.True(t, bounded.Exceeded(100, 0))
	assert.False(t, bounded.Exceeded(100, 1))
	assert.True(t, bounded.Exceeded(150, 50))

	limit, ok := bounded.Limit(-5)
	assert.True(t, ok)
	assert.Equal(t, int64(100), limit)
}

func TestEffectOf(t *testing.T) {
	assert.Equal(t, AddonEffect{Unlimited: true}, EffectOf(-1))
	assert.Equal(t, AddonEffect{Bytes: 5 << 30}, EffectOf(5<<30))
}
