package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultTokenomicsParses(t *testing.T) {
	holder, err := NewStaticTokenomics(DefaultTokenomics())
	require.NoError(t, err)

	rates := holder.Get()
	assert.Equal(t, "0.1", rates.CostPerGB.String())
	assert.Equal(t, "1", rates.BaseRewardRate.String())

	p, ok := rates.Product("bandwidth_unlimited")
	require.True(t, ok)
	assert.True(t, p.Unlimited())

	_, ok = rates.Product("missing")
	assert.False(t, ok)
}

func TestTokenomicsValidation(t *testing.T) {
	cases := []struct {
		name string
		in   Tokenomics
	}{
		{"bad cost", Tokenomics{CostPerGB: "abc", BaseRewardRate: "1"}},
		{"negative reward", Tokenomics{CostPerGB: "0.1", BaseRewardRate: "-1"}},
		{"empty product id", Tokenomics{CostPerGB: "0.1", BaseRewardRate: "1", AddonProducts: []AddonProduct{{BandwidthBytes: 10}}}},
		{"zero bandwidth", Tokenomics{CostPerGB: "0.1", BaseRewardRate: "1", AddonProducts: []AddonProduct{{ID: "x"}}}},
		{"duplicate product", Tokenomics{CostPerGB: "0.1", BaseRewardRate: "1", AddonProducts: []AddonProduct{{ID: "x", BandwidthBytes: 1}, {ID: "x", BandwidthBytes: 2}}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := NewStaticTokenomics(tc.in); err == nil {
				t.Fatalf("expected validation error")
			}
		})
	}
}
