package domain

import "github.com/smallbiznis/vpnledger/internal/config"

// Quota is either unlimited or bounded by a byte count. The zero value is
// Unlimited.
type Quota struct {
	bounded bool
	bytes   int64
}

func Unlimited() Quota { return Quota{} }

func Bounded(bytes int64) Quota {
	if bytes < 0 {
		bytes = 0
	}
	return Quota{bounded: true, bytes: bytes}
}

// FromColumn maps the nullable subscription column; NULL is unlimited.
func FromColumn(v *int64) Quota {
	if v == nil {
		return Unlimited()
	}
	return Bounded(*v)
}

// Column is the inverse of FromColumn.
func (q Quota) Column() *int64 {
	if !q.bounded {
		return nil
	}
	v := q.bytes
	return &v
}

func (q Quota) IsUnlimited() bool { return !q.bounded }

// Bytes returns the bound; ok is false for an unlimited quota.
func (q Quota) Bytes() (int64, bool) {
	return q.bytes, q.bounded
}

// Limit returns the effective ceiling including addon bytes.
func (q Quota) Limit(addon int64) (int64, bool) {
	if !q.bounded {
		return 0, false
	}
	if addon < 0 {
		addon = 0
	}
	return q.bytes + addon, true
}

// Exceeded reports used >= quota+addon for a bounded quota.
func (q Quota) Exceeded(used, addon int64) bool {
	limit, ok := q.Limit(addon)
	return ok && used >= limit
}

// AddonEffect is what an addon does to a subscription once applied.
type AddonEffect struct {
	Unlimited bool
	Bytes     int64
}

// EffectOf decodes the persisted addon bandwidth column, where -1 marks an
// unlimited addon.
func EffectOf(bandwidthBytes int64) AddonEffect {
	if bandwidthBytes == config.UnlimitedBandwidth {
		return AddonEffect{Unlimited: true}
	}
	return AddonEffect{Bytes: bandwidthBytes}
}
