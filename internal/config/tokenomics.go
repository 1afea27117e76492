package config

import (
	"errors"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// UnlimitedBandwidth marks an addon product that lifts the bandwidth quota.
const UnlimitedBandwidth int64 = -1

// Tokenomics is the file representation of pricing and the addon catalog.
type Tokenomics struct {
	CostPerGB         string         `mapstructure:"costPerGB"`
	BaseRewardRate    string         `mapstructure:"baseRewardRate"`
	WarningThresholds []float64      `mapstructure:"warningThresholds"`
	AddonProducts     []AddonProduct `mapstructure:"addonProducts"`
}

type AddonProduct struct {
	ID             string `mapstructure:"id"`
	BandwidthBytes int64  `mapstructure:"bandwidthBytes"`
	Price          string `mapstructure:"price"`
	DurationDays   int    `mapstructure:"durationDays"`
}

func (p AddonProduct) Unlimited() bool {
	return p.BandwidthBytes == UnlimitedBandwidth
}

// Rates is the validated, parsed view of Tokenomics.
type Rates struct {
	CostPerGB         decimal.Decimal
	BaseRewardRate    decimal.Decimal
	WarningThresholds []float64
	products          map[string]AddonProduct
}

func (r Rates) Product(id string) (AddonProduct, bool) {
	p, ok := r.products[strings.TrimSpace(id)]
	return p, ok
}

func DefaultTokenomics() Tokenomics {
	return Tokenomics{
		CostPerGB:         "0.1",
		BaseRewardRate:    "1",
		WarningThresholds: []float64{80, 100},
		AddonProducts: []AddonProduct{
			{ID: "bandwidth_5gb", BandwidthBytes: 5 << 30, Price: "4.99", DurationDays: 30},
			{ID: "bandwidth_20gb", BandwidthBytes: 20 << 30, Price: "14.99", DurationDays: 30},
			{ID: "bandwidth_unlimited", BandwidthBytes: UnlimitedBandwidth, Price: "29.99", DurationDays: 30},
		},
	}
}

type TokenomicsHolder struct {
	current atomic.Value // holds Rates
}

// NewStaticTokenomics builds a holder that never reloads.
func NewStaticTokenomics(t Tokenomics) (*TokenomicsHolder, error) {
	rates, err := parseTokenomics(t)
	if err != nil {
		return nil, err
	}
	holder := &TokenomicsHolder{}
	holder.current.Store(rates)
	return holder, nil
}

func NewTokenomicsHolder(cfg Config, log *zap.Logger) (*TokenomicsHolder, error) {
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("config.tokenomics")

	v := viper.New()
	if cfg.TokenomicsPath != "" {
		v.SetConfigFile(cfg.TokenomicsPath)
	} else {
		v.SetConfigName("tokenomics")
		v.SetConfigType("yml")
		v.AddConfigPath("/etc/vpnledger")
		v.AddConfigPath(".")
	}
	v.SetEnvPrefix("VPNLEDGER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
		log.Info("tokenomics config not found, using defaults")
		return NewStaticTokenomics(DefaultTokenomics())
	}

	var raw Tokenomics
	if err := v.UnmarshalKey("tokenomics", &raw); err != nil {
		return nil, err
	}
	rates, err := parseTokenomics(raw)
	if err != nil {
		return nil, err
	}

	holder := &TokenomicsHolder{}
	holder.current.Store(rates)

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		var updated Tokenomics
		if err := v.UnmarshalKey("tokenomics", &updated); err != nil {
			log.Warn("tokenomics.reload.failed", zap.Error(err))
			return
		}
		parsed, err := parseTokenomics(updated)
		if err != nil {
			log.Warn("tokenomics.reload.invalid", zap.Error(err))
			return
		}
		holder.current.Store(parsed)
		log.Info("tokenomics.reloaded", zap.String("file", e.Name))
	})

	return holder, nil
}

func (h *TokenomicsHolder) Get() Rates {
	return h.current.Load().(Rates)
}

func parseTokenomics(t Tokenomics) (Rates, error) {
	cost, err := decimal.NewFromString(strings.TrimSpace(t.CostPerGB))
	if err != nil {
		return Rates{}, fmt.Errorf("tokenomics.costPerGB: %w", err)
	}
	if cost.IsNegative() {
		return Rates{}, errors.New("tokenomics.costPerGB cannot be negative")
	}
	reward, err := decimal.NewFromString(strings.TrimSpace(t.BaseRewardRate))
	if err != nil {
		return Rates{}, fmt.Errorf("tokenomics.baseRewardRate: %w", err)
	}
	if reward.IsNegative() {
		return Rates{}, errors.New("tokenomics.baseRewardRate cannot be negative")
	}

	products := make(map[string]AddonProduct, len(t.AddonProducts))
	for _, p := range t.AddonProducts {
		id := strings.TrimSpace(p.ID)
		if id == "" {
			return Rates{}, errors.New("tokenomics.addonProducts: id is required")
		}
		if p.BandwidthBytes <= 0 && p.BandwidthBytes != UnlimitedBandwidth {
			return Rates{}, fmt.Errorf("tokenomics.addonProducts[%s]: invalid bandwidthBytes", id)
		}
		if _, dup := products[id]; dup {
			return Rates{}, fmt.Errorf("tokenomics.addonProducts[%s]: duplicate id", id)
		}
		p.ID = id
		products[id] = p
	}

	thresholds := t.WarningThresholds
	if len(thresholds) == 0 {
		thresholds = []float64{80, 100}
	}

	return Rates{
		CostPerGB:         cost,
		BaseRewardRate:    reward,
		WarningThresholds: thresholds,
		products:          products,
	}, nil
}
