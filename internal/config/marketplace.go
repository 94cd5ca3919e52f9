package config

import (
	"errors"
	"log"
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// MarketplaceConfig holds the tunables of the marketplace itself, as opposed
// to deployment configuration: the platform commission, the payout currency
// and how long a sold-out lottery stays open before the draw.
type MarketplaceConfig struct {
	CommissionRateBps int64  `mapstructure:"commissionRateBps"`
	Currency          string `mapstructure:"currency"`
	DrawDelayDays     int    `mapstructure:"drawDelayDays"`
}

func DefaultMarketplaceConfig() MarketplaceConfig {
	return MarketplaceConfig{
		CommissionRateBps: 1000, // 10%
		Currency:          "EUR",
		DrawDelayDays:     15,
	}
}

// MarketplaceConfigHolder exposes the current config and hot-reloads it when
// the backing file changes. Readers always get a consistent snapshot.
type MarketplaceConfigHolder struct {
	current atomic.Value // holds MarketplaceConfig
}

func NewMarketplaceConfigHolder() (*MarketplaceConfigHolder, error) {
	v := viper.New()

	v.SetConfigName("marketplace")
	v.SetConfigType("yml")
	v.AddConfigPath("/var/lib/mercato/config")
	v.AddConfigPath("/etc/mercato")
	v.AddConfigPath(".")

	v.SetEnvPrefix("MERCATO")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	defaults := DefaultMarketplaceConfig()
	v.SetDefault("marketplace.commissionRateBps", defaults.CommissionRateBps)
	v.SetDefault("marketplace.currency", defaults.Currency)
	v.SetDefault("marketplace.drawDelayDays", defaults.DrawDelayDays)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var cfg MarketplaceConfig
	if err := v.UnmarshalKey("marketplace", &cfg); err != nil {
		return nil, err
	}
	if err := validateMarketplaceConfig(cfg); err != nil {
		return nil, err
	}

	holder := &MarketplaceConfigHolder{}
	holder.current.Store(cfg)

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		var updated MarketplaceConfig
		if err := v.UnmarshalKey("marketplace", &updated); err != nil {
			log.Printf("[marketplace-config] reload failed: %v", err)
			return
		}
		if err := validateMarketplaceConfig(updated); err != nil {
			log.Printf("[marketplace-config] invalid config ignored: %v", err)
			return
		}
		holder.current.Store(updated)
		log.Printf("[marketplace-config] reloaded from %s", e.Name)
	})

	return holder, nil
}

// NewStaticMarketplaceConfigHolder wraps a fixed config, bypassing the file
// watcher. Used by tests.
func NewStaticMarketplaceConfigHolder(cfg MarketplaceConfig) *MarketplaceConfigHolder {
	holder := &MarketplaceConfigHolder{}
	holder.current.Store(cfg)
	return holder
}

func (h *MarketplaceConfigHolder) Current() MarketplaceConfig {
	return h.current.Load().(MarketplaceConfig)
}

func validateMarketplaceConfig(cfg MarketplaceConfig) error {
	if cfg.CommissionRateBps <= 0 || cfg.CommissionRateBps >= 10000 {
		return errors.New("marketplace.commissionRateBps must be within (0, 10000)")
	}
	if strings.TrimSpace(cfg.Currency) == "" {
		return errors.New("marketplace.currency cannot be empty")
	}
	if cfg.DrawDelayDays <= 0 {
		return errors.New("marketplace.drawDelayDays must be positive")
	}
	return nil
}
