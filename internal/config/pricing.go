package config

import (
	"errors"
	"log"
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// CreditPack is one purchasable credit bundle. Price is in the minor unit
// of the gateway currency.
type CreditPack struct {
	ID              string `mapstructure:"id" json:"id"`
	Label           string `mapstructure:"label" json:"label"`
	Credits         int64  `mapstructure:"credits" json:"credits"`
	PriceMinorUnits int64  `mapstructure:"priceMinorUnits" json:"price_minor_units"`
}

// PricingConfig is the enumerated pack -> (credits, price) table.
type PricingConfig struct {
	Packs []CreditPack `mapstructure:"packs"`
}

func DefaultPricingConfig() PricingConfig {
	return PricingConfig{
		Packs: []CreditPack{
			{ID: "single", Label: "Single report", Credits: 1, PriceMinorUnits: 19900},
			{ID: "pack5", Label: "5 reports", Credits: 5, PriceMinorUnits: 89900},
			{ID: "pack20", Label: "20 reports", Credits: 20, PriceMinorUnits: 299900},
		},
	}
}

// PricingConfigHolder serves the current pricing table and swaps it
// atomically on config reload.
type PricingConfigHolder struct {
	current atomic.Value // holds PricingConfig
}

func NewPricingConfigHolder() (*PricingConfigHolder, error) {
	v := viper.New()

	v.SetConfigName("pricing")
	v.SetConfigType("yml")
	v.AddConfigPath("/var/lib/cellgauge/config") // Volume-mounted config
	v.AddConfigPath("/etc/cellgauge")            // System config
	v.AddConfigPath(".")                         // Current directory (dev mode)

	v.SetEnvPrefix("CELLGAUGE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		// if config file not found, use defaults
		defaults := DefaultPricingConfig()
		v.SetDefault("pricing.packs", defaults.Packs)
	}

	var cfg PricingConfig
	if err := v.UnmarshalKey("pricing", &cfg); err != nil {
		return nil, err
	}
	if err := validatePricingConfig(cfg); err != nil {
		return nil, err
	}

	holder := &PricingConfigHolder{}
	holder.current.Store(cfg)

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		var updated PricingConfig
		if err := v.UnmarshalKey("pricing", &updated); err != nil {
			log.Printf("[pricing-config] reload failed: %v", err)
			return
		}
		if err := validatePricingConfig(updated); err != nil {
			log.Printf("[pricing-config] invalid config ignored: %v", err)
			return
		}
		holder.current.Store(updated)
		log.Printf("[pricing-config] reloaded from %s", e.Name)
	})

	return holder, nil
}

func (h *PricingConfigHolder) Get() PricingConfig {
	return h.current.Load().(PricingConfig)
}

// Packs returns the current pack table.
func (h *PricingConfigHolder) Packs() []CreditPack {
	return h.Get().Packs
}

// Lookup returns the pack for the given id, or false when the id is not
// in the current table.
func (h *PricingConfigHolder) Lookup(packID string) (CreditPack, bool) {
	packID = strings.TrimSpace(packID)
	for _, pack := range h.Get().Packs {
		if pack.ID == packID {
			return pack, true
		}
	}
	return CreditPack{}, false
}

func validatePricingConfig(cfg PricingConfig) error {
	if len(cfg.Packs) == 0 {
		return errors.New("pricing.packs cannot be empty")
	}
	seen := map[string]bool{}
	for _, pack := range cfg.Packs {
		id := strings.TrimSpace(pack.ID)
		if id == "" {
			return errors.New("pricing pack id cannot be empty")
		}
		if seen[id] {
			return errors.New("duplicate pricing pack id: " + id)
		}
		seen[id] = true
		if pack.Credits <= 0 {
			return errors.New("pricing pack credits must be positive: " + id)
		}
		if pack.PriceMinorUnits <= 0 {
			return errors.New("pricing pack price must be positive: " + id)
		}
	}
	return nil
}
