package config

import (
	"testing"
)

func newHolderWith(cfg PricingConfig) *PricingConfigHolder {
	holder := &PricingConfigHolder{}
	holder.current.Store(cfg)
	return holder
}

func TestValidatePricingConfig(t *testing.T) {
	cases := []struct {
		name    string
		cfg     PricingConfig
		wantErr bool
	}{
		{"defaults", DefaultPricingConfig(), false},
		{"empty", PricingConfig{}, true},
		{"blank id", PricingConfig{Packs: []CreditPack{{ID: " ", Credits: 1, PriceMinorUnits: 100}}}, true},
		{"duplicate id", PricingConfig{Packs: []CreditPack{
			{ID: "single", Credits: 1, PriceMinorUnits: 100},
			{ID: "single", Credits: 2, PriceMinorUnits: 200},
		}}, true},
		{"zero credits", PricingConfig{Packs: []CreditPack{{ID: "p", Credits: 0, PriceMinorUnits: 100}}}, true},
		{"zero price", PricingConfig{Packs: []CreditPack{{ID: "p", Credits: 1, PriceMinorUnits: 0}}}, true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := validatePricingConfig(tc.cfg)
			if tc.wantErr && err == nil {
				t.Fatal("expected error")
			}
			if !tc.wantErr && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

func TestLookup(t *testing.T) {
	holder := newHolderWith(DefaultPricingConfig())

	pack, ok := holder.Lookup("pack5")
	if !ok {
		t.Fatal("pack5 must resolve")
	}
	if pack.Credits != 5 || pack.PriceMinorUnits != 89900 {
		t.Fatalf("unexpected pack: %+v", pack)
	}

	if _, ok := holder.Lookup(" pack5 "); !ok {
		t.Fatal("lookup must trim the pack id")
	}
	if _, ok := holder.Lookup("unknown"); ok {
		t.Fatal("unknown pack must not resolve")
	}
}

func TestAtomicSwap(t *testing.T) {
	holder := newHolderWith(DefaultPricingConfig())
	if len(holder.Packs()) != 3 {
		t.Fatalf("expected 3 default packs, got %d", len(holder.Packs()))
	}

	holder.current.Store(PricingConfig{Packs: []CreditPack{
		{ID: "promo", Label: "Promo", Credits: 10, PriceMinorUnits: 50000},
	}})

	if _, ok := holder.Lookup("pack5"); ok {
		t.Fatal("old table must be gone after swap")
	}
	pack, ok := holder.Lookup("promo")
	if !ok || pack.Credits != 10 {
		t.Fatalf("swapped table not served: %+v ok=%v", pack, ok)
	}
}
