package strategy

import (
	"testing"

	"tradesandbox/internal/modules/config"
)

func newTestCatalog() *Catalog {
	cfg := &config.Config{
		Strategy: config.StrategyConfig{
			Instances: map[string]config.StrategyInstanceConfig{
				"cfg": {Kind: "donchian", FastPeriod: 20, SlowPeriod: 50, MinTicksBetweenSignals: 1},
			},
			RuntimeEdit: config.StrategyRuntimeEditConfig{Enabled: true, MaxCustomForks: 4},
		},
	}
	return NewCatalog(cfg)
}

func TestUpdateProfileForksNewVersionInsteadOfMutating(t *testing.T) {
	c := newTestCatalog()

	v1, ok := c.Current("cfg")
	if !ok {
		t.Fatalf("expected seeded profile")
	}
	if v1.Version != 1 {
		t.Fatalf("Version=%d, expected 1", v1.Version)
	}

	v2, err := c.UpdateProfile("cfg", 10, 30, 2)
	if err != nil {
		t.Fatalf("UpdateProfile returned error: %v", err)
	}
	if v2.Version != 2 {
		t.Fatalf("Version=%d, expected 2", v2.Version)
	}
	if v2.FastPeriod != 10 || v2.SlowPeriod != 30 {
		t.Fatalf("periods=%d/%d, expected 10/30", v2.FastPeriod, v2.SlowPeriod)
	}

	// The original version must still be retrievable unchanged.
	pinned, ok := c.Version("cfg", 1)
	if !ok {
		t.Fatalf("expected version 1 still retrievable")
	}
	if pinned.FastPeriod != 20 || pinned.SlowPeriod != 50 {
		t.Fatalf("version 1 mutated in place: periods=%d/%d", pinned.FastPeriod, pinned.SlowPeriod)
	}

	current, _ := c.Current("cfg")
	if current.Version != 2 {
		t.Fatalf("Current()=%d, expected latest version 2", current.Version)
	}
}

func TestUpdateProfileNormalizesInvalidPeriods(t *testing.T) {
	c := newTestCatalog()

	forked, err := c.UpdateProfile("cfg", 1, 1, 0)
	if err != nil {
		t.Fatalf("UpdateProfile returned error: %v", err)
	}
	if forked.FastPeriod < 2 {
		t.Fatalf("FastPeriod=%d, expected >= 2", forked.FastPeriod)
	}
	if forked.SlowPeriod <= forked.FastPeriod {
		t.Fatalf("SlowPeriod=%d must exceed FastPeriod=%d", forked.SlowPeriod, forked.FastPeriod)
	}
	if forked.MinTicksBetweenSignals < 1 {
		t.Fatalf("MinTicksBetweenSignals=%d, expected >= 1", forked.MinTicksBetweenSignals)
	}
}

func TestAddCustomFromBaseRespectsForkLimit(t *testing.T) {
	c := newTestCatalog()

	for i := 0; i < 4; i++ {
		if _, err := c.AddCustomFromBase("cfg"); err != nil {
			t.Fatalf("fork %d: unexpected error: %v", i, err)
		}
	}
	if _, err := c.AddCustomFromBase("cfg"); err == nil {
		t.Fatalf("expected fork limit error on 5th custom fork")
	}
}

func TestAddCustomFromBaseUnknownBase(t *testing.T) {
	c := newTestCatalog()
	if _, err := c.AddCustomFromBase("does-not-exist"); err == nil {
		t.Fatalf("expected error for unknown base id")
	}
}
