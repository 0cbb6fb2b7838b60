package strategy

import (
	"fmt"
	"sync"
	"time"

	"tradesandbox/internal/models"
	"tradesandbox/internal/modules/config"
)

// Catalog owns every StrategyProfile version ever created. Edits never
// mutate a profile in place: UpdateProfile appends a new Version, and
// AddCustomFromBase forks a new custom strategy ID starting at version 1,
// so a position opened under version N keeps
// pointing at the exact parameters it was opened under even after the
// live profile moves to N+1. Ported from original_source's
// StrategyCatalog, generalized from in-place mutation to fork-on-edit.
type Catalog struct {
	mu             sync.RWMutex
	profiles       map[string][]models.StrategyProfile // strategyID -> versions, index 0 is oldest
	nextCustomN    int
	maxCustomForks int
}

// NewCatalog seeds the catalog from the strategy.instances config block.
func NewCatalog(cfg *config.Config) *Catalog {
	c := &Catalog{
		profiles:       make(map[string][]models.StrategyProfile),
		nextCustomN:    1,
		maxCustomForks: cfg.Strategy.RuntimeEdit.MaxCustomForks,
	}
	for id, inst := range cfg.Strategy.Instances {
		fast, slow := models.NormalizePeriods(inst.FastPeriod, inst.SlowPeriod)
		c.profiles[id] = []models.StrategyProfile{{
			StrategyID:             id,
			Version:                1,
			Label:                  label(models.StrategyKind(inst.Kind), fast, slow, id, false),
			SourceTag:              id,
			Kind:                   models.StrategyKind(inst.Kind),
			FastPeriod:             fast,
			SlowPeriod:             slow,
			MinTicksBetweenSignals: inst.MinTicksBetweenSignals,
			CreatedAt:              time.Now(),
			IsCustom:               false,
		}}
	}
	if c.maxCustomForks <= 0 {
		c.maxCustomForks = 32
	}
	return c
}

func label(kind models.StrategyKind, fast, slow int, tag string, custom bool) string {
	if custom {
		return fmt.Sprintf("%s(%d/%d)[%s]", kind, fast, slow, tag)
	}
	return fmt.Sprintf("%s(%d/%d)", kind, fast, slow)
}

// IDs returns every strategy ID with at least one profile version.
func (c *Catalog) IDs() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ids := make([]string, 0, len(c.profiles))
	for id := range c.profiles {
		ids = append(ids, id)
	}
	return ids
}

// Current returns the latest (highest-version) profile for a strategy.
func (c *Catalog) Current(strategyID string) (models.StrategyProfile, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	versions := c.profiles[strategyID]
	if len(versions) == 0 {
		return models.StrategyProfile{}, false
	}
	return versions[len(versions)-1], true
}

// Version returns a specific historical version, for position replay
// where ExpectancyAtEntry and indicator warmup must stay pinned to the
// parameters active when a position was opened.
func (c *Catalog) Version(strategyID string, version int) (models.StrategyProfile, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, p := range c.profiles[strategyID] {
		if p.Version == version {
			return p, true
		}
	}
	return models.StrategyProfile{}, false
}

// AddCustomFromBase forks a brand-new custom strategy ID seeded from an
// existing strategy's current parameters.
func (c *Catalog) AddCustomFromBase(baseID string) (models.StrategyProfile, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	base, ok := c.latestLocked(baseID)
	if !ok {
		return models.StrategyProfile{}, fmt.Errorf("strategy: unknown base id %q", baseID)
	}
	customCount := 0
	for id := range c.profiles {
		if latest := c.profiles[id]; len(latest) > 0 && latest[len(latest)-1].IsCustom {
			customCount++
		}
	}
	if customCount >= c.maxCustomForks {
		return models.StrategyProfile{}, fmt.Errorf("strategy: custom fork limit (%d) reached", c.maxCustomForks)
	}

	tag := fmt.Sprintf("c%02d", c.nextCustomN)
	c.nextCustomN++
	fast, slow := models.NormalizePeriods(base.FastPeriod, base.SlowPeriod)
	profile := models.StrategyProfile{
		StrategyID:             tag,
		Version:                1,
		Label:                  label(base.Kind, fast, slow, tag, true),
		SourceTag:              tag,
		Kind:                   base.Kind,
		FastPeriod:             fast,
		SlowPeriod:             slow,
		MinTicksBetweenSignals: base.MinTicksBetweenSignals,
		CreatedAt:              time.Now(),
		IsCustom:               true,
	}
	c.profiles[tag] = []models.StrategyProfile{profile}
	return profile, nil
}

// UpdateProfile forks a new version of strategyID carrying the edited
// parameters, leaving every prior version addressable via Version.
func (c *Catalog) UpdateProfile(strategyID string, fastPeriod, slowPeriod int, minTicksBetweenSignals int64) (models.StrategyProfile, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	current, ok := c.latestLocked(strategyID)
	if !ok {
		return models.StrategyProfile{}, fmt.Errorf("strategy: unknown id %q", strategyID)
	}
	fast, slow := models.NormalizePeriods(fastPeriod, slowPeriod)
	if minTicksBetweenSignals < 1 {
		minTicksBetweenSignals = 1
	}
	next := current
	next.Version++
	next.FastPeriod = fast
	next.SlowPeriod = slow
	next.MinTicksBetweenSignals = minTicksBetweenSignals
	next.Label = label(current.Kind, fast, slow, current.SourceTag, current.IsCustom)
	next.CreatedAt = time.Now()

	c.profiles[strategyID] = append(c.profiles[strategyID], next)
	return next, nil
}

func (c *Catalog) latestLocked(strategyID string) (models.StrategyProfile, bool) {
	versions := c.profiles[strategyID]
	if len(versions) == 0 {
		return models.StrategyProfile{}, false
	}
	return versions[len(versions)-1], true
}
