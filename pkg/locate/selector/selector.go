// Package selector runs the three-phase algorithm selection: disqualify
// algorithms the scenario rules out, weight the survivors by fixed
// per-algorithm factor tables, then prune and cap the finalist set.
package selector

import (
	"fmt"
	"sort"

	"github.com/wifiloc/wifiloc/pkg/locate/algorithms"
	"github.com/wifiloc/wifiloc/pkg/locate/scenario"
)

const (
	defaultPruneWeightThreshold = 0.4
	defaultMaxFinalists         = 3
	capTriggerWeight            = 0.8
)

// Config tunes the pruning threshold and the finalist cap.
type Config struct {
	PruneWeightThreshold float64
	MaxFinalists         int
}

// DefaultConfig returns the stock selection tuning.
func DefaultConfig() Config {
	return Config{PruneWeightThreshold: defaultPruneWeightThreshold, MaxFinalists: defaultMaxFinalists}
}

// Selection is one algorithm's outcome from the selector: its computed
// weight and the ordered reasons that led to it, whether or not it was
// ultimately kept as a finalist.
type Selection struct {
	Algorithm algorithms.Name
	Selected  bool
	Weight    float64
	Reasons   []string
}

// Select runs all three phases with the default tuning and returns every
// algorithm's Selection (for calculation-info reporting) plus the
// finalist subset in deterministic algorithms.All order.
func Select(reg *algorithms.Registry, ctx scenario.Context) (all []Selection, finalists []algorithms.Algorithm) {
	return SelectWith(DefaultConfig(), reg, ctx)
}

// SelectWith is Select with explicit tuning.
func SelectWith(cfg Config, reg *algorithms.Registry, ctx scenario.Context) (all []Selection, finalists []algorithms.Algorithm) {
	if cfg.PruneWeightThreshold < 0 {
		cfg.PruneWeightThreshold = defaultPruneWeightThreshold
	}
	if cfg.MaxFinalists <= 0 {
		cfg.MaxFinalists = defaultMaxFinalists
	}
	all = make([]Selection, 0, len(algorithms.All))
	weighted := make(map[algorithms.Name]float64, len(algorithms.All))

	for _, name := range algorithms.All {
		a, ok := reg.Get(name)
		if !ok {
			continue
		}

		if reason, disqualified := disqualify(name, ctx); disqualified {
			all = append(all, Selection{Algorithm: name, Selected: false, Weight: 0, Reasons: []string{reason}})
			continue
		}

		w := a.BaseWeight(ctx.APCountFactor) *
			a.SignalQualityMultiplier(ctx.SignalQuality) *
			a.GeometricQualityMultiplier(ctx.GeometricQuality) *
			a.SignalDistributionMultiplier(ctx.SignalDistribution)

		weighted[name] = w
		all = append(all, Selection{
			Algorithm: name,
			Weight:    w,
			Reasons:   []string{fmt.Sprintf("weight=%.3f (apCount=%s, signal=%s, geometry=%s, distribution=%s)", w, ctx.APCountFactor, ctx.SignalQuality, ctx.GeometricQuality, ctx.SignalDistribution)},
		})
	}

	keptNames := make([]algorithms.Name, 0, len(weighted))
	for name, w := range weighted {
		if w >= cfg.PruneWeightThreshold {
			keptNames = append(keptNames, name)
		}
	}

	if ctx.SignalQuality == scenario.SignalVeryWeak {
		if _, ok := weighted[algorithms.Proximity]; ok {
			if len(keptNames) == 0 {
				keptNames = append(keptNames, algorithms.Proximity)
			}
			markReason(all, algorithms.Proximity, "prioritised: very weak signals")
		}
	}

	sort.Slice(keptNames, func(i, j int) bool { return weighted[keptNames[i]] > weighted[keptNames[j]] })

	anyAboveCap := false
	for _, w := range weighted {
		if w > capTriggerWeight {
			anyAboveCap = true
			break
		}
	}
	if anyAboveCap && len(keptNames) > cfg.MaxFinalists {
		keptNames = keptNames[:cfg.MaxFinalists]
	}

	kept := make(map[algorithms.Name]struct{}, len(keptNames))
	for _, n := range keptNames {
		kept[n] = struct{}{}
	}

	for i := range all {
		if _, ok := kept[all[i].Algorithm]; ok {
			all[i].Selected = true
		}
	}

	for _, name := range algorithms.All {
		if _, ok := kept[name]; !ok {
			continue
		}
		a, ok := reg.Get(name)
		if !ok {
			continue
		}
		finalists = append(finalists, a)
	}

	return all, finalists
}

// disqualify implements Phase 1's fixed table. Disqualification is
// monotonic in AP count: an algorithm ruled out at a given AP count
// stays ruled out at every smaller count.
func disqualify(name algorithms.Name, ctx scenario.Context) (reason string, disqualified bool) {
	if ctx.SignalQuality == scenario.SignalVeryWeak && name != algorithms.Proximity {
		return "disqualified: very weak signal", true
	}

	switch ctx.APCountFactor {
	case scenario.APCountSingle:
		switch name {
		case algorithms.RSSIRatio, algorithms.WeightedCentroid, algorithms.Trilateration, algorithms.MaximumLikelihood:
			return "disqualified: single access point", true
		}
	case scenario.APCountTwo:
		switch name {
		case algorithms.Trilateration, algorithms.MaximumLikelihood:
			return "disqualified: two access points", true
		}
	case scenario.APCountThree:
		if name == algorithms.MaximumLikelihood {
			return "disqualified: three access points", true
		}
	}

	if ctx.GeometricQuality == scenario.GeometryCollinear && name == algorithms.Trilateration {
		return "disqualified: collinear geometry", true
	}

	return "", false
}

func markReason(all []Selection, name algorithms.Name, reason string) {
	for i := range all {
		if all[i].Algorithm == name {
			all[i].Selected = true
			all[i].Reasons = append(all[i].Reasons, reason)
			return
		}
	}
}
