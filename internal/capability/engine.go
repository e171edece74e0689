package capability

import (
	"math/big"
	"strings"

	"github.com/vacmesh/vacmesh-core/internal/inventory"
)

// Compute derives the FeatureSet for a device descriptor, merged with an
// optional override.
//
// Compute is pure, total, and deterministic: it performs no I/O, touches
// no shared state, and has no failure mode. Unknown or missing fields
// default every dependent feature to false. Identical inputs always
// produce identical sets, which makes results safe to cache per
// (DUID, firmware version).
//
// Parameters:
//   - desc: The device descriptor to evaluate
//   - override: Optional probed override; ignored when its firmware
//     version no longer matches the descriptor
//
// Returns:
//   - FeatureSet: Normalized feature map, one entry per declared feature
func Compute(desc *inventory.Descriptor, override *Override) FeatureSet {
	env := newEvalEnv(desc)

	set := make(FeatureSet, len(featureRules))
	for feature, rule := range featureRules {
		set[feature] = env.eval(rule)
	}

	// Override merge: probed features OR into the static result. An
	// override can only enable features, never disable one the static
	// encoding already proves.
	if override.appliesTo(desc) {
		for feature, enabled := range override.Features {
			if enabled {
				set[feature] = true
			}
		}
	}

	return set
}

// evalEnv holds the per-computation state derived once from a
// descriptor: the parsed hex feature string, the feature-id set, and
// whether the device hardware is inside the rule table's model/tag
// domain.
type evalEnv struct {
	desc       *inventory.Descriptor
	hexFlags   *big.Int
	featureIDs map[int]struct{}
	knownModel bool
}

func newEvalEnv(desc *inventory.Descriptor) *evalEnv {
	ids := make(map[int]struct{}, len(desc.FeatureIDs))
	for _, id := range desc.FeatureIDs {
		ids[id] = struct{}{}
	}

	return &evalEnv{
		desc:       desc,
		hexFlags:   parseHexFlags(desc.FeatureFlagsHex),
		featureIDs: ids,
		knownModel: isKnownHardware(desc),
	}
}

// parseHexFlags interprets the feature string as a big integer with its
// rightmost character as the least-significant nibble. Malformed or
// empty strings parse to zero, defaulting dependent features to false.
func parseHexFlags(s string) *big.Int {
	v, ok := new(big.Int).SetString(strings.TrimSpace(s), 16)
	if !ok {
		return new(big.Int)
	}
	return v
}

// isKnownHardware reports whether the descriptor's model or any of its
// tags appear in the rule table's domain. Devices outside the domain
// get the conservative generic treatment.
func isKnownHardware(desc *inventory.Descriptor) bool {
	if _, ok := modelDomain[desc.Model]; ok {
		return true
	}
	for _, tag := range desc.ProductTags {
		if _, ok := tagDomain[tag]; ok {
			return true
		}
	}
	return false
}

// eval interprets a rule against the environment.
func (e *evalEnv) eval(r Rule) bool {
	switch r.kind {
	case kindLowBit:
		return e.desc.FeatureFlags&(1<<r.bit) != 0

	case kindHighBit:
		return (e.desc.FeatureFlags>>32)&(1<<r.bit) != 0

	case kindHexMask:
		return new(big.Int).And(e.hexFlags, r.mask).Sign() != 0

	case kindHexBit:
		return e.hexFlags.Bit(int(r.bit)) == 1

	case kindFeatureID:
		_, ok := e.featureIDs[r.id]
		return ok

	case kindModelIn:
		if !e.knownModel {
			return false
		}
		for _, m := range r.models {
			if e.desc.Model == m {
				return true
			}
		}
		return false

	case kindModelNotIn:
		if !e.knownModel {
			return false
		}
		for _, m := range r.models {
			if e.desc.Model == m {
				return false
			}
		}
		return true

	case kindProductTag:
		if !e.knownModel {
			return false
		}
		for _, want := range r.tags {
			for _, have := range e.desc.ProductTags {
				if want == have {
					return true
				}
			}
		}
		return false

	case kindAnyOf:
		for _, sub := range r.subs {
			if e.eval(sub) {
				return true
			}
		}
		return false

	case kindAllOf:
		for _, sub := range r.subs {
			if !e.eval(sub) {
				return false
			}
		}
		return len(r.subs) > 0

	default:
		return false
	}
}
