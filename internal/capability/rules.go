package capability

import "math/big"

// ruleKind discriminates the predicate variants a Rule can hold.
type ruleKind int

const (
	kindLowBit ruleKind = iota
	kindHighBit
	kindHexMask
	kindHexBit
	kindFeatureID
	kindModelIn
	kindModelNotIn
	kindProductTag
	kindAnyOf
	kindAllOf
)

// Rule is a declarative predicate over a device descriptor. Each feature
// in the rule table binds to exactly one Rule; evaluation is performed
// by a single generic interpreter in engine.go rather than per-feature
// code.
type Rule struct {
	kind   ruleKind
	bit    uint
	mask   *big.Int
	id     int
	models []string
	tags   []string
	subs   []Rule
}

// LowBit tests bit n (0-31) of the lower 32 bits of the 64-bit feature
// bitfield.
func LowBit(n uint) Rule {
	return Rule{kind: kindLowBit, bit: n}
}

// HighBit tests bit n of the feature bitfield right-shifted by 32.
func HighBit(n uint) Rule {
	return Rule{kind: kindHighBit, bit: n}
}

// HexMask tests the hex feature string against a mask, given as a hex
// literal. The feature string parses with its rightmost character as
// the least-significant nibble. The predicate holds when any mask bit
// is set in the parsed value.
//
// The mask is parsed once here, at rule-table construction, so
// evaluation never re-parses it. A malformed literal parses to zero
// and the predicate never holds.
func HexMask(mask string) Rule {
	return Rule{kind: kindHexMask, mask: parseHexFlags(mask)}
}

// HexBit tests a single absolute bit index of the parsed hex feature
// string.
func HexBit(n uint) Rule {
	return Rule{kind: kindHexBit, bit: n}
}

// FeatureID tests membership of an integer id in the descriptor's
// feature-id list.
func FeatureID(id int) Rule {
	return Rule{kind: kindFeatureID, id: id}
}

// ModelIn holds when the device model is in the given whitelist.
// Evaluates false for devices outside the known model/tag domain.
func ModelIn(models ...string) Rule {
	return Rule{kind: kindModelIn, models: models}
}

// ModelNotIn holds when the device model is absent from the given
// blacklist. Evaluates false for devices outside the known model/tag
// domain.
func ModelNotIn(models ...string) Rule {
	return Rule{kind: kindModelNotIn, models: models}
}

// ProductTag holds when the descriptor's hardware tag set intersects
// the given tags. Evaluates false for devices outside the known
// model/tag domain.
func ProductTag(tags ...string) Rule {
	return Rule{kind: kindProductTag, tags: tags}
}

// AnyOf combines rules with OR.
func AnyOf(rules ...Rule) Rule {
	return Rule{kind: kindAnyOf, subs: rules}
}

// AllOf combines rules with AND.
func AllOf(rules ...Rule) Rule {
	return Rule{kind: kindAllOf, subs: rules}
}

// Known model strings referenced by the rule table. Short aliases keep
// the table readable.
const (
	modelS7     = "roborock.vacuum.a15"
	modelS7MaxV = "roborock.vacuum.a27"
	modelS8     = "roborock.vacuum.a51"
	modelS8ProU = "roborock.vacuum.a70"
	modelQRevoM = "roborock.vacuum.a87"
	modelQRevoS = "roborock.vacuum.a104"
	modelQ7Max  = "roborock.vacuum.a38"
	modelS5Max  = "roborock.vacuum.s5e"
	modelS6MaxV = "roborock.vacuum.a10"
	modelS6Pure = "roborock.vacuum.a08"
)

// featureRules binds every declared feature to its rule. The table is
// data: adding a feature means adding a constant in features.go and one
// entry here.
var featureRules = map[Feature]Rule{
	// Cleaning behaviour: low 32 bits of the feature bitfield.
	FeatureCustomMode:        LowBit(2),
	FeatureCustomWaterBox:    LowBit(7),
	FeatureCarpetPressure:    LowBit(12),
	FeatureCleanFinishReason: LowBit(20),
	FeatureCornerCleanMode:   LowBit(26),

	// High 32 bits.
	FeatureCarpetDeepClean: HighBit(1),
	FeatureCleanRouteFast:  HighBit(5),
	FeatureDryingMode:      HighBit(9),
	FeatureOfflineRoutes:   HighBit(14),

	// Hex feature string bits and masks.
	FeatureMopShake:          HexBit(13),
	FeatureSmartMopWash:      HexBit(39),
	FeatureHotWashTowel:      HexMask("8000000000000"),
	FeatureDetergentDispense: HexBit(44),
	FeatureBackWashDock:      AllOf(HexBit(45), ProductTag("wash_dock")),

	// Integer feature-id list.
	FeatureDustCollection:  FeatureID(113),
	FeatureMultiFloorMap:   FeatureID(114),
	FeatureMapSegmentClean: FeatureID(115),
	FeatureLEDStatus:       FeatureID(119),
	FeatureChildLock:       FeatureID(120),
	FeatureFlowLEDSetting:  FeatureID(125),
	FeatureDNDTimer:        FeatureID(111),
	FeatureVoicePack:       FeatureID(112),
	FeatureTimezoneSync:    FeatureID(116),

	// Model- and tag-gated features.
	FeatureVideoMonitor: ModelIn(modelS7MaxV, modelS6MaxV, modelQRevoM),
	FeatureVideoCall:    AllOf(ModelIn(modelS7MaxV, modelQRevoM), HighBit(11)),
	FeaturePetDetection: AnyOf(ModelIn(modelS7MaxV, modelQRevoM), ProductTag("camera_ai")),
	FeatureMatter:       ProductTag("matter"),
	FeatureWiFi5G:       AllOf(ModelNotIn(modelS5Max, modelS6Pure, modelQ7Max, modelS7), ProductTag("dual_band")),

	// Map presentation: mixed gating. Carpet display needs the bitfield
	// flag; furniture and 3D maps only exist on lidar+camera hardware.
	FeatureMapCarpetShow:  LowBit(16),
	FeatureFurnitureShow:  AnyOf(ModelIn(modelS8, modelS8ProU, modelQRevoM, modelQRevoS), ProductTag("furniture_map")),
	FeatureObstacleAvoid:  AnyOf(ProductTag("structured_light"), ModelIn(modelS7MaxV, modelS8ProU)),
	FeatureThreeDMap:      AllOf(HighBit(19), ProductTag("lidar_3d")),

	// Smart wash parameters arrived with the wash docks.
	FeatureDockWaterRefill: AnyOf(ProductTag("wash_dock"), ModelIn(modelS8ProU, modelQRevoM, modelQRevoS)),
}

// modelDomain and tagDomain index every model and tag referenced by the
// rule table. A device whose model and tags are entirely outside these
// domains is treated as unknown hardware: model/tag-gated predicates
// evaluate false while bitfield predicates still apply.
var (
	modelDomain = buildModelDomain()
	tagDomain   = buildTagDomain()
)

func buildModelDomain() map[string]struct{} {
	domain := make(map[string]struct{})
	for _, rule := range featureRules {
		collectModels(rule, domain)
	}
	return domain
}

func collectModels(r Rule, domain map[string]struct{}) {
	for _, m := range r.models {
		domain[m] = struct{}{}
	}
	for _, sub := range r.subs {
		collectModels(sub, domain)
	}
}

func buildTagDomain() map[string]struct{} {
	domain := make(map[string]struct{})
	for _, rule := range featureRules {
		collectTags(rule, domain)
	}
	return domain
}

func collectTags(r Rule, domain map[string]struct{}) {
	for _, tag := range r.tags {
		domain[tag] = struct{}{}
	}
	for _, sub := range r.subs {
		collectTags(sub, domain)
	}
}
