package capability

import (
	"testing"

	"github.com/vacmesh/vacmesh-core/internal/inventory"
)

func qrevoDescriptor() *inventory.Descriptor {
	return &inventory.Descriptor{
		DUID:            "abc123",
		Name:            "QREVO MaxV",
		Model:           modelQRevoM,
		FirmwareVersion: "02.15.76",
		FeatureFlags:    4499197267967999,
		FeatureFlagsHex: "508A977F7EFEFFFF",
		FeatureIDs:      []int{111, 112, 113, 114, 115, 116, 117, 118, 119, 120, 121, 122, 123, 124, 125},
		ProductTags:     []string{"wash_dock", "structured_light"},
	}
}

func TestComputeDeterminism(t *testing.T) {
	desc := qrevoDescriptor()

	first := Compute(desc, nil)
	for range 10 {
		if !Compute(desc, nil).Equal(first) {
			t.Fatal("Compute is not deterministic for identical inputs")
		}
	}
}

func TestLowBitfieldDecode(t *testing.T) {
	// Binary 101: bit 0 set, bit 1 clear, bit 2 set.
	desc := &inventory.Descriptor{FeatureFlags: 5}
	env := newEvalEnv(desc)

	tests := []struct {
		bit  uint
		want bool
	}{
		{0, true},
		{1, false},
		{2, true},
		{3, false},
	}
	for _, tt := range tests {
		if got := env.eval(LowBit(tt.bit)); got != tt.want {
			t.Errorf("LowBit(%d) on value 5 = %v, want %v", tt.bit, got, tt.want)
		}
	}
}

func TestHighBitfieldDecode(t *testing.T) {
	desc := &inventory.Descriptor{FeatureFlags: 1 << 33}
	env := newEvalEnv(desc)

	if !env.eval(HighBit(1)) {
		t.Error("HighBit(1) should be set for value 1<<33")
	}
	if env.eval(HighBit(0)) {
		t.Error("HighBit(0) should be clear for value 1<<33")
	}
	if env.eval(LowBit(1)) {
		t.Error("LowBit(1) should be clear for value 1<<33")
	}
}

func TestHexStringParse(t *testing.T) {
	desc := &inventory.Descriptor{FeatureFlagsHex: "FF"}
	env := newEvalEnv(desc)

	for bit := uint(0); bit < 8; bit++ {
		if !env.eval(HexBit(bit)) {
			t.Errorf("HexBit(%d) on %q = false, want true", bit, "FF")
		}
	}
	if env.eval(HexBit(8)) {
		t.Error("HexBit(8) on \"FF\" = true, want false")
	}
}

func TestHexStringMalformed(t *testing.T) {
	tests := []string{"", "not-hex", "0xZZ", "  "}
	for _, s := range tests {
		desc := &inventory.Descriptor{FeatureFlagsHex: s}
		env := newEvalEnv(desc)
		if env.eval(HexBit(0)) || env.eval(HexMask("FFFFFFFF")) {
			t.Errorf("malformed hex %q should evaluate all hex predicates false", s)
		}
	}
}

func TestHexMask(t *testing.T) {
	// "2000" sets bit 13 only.
	desc := &inventory.Descriptor{FeatureFlagsHex: "0000000000002000"}
	env := newEvalEnv(desc)

	if !env.eval(HexMask("2000")) {
		t.Error("HexMask(2000) should match value 0x2000")
	}
	if env.eval(HexMask("4000")) {
		t.Error("HexMask(4000) should not match value 0x2000")
	}
	if !env.eval(HexBit(13)) {
		t.Error("HexBit(13) should be set in 0x2000")
	}
}

func TestHexMaskPrecomputed(t *testing.T) {
	// The mask parses once at rule construction; repeated evaluation of
	// the same Rule value against different devices must stay correct.
	rule := HexMask("2000")

	matching := newEvalEnv(&inventory.Descriptor{FeatureFlagsHex: "2000"})
	other := newEvalEnv(&inventory.Descriptor{FeatureFlagsHex: "4000"})
	for i := 0; i < 3; i++ {
		if !matching.eval(rule) {
			t.Fatal("HexMask(2000) should match 0x2000 on every evaluation")
		}
		if other.eval(rule) {
			t.Fatal("HexMask(2000) should never match 0x4000")
		}
	}

	// A malformed mask literal parses to zero and can never hold.
	bad := HexMask("not-hex")
	if matching.eval(bad) {
		t.Error("malformed mask literal should never match")
	}
}

func TestFeatureIDMembership(t *testing.T) {
	desc := &inventory.Descriptor{FeatureIDs: []int{111, 119}}
	env := newEvalEnv(desc)

	if !env.eval(FeatureID(119)) {
		t.Error("FeatureID(119) should match")
	}
	if env.eval(FeatureID(121)) {
		t.Error("FeatureID(121) should not match")
	}
}

func TestModelRulesKnownHardware(t *testing.T) {
	desc := qrevoDescriptor()
	env := newEvalEnv(desc)

	if !env.eval(ModelIn(modelQRevoM)) {
		t.Error("ModelIn should match the device's own model")
	}
	if env.eval(ModelIn(modelS7)) {
		t.Error("ModelIn should not match a different model")
	}
	if !env.eval(ModelNotIn(modelS7)) {
		t.Error("ModelNotIn should hold for a model outside the blacklist")
	}
	if env.eval(ModelNotIn(modelQRevoM)) {
		t.Error("ModelNotIn should fail for a blacklisted model")
	}
	if !env.eval(ProductTag("wash_dock")) {
		t.Error("ProductTag should match an owned tag")
	}
	if env.eval(ProductTag("matter")) {
		t.Error("ProductTag should not match an absent tag")
	}
}

func TestUnknownHardwareFallback(t *testing.T) {
	// Model and tags entirely outside the rule domain: every model/tag
	// gated predicate is false, bitfield predicates still apply.
	desc := &inventory.Descriptor{
		DUID:         "mystery",
		Model:        "roborock.vacuum.zz99",
		ProductTags:  []string{"unheard_of"},
		FeatureFlags: 1 << 2, // custom_mode bit
		FeatureIDs:   []int{119},
	}

	set := Compute(desc, nil)

	if !set.Supported(FeatureCustomMode) {
		t.Error("bitfield-gated feature should evaluate normally for unknown hardware")
	}
	if !set.Supported(FeatureLEDStatus) {
		t.Error("feature-id gated feature should evaluate normally for unknown hardware")
	}
	if set.Supported(FeatureVideoMonitor) || set.Supported(FeatureMatter) || set.Supported(FeatureWiFi5G) {
		t.Error("model/tag-gated features must be false for unknown hardware")
	}

	env := newEvalEnv(desc)
	if env.eval(ModelNotIn(modelS7)) {
		t.Error("ModelNotIn must be false for unknown hardware, not default-true")
	}
}

func TestKnownHardwareViaTagOnly(t *testing.T) {
	// Unknown model but a tag inside the rule domain makes the device
	// known hardware.
	desc := &inventory.Descriptor{
		Model:       "roborock.vacuum.zz99",
		ProductTags: []string{"matter"},
	}

	set := Compute(desc, nil)
	if !set.Supported(FeatureMatter) {
		t.Error("tag-gated feature should hold when the tag is in the rule domain")
	}
}

func TestCombinators(t *testing.T) {
	desc := qrevoDescriptor()
	env := newEvalEnv(desc)

	if !env.eval(AnyOf(FeatureID(999), ProductTag("wash_dock"))) {
		t.Error("AnyOf should hold when one branch holds")
	}
	if env.eval(AnyOf(FeatureID(999), ProductTag("matter"))) {
		t.Error("AnyOf should fail when no branch holds")
	}
	if !env.eval(AllOf(FeatureID(119), ProductTag("wash_dock"))) {
		t.Error("AllOf should hold when all branches hold")
	}
	if env.eval(AllOf(FeatureID(119), ProductTag("matter"))) {
		t.Error("AllOf should fail when one branch fails")
	}
	if env.eval(AllOf()) {
		t.Error("empty AllOf should evaluate false")
	}
}

func TestComputeQRevoFeatures(t *testing.T) {
	set := Compute(qrevoDescriptor(), nil)

	if !set.Supported(FeatureDustCollection) {
		t.Error("QREVO should support dust collection (feature id 113)")
	}
	if !set.Supported(FeatureLEDStatus) {
		t.Error("QREVO should support led status (feature id 119)")
	}
	if !set.Supported(FeatureObstacleAvoid) {
		t.Error("QREVO should support obstacle avoidance (structured_light tag)")
	}
	if set.Supported(FeatureMatter) {
		t.Error("QREVO without matter tag should not support matter")
	}
}

func TestFeatureSetEqual(t *testing.T) {
	a := FeatureSet{FeatureMatter: true, FeatureChildLock: false}
	b := FeatureSet{FeatureMatter: true}

	// Absent key and explicit false are equivalent.
	if !a.Equal(b) {
		t.Error("sets with same effective values should be equal")
	}

	c := FeatureSet{FeatureMatter: false}
	if a.Equal(c) {
		t.Error("sets differing on an enabled feature should not be equal")
	}
}

func TestEveryFeatureHasARule(t *testing.T) {
	for _, f := range allFeatures() {
		if _, ok := featureRules[f]; !ok {
			t.Errorf("feature %q has no rule bound", f)
		}
	}
	for f := range featureRules {
		found := false
		for _, declared := range allFeatures() {
			if f == declared {
				found = true
				break
			}
		}
		if !found {
			t.Errorf("rule table references undeclared feature %q", f)
		}
	}
}
