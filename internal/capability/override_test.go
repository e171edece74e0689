package capability

import (
	"testing"

	"github.com/vacmesh/vacmesh-core/internal/inventory"
)

func TestOverrideEnablesFeature(t *testing.T) {
	desc := &inventory.Descriptor{
		DUID:            "abc123",
		Model:           "roborock.vacuum.zz99",
		FirmwareVersion: "02.15.76",
	}

	static := Compute(desc, nil)
	if static.Supported(FeatureHotWashTowel) {
		t.Fatal("precondition: hot wash towel should be statically false")
	}

	ov := &Override{
		FirmwareVersion: "02.15.76",
		Features:        map[Feature]bool{FeatureHotWashTowel: true},
	}

	merged := Compute(desc, ov)
	if !merged.Supported(FeatureHotWashTowel) {
		t.Error("override with matching firmware should enable the feature")
	}
}

func TestOverrideCannotDisable(t *testing.T) {
	desc := &inventory.Descriptor{
		DUID:            "abc123",
		FirmwareVersion: "02.15.76",
		FeatureIDs:      []int{119}, // led status statically true
	}

	ov := &Override{
		FirmwareVersion: "02.15.76",
		Features:        map[Feature]bool{FeatureLEDStatus: false},
	}

	merged := Compute(desc, ov)
	if !merged.Supported(FeatureLEDStatus) {
		t.Error("override must never force a statically-true feature to false")
	}
}

func TestOverrideStaleFirmwareIgnored(t *testing.T) {
	desc := &inventory.Descriptor{
		DUID:            "abc123",
		FirmwareVersion: "02.16.00",
	}

	ov := &Override{
		FirmwareVersion: "02.15.76", // probe ran against older firmware
		Features:        map[Feature]bool{FeatureHotWashTowel: true},
	}

	merged := Compute(desc, ov)
	if merged.Supported(FeatureHotWashTowel) {
		t.Error("override for a stale firmware version must be ignored entirely")
	}
}

func TestNilOverride(t *testing.T) {
	desc := &inventory.Descriptor{DUID: "abc123"}

	// Must not panic and must equal the static computation.
	if !Compute(desc, nil).Equal(Compute(desc, &Override{})) {
		// An empty override has no firmware match and no features.
		t.Error("nil override and empty override should produce identical sets")
	}
}
