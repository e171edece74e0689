package inventory

import (
	"testing"
	"time"
)

func testDescriptor() Descriptor {
	return Descriptor{
		DUID:            "abc123",
		Name:            "Upstairs Vacuum",
		Model:           "roborock.vacuum.a15",
		FirmwareVersion: "02.15.76",
		FeatureFlags:    636084721975295,
		FeatureFlagsHex: "0000000000002000",
		FeatureIDs:      []int{111, 112, 119},
		ProductTags:     []string{"mop", "dock"},
		PublishTopic:    "rr/m/i/u1/k1/abc123",
		SubscribeTopic:  "rr/m/o/u1/k1/abc123",
	}
}

func TestDescriptorEqual(t *testing.T) {
	a := testDescriptor()
	b := testDescriptor()

	if !a.Equal(&b) {
		t.Error("identical descriptors should be equal")
	}

	b.FirmwareVersion = "02.16.00"
	if a.Equal(&b) {
		t.Error("descriptors with different firmware should not be equal")
	}

	c := testDescriptor()
	c.FeatureIDs = []int{111}
	if a.Equal(&c) {
		t.Error("descriptors with different feature ids should not be equal")
	}

	if a.Equal(nil) {
		t.Error("descriptor should not equal nil")
	}
}

func TestDescriptorDeepCopy(t *testing.T) {
	orig := testDescriptor()
	cpy := orig.DeepCopy()

	if !orig.Equal(cpy) {
		t.Fatal("copy should equal original")
	}

	// Mutating the copy's slices must not affect the original.
	cpy.FeatureIDs[0] = 999
	cpy.ProductTags[0] = "changed"

	if orig.FeatureIDs[0] != 111 {
		t.Error("original FeatureIDs mutated through copy")
	}
	if orig.ProductTags[0] != "mop" {
		t.Error("original ProductTags mutated through copy")
	}
}

func TestSnapshotByDUID(t *testing.T) {
	snap := Snapshot{
		FetchedAt: time.Now(),
		Devices:   []Descriptor{testDescriptor()},
	}

	if d := snap.ByDUID("abc123"); d == nil {
		t.Error("ByDUID should find existing device")
	}
	if d := snap.ByDUID("missing"); d != nil {
		t.Error("ByDUID should return nil for unknown device")
	}
}

func TestSnapshotDeepCopy(t *testing.T) {
	snap := Snapshot{
		FetchedAt: time.Now(),
		Devices:   []Descriptor{testDescriptor()},
	}

	cpy := snap.DeepCopy()
	cpy.Devices[0].Name = "Renamed"

	if snap.Devices[0].Name != "Upstairs Vacuum" {
		t.Error("original snapshot mutated through copy")
	}
}
