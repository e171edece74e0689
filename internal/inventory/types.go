package inventory

import (
	"slices"
	"time"
)

// Descriptor holds the static, capability-relevant fields of a single
// device as reported by the account API or the local cache.
//
// Descriptors are matched across snapshots by DUID. A descriptor is
// immutable by convention: a firmware upgrade produces a new descriptor,
// never an in-place mutation.
type Descriptor struct {
	// DUID is the stable unique identifier of the physical device.
	DUID string `json:"duid"`

	// Name is the user-assigned display name.
	Name string `json:"name"`

	// Model is the vendor model string, e.g. "roborock.vacuum.a87".
	Model string `json:"model"`

	// FirmwareVersion is the currently installed firmware.
	FirmwareVersion string `json:"firmware_version"`

	// FeatureFlags is the 64-bit feature bitfield reported by the device.
	FeatureFlags uint64 `json:"feature_flags"`

	// FeatureFlagsHex is the variable-length hexadecimal feature string.
	// The rightmost character is the least-significant nibble.
	FeatureFlagsHex string `json:"feature_flags_hex"`

	// FeatureIDs is the integer feature-id list reported by the device.
	FeatureIDs []int `json:"feature_ids"`

	// ProductTags is the set of hardware product-feature tags.
	ProductTags []string `json:"product_tags"`

	// PublishTopic is the MQTT topic commands are sent on.
	PublishTopic string `json:"publish_topic"`

	// SubscribeTopic is the MQTT topic responses arrive on.
	SubscribeTopic string `json:"subscribe_topic"`

	// LocalAddr is the optional host:port of the device on the local
	// network. When set, the local transport is preferred over cloud.
	LocalAddr string `json:"local_addr,omitempty"`
}

// Equal reports whether two descriptors carry identical static fields.
// Used by reconciliation to detect changed devices (e.g. firmware upgrade).
func (d *Descriptor) Equal(other *Descriptor) bool {
	if other == nil {
		return false
	}
	return d.DUID == other.DUID &&
		d.Name == other.Name &&
		d.Model == other.Model &&
		d.FirmwareVersion == other.FirmwareVersion &&
		d.FeatureFlags == other.FeatureFlags &&
		d.FeatureFlagsHex == other.FeatureFlagsHex &&
		slices.Equal(d.FeatureIDs, other.FeatureIDs) &&
		slices.Equal(d.ProductTags, other.ProductTags) &&
		d.PublishTopic == other.PublishTopic &&
		d.SubscribeTopic == other.SubscribeTopic &&
		d.LocalAddr == other.LocalAddr
}

// DeepCopy creates a complete independent copy of the Descriptor.
// Slice fields are cloned so modifications to the copy do not affect
// the original.
func (d *Descriptor) DeepCopy() *Descriptor {
	if d == nil {
		return nil
	}
	cpy := *d
	cpy.FeatureIDs = slices.Clone(d.FeatureIDs)
	cpy.ProductTags = slices.Clone(d.ProductTags)
	return &cpy
}

// Snapshot is an immutable, timestamped collection of device descriptors.
// Replacing a snapshot never mutates device identity; consumers match
// descriptors across snapshots by DUID.
type Snapshot struct {
	// FetchedAt records when the snapshot was produced.
	FetchedAt time.Time `json:"fetched_at"`

	// Devices is the descriptor list. Treat as read-only.
	Devices []Descriptor `json:"devices"`
}

// ByDUID returns the descriptor with the given DUID, or nil if absent.
func (s *Snapshot) ByDUID(duid string) *Descriptor {
	for i := range s.Devices {
		if s.Devices[i].DUID == duid {
			return &s.Devices[i]
		}
	}
	return nil
}

// DeepCopy creates a complete independent copy of the Snapshot.
func (s *Snapshot) DeepCopy() *Snapshot {
	if s == nil {
		return nil
	}
	cpy := Snapshot{
		FetchedAt: s.FetchedAt,
		Devices:   make([]Descriptor, len(s.Devices)),
	}
	for i := range s.Devices {
		cpy.Devices[i] = *s.Devices[i].DeepCopy()
	}
	return &cpy
}
