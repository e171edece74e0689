package capability

import "github.com/vacmesh/vacmesh-core/internal/inventory"

// Override records features discovered only via a live probe, for
// devices whose static flag encoding is insufficient. Overrides are
// persisted keyed by DUID and scoped to the firmware version the probe
// ran against: a firmware change invalidates the probe result.
type Override struct {
	// FirmwareVersion is the firmware the probe observed. The override
	// is discarded entirely once the descriptor reports a different
	// version.
	FirmwareVersion string `json:"firmware_version"`

	// Features holds the probed flags. Only true values have any
	// effect; an override never forces a statically-true feature off.
	Features map[Feature]bool `json:"features"`
}

// appliesTo reports whether the override is valid for the descriptor's
// current firmware. A nil override never applies.
func (o *Override) appliesTo(desc *inventory.Descriptor) bool {
	return o != nil && o.FirmwareVersion == desc.FirmwareVersion
}
