package capability

import "maps"

// Feature identifies a single normalized device capability.
//
// The set of features is closed: every feature is declared here and
// bound to exactly one rule in the rule table. Consumers never inspect
// raw flag encodings; they ask a FeatureSet.
type Feature string

// Cleaning behaviour features.
const (
	FeatureCustomMode        Feature = "custom_mode"
	FeatureCustomWaterBox    Feature = "custom_water_box"
	FeatureCarpetPressure    Feature = "carpet_pressure"
	FeatureCarpetDeepClean   Feature = "carpet_deep_clean"
	FeatureCleanRouteFast    Feature = "clean_route_fast"
	FeatureCleanFinishReason Feature = "clean_finish_reason"
	FeatureCornerCleanMode   Feature = "corner_clean_mode"
)

// Mop and dock features.
const (
	FeatureMopShake          Feature = "mop_shake"
	FeatureSmartMopWash      Feature = "smart_mop_wash"
	FeatureHotWashTowel      Feature = "hot_wash_towel"
	FeatureDustCollection    Feature = "dust_collection"
	FeatureDryingMode        Feature = "drying_mode"
	FeatureBackWashDock      Feature = "back_wash_dock"
	FeatureDockWaterRefill   Feature = "dock_water_refill"
	FeatureDetergentDispense Feature = "detergent_dispense"
)

// Map and navigation features.
const (
	FeatureMultiFloorMap   Feature = "multi_floor_map"
	FeatureMapSegmentClean Feature = "map_segment_clean"
	FeatureMapCarpetShow   Feature = "map_carpet_show"
	FeatureFurnitureShow   Feature = "furniture_show"
	FeatureObstacleAvoid   Feature = "obstacle_avoid"
	FeatureThreeDMap       Feature = "three_d_map"
)

// Device control and status features.
const (
	FeatureLEDStatus      Feature = "led_status"
	FeatureChildLock      Feature = "child_lock"
	FeatureFlowLEDSetting Feature = "flow_led_setting"
	FeatureDNDTimer       Feature = "dnd_timer"
	FeatureVoicePack      Feature = "voice_pack"
	FeatureTimezoneSync   Feature = "timezone_sync"
)

// Camera and connectivity features.
const (
	FeatureVideoMonitor  Feature = "video_monitor"
	FeatureVideoCall     Feature = "video_call"
	FeaturePetDetection  Feature = "pet_detection"
	FeatureMatter        Feature = "matter"
	FeatureWiFi5G        Feature = "wifi_5g"
	FeatureOfflineRoutes Feature = "offline_routes"
)

// FeatureSet is a normalized mapping of features to supported flags,
// computed from a device descriptor plus an optional override.
// Immutable once produced: recomputation replaces the whole set.
type FeatureSet map[Feature]bool

// Supported reports whether the feature is present and enabled.
// Missing features read as false.
func (fs FeatureSet) Supported(f Feature) bool {
	return fs[f]
}

// Equal reports whether two feature sets enable exactly the same features.
// Sets are compared by effective value, so an absent key and an explicit
// false are equivalent.
func (fs FeatureSet) Equal(other FeatureSet) bool {
	for f, v := range fs {
		if v != other[f] {
			return false
		}
	}
	for f, v := range other {
		if v != fs[f] {
			return false
		}
	}
	return true
}

// Clone returns an independent copy of the set.
func (fs FeatureSet) Clone() FeatureSet {
	if fs == nil {
		return nil
	}
	return maps.Clone(fs)
}

// SupportedList returns the names of all enabled features, for logging
// and diagnostics.
func (fs FeatureSet) SupportedList() []Feature {
	var out []Feature
	for _, f := range allFeatures() {
		if fs[f] {
			out = append(out, f)
		}
	}
	return out
}

// allFeatures returns every declared feature in stable order.
func allFeatures() []Feature {
	return []Feature{
		FeatureCustomMode, FeatureCustomWaterBox, FeatureCarpetPressure,
		FeatureCarpetDeepClean, FeatureCleanRouteFast, FeatureCleanFinishReason,
		FeatureCornerCleanMode,
		FeatureMopShake, FeatureSmartMopWash, FeatureHotWashTowel,
		FeatureDustCollection, FeatureDryingMode, FeatureBackWashDock,
		FeatureDockWaterRefill, FeatureDetergentDispense,
		FeatureMultiFloorMap, FeatureMapSegmentClean, FeatureMapCarpetShow,
		FeatureFurnitureShow, FeatureObstacleAvoid, FeatureThreeDMap,
		FeatureLEDStatus, FeatureChildLock, FeatureFlowLEDSetting,
		FeatureDNDTimer, FeatureVoicePack, FeatureTimezoneSync,
		FeatureVideoMonitor, FeatureVideoCall, FeaturePetDetection,
		FeatureMatter, FeatureWiFi5G, FeatureOfflineRoutes,
	}
}
