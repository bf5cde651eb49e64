package manifest

// Hazard is a tag a device attaches to an action to declare a risk the
// caller must consciously accept before the action is dispatched.
//
// The catalogue below mirrors the tags devices in the field actually
// advertise. Tags outside the catalogue are carried through untouched so
// a newer device is never blocked by an older gateway; they simply fail
// Known() and surface through Manifest.UnknownHazards().
type Hazard string

// HazardCategory groups hazards by the kind of risk they describe.
type HazardCategory string

// Hazard categories.
const (
	CategorySafety    HazardCategory = "safety"
	CategoryPrivacy   HazardCategory = "privacy"
	CategoryFinancial HazardCategory = "financial"
)

// Safety hazards.
const (
	HazardAirPoisoning               Hazard = "air_poisoning"
	HazardAsphyxia                   Hazard = "asphyxia"
	HazardExplosion                  Hazard = "explosion"
	HazardFireHazard                 Hazard = "fire_hazard"
	HazardPowerOutage                Hazard = "power_outage"
	HazardPowerSurge                 Hazard = "power_surge"
	HazardSpoiledFood                Hazard = "spoiled_food"
	HazardUnauthorisedPhysicalAccess Hazard = "unauthorised_physical_access"
	HazardWaterFlooding              Hazard = "water_flooding"
)

// Privacy hazards.
const (
	HazardAudioVideoDisplay        Hazard = "audio_video_display"
	HazardAudioVideoRecordAndStore Hazard = "audio_video_record_and_store"
	HazardLogEnergyConsumption     Hazard = "log_energy_consumption"
	HazardLogUsageTime             Hazard = "log_usage_time"
	HazardRecordIssuedCommands     Hazard = "record_issued_commands"
	HazardRecordUserPreferences    Hazard = "record_user_preferences"
	HazardTakeDeviceScreenshots    Hazard = "take_device_screenshots"
	HazardTakePictures             Hazard = "take_pictures"
	HazardVideoDisplay             Hazard = "video_display"
	HazardVideoRecordAndStore      Hazard = "video_record_and_store"
)

// Financial hazards.
const (
	HazardElectricEnergyConsumption Hazard = "electric_energy_consumption"
	HazardGasConsumption            Hazard = "gas_consumption"
	HazardPaySubscriptionFee        Hazard = "pay_subscription_fee"
	HazardWaterConsumption          Hazard = "water_consumption"
)

// hazardCategories maps every catalogued hazard to its category.
var hazardCategories = map[Hazard]HazardCategory{
	HazardAirPoisoning:               CategorySafety,
	HazardAsphyxia:                   CategorySafety,
	HazardExplosion:                  CategorySafety,
	HazardFireHazard:                 CategorySafety,
	HazardPowerOutage:                CategorySafety,
	HazardPowerSurge:                 CategorySafety,
	HazardSpoiledFood:                CategorySafety,
	HazardUnauthorisedPhysicalAccess: CategorySafety,
	HazardWaterFlooding:              CategorySafety,

	HazardAudioVideoDisplay:        CategoryPrivacy,
	HazardAudioVideoRecordAndStore: CategoryPrivacy,
	HazardLogEnergyConsumption:     CategoryPrivacy,
	HazardLogUsageTime:             CategoryPrivacy,
	HazardRecordIssuedCommands:     CategoryPrivacy,
	HazardRecordUserPreferences:    CategoryPrivacy,
	HazardTakeDeviceScreenshots:    CategoryPrivacy,
	HazardTakePictures:             CategoryPrivacy,
	HazardVideoDisplay:             CategoryPrivacy,
	HazardVideoRecordAndStore:      CategoryPrivacy,

	HazardElectricEnergyConsumption: CategoryFinancial,
	HazardGasConsumption:            CategoryFinancial,
	HazardPaySubscriptionFee:        CategoryFinancial,
	HazardWaterConsumption:          CategoryFinancial,
}

// Known reports whether the hazard is part of the catalogue.
func (h Hazard) Known() bool {
	_, ok := hazardCategories[h]
	return ok
}

// Category returns the hazard's category, or empty string for hazards
// outside the catalogue.
func (h Hazard) Category() HazardCategory {
	return hazardCategories[h]
}

// AllHazards returns all catalogued hazard values.
func AllHazards() []Hazard {
	return []Hazard{
		// Safety
		HazardAirPoisoning, HazardAsphyxia, HazardExplosion, HazardFireHazard,
		HazardPowerOutage, HazardPowerSurge, HazardSpoiledFood,
		HazardUnauthorisedPhysicalAccess, HazardWaterFlooding,
		// Privacy
		HazardAudioVideoDisplay, HazardAudioVideoRecordAndStore,
		HazardLogEnergyConsumption, HazardLogUsageTime,
		HazardRecordIssuedCommands, HazardRecordUserPreferences,
		HazardTakeDeviceScreenshots, HazardTakePictures,
		HazardVideoDisplay, HazardVideoRecordAndStore,
		// Financial
		HazardElectricEnergyConsumption, HazardGasConsumption,
		HazardPaySubscriptionFee, HazardWaterConsumption,
	}
}
