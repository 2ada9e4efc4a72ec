package config

// Store keys for persisted license state. The names match the option names
// used by the original theme installs so existing data survives a migration.
const (
	KeyLicenseKey        = "getbowtied_theme_license_key"
	KeyThemeID           = "getbowtied_theme_license_theme_id"
	KeyLicenseInfo       = "getbowtied_theme_license_info"
	KeyLastVerified      = "getbowtied_theme_license_last_verified"
	KeySupportExpiration = "getbowtied_theme_license_support_expiration_date"
	KeySpecialLicense    = "gbt_special_license_data"
	KeyBuyerReview       = "gbt_buyer_review_data"
)
