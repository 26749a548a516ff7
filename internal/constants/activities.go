package constants

// Activity names used for workflow registration and execution.
// Using constants eliminates magic strings and ensures consistency.
const (
	// Contact / farmbase activities
	GetContactsWithLocationActivity = "get_contacts_with_location"
	SaveMessageActivity             = "save_message"
	LogEventSentActivity            = "log_event_sent"

	// Weather activities
	GetWeatherForecastActivity = "get_weather_forecast"
	SummarizeForecastActivity  = "summarize_forecast"

	// Messaging activities
	SendWhatsAppTemplateActivity = "send_whatsapp_template"

	// Pest alert activities
	GetRecentNotesActivity       = "get_recent_notes"
	FindNearbyFarmsActivity      = "find_nearby_farms"
	GenerateAlertMessageActivity = "generate_alert_message"
)

// WhatsApp template names approved on the business account.
const (
	TemplateCropCycleEvent  = "harvesting"
	TemplateWeatherForecast = "weather_forecast"
	TemplatePestAlert       = "crop_pest_alert"
)

// Application error types attached to activity failures.
const (
	ErrorTypeNonRetryable = "NonRetryable"
	ErrorTypeTransient    = "Transient"
)
