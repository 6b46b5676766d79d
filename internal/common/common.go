package common

// Shared constants to enforce DRY and avoid magic strings/numbers.

// HTTP headers and content types
const (
	HeaderAPIKey        = "X-API-Key" // #nosec G101 - header name constant, not a credential
	HeaderPrefer        = "Prefer"
	HeaderAuthorization = "Authorization"
	HeaderContentType   = "Content-Type"
	HeaderWPTotal       = "X-WP-Total"
	PreferRespondAsync  = "respond-async"
	ContentTypeJSON     = "application/json"
)

// API paths
const (
	PathHealthz = "/healthz"
	PathRuns    = "/v1/runs"
)

// Defaults and limits
const (
	DefaultQueueCapacity = 128
	DefaultWorkerCount   = 1
	SQLiteBusyTimeoutMS  = 5000
	DefaultBatchSize     = 20
	DefaultPageSize      = 100
)

// MIME types
const (
	MimeImagePNG  = "image/png"
	MimeImageJPEG = "image/jpeg"
	MimeImageJPG  = "image/jpg"
	MimeImageWebP = "image/webp"
)

// PlacementMarker is the sentinel spliced into post content where the generated image goes.
const PlacementMarker = "<!-- postpainter:image -->"

// Callback status strings
const (
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)
