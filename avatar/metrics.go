package avatar

import "avatarsync.dev/client/metrics"

const metricsComponent = "avatar_cache"

// Download results.
const (
	resultOK       = "ok"
	resultNotFound = "not_found"
	resultStalled  = "stalled"
	resultError    = "error"
)

// CacheHitCounterTotal counts resolutions answered from a terminal entry.
var CacheHitCounterTotal = metrics.MustRegisterCounter(
	metricsComponent,
	"cache_hit",
	"Number of times an avatar was resolved from the cache.",
)

// CacheMissCounterTotal counts resolutions that started a load or download.
var CacheMissCounterTotal = metrics.MustRegisterCounter(
	metricsComponent,
	"cache_miss",
	"Number of times resolving an avatar started a load or a download.",
)

// CacheShareCounterTotal counts resolutions that subscribed to work already in flight.
var CacheShareCounterTotal = metrics.MustRegisterCounter(
	metricsComponent,
	"cache_share",
	"Number of times a resolution waited on a load or download already in flight.",
)

// InProgressGauge tracks the number of hashes currently loading or downloading.
var InProgressGauge = metrics.MustRegisterGauge(
	metricsComponent,
	"in_progress",
	"Number of avatars currently being loaded or downloaded.",
)

// DownloadCounterTotal counts finished downloads.
// [result].
var DownloadCounterTotal = metrics.MustRegisterCounterVec(
	metricsComponent,
	"downloads_total",
	"Number of finished avatar downloads by result.",
	"result",
)

// DownloadDurationHistogram tracks lookup plus download time.
var DownloadDurationHistogram = metrics.MustRegisterHistogram(
	metricsComponent,
	"download_duration_seconds",
	"Duration of avatar lookups and downloads in seconds.",
	[]float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
)
