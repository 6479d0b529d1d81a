package commons

const (
	MaxMemoryMBDefault       float64 = 256
	MaxOpenFilesDefault      int     = 100
	AutoTileDefault          int     = 0
	AutoMipDefault           bool    = false
	StatsLevelDefault        int     = 1
	ThreadInfoTimeoutDefault int     = 30 * 60 // 30 minutes

	LogFilePathPrefixDefault string = "/tmp/tilecache"

	ProfileServicePortDefault     int = 12031
	PrometheusExporterPortDefault int = 0
)
