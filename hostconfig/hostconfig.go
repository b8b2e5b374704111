// Package hostconfig derives the concurrency knobs described in spec §5
// from the host's logical core count, following the env-override-then-
// clamp pattern used for ORIZON_MAX_CONCURRENCY in the package manager
// this module's resolver is grounded on.
package hostconfig

import (
	"os"
	"runtime"
	"strconv"
)

// Tuning holds the host-capability-derived concurrency limits consulted
// by the graph resolver, the downloader, and the registry client.
type Tuning struct {
	// ParallelDownloads bounds simultaneous tarball fetches.
	ParallelDownloads int
	// ParallelResolutions bounds simultaneous graph-resolver recursions.
	ParallelResolutions int
	// MaxNetworkRequests bounds simultaneous outbound registry requests.
	MaxNetworkRequests int
	// DependencyBatchSize is the chunk width the downloader issues GETs in.
	DependencyBatchSize int
}

// Derive computes Tuning once at process start. Each field honors an
// environment override (clamped to the same bounds as the computed
// default) so operators can tune a misbehaving host without a rebuild.
func Derive() Tuning {
	cores := runtime.GOMAXPROCS(0)
	return Tuning{
		ParallelDownloads:   envOrClamp("PACM_PARALLEL_DOWNLOADS", 4*cores, 8, 32),
		ParallelResolutions: envOrClamp("PACM_PARALLEL_RESOLUTIONS", 6*cores, 12, 48),
		MaxNetworkRequests:  envOrClamp("PACM_MAX_NETWORK_REQUESTS", 8*cores, 16, 64),
		DependencyBatchSize: envOrClamp("PACM_DEPENDENCY_BATCH_SIZE", 2*cores, 4, 16),
	}
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func envOrClamp(env string, computed, lo, hi int) int {
	if v := os.Getenv(env); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return clamp(n, lo, hi)
		}
	}
	return clamp(computed, lo, hi)
}
