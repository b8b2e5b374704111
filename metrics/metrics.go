// Package metrics wires the installer's observability counters
// (SPEC_FULL.md §11), adapted from the teacher's download/upload
// counters (metrics/metrics.go) into cache-hit, download, link, and
// store-growth counters for the install pipeline.
package metrics

import (
	"context"
	"fmt"
	"net/http"

	promclient "github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// Metrics holds the counters recorded across one or more installer
// invocations in a process.
type Metrics struct {
	CacheHitsTotal      metric.Int64Counter
	CacheMissesTotal    metric.Int64Counter
	DownloadsTotal      metric.Int64Counter
	DownloadedBytes     metric.Int64Counter
	LinkOperationsTotal metric.Int64Counter
	StoreBytesWritten   metric.Int64Counter
}

// New creates a prometheus-backed Metrics, registering it as the
// process's global OpenTelemetry meter provider, matching the teacher's
// metrics.New shape.
func New() (m Metrics, err error) {
	exporter, err := prometheus.New()
	if err != nil {
		return Metrics{}, fmt.Errorf("failed to create prometheus exporter: %w", err)
	}

	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	otel.SetMeterProvider(provider)

	meter := provider.Meter("github.com/pacmjs/pacm")

	if m.CacheHitsTotal, err = meter.Int64Counter("cache_hits_total", metric.WithDescription("Packages satisfied from the content-addressed store without a registry fetch")); err != nil {
		return Metrics{}, fmt.Errorf("failed to create cache_hits_total counter: %w", err)
	}
	if m.CacheMissesTotal, err = meter.Int64Counter("cache_misses_total", metric.WithDescription("Packages not found in the cache index, requiring download")); err != nil {
		return Metrics{}, fmt.Errorf("failed to create cache_misses_total counter: %w", err)
	}
	if m.DownloadsTotal, err = meter.Int64Counter("downloads_total", metric.WithDescription("Tarballs fetched from the registry")); err != nil {
		return Metrics{}, fmt.Errorf("failed to create downloads_total counter: %w", err)
	}
	if m.DownloadedBytes, err = meter.Int64Counter("downloaded_bytes_total", metric.WithDescription("Bytes of tarball payload fetched from the registry")); err != nil {
		return Metrics{}, fmt.Errorf("failed to create downloaded_bytes_total counter: %w", err)
	}
	if m.LinkOperationsTotal, err = meter.Int64Counter("link_operations_total", metric.WithDescription("Symlinks created or replaced under node_modules")); err != nil {
		return Metrics{}, fmt.Errorf("failed to create link_operations_total counter: %w", err)
	}
	if m.StoreBytesWritten, err = meter.Int64Counter("store_bytes_written_total", metric.WithDescription("Bytes written to the content-addressed store by extraction")); err != nil {
		return Metrics{}, fmt.Errorf("failed to create store_bytes_written_total counter: %w", err)
	}

	return m, nil
}

// ListenAndServe serves /metrics over addr, matching the teacher's
// metrics.ListenAndServe.
func ListenAndServe(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promclient.Handler())
	return http.ListenAndServe(addr, mux)
}

// IncrementCacheHit records a package satisfied directly from the store.
func (m Metrics) IncrementCacheHit(ctx context.Context, name string) {
	if m.CacheHitsTotal == nil {
		return
	}
	m.CacheHitsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("package", name)))
}

// IncrementCacheMiss records a package requiring a download.
func (m Metrics) IncrementCacheMiss(ctx context.Context, name string) {
	if m.CacheMissesTotal == nil {
		return
	}
	m.CacheMissesTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("package", name)))
}

// IncrementDownload records one completed tarball fetch and its size.
func (m Metrics) IncrementDownload(ctx context.Context, name string, bytes int64) {
	if m.DownloadsTotal == nil || m.DownloadedBytes == nil {
		return
	}
	m.DownloadsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("package", name)))
	m.DownloadedBytes.Add(ctx, bytes, metric.WithAttributes(attribute.String("package", name)))
}

// IncrementLinkOperation records one symlink create/replace under
// node_modules.
func (m Metrics) IncrementLinkOperation(ctx context.Context, name string) {
	if m.LinkOperationsTotal == nil {
		return
	}
	m.LinkOperationsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("package", name)))
}

// IncrementStoreBytesWritten records extraction output size for store
// growth accounting.
func (m Metrics) IncrementStoreBytesWritten(ctx context.Context, name string, bytes int64) {
	if m.StoreBytesWritten == nil {
		return
	}
	m.StoreBytesWritten.Add(ctx, bytes, metric.WithAttributes(attribute.String("package", name)))
}
