// Package observability provides hooks for metrics, tracing, and logging.
//
// This package enables optional instrumentation without adding hard dependencies
// on specific observability backends. Consumers can register hooks at startup
// to receive events about pipeline stages and archive assembly.
//
// # Architecture
//
// The package uses a simple hooks pattern:
//   - Define hook interfaces for different event categories
//   - Provide no-op default implementations
//   - Allow registration of custom implementations at startup
//
// Hooks are registered by main, not by libraries, so the library packages
// never import a metrics backend.
//
// # Usage
//
// Register hooks at application startup:
//
//	func main() {
//	    observability.SetPipelineHooks(&myPipelineHooks{})
//	    observability.SetArchiveHooks(&myArchiveHooks{})
//	    // ... run application
//	}
//
// Libraries call hooks to emit events:
//
//	observability.Pipeline().OnStageStart(ctx, observability.StageMerge)
//	// ... merge manifests ...
//	observability.Pipeline().OnStageComplete(ctx, observability.StageMerge, duration, err)
package observability

import (
	"context"
	"sync"
	"time"
)

// Stage names reported to [PipelineHooks].
const (
	StageMerge     = "merge"
	StageResources = "resources"
	StageSymbols   = "symbols"
	StageBytecode  = "bytecode"
	StageAssemble  = "assemble"
)

// =============================================================================
// Pipeline Hooks
// =============================================================================

// PipelineHooks receives events from the build pipeline.
type PipelineHooks interface {
	// Stage events
	OnStageStart(ctx context.Context, stage string)
	OnStageComplete(ctx context.Context, stage string, duration time.Duration, err error)

	// OnMergeCall records one invocation of the manifest merge primitive.
	// root is true only for the call that applies attribute injection.
	OnMergeCall(ctx context.Context, fragments int, root bool)
}

// =============================================================================
// Archive Hooks
// =============================================================================

// ArchiveHooks receives events from archive assembly.
type ArchiveHooks interface {
	// OnEntryAdded records an entry committed to the archive.
	OnEntryAdded(ctx context.Context, origin string, size int64)

	// OnDuplicateSkipped records an identical re-add that was ignored.
	OnDuplicateSkipped(ctx context.Context, path string)

	// OnSealed records the finalized archive.
	OnSealed(ctx context.Context, entries int, signed bool)
}

// =============================================================================
// No-op Implementations
// =============================================================================

// NoopPipelineHooks is a no-op implementation of PipelineHooks.
type NoopPipelineHooks struct{}

func (NoopPipelineHooks) OnStageStart(context.Context, string)                          {}
func (NoopPipelineHooks) OnStageComplete(context.Context, string, time.Duration, error) {}
func (NoopPipelineHooks) OnMergeCall(context.Context, int, bool)                        {}

// NoopArchiveHooks is a no-op implementation of ArchiveHooks.
type NoopArchiveHooks struct{}

func (NoopArchiveHooks) OnEntryAdded(context.Context, string, int64)  {}
func (NoopArchiveHooks) OnDuplicateSkipped(context.Context, string)   {}
func (NoopArchiveHooks) OnSealed(context.Context, int, bool)          {}

// =============================================================================
// Global Hook Registry
// =============================================================================

var (
	pipelineHooks PipelineHooks = NoopPipelineHooks{}
	archiveHooks  ArchiveHooks  = NoopArchiveHooks{}
	hooksMu       sync.RWMutex
)

// SetPipelineHooks registers custom pipeline hooks.
// This should be called once at application startup before any pipeline operations.
func SetPipelineHooks(h PipelineHooks) {
	hooksMu.Lock()
	defer hooksMu.Unlock()
	if h != nil {
		pipelineHooks = h
	}
}

// SetArchiveHooks registers custom archive hooks.
// This should be called once at application startup before any archive is opened.
func SetArchiveHooks(h ArchiveHooks) {
	hooksMu.Lock()
	defer hooksMu.Unlock()
	if h != nil {
		archiveHooks = h
	}
}

// Pipeline returns the registered pipeline hooks.
func Pipeline() PipelineHooks {
	hooksMu.RLock()
	defer hooksMu.RUnlock()
	return pipelineHooks
}

// Archive returns the registered archive hooks.
func Archive() ArchiveHooks {
	hooksMu.RLock()
	defer hooksMu.RUnlock()
	return archiveHooks
}

// Reset restores all hooks to their no-op defaults.
// This is primarily useful for testing.
func Reset() {
	hooksMu.Lock()
	defer hooksMu.Unlock()
	pipelineHooks = NoopPipelineHooks{}
	archiveHooks = NoopArchiveHooks{}
}
