// Package manifest merges a dependency tree of manifest fragments into one
// manifest.
//
// # Overview
//
// An application's final manifest is assembled from:
//
//   - the main fragment of the application module,
//   - zero or more overlay fragments (variant or flavor data) layered on top,
//   - the fragments of every library the application depends on, each of
//     which may depend on further libraries.
//
// This package owns the orchestration of that merge: traversal order,
// bottom-up resolution of library subtrees, and scoping of attribute
// injection to the outermost merge. The markup-level merge itself is
// delegated to a [Merger], the opaque merge primitive.
//
// # Merging
//
//	r := manifest.NewResolver(manifest.NewXMLMerger(), logger)
//	out, err := r.Merge(ctx, manifest.Input{
//	    Main:      "app/AndroidManifest.xml",
//	    Libraries: []*manifest.Dependency{lib},
//	    Injection: manifest.NewInjection(12, "1.2", 16, manifest.NoValue),
//	})
//
// # Injection Scoping
//
// [RootOptions] is passed to the merge primitive as a pointer and is nil for
// every merge that is not the outermost one. Intermediate documents produced
// for library subtrees therefore never carry injected attributes or a
// package override.
//
// # Merge Primitives
//
//   - [XMLMerger] merges in memory on an XML DOM.
//   - [ToolMerger] delegates to an external command line and stages its
//     inputs in a scratch directory that is removed after every call.
package manifest
