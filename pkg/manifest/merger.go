package manifest

import "context"

// Request is one invocation of the merge primitive.
type Request struct {
	Main Fragment   // Document receiving the merge
	Subs []Fragment // Documents merged into Main, in priority order

	// Root is non-nil only for the outermost merge. Implementations must
	// apply its injection and package override and must not receive it for
	// intermediate library merges.
	Root *RootOptions
}

// Merger is the markup-level merge primitive. Merge is all-or-nothing: it
// returns the merged document or an error, never a partial result.
// Conflict resolution between overlapping declarations is up to the
// implementation; callers only guarantee the order of Subs.
type Merger interface {
	Merge(ctx context.Context, req Request) ([]byte, error)
}

// MergerFunc adapts a function to the [Merger] interface.
type MergerFunc func(ctx context.Context, req Request) ([]byte, error)

// Merge calls f(ctx, req).
func (f MergerFunc) Merge(ctx context.Context, req Request) ([]byte, error) {
	return f(ctx, req)
}
