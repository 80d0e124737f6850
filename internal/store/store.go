// Package store provides the configuration document backends. Callers are
// agnostic to which backend holds a document; the branch between remote
// store and filesystem happens once, at construction.
package store

import (
	"context"

	"overlaykit/api/internal/document"
)

// ConfigStore is the single contract both backends implement. Get returns
// (nil, nil) when no document exists under (namespace, name); an empty
// namespace addresses the global, non-tenant configuration. Set is a
// whole-document replace: concurrent writers converge on the last write
// rather than corrupt.
type ConfigStore interface {
	Get(ctx context.Context, namespace, name string) (*document.Document, error)
	Set(ctx context.Context, namespace, name string, doc *document.Document) error
}
