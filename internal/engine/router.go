// Package engine selects the conversion engine for each input item.
package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/JakeFAU/dockling/internal/conversion"
)

// Engine kinds accepted by configuration.
const (
	KindDoclingServe = "docling-serve"
	KindPassthrough  = "passthrough"
	KindAuto         = "auto"
)

// ErrUnknownKind is returned by NewRouter for unsupported kinds.
var ErrUnknownKind = errors.New("unknown engine kind")

// LocalEngine is an engine that only handles some extensions.
type LocalEngine interface {
	conversion.Engine
	Handles(ext string) bool
}

// Router dispatches each item to the local engine when it can handle the
// extension and to the remote engine otherwise.
type Router struct {
	local  LocalEngine
	remote conversion.Engine
}

// NewRouter builds the engine for kind. remote may be nil for the
// passthrough kind.
func NewRouter(kind string, local LocalEngine, remote conversion.Engine) (*Router, error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case KindDoclingServe:
		if remote == nil {
			return nil, fmt.Errorf("engine kind %s requires a remote engine", kind)
		}
		return &Router{remote: remote}, nil
	case KindPassthrough:
		if local == nil {
			return nil, fmt.Errorf("engine kind %s requires a local engine", kind)
		}
		return &Router{local: local}, nil
	case KindAuto:
		if local == nil && remote == nil {
			return nil, errors.New("engine kind auto requires at least one engine")
		}
		return &Router{local: local, remote: remote}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
}

// Convert implements conversion.Engine.
func (r *Router) Convert(ctx context.Context, item conversion.Item, opts conversion.Options) (conversion.Result, error) {
	if r.local != nil && (r.remote == nil || r.local.Handles(item.Ext())) {
		return r.local.Convert(ctx, item, opts)
	}
	return r.remote.Convert(ctx, item, opts)
}
