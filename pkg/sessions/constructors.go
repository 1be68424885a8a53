package sessions

import (
	"context"

	"github.com/aroudaki/app-builder-sub001/pkg/sandbox"
	"github.com/aroudaki/app-builder-sub001/pkg/vterm"
)

// Virtual builds in-process terminals from a template of options.
func Virtual(opts vterm.Options) Constructor {
	return func(_ context.Context, id string) (sandbox.Sandbox, error) {
		o := opts
		o.SessionID = id
		t, err := vterm.New(o)
		if err != nil {
			return nil, err
		}
		return t, nil
	}
}

// Container builds engine-backed sandboxes on the factory's runtime.
func Container(f *sandbox.Factory, base sandbox.SandboxConfig) Constructor {
	return func(ctx context.Context, id string) (sandbox.Sandbox, error) {
		rt, err := f.Runtime()
		if err != nil {
			return nil, err
		}
		cfg := base
		cfg.SessionID = id
		sb := sandbox.NewContainerSandbox(rt, cfg)
		if err := sb.Init(ctx); err != nil {
			return nil, err
		}
		return sb, nil
	}
}
