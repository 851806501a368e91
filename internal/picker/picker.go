// Package picker exposes file-providing capabilities behind one
// interface with two implementations: the remote picker backed by the
// browse session and a local pass-through over the host's asset
// directory. The host composes with whichever the configuration
// names; neither knows about the other.
package picker

import (
	"context"
	"fmt"
	"io"

	"github.com/Daxiongmao87/nextcloud-filepicker/internal/browse"
	"github.com/Daxiongmao87/nextcloud-filepicker/internal/config"
	"github.com/Daxiongmao87/nextcloud-filepicker/internal/remote"
)

// Picker lists, selects, and writes files for the host UI.
type Picker interface {
	// List returns the normalized listing of dir.
	List(ctx context.Context, dir string) (*browse.Target, error)

	// Select resolves a file path to the URL the host should embed.
	Select(ctx context.Context, path string) (*browse.Selection, error)

	// Upload writes a file of the given size into dir under name.
	Upload(ctx context.Context, dir, name string, r io.Reader, size int64) error

	// CreateDirectory creates the directory at path, parents included.
	CreateDirectory(ctx context.Context, path string) error

	// Type returns the implementation identifier ("remote", "local").
	Type() string
}

// FromConfig selects the picker implementation named by the
// configuration. An empty selection resolves to the remote picker
// when a server URL is configured, and to the local pass-through
// otherwise.
func FromConfig(cfg *config.Config, session *browse.Session, client *remote.Client) (Picker, error) {
	choice := cfg.Picker
	if choice == "" {
		if cfg.ServerURL != "" {
			choice = "remote"
		} else {
			choice = "local"
		}
	}

	switch choice {
	case "remote":
		return NewRemote(session, client), nil
	case "local":
		return NewLocal(cfg.LocalAssetDir, cfg.LocalBaseURL)
	default:
		return nil, fmt.Errorf("unknown picker type: %s", choice)
	}
}
