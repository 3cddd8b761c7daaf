package regions

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"gorm.io/gorm"

	"github.com/tenantfed/relocator/pkg/objectstore"
	"github.com/tenantfed/relocator/pkg/store"
)

// ErrWorkspaceNotFound is matched by every WorkspaceNotFoundError.
var ErrWorkspaceNotFound = errors.New("workspace not found")

type WorkspaceNotFoundError struct {
	WorkspaceID string
}

func (e *WorkspaceNotFoundError) Error() string {
	return fmt.Sprintf("workspace %q not found", e.WorkspaceID)
}

func (e *WorkspaceNotFoundError) Unwrap() error { return ErrWorkspaceNotFound }

// Handles are the destination stores for one workspace. When the workspace
// has no region, RegionDB and RegionStorage are the main handles.
type Handles struct {
	MainDB        *gorm.DB
	RegionDB      *gorm.DB
	MainStorage   objectstore.Client
	RegionStorage objectstore.Client
	RegionKey     *string
}

// Regionalized reports whether the region stores differ from the main ones.
func (h *Handles) Regionalized() bool { return h.RegionKey != nil }

// Resolver maps a destination workspace to its Handles.
type Resolver interface {
	Resolve(ctx context.Context, workspaceID string) (*Handles, error)
}

// WorkspaceResolver looks the workspace's region assignment up in the main
// database and opens the matching handles from the registry.
type WorkspaceResolver struct {
	registry *Registry
	logger   *slog.Logger
}

func NewResolver(registry *Registry, logger *slog.Logger) *WorkspaceResolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &WorkspaceResolver{registry: registry, logger: logger}
}

func (r *WorkspaceResolver) Resolve(ctx context.Context, workspaceID string) (*Handles, error) {
	mainDB, mainStorage, err := r.registry.Main(ctx)
	if err != nil {
		return nil, err
	}

	workspaces := store.NewWorkspaceStore(mainDB)
	ws, err := workspaces.GetWorkspace(ctx, workspaceID)
	if err != nil {
		return nil, err
	}
	if ws == nil {
		return nil, &WorkspaceNotFoundError{WorkspaceID: workspaceID}
	}

	regionKey, err := workspaces.GetWorkspaceRegion(ctx, workspaceID)
	if err != nil {
		return nil, err
	}

	h := &Handles{
		MainDB:        mainDB,
		RegionDB:      mainDB,
		MainStorage:   mainStorage,
		RegionStorage: mainStorage,
	}
	if regionKey == nil {
		r.logger.Debug("workspace lives in main region", "workspace", workspaceID)
		return h, nil
	}

	regionDB, regionStorage, err := r.registry.Region(ctx, *regionKey)
	if err != nil {
		return nil, fmt.Errorf("workspace %s: %w", workspaceID, err)
	}
	h.RegionDB = regionDB
	h.RegionStorage = regionStorage
	h.RegionKey = regionKey
	r.logger.Debug("workspace resolved to data region", "workspace", workspaceID, "region", *regionKey)
	return h, nil
}
