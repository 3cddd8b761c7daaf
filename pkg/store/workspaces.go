package store

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/tenantfed/relocator/pkg/model"
)

// WorkspaceStore reads workspace metadata, which always lives in the main
// database.
type WorkspaceStore struct {
	db *gorm.DB
}

func NewWorkspaceStore(db *gorm.DB) *WorkspaceStore {
	return &WorkspaceStore{db: db}
}

// GetWorkspace returns nil, nil if the workspace does not exist.
func (s *WorkspaceStore) GetWorkspace(ctx context.Context, workspaceID string) (*model.Workspace, error) {
	var ws model.Workspace
	err := s.db.WithContext(ctx).Where("id = ?", workspaceID).First(&ws).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("get workspace %s: %w", workspaceID, err)
	}
	return &ws, nil
}

// GetWorkspaceRegion returns the region key assigned to the workspace, or
// nil when it lives in the main region.
func (s *WorkspaceStore) GetWorkspaceRegion(ctx context.Context, workspaceID string) (*string, error) {
	var rows []model.WorkspaceRegion
	err := s.db.WithContext(ctx).
		Where("workspace_id = ?", workspaceID).
		Order("region_key").
		Limit(1).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("get workspace region %s: %w", workspaceID, err)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	key := rows[0].RegionKey
	return &key, nil
}

// ListWorkspaceRoles maps destination user id to workspace role.
func (s *WorkspaceStore) ListWorkspaceRoles(ctx context.Context, workspaceID string) (map[string]string, error) {
	var rows []model.WorkspaceRole
	if err := s.db.WithContext(ctx).Where("workspace_id = ?", workspaceID).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list workspace roles %s: %w", workspaceID, err)
	}
	out := make(map[string]string, len(rows))
	for _, r := range rows {
		out[r.UserID] = r.Role
	}
	return out, nil
}

// ListRegions returns the regions registered in the main database.
func (s *WorkspaceStore) ListRegions(ctx context.Context) ([]model.Region, error) {
	var regions []model.Region
	if err := s.db.WithContext(ctx).Order("region_key").Find(&regions).Error; err != nil {
		return nil, fmt.Errorf("list regions: %w", err)
	}
	return regions, nil
}
