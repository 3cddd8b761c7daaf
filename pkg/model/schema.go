package model

import (
	"fmt"

	"gorm.io/gorm"
)

// All returns one zero value of every model, in creation order.
func All() []any {
	return []any{
		&User{},
		&Region{},
		&Workspace{},
		&WorkspaceRole{},
		&WorkspaceRegion{},
		&Project{},
		&ObjectRecord{},
		&Branch{},
		&Commit{},
		&BranchCommit{},
		&ProjectCommit{},
		&Comment{},
		&CommentLink{},
		&Blob{},
		&SavedViewGroup{},
		&SavedView{},
		&ProjectRole{},
	}
}

// AutoMigrate creates or updates every table of the project model.
func AutoMigrate(db *gorm.DB) error {
	for _, m := range All() {
		if err := db.AutoMigrate(m); err != nil {
			return fmt.Errorf("auto-migrate %T: %w", m, err)
		}
	}
	return nil
}
