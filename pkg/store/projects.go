package store

import (
	"context"
	"database/sql"
	"errors"

	"github.com/cuemby/engram/pkg/errs"
	"github.com/cuemby/engram/pkg/types"
)

const maxFamilyDepth = 8

// UpsertProject registers (or re-registers) a project root, populated
// lazily by the Daemon's discovery walk.
func (s *Store) UpsertProject(ctx context.Context, p *types.Project) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO projects(id, name, root_path, parent_id) VALUES (?,?,?,?)
		 ON CONFLICT(id) DO UPDATE SET name=excluded.name, root_path=excluded.root_path, parent_id=excluded.parent_id`,
		p.ID, p.Name, p.RootPath, p.ParentID)
	if err != nil {
		return errs.New(errs.Transient, "store.UpsertProject", err)
	}
	return nil
}

// GetProjectByRootPath looks up a registered project by its filesystem root.
func (s *Store) GetProjectByRootPath(ctx context.Context, rootPath string) (*types.Project, error) {
	var p types.Project
	var parentID sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, root_path, parent_id FROM projects WHERE root_path = ?`, rootPath).
		Scan(&p.ID, &p.Name, &p.RootPath, &parentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, errs.New(errs.Transient, "store.GetProjectByRootPath", err)
	}
	if parentID.Valid {
		p.ParentID = &parentID.String
	}
	return &p, nil
}

// GetProjectByID looks up a registered project by its id, used by the
// Consolidator to resolve an episode's project back to a filesystem root.
func (s *Store) GetProjectByID(ctx context.Context, projectID string) (*types.Project, error) {
	var p types.Project
	var parentID sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, root_path, parent_id FROM projects WHERE id = ?`, projectID).
		Scan(&p.ID, &p.Name, &p.RootPath, &parentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, errs.New(errs.Transient, "store.GetProjectByID", err)
	}
	if parentID.Valid {
		p.ParentID = &parentID.String
	}
	return &p, nil
}

// ProjectFamily returns projectID plus every descendant registered under
// it, walking parent_id edges to a bounded depth so a (impossible, but
// unguarded) cycle can never wedge the query.
func (s *Store) ProjectFamily(ctx context.Context, projectID string) ([]string, error) {
	family := map[string]bool{projectID: true}
	frontier := []string{projectID}

	for depth := 0; depth < maxFamilyDepth && len(frontier) > 0; depth++ {
		children, err := s.childProjects(ctx, frontier)
		if err != nil {
			return nil, err
		}
		var next []string
		for _, c := range children {
			if !family[c] {
				family[c] = true
				next = append(next, c)
			}
		}
		frontier = next
	}

	out := make([]string, 0, len(family))
	for id := range family {
		out = append(out, id)
	}
	return out, nil
}

func (s *Store) childProjects(ctx context.Context, parentIDs []string) ([]string, error) {
	if len(parentIDs) == 0 {
		return nil, nil
	}
	args := make([]interface{}, len(parentIDs))
	placeholders := make([]byte, 0, len(parentIDs)*2)
	for i, id := range parentIDs {
		args[i] = id
		if i > 0 {
			placeholders = append(placeholders, ',', '?')
		} else {
			placeholders = append(placeholders, '?')
		}
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id FROM projects WHERE parent_id IN (`+string(placeholders)+`)`, args...)
	if err != nil {
		return nil, errs.New(errs.Transient, "store.childProjects", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, errs.New(errs.Transient, "store.childProjects", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}
