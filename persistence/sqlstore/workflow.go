package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/mohitkumar/flowgate/model"
)

func (s *Store) SaveWorkflow(ctx context.Context, def *model.WorkflowDefinition) error {
	nodes, err := json.Marshal(def.Nodes)
	if err != nil {
		return err
	}
	edges, err := json.Marshal(def.Edges)
	if err != nil {
		return err
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, s.q(`DELETE FROM workflow_definitions WHERE id = ? AND version = ?`), def.ID, def.Version); err != nil {
			return storageError(err)
		}
		_, err := tx.ExecContext(ctx, s.q(`INSERT INTO workflow_definitions
			(id, version, name, is_active, engine_version, nodes, edges, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`),
			def.ID, def.Version, def.Name, boolInt(def.IsActive), string(def.EngineVersion), string(nodes), string(edges), nanos(def.CreatedAt))
		return storageError(err)
	})
}

func (s *Store) GetWorkflow(ctx context.Context, id string, version int) (*model.WorkflowDefinition, error) {
	query := `SELECT id, version, name, is_active, engine_version, nodes, edges, created_at
		FROM workflow_definitions WHERE id = ?`
	args := []any{id}
	if version > 0 {
		query += ` AND version = ?`
		args = append(args, version)
	}
	query += ` ORDER BY version DESC LIMIT 1`

	var (
		def          model.WorkflowDefinition
		name, engine sql.NullString
		active       int
		nodes, edges string
		createdAt    int64
	)
	err := s.db.QueryRowContext(ctx, s.q(query), args...).Scan(
		&def.ID, &def.Version, &name, &active, &engine, &nodes, &edges, &createdAt)
	if err != nil {
		return nil, storageError(err)
	}
	def.Name = name.String
	def.IsActive = active == 1
	def.EngineVersion = model.EngineVersion(engine.String)
	def.CreatedAt = fromNanos(createdAt)
	if err := json.Unmarshal([]byte(nodes), &def.Nodes); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(edges), &def.Edges); err != nil {
		return nil, err
	}
	return &def, nil
}
