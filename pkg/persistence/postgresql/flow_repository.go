package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/convoflow/convoflow/pkg/models"
	"github.com/convoflow/convoflow/pkg/persistence"
)

// FlowRepository handles flow definition storage. Flow rows are immutable
// per (id, version); republishing writes a new version.
type FlowRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewFlowRepository(db *sql.DB, logger *slog.Logger) *FlowRepository {
	return &FlowRepository{db: db, logger: logger}
}

const flowColumns = `id, version, name, status, start_node_id, nodes, edges, created_at, updated_at`

// FlowByVersion retrieves one pinned flow version.
func (r *FlowRepository) FlowByVersion(ctx context.Context, id string, version int) (*models.Flow, error) {
	query := `SELECT ` + flowColumns + ` FROM flows WHERE id = $1 AND version = $2`

	flow, err := r.scanFlow(r.db.QueryRowContext(ctx, query, id, version))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("flow %s version %d: %w", id, version, persistence.ErrFlowVersionNotFound)
		}

		return nil, fmt.Errorf("failed to load flow %s version %d: %w", id, version, err)
	}

	return flow, nil
}

// PublishedFlow retrieves the highest published version of a flow.
func (r *FlowRepository) PublishedFlow(ctx context.Context, id string) (*models.Flow, error) {
	query := `
		SELECT ` + flowColumns + `
		FROM flows
		WHERE id = $1 AND status = $2
		ORDER BY version DESC
		LIMIT 1
	`

	flow, err := r.scanFlow(r.db.QueryRowContext(ctx, query, id, models.FlowStatusPublished))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("flow %s: %w", id, persistence.ErrFlowNotFound)
		}

		return nil, fmt.Errorf("failed to load published flow %s: %w", id, err)
	}

	return flow, nil
}

// SaveFlow upserts one flow version.
func (r *FlowRepository) SaveFlow(ctx context.Context, flow *models.Flow) error {
	nodesJSON, err := json.Marshal(flow.Nodes)
	if err != nil {
		return fmt.Errorf("failed to marshal nodes: %w", err)
	}

	edgesJSON, err := json.Marshal(flow.Edges)
	if err != nil {
		return fmt.Errorf("failed to marshal edges: %w", err)
	}

	query := `
		INSERT INTO flows (id, version, name, status, start_node_id, nodes, edges, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id, version) DO UPDATE SET
			name = EXCLUDED.name,
			status = EXCLUDED.status,
			start_node_id = EXCLUDED.start_node_id,
			nodes = EXCLUDED.nodes,
			edges = EXCLUDED.edges,
			updated_at = EXCLUDED.updated_at
	`

	_, err = r.db.ExecContext(ctx, query,
		flow.ID,
		flow.Version,
		flow.Name,
		flow.Status,
		flow.StartNodeID,
		nodesJSON,
		edgesJSON,
		flow.CreatedAt,
		flow.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save flow %s version %d: %w", flow.ID, flow.Version, err)
	}

	return nil
}

func (r *FlowRepository) scanFlow(row *sql.Row) (*models.Flow, error) {
	var (
		flow      models.Flow
		nodesJSON []byte
		edgesJSON []byte
	)

	err := row.Scan(
		&flow.ID,
		&flow.Version,
		&flow.Name,
		&flow.Status,
		&flow.StartNodeID,
		&nodesJSON,
		&edgesJSON,
		&flow.CreatedAt,
		&flow.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(nodesJSON, &flow.Nodes); err != nil {
		return nil, fmt.Errorf("failed to unmarshal nodes: %w", err)
	}

	if err := json.Unmarshal(edgesJSON, &flow.Edges); err != nil {
		return nil, fmt.Errorf("failed to unmarshal edges: %w", err)
	}

	return &flow, nil
}
