// Package variables implements the scoped variable store: session, node,
// flow, user, and global tiers with narrowest-to-widest resolution and
// optional encryption at rest.
package variables

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/convoflow/convoflow/pkg/models"
	"github.com/convoflow/convoflow/pkg/persistence"
)

// ErrSchemaConflict indicates an illegal mutation of an existing variable's
// encryption flag or declared type: flipping either would orphan prior
// values, so both are immutable once a key exists.
var ErrSchemaConflict = errors.New("variable schema conflict")

// SessionContext binds a store view to the session the lookups run under.
type SessionContext struct {
	SessionID string
	FlowID    string
	NodeID    string
	ContactID string
}

func (sc SessionContext) qualifiers(scope models.VariableScope) persistence.VariableQualifiers {
	q := persistence.VariableQualifiers{}

	switch scope {
	case models.ScopeSession:
		q.SessionID = sc.SessionID
	case models.ScopeNode:
		q.SessionID = sc.SessionID
		q.NodeID = sc.NodeID
	case models.ScopeFlow:
		q.FlowID = sc.FlowID
	case models.ScopeUser:
		q.ContactID = sc.ContactID
	case models.ScopeGlobal:
	}

	return q
}

// Store is the scoped variable store shared by all engine components.
type Store struct {
	repo   persistence.VariableRepository
	codec  *Codec
	logger *slog.Logger
}

// NewStore creates a variable store. The codec may be nil when encryption is
// not configured; writing an encrypted variable then fails.
func NewStore(repo persistence.VariableRepository, codec *Codec, logger *slog.Logger) *Store {
	return &Store{repo: repo, codec: codec, logger: logger}
}

// View binds the store to a session context, producing the restricted
// interface handed to node handlers.
func (s *Store) View(sctx SessionContext) *View {
	return &View{store: s, sctx: sctx}
}

// Get returns the decoded value for an explicitly scoped key. Expired values
// read as absent.
func (s *Store) Get(ctx context.Context, scope models.VariableScope, key string, sctx SessionContext) (any, bool, error) {
	variable, err := s.repo.GetVariable(ctx, scope, key, sctx.qualifiers(scope))
	if err != nil {
		if persistence.IsVariableNotFound(err) {
			return nil, false, nil
		}

		return nil, false, fmt.Errorf("failed to read %s variable %q: %w", scope, key, err)
	}

	if variable.Expired(time.Now().UTC()) {
		return nil, false, nil
	}

	value, err := s.decode(variable)
	if err != nil {
		return nil, false, err
	}

	return value, true, nil
}

// Resolve performs an unscoped lookup, walking session, node, flow, user,
// global and returning the first hit.
func (s *Store) Resolve(ctx context.Context, key string, sctx SessionContext) (any, bool, error) {
	for _, scope := range models.ResolutionOrder {
		value, ok, err := s.Get(ctx, scope, key, sctx)
		if err != nil {
			return nil, false, err
		}

		if ok {
			return value, true, nil
		}
	}

	return nil, false, nil
}

// Set writes a value into the given scope. Within a scope and session the
// write is last-write-wins. Changing the encryption flag or declared type of
// an existing key fails with ErrSchemaConflict.
func (s *Store) Set(ctx context.Context, scope models.VariableScope, key string, value any, opts models.VariableOptions, sctx SessionContext) error {
	now := time.Now().UTC()
	q := sctx.qualifiers(scope)

	valueType := opts.Type
	if valueType == "" {
		valueType = inferValueType(value)
	}

	existing, err := s.repo.GetVariable(ctx, scope, key, q)
	if err != nil && !persistence.IsVariableNotFound(err) {
		return fmt.Errorf("failed to read existing %s variable %q: %w", scope, key, err)
	}

	variable := &models.SessionVariable{
		ID:        uuid.New().String(),
		Scope:     scope,
		Key:       key,
		ValueType: valueType,
		Encrypted: opts.Encrypted,
		SessionID: q.SessionID,
		FlowID:    q.FlowID,
		NodeID:    q.NodeID,
		ContactID: q.ContactID,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if existing != nil {
		if existing.Encrypted != opts.Encrypted {
			return &persistence.VariableError{Op: "Set", Scope: string(scope), Key: key, Err: ErrSchemaConflict}
		}

		if existing.ValueType != valueType {
			return &persistence.VariableError{Op: "Set", Scope: string(scope), Key: key, Err: ErrSchemaConflict}
		}

		variable.ID = existing.ID
		variable.CreatedAt = existing.CreatedAt
	}

	if opts.TTL > 0 {
		expires := now.Add(opts.TTL)
		variable.ExpiresAt = &expires
	}

	encoded, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to encode %s variable %q: %w", scope, key, err)
	}

	if opts.Encrypted {
		encoded, err = s.codec.Encrypt(encoded)
		if err != nil {
			return fmt.Errorf("failed to encrypt %s variable %q: %w", scope, key, err)
		}
	}

	variable.Value = encoded

	if err := s.repo.SetVariable(ctx, variable); err != nil {
		return fmt.Errorf("failed to save %s variable %q: %w", scope, key, err)
	}

	return nil
}

// Delete removes the value for an explicitly scoped key.
func (s *Store) Delete(ctx context.Context, scope models.VariableScope, key string, sctx SessionContext) error {
	if err := s.repo.DeleteVariable(ctx, scope, key, sctx.qualifiers(scope)); err != nil {
		return fmt.Errorf("failed to delete %s variable %q: %w", scope, key, err)
	}

	return nil
}

// Snapshot merges all scopes visible to the session, widest first so
// narrower scopes shadow wider ones. Used for template rendering and the
// read-only analytics surface.
func (s *Store) Snapshot(ctx context.Context, sctx SessionContext) (map[string]any, error) {
	out := make(map[string]any)

	now := time.Now().UTC()

	for i := len(models.ResolutionOrder) - 1; i >= 0; i-- {
		scope := models.ResolutionOrder[i]

		variables, err := s.repo.VariablesInScope(ctx, scope, sctx.qualifiers(scope))
		if err != nil {
			return nil, fmt.Errorf("failed to list %s variables: %w", scope, err)
		}

		for _, variable := range variables {
			if variable.Expired(now) {
				continue
			}

			value, err := s.decode(variable)
			if err != nil {
				return nil, err
			}

			out[variable.Key] = value
		}
	}

	return out, nil
}

func (s *Store) decode(variable *models.SessionVariable) (any, error) {
	raw := variable.Value

	if variable.Encrypted {
		plain, err := s.codec.Decrypt(raw)
		if err != nil {
			return nil, fmt.Errorf("failed to decrypt %s variable %q: %w", variable.Scope, variable.Key, err)
		}

		raw = plain
	}

	var value any
	if err := json.Unmarshal(raw, &value); err != nil {
		return nil, fmt.Errorf("failed to decode %s variable %q: %w", variable.Scope, variable.Key, err)
	}

	return value, nil
}

func inferValueType(value any) models.ValueType {
	switch value.(type) {
	case string:
		return models.ValueTypeString
	case int, int32, int64, float32, float64:
		return models.ValueTypeNumber
	case bool:
		return models.ValueTypeBoolean
	default:
		return models.ValueTypeJSON
	}
}

// View is a Store bound to one session context. It satisfies
// protocol.VariableAccess.
type View struct {
	store *Store
	sctx  SessionContext
}

func (v *View) Resolve(ctx context.Context, key string) (any, bool, error) {
	return v.store.Resolve(ctx, key, v.sctx)
}

func (v *View) Get(ctx context.Context, scope models.VariableScope, key string) (any, bool, error) {
	return v.store.Get(ctx, scope, key, v.sctx)
}

func (v *View) Set(ctx context.Context, scope models.VariableScope, key string, value any, opts models.VariableOptions) error {
	return v.store.Set(ctx, scope, key, value, opts, v.sctx)
}

func (v *View) Delete(ctx context.Context, scope models.VariableScope, key string) error {
	return v.store.Delete(ctx, scope, key, v.sctx)
}

func (v *View) Snapshot(ctx context.Context) (map[string]any, error) {
	return v.store.Snapshot(ctx, v.sctx)
}
