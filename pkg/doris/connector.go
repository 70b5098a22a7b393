package doris

import (
	"context"

	"github.com/datalith/doris-target/pkg/config"
	"github.com/datalith/doris-target/pkg/errors"
	"github.com/datalith/doris-target/pkg/schema"
)

// Connector is the Doris target connector. It exposes the lifecycle hooks
// the pipeline orchestrator drives: PersistentKey and SetupState derive the
// persisted identity and desired state, CheckCompatibility and
// ApplySetupChange reconcile schema across deployments, and Prepare /
// Mutate / Cleanup apply row-level changes.
type Connector struct {
	cfg *config.TargetConfig
}

// New creates a connector for one target table
func New(cfg *config.TargetConfig) (*Connector, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "invalid target configuration")
	}
	return &Connector{cfg: cfg}, nil
}

// Config returns the immutable target configuration
func (c *Connector) Config() *config.TargetConfig {
	return c.cfg
}

// PersistentKey derives the table identity used as the persisted setup-state
// map key across deployments. Pure and deterministic.
func (c *Connector) PersistentKey() schema.TableKey {
	return schema.PersistentKey(c.cfg)
}

// Describe returns a human-readable identity for the key
func (c *Connector) Describe(key schema.TableKey) string {
	return key.Describe()
}

// SetupState derives the desired-state snapshot for this deployment
func (c *Connector) SetupState(keyFields, valueFields []schema.Field, opts schema.IndexOptions) (*schema.DesiredState, error) {
	return schema.DeriveState(c.cfg, keyFields, valueFields, opts)
}

// CheckCompatibility compares two desired states
func (c *Connector) CheckCompatibility(previous, current *schema.DesiredState) schema.Compatibility {
	return schema.CheckCompatibility(previous, current)
}

// ApplySetupChange reconciles the live table with the desired state.
// Side-effecting but idempotent for identical arguments.
func (c *Connector) ApplySetupChange(ctx context.Context, key schema.TableKey, previous, current *schema.DesiredState) error {
	client, err := NewSQLClient(c.cfg, c.cfg.Connection.Database)
	if err != nil {
		return err
	}
	defer client.Close()

	// CREATE DATABASE needs a session without a default database
	admin, err := NewSQLClient(c.cfg, "")
	if err != nil {
		return err
	}
	defer admin.Close()

	return NewReconciler(c.cfg, client, admin).ApplySetupChange(ctx, key, previous, current)
}

// Prepare opens the transport session and lock for mutation traffic
func (c *Connector) Prepare(state *schema.DesiredState) (*MutationContext, error) {
	return Prepare(c.cfg, state)
}

// Mutate applies (context, batch) pairs independently per context
func (c *Connector) Mutate(ctx context.Context, pairs ...ContextBatch) error {
	return Mutate(ctx, pairs...)
}

// Cleanup releases a prepared context
func (c *Connector) Cleanup(mc *MutationContext) error {
	return mc.Cleanup()
}
