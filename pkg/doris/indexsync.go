package doris

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/datalith/doris-target/pkg/config"
	"github.com/datalith/doris-target/pkg/errors"
	"github.com/datalith/doris-target/pkg/logger"
	"github.com/datalith/doris-target/pkg/metrics"
	"github.com/datalith/doris-target/pkg/schema"
)

// stepOutcome models the two-tier result of a best-effort reconciliation
// step: a degraded step is logged and reconciliation continues; a fatal
// failure is returned as an error by the caller.
type stepOutcome struct {
	degraded bool
	reason   string
}

func degraded(reason string) stepOutcome { return stepOutcome{degraded: true, reason: reason} }
func applied() stepOutcome               { return stepOutcome{} }

func recordStep(step string, out stepOutcome) {
	outcome := "applied"
	if out.degraded {
		outcome = "degraded"
	}
	metrics.ReconcileSteps.WithLabelValues(step, outcome).Inc()
}

// indexDiff is the drop/add plan computed from a previous and current index
// set, keyed by index name. An index present in both with changed parameters
// appears in both sets (drop then recreate).
type indexDiff struct {
	toDrop []string
	toAdd  []string
}

func diffVectorIndexes(previous, current []schema.VectorIndex) indexDiff {
	prev := make(map[string]schema.VectorIndex, len(previous))
	for _, idx := range previous {
		prev[idx.Name] = idx
	}
	curr := make(map[string]schema.VectorIndex, len(current))
	for _, idx := range current {
		curr[idx.Name] = idx
	}

	var diff indexDiff
	for name, p := range prev {
		c, ok := curr[name]
		if !ok || c != p {
			diff.toDrop = append(diff.toDrop, name)
		}
	}
	for name, c := range curr {
		p, ok := prev[name]
		if !ok || c != p {
			diff.toAdd = append(diff.toAdd, name)
		}
	}
	return diff
}

func diffInvertedIndexes(previous, current []schema.InvertedIndex) indexDiff {
	prev := make(map[string]schema.InvertedIndex, len(previous))
	for _, idx := range previous {
		prev[idx.Name] = idx
	}
	curr := make(map[string]schema.InvertedIndex, len(current))
	for _, idx := range current {
		curr[idx.Name] = idx
	}

	var diff indexDiff
	for name, p := range prev {
		c, ok := curr[name]
		if !ok || c != p {
			diff.toDrop = append(diff.toDrop, name)
		}
	}
	for name, c := range curr {
		p, ok := prev[name]
		if !ok || c != p {
			diff.toAdd = append(diff.toAdd, name)
		}
	}
	return diff
}

// validateVectorIndexColumn checks a live column against an ANN index
// definition: the column must exist, be an array type, be NOT NULL, and (when
// the live column reports a dimension) match the declared dimension.
func validateVectorIndexColumn(key schema.TableKey, idx schema.VectorIndex, live map[string]ColumnInfo) error {
	col, ok := live[idx.FieldName]
	if !ok {
		return errors.NewSchemaError(key.Table, idx.FieldName,
			"cannot create vector index %q: column %q does not exist in table %s",
			idx.Name, idx.FieldName, key.Table)
	}

	if schema.ArrayElementType(col.DorisType) == "" {
		return errors.NewSchemaError(key.Table, idx.FieldName,
			"cannot create vector index %q: column %q has type %q, expected an ARRAY type",
			idx.Name, idx.FieldName, col.DorisType)
	}

	if col.Nullable {
		return errors.NewSchemaError(key.Table, idx.FieldName,
			"cannot create vector index %q: column %q is nullable, vector indexes require NOT NULL",
			idx.Name, idx.FieldName)
	}

	if col.Dimension > 0 && col.Dimension != idx.Dimension {
		return errors.NewSchemaError(key.Table, idx.FieldName,
			"cannot create vector index %q: column %q has %d dimensions, index expects %d",
			idx.Name, idx.FieldName, col.Dimension, idx.Dimension)
	}

	return nil
}

// validateInvertedIndexColumn checks a live column against an inverted index
// definition: the column must exist and be a text-compatible type.
func validateInvertedIndexColumn(key schema.TableKey, idx schema.InvertedIndex, live map[string]ColumnInfo) error {
	col, ok := live[idx.FieldName]
	if !ok {
		return errors.NewSchemaError(key.Table, idx.FieldName,
			"cannot create inverted index %q: column %q does not exist in table %s",
			idx.Name, idx.FieldName, key.Table)
	}

	colType := strings.ToUpper(col.DorisType)
	for _, t := range []string{"TEXT", "STRING", "VARCHAR", "CHAR"} {
		if strings.HasPrefix(colType, t) {
			return nil
		}
	}
	return errors.NewSchemaError(key.Table, idx.FieldName,
		"cannot create inverted index %q: column %q has type %q, expected TEXT, VARCHAR or STRING",
		idx.Name, idx.FieldName, col.DorisType)
}

// SyncIndexes reconciles the live index set with the desired one: drop first
// (best effort per index), wait out the schema change when a drop precedes
// an add, then validate, create and build each new index.
//
// live may be nil when no introspection context is available (freshly
// created table); validation is skipped in that case.
func SyncIndexes(ctx context.Context, exec Executor, key schema.TableKey, previous, current *schema.DesiredState, live map[string]ColumnInfo, cfg *config.TargetConfig) error {
	var prevVec []schema.VectorIndex
	var prevInv []schema.InvertedIndex
	if previous != nil {
		prevVec = previous.VectorIndexes
		prevInv = previous.InvertedIndexes
	}

	vecDiff := diffVectorIndexes(prevVec, current.VectorIndexes)
	invDiff := diffInvertedIndexes(prevInv, current.InvertedIndexes)

	log := logger.With(zap.String("table", key.Table))

	// Drop removed or changed indexes first. Each drop is independently
	// best-effort so one bad index cannot block the rest of reconciliation.
	droppedAny := false
	for _, name := range append(append([]string{}, vecDiff.toDrop...), invDiff.toDrop...) {
		stmt, err := schema.BuildDropIndex(key, name)
		if err != nil {
			return err
		}
		if _, err := exec.Exec(ctx, stmt); err != nil {
			log.Warn("failed to drop index", zap.String("index", name), zap.Error(err))
			recordStep("drop_index", degraded(err.Error()))
			continue
		}
		log.Info("dropped index", zap.String("index", name))
		recordStep("drop_index", applied())
		droppedAny = true
	}

	// A CREATE INDEX racing an unfinished DROP can corrupt state, so this
	// wait is mandatory when both sides of the diff are non-empty.
	if droppedAny && (len(vecDiff.toAdd) > 0 || len(invDiff.toAdd) > 0) {
		done, err := WaitSchemaChange(ctx, exec, key, cfg.Timeouts.SchemaChange)
		if err != nil {
			return err
		}
		if !done {
			return errors.NewSchemaError(key.Table, "",
				"timeout waiting for DROP INDEX to complete on table %s", key.Table)
		}
	}

	currVec := make(map[string]schema.VectorIndex, len(current.VectorIndexes))
	for _, idx := range current.VectorIndexes {
		currVec[idx.Name] = idx
	}
	for _, name := range vecDiff.toAdd {
		idx := currVec[name]

		if live != nil {
			if err := validateVectorIndexColumn(key, idx, live); err != nil {
				return err
			}
		}

		outcome, err := createVectorIndex(ctx, exec, key, idx, cfg)
		if err != nil {
			return err
		}
		recordStep("create_vector_index", outcome)
		if outcome.degraded {
			log.Warn("failed to create vector index",
				zap.String("index", idx.Name), zap.String("reason", outcome.reason))
		} else {
			log.Info("created and built vector index", zap.String("index", idx.Name))
		}
	}

	currInv := make(map[string]schema.InvertedIndex, len(current.InvertedIndexes))
	for _, idx := range current.InvertedIndexes {
		currInv[idx.Name] = idx
	}
	for _, name := range invDiff.toAdd {
		idx := currInv[name]

		if live != nil {
			if err := validateInvertedIndexColumn(key, idx, live); err != nil {
				return err
			}
		}

		outcome, err := createInvertedIndex(ctx, exec, key, idx, cfg)
		if err != nil {
			return err
		}
		recordStep("create_inverted_index", outcome)
		if outcome.degraded {
			log.Warn("failed to create inverted index",
				zap.String("index", idx.Name), zap.String("reason", outcome.reason))
		} else {
			log.Info("created inverted index", zap.String("index", idx.Name))
		}
	}

	return nil
}

// createVectorIndex waits for any pending schema change, creates the index,
// starts the build, and polls the build job. A build timeout is degraded,
// not fatal: the index may still serve non-approximate scans.
func createVectorIndex(ctx context.Context, exec Executor, key schema.TableKey, idx schema.VectorIndex, cfg *config.TargetConfig) (stepOutcome, error) {
	done, err := WaitSchemaChange(ctx, exec, key, cfg.Timeouts.SchemaChange)
	if err != nil {
		return stepOutcome{}, err
	}
	if !done {
		return stepOutcome{}, errors.NewSchemaError(key.Table, idx.FieldName,
			"timeout waiting for schema change before creating index %s", idx.Name)
	}

	createStmt, err := schema.BuildCreateVectorIndex(key, idx)
	if err != nil {
		return stepOutcome{}, err
	}
	if _, err := exec.Exec(ctx, createStmt); err != nil {
		return degraded(err.Error()), nil
	}

	buildStmt, err := schema.BuildBuildIndex(key, idx.Name)
	if err != nil {
		return stepOutcome{}, err
	}
	if _, err := exec.Exec(ctx, buildStmt); err != nil {
		return degraded(err.Error()), nil
	}

	built, err := WaitIndexBuild(ctx, exec, key, idx.Name, cfg.Timeouts.IndexBuild)
	if err != nil {
		return stepOutcome{}, err
	}
	if !built {
		return degraded("index build timed out"), nil
	}
	return applied(), nil
}

// createInvertedIndex waits for any pending schema change and creates the
// index. Inverted index creation is synchronous enough that no build poll is
// needed.
func createInvertedIndex(ctx context.Context, exec Executor, key schema.TableKey, idx schema.InvertedIndex, cfg *config.TargetConfig) (stepOutcome, error) {
	done, err := WaitSchemaChange(ctx, exec, key, cfg.Timeouts.SchemaChange)
	if err != nil {
		return stepOutcome{}, err
	}
	if !done {
		return stepOutcome{}, errors.NewSchemaError(key.Table, idx.FieldName,
			"timeout waiting for schema change before creating index %s", idx.Name)
	}

	createStmt, err := schema.BuildCreateInvertedIndex(key, idx)
	if err != nil {
		return stepOutcome{}, err
	}
	if _, err := exec.Exec(ctx, createStmt); err != nil {
		return degraded(err.Error()), nil
	}
	return applied(), nil
}
