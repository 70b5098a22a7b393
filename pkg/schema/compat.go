package schema

import (
	"go.uber.org/zap"

	"github.com/datalith/doris-target/pkg/config"
	"github.com/datalith/doris-target/pkg/logger"
)

// Compatibility is the result of comparing two desired-state snapshots
type Compatibility int

const (
	// Compatible means the live table can be evolved in place
	Compatible Compatibility = iota
	// NotCompatible means the table must be recreated
	NotCompatible
)

// String implements fmt.Stringer
func (c Compatibility) String() string {
	if c == Compatible {
		return "COMPATIBLE"
	}
	return "NOT_COMPATIBLE"
}

// CheckCompatibility compares a previous and current desired state and
// decides whether the current state can be reached without recreating the
// table. Pure; no side effects beyond logging.
//
// A key field set or order change is always NOT_COMPATIBLE: key columns
// cannot be altered in place. A value column removed from the current state
// is tolerated in extend mode (the column stays in the store, unmanaged) and
// NOT_COMPATIBLE in strict mode. A declared type change on a column present
// in both states is always NOT_COMPATIBLE. Index-only changes never affect
// the result; they are reconciled separately. A nil previous (first
// deployment) or nil current (removal) is always COMPATIBLE.
func CheckCompatibility(previous, current *DesiredState) Compatibility {
	// Nothing to conflict with on a first deployment or a removal
	if previous == nil || current == nil {
		return Compatible
	}
	if !KeyFieldsEqual(previous.KeyFields, current.KeyFields) {
		return NotCompatible
	}

	extendMode := current.Evolution == config.EvolutionExtend

	prevByName := make(map[string]Field, len(previous.ValueFields))
	for _, f := range previous.ValueFields {
		prevByName[f.Name] = f
	}
	currNames := make(map[string]struct{}, len(current.ValueFields))
	for _, f := range current.ValueFields {
		currNames[f.Name] = struct{}{}
	}

	var removed []string
	for name := range prevByName {
		if _, ok := currNames[name]; !ok {
			removed = append(removed, name)
		}
	}
	if len(removed) > 0 {
		if !extendMode {
			return NotCompatible
		}
		logger.Info("extend mode: columns removed from schema will be kept in the store",
			zap.Strings("columns", removed))
	}

	for _, f := range current.ValueFields {
		prev, ok := prevByName[f.Name]
		if !ok {
			continue
		}
		// Type changes require recreation, never attempted in place
		if prev.Kind != f.Kind || prev.Dimension != f.Dimension {
			return NotCompatible
		}
	}

	return Compatible
}

// KeyFieldsEqual compares key field sets including order and declared types
func KeyFieldsEqual(a, b []Field) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].Name != b[i].Name || a[i].Kind != b[i].Kind || a[i].Dimension != b[i].Dimension {
			return false
		}
	}
	return true
}
