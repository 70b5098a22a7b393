package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/datalith/doris-target/pkg/config"
)

func stateWith(mode config.EvolutionMode, keys, values []Field) *DesiredState {
	return &DesiredState{
		KeyFields:   keys,
		ValueFields: values,
		Evolution:   mode,
	}
}

func TestCheckCompatibilityIdentical(t *testing.T) {
	keys := []Field{{Name: "id", Kind: KindInt64}}
	values := []Field{{Name: "body", Kind: KindString, Nullable: true}}
	prev := stateWith(config.EvolutionExtend, keys, values)
	curr := stateWith(config.EvolutionExtend, keys, values)
	assert.Equal(t, Compatible, CheckCompatibility(prev, curr))
}

func TestCheckCompatibilityNilStates(t *testing.T) {
	state := stateWith(config.EvolutionExtend,
		[]Field{{Name: "id", Kind: KindInt64}}, nil)

	// First deployment and removal have no prior shape to conflict with
	assert.Equal(t, Compatible, CheckCompatibility(nil, state))
	assert.Equal(t, Compatible, CheckCompatibility(state, nil))
	assert.Equal(t, Compatible, CheckCompatibility(nil, nil))
}

func TestCheckCompatibilityKeyChanges(t *testing.T) {
	base := []Field{{Name: "id", Kind: KindInt64}}
	tests := []struct {
		name string
		curr []Field
	}{
		{"renamed key", []Field{{Name: "doc_id", Kind: KindInt64}}},
		{"retyped key", []Field{{Name: "id", Kind: KindString}}},
		{"added key", []Field{{Name: "id", Kind: KindInt64}, {Name: "chunk", Kind: KindInt64}}},
		{"reordered keys", nil}, // set below
	}
	tests[3].curr = []Field{{Name: "chunk", Kind: KindInt64}, {Name: "id", Kind: KindInt64}}

	twoKeys := []Field{{Name: "id", Kind: KindInt64}, {Name: "chunk", Kind: KindInt64}}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			prevKeys := base
			if tt.name == "reordered keys" {
				prevKeys = twoKeys
			}
			// Key changes are never evolvable, in either mode
			for _, mode := range []config.EvolutionMode{config.EvolutionExtend, config.EvolutionStrict} {
				prev := stateWith(mode, prevKeys, nil)
				curr := stateWith(mode, tt.curr, nil)
				assert.Equal(t, NotCompatible, CheckCompatibility(prev, curr))
			}
		})
	}
}

func TestCheckCompatibilityColumnRemoval(t *testing.T) {
	keys := []Field{{Name: "id", Kind: KindInt64}}
	prevValues := []Field{
		{Name: "body", Kind: KindString, Nullable: true},
		{Name: "score", Kind: KindFloat64, Nullable: true},
	}
	currValues := []Field{{Name: "body", Kind: KindString, Nullable: true}}

	extend := CheckCompatibility(
		stateWith(config.EvolutionExtend, keys, prevValues),
		stateWith(config.EvolutionExtend, keys, currValues))
	assert.Equal(t, Compatible, extend)

	strict := CheckCompatibility(
		stateWith(config.EvolutionStrict, keys, prevValues),
		stateWith(config.EvolutionStrict, keys, currValues))
	assert.Equal(t, NotCompatible, strict)
}

func TestCheckCompatibilityColumnAddition(t *testing.T) {
	keys := []Field{{Name: "id", Kind: KindInt64}}
	prev := stateWith(config.EvolutionStrict, keys, nil)
	curr := stateWith(config.EvolutionStrict, keys, []Field{{Name: "extra", Kind: KindInt64}})
	// Additions are always evolvable via ALTER TABLE
	assert.Equal(t, Compatible, CheckCompatibility(prev, curr))
}

func TestCheckCompatibilityValueTypeChange(t *testing.T) {
	keys := []Field{{Name: "id", Kind: KindInt64}}
	prev := stateWith(config.EvolutionExtend, keys, []Field{{Name: "v", Kind: KindInt64}})
	curr := stateWith(config.EvolutionExtend, keys, []Field{{Name: "v", Kind: KindFloat64}})
	assert.Equal(t, NotCompatible, CheckCompatibility(prev, curr))
}

func TestCheckCompatibilityVectorDimensionChange(t *testing.T) {
	keys := []Field{{Name: "id", Kind: KindInt64}}
	prev := stateWith(config.EvolutionExtend, keys, []Field{{Name: "vec", Kind: KindVector, Dimension: 128}})
	curr := stateWith(config.EvolutionExtend, keys, []Field{{Name: "vec", Kind: KindVector, Dimension: 768}})
	assert.Equal(t, NotCompatible, CheckCompatibility(prev, curr))
}

func TestCheckCompatibilityIndexOnlyChange(t *testing.T) {
	keys := []Field{{Name: "id", Kind: KindInt64}}
	values := []Field{{Name: "vec", Kind: KindVector, Dimension: 128}}
	prev := stateWith(config.EvolutionStrict, keys, values)
	curr := stateWith(config.EvolutionStrict, keys, values)
	curr.VectorIndexes = []VectorIndex{{
		Name: "idx_vec_ann", FieldName: "vec",
		IndexType: VectorIndexHNSW, MetricType: "l2_distance", Dimension: 128,
	}}
	// Index changes reconcile in place and never force recreation
	assert.Equal(t, Compatible, CheckCompatibility(prev, curr))
}

func TestKeyFieldsEqual(t *testing.T) {
	a := []Field{{Name: "id", Kind: KindInt64}}
	b := []Field{{Name: "id", Kind: KindInt64, Nullable: true}}
	// Nullability is not part of key identity
	assert.True(t, KeyFieldsEqual(a, b))
	assert.False(t, KeyFieldsEqual(a, []Field{{Name: "id", Kind: KindString}}))
	assert.False(t, KeyFieldsEqual(a, nil))
}
