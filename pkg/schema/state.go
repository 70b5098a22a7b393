package schema

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/datalith/doris-target/pkg/config"
	"github.com/datalith/doris-target/pkg/logger"
)

// TableKey is the immutable identity of one target table. It is derived once
// from a target configuration and used as the persisted-state map key across
// deployments.
type TableKey struct {
	FEHost   string `yaml:"fe_host" json:"fe_host"`
	Database string `yaml:"database" json:"database"`
	Table    string `yaml:"table" json:"table"`
}

// Describe returns a human-readable identity string for operator logs
func (k TableKey) Describe() string {
	return fmt.Sprintf("Doris table %s.%s@%s", k.Database, k.Table, k.FEHost)
}

// SimilarityMetric is a vector similarity metric requested for an ANN index
type SimilarityMetric string

const (
	MetricL2Distance       SimilarityMetric = "l2_distance"
	MetricInnerProduct     SimilarityMetric = "inner_product"
	MetricCosineSimilarity SimilarityMetric = "cosine_similarity"
)

// VectorIndexType selects the ANN index algorithm
type VectorIndexType string

const (
	VectorIndexHNSW VectorIndexType = "hnsw"
	VectorIndexIVF  VectorIndexType = "ivf"
)

// VectorIndex is the resolved definition of one ANN index. Identity is the
// Name; any parameter difference between a previous and current definition
// means drop-and-recreate.
type VectorIndex struct {
	Name      string `yaml:"name" json:"name"`
	FieldName string `yaml:"field_name" json:"field_name"`
	// IndexType is "hnsw" or "ivf"
	IndexType VectorIndexType `yaml:"index_type" json:"index_type"`
	// MetricType is "l2_distance" or "inner_product"
	MetricType string `yaml:"metric_type" json:"metric_type"`
	Dimension  int    `yaml:"dimension" json:"dimension"`
	// HNSW parameters (0 = unset)
	MaxDegree      int `yaml:"max_degree,omitempty" json:"max_degree,omitempty"`
	EfConstruction int `yaml:"ef_construction,omitempty" json:"ef_construction,omitempty"`
	// IVF parameters (0 = unset)
	NList int `yaml:"nlist,omitempty" json:"nlist,omitempty"`
}

// InvertedIndex is the resolved definition of one token-based text index
type InvertedIndex struct {
	Name      string `yaml:"name" json:"name"`
	FieldName string `yaml:"field_name" json:"field_name"`
	// Parser selects the tokenizer ("english", "chinese", ...); empty uses
	// the engine default.
	Parser string `yaml:"parser,omitempty" json:"parser,omitempty"`
}

// DesiredState is one versioned schema snapshot. It is derived by the
// orchestrator from the declared schema, compared pairwise (previous vs
// current) on every deployment, and never mutated in place.
type DesiredState struct {
	KeyFields       []Field              `yaml:"key_fields" json:"key_fields"`
	ValueFields     []Field              `yaml:"value_fields" json:"value_fields"`
	VectorIndexes   []VectorIndex        `yaml:"vector_indexes,omitempty" json:"vector_indexes,omitempty"`
	InvertedIndexes []InvertedIndex      `yaml:"inverted_indexes,omitempty" json:"inverted_indexes,omitempty"`
	ReplicationNum  int                  `yaml:"replication_num" json:"replication_num"`
	Buckets         string               `yaml:"buckets" json:"buckets"`
	Evolution       config.EvolutionMode `yaml:"evolution" json:"evolution"`
	AutoCreateTable bool                 `yaml:"auto_create_table" json:"auto_create_table"`
}

// KeyFieldNames returns the ordered key column names
func (s *DesiredState) KeyFieldNames() []string {
	names := make([]string, len(s.KeyFields))
	for i, f := range s.KeyFields {
		names[i] = f.Name
	}
	return names
}

// ValueField returns the value field with the given name, if present
func (s *DesiredState) ValueField(name string) (Field, bool) {
	for _, f := range s.ValueFields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

// VectorIndexOption is an orchestrator request for an ANN index on a field
type VectorIndexOption struct {
	FieldName string
	Metric    SimilarityMetric
	// Method tunes the index; nil selects HNSW with engine defaults
	Method VectorIndexMethod
}

// VectorIndexMethod is a kind-specific parameter set for a vector index
type VectorIndexMethod interface {
	vectorIndexMethod()
}

// HNSWMethod requests an HNSW index. M maps to max_degree in Doris.
type HNSWMethod struct {
	M              int
	EfConstruction int
}

func (HNSWMethod) vectorIndexMethod() {}

// IVFFlatMethod requests an IVF index. Lists maps to nlist in Doris.
type IVFFlatMethod struct {
	Lists int
}

func (IVFFlatMethod) vectorIndexMethod() {}

// InvertedIndexOption is an orchestrator request for a text index on a field
type InvertedIndexOption struct {
	FieldName string
	Parser    string
}

// IndexOptions collects the requested indexes for one target
type IndexOptions struct {
	VectorIndexes   []VectorIndexOption
	InvertedIndexes []InvertedIndexOption
}

// metricTypeFor maps a similarity metric to the Doris metric name. The
// second result is false for metrics that cannot be indexed in Doris 4.0
// (cosine), which can only run as full scans.
func metricTypeFor(metric SimilarityMetric) (string, bool) {
	switch metric {
	case MetricL2Distance:
		return "l2_distance", true
	case MetricInnerProduct:
		return "inner_product", true
	case MetricCosineSimilarity:
		return "cosine_distance", false
	default:
		return "", false
	}
}

// PersistentKey derives the table identity from a target configuration.
// Pure and deterministic.
func PersistentKey(cfg *config.TargetConfig) TableKey {
	return TableKey{
		FEHost:   cfg.Connection.FEHost,
		Database: cfg.Connection.Database,
		Table:    cfg.Connection.TableName,
	}
}

// DeriveState builds the desired-state snapshot for a deployment from the
// declared schema and index options.
//
// A requested vector index whose field has no resolvable fixed dimension is
// dropped with a warning: the field is stored as JSON and cannot be indexed.
// A cosine-similarity index is likewise skipped with a warning, since Doris
// 4.0 cannot index that metric.
func DeriveState(cfg *config.TargetConfig, keyFields, valueFields []Field, opts IndexOptions) (*DesiredState, error) {
	if len(keyFields) == 0 {
		return nil, fmt.Errorf("doris target requires at least one key field")
	}

	var vectorIndexes []VectorIndex
	for _, opt := range opts.VectorIndexes {
		metricType, indexable := metricTypeFor(opt.Metric)
		if metricType == "" {
			return nil, fmt.Errorf("unsupported vector metric: %s", opt.Metric)
		}
		if !indexable {
			logger.Warn("cosine distance does not support a vector index in Doris 4.0, "+
				"queries will use a full table scan; consider l2_distance or inner_product",
				zap.String("field", opt.FieldName))
			continue
		}

		dimension := vectorDimension(valueFields, opt.FieldName)
		if dimension == 0 {
			logger.Warn("field has no fixed vector dimension, it will be stored as JSON "+
				"and no vector index will be created",
				zap.String("field", opt.FieldName))
			continue
		}

		idx := VectorIndex{
			Name:       fmt.Sprintf("idx_%s_ann", opt.FieldName),
			FieldName:  opt.FieldName,
			IndexType:  VectorIndexHNSW,
			MetricType: metricType,
			Dimension:  dimension,
		}
		switch m := opt.Method.(type) {
		case HNSWMethod:
			idx.IndexType = VectorIndexHNSW
			idx.MaxDegree = m.M
			idx.EfConstruction = m.EfConstruction
		case IVFFlatMethod:
			idx.IndexType = VectorIndexIVF
			idx.NList = m.Lists
		}
		vectorIndexes = append(vectorIndexes, idx)
	}

	var invertedIndexes []InvertedIndex
	for _, opt := range opts.InvertedIndexes {
		invertedIndexes = append(invertedIndexes, InvertedIndex{
			Name:      fmt.Sprintf("idx_%s_inv", opt.FieldName),
			FieldName: opt.FieldName,
			Parser:    opt.Parser,
		})
	}

	return &DesiredState{
		KeyFields:       keyFields,
		ValueFields:     valueFields,
		VectorIndexes:   vectorIndexes,
		InvertedIndexes: invertedIndexes,
		ReplicationNum:  cfg.Table.ReplicationNum,
		Buckets:         cfg.Table.Buckets,
		Evolution:       cfg.SchemaEvolution,
		AutoCreateTable: cfg.AutoCreateTable,
	}, nil
}

// vectorDimension returns the fixed dimension of the named vector field, or
// 0 when the field is absent, not a vector, or has no fixed dimension.
func vectorDimension(valueFields []Field, name string) int {
	for _, f := range valueFields {
		if f.Name == name {
			if f.Kind == KindVector {
				return f.Dimension
			}
			return 0
		}
	}
	return 0
}
