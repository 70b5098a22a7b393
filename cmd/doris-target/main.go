// Command doris-target applies declarative schema changes to an Apache Doris
// table and inspects target compatibility, using the same reconciliation
// core the pipeline connector runs.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/datalith/doris-target/pkg/config"
	"github.com/datalith/doris-target/pkg/doris"
	"github.com/datalith/doris-target/pkg/logger"
	"github.com/datalith/doris-target/pkg/schema"
)

var version = "0.1.0"

// schemaFile is the on-disk declarative schema for one target
type schemaFile struct {
	KeyFields   []schema.Field `yaml:"key_fields"`
	ValueFields []schema.Field `yaml:"value_fields"`

	VectorIndexes []struct {
		Field          string `yaml:"field"`
		Metric         string `yaml:"metric"`
		Method         string `yaml:"method"` // hnsw or ivf
		M              int    `yaml:"m"`
		EfConstruction int    `yaml:"ef_construction"`
		Lists          int    `yaml:"lists"`
	} `yaml:"vector_indexes"`

	InvertedIndexes []struct {
		Field  string `yaml:"field"`
		Parser string `yaml:"parser"`
	} `yaml:"inverted_indexes"`
}

func (sf *schemaFile) indexOptions() schema.IndexOptions {
	var opts schema.IndexOptions
	for _, v := range sf.VectorIndexes {
		opt := schema.VectorIndexOption{
			FieldName: v.Field,
			Metric:    schema.SimilarityMetric(v.Metric),
		}
		switch v.Method {
		case "ivf":
			opt.Method = schema.IVFFlatMethod{Lists: v.Lists}
		default:
			opt.Method = schema.HNSWMethod{M: v.M, EfConstruction: v.EfConstruction}
		}
		opts.VectorIndexes = append(opts.VectorIndexes, opt)
	}
	for _, i := range sf.InvertedIndexes {
		opts.InvertedIndexes = append(opts.InvertedIndexes, schema.InvertedIndexOption{
			FieldName: i.Field,
			Parser:    i.Parser,
		})
	}
	return opts
}

func loadConnector(configPath string) (*doris.Connector, error) {
	cfg := config.NewTargetConfig("", "", "")
	if err := config.Load(configPath, cfg); err != nil {
		return nil, err
	}
	return doris.New(cfg)
}

func deriveState(conn *doris.Connector, schemaPath string) (*schema.DesiredState, error) {
	var sf schemaFile
	if err := config.Load(schemaPath, &sf); err != nil {
		return nil, err
	}
	return conn.SetupState(sf.KeyFields, sf.ValueFields, sf.indexOptions())
}

func main() {
	var logLevel string

	root := &cobra.Command{
		Use:   "doris-target",
		Short: "Apache Doris target schema reconciliation",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return logger.Init(logger.Config{Level: logLevel, Encoding: "console"})
		},
	}
	root.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")

	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("doris-target %s\n", version)
		},
	})

	var (
		configPath   string
		schemaPath   string
		previousPath string
		stateOut     string
		timeout      time.Duration
	)

	applyCmd := &cobra.Command{
		Use:   "apply",
		Short: "Reconcile the live table with the declared schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			conn, err := loadConnector(configPath)
			if err != nil {
				return err
			}

			current, err := deriveState(conn, schemaPath)
			if err != nil {
				return err
			}

			var previous *schema.DesiredState
			if previousPath != "" {
				previous = &schema.DesiredState{}
				if err := config.Load(previousPath, previous); err != nil {
					return err
				}
				if conn.CheckCompatibility(previous, current) == schema.NotCompatible {
					return fmt.Errorf("declared schema is not compatible with the previous state; " +
						"the table must be recreated (key or type change)")
				}
			}

			ctx, cancel := context.WithTimeout(context.Background(), timeout)
			defer cancel()

			key := conn.PersistentKey()
			if err := conn.ApplySetupChange(ctx, key, previous, current); err != nil {
				return err
			}
			logger.Info("setup change applied", zap.String("target", conn.Describe(key)))

			if stateOut != "" {
				if err := config.Save(stateOut, current); err != nil {
					return err
				}
			}
			return nil
		},
	}
	applyCmd.Flags().StringVarP(&configPath, "config", "c", "", "target config YAML (required)")
	applyCmd.Flags().StringVarP(&schemaPath, "schema", "s", "", "declared schema YAML (required)")
	applyCmd.Flags().StringVar(&previousPath, "previous", "", "previously applied state YAML")
	applyCmd.Flags().StringVar(&stateOut, "state-out", "", "write the applied state to this file")
	applyCmd.Flags().DurationVar(&timeout, "timeout", 15*time.Minute, "overall reconciliation timeout")
	_ = applyCmd.MarkFlagRequired("config")
	_ = applyCmd.MarkFlagRequired("schema")
	root.AddCommand(applyCmd)

	var currentPath string
	checkCmd := &cobra.Command{
		Use:   "check",
		Short: "Check compatibility between two desired states",
		RunE: func(cmd *cobra.Command, args []string) error {
			var previous, current schema.DesiredState
			if err := config.Load(previousPath, &previous); err != nil {
				return err
			}
			if err := config.Load(currentPath, &current); err != nil {
				return err
			}
			fmt.Println(schema.CheckCompatibility(&previous, &current))
			return nil
		},
	}
	checkCmd.Flags().StringVar(&previousPath, "previous", "", "previous state YAML (required)")
	checkCmd.Flags().StringVar(&currentPath, "current", "", "current state YAML (required)")
	_ = checkCmd.MarkFlagRequired("previous")
	_ = checkCmd.MarkFlagRequired("current")
	root.AddCommand(checkCmd)

	var (
		table       string
		vectorField string
		metric      string
		limit       int
	)
	searchCmd := &cobra.Command{
		Use:   "search-query [vector components...]",
		Short: "Build an ANN search statement for the given query vector",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			vec := make([]float32, len(args))
			for i, a := range args {
				if _, err := fmt.Sscanf(a, "%f", &vec[i]); err != nil {
					return fmt.Errorf("invalid vector component %q", a)
				}
			}
			query, err := doris.BuildVectorSearchQuery(table, vectorField, vec, doris.SearchQueryOptions{
				Metric: metric,
				Limit:  limit,
			})
			if err != nil {
				return err
			}
			fmt.Println(query)
			return nil
		},
	}
	searchCmd.Flags().StringVar(&table, "table", "", "table name, optionally database.table (required)")
	searchCmd.Flags().StringVar(&vectorField, "field", "", "vector column name (required)")
	searchCmd.Flags().StringVar(&metric, "metric", "l2_distance", "distance metric")
	searchCmd.Flags().IntVar(&limit, "limit", 10, "result count")
	_ = searchCmd.MarkFlagRequired("table")
	_ = searchCmd.MarkFlagRequired("field")
	root.AddCommand(searchCmd)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
