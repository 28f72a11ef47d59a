// Package cloudmetrics pushes pipeline and system metrics to an external
// monitoring sink (CloudWatch in production). Emission is fire-and-forget:
// failures are logged, never propagated, and never block pipeline progress.
package cloudmetrics

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
)

// Sink is the narrow push contract for a metrics backend.
type Sink interface {
	PutMetric(ctx context.Context, name string, value float64, unit string, dims map[string]string) error
}

// cwAPI is the subset of the CloudWatch client used, substitutable in tests.
type cwAPI interface {
	PutMetricData(ctx context.Context, in *cloudwatch.PutMetricDataInput, opts ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error)
}

// CloudWatchSink implements Sink against a CloudWatch namespace.
type CloudWatchSink struct {
	Namespace string
	client    cwAPI
}

// NewCloudWatchSink loads the default AWS config for region and returns a
// sink publishing under namespace.
func NewCloudWatchSink(ctx context.Context, region, namespace string) (*CloudWatchSink, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return &CloudWatchSink{
		Namespace: namespace,
		client:    cloudwatch.NewFromConfig(cfg),
	}, nil
}

// PutMetric implements Sink.PutMetric.
func (s *CloudWatchSink) PutMetric(ctx context.Context, name string, value float64, unit string, dims map[string]string) error {
	datum := cwtypes.MetricDatum{
		MetricName: aws.String(name),
		Value:      aws.Float64(value),
		Unit:       cwtypes.StandardUnit(unit),
		Timestamp:  aws.Time(time.Now().UTC()),
	}
	// Stable dimension order keeps request bodies deterministic.
	keys := make([]string, 0, len(dims))
	for k := range dims {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		datum.Dimensions = append(datum.Dimensions, cwtypes.Dimension{
			Name:  aws.String(k),
			Value: aws.String(dims[k]),
		})
	}
	_, err := s.client.PutMetricData(ctx, &cloudwatch.PutMetricDataInput{
		Namespace:  aws.String(s.Namespace),
		MetricData: []cwtypes.MetricDatum{datum},
	})
	return err
}

// Reporter wraps a Sink with default dimensions and swallow-and-log error
// handling. A nil Reporter or a Reporter with a nil Sink discards metrics.
type Reporter struct {
	Sink        Sink
	DefaultDims map[string]string
	Log         *slog.Logger
}

// Emit pushes one metric, merging the default dimensions under dims.
// It never returns an error and never blocks beyond the sink call itself.
func (r *Reporter) Emit(ctx context.Context, name string, value float64, unit string, dims map[string]string) {
	if r == nil || r.Sink == nil {
		return
	}
	merged := make(map[string]string, len(r.DefaultDims)+len(dims))
	for k, v := range r.DefaultDims {
		merged[k] = v
	}
	for k, v := range dims {
		merged[k] = v
	}
	if err := r.Sink.PutMetric(ctx, name, value, unit, merged); err != nil {
		if r.Log != nil {
			r.Log.Error("failed to emit metric", "name", name, "error", err)
		}
	}
}
