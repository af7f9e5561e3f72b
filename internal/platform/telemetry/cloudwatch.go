package telemetry

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
)

// maxDatumsPerCall bounds the size of each PutMetricData request.
const maxDatumsPerCall = 20

// MetricDataAPI is the part of the CloudWatch client used by CloudWatchSink.
type MetricDataAPI interface {
	PutMetricData(ctx context.Context, params *cloudwatch.PutMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error)
}

// CloudWatchSink publishes samples as CloudWatch count metrics. Each label
// becomes a dimension.
type CloudWatchSink struct {
	client    MetricDataAPI
	namespace string
}

// NewCloudWatchSink creates a sink writing to namespace.
func NewCloudWatchSink(client MetricDataAPI, namespace string) *CloudWatchSink {
	return &CloudWatchSink{client: client, namespace: namespace}
}

// Publish implements Sink.
func (s *CloudWatchSink) Publish(ctx context.Context, samples []Sample) error {
	data := make([]types.MetricDatum, 0, len(samples))
	for _, sm := range samples {
		dims := make([]types.Dimension, 0, len(sm.Labels))
		for _, l := range sm.Labels {
			dims = append(dims, types.Dimension{Name: aws.String(l.Name), Value: aws.String(l.Value)})
		}
		data = append(data, types.MetricDatum{
			MetricName: aws.String(sm.Name),
			Dimensions: dims,
			Value:      aws.Float64(float64(sm.Value)),
			Unit:       types.StandardUnitCount,
		})
	}

	for start := 0; start < len(data); start += maxDatumsPerCall {
		end := min(start+maxDatumsPerCall, len(data))
		_, err := s.client.PutMetricData(ctx, &cloudwatch.PutMetricDataInput{
			Namespace:  aws.String(s.namespace),
			MetricData: data[start:end],
		})
		if err != nil {
			return fmt.Errorf("put metric data: %w", err)
		}
	}
	return nil
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(ctx context.Context, samples []Sample) error

// Publish implements Sink.
func (f SinkFunc) Publish(ctx context.Context, samples []Sample) error {
	return f(ctx, samples)
}
