// Package metrics publishes pipeline counters to AWS CloudWatch. Emission is
// best effort; a metrics failure never fails the operation being measured.
package metrics

import (
	"context"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
)

// CloudWatchClient abstracts the CloudWatch PutMetricData operation for testability.
type CloudWatchClient interface {
	PutMetricData(ctx context.Context, params *cloudwatch.PutMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error)
}

// Recorder is the interface pipeline stages use to emit counters. The noop
// implementation keeps call sites unconditional.
type Recorder interface {
	CountEvent(ctx context.Context, eventType string, outcome string)
	CountCertificateIssued(ctx context.Context, projectID string)
	CountPDFRendered(ctx context.Context, outcome string, duration time.Duration)
}

// Event outcomes.
const (
	OutcomeAccepted  = "accepted"
	OutcomeDuplicate = "duplicate"
	OutcomeFailed    = "failed"
	OutcomeSuccess   = "success"
)

// CloudWatchRecorder implements Recorder against CloudWatch.
//
// Metrics emitted:
//   - WebhookEvent: Dims {EventType, Outcome}
//   - CertificateIssued: Dims {Project}
//   - PDFRendered / PDFRenderLatency: Dims {Outcome}
type CloudWatchRecorder struct {
	client    CloudWatchClient
	namespace string
	logger    *slog.Logger
}

var _ Recorder = (*CloudWatchRecorder)(nil)

// NewCloudWatchRecorder creates a Recorder publishing to the given namespace.
func NewCloudWatchRecorder(client CloudWatchClient, namespace string, logger *slog.Logger) *CloudWatchRecorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &CloudWatchRecorder{
		client:    client,
		namespace: namespace,
		logger:    logger,
	}
}

// CountEvent records one webhook event outcome.
func (m *CloudWatchRecorder) CountEvent(ctx context.Context, eventType string, outcome string) {
	m.put(ctx, cwtypes.MetricDatum{
		MetricName: aws.String("WebhookEvent"),
		Value:      aws.Float64(1),
		Unit:       cwtypes.StandardUnitCount,
		Dimensions: []cwtypes.Dimension{
			{Name: aws.String("EventType"), Value: aws.String(eventType)},
			{Name: aws.String("Outcome"), Value: aws.String(outcome)},
		},
	})
}

// CountCertificateIssued records one issued certificate.
func (m *CloudWatchRecorder) CountCertificateIssued(ctx context.Context, projectID string) {
	m.put(ctx, cwtypes.MetricDatum{
		MetricName: aws.String("CertificateIssued"),
		Value:      aws.Float64(1),
		Unit:       cwtypes.StandardUnitCount,
		Dimensions: []cwtypes.Dimension{
			{Name: aws.String("Project"), Value: aws.String(projectID)},
		},
	})
}

// CountPDFRendered records a render outcome and its latency.
func (m *CloudWatchRecorder) CountPDFRendered(ctx context.Context, outcome string, duration time.Duration) {
	m.put(ctx,
		cwtypes.MetricDatum{
			MetricName: aws.String("PDFRendered"),
			Value:      aws.Float64(1),
			Unit:       cwtypes.StandardUnitCount,
			Dimensions: []cwtypes.Dimension{
				{Name: aws.String("Outcome"), Value: aws.String(outcome)},
			},
		},
		cwtypes.MetricDatum{
			MetricName: aws.String("PDFRenderLatency"),
			Value:      aws.Float64(float64(duration.Milliseconds())),
			Unit:       cwtypes.StandardUnitMilliseconds,
			Dimensions: []cwtypes.Dimension{
				{Name: aws.String("Outcome"), Value: aws.String(outcome)},
			},
		},
	)
}

func (m *CloudWatchRecorder) put(ctx context.Context, data ...cwtypes.MetricDatum) {
	input := &cloudwatch.PutMetricDataInput{
		Namespace:  aws.String(m.namespace),
		MetricData: data,
	}
	if _, err := m.client.PutMetricData(ctx, input); err != nil {
		m.logger.WarnContext(ctx, "failed to publish metrics", slog.String("error", err.Error()))
	}
}

// NoopRecorder discards all metrics. Used when metrics are disabled and in tests.
type NoopRecorder struct{}

var _ Recorder = (*NoopRecorder)(nil)

func (NoopRecorder) CountEvent(context.Context, string, string)              {}
func (NoopRecorder) CountCertificateIssued(context.Context, string)          {}
func (NoopRecorder) CountPDFRendered(context.Context, string, time.Duration) {}
