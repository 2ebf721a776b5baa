package cloud

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sns/types"
	"github.com/rs/zerolog"

	"github.com/ANIKETSHETTY47/environmental-safety-engine/internal/domain"
)

type snsAPI interface {
	Publish(ctx context.Context, in *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// SNSClient publishes safety notifications to one topic. The same type serves
// municipality contacts and the emergency responder topic.
type SNSClient struct {
	svc      snsAPI
	topicArn string
	log      zerolog.Logger
}

func NewSNSClient(cfg aws.Config, topicArn string, logger zerolog.Logger) *SNSClient {
	return newSNSClient(sns.NewFromConfig(cfg), topicArn, logger)
}

func newSNSClient(svc snsAPI, topicArn string, logger zerolog.Logger) *SNSClient {
	return &SNSClient{
		svc:      svc,
		topicArn: topicArn,
		log:      logger.With().Str("component", "sns").Str("topic", topicArn).Logger(),
	}
}

// SendAlert publishes one message. attrs become SNS string message attributes
// so subscribers can filter by facility or kind.
func (c *SNSClient) SendAlert(ctx context.Context, subject, message string, attrs map[string]string) error {
	input := &sns.PublishInput{
		TopicArn: aws.String(c.topicArn),
		Subject:  aws.String(truncate(subject, 100)),
		Message:  aws.String(message),
	}
	if len(attrs) > 0 {
		input.MessageAttributes = make(map[string]types.MessageAttributeValue, len(attrs))
		for k, v := range attrs {
			input.MessageAttributes[k] = types.MessageAttributeValue{
				DataType:    aws.String("String"),
				StringValue: aws.String(v),
			}
		}
	}

	result, err := c.svc.Publish(ctx, input)
	if err != nil {
		return fmt.Errorf("failed to publish to SNS: %w", err)
	}
	c.log.Debug().Str("message_id", aws.ToString(result.MessageId)).Msg("notification sent")
	return nil
}

// NotifyMunicipality tells the tank's municipality contact that the supply is depleted.
func (c *SNSClient) NotifyMunicipality(ctx context.Context, n domain.MunicipalityNotice) error {
	subject := fmt.Sprintf("Water supply %s at %s", n.Status, n.FacilityID)
	message := fmt.Sprintf(
		"Water Tank Depletion Notice\n\n"+
			"Municipality: %s\n"+
			"Contact: %s / %s\n"+
			"Facility: %s (zone %s)\n"+
			"Tank: %s\n"+
			"Status: %s\n"+
			"Level: %.1f%%\n"+
			"Alert: %s\n"+
			"Time: %s\n\n"+
			"Fire suppression sprinklers served by this tank are disabled until the level recovers.",
		n.Municipality.Name,
		n.Municipality.Phone, n.Municipality.Email,
		n.FacilityID, n.Zone,
		n.TankID,
		n.Status,
		n.LevelPct,
		n.AlertID,
		n.At.Format(time.RFC3339),
	)
	return c.SendAlert(ctx, subject, message, map[string]string{
		"kind":     "municipality",
		"facility": n.FacilityID,
		"tank":     n.TankID,
	})
}

// Execute handles EMERGENCY_NOTIFY commands.
func (c *SNSClient) Execute(ctx context.Context, cmd domain.Command) error {
	if cmd.Action != domain.ActionEmergencyNotify {
		return fmt.Errorf("sns: unsupported action %s", cmd.Action)
	}
	subject := fmt.Sprintf("EMERGENCY at %s: device %s", cmd.FacilityID, cmd.DeviceID)
	message := fmt.Sprintf(
		"Emergency Safety Alert\n\n"+
			"Facility: %s\n"+
			"Zone: %s\n"+
			"Device: %s\n"+
			"Severity: %s\n"+
			"Alert: %s\n"+
			"Time: %s\n\n"+
			"Dispatch emergency services immediately.",
		cmd.FacilityID,
		cmd.Zone,
		cmd.DeviceID,
		cmd.Tier,
		cmd.AlertID,
		cmd.IssuedAt.Format(time.RFC3339),
	)
	return c.SendAlert(ctx, subject, message, map[string]string{
		"kind":     "emergency",
		"facility": cmd.FacilityID,
	})
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
