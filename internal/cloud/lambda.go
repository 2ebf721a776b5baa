package cloud

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/lambda"
	"github.com/aws/aws-sdk-go-v2/service/lambda/types"

	"github.com/ANIKETSHETTY47/environmental-safety-engine/internal/domain"
)

type lambdaAPI interface {
	Invoke(ctx context.Context, in *lambda.InvokeInput, optFns ...func(*lambda.Options)) (*lambda.InvokeOutput, error)
}

// DroneClient hands DRONE_DEPLOY commands to the drone dispatch function.
type DroneClient struct {
	svc      lambdaAPI
	function string
}

func NewDroneClient(cfg aws.Config, function string) *DroneClient {
	return &DroneClient{svc: lambda.NewFromConfig(cfg), function: function}
}

// DronePayload is the input of the drone dispatch function.
type DronePayload struct {
	FacilityID string `json:"facility_id"`
	Zone       string `json:"zone"`
	DeviceID   string `json:"device_id"`
	AlertID    string `json:"alert_id"`
	Severity   string `json:"severity"`
	IssuedAt   int64  `json:"issued_at"`
}

// Execute invokes the function asynchronously; the engine never waits on a flight.
func (c *DroneClient) Execute(ctx context.Context, cmd domain.Command) error {
	if cmd.Action != domain.ActionDroneDeploy {
		return fmt.Errorf("lambda: unsupported action %s", cmd.Action)
	}
	issued := cmd.IssuedAt
	if issued.IsZero() {
		issued = time.Now()
	}
	payloadBytes, err := json.Marshal(DronePayload{
		FacilityID: cmd.FacilityID,
		Zone:       cmd.Zone,
		DeviceID:   cmd.DeviceID,
		AlertID:    cmd.AlertID,
		Severity:   cmd.Tier.String(),
		IssuedAt:   issued.Unix(),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	result, err := c.svc.Invoke(ctx, &lambda.InvokeInput{
		FunctionName:   aws.String(c.function),
		Payload:        payloadBytes,
		InvocationType: types.InvocationTypeEvent,
	})
	if err != nil {
		return fmt.Errorf("failed to invoke Lambda: %w", err)
	}
	if result.FunctionError != nil {
		return fmt.Errorf("Lambda function error: %s", *result.FunctionError)
	}
	return nil
}
