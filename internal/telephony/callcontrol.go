package telephony

import (
	"context"
	"fmt"
	"time"

	"github.com/twilio/twilio-go"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"

	"github.com/lexiqai/voice-bridge/internal/config"
	"github.com/lexiqai/voice-bridge/internal/observability"
	"github.com/lexiqai/voice-bridge/internal/resilience"
)

// CallController hangs up calls on the telephony provider.
type CallController interface {
	EndCall(ctx context.Context, callSid string) error
}

type callUpdater interface {
	UpdateCall(sid string, params *twilioApi.UpdateCallParams) (*twilioApi.ApiV2010Call, error)
}

// TwilioCallController ends calls through the Twilio REST API.
type TwilioCallController struct {
	api   callUpdater
	retry *resilience.RetryConfig
}

func NewTwilioCallController(cfg *config.Config) *TwilioCallController {
	client := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: cfg.TwilioAccountSID,
		Password: cfg.TwilioAuthToken,
	})
	return &TwilioCallController{
		api: client.Api,
		retry: &resilience.RetryConfig{
			MaxAttempts:       cfg.RetryMaxAttempts,
			InitialBackoff:    time.Duration(cfg.RetryInitialBackoff) * time.Millisecond,
			MaxBackoff:        2 * time.Second,
			BackoffMultiplier: 2.0,
			Jitter:            true,
		},
	}
}

// EndCall sets the call status to completed. Network failures are retried.
func (t *TwilioCallController) EndCall(ctx context.Context, callSid string) error {
	params := &twilioApi.UpdateCallParams{}
	params.SetStatus("completed")

	err := resilience.Retry(ctx, func(ctx context.Context) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		_, err := t.api.UpdateCall(callSid, params)
		return err
	}, t.retry, resilience.IsRetryableNetworkError)

	observability.RecordEndCall(err == nil)
	if err != nil {
		return fmt.Errorf("end call %s: %w", callSid, err)
	}
	return nil
}
