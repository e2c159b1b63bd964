package iot

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"parking_reserve/internal/domain"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/iotdataplane"
)

// CommandPublisher đẩy lệnh đổi đèn hiển thị slot xuống thiết bị qua
// AWS IoT data plane.
type CommandPublisher struct {
	iotDataClient *iotdataplane.Client
}

func NewCommandPublisher(client *iotdataplane.Client) *CommandPublisher {
	return &CommandPublisher{iotDataClient: client}
}

func (p *CommandPublisher) PublishSlotDisplay(ctx context.Context, deviceUID string, state domain.SlotStatus, requestID string) error {
	topic := fmt.Sprintf("parking_reserve/command/slots/%s", deviceUID)

	payload := domain.SlotDisplayCommandPayload{
		State:     string(state),
		RequestID: requestID,
	}
	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("lỗi marshal payload lệnh hiển thị: %w", err)
	}

	log.Printf("Đang publish trạng thái '%s' (ReqID: %s) tới topic %s", state, requestID, topic)
	_, err = p.iotDataClient.Publish(ctx, &iotdataplane.PublishInput{
		Topic:   aws.String(topic),
		Qos:     1,
		Payload: payloadBytes,
	})
	if err != nil {
		return fmt.Errorf("lỗi publish lệnh MQTT: %w", err)
	}
	return nil
}
