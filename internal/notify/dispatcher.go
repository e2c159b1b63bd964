package notify

import (
	"context"
	"encoding/json"
	"log"
	"parking_reserve/internal/domain"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
)

// SQSDispatcher đẩy notification reservation lên queue cho downstream
// (email, push...). Fire-and-forget: lỗi chỉ log, không trả về caller.
type SQSDispatcher struct {
	sqsClient *sqs.Client
	queueURL  string
}

func NewSQSDispatcher(client *sqs.Client, queueURL string) *SQSDispatcher {
	return &SQSDispatcher{sqsClient: client, queueURL: queueURL}
}

func (d *SQSDispatcher) Dispatch(ctx context.Context, n domain.ReservationNotification) {
	body, err := json.Marshal(n)
	if err != nil {
		log.Printf("Dispatcher: lỗi marshal notification %s: %v", n.NotificationID, err)
		return
	}

	_, err = d.sqsClient.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(d.queueURL),
		MessageBody: aws.String(string(body)),
	})
	if err != nil {
		log.Printf("Dispatcher: lỗi gửi notification %s (type %s) lên SQS: %v", n.NotificationID, n.Type, err)
		return
	}
	log.Printf("Dispatcher: đã gửi notification %s (type %s, reservation %d)", n.NotificationID, n.Type, n.ReservationID)
}

// LogDispatcher dùng khi SQS_NOTIFY_QUEUE_URL chưa được cấu hình.
type LogDispatcher struct{}

func NewLogDispatcher() *LogDispatcher {
	return &LogDispatcher{}
}

func (d *LogDispatcher) Dispatch(_ context.Context, n domain.ReservationNotification) {
	log.Printf("Notification (log-only): type=%s reservation=%d user=%d slot=%d", n.Type, n.ReservationID, n.UserID, n.SlotID)
}
