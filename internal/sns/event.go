// Package sns holds the simulator core: the notification event and publish
// response shapes, the topic registry and the dispatcher that fans a publish
// out to the registered subscribers.
package sns

import "github.com/google/uuid"

const (
	EventSource      = "aws:sns"
	EventVersion     = "1.0"
	NotificationType = "Notification"
)

// PublishInput is the part of a publish request the simulator acts on.
type PublishInput struct {
	TopicArn string
	Subject  string
	Message  string
}

// Event is the notification envelope a subscriber receives.
type Event struct {
	Records []Record `json:"Records"`
}

type Record struct {
	EventSource       string       `json:"EventSource"`
	EventVersion      string       `json:"EventVersion"`
	EventSubscription string       `json:"EventSubscription,omitempty"`
	Sns               Notification `json:"Sns"`
}

type Notification struct {
	Type      string `json:"Type"`
	MessageID string `json:"MessageId"`
	TopicArn  string `json:"TopicArn"`
	Subject   string `json:"Subject,omitempty"`
	Message   string `json:"Message"`
}

// NewEvent builds the single-record envelope for a publish. An empty
// messageID is replaced by a fresh one.
func NewEvent(in PublishInput, messageID string) Event {
	if messageID == "" {
		messageID = newID()
	}
	return Event{
		Records: []Record{{
			EventSource:  EventSource,
			EventVersion: EventVersion,
			Sns: Notification{
				Type:      NotificationType,
				MessageID: messageID,
				TopicArn:  in.TopicArn,
				Subject:   in.Subject,
				Message:   in.Message,
			},
		}},
	}
}

// WithSubscription returns a copy of e whose records carry the given
// subscription binding. e itself is left untouched.
func (e Event) WithSubscription(binding string) Event {
	records := make([]Record, len(e.Records))
	copy(records, e.Records)
	for i := range records {
		records[i].EventSubscription = binding
	}
	return Event{Records: records}
}

// MessageID returns the message id of the first record.
func (e Event) MessageID() string {
	if len(e.Records) == 0 {
		return ""
	}
	return e.Records[0].Sns.MessageID
}

// Binding is the subscription binding value for a topic and subscription id.
func Binding(topicArn, subscriptionID string) string {
	return topicArn + ":" + subscriptionID
}

func newID() string {
	return uuid.NewString()
}
