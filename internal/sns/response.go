package sns

import (
	"encoding/xml"
	"fmt"
)

// Namespace is the xmlns of every publish acknowledgment.
const Namespace = "http://sns.amazonaws.com/doc/2010-03-31/"

// PublishResponse is the acknowledgment returned to a publisher.
type PublishResponse struct {
	MessageID string
	RequestID string
}

// NewPublishResponse builds an acknowledgment with a fresh request id. An
// empty messageID is replaced by a fresh one.
func NewPublishResponse(messageID string) PublishResponse {
	if messageID == "" {
		messageID = newID()
	}
	return PublishResponse{MessageID: messageID, RequestID: newID()}
}

type publishResponseXML struct {
	XMLName  xml.Name `xml:"http://sns.amazonaws.com/doc/2010-03-31/ PublishResponse"`
	Result   publishResultXML
	Metadata responseMetadataXML
}

type publishResultXML struct {
	XMLName   xml.Name `xml:"PublishResult"`
	MessageID string   `xml:"MessageId"`
}

type responseMetadataXML struct {
	XMLName   xml.Name `xml:"ResponseMetadata"`
	RequestID string   `xml:"RequestId"`
}

// Marshal encodes the acknowledgment in the publish API's XML shape.
func (r PublishResponse) Marshal() ([]byte, error) {
	b, err := xml.Marshal(publishResponseXML{
		Result:   publishResultXML{MessageID: r.MessageID},
		Metadata: responseMetadataXML{RequestID: r.RequestID},
	})
	if err != nil {
		return nil, fmt.Errorf("marshal publish response: %w", err)
	}
	return b, nil
}

// ParsePublishResponse decodes an acknowledgment produced by Marshal.
func ParsePublishResponse(data []byte) (PublishResponse, error) {
	var doc publishResponseXML
	if err := xml.Unmarshal(data, &doc); err != nil {
		return PublishResponse{}, fmt.Errorf("parse publish response: %w", err)
	}
	return PublishResponse{MessageID: doc.Result.MessageID, RequestID: doc.Metadata.RequestID}, nil
}
