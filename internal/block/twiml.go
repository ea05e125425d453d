package block

import "encoding/xml"

// DefaultAutoReply is sent to blocked senders through the webhook.
const DefaultAutoReply = "Your number has been blocked and your messages will not be received."

type twimlResponse struct {
	XMLName xml.Name `xml:"Response"`
	Message string   `xml:"Message"`
}

// EmptyTwiML acknowledges a webhook without sending a reply.
func EmptyTwiML() string {
	return xml.Header + "<Response></Response>"
}

// AutoReplyTwiML renders the webhook response instructing the messaging
// gateway to answer a blocked sender with the given text.
func AutoReplyTwiML(message string) string {
	if message == "" {
		message = DefaultAutoReply
	}
	body, err := xml.Marshal(twimlResponse{Message: message})
	if err != nil {
		// Marshalling a two-field struct cannot fail at runtime.
		return xml.Header + "<Response></Response>"
	}
	return xml.Header + string(body)
}
