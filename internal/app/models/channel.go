package models

import (
	"fmt"
	"strings"
)

// TopicFor returns the publish/subscribe topic carrying a channel's messages
func TopicFor(channelID string) string {
	return fmt.Sprintf("channel/%s/messages", channelID)
}

// SendDestinationFor returns the destination a client publishes send requests to
func SendDestinationFor(channelID string) string {
	return fmt.Sprintf("app/channel/%s/send", channelID)
}

// ChannelFromTopic extracts the channel id from a topic or send destination
func ChannelFromTopic(topic string) (string, bool) {
	topic = strings.TrimPrefix(topic, "app/")
	parts := strings.Split(topic, "/")
	if len(parts) != 3 || parts[0] != "channel" || parts[1] == "" {
		return "", false
	}
	if parts[2] != "messages" && parts[2] != "send" {
		return "", false
	}
	return parts[1], true
}
