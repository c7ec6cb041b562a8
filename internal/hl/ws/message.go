package ws

import (
	"encoding/json"
	"errors"
)

const (
	ChannelAllMids              = "allMids"
	ChannelUser                 = "user"
	ChannelUserFills            = "userFills"
	ChannelPong                 = "pong"
	ChannelSubscriptionResponse = "subscriptionResponse"
)

// Subscription is one venue feed. User is required for account feeds.
type Subscription struct {
	Type string `json:"type"`
	User string `json:"user,omitempty"`
}

func AllMids() Subscription {
	return Subscription{Type: "allMids"}
}

func UserEvents(user string) Subscription {
	return Subscription{Type: "userEvents", User: user}
}

func UserFills(user string) Subscription {
	return Subscription{Type: "userFills", User: user}
}

type subscribeMessage struct {
	Method       string       `json:"method"`
	Subscription Subscription `json:"subscription"`
}

func subscribeRequest(sub Subscription) subscribeMessage {
	return subscribeMessage{Method: "subscribe", Subscription: sub}
}

// Message is a decoded stream envelope; Data is left raw for the consumer.
type Message struct {
	Channel string          `json:"channel"`
	Data    json.RawMessage `json:"data"`
}

func ParseMessage(raw []byte) (Message, error) {
	var msg Message
	if err := json.Unmarshal(raw, &msg); err != nil {
		return Message{}, err
	}
	if msg.Channel == "" {
		return Message{}, errors.New("message has no channel")
	}
	return msg, nil
}
