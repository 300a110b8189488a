package chat

import (
	"fmt"
	"time"
)

// MetricType identifies the event a metric records.
type MetricType string

const (
	MetricChatMembersCount MetricType = "chat_members_count"
	MetricMessagePosted    MetricType = "message_posted"
	MetricMessageViews     MetricType = "message_views"
)

// MetricMeta identifies the subject of a metric event.
type MetricMeta struct {
	ChatID     int64      `bson:"chat_id,omitempty"`
	UserID     int64      `bson:"user_id,omitempty"`
	MessageKey string     `bson:"message_id,omitempty"`
	Type       MetricType `bson:"type"`
}

// Metric is an immutable metric event. Metrics are insert-only and carry no
// natural key; the store assigns one on insert.
type Metric struct {
	Meta  MetricMeta `bson:"metadata"`
	TS    time.Time  `bson:"ts"`
	Value float64    `bson:"value"`
}

// DocumentKey returns nil; metric events have no natural key.
func (m Metric) DocumentKey() any { return nil }

// MembersCountMetric records the member count observed on a chat.
func MembersCountMetric(c Chat) (Metric, error) {
	if c.MembersCount == nil {
		return Metric{}, fmt.Errorf("chat %d has no members count", c.ID)
	}
	return Metric{
		Meta:  MetricMeta{ChatID: c.ID, Type: MetricChatMembersCount},
		TS:    c.ScrapedAt,
		Value: float64(*c.MembersCount),
	}, nil
}

// MessagePostedMetric records that a message was posted in a chat.
func MessagePostedMetric(m Message) (Metric, error) {
	if m.Date.IsZero() {
		return Metric{}, fmt.Errorf("message %q has no date", m.Key)
	}
	meta := MetricMeta{ChatID: m.Chat.ID, MessageKey: m.Key, Type: MetricMessagePosted}
	if m.FromUser != nil {
		meta.UserID = m.FromUser.ID
	}
	return Metric{Meta: meta, TS: m.Date, Value: 1}, nil
}

// MessageViewsMetric records the view count observed on a message.
func MessageViewsMetric(m Message) (Metric, error) {
	if m.Views == nil {
		return Metric{}, fmt.Errorf("message %q has no view count", m.Key)
	}
	if m.Date.IsZero() {
		return Metric{}, fmt.Errorf("message %q has no date", m.Key)
	}
	return Metric{
		Meta:  MetricMeta{ChatID: m.Chat.ID, MessageKey: m.Key, Type: MetricMessageViews},
		TS:    m.Date,
		Value: float64(*m.Views),
	}, nil
}
