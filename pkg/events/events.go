// Package events carries photo synchronization notifications to anything
// listening, most notably the server-sent event stream.
package events

import (
	"github.com/leandro-lugaresi/hub"
)

const (
	TopicPhotosFetching = "photos.fetching"
	TopicPhotosSynced   = "photos.synced"
	TopicPhotosEmpty    = "photos.empty"
	TopicPhotosFailed   = "photos.failed"
	TopicPhotosCached   = "photos.cached"

	// TopicAll matches every photo topic.
	TopicAll = "photos.*"
)

type Data = hub.Fields
type Message = hub.Message
type Subscription = hub.Subscription

var channelCap = 100

type Hub struct {
	hub *hub.Hub
}

func NewHub() *Hub {
	return &Hub{hub.New()}
}

func (h *Hub) Publish(topic string, data Data) {
	h.hub.Publish(Message{
		Name:   topic,
		Fields: data,
	})
}

// Subscribe never blocks publishers; a subscriber that falls behind loses
// messages.
func (h *Hub) Subscribe(topics ...string) Subscription {
	if len(topics) == 0 {
		topics = []string{TopicAll}
	}
	return h.hub.NonBlockingSubscribe(channelCap, topics...)
}

func (h *Hub) Unsubscribe(s Subscription) {
	h.hub.Unsubscribe(s)
}

func (h *Hub) Close() {
	h.hub.Close()
}
