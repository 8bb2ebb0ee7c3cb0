package store

import (
	"context"
	"sync"
)

// LocalMessage mirrors redis.Message for the in-memory hub.
type LocalMessage struct {
	Channel string
	Payload string
}

// LocalPubSub is one subscriber's view of the in-memory hub. It mirrors the
// redis.PubSub surface the websocket layer relies on.
type LocalPubSub struct {
	channels map[string]bool
	msgChan  chan *LocalMessage
	closeCh  chan struct{}
	closed   bool
	mu       sync.RWMutex
}

func newLocalPubSub(channels []string) *LocalPubSub {
	channelMap := make(map[string]bool, len(channels))
	for _, ch := range channels {
		channelMap[ch] = true
	}
	return &LocalPubSub{
		channels: channelMap,
		msgChan:  make(chan *LocalMessage, 100),
		closeCh:  make(chan struct{}),
	}
}

// Channel returns the message stream.
func (s *LocalPubSub) Channel() <-chan *LocalMessage {
	return s.msgChan
}

func (s *LocalPubSub) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.closed {
		s.closed = true
		close(s.closeCh)
		close(s.msgChan)
	}
	return nil
}

// send delivers without blocking; a full subscriber drops the message rather
// than stalling the publisher.
func (s *LocalPubSub) send(msg *LocalMessage) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed || !s.channels[msg.Channel] {
		return
	}
	select {
	case s.msgChan <- msg:
	default:
	}
}

// PubSubHub fans published messages out to local subscribers when Redis is
// not in play.
type PubSubHub struct {
	subscribers map[string][]*LocalPubSub
	mu          sync.RWMutex
}

func NewPubSubHub() *PubSubHub {
	return &PubSubHub{
		subscribers: make(map[string][]*LocalPubSub),
	}
}

// Subscribe registers a new subscriber for the given channels. The
// subscription is torn down when ctx ends or Close is called.
func (h *PubSubHub) Subscribe(ctx context.Context, channels ...string) *LocalPubSub {
	sub := newLocalPubSub(channels)

	h.mu.Lock()
	for _, channel := range channels {
		h.subscribers[channel] = append(h.subscribers[channel], sub)
	}
	h.mu.Unlock()

	go func() {
		select {
		case <-ctx.Done():
			sub.Close()
		case <-sub.closeCh:
		}

		h.mu.Lock()
		defer h.mu.Unlock()
		for _, channel := range channels {
			subs := h.subscribers[channel]
			for i, s := range subs {
				if s == sub {
					h.subscribers[channel] = append(subs[:i], subs[i+1:]...)
					break
				}
			}
			if len(h.subscribers[channel]) == 0 {
				delete(h.subscribers, channel)
			}
		}
	}()

	return sub
}

// Publish sends a message to every subscriber of the channel.
func (h *PubSubHub) Publish(channel, payload string) {
	h.mu.RLock()
	subs := make([]*LocalPubSub, len(h.subscribers[channel]))
	copy(subs, h.subscribers[channel])
	h.mu.RUnlock()

	msg := &LocalMessage{Channel: channel, Payload: payload}
	for _, sub := range subs {
		sub.send(msg)
	}
}
