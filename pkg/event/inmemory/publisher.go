/*
Copyright Educred Contributors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package inmemory is an in-process event bus used when no external broker is
// configured.
package inmemory

import (
	"sync"

	"github.com/trustbloc/logutil-go/pkg/log"

	"github.com/educred/issuer/pkg/event/spi"
)

var logger = log.New("event-bus")

// Subscriber receives published events.
type Subscriber func(event *spi.Event)

// Publisher dispatches events to in-process subscribers, synchronously and in
// subscription order.
type Publisher struct {
	mu          sync.RWMutex
	subscribers map[string][]Subscriber
}

// NewPublisher creates a Publisher.
func NewPublisher() *Publisher {
	return &Publisher{
		subscribers: make(map[string][]Subscriber),
	}
}

// Subscribe registers a subscriber for a topic.
func (p *Publisher) Subscribe(topic string, sub Subscriber) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.subscribers[topic] = append(p.subscribers[topic], sub)
}

// Publish delivers events to every subscriber of the topic.
func (p *Publisher) Publish(topic string, events ...*spi.Event) error {
	p.mu.RLock()
	subs := p.subscribers[topic]
	p.mu.RUnlock()

	for _, event := range events {
		logger.Debug("publishing event " + string(event.Type))

		for _, sub := range subs {
			sub(event)
		}
	}

	return nil
}
