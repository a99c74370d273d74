package service

import (
	"context"
	"sync"
	"time"

	"ai-qa-sync/pkg/events"

	"github.com/golang-jwt/jwt/v5"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (p *recordingPublisher) Publish(ctx context.Context, event events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.events))
	for _, ev := range p.events {
		out = append(out, ev.EventType())
	}
	return out
}

func tokenExpiringAt(exp time.Time) string {
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": "u-1", "exp": exp.Unix()})
	s, err := tok.SignedString([]byte("test"))
	if err != nil {
		panic(err)
	}
	return s
}
