// Package sandbox is an in-memory delivery provider that records every
// request instead of contacting a gateway.
package sandbox

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Kinds of recorded deliveries
const (
	KindCall = "call"
	KindText = "text"
)

// Delivery is one recorded request
type Delivery struct {
	Kind          string
	TransactionID string
	Destination   string
	CallbackURL   string
	Body          string
	At            time.Time
}

// Provider records deliveries. The zero value is not usable; call New.
type Provider struct {
	mu         sync.Mutex
	deliveries []Delivery
	seq        int
	codes      map[string]string

	// Fail, when set, is returned by PlaceCall and SendText
	Fail error
	// Delay blocks each delivery for the given duration or until ctx ends
	Delay time.Duration
}

// New creates an empty sandbox provider
func New() *Provider {
	return &Provider{codes: make(map[string]string)}
}

// Enabled reports true
func (p *Provider) Enabled() bool { return true }

// PlaceCall records a call and returns a CA-prefixed id
func (p *Provider) PlaceCall(ctx context.Context, destination, callbackURL string) (string, error) {
	return p.record(ctx, Delivery{Kind: KindCall, Destination: destination, CallbackURL: callbackURL}, "CA")
}

// SendText records a text and returns an SM-prefixed id
func (p *Provider) SendText(ctx context.Context, destination, body string) (string, error) {
	return p.record(ctx, Delivery{Kind: KindText, Destination: destination, Body: body}, "SM")
}

// SendVerificationCode issues the fixed code 123456 for the destination
func (p *Provider) SendVerificationCode(_ context.Context, destination string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.codes[destination] = "123456"
	return true
}

// CheckVerificationCode accepts the issued code once
func (p *Provider) CheckVerificationCode(_ context.Context, destination, code string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	want, ok := p.codes[destination]
	if !ok || want != code {
		return false
	}
	delete(p.codes, destination)
	return true
}

// Deliveries returns a copy of everything recorded so far
func (p *Provider) Deliveries() []Delivery {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Delivery, len(p.deliveries))
	copy(out, p.deliveries)
	return out
}

// Texts returns recorded texts to destination
func (p *Provider) Texts(destination string) []Delivery {
	var out []Delivery
	for _, d := range p.Deliveries() {
		if d.Kind == KindText && d.Destination == destination {
			out = append(out, d)
		}
	}
	return out
}

func (p *Provider) record(ctx context.Context, d Delivery, prefix string) (string, error) {
	if p.Delay > 0 {
		select {
		case <-time.After(p.Delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Fail != nil {
		return "", p.Fail
	}
	p.seq++
	d.TransactionID = fmt.Sprintf("%s%06d", prefix, p.seq)
	d.At = time.Now()
	p.deliveries = append(p.deliveries, d)
	return d.TransactionID, nil
}
