// Package compose builds the voice scripts and text bodies delivered to
// wake-up call owners.
package compose

import (
	"strconv"

	"github.com/twilio/twilio-go/twiml"

	"github.com/teranos/wakeup/errors"
)

// Verb is one instruction of a voice response
type Verb interface {
	twiml() twiml.Element
}

// Say speaks text
type Say struct {
	Text string
}

// Gather collects keypad digits, speaking Prompts while it waits, and
// posts them to Action
type Gather struct {
	NumDigits int
	Timeout   int // seconds
	Action    string
	Prompts   []Say
}

// Hangup ends the call
type Hangup struct{}

// VoiceResponse is an ordered list of verbs
type VoiceResponse struct {
	Verbs []Verb
}

// Say appends a Say verb
func (r *VoiceResponse) Say(text string) *VoiceResponse {
	r.Verbs = append(r.Verbs, Say{Text: text})
	return r
}

// Gather appends a Gather verb
func (r *VoiceResponse) Gather(g Gather) *VoiceResponse {
	r.Verbs = append(r.Verbs, g)
	return r
}

// Hangup appends a Hangup verb
func (r *VoiceResponse) Hangup() *VoiceResponse {
	r.Verbs = append(r.Verbs, Hangup{})
	return r
}

// Spoken returns the text of every Say, including gather prompts, in order
func (r VoiceResponse) Spoken() []string {
	var out []string
	for _, v := range r.Verbs {
		switch v := v.(type) {
		case Say:
			out = append(out, v.Text)
		case Gather:
			for _, p := range v.Prompts {
				out = append(out, p.Text)
			}
		}
	}
	return out
}

// HangsUp reports whether the response ends with a Hangup
func (r VoiceResponse) HangsUp() bool {
	if len(r.Verbs) == 0 {
		return false
	}
	_, ok := r.Verbs[len(r.Verbs)-1].(Hangup)
	return ok
}

func (s Say) twiml() twiml.Element { return &twiml.VoiceSay{Message: s.Text} }

func (g Gather) twiml() twiml.Element {
	out := &twiml.VoiceGather{
		NumDigits: strconv.Itoa(g.NumDigits),
		Timeout:   strconv.Itoa(g.Timeout),
		Action:    g.Action,
		Method:    "POST",
	}
	for _, p := range g.Prompts {
		out.InnerElements = append(out.InnerElements, p.twiml())
	}
	return out
}

func (Hangup) twiml() twiml.Element { return &twiml.VoiceHangup{} }

// TwiML renders the response as a TwiML document
func (r VoiceResponse) TwiML() ([]byte, error) {
	verbs := make([]twiml.Element, 0, len(r.Verbs))
	for _, v := range r.Verbs {
		verbs = append(verbs, v.twiml())
	}
	doc, err := twiml.Voice(verbs)
	if err != nil {
		return nil, errors.Wrap(err, "failed to render TwiML")
	}
	return []byte(doc), nil
}

var emptyTwiML = func() []byte {
	doc, err := twiml.Messages(nil)
	if err != nil {
		panic(err)
	}
	return []byte(doc)
}()

// EmptyTwiML is the acknowledgment returned to webhooks that need no reply
func EmptyTwiML() []byte {
	return emptyTwiML
}
