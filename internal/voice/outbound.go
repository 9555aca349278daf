package voice

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/ent0n29/jarvis/internal/observability"
	"github.com/ent0n29/jarvis/internal/protocol"
)

var errOutboundFull = errors.New("outbound queue full")

// ChannelOutputs turns session output into protocol messages on a channel
// drained by the connection writer.
type ChannelOutputs struct {
	outbound        chan<- any
	metrics         *observability.Metrics
	criticalTimeout time.Duration
}

func NewChannelOutputs(outbound chan<- any, metrics *observability.Metrics) *ChannelOutputs {
	return &ChannelOutputs{
		outbound:        outbound,
		metrics:         metrics,
		criticalTimeout: 600 * time.Millisecond,
	}
}

// Outputs exposes c as every collaborator of a turn.
func (c *ChannelOutputs) Outputs() Outputs {
	return Outputs{Transcript: c, Speaker: c, Navigator: c, Status: c}
}

func (c *ChannelOutputs) Append(_ context.Context, msg Message) {
	c.send(protocol.TranscriptMessage{
		Type:    protocol.TypeTranscriptMessage,
		Text:    msg.Text,
		Speaker: string(msg.Speaker),
		TurnID:  msg.TurnID,
	})
}

func (c *ChannelOutputs) Speak(_ context.Context, req SpeakRequest) error {
	if !c.send(protocol.Speak{
		Type:    protocol.TypeSpeak,
		Text:    req.Text,
		VoiceID: req.Voice.VoiceID,
		Rate:    req.Voice.Rate,
		Pitch:   req.Voice.Pitch,
		Volume:  req.Voice.Volume,
		TurnID:  req.TurnID,
	}) {
		return errOutboundFull
	}
	return nil
}

func (c *ChannelOutputs) Open(_ context.Context, url string) error {
	if !c.send(protocol.Navigate{Type: protocol.TypeNavigate, URL: url}) {
		return errOutboundFull
	}
	return nil
}

func (c *ChannelOutputs) Phase(_ context.Context, p Phase) {
	c.send(protocol.State{Type: protocol.TypeState, Phase: string(p)})
}

func (c *ChannelOutputs) Status(_ context.Context, code, detail string) {
	c.send(protocol.Status{Type: protocol.TypeStatus, Code: code, Detail: detail})
}

func (c *ChannelOutputs) send(msg any) bool {
	msgType, critical := outboundMessageMeta(msg)
	record := func(result string) {
		c.metrics.ObserveOutboundMessage(msgType, result)
	}

	if !critical {
		select {
		case c.outbound <- msg:
			record("delivered")
			return true
		default:
			record("dropped")
			c.metrics.SessionEvents.WithLabelValues("outbound_drop").Inc()
			return false
		}
	}

	timer := time.NewTimer(c.criticalTimeout)
	defer timer.Stop()
	select {
	case c.outbound <- msg:
		record("delivered")
		return true
	case <-timer.C:
		record("timeout")
		c.metrics.SessionEvents.WithLabelValues("outbound_timeout_critical").Inc()
		return false
	}
}

// outboundMessageMeta reports the wire type and whether the message may wait
// for queue space instead of being dropped.
func outboundMessageMeta(msg any) (msgType string, critical bool) {
	switch m := msg.(type) {
	case protocol.TranscriptMessage:
		return string(m.Type), true
	case protocol.Speak:
		return string(m.Type), true
	case protocol.Navigate:
		return string(m.Type), true
	case protocol.ErrorEvent:
		return string(m.Type), true
	case protocol.State:
		return string(m.Type), false
	case protocol.Status:
		return string(m.Type), false
	default:
		return "unknown", false
	}
}

// Recorder collects turn output in memory. It backs the synchronous HTTP turn
// endpoint and the terminal front end.
type Recorder struct {
	mu        sync.Mutex
	Messages  []Message
	Speaks    []SpeakRequest
	Navigated []string
	Statuses  []string
	Phases    []Phase

	SpeakErr    error
	NavigateErr error
}

func (r *Recorder) Outputs() Outputs {
	return Outputs{Transcript: r, Speaker: r, Navigator: r, Status: r}
}

func (r *Recorder) Append(_ context.Context, msg Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Messages = append(r.Messages, msg)
}

func (r *Recorder) Speak(_ context.Context, req SpeakRequest) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.SpeakErr != nil {
		return r.SpeakErr
	}
	r.Speaks = append(r.Speaks, req)
	return nil
}

func (r *Recorder) Open(_ context.Context, url string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.NavigateErr != nil {
		return r.NavigateErr
	}
	r.Navigated = append(r.Navigated, url)
	return nil
}

func (r *Recorder) Phase(_ context.Context, p Phase) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Phases = append(r.Phases, p)
}

func (r *Recorder) Status(_ context.Context, code, _ string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Statuses = append(r.Statuses, code)
}

// Snapshot returns copies of the recorded slices.
func (r *Recorder) Snapshot() (messages []Message, speaks []SpeakRequest, navigated []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Message(nil), r.Messages...),
		append([]SpeakRequest(nil), r.Speaks...),
		append([]string(nil), r.Navigated...)
}

type discard struct{}

func (discard) Append(context.Context, Message) {}
func (discard) Speak(context.Context, SpeakRequest) error { return nil }
func (discard) Open(context.Context, string) error { return nil }
func (discard) Phase(context.Context, Phase) {}
func (discard) Status(context.Context, string, string) {}

// DiscardOutputs drops everything. Sessions without a live connection use it
// for phase and status events.
func DiscardOutputs() Outputs {
	d := discard{}
	return Outputs{Transcript: d, Speaker: d, Navigator: d, Status: d}
}
