package queue

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/caseflow/internal/caseevent"
	"github.com/linnemanlabs/caseflow/internal/triage"
)

type fakeMsg struct {
	data   []byte
	acked  bool
	naked  bool
	termed bool
}

func (m *fakeMsg) Data() []byte { return m.data }
func (m *fakeMsg) Ack() error   { m.acked = true; return nil }
func (m *fakeMsg) Nak() error   { m.naked = true; return nil }
func (m *fakeMsg) Term() error  { m.termed = true; return nil }

type fakeProcessor struct {
	err   error
	calls int
	last  *caseevent.Payload
}

func (p *fakeProcessor) Process(_ context.Context, ev *caseevent.Payload) (*triage.Response, error) {
	p.calls++
	p.last = ev
	if p.err != nil {
		return nil, p.err
	}
	return &triage.Response{}, nil
}

func newTestWorker(p Processor) *Worker {
	return &Worker{processor: p, budget: time.Second, logger: log.Nop()}
}

const validBody = `{"case_number":"CS600","case_sys_id":"sys-600","short_description":"mail down"}`

func TestHandle_ValidPayloadAcks(t *testing.T) {
	t.Parallel()

	p := &fakeProcessor{}
	w := newTestWorker(p)
	msg := &fakeMsg{data: []byte(validBody)}

	w.handle(msg)

	if !msg.acked || msg.naked || msg.termed {
		t.Errorf("msg state ack=%v nak=%v term=%v, want ack only", msg.acked, msg.naked, msg.termed)
	}
	if p.calls != 1 || p.last.CaseNumber != "CS600" {
		t.Errorf("processor calls=%d last=%+v", p.calls, p.last)
	}
}

func TestHandle_WrappedPayloadAcks(t *testing.T) {
	t.Parallel()

	p := &fakeProcessor{}
	w := newTestWorker(p)
	msg := &fakeMsg{data: []byte(`{"body":` + validBody + `}`)}

	w.handle(msg)

	if !msg.acked {
		t.Error("wrapped payload not acked")
	}
	if p.last.CaseNumber != "CS600" {
		t.Errorf("case number = %q after unwrap", p.last.CaseNumber)
	}
}

func TestHandle_InvalidPayloadTerminates(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		body string
	}{
		{"malformed json", `{"case_number":`},
		{"missing required fields", `{"case_number":"CS601"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			p := &fakeProcessor{}
			w := newTestWorker(p)
			msg := &fakeMsg{data: []byte(tt.body)}

			w.handle(msg)

			if !msg.termed || msg.acked || msg.naked {
				t.Errorf("msg state ack=%v nak=%v term=%v, want term only", msg.acked, msg.naked, msg.termed)
			}
			if p.calls != 0 {
				t.Errorf("processor called %d times for invalid payload", p.calls)
			}
		})
	}
}

func TestHandle_ProcessingFailureNaks(t *testing.T) {
	t.Parallel()

	p := &fakeProcessor{err: errors.New("classifier exhausted retries")}
	w := newTestWorker(p)
	msg := &fakeMsg{data: []byte(validBody)}

	w.handle(msg)

	if !msg.naked || msg.acked || msg.termed {
		t.Errorf("msg state ack=%v nak=%v term=%v, want nak only", msg.acked, msg.naked, msg.termed)
	}
}
