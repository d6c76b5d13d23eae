package natsin

import (
	"testing"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"energy-ingest/internal/ingest"
)

type recorder struct {
	msgs []ingest.Message
}

func (r *recorder) Submit(msg ingest.Message) error {
	r.msgs = append(r.msgs, msg)
	return nil
}

func TestSubjectToTopic(t *testing.T) {
	tests := []struct {
		subject string
		prefix  string
		want    string
	}{
		{subject: "telemetry.Devtest.devices.Dev-1.status", prefix: "telemetry", want: "/Devtest/devices/Dev-1/status"},
		{subject: "telemetry.Devtest.devices.Dev-1.meters-data.beken.power", prefix: "telemetry", want: "/Devtest/devices/Dev-1/meters-data/beken/power"},
		{subject: "Devtest.devices.Dev-1.status", want: "/Devtest/devices/Dev-1/status"},
		{subject: "a.b.Devtest.devices.Dev-1.status", prefix: "a.b", want: "/Devtest/devices/Dev-1/status"},
	}

	for _, tt := range tests {
		t.Run(tt.subject, func(t *testing.T) {
			assert.Equal(t, tt.want, SubjectToTopic(tt.subject, tt.prefix))
		})
	}
}

func TestSubjectPrefix(t *testing.T) {
	assert.Equal(t, "telemetry", subjectPrefix("telemetry.>"))
	assert.Equal(t, "a.b", subjectPrefix("a.b.*.devices.>"))
	assert.Equal(t, "", subjectPrefix(">"))
	assert.Equal(t, "fixed.subject", subjectPrefix("fixed.subject"))
}

func TestSubscriber_Handle(t *testing.T) {
	rec := &recorder{}
	s := NewSubscriber("nats://127.0.0.1:4222", "telemetry.>", rec, nil)

	s.handle(&nats.Msg{Subject: "telemetry.Devtest.devices.Dev-1.status", Data: []byte(`{"power": 1}`)})

	require.Len(t, rec.msgs, 1)
	assert.Equal(t, "/Devtest/devices/Dev-1/status", rec.msgs[0].Topic)
	assert.Equal(t, []byte(`{"power": 1}`), rec.msgs[0].Payload)
	assert.Equal(t, "nats", rec.msgs[0].Source)
}

func TestSubscriber_StopWithoutStart(t *testing.T) {
	s := NewSubscriber("nats://127.0.0.1:4222", "telemetry.>", &recorder{}, nil)
	assert.NotPanics(t, s.Stop)
}
