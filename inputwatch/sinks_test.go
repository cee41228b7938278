package inputwatch

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/hazyhaar/morph/message"
)

func TestBuildSinks(t *testing.T) {
	var buf bytes.Buffer
	var local []string
	s, err := BuildSinks([]SinkConfig{{Type: "stdout"}, {Type: "background"}},
		func(_ context.Context, m message.Message) error {
			local = append(local, m.Text)
			return nil
		}, &buf, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Send(context.Background(), message.Question("who knows")); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), `"text":"who knows"`) {
		t.Errorf("stdout: got %q", buf.String())
	}
	if len(local) != 1 {
		t.Errorf("background deliveries: got %d, want 1", len(local))
	}
}

func TestBuildSinks_Errors(t *testing.T) {
	if _, err := BuildSinks([]SinkConfig{{Type: "background"}}, nil, nil, nil); err == nil {
		t.Error("background without handler: expected error")
	}
	if _, err := BuildSinks([]SinkConfig{{Type: "nats"}}, nil, nil, nil); err == nil {
		t.Error("unknown type: expected error")
	}
}

func TestService_NoSessions(t *testing.T) {
	svc := NewService(DefaultConfig(), nil, nil, nil)
	if got := svc.Sessions(); len(got) != 0 {
		t.Errorf("sessions: got %v", got)
	}
	if svc.Unwatch("missing") {
		t.Error("Unwatch of an unknown page: got true")
	}
	svc.Stop()
}
