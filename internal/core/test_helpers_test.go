package core

import (
	"testing"
	"time"

	"github.com/lakshmih20/S3-CodeCollab-2025/internal/proto"
)

// mustEvent waits for an event of the given type, discarding others.
func mustEvent(t *testing.T, ch <-chan proto.Outbound, eventType string) proto.Outbound {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		select {
		case ev := <-ch:
			if ev.Type == eventType {
				return ev
			}
		default:
			time.Sleep(5 * time.Millisecond)
		}
	}
	t.Fatalf("expected event %q not received", eventType)
	return proto.Outbound{}
}

// noEvent drains everything already enqueued and fails if any of it
// matches the given type.
func noEvent(t *testing.T, ch <-chan proto.Outbound, eventType string) {
	t.Helper()

	for {
		select {
		case ev := <-ch:
			if ev.Type == eventType {
				t.Fatalf("unexpected event %q: %+v", eventType, ev.Data)
			}
		default:
			return
		}
	}
}

func errCode(t *testing.T, ev proto.Outbound) string {
	t.Helper()

	e, ok := ev.Data.(proto.Error)
	if !ok {
		t.Fatalf("event %q payload is %T, want proto.Error", ev.Type, ev.Data)
	}
	return e.Code
}
