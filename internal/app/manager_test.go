package app_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/talkwire/talkwire/internal/app"
	"github.com/talkwire/talkwire/internal/session"
	"github.com/talkwire/talkwire/pkg/bridge"
	bridgemock "github.com/talkwire/talkwire/pkg/bridge/mock"
)

func newTestManager(b bridge.Bridge) *app.Manager {
	return app.NewManager(app.ManagerConfig{
		Bridge:        b,
		NewCapturer:   func(string) session.Capturer { return &fakeCapturer{} },
		NewRenderer:   func(string) session.Renderer { return &fakeRenderer{} },
		ParticipantID: "participant-1",
		Voice:         "alloy",
		Heartbeat:     time.Minute,
	})
}

func TestManager_StartPopulatesInfo(t *testing.T) {
	t.Parallel()

	b := &bridgemock.Bridge{}
	m := newTestManager(b)

	s, err := m.Start(context.Background())
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Stop(context.Background())

	info := m.Info()
	if info.SessionID != s.ID() {
		t.Errorf("info.SessionID = %q; want %q", info.SessionID, s.ID())
	}
	if info.StartedAt.IsZero() {
		t.Error("info.StartedAt is zero")
	}
	if !strings.HasPrefix(info.SessionID, "sess-") {
		t.Errorf("session id %q has no sess- prefix", info.SessionID)
	}
}

func TestManager_SecondStartWhileActiveIsError(t *testing.T) {
	t.Parallel()

	b := &bridgemock.Bridge{}
	m := newTestManager(b)

	s, err := m.Start(context.Background())
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Stop(context.Background())

	if _, err := m.Start(context.Background()); err == nil {
		t.Fatal("second Start while active accepted")
	}
}

func TestManager_StartAfterTerminalSessionSucceeds(t *testing.T) {
	t.Parallel()

	b := &bridgemock.Bridge{}
	m := newTestManager(b)

	s, err := m.Start(context.Background())
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := s.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	next, err := m.Start(context.Background())
	if err != nil {
		t.Fatalf("Start after terminal session: %v", err)
	}
	defer next.Stop(context.Background())

	if next.ID() == s.ID() {
		t.Error("replacement session reused the old identifier")
	}
}

func TestManager_CheckReflectsSessionHealth(t *testing.T) {
	t.Parallel()

	b := &bridgemock.Bridge{}
	m := newTestManager(b)

	if err := m.Check(context.Background()); err == nil {
		t.Error("Check before any session = nil; want error")
	}

	s, err := m.Start(context.Background())
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := m.Check(context.Background()); err != nil {
		t.Errorf("Check with live session = %v; want nil", err)
	}

	b.LastConn().DropTransport()
	<-s.Done()
	if err := m.Check(context.Background()); err == nil {
		t.Error("Check after transport drop = nil; want error")
	}
}
