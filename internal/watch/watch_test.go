package watch

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pi-agent/statusd/internal/scan"
	"github.com/pi-agent/statusd/internal/status"
)

func strPtr(s string) *string { return &s }

// fleet builds a normalized snapshot from raw agents.
func fleet(agents ...scan.Agent) *status.Status {
	return status.Normalize(scan.Result{OK: true, Agents: agents, Version: 2, Source: "pi-telemetry"})
}

// testEngine returns an Engine whose fetch pops snapshots off a script,
// repeating the last one, and whose clock advances only on sleep.
func testEngine(script ...*status.Status) (*Engine, *int) {
	fetches := 0
	now := time.Unix(1_700_000_000, 0)
	e := &Engine{
		fetch: func() (*status.Status, error) {
			idx := fetches
			if idx >= len(script) {
				idx = len(script) - 1
			}
			fetches++
			return script[idx], nil
		},
		sleepFunc: func(d time.Duration) { now = now.Add(d) },
		nowFunc:   func() time.Time { return now },
	}
	return e, &fetches
}

func TestClampTimeoutMS(t *testing.T) {
	tests := []struct{ in, want int }{
		{100, 250},
		{250, 250},
		{20000, 20000},
		{60000, 60000},
		{999999, 60000},
	}
	for _, tt := range tests {
		if got := ClampTimeoutMS(tt.in); got != tt.want {
			t.Errorf("ClampTimeoutMS(%d) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestGlobalSnapshotWithoutFingerprint(t *testing.T) {
	e, _ := testEngine(fleet(scan.Agent{PID: 7, Activity: "running"}))
	res, err := e.Global("", 5000)
	if err != nil {
		t.Fatal(err)
	}
	if res.Event != "snapshot" || res.Status == nil {
		t.Errorf("res = %+v", res)
	}
	if res.Fingerprint == "" {
		t.Error("snapshot must carry the fleet fingerprint")
	}
}

func TestGlobalOutOfSync(t *testing.T) {
	e, _ := testEngine(fleet(scan.Agent{PID: 7, Activity: "running"}))
	res, err := e.Global("stale", 5000)
	if err != nil {
		t.Fatal(err)
	}
	if res.Event != "out_of_sync" || res.Status == nil {
		t.Errorf("res = %+v", res)
	}
}

func TestGlobalStatusChanged(t *testing.T) {
	before := fleet(scan.Agent{PID: 7, Activity: "running"})
	after := fleet(scan.Agent{PID: 7, Activity: "waiting_input"})
	e, _ := testEngine(before, after)

	res, err := e.Global(before.Fingerprint, 5000)
	if err != nil {
		t.Fatal(err)
	}
	if res.Event != "status_changed" {
		t.Fatalf("event = %q", res.Event)
	}
	if res.Fingerprint != after.Fingerprint {
		t.Error("fingerprint must advance to the new snapshot")
	}
	if len(res.Changes) != 1 || res.Changes[0].Event != "activity_changed" || res.Changes[0].PID != 7 {
		t.Errorf("changes = %+v", res.Changes)
	}
	if res.Changes[0].Activity != "waiting_input" {
		t.Errorf("change activity = %q", res.Changes[0].Activity)
	}
}

func TestGlobalTimeout(t *testing.T) {
	snap := fleet(scan.Agent{PID: 7, Activity: "running"})
	e, fetches := testEngine(snap)

	res, err := e.Global(snap.Fingerprint, 3000)
	if err != nil {
		t.Fatal(err)
	}
	if res.Event != "timeout" || res.Status != nil {
		t.Errorf("res = %+v", res)
	}
	if res.Fingerprint != snap.Fingerprint {
		t.Error("timeout must echo the unchanged fingerprint")
	}
	// 3000ms at 600ms per poll: initial fetch plus five polls.
	if *fetches != 6 {
		t.Errorf("fetches = %d, want 6", *fetches)
	}
}

func TestDiffFleetNewAgentWithMessage(t *testing.T) {
	before := fleet(scan.Agent{PID: 7, Activity: "running"})
	after := fleet(
		scan.Agent{PID: 7, Activity: "running"},
		scan.Agent{PID: 9, Activity: "waiting_input", LatestMessage: strPtr("done"), LatestMessageAt: ptr64(100)},
	)

	changes := diffFleet(before, after)
	if len(changes) != 2 {
		t.Fatalf("changes = %+v", changes)
	}
	if changes[0].Event != "activity_changed" || changes[0].PID != 9 {
		t.Errorf("changes[0] = %+v", changes[0])
	}
	if changes[1].Event != "message_updated" || changes[1].LatestMessageID == nil {
		t.Errorf("changes[1] = %+v", changes[1])
	}
}

func TestDiffFleetMessageUpdate(t *testing.T) {
	before := fleet(scan.Agent{PID: 7, Activity: "running", LatestMessage: strPtr("one"), LatestMessageAt: ptr64(100)})
	after := fleet(scan.Agent{PID: 7, Activity: "running", LatestMessage: strPtr("two"), LatestMessageAt: ptr64(200)})

	changes := diffFleet(before, after)
	if len(changes) != 1 || changes[0].Event != "message_updated" {
		t.Fatalf("changes = %+v", changes)
	}
	if changes[0].LatestMessage == nil || *changes[0].LatestMessage != "two" {
		t.Errorf("latest_message = %v", changes[0].LatestMessage)
	}
	if changes[0].LatestMessageAt == nil || *changes[0].LatestMessageAt != 200 {
		t.Errorf("latest_message_at = %v", changes[0].LatestMessageAt)
	}
}

func TestAgentNotFound(t *testing.T) {
	e, _ := testEngine(fleet(scan.Agent{PID: 7, Activity: "running"}))
	if _, err := e.Agent(99, "", 5000); !errors.Is(err, ErrAgentNotFound) {
		t.Errorf("err = %v, want ErrAgentNotFound", err)
	}
}

func TestAgentSnapshotAndOutOfSync(t *testing.T) {
	e, _ := testEngine(fleet(scan.Agent{PID: 7, Activity: "running"}))

	res, err := e.Agent(7, "", 5000)
	if err != nil {
		t.Fatal(err)
	}
	if res.Event != "snapshot" || res.Agent == nil {
		t.Fatalf("res = %+v", res)
	}

	stale, err := e.Agent(7, "nonsense", 5000)
	if err != nil {
		t.Fatal(err)
	}
	if stale.Event != "out_of_sync" || stale.Fingerprint != res.Fingerprint {
		t.Errorf("res = %+v", stale)
	}
}

func TestAgentClassifiesMessageOverActivity(t *testing.T) {
	before := fleet(scan.Agent{PID: 7, Activity: "running", LatestMessage: strPtr("one"), LatestMessageAt: ptr64(100)})
	after := fleet(scan.Agent{PID: 7, Activity: "waiting_input", LatestMessage: strPtr("two"), LatestMessageAt: ptr64(200)})
	e, _ := testEngine(before, after)

	fp := status.AgentFingerprint(*before.FindAgent(7))
	res, err := e.Agent(7, fp, 5000)
	if err != nil {
		t.Fatal(err)
	}
	if res.Event != "message_updated" {
		t.Errorf("event = %q, message change must outrank activity change", res.Event)
	}
}

func TestAgentGoneMidWatch(t *testing.T) {
	before := fleet(scan.Agent{PID: 7, Activity: "running"})
	e, _ := testEngine(before, fleet())

	fp := status.AgentFingerprint(*before.FindAgent(7))
	res, err := e.Agent(7, fp, 5000)
	if err != nil {
		t.Fatal(err)
	}
	if res.Event != "agent_gone" || res.PID != 7 {
		t.Errorf("res = %+v", res)
	}
}

func TestStreamAgentSnapshotThenChange(t *testing.T) {
	before := fleet(scan.Agent{PID: 7, Activity: "running"})
	after := fleet(scan.Agent{PID: 7, Activity: "waiting_input"})
	e, _ := testEngine(before, after)

	var events []string
	var ids []string
	send := func(event, id string, payload *AgentResult) error {
		events = append(events, event)
		ids = append(ids, id)
		if len(events) == 2 {
			return errors.New("client went away")
		}
		return nil
	}

	err := e.StreamAgent(context.Background(), 7, "", send, func() error { return nil })
	if err == nil {
		t.Fatal("stream must end when send fails")
	}
	if len(events) != 2 || events[0] != "snapshot" || events[1] != "activity_changed" {
		t.Fatalf("events = %v", events)
	}
	wantID := EventID(7, status.AgentFingerprint(*after.FindAgent(7)))
	if ids[1] != wantID {
		t.Errorf("event id = %q, want %q", ids[1], wantID)
	}
}

func TestStreamAgentResumeSuppressesSnapshot(t *testing.T) {
	snap := fleet(scan.Agent{PID: 7, Activity: "running"})
	e, _ := testEngine(snap)

	resumeID := EventID(7, status.AgentFingerprint(*snap.FindAgent(7)))
	ctx, cancel := context.WithCancel(context.Background())

	var events []string
	send := func(event, id string, payload *AgentResult) error {
		events = append(events, event)
		return nil
	}
	polls := 0
	e.sleepFunc = func(time.Duration) {
		polls++
		if polls >= 3 {
			cancel()
		}
	}

	err := e.StreamAgent(ctx, 7, resumeID, send, func() error { return nil })
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v", err)
	}
	if len(events) != 0 {
		t.Errorf("events = %v, resume with a current id must stay silent", events)
	}
}

func TestStreamAgentStaleResumeGetsOutOfSync(t *testing.T) {
	snap := fleet(scan.Agent{PID: 7, Activity: "running"})
	e, _ := testEngine(snap)

	ctx, cancel := context.WithCancel(context.Background())
	var events []string
	send := func(event, id string, payload *AgentResult) error {
		events = append(events, event)
		cancel()
		return nil
	}

	e.StreamAgent(ctx, 7, "7:stale", send, func() error { return nil })
	if len(events) != 1 || events[0] != "out_of_sync" {
		t.Errorf("events = %v", events)
	}
}

func ptr64(n int64) *int64 { return &n }
