package status

import (
	"testing"

	"github.com/pi-agent/statusd/internal/scan"
)

func agentWithMessage(pid int, activity, full string, at int64) scan.Agent {
	a := scan.Agent{PID: pid, Activity: activity}
	if full != "" {
		a.LatestMessageFull = &full
	}
	if at != 0 {
		a.LatestMessageAt = &at
	}
	return a
}

func TestMessageID(t *testing.T) {
	a := agentWithMessage(30, "running", "hello", 1724500000000)
	id := MessageID(a)
	if len(id) != 16 {
		t.Fatalf("id length = %d, want 16", len(id))
	}
	if MessageID(a) != id {
		t.Error("MessageID not deterministic")
	}

	b := agentWithMessage(31, "running", "hello", 1724500000000)
	if MessageID(b) == id {
		t.Error("different pid should change the id")
	}
	if got := MessageID(scan.Agent{PID: 30}); got != "" {
		t.Errorf("no message id = %q, want empty", got)
	}

	// Gist-only agents still get an id.
	gist := "short"
	c := scan.Agent{PID: 30, LatestMessage: &gist}
	if MessageID(c) == "" {
		t.Error("gist-only agent should have an id")
	}
}

func TestNormalizeAddsIDsAndFingerprint(t *testing.T) {
	res := scan.Result{
		OK: true,
		Agents: []scan.Agent{
			agentWithMessage(30, "running", "msg", 1000000000001),
			{PID: 31, Activity: "waiting_input"},
		},
	}
	st := Normalize(res)
	if st.Fingerprint == "" {
		t.Fatal("missing fleet fingerprint")
	}
	if st.Agents[0].LatestMessageID == nil {
		t.Error("agent 30 should carry a message id")
	}
	if st.Agents[1].LatestMessageID != nil {
		t.Error("agent 31 should carry no message id")
	}
	if st.FindAgent(31) == nil || st.FindAgent(99) != nil {
		t.Error("FindAgent lookup broken")
	}
}

func TestFleetFingerprintOrderIndependent(t *testing.T) {
	a := Normalize(scan.Result{Agents: []scan.Agent{{PID: 30, Activity: "running"}, {PID: 31, Activity: "unknown"}}})
	b := Normalize(scan.Result{Agents: []scan.Agent{{PID: 31, Activity: "unknown"}, {PID: 30, Activity: "running"}}})
	if a.Fingerprint != b.Fingerprint {
		t.Error("fingerprint should not depend on agent order")
	}

	c := Normalize(scan.Result{Agents: []scan.Agent{{PID: 30, Activity: "waiting_input"}, {PID: 31, Activity: "unknown"}}})
	if a.Fingerprint == c.Fingerprint {
		t.Error("activity change must change the fleet fingerprint")
	}
}

func TestAgentFingerprintSensitivity(t *testing.T) {
	id1, id2 := "aaaa", "bbbb"
	base := Agent{Agent: scan.Agent{PID: 30, Activity: "running"}, LatestMessageID: &id1}

	same := AgentFingerprint(base)
	if AgentFingerprint(base) != same {
		t.Error("not deterministic")
	}

	msg := base
	msg.LatestMessageID = &id2
	if AgentFingerprint(msg) == same {
		t.Error("message id change must change fingerprint")
	}

	act := base
	act.Activity = "waiting_input"
	if AgentFingerprint(act) == same {
		t.Error("activity change must change fingerprint")
	}

	// cpu is not watch-relevant.
	cpu := base
	cpu.CPU = 55.5
	if AgentFingerprint(cpu) != same {
		t.Error("cpu change must not change fingerprint")
	}
}

func TestClassifyEvent(t *testing.T) {
	id1, id2 := "aaaa", "bbbb"
	mk := func(activity string, id *string) Agent {
		return Agent{Agent: scan.Agent{PID: 30, Activity: activity}, LatestMessageID: id}
	}
	tests := []struct {
		name       string
		prev, curr Agent
		want       string
	}{
		{"message beats activity", mk("running", &id1), mk("waiting_input", &id2), "message_updated"},
		{"message appeared", mk("running", nil), mk("running", &id1), "message_updated"},
		{"activity only", mk("running", &id1), mk("waiting_input", &id1), "activity_changed"},
		{"no relevant change", mk("running", &id1), mk("running", &id1), "agent_updated"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ClassifyEvent(tt.prev, tt.curr); got != tt.want {
				t.Errorf("ClassifyEvent() = %q, want %q", got, tt.want)
			}
		})
	}
}
