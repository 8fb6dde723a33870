package procs

import (
	"testing"
)

func TestParseTable(t *testing.T) {
	out := `
  501  1 zellij      S  ttys001  0.0 zellij -s agent-7
 1234 501 pi          R  ttys001 12.5 pi --resume my session
 5678 501 pi          S+ ??       0.0 pi
`
	rows := ParseTable(out)
	if len(rows) != 3 {
		t.Fatalf("rows = %d, want 3", len(rows))
	}

	want := Row{PID: 1234, PPID: 501, Comm: "pi", State: "R", TTY: "ttys001", CPU: 12.5, Args: "pi --resume my session"}
	if rows[1] != want {
		t.Errorf("row = %+v, want %+v", rows[1], want)
	}
	if rows[2].TTY != "??" || rows[2].State != "S+" {
		t.Errorf("detached row = %+v", rows[2])
	}
}

func TestParseTableKeepsArgsWhitespace(t *testing.T) {
	rows := ParseTable("1 0 sh S ttys000 0.0 sh -c 'sleep   30'")
	if len(rows) != 1 {
		t.Fatalf("rows = %+v", rows)
	}
	if rows[0].Args != "sh -c 'sleep   30'" {
		t.Errorf("args = %q, inner spacing must survive", rows[0].Args)
	}
}

func TestParseTableSkipsMalformedRows(t *testing.T) {
	out := `
abc  1 bad        S ttys001 0.0 x
123 xyz bad       S ttys001 0.0 x
123   1 noargs    S ttys001 0.0
123   1 short
456   2 ok        S ttys002 1.0 fine
`
	rows := ParseTable(out)
	if len(rows) != 2 {
		t.Fatalf("rows = %+v, want the argless and valid rows only", rows)
	}
	if rows[0].Args != "" {
		t.Errorf("argless row args = %q", rows[0].Args)
	}
	if rows[1].PID != 456 {
		t.Errorf("surviving row = %+v", rows[1])
	}
}

func TestListUsesPSOutput(t *testing.T) {
	orig := listOutputFunc
	defer func() { listOutputFunc = orig }()
	listOutputFunc = func() (string, error) {
		return "7 1 pi S ttys000 0.0 pi", nil
	}

	rows := List()
	if len(rows) != 1 || rows[0].PID != 7 || rows[0].Comm != "pi" {
		t.Errorf("rows = %+v", rows)
	}
}

func TestByPIDLaterDuplicateWins(t *testing.T) {
	rows := []Row{{PID: 7, Comm: "old"}, {PID: 7, Comm: "new"}, {PID: 8, Comm: "other"}}
	byPID := ByPID(rows)
	if len(byPID) != 2 || byPID[7].Comm != "new" {
		t.Errorf("byPID = %+v", byPID)
	}
}

func TestAliveRejectsNonPositive(t *testing.T) {
	if Alive(0) || Alive(-1) {
		t.Error("non-positive pids are never alive")
	}
}
