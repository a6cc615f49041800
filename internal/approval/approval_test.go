package approval

import (
	"testing"

	"github.com/agentfabric/gateway/pkg/models"
)

func TestClassifySafeToolRunsImmediately(t *testing.T) {
	m := New(nil)
	inv := m.Classify("agent-1", "t1", "req-1", "cli\x00c1", "read", nil)
	if inv.State != models.ToolRunning {
		t.Fatalf("expected safe tool to start running, got %s", inv.State)
	}
	if inv.ID != "t1" {
		t.Fatalf("expected the agent's own tool id kept, got %s", inv.ID)
	}
}

func TestClassifyGeneratesIDWhenAbsent(t *testing.T) {
	m := New(nil)
	inv := m.Classify("agent-1", "", "req-1", "cli\x00c1", "read", nil)
	if inv.ID == "" {
		t.Fatalf("expected a generated invocation id")
	}
}

func TestClassifyUnsafeToolAwaitsApproval(t *testing.T) {
	m := New(nil)
	inv := m.Classify("agent-1", "t1", "req-1", "cli\x00c1", "shell", nil)
	if inv.State != models.ToolAwaitingApproval {
		t.Fatalf("expected unsafe tool to await approval, got %s", inv.State)
	}
}

func TestToolIDsScopedPerAgent(t *testing.T) {
	m := New(nil)
	a := m.Classify("agent-1", "t1", "req-1", "cli\x00c1", "shell", nil)
	b := m.Classify("agent-2", "t1", "req-2", "cli\x00c2", "read", nil)

	got, ok := m.Get("agent-1", "t1")
	if !ok || got != a {
		t.Fatalf("agent-1's t1 resolved wrong: %+v", got)
	}
	got, ok = m.Get("agent-2", "t1")
	if !ok || got != b {
		t.Fatalf("agent-2's t1 resolved wrong: %+v", got)
	}
}

func TestApproveAllGrantsSessionWide(t *testing.T) {
	m := New(nil)
	first := m.Classify("agent-1", "t1", "req-1", "cli\x00c1", "shell", nil)
	if _, err := m.Approve("agent-1", first.ID, true); err != nil {
		t.Fatalf("approve: %v", err)
	}

	second := m.Classify("agent-1", "t2", "req-2", "cli\x00c1", "shell", nil)
	if second.State != models.ToolRunning {
		t.Fatalf("expected second shell call to skip approval after approve_all, got %s", second.State)
	}
}

func TestDenyRejectsAwaitingInvocation(t *testing.T) {
	m := New(nil)
	inv := m.Classify("agent-1", "t1", "req-1", "cli\x00c1", "shell", nil)
	denied, err := m.Deny("agent-1", inv.ID)
	if err != nil {
		t.Fatalf("deny: %v", err)
	}
	if denied.State != models.ToolDenied {
		t.Fatalf("expected denied, got %s", denied.State)
	}
	if _, err := m.Approve("agent-1", inv.ID, false); err != ErrAlreadyTerminal {
		t.Fatalf("expected ErrAlreadyTerminal approving a denied invocation, got %v", err)
	}
}

func TestApproveTwiceSecondIsRejected(t *testing.T) {
	m := New(nil)
	inv := m.Classify("agent-1", "t1", "req-1", "cli\x00c1", "shell", nil)
	if _, err := m.Approve("agent-1", inv.ID, false); err != nil {
		t.Fatalf("first approve: %v", err)
	}
	if _, err := m.Approve("agent-1", inv.ID, false); err != ErrNotAwaitingReview {
		t.Fatalf("expected ErrNotAwaitingReview on a duplicate approval, got %v", err)
	}
}

func TestCompleteAfterApprovalRecordsResult(t *testing.T) {
	m := New(nil)
	inv := m.Classify("agent-1", "t1", "req-1", "cli\x00c1", "shell", nil)
	if _, err := m.Approve("agent-1", inv.ID, false); err != nil {
		t.Fatalf("approve: %v", err)
	}
	completed, err := m.Complete("agent-1", inv.ID, []byte(`{"ok":true}`), "")
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if completed.State != models.ToolCompleted {
		t.Fatalf("expected completed, got %s", completed.State)
	}

	failing := m.Classify("agent-1", "t2", "req-1", "cli\x00c1", "read", nil)
	got, err := m.Complete("agent-1", failing.ID, nil, "exit status 1")
	if err != nil || got.State != models.ToolFailed {
		t.Fatalf("expected failed state, got %+v err %v", got, err)
	}
}

func TestSweepTimeoutsExpiresStaleAwaiting(t *testing.T) {
	m := New(nil)
	inv := m.Classify("agent-1", "t1", "req-1", "cli\x00c1", "shell", nil)

	timedOut := m.SweepTimeouts(0)
	if len(timedOut) != 1 || timedOut[0].ID != inv.ID {
		t.Fatalf("expected invocation to time out, got %+v", timedOut)
	}
	got, _ := m.Get("agent-1", inv.ID)
	if got.State != models.ToolTimeout {
		t.Fatalf("expected timeout state, got %s", got.State)
	}
}

func TestClearSessionDropsNonTerminalInvocations(t *testing.T) {
	m := New(nil)
	inv := m.Classify("agent-1", "t1", "req-1", "cli\x00c1", "shell", nil)
	m.ClearSession("agent-1")

	if _, ok := m.Get("agent-1", inv.ID); ok {
		t.Fatalf("expected non-terminal invocation to be dropped on session clear")
	}
	if granted := m.approveAllGranted("agent-1"); granted {
		t.Fatalf("expected approve_all grant cleared")
	}
}

func (m *Manager) approveAllGranted(agentID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.approveAll[agentID]
}
