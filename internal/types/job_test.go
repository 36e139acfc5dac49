package types

import (
	"encoding/json"
	"testing"
)

func TestConversationLockID(t *testing.T) {
	c := Conversation{Owner: "o", Repo: "r", IssueNumber: 1}
	if got := c.LockID(); got != "o/r/1" {
		t.Errorf("expected o/r/1, got %s", got)
	}
}

func TestCommandNameValid(t *testing.T) {
	tests := []struct {
		name  CommandName
		valid bool
	}{
		{CommandGenerate, true},
		{CommandImprove, true},
		{CommandHelp, true},
		{CommandName("deploy"), false},
		{CommandName(""), false},
	}
	for _, tt := range tests {
		if got := tt.name.Valid(); got != tt.valid {
			t.Errorf("%q.Valid() = %v, want %v", tt.name, got, tt.valid)
		}
	}
}

func TestJobWireShape(t *testing.T) {
	payload := `{"command":{"name":"generate","args":["model:gpt-4o"]},"context":{"owner":"o","repo":"r","issueNumber":7},"installationId":42,"lockId":"o/r/7"}`

	var job Job
	if err := json.Unmarshal([]byte(payload), &job); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if job.Command.Name != CommandGenerate {
		t.Errorf("expected generate, got %s", job.Command.Name)
	}
	if len(job.Command.Args) != 1 || job.Command.Args[0] != "model:gpt-4o" {
		t.Errorf("unexpected args %v", job.Command.Args)
	}
	if job.Context.IssueNumber != 7 || job.InstallationID != 42 || job.LockID != "o/r/7" {
		t.Errorf("unexpected job %+v", job)
	}

	out, err := json.Marshal(job)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var generic map[string]any
	if err := json.Unmarshal(out, &generic); err != nil {
		t.Fatal(err)
	}
	for _, key := range []string{"command", "context", "installationId", "lockId"} {
		if _, ok := generic[key]; !ok {
			t.Errorf("expected key %q in wire shape", key)
		}
	}
}
