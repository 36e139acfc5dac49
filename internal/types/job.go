package types

import (
	"fmt"
	"strconv"
	"time"
)

type CommandName string

const (
	CommandGenerate CommandName = "generate"
	CommandImprove  CommandName = "improve"
	CommandHelp     CommandName = "help"
)

// Valid reports whether n is one of the known command names.
func (n CommandName) Valid() bool {
	switch n {
	case CommandGenerate, CommandImprove, CommandHelp:
		return true
	default:
		return false
	}
}

// Command is a parsed chat command. It is not mutated after parsing.
type Command struct {
	Name  CommandName `json:"name"`
	Args  []string    `json:"args"`
	Extra string      `json:"extra,omitempty"`
}

// Conversation identifies one pull-request discussion thread.
type Conversation struct {
	Owner       string `json:"owner"`
	Repo        string `json:"repo"`
	IssueNumber int    `json:"issueNumber"`
}

// LockID returns the owner/repo/issueNumber key used by the invocation lock.
func (c Conversation) LockID() string {
	return c.Owner + "/" + c.Repo + "/" + strconv.Itoa(c.IssueNumber)
}

func (c Conversation) String() string {
	return fmt.Sprintf("%s/%s#%d", c.Owner, c.Repo, c.IssueNumber)
}

// Job is the queue message body. EnqueuedAt is filled from the stream entry id.
type Job struct {
	Command        Command      `json:"command"`
	Context        Conversation `json:"context"`
	InstallationID int64        `json:"installationId"`
	LockID         string       `json:"lockId"`

	EnqueuedAt time.Time `json:"-"`
}

// PromptMessages is a vendor-neutral prompt.
type PromptMessages struct {
	System string `json:"system"`
	User   string `json:"user"`
}
