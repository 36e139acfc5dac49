// Package queue carries jobs over a Redis stream with a consumer group.
// Delivery is at-least-once: a message stays pending until acked.
package queue

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/af-corp/wall-e/internal/types"
)

// JobField is the stream entry field holding the JSON-encoded job.
const JobField = "job"

type Message struct {
	ID  string
	Job types.Job
	Raw redis.XMessage
}

// ParseMessage decodes a stream entry. EnqueuedAt is taken from the
// millisecond part of the entry id.
func ParseMessage(msg redis.XMessage) (Message, error) {
	raw, ok := msg.Values[JobField]
	if !ok {
		return Message{}, fmt.Errorf("missing %s field", JobField)
	}
	var job types.Job
	if err := json.Unmarshal([]byte(fmt.Sprint(raw)), &job); err != nil {
		return Message{}, fmt.Errorf("decode job: %w", err)
	}
	if job.LockID == "" {
		job.LockID = job.Context.LockID()
	}
	job.EnqueuedAt = entryTime(msg.ID)
	return Message{ID: msg.ID, Job: job, Raw: msg}, nil
}

func entryTime(id string) time.Time {
	ms, _, _ := strings.Cut(id, "-")
	n, err := strconv.ParseInt(ms, 10, 64)
	if err != nil {
		return time.Time{}
	}
	return time.UnixMilli(n)
}
