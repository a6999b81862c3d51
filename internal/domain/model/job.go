package model

import "time"

type JobState string

const (
	JobStateWaiting   JobState = "waiting"
	JobStateDelayed   JobState = "delayed"
	JobStateActive    JobState = "active"
	JobStateCompleted JobState = "completed"
	JobStateFailed    JobState = "failed"
)

// Subscription tiers understood by the scheduler. Anything that is not
// "paid" is treated as "free".
const (
	TierFree = "free"
	TierPaid = "paid"
)

const (
	PriorityLow  = 1
	PriorityHigh = 10
)

// PriorityForTier maps a subscription tier to a queue priority.
func PriorityForTier(tier string) int {
	if tier == TierPaid {
		return PriorityHigh
	}
	return PriorityLow
}

// ChatJob is one deferred unit of AI-processing work tied to a conversation.
// The queue assigns ID, Seq, State and Priority; callers fill the rest.
type ChatJob struct {
	ID             string   `json:"id"`
	ConversationID string   `json:"conversationId"`
	UserID         string   `json:"userId"`
	Message        string   `json:"message"`
	Model          string   `json:"model"`
	Tier           string   `json:"subscriptionTier"`
	Technique      string   `json:"technique"`
	UsedBYOK       bool     `json:"usedByok"`
	State          JobState `json:"state"`
	Priority       int      `json:"priority"`
	Attempts       int      `json:"attempts"`
	LastError      string   `json:"lastError,omitempty"`
	// Seq is a store-assigned monotonic sequence used as the FIFO
	// tiebreak inside one priority band.
	Seq        int64      `json:"seq"`
	EnqueuedAt time.Time  `json:"enqueuedAt"`
	Result     *JobResult `json:"result,omitempty"`
}

// JobResult is what a completed job hands back to status queries.
type JobResult struct {
	MessageID string `json:"messageId"`
	Tokens    int    `json:"tokens"`
	CostMicro int64  `json:"cost"`
	LatencyMS int64  `json:"latency"`
}
