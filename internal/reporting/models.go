package reporting

import "time"

type TimeRange struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

// CallsSummaryRequest requests aggregated call metrics for one chat.
// ChatID is required. A zero Range bound is open.
type CallsSummaryRequest struct {
	ChatID string    `json:"chat_id"`
	Range  TimeRange `json:"range"`
}

type CallsSummary struct {
	ChatID string     `json:"chat_id"`
	Range  *TimeRange `json:"range,omitempty"`

	TotalCalls      int `json:"total_calls"`
	CompletedCalls  int `json:"completed_calls"`
	DeclinedCalls   int `json:"declined_calls"`
	FailedCalls     int `json:"failed_calls"`
	CanceledCalls   int `json:"canceled_calls"`
	InProgressCalls int `json:"in_progress_calls"`
	DialingCalls    int `json:"dialing_calls"`

	VideoCalls int `json:"video_calls"`
	GroupCalls int `json:"group_calls"`

	TotalDurationSeconds   int `json:"total_duration_seconds"`
	AverageDurationSeconds int `json:"average_duration_seconds"`
	LongestDurationSeconds int `json:"longest_duration_seconds"`

	// AnswerRate is completed calls over calls that reached a terminal status.
	AnswerRate float64 `json:"answer_rate"`
}
