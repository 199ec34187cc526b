package reporting

import "time"

// TimeRange is half-open: From <= t < To.
type TimeRange struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

// CallsSummaryRequest selects the sessions to aggregate. Empty ids mean all.
type CallsSummaryRequest struct {
	RestaurantID string    `json:"restaurantId,omitempty"`
	ScreenID     string    `json:"screenId,omitempty"`
	Range        TimeRange `json:"range"`
}

type CallsSummary struct {
	RestaurantID string `json:"restaurantId,omitempty"`
	ScreenID     string `json:"screenId,omitempty"`

	TotalCalls    int `json:"totalCalls"`
	EndedCalls    int `json:"endedCalls"`
	MissedCalls   int `json:"missedCalls"`
	RejectedCalls int `json:"rejectedCalls"`
	OpenCalls     int `json:"openCalls"`

	TotalDurationSeconds   int `json:"totalDurationSeconds"` // talk time of ENDED calls
	AverageDurationSeconds int `json:"averageDurationSeconds"`

	RecordedCalls int `json:"recordedCalls"`
	OrdersTaken   int `json:"ordersTaken"`
}

// AnswerMetrics reports how many calls a restaurant picked up and how many
// of those produced an order.
type AnswerMetrics struct {
	RestaurantID string `json:"restaurantId"`

	CallsAttempted int `json:"callsAttempted"`
	CallsAnswered  int `json:"callsAnswered"`
	OrdersTaken    int `json:"ordersTaken"`

	AnswerRate float64 `json:"answerRate"`
	OrderRate  float64 `json:"orderRate"`
}
