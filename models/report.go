package models

import "time"

type StatusCount struct {
	Status VerificationStatus `json:"status"`
	Count  int64              `json:"count"`
}

// DailyAwardTotal aggregates awards by the local day they were granted.
// Canceled figures count awards from that day that were later canceled.
type DailyAwardTotal struct {
	Day            time.Time `json:"day"`
	AwardedCount   int64     `json:"awarded_count"`
	AwardedAmount  int64     `json:"awarded_amount"`
	CanceledCount  int64     `json:"canceled_count"`
	CanceledAmount int64     `json:"canceled_amount"`
}
