package model

import "time"

// DispatchReport summarises one dispatch batch.
type DispatchReport struct {
	Selected  int           `json:"selected"`
	Sent      int           `json:"sent"`
	Failed    int           `json:"failed"`
	Bounced   int           `json:"bounced"`
	OptedOut  int           `json:"opted_out"`
	Cancelled int           `json:"cancelled"`
	Deferred  int           `json:"deferred"`
	Skipped   int           `json:"skipped"`
	Limit     int           `json:"limit"`
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`
}

// GenerationReport summarises one generation pass over a campaign.
type GenerationReport struct {
	CampaignID int64 `json:"campaign_id"`
	Capacity   int   `json:"capacity"`
	Scanned    int   `json:"scanned"`
	Created    int   `json:"created"`
	Existing   int   `json:"existing"`
	Skipped    int   `json:"skipped"`
}

// HealthReport summarises one health monitor pass.
type HealthReport struct {
	Reclaimed    int64 `json:"reclaimed"`
	StalePending int64 `json:"stale_pending"`
}
