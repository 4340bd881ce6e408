package domain

import "time"

// Account is the tenant that owns jobs and consumes quota.
type Account struct {
	ID                 string
	Plan               Plan
	VideosUsed         int
	BillingPeriodStart time.Time
	CreatedAt          time.Time
	UpdatedAt          time.Time
}
