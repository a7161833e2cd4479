package models

// ReasonCount is one entry of the block-reason histogram.
type ReasonCount struct {
	Reason BlockReason `json:"reason"`
	Count  int         `json:"count"`
}

// CountryCount is one entry of the country histogram.
type CountryCount struct {
	Country string `json:"country"`
	Count   int    `json:"count"`
}

// Stats summarizes recent evaluations. All figures are computed over a
// bounded sample of the most recent records (buffered plus current day),
// not over the full history.
type Stats struct {
	TotalRequests   int `json:"totalRequests"`
	BlockedRequests int `json:"blockedRequests"`
	AllowedRequests int `json:"allowedRequests"`

	// AvgRiskScore is the mean risk score across the sample, rounded to
	// two decimals. Zero when the sample is empty.
	AvgRiskScore float64 `json:"avgRiskScore"`

	TopBlockReasons []ReasonCount  `json:"topBlockReasons"`
	TopCountries    []CountryCount `json:"topCountries"`

	// LastHour counts evaluations whose timestamp falls within the past hour.
	LastHour int `json:"lastHour"`

	// SampleSize is the number of records the figures were computed over.
	SampleSize int `json:"sampleSize"`
}
