package domain

import "time"

// DailyTraffic is one day of visits for a site.
type DailyTraffic struct {
	Date      string `json:"date"`
	Visits    int64  `json:"visits"`
	PageViews int64  `json:"page_views"`
}

// PageTraffic counts visits to one path.
type PageTraffic struct {
	Path      string `json:"path"`
	Visits    int64  `json:"visits"`
	PageViews int64  `json:"page_views"`
}

// CountryTraffic counts visits from one country.
type CountryTraffic struct {
	Country string `json:"country"`
	Visits  int64  `json:"visits"`
}

// DeviceTraffic counts visits from one device class.
type DeviceTraffic struct {
	Type   string `json:"type"`
	Visits int64  `json:"visits"`
}

// AnalyticsSummary is the web analytics of one site over a date range.
type AnalyticsSummary struct {
	ProjectID      string           `json:"project_id,omitempty"`
	SiteTag        string           `json:"site_tag"`
	Since          time.Time        `json:"since"`
	Until          time.Time        `json:"until"`
	TotalVisits    int64            `json:"total_visits"`
	TotalPageViews int64            `json:"total_page_views"`
	Daily          []DailyTraffic   `json:"daily"`
	TopPages       []PageTraffic    `json:"top_pages"`
	TopCountries   []CountryTraffic `json:"top_countries"`
	Devices        []DeviceTraffic  `json:"devices"`
}

// AnalyticsTotals sums web analytics across every tracked project.
type AnalyticsTotals struct {
	Since          time.Time `json:"since"`
	Until          time.Time `json:"until"`
	Projects       int       `json:"projects"`
	Unavailable    int       `json:"unavailable"`
	TotalVisits    int64     `json:"total_visits"`
	TotalPageViews int64     `json:"total_page_views"`
}
