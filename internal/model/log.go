package model

import (
	"time"
)

// DateLayout is the calendar-date format used for log dates in storage and JSON.
const DateLayout = "2006-01-02"

// LogRecord is one emergency dispatch entry. CaseNumber + LogDate identify it.
type LogRecord struct {
	ID             int64      `json:"id"`
	CaseNumber     int64      `json:"cfs_number"`
	LogDate        time.Time  `json:"log_date"`
	LogTime        *TimeOfDay `json:"log_time"`
	Address        *string    `json:"address"`
	CallType       *string    `json:"call_type"`
	AptSuite       *string    `json:"apt_suite"`
	Agency         *string    `json:"agency"`
	Disposition    *string    `json:"disposition"`
	IncidentNumber *string    `json:"incident_number"`

	// Geocoding group. All four are nil until geocoding succeeds and are set together.
	Latitude        *float64   `json:"latitude"`
	Longitude       *float64   `json:"longitude"`
	GeocodedAddress *string    `json:"geocoded_address"`
	GeocodedAt      *time.Time `json:"geocoded_at"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Geocoded reports whether the record carries coordinates.
func (r *LogRecord) Geocoded() bool {
	return r.Latitude != nil && r.Longitude != nil
}

// GeocodeResult is a resolved coordinate pair plus the address the provider matched.
type GeocodeResult struct {
	Latitude         float64 `json:"latitude"`
	Longitude        float64 `json:"longitude"`
	FormattedAddress string  `json:"formatted_address"`
}

// AddressGroup is one distinct not-yet-geocoded address and the rows that share it.
type AddressGroup struct {
	Address     string    `json:"address"`
	RecordCount int       `json:"record_count"`
	MaxID       int64     `json:"max_id"`
	LatestDate  time.Time `json:"latest_date"`
}

// DatasetStats summarizes how much of the dataset still needs geocoding.
type DatasetStats struct {
	TotalRecords           int64      `json:"total_records"`
	GeocodedRecords        int64      `json:"geocoded_records"`
	PendingRecords         int64      `json:"pending_records"`
	UniquePendingAddresses int64      `json:"unique_pending_addresses"`
	MostRecentPending      *time.Time `json:"most_recent_pending,omitempty"`
}

// LogFilter narrows a log listing. Zero values mean "no filter".
type LogFilter struct {
	StartDate *time.Time
	EndDate   *time.Time
	Agency    string
	CallType  string
	Page      int
	PerPage   int
}

// Offset returns the row offset for the filter's page.
func (f LogFilter) Offset() int {
	if f.Page < 1 {
		return 0
	}
	return (f.Page - 1) * f.PerPage
}

// LogPage is one page of a filtered log listing.
type LogPage struct {
	Logs    []LogRecord `json:"logs"`
	Total   int64       `json:"total"`
	Page    int         `json:"page"`
	PerPage int         `json:"per_page"`
	HasNext bool        `json:"has_next"`
	HasPrev bool        `json:"has_prev"`
}

// NewLogPage builds a page envelope and computes the navigation flags.
func NewLogPage(logs []LogRecord, total int64, f LogFilter) *LogPage {
	if logs == nil {
		logs = []LogRecord{}
	}
	return &LogPage{
		Logs:    logs,
		Total:   total,
		Page:    f.Page,
		PerPage: f.PerPage,
		HasNext: int64(f.Offset()+len(logs)) < total,
		HasPrev: f.Page > 1,
	}
}

// Date truncates t to a calendar date in UTC.
func Date(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// ParseDate parses a YYYY-MM-DD calendar date.
func ParseDate(s string) (time.Time, error) {
	return time.Parse(DateLayout, s)
}

// StringPtr returns nil for an empty string, else a pointer to s.
func StringPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
