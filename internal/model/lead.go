package model

import (
	"strings"
	"time"
)

// Status represents the enrichment state of a lead.
type Status string

const (
	StatusProcessing      Status = "Processing"
	StatusCompleted       Status = "Completed"
	StatusSkiptraceFailed Status = "Skiptrace Failed"
	StatusMalformedData   Status = "Malformed Data"
	StatusAnalyzed        Status = "Analyzed"
)

// Display-only statuses set by collaborator stages outside this pipeline.
// The skiptrace and analysis stages never write these.
const (
	StatusPendingAIAnalysis Status = "Pending AI Analysis"
	StatusPendingZillow     Status = "Pending Zillow"
	StatusZillowFailed      Status = "Zillow Failed"
	StatusUnknown           Status = "Unknown"
)

// Terminal reports whether no further automatic stage transition
// originates from this status.
func (s Status) Terminal() bool {
	switch s {
	case StatusSkiptraceFailed, StatusMalformedData, StatusAnalyzed:
		return true
	}
	return false
}

// Lead represents one homeowner contact record moving through the pipeline.
// The name and address fields are immutable after creation; the pipeline
// only reads them.
type Lead struct {
	ID              string     `json:"id"`
	OwnerID         string     `json:"owner_id"`
	FirstName       string     `json:"first_name"`
	LastName        string     `json:"last_name"`
	StreetAddress   string     `json:"street_address"`
	City            string     `json:"city"`
	State           string     `json:"state"`
	PostalCode      string     `json:"postal_code"`
	PhoneNumber     *string    `json:"phone_number,omitempty"`
	Status          Status     `json:"status"`
	Error           string     `json:"error,omitempty"`
	AIAnalysis      string     `json:"ai_analysis,omitempty"`
	AIAnalysisError string     `json:"ai_analysis_error,omitempty"`
	AnalyzedAt      *time.Time `json:"analyzed_at,omitempty"`
	UploadedAt      time.Time  `json:"uploaded_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// FullName returns the trimmed "First Last" subject name used for lookups.
func (l *Lead) FullName() string {
	return strings.TrimSpace(l.FirstName + " " + l.LastName)
}

// Phone returns the resolved phone number or "" when none is set.
func (l *Lead) Phone() string {
	if l.PhoneNumber == nil {
		return ""
	}
	return *l.PhoneNumber
}

// HasRequiredFields reports whether all six fields required for skiptrace
// are non-empty after trimming.
func (l *Lead) HasRequiredFields() bool {
	for _, f := range []string{
		l.FirstName, l.LastName, l.StreetAddress,
		l.City, l.State, l.PostalCode,
	} {
		if strings.TrimSpace(f) == "" {
			return false
		}
	}
	return true
}
