package sbdb

import "fmt"

// Default query parameters for the small-body query. The field list and
// limit are a fixed contract with the front-end renderer; the group filter
// restricts results to near-Earth objects.
const (
	defaultQueryURL = "https://ssd-api.jpl.nasa.gov/sbdb_query.api"
	defaultCADURL   = "https://ssd-api.jpl.nasa.gov/cad.api"

	bodyFields = "full_name,epoch,e,a,q,i,om,w,ma"
	bodyGroup  = "neo"
	bodyLimit  = "20"
)

// CAQuery holds the close-approach query window. Zero values are replaced
// by the CAD API's conventional NEO defaults.
type CAQuery struct {
	DateMin string
	DateMax string
	DistMax string
}

func (q CAQuery) withDefaults() CAQuery {
	if q.DateMin == "" {
		q.DateMin = "now"
	}
	if q.DateMax == "" {
		q.DateMax = "+60"
	}
	if q.DistMax == "" {
		q.DistMax = "0.05"
	}
	return q
}

// CloseApproach is one projected close-approach record: object
// designation, close-approach calendar date, and nominal distance in au.
type CloseApproach struct {
	Des  string `json:"des"`
	CD   string `json:"cd"`
	Dist string `json:"dist"`
}

// cadEnvelope mirrors the CAD API response shape. Rows in Data follow the
// column order declared in Fields; rows are projected by field name, never
// by hard-coded position.
type cadEnvelope struct {
	Count  any      `json:"count"`
	Fields []string `json:"fields"`
	Data   [][]any  `json:"data"`
}

// UpstreamError is an HTTP-level failure from an upstream API: the request
// completed but returned a non-200 status. Transport failures (DNS,
// refused connection, timeout) are returned as plain wrapped errors
// instead.
type UpstreamError struct {
	StatusCode int
	Body       string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("upstream status %d: %s", e.StatusCode, e.Body)
}
