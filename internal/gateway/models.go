package gateway

// Response envelopes shared by the REST handlers. Read, create-single,
// and update responses are the row object verbatim and need no wrapper.

// Pagination is the list envelope's paging block.
type Pagination struct {
	Page       int   `json:"page"`
	PageSize   int   `json:"page_size"`
	Total      int64 `json:"total"`
	TotalPages int64 `json:"total_pages"`
}

// ListResponse wraps a page of rows.
type ListResponse struct {
	Data       []map[string]interface{} `json:"data"`
	Pagination Pagination               `json:"pagination"`
}

// BulkCreateResponse wraps the rows created by a bulk insert.
type BulkCreateResponse struct {
	Data  []map[string]interface{} `json:"data"`
	Count int                      `json:"count"`
}

// DeleteResponse reports a delete and whether it was a soft delete.
type DeleteResponse struct {
	Deleted    bool                   `json:"deleted"`
	SoftDelete bool                   `json:"soft_delete"`
	Record     map[string]interface{} `json:"record"`
}

// ErrorResponse is the error envelope. Detail and Constraint only
// appear when the deployment exposes native database errors.
type ErrorResponse struct {
	Error      string   `json:"error"`
	Message    string   `json:"message"`
	Detail     string   `json:"detail,omitempty"`
	Constraint string   `json:"constraint,omitempty"`
	Details    []string `json:"details,omitempty"`
}

// HealthResponse is the _health payload. The database fields only
// appear for authenticated callers (or when auth is off).
type HealthResponse struct {
	Status         string   `json:"status"`
	Version        string   `json:"version"`
	BuildGitHash   string   `json:"build_git_hash"`
	BuildTimestamp string   `json:"build_timestamp"`
	DatabaseHash   string   `json:"database_hash,omitempty"`
	Tables         *int     `json:"tables,omitempty"`
	Namespaces     []string `json:"namespaces,omitempty"`
}
