package models

// RetrievalStatus is the terminal status of a retrieval or indexing call.
// Every public entry point returns one of these instead of raising an error
// for expected conditions, so callers can branch without a try/catch.
type RetrievalStatus string

const (
	StatusSuccess        RetrievalStatus = "success"
	StatusFallback       RetrievalStatus = "fallback"
	StatusError          RetrievalStatus = "error"
	StatusDuplicate      RetrievalStatus = "duplicate"
	StatusAlreadyIndexed RetrievalStatus = "already_indexed"
)

// RetrievalResult is the unit returned to the caller for every retrieval. It
// is always fully constructed, including on error, so all code paths can be
// consumed uniformly.
type RetrievalResult struct {
	Status    RetrievalStatus   `json:"status"`
	Chunks    []*RetrievedChunk `json:"chunks"`
	Context   string            `json:"context"`
	NumChunks int               `json:"num_chunks"`
	Strategy  string            `json:"strategy"`
	Message   string            `json:"message"`

	UseCase       UseCase                `json:"use_case,omitempty"`
	QueryMetadata *QueryMetadata         `json:"query_metadata,omitempty"`
	Requirements  *RetrievalRequirements `json:"requirements,omitempty"`

	// Strategy-specific extras.
	NumCoreChunks     int     `json:"num_core_chunks,omitempty"`
	NumSections       int     `json:"num_sections,omitempty"`
	FilteredByChapter *int    `json:"filtered_by_chapter,omitempty"`
	ConsistencyScore  float64 `json:"consistency_score,omitempty"`
	NumRetrievals     int     `json:"num_retrievals,omitempty"`
}

// IndexResult is returned by the indexing entry point.
type IndexResult struct {
	Status        RetrievalStatus `json:"status"`
	Filename      string          `json:"filename"`
	NumChunks     int             `json:"num_chunks"`
	NumIndexed    int             `json:"num_indexed"`
	FileHash      string          `json:"file_hash,omitempty"`
	ChaptersFound int             `json:"chapters_found"`
	SectionsFound int             `json:"sections_found"`
	Message       string          `json:"message"`

	// Set when Status is StatusDuplicate.
	OriginalFilename string `json:"original_filename,omitempty"`
	UploadDate       string `json:"upload_date,omitempty"`
}
