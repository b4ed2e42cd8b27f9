package models

// StructuredResult is the denormalized, reader-facing view of a task's
// stored analysis payload. Its JSON shape matches the on-disk primary
// file, so it round-trips between the database, the filesystem mirror,
// and the cache without loss.
type StructuredResult struct {
	TaskID       string         `json:"task_id"`
	ModelSlug    string         `json:"model_slug"`
	AppNumber    int            `json:"app_number"`
	AnalysisType string         `json:"analysis_type"`
	Timestamp    string         `json:"timestamp"`
	Metadata     map[string]any `json:"metadata"`
	Results      map[string]any `json:"results"`
	Summary      map[string]any `json:"summary"`
}

// ArtifactReference points at an externalized diagnostic document (a SARIF
// run) written beneath the task's own result directory in place of the
// inline content. SarifFile is relative to the task directory and must
// never resolve outside it.
type ArtifactReference struct {
	SarifFile   string `json:"sarif_file"`
	ExtractedAt string `json:"extracted_at"`
}

// ResultFile describes one primary result file discovered on disk.
type ResultFile struct {
	TaskID     string `json:"task_id"`
	Path       string `json:"path"`
	SizeBytes  int64  `json:"size_bytes"`
	ModifiedAt string `json:"modified_at"`
}
