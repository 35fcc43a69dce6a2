package models

// Chunk is a line-range-tagged unit of source text; the atomic unit of indexing and retrieval.
// StartLine and EndLine are 1-based and inclusive. ChunkDate is "YYYY-MM-DD" or empty.
type Chunk struct {
	ID        int64      `json:"id"`
	Path      string     `json:"path"`
	StartLine int        `json:"start_line"`
	EndLine   int        `json:"end_line"`
	Text      string     `json:"text"`
	Kind      SourceKind `json:"kind"`
	ChunkDate string     `json:"chunk_date,omitempty"`
}

// FilesystemOptions bounds a filesystem indexing run.
type FilesystemOptions struct {
	MaxDepth      int      `json:"max_depth,omitempty"`
	MaxChunks     int      `json:"max_chunks,omitempty"`
	BatchSize     int      `json:"batch_size,omitempty"`
	Exclude       []string `json:"exclude,omitempty"`
	Hidden        []string `json:"hidden,omitempty"`
	IncludeHidden bool     `json:"include_hidden,omitempty"`
}

// SyncReport summarizes one incremental sync.
type SyncReport struct {
	RunID         string `json:"run_id"`
	Added         int    `json:"added"`
	Updated       int    `json:"updated"`
	Deleted       int    `json:"deleted"`
	Unchanged     int    `json:"unchanged"`
	Skipped       int    `json:"skipped"`
	ChunksWritten int    `json:"chunks_written"`
	Repaired      int    `json:"repaired,omitempty"`
}

// FilesystemReport summarizes one filesystem indexing run.
type FilesystemReport struct {
	RunID       string `json:"run_id"`
	Root        string `json:"root"`
	Directories int    `json:"directories"`
	Batches     int    `json:"batches"`
	Truncated   bool   `json:"truncated"`
}

// Status describes the current index.
type Status struct {
	Files      int64  `json:"files"`
	Chunks     int64  `json:"chunks"`
	Vectors    int64  `json:"vectors"`
	Dimensions int    `json:"dimensions"`
	Model      string `json:"model"`
	IndexType  string `json:"index_type"`
	DiskBytes  int64  `json:"disk_bytes"`
}
