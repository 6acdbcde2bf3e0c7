package analyzer

import "github.com/bricklead/jvmgraph/internal/facts"

// HealthResponse is the GET /health payload.
type HealthResponse struct {
	Status  string `json:"status"`
	Service string `json:"service"`
	Version string `json:"version"`
}

// IndexRequest selects class files for symbol indexing. Either a single file
// or a batch may be supplied.
type IndexRequest struct {
	ClassFile  string   `json:"classFile,omitempty"`
	ClassFiles []string `json:"classFiles,omitempty"`
}

// IndexResult is the per-file outcome of symbol indexing. Enums are skipped
// in this phase: they contribute no indexable structure beyond themselves.
type IndexResult struct {
	Success   bool           `json:"success"`
	ClassFile string         `json:"classFile,omitempty"`
	ClassFQN  string         `json:"class_fqn,omitempty"`
	IsEntity  bool           `json:"is_entity,omitempty"`
	Skipped   bool           `json:"skipped,omitempty"`
	Reason    string         `json:"reason,omitempty"`
	Symbols   []facts.Symbol `json:"symbols,omitempty"`
	Error     string         `json:"error,omitempty"`
}

// IndexBatchResponse is the POST /index/batch payload.
type IndexBatchResponse struct {
	Success bool          `json:"success"`
	Results []IndexResult `json:"results"`
}

// AnalyzeRequest selects classes for full fact extraction. Exactly one of
// PackageRoots, ClassDirs, or ClassFiles should be set; Domains restricts
// the result to classes whose FQN matches one of the prefixes (empty list
// disables filtering); Limit caps classes per directory.
type AnalyzeRequest struct {
	PackageRoots []string `json:"packageRoots,omitempty"`
	ClassDirs    []string `json:"classDirs,omitempty"`
	ClassFiles   []string `json:"classFiles,omitempty"`
	Domains      []string `json:"domains,omitempty"`
	Limit        int      `json:"limit,omitempty"`
}

// FileFailure records one class file that could not be decoded. Failures do
// not abort the batch.
type FileFailure struct {
	Success bool   `json:"success"`
	File    string `json:"file"`
	Error   string `json:"error"`
}

// AnalyzeResponse is the POST /analyze payload: grouped per-class records
// plus per-file failures.
type AnalyzeResponse struct {
	Success  bool                `json:"success"`
	Classes  []facts.ClassRecord `json:"classes"`
	Failures []FileFailure       `json:"failures,omitempty"`
}

// ErrorResponse is the envelope for request-level failures.
type ErrorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

// ShutdownResponse acknowledges POST /shutdown.
type ShutdownResponse struct {
	Status string `json:"status"`
}
