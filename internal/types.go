package internal

import "time"

// Unit is an ordered, addressable piece of source text. ParagraphIndex and
// SentenceIndex are structural hints used when results are stitched back
// together; nothing upstream of recombination reads them.
type Unit struct {
	ID             string `json:"id"`
	Index          int    `json:"index"`
	Text           string `json:"text"`
	ParagraphIndex int    `json:"paragraph_index"`
	SentenceIndex  *int   `json:"sentence_index,omitempty"`
}

// JobStatus is the lifecycle state of a translation job.
type JobStatus string

const (
	JobQueued    JobStatus = "queued"
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
)

// JobRequest is what a client submits to have a document translated.
type JobRequest struct {
	Name       string `json:"name"`
	Text       string `json:"text" binding:"required"`
	SourceLang string `json:"source_lang"`
	TargetLang string `json:"target_lang" binding:"required"`
}

// Job is a persisted translation job.
type Job struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	DocumentHash string    `json:"document_hash"`
	SourceLang   string    `json:"source_lang"`
	TargetLang   string    `json:"target_lang"`
	Status       JobStatus `json:"status"`
	Stage        string    `json:"stage"`
	Error        string    `json:"error,omitempty"`
	UnitCount    int       `json:"unit_count"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}
