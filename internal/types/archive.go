package types

// Committer identifies who writes to the archive repository
type Committer struct {
	Name  string `json:"name" mapstructure:"name" validate:"required"`
	Email string `json:"email" mapstructure:"email" validate:"required,email"`
}

// ArchiveRecord describes a snapshot persisted in the archive repository
type ArchiveRecord struct {
	Path        string    `json:"path"`
	Message     string    `json:"message"`
	PreviousSHA string    `json:"previous_sha,omitempty"`
	SHA         string    `json:"sha,omitempty"`
	Committer   Committer `json:"committer"`
}

// Created reports whether the record did not exist before the write
func (r *ArchiveRecord) Created() bool {
	return r.PreviousSHA == ""
}
