package dto

import "time"

// ExportRequestQuery selects the register slice and output format.
type ExportRequestQuery struct {
	Format   string `form:"format" validate:"required,oneof=csv pdf"`
	Status   string `form:"status"`
	Priority string `form:"priority"`
}

// ExportResponse points at the generated artifact.
type ExportResponse struct {
	File        string    `json:"file"`
	Format      string    `json:"format"`
	DownloadURL string    `json:"download_url"`
	ExpiresAt   time.Time `json:"expires_at"`
	Rows        int       `json:"rows"`
}
