package service

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/lab-access-api/internal/dto"
	"github.com/noah-isme/lab-access-api/internal/models"
	appErrors "github.com/noah-isme/lab-access-api/pkg/errors"
	"github.com/noah-isme/lab-access-api/pkg/export"
	"github.com/noah-isme/lab-access-api/pkg/storage"
)

type fileStorage interface {
	Save(filename string, data []byte) (string, error)
	Open(filename string) (*os.File, error)
	Delete(filename string) error
	CleanupOlderThan(ttl time.Duration) ([]string, error)
}

type csvRenderer interface {
	Render(data export.Dataset) ([]byte, error)
}

type pdfRenderer interface {
	Render(data export.Dataset, title string) ([]byte, error)
}

// ExportConfig tunes export behaviour.
type ExportConfig struct {
	APIPrefix string
	ResultTTL time.Duration
	PageSize  int
}

// ExportService renders the access request register to CSV or PDF and hands
// out signed download URLs. Generated files live on local storage and are
// reaped after the result TTL.
type ExportService struct {
	requests requestLister
	audit    auditRecorder
	storage  fileStorage
	csv      csvRenderer
	pdf      pdfRenderer
	signer   *storage.SignedURLSigner
	logger   *zap.Logger
	cfg      ExportConfig
}

// NewExportService constructs an ExportService.
func NewExportService(requests requestLister, audit auditRecorder, files fileStorage, signer *storage.SignedURLSigner, cfg ExportConfig, logger *zap.Logger, csv csvRenderer, pdf pdfRenderer) *ExportService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ResultTTL <= 0 {
		cfg.ResultTTL = 24 * time.Hour
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = 200
	}
	if csv == nil {
		csv = export.NewCSVExporter()
	}
	if pdf == nil {
		pdf = export.NewPDFExporter()
	}
	return &ExportService{
		requests: requests,
		audit:    audit,
		storage:  files,
		csv:      csv,
		pdf:      pdf,
		signer:   signer,
		logger:   logger,
		cfg:      cfg,
	}
}

// Generate renders the register slice the query selects and returns signed
// download metadata. Only admins export.
func (s *ExportService) Generate(ctx context.Context, query dto.ExportRequestQuery, actor *models.JWTClaims) (*dto.ExportResponse, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	if actor.Role != models.RoleAdmin {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only admins can export the register")
	}
	format := strings.ToLower(strings.TrimSpace(query.Format))
	if format != "csv" && format != "pdf" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "format must be csv or pdf")
	}

	requests, err := s.collect(ctx, query)
	if err != nil {
		return nil, err
	}
	dataset := buildRegisterDataset(requests)
	title := "Access Request Register"

	var payload []byte
	switch format {
	case "csv":
		payload, err = s.csv.Render(dataset)
	case "pdf":
		payload, err = s.pdf.Render(dataset, title)
	}
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render export")
	}

	exportID := uuid.NewString()
	filename := fmt.Sprintf("register_%s.%s", time.Now().UTC().Format("20060102_150405"), format)
	relPath, err := s.storage.Save(filename, payload)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to store export")
	}

	token, expiresAt, err := s.signer.Generate(exportID, relPath)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to sign download URL")
	}
	prefix := strings.TrimRight(s.cfg.APIPrefix, "/")
	if prefix == "" {
		prefix = "/api/v1"
	}

	s.emitAudit(ctx, actor.UserID, exportID, format, len(dataset.Rows))

	return &dto.ExportResponse{
		File:        relPath,
		Format:      format,
		DownloadURL: fmt.Sprintf("%s/exports/download/%s", prefix, token),
		ExpiresAt:   expiresAt,
		Rows:        len(dataset.Rows),
	}, nil
}

// ParseToken validates download token metadata.
func (s *ExportService) ParseToken(token string, allowExpired bool) (exportID, relPath string, expiresAt time.Time, err error) {
	return s.signer.Parse(token, allowExpired)
}

// Open returns a handle to the stored file.
func (s *ExportService) Open(relPath string) (*os.File, error) {
	return s.storage.Open(relPath)
}

// Cleanup removes files older than ttl (defaults to configured ResultTTL when ttl <= 0).
func (s *ExportService) Cleanup(ttl time.Duration) ([]string, error) {
	if ttl <= 0 {
		ttl = s.cfg.ResultTTL
	}
	return s.storage.CleanupOlderThan(ttl)
}

// collect pages through the register; List caps each page, exports want the
// whole slice.
func (s *ExportService) collect(ctx context.Context, query dto.ExportRequestQuery) ([]models.AccessRequest, error) {
	filter := models.RequestFilter{Limit: s.cfg.PageSize}
	if status := strings.TrimSpace(query.Status); status != "" {
		filter.Status = []models.RequestStatus{models.RequestStatus(status)}
	}
	if priority := strings.TrimSpace(query.Priority); priority != "" {
		if !models.ValidPriority(models.RequestPriority(priority)) {
			return nil, appErrors.Clone(appErrors.ErrValidation, "priority must be low, medium, high, or urgent")
		}
		filter.Priority = models.RequestPriority(priority)
	}

	var all []models.AccessRequest
	for {
		batch, err := s.requests.List(ctx, filter)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load register")
		}
		all = append(all, batch...)
		if len(batch) < s.cfg.PageSize {
			return all, nil
		}
		filter.Offset += s.cfg.PageSize
	}
}

func buildRegisterDataset(requests []models.AccessRequest) export.Dataset {
	headers := []string{"ID", "Requester", "Role", "Title", "Priority", "Status", "Submitted At", "Approved At", "Rejection Reason"}
	rows := make([]map[string]string, 0, len(requests))
	for _, req := range requests {
		rows = append(rows, map[string]string{
			"ID":               req.ID,
			"Requester":        req.RequesterName,
			"Role":             string(req.RequesterRole),
			"Title":            req.Title,
			"Priority":         string(req.Priority),
			"Status":           string(req.Status),
			"Submitted At":     req.SubmittedAt.UTC().Format(time.RFC3339),
			"Approved At":      formatExportTime(req.ApprovedAt),
			"Rejection Reason": stringOrEmpty(req.RejectionReason),
		})
	}
	return export.Dataset{Headers: headers, Rows: rows}
}

func formatExportTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func stringOrEmpty(ptr *string) string {
	if ptr == nil {
		return ""
	}
	return *ptr
}

func (s *ExportService) emitAudit(ctx context.Context, userID, exportID, format string, rows int) {
	if s.audit == nil {
		return
	}
	log := &models.AuditLog{
		UserID:     &userID,
		Action:     models.AuditActionExport,
		Resource:   "export",
		ResourceID: &exportID,
		IPAddress:  "system",
		UserAgent:  "export-service",
	}
	if data, err := json.Marshal(map[string]any{"format": format, "rows": rows}); err == nil {
		log.NewValues = data
	}
	if err := s.audit.CreateAuditLog(ctx, log); err != nil {
		s.logger.Warn("failed to persist audit log", zap.Error(err))
	}
}
