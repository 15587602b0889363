package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/academia-crm/tuition-api/internal/models"
	appErrors "github.com/academia-crm/tuition-api/pkg/errors"
	"github.com/academia-crm/tuition-api/pkg/export"
)

type reportRepository interface {
	GeneralRoster(ctx context.Context, rng models.DateRange) ([]models.GeneralRosterRow, error)
	SiblingsRoster(ctx context.Context, rng models.DateRange) ([]models.RosterRow, error)
	AllergyRoster(ctx context.Context, rng models.DateRange) ([]models.RosterRow, error)
	MedicationAllergyRoster(ctx context.Context, rng models.DateRange) ([]models.RosterRow, error)
	ReferralRoster(ctx context.Context, rng models.DateRange) ([]models.RosterRow, error)
	ExpiredAccounts(ctx context.Context) ([]models.ReceiptStatusRow, error)
	ApprovedAccounts(ctx context.Context) ([]models.ReceiptStatusRow, error)
	RejectedAccounts(ctx context.Context) ([]models.ReceiptStatusRow, error)
	ValidatedReceipts(ctx context.Context, rng models.DateRange) ([]models.ValidatedReceiptRow, error)
}

type reportCache interface {
	Get(ctx context.Context, key string, dest interface{}) error
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
}

type reportMetrics interface {
	ObserveReport(reportType string, duration time.Duration)
	RecordCacheLookup(hit bool)
}

type payloadLoader interface {
	Load(ref string) ([]byte, error)
}

// ReportCacheConfig tunes caching of rendered tabular exports.
type ReportCacheConfig struct {
	Enabled bool
	TTL     time.Duration
}

type reportBuilder struct {
	title      string
	needsRange bool
	cacheable  bool
	build      func(ctx context.Context, rng models.DateRange) (*models.ReportExport, error)
}

// ReportService resolves a report type to its dataset query and renders the
// export. All reports are read-only over the registration and receipt data.
type ReportService struct {
	repo     reportRepository
	payloads payloadLoader
	cache    reportCache
	metrics  reportMetrics
	csv      *export.CSVExporter
	pdf      *export.PDFExporter
	cacheCfg ReportCacheConfig
	clock    Clock
	logger   *zap.Logger

	builders map[models.ReportType]reportBuilder
}

// NewReportService constructs a ReportService.
func NewReportService(repo reportRepository, payloads payloadLoader, cache reportCache, metrics reportMetrics, cacheCfg ReportCacheConfig, clock Clock, logger *zap.Logger) *ReportService {
	if clock == nil {
		clock = SystemClock()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &ReportService{
		repo:     repo,
		payloads: payloads,
		cache:    cache,
		metrics:  metrics,
		csv:      export.NewCSVExporter(),
		pdf:      export.NewPDFExporter(),
		cacheCfg: cacheCfg,
		clock:    clock,
		logger:   logger,
	}
	s.builders = map[models.ReportType]reportBuilder{
		models.ReportGeneralRoster:       {title: "Listado general de alumnos", needsRange: true, cacheable: true, build: s.buildGeneralRoster},
		models.ReportSiblingsEnrolled:    {title: "Hermanos inscritos", needsRange: true, cacheable: true, build: s.buildSiblingsRoster},
		models.ReportAllergies:           {title: "Alumnos con alergias", needsRange: true, cacheable: true, build: s.buildAllergyRoster},
		models.ReportMedicationAllergies: {title: "Alergias a medicamentos", needsRange: true, cacheable: true, build: s.buildMedicationRoster},
		models.ReportReferralSources:     {title: "Como se enteraron de la academia", needsRange: true, cacheable: true, build: s.buildReferralRoster},
		models.ReportExpiredAccounts:     {title: "Usuarios vencidos", cacheable: true, build: s.buildExpiredAccounts},
		models.ReportApprovedAccounts:    {title: "Usuarios aprobados", cacheable: true, build: s.buildApprovedAccounts},
		models.ReportRejectedAccounts:    {title: "Usuarios rechazados", cacheable: true, build: s.buildRejectedAccounts},
		models.ReportValidatedReceipts:   {title: "Comprobantes validados", needsRange: true, build: s.buildValidatedReceipts},
	}
	return s
}

// Generate validates the request and dispatches to the report's builder.
// Reports that do not consume the date range still reject an invalid one.
func (s *ReportService) Generate(ctx context.Context, reportType models.ReportType, rng models.DateRange) (*models.ReportExport, error) {
	builder, ok := s.builders[reportType]
	if !ok {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unknown report type %q", reportType))
	}
	if builder.needsRange {
		if err := s.validateRange(rng); err != nil {
			return nil, err
		}
	} else if !rng.IsZero() {
		if err := s.checkRangeBounds(rng); err != nil {
			return nil, err
		}
	}

	var cacheKey string
	if builder.cacheable {
		cacheKey = s.cacheKey(reportType, rng)
		if cached := s.fromCache(ctx, cacheKey); cached != nil {
			return cached, nil
		}
	}

	start := time.Now()
	result, err := builder.build(ctx, rng)
	if err != nil {
		return nil, err
	}
	if s.metrics != nil {
		s.metrics.ObserveReport(string(reportType), time.Since(start))
	}

	if builder.cacheable {
		s.toCache(ctx, cacheKey, result)
	}
	return result, nil
}

// validateRange enforces that both bounds are present, ordered, and that the
// end does not reach into the future.
func (s *ReportService) validateRange(rng models.DateRange) error {
	if rng.From.IsZero() || rng.To.IsZero() {
		return appErrors.Clone(appErrors.ErrInvalidRange, "both start and end dates are required")
	}
	return s.checkRangeBounds(rng)
}

func (s *ReportService) checkRangeBounds(rng models.DateRange) error {
	if !rng.From.IsZero() && !rng.To.IsZero() && rng.To.Before(rng.From) {
		return appErrors.Clone(appErrors.ErrInvalidRange, "end date precedes start date")
	}
	if !rng.To.IsZero() {
		now := s.clock.Now()
		endOfToday := time.Date(now.Year(), now.Month(), now.Day(), 23, 59, 59, 0, now.Location())
		if rng.To.After(endOfToday) {
			return appErrors.Clone(appErrors.ErrInvalidRange, "end date cannot be in the future")
		}
	}
	return nil
}

func (s *ReportService) buildGeneralRoster(ctx context.Context, rng models.DateRange) (*models.ReportExport, error) {
	rows, err := s.repo.GeneralRoster(ctx, rng)
	if err != nil {
		return nil, s.storeErr(err)
	}
	data := export.Dataset{Headers: []string{"Curso", "Horario", "Matricula", "Usuario", "Alumno", "Estatus"}}
	for _, row := range rows {
		data.Rows = append(data.Rows, map[string]string{
			"Curso":     row.CourseInterest,
			"Horario":   row.ScheduleCategory,
			"Matricula": strOrEmpty(row.Matricula),
			"Usuario":   row.GuardianID,
			"Alumno":    row.StudentName,
			"Estatus":   enrollmentLabel(row.LatestState),
		})
	}
	return s.renderCSV(models.ReportGeneralRoster, data)
}

func (s *ReportService) buildSiblingsRoster(ctx context.Context, rng models.DateRange) (*models.ReportExport, error) {
	rows, err := s.repo.SiblingsRoster(ctx, rng)
	if err != nil {
		return nil, s.storeErr(err)
	}
	return s.renderRoster(models.ReportSiblingsEnrolled, "Hermano", rows)
}

func (s *ReportService) buildAllergyRoster(ctx context.Context, rng models.DateRange) (*models.ReportExport, error) {
	rows, err := s.repo.AllergyRoster(ctx, rng)
	if err != nil {
		return nil, s.storeErr(err)
	}
	return s.renderRoster(models.ReportAllergies, "Alergias", rows)
}

func (s *ReportService) buildMedicationRoster(ctx context.Context, rng models.DateRange) (*models.ReportExport, error) {
	rows, err := s.repo.MedicationAllergyRoster(ctx, rng)
	if err != nil {
		return nil, s.storeErr(err)
	}
	return s.renderRoster(models.ReportMedicationAllergies, "Medicamentos", rows)
}

func (s *ReportService) buildReferralRoster(ctx context.Context, rng models.DateRange) (*models.ReportExport, error) {
	rows, err := s.repo.ReferralRoster(ctx, rng)
	if err != nil {
		return nil, s.storeErr(err)
	}
	return s.renderRoster(models.ReportReferralSources, "Medio", rows)
}

func (s *ReportService) renderRoster(reportType models.ReportType, detailHeader string, rows []models.RosterRow) (*models.ReportExport, error) {
	data := export.Dataset{Headers: []string{"Curso", "Horario", "Matricula", "Usuario", "Alumno", detailHeader}}
	for _, row := range rows {
		data.Rows = append(data.Rows, map[string]string{
			"Curso":      row.CourseInterest,
			"Horario":    row.ScheduleCategory,
			"Matricula":  strOrEmpty(row.Matricula),
			"Usuario":    row.GuardianID,
			"Alumno":     row.StudentName,
			detailHeader: strOrEmpty(row.Details),
		})
	}
	return s.renderCSV(reportType, data)
}

func (s *ReportService) buildExpiredAccounts(ctx context.Context, _ models.DateRange) (*models.ReportExport, error) {
	rows, err := s.repo.ExpiredAccounts(ctx)
	if err != nil {
		return nil, s.storeErr(err)
	}
	return s.renderStatusRows(models.ReportExpiredAccounts, "Fecha de vencimiento", rows)
}

func (s *ReportService) buildApprovedAccounts(ctx context.Context, _ models.DateRange) (*models.ReportExport, error) {
	rows, err := s.repo.ApprovedAccounts(ctx)
	if err != nil {
		return nil, s.storeErr(err)
	}
	return s.renderStatusRows(models.ReportApprovedAccounts, "Fecha de pago", rows)
}

func (s *ReportService) buildRejectedAccounts(ctx context.Context, _ models.DateRange) (*models.ReportExport, error) {
	rows, err := s.repo.RejectedAccounts(ctx)
	if err != nil {
		return nil, s.storeErr(err)
	}
	return s.renderStatusRows(models.ReportRejectedAccounts, "Fecha de rechazo", rows)
}

func (s *ReportService) renderStatusRows(reportType models.ReportType, dateHeader string, rows []models.ReceiptStatusRow) (*models.ReportExport, error) {
	data := export.Dataset{Headers: []string{"Matricula", "Alumno", dateHeader}}
	for _, row := range rows {
		data.Rows = append(data.Rows, map[string]string{
			"Matricula": strOrEmpty(row.Matricula),
			"Alumno":    row.StudentName,
			dateHeader:  row.Date.Format("2006-01-02"),
		})
	}
	return s.renderCSV(reportType, data)
}

// buildValidatedReceipts renders one PDF page per approved receipt in range.
// A payload that is missing or not a displayable image degrades that page to
// a notice instead of failing the export.
func (s *ReportService) buildValidatedReceipts(ctx context.Context, rng models.DateRange) (*models.ReportExport, error) {
	rows, err := s.repo.ValidatedReceipts(ctx, rng)
	if err != nil {
		return nil, s.storeErr(err)
	}

	pages := make([]export.DocumentPage, 0, len(rows))
	for _, row := range rows {
		page := export.DocumentPage{
			Fields: []export.Field{
				{Label: "Matricula", Value: strOrEmpty(row.Matricula)},
				{Label: "Alumno", Value: row.StudentName},
				{Label: "Fecha de pago", Value: row.ApprovedAt.Format("2006-01-02")},
			},
			Notice: "Comprobante no disponible como imagen.",
		}
		payload, err := s.payloads.Load(row.FileRef)
		if err != nil {
			s.logger.Warn("receipt payload unavailable for report",
				zap.String("ref", row.FileRef), zap.Error(err))
		} else {
			page.Image = payload
		}
		pages = append(pages, page)
	}

	data, err := s.pdf.RenderDocument("Comprobantes validados", pages)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render report")
	}
	return &models.ReportExport{
		Filename:    s.filename(models.ReportValidatedReceipts, "pdf"),
		ContentType: "application/pdf",
		Data:        data,
	}, nil
}

func (s *ReportService) renderCSV(reportType models.ReportType, data export.Dataset) (*models.ReportExport, error) {
	rendered, err := s.csv.Render(data)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render report")
	}
	return &models.ReportExport{
		Filename:    s.filename(reportType, "csv"),
		ContentType: "text/csv",
		Data:        rendered,
	}, nil
}

func (s *ReportService) filename(reportType models.ReportType, ext string) string {
	return fmt.Sprintf("%s_%s.%s", reportType, s.clock.Now().Format("2006-01-02"), ext)
}

func (s *ReportService) cacheKey(reportType models.ReportType, rng models.DateRange) string {
	return fmt.Sprintf("report:%s:%s:%s", reportType,
		rng.From.Format("2006-01-02"), rng.To.Format("2006-01-02"))
}

func (s *ReportService) fromCache(ctx context.Context, key string) *models.ReportExport {
	if !s.cacheCfg.Enabled || s.cache == nil {
		return nil
	}
	var cached models.ReportExport
	if err := s.cache.Get(ctx, key, &cached); err != nil {
		if s.metrics != nil {
			s.metrics.RecordCacheLookup(false)
		}
		return nil
	}
	if s.metrics != nil {
		s.metrics.RecordCacheLookup(true)
	}
	return &cached
}

func (s *ReportService) toCache(ctx context.Context, key string, result *models.ReportExport) {
	if !s.cacheCfg.Enabled || s.cache == nil {
		return
	}
	if err := s.cache.Set(ctx, key, result, s.cacheCfg.TTL); err != nil {
		s.logger.Warn("failed to cache report export", zap.String("key", key), zap.Error(err))
	}
}

func (s *ReportService) storeErr(err error) error {
	return appErrors.Wrap(err, appErrors.ErrStoreUnavailable.Code, appErrors.ErrStoreUnavailable.Status, "report query failed")
}

// enrollmentLabel derives the roster status column from the state of the
// student's most recent receipt. A student with no receipt at all reads as
// still pending.
func enrollmentLabel(state models.ReceiptState) string {
	switch state {
	case models.ReceiptStateApproved:
		return "Inscrito"
	case models.ReceiptStateExpired:
		return "No Inscrito"
	case models.ReceiptStateRejected:
		return "Rechazado"
	default:
		return "Pendiente"
	}
}

func strOrEmpty(value *string) string {
	if value == nil {
		return ""
	}
	return *value
}
