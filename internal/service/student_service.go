package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/academia-crm/tuition-api/internal/models"
	appErrors "github.com/academia-crm/tuition-api/pkg/errors"
	"github.com/academia-crm/tuition-api/pkg/export"
)

type studentRepository interface {
	List(ctx context.Context, filter models.StudentFilter) ([]models.Student, int, error)
	FindByID(ctx context.Context, id string) (*models.Student, error)
}

// StudentService exposes read access to registrations. Guardians only see
// their own students; admins see everything.
type StudentService struct {
	repo   studentRepository
	pdf    *export.PDFExporter
	logger *zap.Logger
}

// NewStudentService constructs a StudentService.
func NewStudentService(repo studentRepository, logger *zap.Logger) *StudentService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StudentService{repo: repo, pdf: export.NewPDFExporter(), logger: logger}
}

// List returns students matching the filter along with pagination metadata.
func (s *StudentService) List(ctx context.Context, filter models.StudentFilter) ([]models.Student, models.Pagination, error) {
	students, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, models.Pagination{}, appErrors.Wrap(err,
			appErrors.ErrStoreUnavailable.Code, appErrors.ErrStoreUnavailable.Status, "failed to list students")
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 || size > 100 {
		size = 20
	}
	return students, models.Pagination{Page: page, PageSize: size, TotalCount: total}, nil
}

// Get fetches a student, restricted to its guardian unless the caller is an
// admin.
func (s *StudentService) Get(ctx context.Context, id string, claims *models.JWTClaims) (*models.Student, error) {
	student, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "student not found")
		}
		return nil, appErrors.Wrap(err,
			appErrors.ErrStoreUnavailable.Code, appErrors.ErrStoreUnavailable.Status, "failed to load student")
	}
	if claims != nil && claims.Role != models.RoleAdmin && student.GuardianID != claims.UserID {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "student belongs to another account")
	}
	return student, nil
}

// DetailsPDF renders a single-student registration sheet.
func (s *StudentService) DetailsPDF(ctx context.Context, id string, claims *models.JWTClaims) ([]byte, string, error) {
	student, err := s.Get(ctx, id, claims)
	if err != nil {
		return nil, "", err
	}

	fields := []export.Field{
		{Label: "Matricula", Value: strOrEmpty(student.Matricula)},
		{Label: "Nombre", Value: student.FullName},
		{Label: "Edad", Value: fmt.Sprintf("%d", student.Age)},
		{Label: "Curso", Value: student.CourseInterest},
		{Label: "Horario", Value: student.ScheduleCategory},
		{Label: "Correo", Value: student.Email},
		{Label: "Hermano inscrito", Value: yesNo(student.SiblingEnrolled)},
	}
	if student.SiblingEnrolled {
		fields = append(fields, export.Field{Label: "Nombre del hermano", Value: strOrEmpty(student.SiblingName)})
	}
	fields = append(fields,
		export.Field{Label: "Alergias", Value: yesNo(student.HasAllergies)},
	)
	if student.HasAllergies {
		fields = append(fields, export.Field{Label: "Detalle de alergias", Value: strOrEmpty(student.AllergyDetails)})
	}
	fields = append(fields,
		export.Field{Label: "Alergia a medicamentos", Value: yesNo(student.MedicationAllergy)},
	)
	if student.MedicationAllergy {
		fields = append(fields, export.Field{Label: "Detalle de medicamentos", Value: strOrEmpty(student.MedicationDetails)})
	}
	fields = append(fields,
		export.Field{Label: "Como se entero", Value: strOrEmpty(student.ReferralSource)},
		export.Field{Label: "Fecha de registro", Value: student.RegisteredAt.Format("2006-01-02")},
	)

	data, err := s.pdf.RenderFields("Ficha de inscripcion", fields)
	if err != nil {
		return nil, "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render student sheet")
	}
	return data, fmt.Sprintf("alumno_%s.pdf", id), nil
}

func yesNo(v bool) string {
	if v {
		return "Si"
	}
	return "No"
}
