package service

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/academia-crm/tuition-api/internal/models"
	appErrors "github.com/academia-crm/tuition-api/pkg/errors"
)

type fakeReportStore struct {
	general   []models.GeneralRosterRow
	siblings  []models.RosterRow
	approved  []models.ReceiptStatusRow
	validated []models.ValidatedReceiptRow
}

func (f *fakeReportStore) GeneralRoster(context.Context, models.DateRange) ([]models.GeneralRosterRow, error) {
	return f.general, nil
}

func (f *fakeReportStore) SiblingsRoster(context.Context, models.DateRange) ([]models.RosterRow, error) {
	return f.siblings, nil
}

func (f *fakeReportStore) AllergyRoster(context.Context, models.DateRange) ([]models.RosterRow, error) {
	return nil, nil
}

func (f *fakeReportStore) MedicationAllergyRoster(context.Context, models.DateRange) ([]models.RosterRow, error) {
	return nil, nil
}

func (f *fakeReportStore) ReferralRoster(context.Context, models.DateRange) ([]models.RosterRow, error) {
	return nil, nil
}

func (f *fakeReportStore) ExpiredAccounts(context.Context) ([]models.ReceiptStatusRow, error) {
	return nil, nil
}

func (f *fakeReportStore) ApprovedAccounts(context.Context) ([]models.ReceiptStatusRow, error) {
	return f.approved, nil
}

func (f *fakeReportStore) RejectedAccounts(context.Context) ([]models.ReceiptStatusRow, error) {
	return nil, nil
}

func (f *fakeReportStore) ValidatedReceipts(context.Context, models.DateRange) ([]models.ValidatedReceiptRow, error) {
	return f.validated, nil
}

type memCache struct {
	entries map[string][]byte
}

func (m *memCache) Get(_ context.Context, key string, dest interface{}) error {
	raw, ok := m.entries[key]
	if !ok {
		return appErrors.ErrCacheMiss
	}
	return json.Unmarshal(raw, dest)
}

func (m *memCache) Set(_ context.Context, key string, value interface{}, _ time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	m.entries[key] = raw
	return nil
}

type mapPayloads struct {
	files map[string][]byte
}

func (m mapPayloads) Load(ref string) ([]byte, error) {
	data, ok := m.files[ref]
	if !ok {
		return nil, appErrors.ErrNotFound
	}
	return data, nil
}

func newReportServiceForTest(repo *fakeReportStore, payloads mapPayloads, now time.Time) *ReportService {
	return NewReportService(repo, payloads, nil, nil, ReportCacheConfig{}, fixedClock{now: now}, zap.NewNop())
}

func validRange(t *testing.T) models.DateRange {
	t.Helper()
	return models.DateRange{
		From: mustTime(t, "2024-01-01T00:00:00Z"),
		To:   mustTime(t, "2024-02-01T00:00:00Z"),
	}
}

func TestReportServiceUnknownType(t *testing.T) {
	svc := newReportServiceForTest(&fakeReportStore{}, mapPayloads{}, mustTime(t, "2024-02-05T10:00:00Z"))
	_, err := svc.Generate(context.Background(), "nomina", validRange(t))
	require.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func TestReportServiceRangeValidation(t *testing.T) {
	now := mustTime(t, "2024-02-05T10:00:00Z")
	svc := newReportServiceForTest(&fakeReportStore{}, mapPayloads{}, now)

	cases := []struct {
		name string
		rng  models.DateRange
	}{
		{"missing bounds", models.DateRange{}},
		{"inverted", models.DateRange{From: mustTime(t, "2024-02-01T00:00:00Z"), To: mustTime(t, "2024-01-01T00:00:00Z")}},
		{"future end", models.DateRange{From: mustTime(t, "2024-01-01T00:00:00Z"), To: mustTime(t, "2024-02-06T00:00:00Z")}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.Generate(context.Background(), models.ReportGeneralRoster, tc.rng)
			require.Equal(t, appErrors.ErrInvalidRange.Code, appErrors.FromError(err).Code)
		})
	}

	// A range ending today is still valid.
	_, err := svc.Generate(context.Background(), models.ReportGeneralRoster, models.DateRange{
		From: mustTime(t, "2024-01-01T00:00:00Z"),
		To:   mustTime(t, "2024-02-05T00:00:00Z"),
	})
	require.NoError(t, err)
}

func TestReportServiceGeneralRosterLabels(t *testing.T) {
	matricula := "A-001"
	repo := &fakeReportStore{general: []models.GeneralRosterRow{
		{RosterRow: models.RosterRow{CourseInterest: "Guitarra", ScheduleCategory: "Sabado", Matricula: &matricula, GuardianID: "guardian-7", StudentName: "Ana"}, LatestState: models.ReceiptStateApproved},
		{RosterRow: models.RosterRow{CourseInterest: "Piano", ScheduleCategory: "Entre semana", StudentName: "Luis"}, LatestState: models.ReceiptStateRejected},
		{RosterRow: models.RosterRow{CourseInterest: "Canto", ScheduleCategory: "Sabado", StudentName: "Eva"}, LatestState: models.ReceiptStatePending},
		{RosterRow: models.RosterRow{CourseInterest: "Bajo", ScheduleCategory: "Sabado", StudentName: "Sol"}, LatestState: models.ReceiptStateExpired},
		{RosterRow: models.RosterRow{CourseInterest: "Violin", ScheduleCategory: "Sabado", StudentName: "Max"}, LatestState: ""},
	}}
	svc := newReportServiceForTest(repo, mapPayloads{}, mustTime(t, "2024-02-05T10:00:00Z"))

	result, err := svc.Generate(context.Background(), models.ReportGeneralRoster, validRange(t))
	require.NoError(t, err)
	require.Equal(t, "text/csv", result.ContentType)

	body := string(result.Data)
	require.Contains(t, body, "Curso,Horario,Matricula,Usuario,Alumno,Estatus")
	require.Contains(t, body, "A-001,guardian-7,Ana,Inscrito")
	require.Contains(t, body, "Luis,Rechazado")
	require.Contains(t, body, "Eva,Pendiente")
	require.Contains(t, body, "Sol,No Inscrito")
	require.Contains(t, body, "Max,Pendiente")
}

func TestReportServiceEmptyResultHeaderOnly(t *testing.T) {
	svc := newReportServiceForTest(&fakeReportStore{}, mapPayloads{}, mustTime(t, "2024-02-05T10:00:00Z"))

	result, err := svc.Generate(context.Background(), models.ReportApprovedAccounts, models.DateRange{})
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(string(result.Data)), "\n")
	require.Len(t, lines, 1)
	require.Equal(t, "Matricula,Alumno,Fecha de pago", lines[0])
}

func TestReportServiceStatusReportRange(t *testing.T) {
	repo := &fakeReportStore{approved: []models.ReceiptStatusRow{
		{StudentName: "Ana", Date: mustTime(t, "2024-01-20T10:00:00Z")},
	}}
	svc := newReportServiceForTest(repo, mapPayloads{}, mustTime(t, "2024-02-05T10:00:00Z"))

	// Status reports work without a range at all.
	result, err := svc.Generate(context.Background(), models.ReportApprovedAccounts, models.DateRange{})
	require.NoError(t, err)
	require.Contains(t, string(result.Data), "Ana,2024-01-20")

	// A supplied range does not filter the rows but is still validated.
	_, err = svc.Generate(context.Background(), models.ReportApprovedAccounts, models.DateRange{
		From: mustTime(t, "2024-01-01T00:00:00Z"),
		To:   mustTime(t, "2030-01-01T00:00:00Z"),
	})
	require.Equal(t, appErrors.ErrInvalidRange.Code, appErrors.FromError(err).Code)

	_, err = svc.Generate(context.Background(), models.ReportApprovedAccounts, models.DateRange{
		From: mustTime(t, "2024-02-01T00:00:00Z"),
		To:   mustTime(t, "2024-01-01T00:00:00Z"),
	})
	require.Equal(t, appErrors.ErrInvalidRange.Code, appErrors.FromError(err).Code)

	result, err = svc.Generate(context.Background(), models.ReportApprovedAccounts, models.DateRange{
		From: mustTime(t, "2024-01-01T00:00:00Z"),
		To:   mustTime(t, "2024-02-01T00:00:00Z"),
	})
	require.NoError(t, err)
	require.Contains(t, string(result.Data), "Ana,2024-01-20")
}

func TestReportServiceValidatedReceiptsPDF(t *testing.T) {
	repo := &fakeReportStore{validated: []models.ValidatedReceiptRow{
		{StudentName: "Ana", ApprovedAt: mustTime(t, "2024-01-20T10:00:00Z"), FileRef: "ana.pdf"},
		{StudentName: "Luis", ApprovedAt: mustTime(t, "2024-01-22T10:00:00Z"), FileRef: "missing.jpg"},
	}}
	// A PDF payload is stored but cannot be inlined as an image, so both
	// pages fall back to the notice without failing the export.
	payloads := mapPayloads{files: map[string][]byte{"ana.pdf": []byte("%PDF-1.4")}}
	svc := newReportServiceForTest(repo, payloads, mustTime(t, "2024-02-05T10:00:00Z"))

	result, err := svc.Generate(context.Background(), models.ReportValidatedReceipts, validRange(t))
	require.NoError(t, err)
	require.Equal(t, "application/pdf", result.ContentType)
	require.True(t, strings.HasPrefix(string(result.Data), "%PDF"))
	require.True(t, strings.HasSuffix(result.Filename, ".pdf"))
}

func TestReportServiceCachesTabularExports(t *testing.T) {
	repo := &fakeReportStore{approved: []models.ReceiptStatusRow{
		{StudentName: "Ana", Date: mustTime(t, "2024-01-20T10:00:00Z")},
	}}
	cache := &memCache{entries: map[string][]byte{}}
	svc := NewReportService(repo, mapPayloads{}, cache, nil,
		ReportCacheConfig{Enabled: true, TTL: time.Minute},
		fixedClock{now: mustTime(t, "2024-02-05T10:00:00Z")}, zap.NewNop())

	first, err := svc.Generate(context.Background(), models.ReportApprovedAccounts, models.DateRange{})
	require.NoError(t, err)
	require.Len(t, cache.entries, 1)

	// Mutate the backing data; the cached export must still be served.
	repo.approved = nil
	second, err := svc.Generate(context.Background(), models.ReportApprovedAccounts, models.DateRange{})
	require.NoError(t, err)
	require.Equal(t, first.Data, second.Data)
}

func TestReportServiceNeverCachesDocumentExport(t *testing.T) {
	repo := &fakeReportStore{validated: []models.ValidatedReceiptRow{
		{StudentName: "Ana", ApprovedAt: mustTime(t, "2024-01-20T10:00:00Z"), FileRef: "ana.jpg"},
	}}
	cache := &memCache{entries: map[string][]byte{}}
	svc := NewReportService(repo, mapPayloads{}, cache, nil,
		ReportCacheConfig{Enabled: true, TTL: time.Minute},
		fixedClock{now: mustTime(t, "2024-02-05T10:00:00Z")}, zap.NewNop())

	_, err := svc.Generate(context.Background(), models.ReportValidatedReceipts, validRange(t))
	require.NoError(t, err)
	require.Empty(t, cache.entries)
}
