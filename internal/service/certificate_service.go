package service

import (
	"context"
	"errors"
	"io"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/lms-api/internal/models"
	appErrors "github.com/noah-isme/lms-api/pkg/errors"
	"github.com/noah-isme/lms-api/pkg/export"
	"github.com/noah-isme/lms-api/pkg/storage"
)

type certificateEnrollmentReader interface {
	FindByUserAndCourse(ctx context.Context, userID, courseID string) (*models.Enrollment, error)
}

type certificateStorage interface {
	Save(filename string, data []byte) (string, error)
	Exists(filename string) bool
	Open(filename string) (*os.File, error)
}

type certificateSigner interface {
	Generate(resourceID, relPath string) (string, time.Time, error)
	Parse(token string) (resourceID, relPath string, expiresAt time.Time, err error)
}

// CertificateLink is a signed, expiring download location for a certificate.
type CertificateLink struct {
	CertificateID string    `json:"certificate_id"`
	URL           string    `json:"url"`
	ExpiresAt     time.Time `json:"expires_at"`
}

// CertificateFile is an opened certificate ready to stream.
type CertificateFile struct {
	Filename string
	Reader   io.ReadCloser
}

// CertificateService renders completion certificates and hands out signed
// download links.
type CertificateService struct {
	users       progressUserReader
	courses     progressCourseReader
	enrollments certificateEnrollmentReader
	storage     certificateStorage
	signer      certificateSigner
	pdf         *export.PDFExporter
	logger      *zap.Logger
	baseURL     string
}

// NewCertificateService constructs the service. baseURL is the public API
// root including its version prefix.
func NewCertificateService(users progressUserReader, courses progressCourseReader, enrollments certificateEnrollmentReader, store certificateStorage, signer certificateSigner, logger *zap.Logger, baseURL string) *CertificateService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CertificateService{
		users:       users,
		courses:     courses,
		enrollments: enrollments,
		storage:     store,
		signer:      signer,
		pdf:         export.NewPDFExporter(),
		logger:      logger,
		baseURL:     strings.TrimRight(baseURL, "/"),
	}
}

// IssueLink renders the certificate of a completed enrollment if needed and
// returns a signed link to it.
func (s *CertificateService) IssueLink(ctx context.Context, userID, courseID string) (*CertificateLink, error) {
	enrollment, err := s.enrollments.FindByUserAndCourse(ctx, userID, courseID)
	if err != nil {
		return nil, lookupError(err, appErrors.ErrNotFound, "load enrollment")
	}
	if enrollment.Status != models.EnrollmentStatusCompleted || enrollment.CertificateID == nil || *enrollment.CertificateID == "" {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "certificate not issued")
	}
	certID := *enrollment.CertificateID
	filename := certificateFilename(certID)

	if !s.storage.Exists(filename) {
		if err := s.render(ctx, enrollment, filename); err != nil {
			return nil, err
		}
	}

	token, expiresAt, err := s.signer.Generate(certID, filename)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to sign certificate link")
	}
	return &CertificateLink{
		CertificateID: certID,
		URL:           s.baseURL + "/certificates/download?token=" + token,
		ExpiresAt:     expiresAt,
	}, nil
}

// Open resolves a signed token to the stored certificate file.
func (s *CertificateService) Open(ctx context.Context, token string) (*CertificateFile, error) {
	certID, relPath, _, err := s.signer.Parse(token)
	switch {
	case errors.Is(err, storage.ErrTokenExpired):
		return nil, appErrors.Clone(appErrors.ErrForbidden, "download link expired")
	case err != nil:
		return nil, appErrors.Clone(appErrors.ErrForbidden, "invalid download link")
	}
	if relPath != certificateFilename(certID) {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "invalid download link")
	}

	file, err := s.storage.Open(relPath)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "certificate not found")
		}
		return nil, appErrors.Internal(err, "failed to open certificate")
	}
	return &CertificateFile{Filename: certID + ".pdf", Reader: file}, nil
}

func (s *CertificateService) render(ctx context.Context, enrollment *models.Enrollment, filename string) error {
	user, err := s.users.FindByID(ctx, enrollment.UserID)
	if err != nil {
		return lookupError(err, appErrors.ErrUserNotFound, "load user")
	}
	course, err := s.courses.FindByID(ctx, enrollment.CourseID)
	if err != nil {
		return lookupError(err, appErrors.ErrCourseNotFound, "load course")
	}
	instructor := ""
	if trainer, err := s.users.FindByID(ctx, course.InstructorID); err == nil {
		instructor = trainer.FullName
	}
	completedAt := time.Now().UTC()
	if enrollment.CompletedAt != nil {
		completedAt = *enrollment.CompletedAt
	}

	data, err := s.pdf.RenderCertificate(export.Certificate{
		Number:      *enrollment.CertificateID,
		Recipient:   user.FullName,
		CourseTitle: course.Title,
		Instructor:  instructor,
		CompletedAt: completedAt,
	})
	if err != nil {
		return appErrors.Internal(err, "failed to render certificate")
	}
	if _, err := s.storage.Save(filename, data); err != nil {
		return appErrors.Internal(err, "failed to store certificate")
	}
	s.logger.Info("certificate rendered",
		zap.String("certificate_id", *enrollment.CertificateID),
		zap.String("user_id", enrollment.UserID))
	return nil
}

func certificateFilename(certID string) string {
	return "certificates/" + certID + ".pdf"
}
