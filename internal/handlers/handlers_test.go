package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"github.com/example/face-verify/internal/auth"
	"github.com/example/face-verify/internal/ensemble"
	"github.com/example/face-verify/internal/quality"
	"github.com/example/face-verify/internal/repository"
	"github.com/example/face-verify/internal/session"
)

const (
	testSecret   = "test-secret"
	testAudience = "face-verify"
)

type stubService struct {
	session    *session.VerificationSession
	sessionErr error

	assessment *quality.Assessment
	submitErr  error

	verifyResult *ensemble.VerificationResult
	verifyErr    error

	record  *repository.VerificationRecord
	records []*repository.VerificationRecord
	stats   *repository.Stats

	lastDocType session.DocumentType
	lastStep    session.Step
}

func (s *stubService) StartSession(context.Context) (*session.VerificationSession, error) {
	return s.session, s.sessionErr
}

func (s *stubService) GetSession(context.Context, string) (*session.VerificationSession, error) {
	return s.session, s.sessionErr
}

func (s *stubService) SubmitSelfie(context.Context, string, []byte) (*session.VerificationSession, *quality.Assessment, error) {
	return s.session, s.assessment, s.submitErr
}

func (s *stubService) SubmitDocument(_ context.Context, _ string, _ []byte, docType session.DocumentType) (*session.VerificationSession, *quality.Assessment, error) {
	s.lastDocType = docType
	return s.session, s.assessment, s.submitErr
}

func (s *stubService) Verify(context.Context, string, string) (*ensemble.VerificationResult, error) {
	return s.verifyResult, s.verifyErr
}

func (s *stubService) ResetSession(context.Context, string) error {
	return s.sessionErr
}

func (s *stubService) GoToStep(_ context.Context, _ string, step session.Step) (*session.VerificationSession, error) {
	s.lastStep = step
	return s.session, s.sessionErr
}

func (s *stubService) GetResult(context.Context, string) (*repository.VerificationRecord, error) {
	return s.record, s.sessionErr
}

func (s *stubService) ListRecent(context.Context, int) ([]*repository.VerificationRecord, error) {
	return s.records, s.sessionErr
}

func (s *stubService) GetStats(context.Context) (*repository.Stats, error) {
	return s.stats, s.sessionErr
}

func testSession() *session.VerificationSession {
	return &session.VerificationSession{
		ID:        "sess-1",
		StartedAt: time.Now().UTC(),
		Status:    session.StatusInProgress,
		Step:      session.StepWelcome,
	}
}

func newTestRouter(svc VerificationService) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	RegisterRoutes(r, svc, auth.JWTMiddleware(testSecret, testAudience))
	return r
}

func bearerToken(t *testing.T, secret, audience string) string {
	t.Helper()
	claims := jwt.RegisteredClaims{
		Subject:   "user-1",
		Audience:  jwt.ClaimStrings{audience},
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		t.Fatal(err)
	}
	return signed
}

func authedRequest(t *testing.T, method, path string, body *bytes.Buffer, contentType string) *http.Request {
	t.Helper()
	if body == nil {
		body = &bytes.Buffer{}
	}
	req := httptest.NewRequest(method, path, body)
	req.Header.Set("Authorization", "Bearer "+bearerToken(t, testSecret, testAudience))
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	return req
}

func multipartImage(t *testing.T, payload []byte, imageContentType string, fields map[string]string) (*bytes.Buffer, string) {
	t.Helper()
	body := &bytes.Buffer{}
	w := multipart.NewWriter(body)
	for k, v := range fields {
		if err := w.WriteField(k, v); err != nil {
			t.Fatal(err)
		}
	}
	header := textproto.MIMEHeader{}
	header.Set("Content-Disposition", `form-data; name="image"; filename="capture.png"`)
	header.Set("Content-Type", imageContentType)
	part, err := w.CreatePart(header)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := part.Write(payload); err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	return body, w.FormDataContentType()
}

func TestHealthNeedsNoAuth(t *testing.T) {
	r := newTestRouter(&stubService{})
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
}

func TestAPIRejectsMissingToken(t *testing.T) {
	r := newTestRouter(&stubService{session: testSession()})
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/sessions", nil))
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}
}

func TestAPIRejectsWrongAudience(t *testing.T) {
	r := newTestRouter(&stubService{session: testSession()})
	req := httptest.NewRequest(http.MethodPost, "/api/sessions", nil)
	req.Header.Set("Authorization", "Bearer "+bearerToken(t, testSecret, "other-service"))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}
}

func TestStartSession(t *testing.T) {
	r := newTestRouter(&stubService{session: testSession()})
	w := httptest.NewRecorder()
	r.ServeHTTP(w, authedRequest(t, http.MethodPost, "/api/sessions", nil, ""))
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}

	var resp map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp["id"] != "sess-1" {
		t.Errorf("unexpected body: %v", resp)
	}
	if _, leaked := resp["selfieImage"]; leaked {
		t.Error("session response must not carry image bytes")
	}
}

func TestSelfieUploadWrongContentType(t *testing.T) {
	r := newTestRouter(&stubService{session: testSession()})
	body, ct := multipartImage(t, []byte("plain text"), "text/plain", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, authedRequest(t, http.MethodPost, "/api/sessions/sess-1/selfie", body, ct))
	if w.Code != http.StatusUnsupportedMediaType {
		t.Fatalf("expected 415, got %d", w.Code)
	}
}

func TestSelfieUploadTooLarge(t *testing.T) {
	r := newTestRouter(&stubService{session: testSession()})
	body, ct := multipartImage(t, make([]byte, MaxUploadSize+1), "image/png", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, authedRequest(t, http.MethodPost, "/api/sessions/sess-1/selfie", body, ct))
	if w.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413, got %d", w.Code)
	}
}

func TestSelfieQualityRejection(t *testing.T) {
	svc := &stubService{
		assessment: &quality.Assessment{Modality: quality.ModalitySelfie, Detected: true, Quality: 32, Message: "lighting is too dark or too bright"},
		submitErr:  quality.ErrCaptureRejected,
	}
	r := newTestRouter(svc)
	body, ct := multipartImage(t, []byte("fake image"), "image/png", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, authedRequest(t, http.MethodPost, "/api/sessions/sess-1/selfie", body, ct))
	if w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "lighting") {
		t.Errorf("expected assessment in body, got %s", w.Body.String())
	}
}

func TestDocumentUploadValidatesType(t *testing.T) {
	svc := &stubService{session: testSession()}
	r := newTestRouter(svc)

	body, ct := multipartImage(t, []byte("fake image"), "image/png", map[string]string{"document_type": "LIBRARY_CARD"})
	w := httptest.NewRecorder()
	r.ServeHTTP(w, authedRequest(t, http.MethodPost, "/api/sessions/sess-1/document", body, ct))
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown document type, got %d", w.Code)
	}

	body, ct = multipartImage(t, []byte("fake image"), "image/png", map[string]string{"document_type": "PASSPORT"})
	w = httptest.NewRecorder()
	r.ServeHTTP(w, authedRequest(t, http.MethodPost, "/api/sessions/sess-1/document", body, ct))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if svc.lastDocType != session.DocumentPassport {
		t.Errorf("document type not forwarded, got %s", svc.lastDocType)
	}
}

func TestVerifyErrorMapping(t *testing.T) {
	cases := []struct {
		err  error
		code int
	}{
		{ensemble.ErrScoringUnavailable, http.StatusServiceUnavailable},
		{session.ErrAlreadyCompleted, http.StatusConflict},
		{session.ErrAlreadyProcessing, http.StatusConflict},
		{session.ErrInvalidTransition, http.StatusConflict},
		{session.ErrNotFound, http.StatusNotFound},
	}
	for _, tc := range cases {
		r := newTestRouter(&stubService{verifyErr: tc.err})
		w := httptest.NewRecorder()
		r.ServeHTTP(w, authedRequest(t, http.MethodPost, "/api/sessions/sess-1/verify", nil, ""))
		if w.Code != tc.code {
			t.Errorf("error %v: expected %d, got %d", tc.err, tc.code, w.Code)
		}
	}
}

func TestInternalErrorDetailNotLeaked(t *testing.T) {
	r := newTestRouter(&stubService{verifyErr: errors.New("dial tcp 10.0.0.5:5432: connection refused")})
	w := httptest.NewRecorder()
	r.ServeHTTP(w, authedRequest(t, http.MethodPost, "/api/sessions/sess-1/verify", nil, ""))
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", w.Code)
	}
	if strings.Contains(w.Body.String(), "10.0.0.5") {
		t.Errorf("error detail leaked to client: %s", w.Body.String())
	}
	if !strings.Contains(w.Body.String(), "internal error") {
		t.Errorf("expected generic message, got %s", w.Body.String())
	}
}

func TestVerifySuccess(t *testing.T) {
	svc := &stubService{verifyResult: &ensemble.VerificationResult{Passed: true, Score: 88.5, RequiredScore: 71}}
	r := newTestRouter(svc)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, authedRequest(t, http.MethodPost, "/api/sessions/sess-1/verify", nil, ""))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var result ensemble.VerificationResult
	if err := json.Unmarshal(w.Body.Bytes(), &result); err != nil {
		t.Fatal(err)
	}
	if !result.Passed || result.Score != 88.5 {
		t.Errorf("unexpected result: %+v", result)
	}
}

func TestGoToStepValidation(t *testing.T) {
	svc := &stubService{session: testSession()}
	r := newTestRouter(svc)

	w := httptest.NewRecorder()
	body := bytes.NewBufferString(`{}`)
	r.ServeHTTP(w, authedRequest(t, http.MethodPost, "/api/sessions/sess-1/step", body, "application/json"))
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing step, got %d", w.Code)
	}

	w = httptest.NewRecorder()
	body = bytes.NewBufferString(`{"step":"selfie"}`)
	r.ServeHTTP(w, authedRequest(t, http.MethodPost, "/api/sessions/sess-1/step", body, "application/json"))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if svc.lastStep != session.StepSelfie {
		t.Errorf("step not forwarded, got %s", svc.lastStep)
	}
}

func TestListAndStats(t *testing.T) {
	svc := &stubService{
		records: []*repository.VerificationRecord{{SessionID: "a"}, {SessionID: "b"}},
		stats:   &repository.Stats{Total: 2, Passed: 1, Failed: 1, AvgScore: 75},
	}
	r := newTestRouter(svc)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, authedRequest(t, http.MethodGet, "/api/verifications?limit=5", nil, ""))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	w = httptest.NewRecorder()
	r.ServeHTTP(w, authedRequest(t, http.MethodGet, "/api/stats", nil, ""))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var stats repository.Stats
	if err := json.Unmarshal(w.Body.Bytes(), &stats); err != nil {
		t.Fatal(err)
	}
	if stats.Total != 2 || stats.Passed != 1 {
		t.Errorf("unexpected stats: %+v", stats)
	}
}
