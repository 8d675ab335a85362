package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"testing"
	"time"

	"resume-tailor/internal/auth"
	"resume-tailor/internal/billing"
	"resume-tailor/internal/constants"
	"resume-tailor/internal/storage/models"

	"github.com/cloudwego/hertz/pkg/common/ut"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
)

func (f *apiFixture) do(method, url, user string, body []byte, headers ...ut.Header) *ut.ResponseRecorder {
	if user != "" {
		headers = append(headers, ut.Header{Key: testUserHdr, Value: user})
	}
	var b *ut.Body
	if body != nil {
		headers = append(headers, ut.Header{Key: "Content-Type", Value: "application/json"})
		b = &ut.Body{Body: bytes.NewReader(body), Len: len(body)}
	}
	return ut.PerformRequest(f.h.Engine, method, url, b, headers...)
}

func decode(t *testing.T, w *ut.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func TestUploadURL(t *testing.T) {
	f := newAPIFixture()

	w := f.do(http.MethodGet, "/api/v1/uploads/url?fileName=My%20Resume.pdf", testUser, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	resp := decode(t, w)

	fileID := resp["fileId"].(string)
	assert.Len(t, fileID, 36)
	assert.Equal(t, "user-"+testUser+"/"+fileID+"-My Resume.pdf", resp["s3Key"])
	assert.Contains(t, resp["uploadUrl"], "X-Amz-Signature")

	created, err := f.files.GetResumeFile(context.Background(), fileID)
	require.NoError(t, err)
	assert.Equal(t, constants.FileStatusPending, created.ProcessingStatus)
	assert.Equal(t, testUser, created.OwnerUserID)
	assert.Equal(t, "My Resume.pdf", created.OriginalFilename)
}

func TestUploadURLRejects(t *testing.T) {
	f := newAPIFixture()

	assert.Equal(t, http.StatusBadRequest, f.do(http.MethodGet, "/api/v1/uploads/url?fileName=resume.docx", testUser, nil).Code)
	assert.Equal(t, http.StatusBadRequest, f.do(http.MethodGet, "/api/v1/uploads/url", testUser, nil).Code)

	w := f.do(http.MethodGet, "/api/v1/uploads/url?fileName=resume.pdf", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Empty(t, f.presign.keys)
}

func TestListAndGetFiles(t *testing.T) {
	f := newAPIFixture()

	w := f.do(http.MethodGet, "/api/v1/files", testUser, nil)
	require.Equal(t, http.StatusOK, w.Code)
	resp := decode(t, w)
	assert.EqualValues(t, 1, resp["count"])
	first := resp["resumes"].([]interface{})[0].(map[string]interface{})
	assert.Equal(t, readyFileID, first["fileId"])
	assert.Equal(t, constants.FileStatusReadyForQuery, first["processingStatus"])

	w = f.do(http.MethodGet, "/api/v1/files", otherUser, nil)
	assert.EqualValues(t, 0, decode(t, w)["count"])

	assert.Equal(t, http.StatusOK, f.do(http.MethodGet, "/api/v1/files/"+readyFileID, testUser, nil).Code)
	assert.Equal(t, http.StatusNotFound, f.do(http.MethodGet, "/api/v1/files/"+readyFileID, otherUser, nil).Code)
	assert.Equal(t, http.StatusNotFound, f.do(http.MethodGet, "/api/v1/files/missing", testUser, nil).Code)
}

func TestStartGeneration(t *testing.T) {
	f := newAPIFixture()
	body := []byte(`{"fileId":"` + readyFileID + `","jobDescription":"Platform Engineer at Initech"}`)

	w := f.do(http.MethodPost, "/api/v1/generations", testUser, body)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	resp := decode(t, w)
	assert.Equal(t, "job-new", resp["jobId"])
	assert.Equal(t, constants.JobStatusProcessing, resp["status"])
	assert.NotEmpty(t, resp["message"])

	require.Len(t, f.jobs.created, 1)
	assert.Equal(t, testUser, f.jobs.created[0].UserID)
	assert.Equal(t, "structured-v1", f.jobs.created[0].PromptVersion)
}

func TestStartGenerationErrors(t *testing.T) {
	f := newAPIFixture()
	pending := "0190a6b2-0000-7000-8000-000000000001"
	f.files.files[pending] = &models.ResumeFile{FileID: pending, OwnerUserID: testUser, ProcessingStatus: constants.FileStatusProcessing}

	req := func(fileID, jd string) []byte {
		b, _ := json.Marshal(map[string]string{"fileId": fileID, "jobDescription": jd})
		return b
	}

	assert.Equal(t, http.StatusBadRequest, f.do(http.MethodPost, "/api/v1/generations", testUser, req("", "jd")).Code)
	assert.Equal(t, http.StatusBadRequest, f.do(http.MethodPost, "/api/v1/generations", testUser, req(readyFileID, "   ")).Code)
	assert.Equal(t, http.StatusBadRequest, f.do(http.MethodPost, "/api/v1/generations", testUser, []byte(`{`)).Code)
	assert.Equal(t, http.StatusNotFound, f.do(http.MethodPost, "/api/v1/generations", testUser, req("missing", "jd")).Code)
	assert.Equal(t, http.StatusNotFound, f.do(http.MethodPost, "/api/v1/generations", otherUser, req(readyFileID, "jd")).Code)
	assert.Equal(t, http.StatusConflict, f.do(http.MethodPost, "/api/v1/generations", testUser, req(pending, "jd")).Code)

	f.jobs.createErr = &billing.InsufficientCreditsError{UserID: testUser}
	w := f.do(http.MethodPost, "/api/v1/generations", testUser, req(readyFileID, "jd"))
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Contains(t, decode(t, w)["error"], "No credits remaining")

	f.jobs.createErr = errBoom
	assert.Equal(t, http.StatusInternalServerError, f.do(http.MethodPost, "/api/v1/generations", testUser, req(readyFileID, "jd")).Code)
	assert.Empty(t, f.jobs.created)
}

func TestGenerationStatus(t *testing.T) {
	f := newAPIFixture()
	completedAt := time.Date(2026, 5, 4, 10, 5, 0, 0, time.UTC)
	f.jobs.jobs["job-done"] = &models.GenerationJob{
		JobID: "job-done", OwnerUserID: testUser, FileID: readyFileID,
		Status: constants.JobStatusCompleted, CompanyName: "Initech", JobTitle: "Platform Engineer",
		Result:    datatypes.JSON(`{"matchScore":82}`),
		CreatedAt: completedAt.Add(-time.Minute), CompletedAt: &completedAt,
	}
	f.jobs.jobs["job-failed"] = &models.GenerationJob{
		JobID: "job-failed", OwnerUserID: testUser, Status: constants.JobStatusFailed,
		CompanyName: constants.UnknownCompany, JobTitle: constants.UnknownPosition,
		ErrorMessage: constants.JobTimedOutMessage,
	}

	w := f.do(http.MethodGet, "/api/v1/generations/status?jobId=job-done", testUser, nil)
	require.Equal(t, http.StatusOK, w.Code)
	resp := decode(t, w)
	assert.Equal(t, constants.JobStatusCompleted, resp["status"])
	assert.Equal(t, "Initech", resp["companyName"])
	assert.EqualValues(t, 82, resp["result"].(map[string]interface{})["matchScore"])
	assert.Equal(t, "2026-05-04T10:05:00.000Z", resp["completedAt"])
	assert.NotContains(t, resp, "errorMessage")

	resp = decode(t, f.do(http.MethodGet, "/api/v1/generations/status?jobId=job-failed", testUser, nil))
	assert.Equal(t, constants.JobStatusFailed, resp["status"])
	assert.Equal(t, constants.JobTimedOutMessage, resp["errorMessage"])
	assert.NotContains(t, resp, "result")

	assert.Equal(t, http.StatusForbidden, f.do(http.MethodGet, "/api/v1/generations/status?jobId=job-done", otherUser, nil).Code)
	assert.Equal(t, http.StatusNotFound, f.do(http.MethodGet, "/api/v1/generations/status?jobId=nope", testUser, nil).Code)
	assert.Equal(t, http.StatusBadRequest, f.do(http.MethodGet, "/api/v1/generations/status", testUser, nil).Code)

	f.jobs.getErr = errors.New("mysql down")
	assert.Equal(t, http.StatusInternalServerError, f.do(http.MethodGet, "/api/v1/generations/status?jobId=job-done", testUser, nil).Code)
}

func TestListGenerations(t *testing.T) {
	f := newAPIFixture()
	done := time.Now()
	f.jobs.jobs["a"] = &models.GenerationJob{JobID: "a", OwnerUserID: testUser, FileID: readyFileID, Status: constants.JobStatusCompleted, CompletedAt: &done, Result: datatypes.JSON(`{}`)}
	f.jobs.jobs["b"] = &models.GenerationJob{JobID: "b", OwnerUserID: testUser, Status: constants.JobStatusProcessing}
	f.jobs.jobs["c"] = &models.GenerationJob{JobID: "c", OwnerUserID: otherUser, Status: constants.JobStatusCompleted, CompletedAt: &done}

	resp := decode(t, f.do(http.MethodGet, "/api/v1/generations", testUser, nil))
	assert.EqualValues(t, 1, resp["count"])
	item := resp["generations"].([]interface{})[0].(map[string]interface{})
	assert.Equal(t, "a", item["jobId"])
	assert.Equal(t, readyFileID, item["fileId"])
}

func TestProfile(t *testing.T) {
	f := newAPIFixture()

	resp := decode(t, f.do(http.MethodGet, "/api/v1/profile", testUser, nil))
	assert.Equal(t, false, resp["hasProfile"])
	assert.Nil(t, resp["profile"])

	w := f.do(http.MethodPost, "/api/v1/profile", testUser, []byte(`{"name":"Jane","email":"not-an-email"}`))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, decode(t, w)["error"], "email")

	w = f.do(http.MethodPost, "/api/v1/profile", testUser, []byte(`{"name":"Jane","email":"jane@example.com","linkedinUrl":"notaurl"}`))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, decode(t, w)["error"], "linkedinUrl")

	w = f.do(http.MethodPost, "/api/v1/profile", testUser, []byte(`{"name":"Jane","email":"jane@example.com","linkedinUrl":"https://linkedin.com/in/jane"}`))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	saved := decode(t, w)
	assert.Equal(t, "Jane", saved["name"])
	assert.EqualValues(t, 3, saved["creditsRemaining"])

	resp = decode(t, f.do(http.MethodGet, "/api/v1/profile", testUser, nil))
	assert.Equal(t, true, resp["hasProfile"])
	assert.Equal(t, "jane@example.com", resp["profile"].(map[string]interface{})["email"])
}

func (f *apiFixture) signedWebhook(id string, body []byte) []ut.Header {
	now := time.Now()
	sig, err := f.webhooks.Sign(id, now, body)
	if err != nil {
		panic(err)
	}
	return []ut.Header{
		{Key: auth.HeaderWebhookID, Value: id},
		{Key: auth.HeaderWebhookTimestamp, Value: strconv.FormatInt(now.Unix(), 10)},
		{Key: auth.HeaderWebhookSignature, Value: sig},
	}
}

func TestSubscriptionWebhook(t *testing.T) {
	f := newAPIFixture()
	body := []byte(`{"userId":"` + testUser + `","productId":"pack-10","credits":10,"amount":999,"paymentId":"pay_1","customerId":"cus_1"}`)

	w := f.do(http.MethodPost, "/api/v1/webhooks/subscription", "", body, f.signedWebhook("msg_1", body)...)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	resp := decode(t, w)
	assert.Equal(t, true, resp["success"])
	assert.EqualValues(t, 10, resp["profile"].(map[string]interface{})["creditsRemaining"])

	// 重放
	w = f.do(http.MethodPost, "/api/v1/webhooks/subscription", "", body, f.signedWebhook("msg_1", body)...)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, decode(t, w)["duplicate"])
	assert.Len(t, f.profiles.purchases, 1)

	tampered := []byte(strings.Replace(string(body), `"credits":10`, `"credits":1000`, 1))
	w = f.do(http.MethodPost, "/api/v1/webhooks/subscription", "", tampered, f.signedWebhook("msg_2", body)...)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = f.do(http.MethodPost, "/api/v1/webhooks/subscription", "", body)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	invalid := []byte(`{"userId":"` + testUser + `","credits":0}`)
	w = f.do(http.MethodPost, "/api/v1/webhooks/subscription", "", invalid, f.signedWebhook("msg_3", invalid)...)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, decode(t, w)["error"], "productId")
}

func TestHealthz(t *testing.T) {
	f := newAPIFixture()

	w := f.do(http.MethodGet, "/api/v1/healthz", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", decode(t, w)["status"])

	f.health.results["qdrant"] = errors.New("connection refused")
	w = f.do(http.MethodGet, "/api/v1/healthz", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	resp := decode(t, w)
	assert.Equal(t, "connection refused", resp["components"].(map[string]interface{})["qdrant"])
}
