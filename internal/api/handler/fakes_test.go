package handler_test

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"resume-tailor/internal/api/handler"
	"resume-tailor/internal/api/router"
	"resume-tailor/internal/auth"
	"resume-tailor/internal/billing"
	"resume-tailor/internal/config"
	"resume-tailor/internal/constants"
	"resume-tailor/internal/jobs"
	"resume-tailor/internal/processor"
	"resume-tailor/internal/storage"
	"resume-tailor/internal/storage/models"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/app/server"
	"github.com/cloudwego/hertz/pkg/common/utils"
	"github.com/cloudwego/hertz/pkg/protocol/consts"
)

const (
	testUser     = "user_2abc"
	otherUser    = "user_9xyz"
	testUserHdr  = "X-Test-User"
	readyFileID  = "0190a6b2-7c1d-7e8f-9a0b-1c2d3e4f5a6b"
	webhookToken = "whsec_c3VwZXItc2VjcmV0LWtleQ=="
)

// fakeAuth 用请求头模拟鉴权结果
func fakeAuth(ctx context.Context, c *app.RequestContext) {
	uid := string(c.GetHeader(testUserHdr))
	if uid == "" {
		c.AbortWithStatusJSON(consts.StatusUnauthorized, utils.H{"error": "Unauthorized"})
		return
	}
	c.Set(auth.ContextUserID, uid)
	c.Next(ctx)
}

type fakeFiles struct {
	mu    sync.Mutex
	files map[string]*models.ResumeFile
	err   error
}

func newFakeFiles() *fakeFiles {
	created := time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)
	return &fakeFiles{files: map[string]*models.ResumeFile{
		readyFileID: {
			FileID:           readyFileID,
			OwnerUserID:      testUser,
			OriginalFilename: "resume.pdf",
			ObjectKey:        storage.BuildResumeObjectKey(testUser, readyFileID, "resume.pdf"),
			ProcessingStatus: constants.FileStatusReadyForQuery,
			ChunkCount:       4,
			CreatedAt:        created,
		},
	}}
}

func (f *fakeFiles) CreateResumeFile(_ context.Context, file *models.ResumeFile) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	cp := *file
	cp.CreatedAt = time.Now()
	f.files[file.FileID] = &cp
	return nil
}

func (f *fakeFiles) GetResumeFile(_ context.Context, fileID string) (*models.ResumeFile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	file, ok := f.files[fileID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	cp := *file
	return &cp, nil
}

func (f *fakeFiles) ListResumeFiles(_ context.Context, owner string) ([]models.ResumeFile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.ResumeFile
	for _, file := range f.files {
		if file.OwnerUserID == owner {
			out = append(out, *file)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

type fakePresigner struct {
	keys []string
}

func (p *fakePresigner) PresignUpload(_ context.Context, key string, _ time.Duration) (string, error) {
	p.keys = append(p.keys, key)
	return "https://minio.local/resumes/" + key + "?X-Amz-Signature=abc", nil
}

type fakeJobs struct {
	jobs      map[string]*models.GenerationJob
	createErr error
	getErr    error
	created   []jobs.CreateRequest
}

func newFakeJobs() *fakeJobs {
	return &fakeJobs{jobs: map[string]*models.GenerationJob{}}
}

func (f *fakeJobs) Create(_ context.Context, req jobs.CreateRequest) (*models.GenerationJob, error) {
	if f.createErr != nil {
		return nil, f.createErr
	}
	f.created = append(f.created, req)
	job := &models.GenerationJob{
		JobID:          "job-new",
		OwnerUserID:    req.UserID,
		FileID:         req.FileID,
		JobDescription: req.JobDescription,
		PromptVersion:  req.PromptVersion,
		Status:         constants.JobStatusProcessing,
		CreatedAt:      time.Now(),
	}
	f.jobs[job.JobID] = job
	return job, nil
}

func (f *fakeJobs) Get(_ context.Context, jobID string) (*models.GenerationJob, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	job, ok := f.jobs[jobID]
	if !ok {
		return nil, jobs.ErrJobNotFound
	}
	cp := *job
	return &cp, nil
}

func (f *fakeJobs) ListCompleted(_ context.Context, userID string) ([]models.GenerationJob, error) {
	var out []models.GenerationJob
	for _, job := range f.jobs {
		if job.OwnerUserID == userID && job.Status == constants.JobStatusCompleted {
			out = append(out, *job)
		}
	}
	return out, nil
}

type fakeProfiles struct {
	profiles  map[string]*models.UserProfile
	webhooks  map[string]bool
	purchases []billing.Purchase
}

func newFakeProfiles() *fakeProfiles {
	return &fakeProfiles{profiles: map[string]*models.UserProfile{}, webhooks: map[string]bool{}}
}

func (f *fakeProfiles) GetProfile(_ context.Context, userID string) (*models.UserProfile, error) {
	p, ok := f.profiles[userID]
	if !ok {
		return nil, billing.ErrProfileNotFound
	}
	return p, nil
}

func (f *fakeProfiles) SaveProfile(_ context.Context, userID string, u billing.ProfileUpdate) (*models.UserProfile, error) {
	p, ok := f.profiles[userID]
	if !ok {
		p = &models.UserProfile{UserID: userID, CreditsRemaining: 3, SubscriptionTier: "free"}
		f.profiles[userID] = p
	}
	p.Name, p.Email, p.LinkedinURL = u.Name, u.Email, u.LinkedinURL
	return p, nil
}

func (f *fakeProfiles) ApplyPurchase(_ context.Context, webhookID string, purchase billing.Purchase) (*models.UserProfile, error) {
	if err := purchase.Validate(); err != nil {
		return nil, err
	}
	if f.webhooks[webhookID] {
		return nil, billing.ErrDuplicateWebhook
	}
	f.webhooks[webhookID] = true
	f.purchases = append(f.purchases, purchase)
	p, ok := f.profiles[purchase.UserID]
	if !ok {
		p = &models.UserProfile{UserID: purchase.UserID, SubscriptionTier: "free"}
		f.profiles[purchase.UserID] = p
	}
	p.CreditsRemaining += purchase.Credits
	p.TotalCreditsPurchased += purchase.Credits
	return p, nil
}

type fakeHealth struct {
	results map[string]error
}

func (f fakeHealth) HealthCheck(context.Context) map[string]error {
	return f.results
}

type apiFixture struct {
	h        *server.Hertz
	files    *fakeFiles
	presign  *fakePresigner
	jobs     *fakeJobs
	profiles *fakeProfiles
	webhooks *auth.WebhookVerifier
	health   *fakeHealth
}

func newAPIFixture() *apiFixture {
	verifier, err := auth.NewWebhookVerifier(config.WebhookConfig{Secret: webhookToken})
	if err != nil {
		panic(err)
	}
	f := &apiFixture{
		h:        server.New(server.WithHostPorts("127.0.0.1:0")),
		files:    newFakeFiles(),
		presign:  &fakePresigner{},
		jobs:     newFakeJobs(),
		profiles: newFakeProfiles(),
		webhooks: verifier,
		health:   &fakeHealth{results: map[string]error{"mysql": nil, "redis": nil}},
	}
	router.RegisterRoutes(f.h, router.Handlers{
		Resume:     handler.NewResumeHandler(f.files, f.presign, time.Hour),
		Generation: handler.NewGenerationHandler(f.files, f.jobs, "structured-v1"),
		Profile:    handler.NewProfileHandler(f.profiles, f.webhooks),
		Health:     f.health,
	}, fakeAuth)
	return f
}

// 消费者测试用的流水线替身

type fakeIngestion struct {
	err  error
	keys []string
}

func (f *fakeIngestion) Process(_ context.Context, req processor.IngestionRequest) (*processor.IngestionResult, error) {
	f.keys = append(f.keys, req.ObjectKey)
	if f.err != nil {
		return nil, f.err
	}
	return &processor.IngestionResult{FileID: readyFileID, OwnerUserID: testUser, ChunkCount: 4, IngestionVersion: 1}, nil
}

type fakeGeneration struct {
	err  error
	runs []processor.GenerationRequest
}

func (f *fakeGeneration) Run(_ context.Context, req processor.GenerationRequest) error {
	f.runs = append(f.runs, req)
	return f.err
}

type fakePublisher struct {
	published []interface{}
	routing   []string
	err       error
}

func (f *fakePublisher) PublishJSON(_ context.Context, exchange, routingKey string, data interface{}, _ bool) error {
	if f.err != nil {
		return f.err
	}
	f.routing = append(f.routing, exchange+"/"+routingKey)
	f.published = append(f.published, data)
	return nil
}

var errBoom = errors.New("boom")
