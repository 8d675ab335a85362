package models

import (
	"time"

	"gorm.io/datatypes"
)

// ResumeFile 用户上传的主简历
type ResumeFile struct {
	FileID           string    `gorm:"type:char(36);primaryKey"`
	OwnerUserID      string    `gorm:"type:varchar(64);not null;index:idx_resume_files_owner_created"`
	OriginalFilename string    `gorm:"type:varchar(255);not null"`
	ObjectKey        string    `gorm:"type:varchar(512);not null"`
	ProcessingStatus string    `gorm:"type:varchar(32);not null;default:'PENDING'"`
	ErrorType        string    `gorm:"type:varchar(32)"`
	ErrorDetail      string    `gorm:"type:text"`
	ChunkCount       int       `gorm:"default:0"`
	IngestionVersion int       `gorm:"default:0"` // 每次入库自增，写入向量 payload
	CreatedAt        time.Time `gorm:"type:datetime(6);default:CURRENT_TIMESTAMP(6);index:idx_resume_files_owner_created,sort:desc"`
	UpdatedAt        time.Time `gorm:"type:datetime(6);default:CURRENT_TIMESTAMP(6);autoUpdateTime"`
}

func (ResumeFile) TableName() string {
	return "resume_files"
}

// GenerationJob 一次定制简历/求职信生成请求
type GenerationJob struct {
	JobID          string         `gorm:"type:char(36);primaryKey"`
	OwnerUserID    string         `gorm:"type:varchar(64);not null;index:idx_generation_jobs_owner_status"`
	FileID         string         `gorm:"type:char(36);not null;index"`
	JobDescription string         `gorm:"type:mediumtext;not null"`
	Status         string         `gorm:"type:varchar(32);not null;default:'PROCESSING';index:idx_generation_jobs_owner_status"`
	CompanyName    string         `gorm:"type:varchar(255)"`
	JobTitle       string         `gorm:"type:varchar(255)"`
	PromptVersion  string         `gorm:"type:varchar(64)"`
	Result         datatypes.JSON `gorm:"type:json"`
	ErrorMessage   string         `gorm:"type:text"`
	CreatedAt      time.Time      `gorm:"type:datetime(6);default:CURRENT_TIMESTAMP(6)"`
	CompletedAt    *time.Time     `gorm:"type:datetime(6);null"`
	DeadlineAt     time.Time      `gorm:"type:datetime(6);not null"`
	ExpiresAt      time.Time      `gorm:"type:datetime(6);not null;index"`
}

func (GenerationJob) TableName() string {
	return "generation_jobs"
}

// UserProfile 联系方式与额度信息
type UserProfile struct {
	UserID                string         `gorm:"type:varchar(64);primaryKey"`
	Name                  string         `gorm:"type:varchar(255)"`
	Email                 string         `gorm:"type:varchar(255)"`
	Phone                 string         `gorm:"type:varchar(64)"`
	Location              string         `gorm:"type:varchar(255)"`
	LinkedinURL           string         `gorm:"type:varchar(512)"`
	GithubURL             string         `gorm:"type:varchar(512)"`
	PortfolioURL          string         `gorm:"type:varchar(512)"`
	CustomURL             string         `gorm:"type:varchar(512)"`
	CustomURLLabel        string         `gorm:"type:varchar(128)"`
	OnboardingComplete    bool           `gorm:"default:false"`
	CreditsRemaining      int            `gorm:"not null;default:0"`
	SubscriptionTier      string         `gorm:"type:varchar(32);not null;default:'free'"`
	TotalCreditsPurchased int            `gorm:"not null;default:0"`
	LastPurchaseProductID string         `gorm:"type:varchar(128)"`
	LastPurchaseCredits   int            `gorm:"default:0"`
	LastPurchaseAmount    int64          `gorm:"default:0"`
	LastPurchaseDate      *time.Time     `gorm:"type:datetime(6);null"`
	LastPaymentID         string         `gorm:"type:varchar(128)"`
	CustomerID            string         `gorm:"type:varchar(128)"`
	PurchaseHistory       datatypes.JSON `gorm:"type:json"`
	CreatedAt             time.Time      `gorm:"type:datetime(6);default:CURRENT_TIMESTAMP(6)"`
	UpdatedAt             time.Time      `gorm:"type:datetime(6);default:CURRENT_TIMESTAMP(6);autoUpdateTime"`
}

func (UserProfile) TableName() string {
	return "user_profiles"
}

// PurchaseRecord 购买历史中的一条记录，序列化进 UserProfile.PurchaseHistory
type PurchaseRecord struct {
	ProductID    string    `json:"productId"`
	Credits      int       `json:"credits"`
	Amount       int64     `json:"amount"`
	PaymentID    string    `json:"paymentId"`
	PurchaseDate time.Time `json:"purchaseDate"`
}

// ProcessedWebhook 已处理的回调ID，防止重放
type ProcessedWebhook struct {
	WebhookID   string    `gorm:"type:varchar(128);primaryKey"`
	ProcessedAt time.Time `gorm:"type:datetime(6);default:CURRENT_TIMESTAMP(6)"`
}

func (ProcessedWebhook) TableName() string {
	return "processed_webhooks"
}

// AllModels 需要自动迁移的模型
func AllModels() []interface{} {
	return []interface{}{
		&ResumeFile{},
		&GenerationJob{},
		&UserProfile{},
		&ProcessedWebhook{},
		&OutboxMessage{},
	}
}
