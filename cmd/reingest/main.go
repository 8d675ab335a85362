// reingest 重新入库指定简历文件，或批量重跑某一状态下的全部文件。
//
//	reingest -c config/config.yaml --file-id <id> --file-id <id>
//	reingest --status FAILED --concurrency 3
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"resume-tailor/internal/config"
	"resume-tailor/internal/constants"
	"resume-tailor/internal/logger"
	"resume-tailor/internal/parser"
	"resume-tailor/internal/processor"
	"resume-tailor/internal/storage"
	"resume-tailor/internal/storage/models"
	"resume-tailor/pkg/ratelimit"

	"github.com/spf13/pflag"
)

func main() {
	var (
		configPath  string
		fileIDs     []string
		status      string
		concurrency int
		pause       time.Duration
	)
	pflag.StringVarP(&configPath, "config", "c", "config/config.yaml", "Path to config file")
	pflag.StringSliceVar(&fileIDs, "file-id", nil, "File IDs to re-ingest (repeatable)")
	pflag.StringVar(&status, "status", "", "Re-ingest every file in this processing status, e.g. FAILED")
	pflag.IntVar(&concurrency, "concurrency", 2, "Number of files processed in parallel")
	pflag.DurationVar(&pause, "pause", 2*time.Second, "Pause between batches")
	pflag.Parse()

	if len(fileIDs) == 0 && status == "" {
		fmt.Fprintln(os.Stderr, "必须指定 --file-id 或 --status")
		pflag.Usage()
		os.Exit(2)
	}
	if concurrency <= 0 {
		concurrency = 1
	}

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "加载配置失败: %v\n", err)
		os.Exit(1)
	}
	if err := logger.Init(logger.Config{
		Level:      cfg.Logger.Level,
		Format:     "pretty",
		TimeFormat: cfg.Logger.TimeFormat,
	}); err != nil {
		fmt.Fprintf(os.Stderr, "初始化日志失败: %v\n", err)
		os.Exit(1)
	}
	log := logger.Component("reingest")

	ctx := context.Background()
	storageManager, err := storage.NewStorage(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("初始化存储失败")
	}
	defer storageManager.Close()

	genaiClient, err := parser.NewGenAIClient(ctx, &cfg.Gemini)
	if err != nil {
		log.Fatal().Err(err).Msg("初始化Gemini客户端失败")
	}
	ingestion, err := processor.NewIngestionPipelineFromConfig(ctx, processor.ServiceDeps{
		Config:  cfg,
		Storage: storageManager,
		GenAI:   genaiClient.Models,
		Limits:  ratelimit.NewRegistry(cfg.ModelQPMLimits, 2*time.Second, 3, parser.IsRetryableGenAIError),
	})
	if err != nil {
		log.Fatal().Err(err).Msg("初始化入库流水线失败")
	}

	files, err := collectFiles(ctx, storageManager, fileIDs, status)
	if err != nil {
		log.Fatal().Err(err).Msg("获取待处理文件失败")
	}
	log.Info().Int("count", len(files)).Msg("待重新入库的文件")

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
		failed    int
	)
	semaphore := make(chan struct{}, concurrency)
	for i := 0; i < len(files); i += concurrency {
		end := i + concurrency
		if end > len(files) {
			end = len(files)
		}
		for _, file := range files[i:end] {
			wg.Add(1)
			semaphore <- struct{}{}
			go func(file models.ResumeFile) {
				defer func() {
					<-semaphore
					wg.Done()
				}()
				res, err := ingestion.Process(ctx, processor.IngestionRequest{ObjectKey: file.ObjectKey})
				mu.Lock()
				defer mu.Unlock()
				if err != nil {
					failed++
					ev := log.Error()
					if errors.Is(err, processor.ErrIngestionInProgress) {
						ev = log.Warn()
					}
					ev.Err(err).Str("file_id", file.FileID).Msg("重新入库失败")
					return
				}
				succeeded++
				log.Info().Str("file_id", file.FileID).Int("chunk_count", res.ChunkCount).
					Int("ingestion_version", res.IngestionVersion).Msg("重新入库完成")
			}(file)
		}
		wg.Wait()
		if end < len(files) && pause > 0 {
			time.Sleep(pause)
		}
	}

	log.Info().Int("succeeded", succeeded).Int("failed", failed).Msg("全部处理结束")
	if failed > 0 {
		os.Exit(1)
	}
}

// collectFiles 按文件ID读取记录；指定状态时追加该状态下的全部文件
func collectFiles(ctx context.Context, s *storage.Storage, fileIDs []string, status string) ([]models.ResumeFile, error) {
	seen := make(map[string]bool)
	var out []models.ResumeFile
	for _, id := range fileIDs {
		file, err := s.MySQL.GetResumeFile(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("读取文件 %s 失败: %w", id, err)
		}
		seen[file.FileID] = true
		out = append(out, *file)
	}
	if status == "" {
		return out, nil
	}
	if !validStatus(status) {
		return nil, fmt.Errorf("未知的文件状态: %s", status)
	}

	var byStatus []models.ResumeFile
	if err := s.MySQL.DB().WithContext(ctx).
		Where("processing_status = ?", status).
		Order("created_at ASC").
		Find(&byStatus).Error; err != nil {
		return nil, fmt.Errorf("查询状态为 %s 的文件失败: %w", status, err)
	}
	for _, file := range byStatus {
		if !seen[file.FileID] {
			out = append(out, file)
		}
	}
	return out, nil
}

func validStatus(s string) bool {
	switch s {
	case constants.FileStatusPending, constants.FileStatusProcessing,
		constants.FileStatusReadyForQuery, constants.FileStatusFailed:
		return true
	}
	return false
}
