package storage

import (
	"context"
	"fmt"
	"log"

	"resume-tailor/internal/config"
	"resume-tailor/internal/logger"
)

// Storage 聚合所有外部存储组件
type Storage struct {
	MinIO    *MinIO
	RabbitMQ *RabbitMQ
	Qdrant   *Qdrant
	MySQL    *MySQL
	Redis    *Redis
}

// NewStorage 初始化全部存储组件，任何一个失败都直接返回错误
func NewStorage(ctx context.Context, cfg *config.Config) (*Storage, error) {
	if cfg == nil {
		return nil, fmt.Errorf("配置不能为空")
	}

	s := &Storage{}
	var err error

	s.MinIO, err = NewMinIO(&cfg.MinIO, logger.StdLogger("[MinIO] "))
	if err != nil {
		return nil, fmt.Errorf("初始化MinIO失败: %w", err)
	}

	s.MySQL, err = NewMySQL(&cfg.MySQL)
	if err != nil {
		return nil, fmt.Errorf("初始化MySQL失败: %w", err)
	}

	s.Redis, err = NewRedisAdapter(&cfg.Redis)
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("初始化Redis失败: %w", err)
	}

	s.Qdrant, err = NewQdrant(&cfg.Qdrant,
		WithHttpTimeout(config.GetDuration(cfg.Qdrant.HTTPTimeout, 0)),
	)
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("初始化Qdrant失败: %w", err)
	}

	s.RabbitMQ, err = NewRabbitMQ(&cfg.RabbitMQ)
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("初始化RabbitMQ失败: %w", err)
	}
	if err := s.RabbitMQ.DeclareTopology(); err != nil {
		s.Close()
		return nil, fmt.Errorf("声明RabbitMQ拓扑失败: %w", err)
	}

	return s, nil
}

// HealthCheck 逐个探测依赖，返回失败的组件
func (s *Storage) HealthCheck(ctx context.Context) map[string]error {
	failures := map[string]error{}
	check := func(name string, ping func(context.Context) error) {
		if err := ping(ctx); err != nil {
			failures[name] = err
		}
	}
	if s.MySQL != nil {
		check("mysql", s.MySQL.Ping)
	}
	if s.Redis != nil {
		check("redis", s.Redis.Ping)
	}
	if s.Qdrant != nil {
		check("qdrant", s.Qdrant.Ping)
	}
	if s.MinIO != nil {
		check("minio", s.MinIO.Ping)
	}
	if s.RabbitMQ != nil && s.RabbitMQ.conn.IsClosed() {
		failures["rabbitmq"] = fmt.Errorf("连接已关闭")
	}
	return failures
}

func (s *Storage) Close() {
	if s.RabbitMQ != nil {
		if err := s.RabbitMQ.Close(); err != nil {
			log.Printf("关闭RabbitMQ连接失败: %v", err)
		}
	}
	if s.MySQL != nil {
		if err := s.MySQL.Close(); err != nil {
			log.Printf("关闭MySQL连接失败: %v", err)
		}
	}
	if s.Redis != nil {
		if err := s.Redis.Close(); err != nil {
			log.Printf("关闭Redis连接失败: %v", err)
		}
	}
}
