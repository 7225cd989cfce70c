package dify

import (
	"context"
	"sync"
	"time"

	"github.com/gammazero/workerpool"
	"github.com/sirupsen/logrus"
)

// UploadSummary 批量上传的汇总结果
type UploadSummary struct {
	Total     int           // 提交的文件总数
	Succeeded int           // 成功数
	Failed    []FailedFile  // 失败明细
	Elapsed   time.Duration // 总耗时
}

// FailedFile 上传失败的文件及原因
type FailedFile struct {
	Path string
	Err  error
}

// Uploader 并发上传器
// 用有界工作池限制对远端的并发压力，单个文件失败不影响其余文件
type Uploader struct {
	client      *Client
	maxWorkers  int
	fileTimeout time.Duration
	logger      *logrus.Logger
}

// NewUploader 创建并发上传器
func NewUploader(client *Client, maxWorkers int, fileTimeout time.Duration, logger *logrus.Logger) *Uploader {
	if maxWorkers <= 0 {
		maxWorkers = 3
	}
	if fileTimeout <= 0 {
		fileTimeout = 120 * time.Second
	}
	if logger == nil {
		logger = logrus.New()
	}

	return &Uploader{
		client:      client,
		maxWorkers:  maxWorkers,
		fileTimeout: fileTimeout,
		logger:      logger,
	}
}

// UploadAll 上传全部文件并返回汇总
func (u *Uploader) UploadAll(ctx context.Context, filePaths []string) *UploadSummary {
	start := time.Now()
	summary := &UploadSummary{Total: len(filePaths)}
	if len(filePaths) == 0 {
		return summary
	}

	wp := workerpool.New(u.maxWorkers)
	var mu sync.Mutex

	for _, path := range filePaths {
		path := path
		wp.Submit(func() {
			select {
			case <-ctx.Done():
				mu.Lock()
				summary.Failed = append(summary.Failed, FailedFile{Path: path, Err: ctx.Err()})
				mu.Unlock()
				return
			default:
			}

			fileCtx, cancel := context.WithTimeout(ctx, u.fileTimeout)
			result, err := u.client.UploadFile(fileCtx, path)
			cancel()

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				u.logger.WithError(err).WithField("file", path).Error("Failed to upload file to dify")
				summary.Failed = append(summary.Failed, FailedFile{Path: path, Err: err})
				return
			}

			summary.Succeeded++
			u.logger.WithFields(logrus.Fields{
				"file":        path,
				"document_id": result.DocumentID,
			}).Info("Uploaded file to dify")
		})
	}

	wp.StopWait()
	summary.Elapsed = time.Since(start)

	u.logger.WithFields(logrus.Fields{
		"total":     summary.Total,
		"succeeded": summary.Succeeded,
		"failed":    len(summary.Failed),
		"elapsed":   summary.Elapsed.String(),
	}).Info("Dify upload finished")

	return summary
}
