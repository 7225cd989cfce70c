package embedding

import (
	"context"
	"sync"

	"github.com/gammazero/workerpool"
	"github.com/sirupsen/logrus"
)

// BatchProcessor 批量嵌入处理器
// 将大量文本切成小批并行嵌入，整批失败时逐条降级重试
type BatchProcessor struct {
	client     Client
	batchSize  int
	maxWorkers int
	logger     *logrus.Logger
}

// NewBatchProcessor 创建新的批处理器
func NewBatchProcessor(client Client, batchSize int, maxWorkers int, logger *logrus.Logger) *BatchProcessor {
	if batchSize <= 0 {
		batchSize = 4
	}
	if maxWorkers <= 0 {
		maxWorkers = 4
	}
	if logger == nil {
		logger = logrus.New()
	}

	return &BatchProcessor{
		client:     client,
		batchSize:  batchSize,
		maxWorkers: maxWorkers,
		logger:     logger,
	}
}

// Process 并行嵌入全部文本
// 返回切片与输入等长：空文本或降级后仍失败的条目对应nil向量
func (p *BatchProcessor) Process(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	results := make([][]float32, len(texts))

	// 仅提交非空文本，空文本位置保持nil
	type batch struct {
		indices []int
		texts   []string
	}
	var batches []batch
	var cur batch
	for i, text := range texts {
		if text == "" {
			continue
		}
		cur.indices = append(cur.indices, i)
		cur.texts = append(cur.texts, text)
		if len(cur.texts) >= p.batchSize {
			batches = append(batches, cur)
			cur = batch{}
		}
	}
	if len(cur.texts) > 0 {
		batches = append(batches, cur)
	}
	if len(batches) == 0 {
		return results, nil
	}

	wp := workerpool.New(p.maxWorkers)
	var mu sync.Mutex
	var canceled error

	for _, b := range batches {
		b := b
		wp.Submit(func() {
			select {
			case <-ctx.Done():
				mu.Lock()
				canceled = ctx.Err()
				mu.Unlock()
				return
			default:
			}

			vectors, err := p.client.EmbedBatch(ctx, b.texts)
			if err != nil {
				// 整批失败时逐条降级，坏文本只拖累自己
				p.logger.WithError(err).WithField("batch_size", len(b.texts)).
					Warn("Batch embedding failed, falling back to per-text requests")
				vectors = p.embedSingletons(ctx, b.texts)
			}

			mu.Lock()
			for j, idx := range b.indices {
				if j < len(vectors) {
					results[idx] = vectors[j]
				}
			}
			mu.Unlock()
		})
	}

	wp.StopWait()

	if canceled != nil {
		return nil, canceled
	}
	return results, nil
}

// embedSingletons 逐条嵌入降级路径，失败条目记为nil
func (p *BatchProcessor) embedSingletons(ctx context.Context, texts []string) [][]float32 {
	vectors := make([][]float32, len(texts))
	for i, text := range texts {
		v, err := p.client.Embed(ctx, text)
		if err != nil {
			p.logger.WithError(err).WithField("text_len", len(text)).
				Error("Failed to embed text, skipping")
			continue
		}
		vectors[i] = v
	}
	return vectors
}
