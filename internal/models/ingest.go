package models

import (
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// IngestStatus 文档入库处理状态类型
type IngestStatus string

const (
	// IngestStatusPending 文档已发现，等待处理
	IngestStatusPending IngestStatus = "pending"
	// IngestStatusProcessing 文档处理中
	IngestStatusProcessing IngestStatus = "processing"
	// IngestStatusCompleted 文档处理完成
	IngestStatusCompleted IngestStatus = "completed"
	// IngestStatusFailed 文档处理失败
	IngestStatusFailed IngestStatus = "failed"
)

// IngestStage 文档入库处理阶段
type IngestStage string

const (
	// StageDiscover 发现阶段
	StageDiscover IngestStage = "discover"
	// StageParse 解析阶段
	StageParse IngestStage = "parse"
	// StageTransform 结构转换阶段
	StageTransform IngestStage = "transform"
	// StageFlatten 扁平化阶段
	StageFlatten IngestStage = "flatten"
	// StageEmbed 向量化阶段
	StageEmbed IngestStage = "embed"
	// StageIndex 写入向量库阶段
	StageIndex IngestStage = "index"
	// StageUpload 上传知识库阶段
	StageUpload IngestStage = "upload"
	// StageCompleted 处理完成
	StageCompleted IngestStage = "completed"
)

// IngestDocument 单个文档的入库跟踪记录
type IngestDocument struct {
	ID           string         `gorm:"primaryKey"`         // 文档ID（路径摘要）
	DocPath      string         `gorm:"not null;index"`     // 相对文档根的路径
	Title        string         `gorm:"size:255"`           // 文档标题
	Version      string         `gorm:"size:50;index"`      // 文档集版本
	Status       IngestStatus   `gorm:"not null;index"`     // 处理状态
	Stage        IngestStage    `gorm:"size:20"`            // 当前处理阶段
	SectionCount int            `gorm:"not null;default:0"` // 章节数量
	ChunkCount   int            `gorm:"not null;default:0"` // 切块数量
	SymbolCount  int            `gorm:"not null;default:0"` // 符号数量
	Error        string         `gorm:"type:text"`          // 错误信息
	RetryCount   int            `gorm:"default:0"`          // 重试次数
	DiscoveredAt time.Time      `gorm:"not null;index"`     // 发现时间
	ProcessedAt  *time.Time     `gorm:"index"`              // 处理完成时间
	UpdatedAt    time.Time      `gorm:"not null;index"`     // 更新时间
	Metadata     datatypes.JSON `gorm:"type:json"`          // 附加元数据
}

// BeforeCreate GORM的钩子函数，创建记录前自动设置时间
func (d *IngestDocument) BeforeCreate(tx *gorm.DB) (err error) {
	if d.DiscoveredAt.IsZero() {
		d.DiscoveredAt = time.Now()
	}
	d.UpdatedAt = time.Now()
	return nil
}

// BeforeUpdate GORM的钩子函数，更新记录前自动设置更新时间
func (d *IngestDocument) BeforeUpdate(tx *gorm.DB) (err error) {
	d.UpdatedAt = time.Now()
	return nil
}

// TableName 明确指定表名
func (IngestDocument) TableName() string {
	return "ingest_documents"
}

// IngestRun 一次完整入库流水的汇总记录
type IngestRun struct {
	ID            uint           `gorm:"primaryKey;autoIncrement"` // 主键ID
	RunID         string         `gorm:"not null;uniqueIndex"`     // 流水唯一ID
	Version       string         `gorm:"size:50"`                  // 处理的文档集版本
	Status        IngestStatus   `gorm:"not null;index"`           // 流水状态
	TotalDocs     int            `gorm:"default:0"`                // 发现的文档总数
	SucceededDocs int            `gorm:"default:0"`                // 成功的文档数
	FailedDocs    int            `gorm:"default:0"`                // 失败的文档数
	ChunkCount    int            `gorm:"default:0"`                // 产出的切块总数
	StartedAt     time.Time      `gorm:"not null"`                 // 开始时间
	FinishedAt    *time.Time     `gorm:""`                         // 结束时间
	Error         string         `gorm:"type:text"`                // 错误信息
	Stats         datatypes.JSON `gorm:"type:json"`                // 各阶段统计
}

// BeforeCreate GORM的钩子函数，创建记录前自动设置时间
func (r *IngestRun) BeforeCreate(tx *gorm.DB) (err error) {
	if r.StartedAt.IsZero() {
		r.StartedAt = time.Now()
	}
	return nil
}

// TableName 明确指定表名
func (IngestRun) TableName() string {
	return "ingest_runs"
}
