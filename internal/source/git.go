package source

import (
	"context"
	"fmt"
	"os"
	"os/exec"

	"github.com/sirupsen/logrus"
)

// GitConfig 文档源码获取配置
type GitConfig struct {
	RepoURL string // 仓库地址
	Version string // 标签或分支名
	DestDir string // 克隆目标目录
}

// EnsureSource 确保文档源码在本地可用
// 目标目录已存在时直接复用，否则浅克隆指定版本
func EnsureSource(ctx context.Context, cfg GitConfig, logger *logrus.Logger) error {
	if cfg.DestDir == "" {
		return fmt.Errorf("source: destination directory is required")
	}

	if info, err := os.Stat(cfg.DestDir); err == nil && info.IsDir() {
		logger.WithField("dir", cfg.DestDir).Info("Source directory already exists, skipping clone")
		return nil
	}

	if cfg.RepoURL == "" {
		return fmt.Errorf("source: directory %s does not exist and no repo URL configured", cfg.DestDir)
	}

	args := []string{"clone", "--depth", "1"}
	if cfg.Version != "" {
		args = append(args, "--branch", cfg.Version)
	}
	args = append(args, cfg.RepoURL, cfg.DestDir)

	logger.WithFields(logrus.Fields{
		"repo":    cfg.RepoURL,
		"version": cfg.Version,
	}).Info("Cloning documentation source")

	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("source: git clone failed: %w", err)
	}
	return nil
}
