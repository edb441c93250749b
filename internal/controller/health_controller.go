package controller

import (
	"context"
	"net/http"
	"strings"
	"time"

	"speaking_backend/internal/util"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"gorm.io/gorm"
)

type HealthController struct {
	DB    *gorm.DB
	Redis *redis.Client
	// FFmpegVersion 可替换，测试中避免依赖本机 ffmpeg
	FFmpegVersion func() (string, error)
}

func NewHealthController(db *gorm.DB, rdb *redis.Client) *HealthController {
	return &HealthController{DB: db, Redis: rdb, FFmpegVersion: util.GetFFmpegVersion}
}

// @Summary 健康检查
// @Description 检查数据库、Redis 与 ffmpeg 状态
// @Tags 系统
// @Produce json
// @Success 200 {object} util.Response
// @Router /api/health [get]
func (c *HealthController) HealthCheck(ctx *gin.Context) {
	// 数据库不可用时整体不可用
	sqlDB, err := c.DB.DB()
	if err != nil {
		util.InternalServerError(ctx)
		return
	}
	if err := sqlDB.Ping(); err != nil {
		util.Error(ctx, http.StatusServiceUnavailable, "Database unavailable")
		return
	}

	components := gin.H{"database": "up"}

	if c.Redis == nil {
		components["redis"] = "disabled"
	} else {
		pingCtx, cancel := context.WithTimeout(ctx.Request.Context(), 2*time.Second)
		defer cancel()
		if err := c.Redis.Ping(pingCtx).Err(); err != nil {
			components["redis"] = "down"
		} else {
			components["redis"] = "up"
		}
	}

	// ffmpeg 缺失只影响转码，录音仍以原文件识别
	if c.FFmpegVersion != nil {
		if out, err := c.FFmpegVersion(); err != nil {
			components["ffmpeg"] = "unavailable"
		} else {
			components["ffmpeg"] = firstLine(out)
		}
	}

	util.Success(ctx, gin.H{
		"status":     "ok",
		"components": components,
	})
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return strings.TrimSpace(s[:i])
	}
	return strings.TrimSpace(s)
}
