package service

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"speaking_backend/internal/config"
	"speaking_backend/internal/util"
	"speaking_backend/pkg/logger"
	"speaking_backend/pkg/monitoring"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Transcoder 音频探测与转码
type Transcoder interface {
	Probe(path string) (*util.AudioInfo, error)
	Transcode(srcPath, dstPath string, sampleRate int, format string) error
}

// FFmpegTranscoder 基于 ffmpeg-go
type FFmpegTranscoder struct{}

func (FFmpegTranscoder) Probe(path string) (*util.AudioInfo, error) {
	return util.GetAudioInfo(path)
}

func (FFmpegTranscoder) Transcode(srcPath, dstPath string, sampleRate int, format string) error {
	return util.TranscodeAudio(srcPath, dstPath, sampleRate, format)
}

// AudioUpload 一次录音上传
type AudioUpload struct {
	Filename string
	Size     int64
	Reader   io.Reader
}

// AudioAsset 存储后的录音；URL 指向识别用的（转码后）文件
type AudioAsset struct {
	Key      string
	URL      string
	RawKey   string
	Duration float64
}

type AudioService struct {
	store      ObjectStore
	transcoder Transcoder
	cfg        config.AudioConfig
}

func NewAudioService(store ObjectStore, transcoder Transcoder, cfg config.AudioConfig) *AudioService {
	return &AudioService{store: store, transcoder: transcoder, cfg: cfg}
}

// OwnsURL 判断地址是否指向本服务的录音存储
func (s *AudioService) OwnsURL(raw string) bool {
	return util.IsURLUnder(raw, s.store.URL(""))
}

func (s *AudioService) maxBytes() int64 {
	if s.cfg.MaxUploadMB <= 0 {
		return 20 << 20
	}
	return int64(s.cfg.MaxUploadMB) << 20
}

// Store 上传原始录音并转码为识别引擎要求的格式
func (s *AudioService) Store(ctx context.Context, upload AudioUpload, owner string) (*AudioAsset, error) {
	defer monitoring.ObserveStage("audio", time.Now())

	if upload.Reader == nil || upload.Size == 0 {
		return nil, util.ErrEmptyAudio
	}
	if upload.Size > s.maxBytes() {
		return nil, util.ErrAudioTooLarge
	}
	if !util.IsAllowedAudio(upload.Filename) {
		return nil, fmt.Errorf("%w: %s", util.ErrUnsupportedAudio, filepath.Ext(upload.Filename))
	}

	mimeType, reader, err := util.SniffAudio(upload.Reader)
	if err != nil {
		return nil, err
	}

	tmp, err := os.CreateTemp(s.cfg.TempDir, "speaking-*"+strings.ToLower(filepath.Ext(upload.Filename)))
	if err != nil {
		return nil, fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	// 多读 1 字节用于判断是否超限
	written, err := io.Copy(tmp, io.LimitReader(reader, s.maxBytes()+1))
	tmp.Close()
	if err != nil {
		return nil, fmt.Errorf("buffer upload: %w", err)
	}
	if written > s.maxBytes() {
		return nil, util.ErrAudioTooLarge
	}

	base := strings.Trim(s.cfg.KeyPrefix, "/")
	if owner != "" {
		base += "/" + owner
	}
	base += "/" + uuid.NewString()

	asset := &AudioAsset{RawKey: base + strings.ToLower(filepath.Ext(upload.Filename))}

	if s.transcoder != nil {
		info, err := s.transcoder.Probe(tmp.Name())
		switch {
		case err != nil && s.cfg.ProbeRequired:
			return nil, fmt.Errorf("%w: %v", util.ErrUnsupportedAudio, err)
		case err != nil:
			logger.Log.Warn("Audio probe failed", zap.String("file", upload.Filename), zap.Error(err))
		default:
			asset.Duration = info.Duration
			if s.cfg.MaxDurationS > 0 && info.Duration > float64(s.cfg.MaxDurationS) {
				return nil, util.ErrAudioTooLong
			}
		}
	}

	if err := s.store.PutFile(ctx, asset.RawKey, tmp.Name(), mimeType); err != nil {
		return nil, fmt.Errorf("upload raw audio: %w", err)
	}
	asset.Key = asset.RawKey
	asset.URL = s.store.URL(asset.RawKey)

	if !s.cfg.Transcode || s.transcoder == nil {
		return asset, nil
	}

	format := s.cfg.Format
	if format == "" {
		format = "mp3"
	}
	dst := tmp.Name() + ".out." + format
	defer os.Remove(dst)

	if err := s.transcoder.Transcode(tmp.Name(), dst, s.cfg.SampleRate, format); err != nil {
		logger.Log.Warn("Audio transcode failed, using original upload",
			zap.String("key", asset.RawKey), zap.Error(err))
		return asset, nil
	}

	key := base + "." + format
	if err := s.store.PutFile(ctx, key, dst, util.AudioContentType(format)); err != nil {
		return nil, fmt.Errorf("upload transcoded audio: %w", err)
	}
	asset.Key = key
	asset.URL = s.store.URL(key)
	return asset, nil
}
