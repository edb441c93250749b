package configwatcher

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"speaking_backend/internal/config"
	"speaking_backend/pkg/logger"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Reloader 收到重新加载后的完整配置
type Reloader func(cfg *config.Config)

// Watcher 监听配置目录下的 config.yaml，变更防抖后重新加载
type Watcher struct {
	dir      string
	reload   Reloader
	debounce time.Duration
}

func New(dir string, reload Reloader) *Watcher {
	return &Watcher{dir: dir, reload: reload, debounce: time.Second}
}

// WithDebounce 调整防抖间隔
func (w *Watcher) WithDebounce(d time.Duration) *Watcher {
	w.debounce = d
	return w
}

// Run 阻塞直到 ctx 取消。监听目录而非文件，编辑器以重命名方式保存时也能收到事件。
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create config watcher: %w", err)
	}
	defer fw.Close()

	absDir, err := filepath.Abs(w.dir)
	if err != nil {
		return err
	}
	if err := fw.Add(absDir); err != nil {
		return fmt.Errorf("watch %s: %w", absDir, err)
	}

	timer := time.NewTimer(time.Hour)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if !isConfigFile(event.Name) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			timer.Reset(w.debounce)
		case <-timer.C:
			cfg, err := config.LoadConfig(w.dir)
			if err != nil {
				logger.Log.Error("Failed to reload config", zap.Error(err))
				continue
			}
			logger.Log.Info("Config reloaded", zap.String("dir", w.dir))
			w.reload(cfg)
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			logger.Log.Error("Config watcher error", zap.Error(err))
		}
	}
}

func isConfigFile(name string) bool {
	switch filepath.Base(name) {
	case "config.yaml", "config.yml":
		return true
	}
	return false
}
