package writer

import (
	"os"
	"path/filepath"
	"sync"

	"github.com/pkg/errors"
	"gopkg.in/natefinch/lumberjack.v2"
)

// FileWriterOptions 文件输出配置
type FileWriterOptions struct {
	// 文件路径
	Path string `cfg:"path" yaml:"path" validate:"required"`
	// 最大文件大小（MB），0 表示使用 lumberjack 默认值 100MB
	MaxSize int `cfg:"maxSize" yaml:"maxSize"`
	// 最大备份数量，0表示不限制
	MaxBackups int `cfg:"maxBackups" yaml:"maxBackups"`
	// 最大保留天数，0表示不限制
	MaxAge int `cfg:"maxAge" yaml:"maxAge"`
	// 是否压缩旧文件
	Compress bool `cfg:"compress" yaml:"compress"`
}

// FileWriter 文件输出器，按大小轮转
type FileWriter struct {
	logger *lumberjack.Logger
	mu     sync.Mutex
	closed bool
}

func NewFileWriterWithOptions(options *FileWriterOptions) (*FileWriter, error) {
	if options == nil || options.Path == "" {
		return nil, errors.New("file path is required")
	}

	dir := filepath.Dir(options.Path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, errors.Wrapf(err, "failed to create directory %s", dir)
	}

	return &FileWriter{
		logger: &lumberjack.Logger{
			Filename:   options.Path,
			MaxSize:    options.MaxSize,
			MaxBackups: options.MaxBackups,
			MaxAge:     options.MaxAge,
			Compress:   options.Compress,
		},
	}, nil
}

func (f *FileWriter) Write(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return 0, errors.New("file is closed")
	}
	return f.logger.Write(p)
}

func (f *FileWriter) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return nil
	}
	f.closed = true
	return f.logger.Close()
}
