package writer

import (
	"io"

	"github.com/pkg/errors"
)

// Writer 日志输出器接口
type Writer interface {
	io.Writer
	io.Closer
}

// Options 输出器配置，Type 取值 console, file, multi
type Options struct {
	Type    string                `cfg:"type" yaml:"type" validate:"omitempty,oneof=console file multi"`
	Console *ConsoleWriterOptions `cfg:"console" yaml:"console"`
	File    *FileWriterOptions    `cfg:"file" yaml:"file"`
	Multi   []*Options            `cfg:"multi" yaml:"multi"`
}

// NewWriterWithOptions 根据配置创建输出器，未指定类型时输出到 stdout
func NewWriterWithOptions(options *Options) (Writer, error) {
	if options == nil {
		return NewConsoleWriterWithOptions(nil)
	}

	switch options.Type {
	case "", "console":
		return NewConsoleWriterWithOptions(options.Console)
	case "file":
		return NewFileWriterWithOptions(options.File)
	case "multi":
		return NewMultiWriterWithOptions(&MultiWriterOptions{Writers: options.Multi})
	default:
		return nil, errors.Errorf("unsupported writer type: %s", options.Type)
	}
}
