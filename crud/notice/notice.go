package notice

import (
	"context"
	"sync"
	"time"

	"github.com/hatlonely/crudkit/log"
)

// Level 通知级别
type Level string

const (
	LevelInfo    Level = "info"
	LevelSuccess Level = "success"
	LevelWarning Level = "warning"
	LevelError   Level = "error"
)

// Notice 面向用户的提示
type Notice struct {
	Level   Level
	Title   string
	Message string
	// Retryable 提示可以提供重试入口，用于获取失败
	Retryable bool
	Err       error
	Time      time.Time
}

func Info(message string) Notice {
	return Notice{Level: LevelInfo, Message: message, Time: time.Now()}
}

func Success(message string) Notice {
	return Notice{Level: LevelSuccess, Message: message, Time: time.Now()}
}

func Warning(message string) Notice {
	return Notice{Level: LevelWarning, Message: message, Time: time.Now()}
}

func Error(title string, err error) Notice {
	n := Notice{Level: LevelError, Title: title, Err: err, Time: time.Now()}
	if err != nil {
		n.Message = err.Error()
	}
	return n
}

// Retry 标记为可重试
func (n Notice) Retry() Notice {
	n.Retryable = true
	return n
}

// Notifier 通知的接收方
type Notifier interface {
	Notify(ctx context.Context, n Notice)
}

// NotifierFunc 函数形式的 Notifier
type NotifierFunc func(ctx context.Context, n Notice)

func (f NotifierFunc) Notify(ctx context.Context, n Notice) {
	f(ctx, n)
}

// Multi 依次投递给多个接收方，忽略 nil
func Multi(notifiers ...Notifier) Notifier {
	list := make([]Notifier, 0, len(notifiers))
	for _, n := range notifiers {
		if n != nil {
			list = append(list, n)
		}
	}
	return NotifierFunc(func(ctx context.Context, n Notice) {
		for _, notifier := range list {
			notifier.Notify(ctx, n)
		}
	})
}

// OrDiscard n 为 nil 时返回丢弃所有通知的 Notifier
func OrDiscard(n Notifier) Notifier {
	if n == nil {
		return NotifierFunc(func(context.Context, Notice) {})
	}
	return n
}

// Queue 保存待展示的通知，超过容量时丢弃最早的
type Queue struct {
	mu    sync.Mutex
	items []Notice
	limit int
}

func NewQueue(limit int) *Queue {
	if limit <= 0 {
		limit = 50
	}
	return &Queue{limit: limit}
}

func (q *Queue) Notify(ctx context.Context, n Notice) {
	if n.Time.IsZero() {
		n.Time = time.Now()
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append(q.items, n)
	if len(q.items) > q.limit {
		q.items = q.items[len(q.items)-q.limit:]
	}
}

// Items 返回当前通知的副本
func (q *Queue) Items() []Notice {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]Notice(nil), q.items...)
}

// Drain 取出并清空所有通知
func (q *Queue) Drain() []Notice {
	q.mu.Lock()
	defer q.mu.Unlock()
	items := q.items
	q.items = nil
	return items
}

// Dismiss 关闭第 i 条通知
func (q *Queue) Dismiss(i int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if i < 0 || i >= len(q.items) {
		return
	}
	q.items = append(q.items[:i], q.items[i+1:]...)
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// LogNotifier 将通知写入日志
type LogNotifier struct {
	logger log.Logger
}

func NewLogNotifier(logger log.Logger) *LogNotifier {
	return &LogNotifier{logger: log.OrDefault(logger).WithGroup("notice")}
}

func (l *LogNotifier) Notify(ctx context.Context, n Notice) {
	args := []any{"title", n.Title, "message", n.Message}
	if n.Retryable {
		args = append(args, "retryable", true)
	}
	switch n.Level {
	case LevelError:
		l.logger.ErrorContext(ctx, "notice", args...)
	case LevelWarning:
		l.logger.WarnContext(ctx, "notice", args...)
	default:
		l.logger.InfoContext(ctx, "notice", args...)
	}
}
