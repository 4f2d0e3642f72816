package view

import "sync"

// DefaultBreakpoint 宽度小于该值时使用窄屏布局
const DefaultBreakpoint = 768

// Environment 视口宽度信号，Subscribe 返回取消订阅函数
type Environment interface {
	Width() int
	Subscribe(fn func(width int)) (cancel func())
}

// Window 可以手动调整宽度的 Environment，宿主在收到 resize 时调用 Resize
type Window struct {
	mu     sync.RWMutex
	width  int
	nextID int
	subs   map[int]func(int)
}

func NewWindow(width int) *Window {
	return &Window{width: width, subs: map[int]func(int){}}
}

func (w *Window) Width() int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.width
}

func (w *Window) Subscribe(fn func(width int)) func() {
	w.mu.Lock()
	defer w.mu.Unlock()
	id := w.nextID
	w.nextID++
	w.subs[id] = fn

	var once sync.Once
	return func() {
		once.Do(func() {
			w.mu.Lock()
			defer w.mu.Unlock()
			delete(w.subs, id)
		})
	}
}

// Resize 更新宽度并通知所有订阅者
func (w *Window) Resize(width int) {
	w.mu.Lock()
	w.width = width
	subs := make([]func(int), 0, len(w.subs))
	for _, fn := range w.subs {
		subs = append(subs, fn)
	}
	w.mu.Unlock()

	for _, fn := range subs {
		fn(width)
	}
}

// Subscribers 当前订阅者数量
func (w *Window) Subscribers() int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return len(w.subs)
}

// Viewport 由视口宽度派生的只读上下文，挂载时读取，resize 时更新，卸载时释放订阅
type Viewport struct {
	env        Environment
	breakpoint int

	mu        sync.RWMutex
	width     int
	mounted   bool
	cancel    func()
	listeners []func(narrow bool)
}

func NewViewport(env Environment, breakpoint int) *Viewport {
	if breakpoint <= 0 {
		breakpoint = DefaultBreakpoint
	}
	if env == nil {
		env = NewWindow(breakpoint)
	}
	return &Viewport{env: env, breakpoint: breakpoint}
}

// Mount 读取当前宽度并订阅变化，重复调用无副作用
func (v *Viewport) Mount() {
	v.mu.Lock()
	if v.mounted {
		v.mu.Unlock()
		return
	}
	v.mounted = true
	v.width = v.env.Width()
	v.mu.Unlock()

	cancel := v.env.Subscribe(v.update)

	v.mu.Lock()
	v.cancel = cancel
	v.mu.Unlock()
}

// Unmount 释放订阅
func (v *Viewport) Unmount() {
	v.mu.Lock()
	cancel := v.cancel
	v.cancel = nil
	v.mounted = false
	v.mu.Unlock()

	if cancel != nil {
		cancel()
	}
}

func (v *Viewport) update(width int) {
	v.mu.Lock()
	wasNarrow := v.width < v.breakpoint
	v.width = width
	narrow := width < v.breakpoint
	listeners := append([]func(bool){}, v.listeners...)
	v.mu.Unlock()

	if wasNarrow != narrow {
		for _, fn := range listeners {
			fn(narrow)
		}
	}
}

// OnChange 布局在宽窄之间切换时回调
func (v *Viewport) OnChange(fn func(narrow bool)) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.listeners = append(v.listeners, fn)
}

func (v *Viewport) Width() int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.width
}

func (v *Viewport) Narrow() bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.width < v.breakpoint
}

func (v *Viewport) Breakpoint() int {
	return v.breakpoint
}
