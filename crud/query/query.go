package query

import (
	"reflect"
	"sync"
	"time"
)

// Keys 查询对象中分页和搜索使用的键名
type Keys struct {
	Offset string `cfg:"offset" yaml:"offset" def:"skip"`
	Limit  string `cfg:"limit" yaml:"limit" def:"limit"`
	Search string `cfg:"search" yaml:"search" def:"search"`
}

// DefaultKeys skip/limit/search
func DefaultKeys() Keys {
	return Keys{Offset: "skip", Limit: "limit", Search: "search"}
}

func (k Keys) withDefaults() Keys {
	d := DefaultKeys()
	if k.Offset == "" {
		k.Offset = d.Offset
	}
	if k.Limit == "" {
		k.Limit = d.Limit
	}
	if k.Search == "" {
		k.Search = d.Search
	}
	return k
}

// Range 时间范围过滤值，零值表示该端不限制
type Range struct {
	From time.Time
	To   time.Time
}

func (r Range) IsZero() bool {
	return r.From.IsZero() && r.To.IsZero()
}

// Strings 两端的 ISO-8601 字符串，零值端为空字符串
func (r Range) Strings() []string {
	return []string{FormatTime(r.From), FormatTime(r.To)}
}

// FormatTime RFC 3339 格式，零值返回空字符串
func FormatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(time.RFC3339)
}

// Pagination 分页信息，Total 为最近一次获取的页面长度
type Pagination struct {
	Page     int
	PageSize int
	Total    int
}

// Offset 当前页的偏移量
func (p Pagination) Offset() int {
	if p.Page < 1 {
		return 0
	}
	return (p.Page - 1) * p.PageSize
}

// Sort 仅作用于当前页的客户端排序，不参与查询
type Sort struct {
	Key  string
	Desc bool
}

// State 过滤、搜索、分页的当前值
type State struct {
	mu       sync.RWMutex
	filters  map[string]any
	search   string
	page     int
	pageSize int
	total    int
	sort     Sort
}

func NewState(pageSize int) *State {
	if pageSize <= 0 {
		pageSize = 20
	}
	return &State{filters: map[string]any{}, page: 1, pageSize: pageSize}
}

// SetFilter 设置过滤值并回到第一页，值未变化时返回 false
func (s *State) SetFilter(key string, value any) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	old, exists := s.filters[key]
	if isEmpty(value) {
		if !exists {
			return false
		}
		delete(s.filters, key)
	} else {
		if exists && reflect.DeepEqual(old, value) {
			return false
		}
		s.filters[key] = value
	}
	s.page = 1
	return true
}

// SetFilters 整体替换过滤值并回到第一页
func (s *State) SetFilters(filters map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.filters = map[string]any{}
	for k, v := range filters {
		if !isEmpty(v) {
			s.filters[k] = v
		}
	}
	s.page = 1
}

func (s *State) Filter(key string) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.filters[key]
	return v, ok
}

// Filters 返回过滤值的副本
func (s *State) Filters() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m := make(map[string]any, len(s.filters))
	for k, v := range s.filters {
		m[k] = v
	}
	return m
}

// SetSearch 设置搜索词并回到第一页，值未变化时返回 false
func (s *State) SetSearch(search string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.search == search {
		return false
	}
	s.search = search
	s.page = 1
	return true
}

func (s *State) Search() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.search
}

func (s *State) SetPage(page int) bool {
	if page < 1 {
		page = 1
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.page == page {
		return false
	}
	s.page = page
	return true
}

// SetPageSize 修改每页数量并回到第一页
func (s *State) SetPageSize(size int) bool {
	if size <= 0 {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pageSize == size {
		return false
	}
	s.pageSize = size
	s.page = 1
	return true
}

func (s *State) SetTotal(total int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.total = total
}

func (s *State) Pagination() Pagination {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Pagination{Page: s.page, PageSize: s.pageSize, Total: s.total}
}

func (s *State) SetSort(sort Sort) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sort = sort
}

func (s *State) Sort() Sort {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sort
}

// Reset 清空过滤和搜索，回到第一页
func (s *State) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.filters = map[string]any{}
	s.search = ""
	s.page = 1
}

// Query 构造发送给 list 的查询对象：分页 ⊕ 过滤 ⊕ 非空搜索 ⊕ 额外参数
func (s *State) Query(keys Keys, extra map[string]any) map[string]any {
	keys = keys.withDefaults()

	s.mu.RLock()
	p := Pagination{Page: s.page, PageSize: s.pageSize}
	search := s.search
	filters := s.filters
	q := map[string]any{
		keys.Offset: p.Offset(),
		keys.Limit:  p.PageSize,
	}
	for k, v := range Serialize(filters) {
		q[k] = v
	}
	s.mu.RUnlock()

	if search != "" {
		q[keys.Search] = search
	}
	for k, v := range extra {
		q[k] = v
	}
	return q
}
