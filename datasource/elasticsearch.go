package datasource

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"
	"github.com/hatlonely/crudkit/datasource/idgen"
	"github.com/hatlonely/crudkit/schema"
	"github.com/pkg/errors"
)

type ElasticsearchOptions struct {
	Addresses  []string      `cfg:"addresses" yaml:"addresses" def:"[\"http://localhost:9200\"]"`
	Username   string        `cfg:"username" yaml:"username"`
	Password   string        `cfg:"password" yaml:"password"`
	APIKey     string        `cfg:"apiKey" yaml:"apiKey"`
	Timeout    time.Duration `cfg:"timeout" yaml:"timeout" def:"30s"`
	MaxRetries int           `cfg:"maxRetries" yaml:"maxRetries" def:"3"`

	Index string `cfg:"index" yaml:"index" validate:"required"`

	// Refresh 写入后的刷新策略，默认 wait_for，写入后立即可以查到
	Refresh string `cfg:"refresh" yaml:"refresh" def:"wait_for"`

	Query QueryOptions `cfg:"query" yaml:"query"`

	// IDs 新文档 id 的生成方式，默认 snowflake
	IDs         idgen.Options   `cfg:"ids" yaml:"ids"`
	IDGenerator idgen.Generator `cfg:"-" yaml:"-"`

	// Client 已有的客户端，设置后忽略连接参数
	Client *elasticsearch.Client `cfg:"-" yaml:"-"`
}

// Elasticsearch 基于 elasticsearch 索引的数据源，文档 _id 与记录 id 相同
type Elasticsearch[T schema.Record] struct {
	client  *elasticsearch.Client
	index   string
	refresh string
	query   QueryOptions
	ids     idgen.Generator
}

func NewElasticsearchWithOptions[T schema.Record](options *ElasticsearchOptions) (*Elasticsearch[T], error) {
	if options == nil || options.Index == "" {
		return nil, errors.New("elasticsearch index is required")
	}

	client := options.Client
	if client == nil {
		addresses := options.Addresses
		if len(addresses) == 0 {
			addresses = []string{"http://localhost:9200"}
		}
		timeout := options.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		c, err := elasticsearch.NewClient(elasticsearch.Config{
			Addresses: addresses,
			Username:  options.Username,
			Password:  options.Password,
			APIKey:    options.APIKey,
			Transport: &http.Transport{
				MaxIdleConnsPerHost:   10,
				ResponseHeaderTimeout: timeout,
			},
			MaxRetries: options.MaxRetries,
		})
		if err != nil {
			return nil, errors.Wrap(err, "failed to create elasticsearch client")
		}
		client = c
	}

	ids := options.IDGenerator
	if ids == nil {
		idOptions := options.IDs
		if idOptions.Type == "" {
			idOptions.Type = "snowflake"
		}
		g, err := idgen.NewGeneratorWithOptions(&idOptions)
		if err != nil {
			return nil, errors.WithMessage(err, "failed to create id generator")
		}
		ids = g
	}

	refresh := options.Refresh
	if refresh == "" {
		refresh = "wait_for"
	}

	return &Elasticsearch[T]{
		client:  client,
		index:   options.Index,
		refresh: refresh,
		query:   options.Query,
		ids:     ids,
	}, nil
}

// SearchBody 查询对象对应的 _search 请求体
func (e *Elasticsearch[T]) SearchBody(query map[string]any) map[string]any {
	q := ParseQuery(query, &e.query)

	body := map[string]any{
		"query": q.Where.ToES(),
		"sort":  []any{map[string]any{"id": map[string]any{"order": "asc"}}},
	}
	if q.Offset > 0 {
		body["from"] = q.Offset
	}
	if q.Limit > 0 {
		body["size"] = q.Limit
	}
	return body
}

func (e *Elasticsearch[T]) List(ctx context.Context, query map[string]any) ([]T, error) {
	body, err := json.Marshal(e.SearchBody(query))
	if err != nil {
		return nil, errors.Wrap(err, "marshal search body")
	}

	res, err := esapi.SearchRequest{
		Index: []string{e.index},
		Body:  bytes.NewReader(body),
	}.Do(ctx, e.client)
	if err != nil {
		return nil, errors.Wrap(err, "search documents")
	}
	defer res.Body.Close()
	if res.IsError() {
		return nil, errors.Errorf("search documents: %s", res.String())
	}

	var result struct {
		Hits struct {
			Hits []struct {
				Source json.RawMessage `json:"_source"`
			} `json:"hits"`
		} `json:"hits"`
	}
	if err := json.NewDecoder(res.Body).Decode(&result); err != nil {
		return nil, errors.Wrap(err, "decode search result")
	}

	records := make([]T, 0, len(result.Hits.Hits))
	for _, hit := range result.Hits.Hits {
		attrs, err := decodeSource(bytes.NewReader(hit.Source))
		if err != nil {
			return nil, err
		}
		record, err := decodeRecord[T](attrs)
		if err != nil {
			return nil, errors.WithMessage(err, "decode record")
		}
		records = append(records, record)
	}
	return records, nil
}

func (e *Elasticsearch[T]) Create(ctx context.Context, data map[string]any) (T, error) {
	var zero T

	id, err := e.ids.NextID(ctx)
	if err != nil {
		return zero, errors.WithMessage(err, "generate id")
	}
	doc := make(map[string]any, len(data)+1)
	for k, v := range data {
		doc[k] = v
	}
	doc["id"] = id

	body, err := json.Marshal(doc)
	if err != nil {
		return zero, NewUnprocessableError(err.Error(), nil)
	}

	res, err := esapi.CreateRequest{
		Index:      e.index,
		DocumentID: strconv.FormatInt(id, 10),
		Body:       bytes.NewReader(body),
		Refresh:    e.refresh,
	}.Do(ctx, e.client)
	if err != nil {
		return zero, errors.Wrap(err, "create document")
	}
	defer res.Body.Close()
	if res.StatusCode == http.StatusConflict {
		return zero, NewUnprocessableError("document already exists", map[string]string{"id": "already exists"})
	}
	if res.IsError() {
		return zero, errors.Errorf("create document: %s", res.String())
	}

	attrs, err := decodeSource(bytes.NewReader(body))
	if err != nil {
		return zero, err
	}
	record, err := decodeRecord[T](attrs)
	if err != nil {
		return zero, errors.WithMessage(err, "decode record")
	}
	return record, nil
}

func (e *Elasticsearch[T]) Update(ctx context.Context, id int64, data map[string]any) (T, error) {
	var zero T

	doc := make(map[string]any, len(data))
	for k, v := range data {
		if k == "id" {
			continue
		}
		doc[k] = v
	}

	if len(doc) > 0 {
		body, err := json.Marshal(map[string]any{"doc": doc})
		if err != nil {
			return zero, NewUnprocessableError(err.Error(), nil)
		}
		res, err := esapi.UpdateRequest{
			Index:      e.index,
			DocumentID: strconv.FormatInt(id, 10),
			Body:       bytes.NewReader(body),
			Refresh:    e.refresh,
		}.Do(ctx, e.client)
		if err != nil {
			return zero, errors.Wrap(err, "update document")
		}
		defer res.Body.Close()
		if res.StatusCode == http.StatusNotFound {
			return zero, errors.WithMessagef(ErrNotFound, "id %d", id)
		}
		if res.StatusCode == http.StatusBadRequest {
			return zero, NewUnprocessableError(res.String(), nil)
		}
		if res.IsError() {
			return zero, errors.Errorf("update document: %s", res.String())
		}
	}

	return e.get(ctx, id)
}

func (e *Elasticsearch[T]) get(ctx context.Context, id int64) (T, error) {
	var zero T

	res, err := esapi.GetRequest{
		Index:      e.index,
		DocumentID: strconv.FormatInt(id, 10),
	}.Do(ctx, e.client)
	if err != nil {
		return zero, errors.Wrap(err, "get document")
	}
	defer res.Body.Close()
	if res.StatusCode == http.StatusNotFound {
		return zero, errors.WithMessagef(ErrNotFound, "id %d", id)
	}
	if res.IsError() {
		return zero, errors.Errorf("get document: %s", res.String())
	}

	var result struct {
		Source json.RawMessage `json:"_source"`
	}
	if err := json.NewDecoder(res.Body).Decode(&result); err != nil {
		return zero, errors.Wrap(err, "decode document")
	}
	attrs, err := decodeSource(bytes.NewReader(result.Source))
	if err != nil {
		return zero, err
	}
	record, err := decodeRecord[T](attrs)
	if err != nil {
		return zero, errors.WithMessage(err, "decode record")
	}
	return record, nil
}

func (e *Elasticsearch[T]) Delete(ctx context.Context, id int64) error {
	res, err := esapi.DeleteRequest{
		Index:      e.index,
		DocumentID: strconv.FormatInt(id, 10),
		Refresh:    e.refresh,
	}.Do(ctx, e.client)
	if err != nil {
		return errors.Wrap(err, "delete document")
	}
	defer res.Body.Close()
	if res.StatusCode == http.StatusNotFound {
		return errors.WithMessagef(ErrNotFound, "id %d", id)
	}
	if res.IsError() {
		return errors.Errorf("delete document: %s", res.String())
	}
	return nil
}

// decodeSource 解析文档，整数保持为 int64
func decodeSource(r io.Reader) (map[string]any, error) {
	decoder := json.NewDecoder(r)
	decoder.UseNumber()
	var attrs map[string]any
	if err := decoder.Decode(&attrs); err != nil {
		return nil, errors.Wrap(err, "decode document source")
	}
	for k, v := range attrs {
		attrs[k] = fromJSONNumber(v)
	}
	return attrs, nil
}

func fromJSONNumber(v any) any {
	switch t := v.(type) {
	case json.Number:
		if n, err := t.Int64(); err == nil {
			return n
		}
		if f, err := t.Float64(); err == nil {
			return f
		}
		return t.String()
	case map[string]any:
		for k, e := range t {
			t[k] = fromJSONNumber(e)
		}
	case []any:
		for i, e := range t {
			t[i] = fromJSONNumber(e)
		}
	}
	return v
}
