package datasource

import (
	"context"
	"fmt"
	"time"

	"github.com/hatlonely/crudkit/datasource/idgen"
	"github.com/hatlonely/crudkit/schema"
	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	mongooptions "go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

type MongoOptions struct {
	URI        string        `cfg:"uri" yaml:"uri"`
	Host       string        `cfg:"host" yaml:"host" def:"localhost"`
	Port       int           `cfg:"port" yaml:"port" def:"27017"`
	Database   string        `cfg:"database" yaml:"database" validate:"required"`
	Collection string        `cfg:"collection" yaml:"collection" validate:"required"`
	Username   string        `cfg:"username" yaml:"username"`
	Password   string        `cfg:"password" yaml:"password"`
	AuthSource string        `cfg:"authSource" yaml:"authSource" def:"admin"`
	Timeout    time.Duration `cfg:"timeout" yaml:"timeout" def:"30s"`

	MaxPoolSize uint64 `cfg:"maxPoolSize" yaml:"maxPoolSize" def:"100"`
	MinPoolSize uint64 `cfg:"minPoolSize" yaml:"minPoolSize" def:"0"`

	Query QueryOptions `cfg:"query" yaml:"query"`

	// IDs 新文档 id 的生成方式，默认 snowflake，多个进程写同一个集合时不冲突
	IDs idgen.Options `cfg:"ids" yaml:"ids"`

	// IDGenerator 已有的生成器，设置后忽略 IDs
	IDGenerator idgen.Generator `cfg:"-" yaml:"-"`
}

// Mongo 基于 mongodb 集合的数据源
// 记录主键保存在 id 字段，_id 由 mongodb 生成且不出现在记录中
type Mongo[T schema.Record] struct {
	client     *mongo.Client
	collection *mongo.Collection
	query      QueryOptions
	ids        idgen.Generator
}

func NewMongoWithOptions[T schema.Record](options *MongoOptions) (*Mongo[T], error) {
	if options == nil || options.Database == "" || options.Collection == "" {
		return nil, errors.New("mongo database and collection are required")
	}

	uri := options.URI
	if uri == "" {
		host, port := options.Host, options.Port
		if host == "" {
			host = "localhost"
		}
		if port == 0 {
			port = 27017
		}
		if options.Username != "" {
			authSource := options.AuthSource
			if authSource == "" {
				authSource = "admin"
			}
			uri = fmt.Sprintf("mongodb://%s:%s@%s:%d/%s?authSource=%s",
				options.Username, options.Password, host, port, options.Database, authSource)
		} else {
			uri = fmt.Sprintf("mongodb://%s:%d/%s", host, port, options.Database)
		}
	}

	timeout := options.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	client, err := mongo.Connect(ctx, mongoClientOptions(uri, options))
	if err != nil {
		return nil, errors.Wrap(err, "failed to connect to mongodb")
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, errors.Wrap(err, "failed to ping mongodb")
	}

	m, err := NewMongo[T](client.Database(options.Database).Collection(options.Collection), options)
	if err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}
	m.client = client
	return m, nil
}

func mongoClientOptions(uri string, options *MongoOptions) *mongooptions.ClientOptions {
	o := mongooptions.Client().ApplyURI(uri)
	if options.MaxPoolSize > 0 {
		o.SetMaxPoolSize(options.MaxPoolSize)
	}
	o.SetMinPoolSize(options.MinPoolSize)
	return o
}

// NewMongo 使用已有集合创建数据源，连接由调用方管理
func NewMongo[T schema.Record](collection *mongo.Collection, options *MongoOptions) (*Mongo[T], error) {
	if collection == nil {
		return nil, errors.New("mongo collection is required")
	}
	if options == nil {
		options = &MongoOptions{}
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

	return &Mongo[T]{
		collection: collection,
		query:      options.Query,
		ids:        ids,
	}, nil
}

// Find 查询对象转换后的过滤文档和分页、排序参数
func (m *Mongo[T]) Find(query map[string]any) (bson.M, *mongooptions.FindOptions, error) {
	q := ParseQuery(query, &m.query)

	filter, err := q.Where.ToMongo()
	if err != nil {
		return nil, nil, errors.WithMessage(err, "build mongo filter")
	}

	find := mongooptions.Find().
		SetSort(bson.D{{Key: "id", Value: 1}}).
		SetProjection(bson.M{"_id": 0})
	if q.Offset > 0 {
		find.SetSkip(int64(q.Offset))
	}
	if q.Limit > 0 {
		find.SetLimit(int64(q.Limit))
	}
	return bson.M(filter), find, nil
}

func (m *Mongo[T]) List(ctx context.Context, query map[string]any) ([]T, error) {
	filter, find, err := m.Find(query)
	if err != nil {
		return nil, err
	}

	cursor, err := m.collection.Find(ctx, filter, find)
	if err != nil {
		return nil, errors.Wrap(err, "find documents")
	}
	defer cursor.Close(ctx)

	records := []T{}
	for cursor.Next(ctx) {
		var doc bson.M
		if err := cursor.Decode(&doc); err != nil {
			return nil, errors.Wrap(err, "decode document")
		}
		record, err := decodeRecord[T](fromBSON(doc))
		if err != nil {
			return nil, errors.WithMessage(err, "decode record")
		}
		records = append(records, record)
	}
	if err := cursor.Err(); err != nil {
		return nil, errors.Wrap(err, "iterate documents")
	}
	return records, nil
}

func (m *Mongo[T]) Create(ctx context.Context, data map[string]any) (T, error) {
	var zero T

	id, err := m.ids.NextID(ctx)
	if err != nil {
		return zero, errors.WithMessage(err, "generate id")
	}

	doc := make(bson.M, len(data)+1)
	for k, v := range data {
		doc[k] = v
	}
	doc["id"] = id

	if _, err := m.collection.InsertOne(ctx, doc); err != nil {
		return zero, translateMongoError(err, "insert document")
	}
	delete(doc, "_id")

	record, err := decodeRecord[T](fromBSON(doc))
	if err != nil {
		return zero, errors.WithMessage(err, "decode record")
	}
	return record, nil
}

func (m *Mongo[T]) Update(ctx context.Context, id int64, data map[string]any) (T, error) {
	var zero T

	set := make(bson.M, len(data))
	for k, v := range data {
		if k == "id" || k == "_id" {
			continue
		}
		set[k] = v
	}

	var result *mongo.SingleResult
	if len(set) == 0 {
		result = m.collection.FindOne(ctx, bson.M{"id": id}, mongooptions.FindOne().SetProjection(bson.M{"_id": 0}))
	} else {
		result = m.collection.FindOneAndUpdate(ctx, bson.M{"id": id}, bson.M{"$set": set},
			mongooptions.FindOneAndUpdate().
				SetReturnDocument(mongooptions.After).
				SetProjection(bson.M{"_id": 0}))
	}

	var doc bson.M
	if err := result.Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return zero, errors.WithMessagef(ErrNotFound, "id %d", id)
		}
		return zero, translateMongoError(err, "update document")
	}

	record, err := decodeRecord[T](fromBSON(doc))
	if err != nil {
		return zero, errors.WithMessage(err, "decode record")
	}
	return record, nil
}

func (m *Mongo[T]) Delete(ctx context.Context, id int64) error {
	result, err := m.collection.DeleteOne(ctx, bson.M{"id": id})
	if err != nil {
		return errors.Wrap(err, "delete document")
	}
	if result.DeletedCount == 0 {
		return errors.WithMessagef(ErrNotFound, "id %d", id)
	}
	return nil
}

// Close 断开自行创建的连接
func (m *Mongo[T]) Close() error {
	if m.client == nil {
		return nil
	}
	return m.client.Disconnect(context.Background())
}

// translateMongoError 唯一索引冲突转换为 UnprocessableError
func translateMongoError(err error, msg string) error {
	if mongo.IsDuplicateKeyError(err) {
		return NewUnprocessableError("duplicate value", duplicateKeyFields(err))
	}
	return errors.Wrap(err, msg)
}

// duplicateKeyFields 从 E11000 错误的 keyValue 中提取冲突字段
func duplicateKeyFields(err error) map[string]string {
	var we mongo.WriteException
	if !errors.As(err, &we) {
		return nil
	}
	fields := map[string]string{}
	for _, e := range we.WriteErrors {
		if e.Raw == nil {
			continue
		}
		keyValue, ok := e.Raw.Lookup("keyValue").DocumentOK()
		if !ok {
			continue
		}
		elems, _ := keyValue.Elements()
		for _, el := range elems {
			fields[el.Key()] = "already exists"
		}
	}
	if len(fields) == 0 {
		return nil
	}
	return fields
}

// fromBSON 将驱动返回的类型转换为普通的 map、slice 和 time.Time
func fromBSON(doc bson.M) map[string]any {
	out := make(map[string]any, len(doc))
	for k, v := range doc {
		out[k] = fromBSONValue(v)
	}
	return out
}

func fromBSONValue(v any) any {
	switch t := v.(type) {
	case bson.M:
		return fromBSON(t)
	case bson.D:
		return fromBSON(t.Map())
	case bson.A:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = fromBSONValue(e)
		}
		return out
	case primitive.DateTime:
		return t.Time().UTC()
	case primitive.ObjectID:
		return t.Hex()
	case int32:
		return int64(t)
	}
	return v
}
