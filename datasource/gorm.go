package datasource

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/hatlonely/crudkit/schema"
	"github.com/pkg/errors"
	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type GormOptions struct {
	// 数据库驱动：sqlite, mysql
	Driver string `cfg:"driver" yaml:"driver" validate:"required,oneof=sqlite mysql"`
	DSN    string `cfg:"dsn" yaml:"dsn" validate:"required"`

	// AutoMigrate 创建时自动迁移表结构
	AutoMigrate bool `cfg:"autoMigrate" yaml:"autoMigrate"`

	Query QueryOptions `cfg:"query" yaml:"query"`

	// OrderBy 列表排序，默认 id
	OrderBy string `cfg:"orderBy" yaml:"orderBy" def:"id"`

	GormConfig *gorm.Config `cfg:"-" yaml:"-"`
}

// Gorm 基于 gorm 的数据源，T 为带 gorm tag 的模型结构
type Gorm[T schema.Record] struct {
	db      *gorm.DB
	query   QueryOptions
	orderBy string
}

func NewGormWithOptions[T schema.Record](options *GormOptions) (*Gorm[T], error) {
	if options == nil {
		return nil, errors.New("gorm options is required")
	}
	if options.DSN == "" {
		return nil, errors.New("database DSN is required")
	}

	config := options.GormConfig
	if config == nil {
		config = &gorm.Config{
			Logger:         logger.Default.LogMode(logger.Silent),
			TranslateError: true,
		}
	}

	var db *gorm.DB
	var err error
	switch options.Driver {
	case "sqlite":
		db, err = gorm.Open(sqlite.Open(options.DSN), config)
	case "mysql":
		db, err = gorm.Open(mysql.Open(options.DSN), config)
	default:
		return nil, errors.Errorf("unsupported database driver: %s", options.Driver)
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to connect database")
	}

	if options.AutoMigrate {
		if err := db.AutoMigrate(new(T)); err != nil {
			return nil, errors.Wrap(err, "auto migrate")
		}
	}

	return NewGorm[T](db, options), nil
}

// NewGorm 使用已有连接创建数据源
func NewGorm[T schema.Record](db *gorm.DB, options *GormOptions) *Gorm[T] {
	g := &Gorm[T]{db: db, orderBy: "id"}
	if options != nil {
		g.query = options.Query
		if options.OrderBy != "" {
			g.orderBy = options.OrderBy
		}
	}
	return g
}

// DB 返回底层连接
func (g *Gorm[T]) DB() *gorm.DB {
	return g.db
}

func (g *Gorm[T]) List(ctx context.Context, query map[string]any) ([]T, error) {
	q := ParseQuery(query, &g.query)

	where, args, err := q.Where.ToSQL()
	if err != nil {
		return nil, errors.WithMessage(err, "build where clause")
	}

	tx := g.db.WithContext(ctx).Model(new(T)).Where(where, args...).Order(g.orderBy)
	if q.Offset > 0 {
		tx = tx.Offset(q.Offset)
	}
	if q.Limit > 0 {
		tx = tx.Limit(q.Limit)
	}

	var records []T
	if err := tx.Find(&records).Error; err != nil {
		return nil, errors.Wrap(err, "list records")
	}
	return records, nil
}

func (g *Gorm[T]) Create(ctx context.Context, data map[string]any) (T, error) {
	var record T
	if err := decodeInto(data, &record); err != nil {
		return record, err
	}
	if err := g.db.WithContext(ctx).Create(&record).Error; err != nil {
		var zero T
		return zero, translateError(err, "create record")
	}
	return record, nil
}

func (g *Gorm[T]) Update(ctx context.Context, id int64, data map[string]any) (T, error) {
	var zero T

	updates := make(map[string]any, len(data))
	for k, v := range data {
		if k == "id" {
			continue
		}
		updates[k] = v
	}

	if len(updates) > 0 {
		result := g.db.WithContext(ctx).Model(new(T)).Where("id = ?", id).Updates(updates)
		if result.Error != nil {
			return zero, translateError(result.Error, "update record")
		}
		if result.RowsAffected == 0 {
			// 值未变化时部分驱动同样返回 0，需要再确认记录是否存在
			var count int64
			if err := g.db.WithContext(ctx).Model(new(T)).Where("id = ?", id).Count(&count).Error; err != nil {
				return zero, errors.Wrap(err, "count record")
			}
			if count == 0 {
				return zero, errors.WithMessagef(ErrNotFound, "id %d", id)
			}
		}
	}

	var record T
	if err := g.db.WithContext(ctx).Where("id = ?", id).First(&record).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return zero, errors.WithMessagef(ErrNotFound, "id %d", id)
		}
		return zero, errors.Wrap(err, "reload record")
	}
	return record, nil
}

func (g *Gorm[T]) Delete(ctx context.Context, id int64) error {
	result := g.db.WithContext(ctx).Where("id = ?", id).Delete(new(T))
	if result.Error != nil {
		return translateError(result.Error, "delete record")
	}
	if result.RowsAffected == 0 {
		return errors.WithMessagef(ErrNotFound, "id %d", id)
	}
	return nil
}

// Close 关闭底层连接
func (g *Gorm[T]) Close() error {
	sqlDB, err := g.db.DB()
	if err != nil {
		return errors.Wrap(err, "get sql db")
	}
	return sqlDB.Close()
}

func decodeInto(data map[string]any, out any) error {
	buf, err := json.Marshal(data)
	if err != nil {
		return errors.Wrap(err, "marshal data")
	}
	if err := json.Unmarshal(buf, out); err != nil {
		return NewUnprocessableError(err.Error(), nil)
	}
	return nil
}

// translateError 约束冲突转换为 UnprocessableError
func translateError(err error, msg string) error {
	if errors.Is(err, gorm.ErrDuplicatedKey) || errors.Is(err, gorm.ErrForeignKeyViolated) || errors.Is(err, gorm.ErrCheckConstraintViolated) {
		return NewUnprocessableError(err.Error(), nil)
	}
	s := err.Error()
	if strings.Contains(s, "constraint failed") || strings.Contains(s, "Duplicate entry") {
		return NewUnprocessableError(s, constraintFields(s))
	}
	return errors.Wrap(err, msg)
}

// constraintFields 从 sqlite 约束错误中提取字段名，例如 "UNIQUE constraint failed: accounts.name"
func constraintFields(msg string) map[string]string {
	i := strings.Index(msg, "constraint failed: ")
	if i < 0 {
		return nil
	}
	fields := map[string]string{}
	for _, col := range strings.Split(msg[i+len("constraint failed: "):], ",") {
		col = strings.TrimSpace(col)
		if j := strings.LastIndex(col, "."); j >= 0 {
			col = col[j+1:]
		}
		if col != "" {
			fields[col] = "constraint failed"
		}
	}
	return fields
}
