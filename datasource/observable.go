package datasource

import (
	"context"
	"fmt"
	"time"

	"github.com/hatlonely/crudkit/log"
	"github.com/hatlonely/crudkit/schema"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

type ObservableOptions struct {
	// EnableMetrics 是否启用指标收集
	EnableMetrics bool `cfg:"enableMetrics" yaml:"enableMetrics" def:"true"`

	// EnableLogging 是否启用日志记录
	EnableLogging bool `cfg:"enableLogging" yaml:"enableLogging" def:"true"`

	// EnableTracing 是否启用分布式追踪
	EnableTracing bool `cfg:"enableTracing" yaml:"enableTracing" def:"false"`

	// Name 组件名称标识，用于所有观测维度
	// - Metrics: 作为指标名前缀
	// - Logging: 作为 component 字段值
	// - Tracing: 作为 span 的 component 属性
	Name string `cfg:"name" yaml:"name" def:"datasource"`

	// Registerer 指标注册器，为空时使用 prometheus 默认注册器
	Registerer prometheus.Registerer `cfg:"-" yaml:"-"`

	Logger log.Logger `cfg:"-" yaml:"-"`
}

// ObservableMetrics 封装 prometheus 指标
type ObservableMetrics struct {
	operationCounter  *prometheus.CounterVec
	operationDuration *prometheus.HistogramVec
	activeOperations  *prometheus.GaugeVec
	pageSize          prometheus.Histogram
}

// NewObservableMetrics 创建并注册指标，同名指标已注册时复用已有的收集器
func NewObservableMetrics(name string, registerer prometheus.Registerer) (*ObservableMetrics, error) {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	metrics := &ObservableMetrics{
		operationCounter: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: name + "_operations_total",
				Help: "Total number of datasource operations",
			},
			[]string{"operation", "status"},
		),
		operationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    name + "_operation_duration_seconds",
				Help:    "Duration of datasource operations in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0, 5.0},
			},
			[]string{"operation"},
		),
		activeOperations: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: name + "_active_operations",
				Help: "Number of active datasource operations",
			},
			[]string{"operation"},
		),
		pageSize: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    name + "_page_size",
				Help:    "Number of records returned by list",
				Buckets: []float64{0, 1, 5, 10, 20, 50, 100, 500, 1000},
			},
		),
	}

	var err error
	if metrics.operationCounter, err = register(registerer, metrics.operationCounter); err != nil {
		return nil, err
	}
	if metrics.operationDuration, err = register(registerer, metrics.operationDuration); err != nil {
		return nil, err
	}
	if metrics.activeOperations, err = register(registerer, metrics.activeOperations); err != nil {
		return nil, err
	}
	if metrics.pageSize, err = register(registerer, metrics.pageSize); err != nil {
		return nil, err
	}

	return metrics, nil
}

func register[C prometheus.Collector](registerer prometheus.Registerer, c C) (C, error) {
	if err := registerer.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		return c, errors.Wrap(err, "register collector")
	}
	return c, nil
}

// Observable 装饰器，为任何 DataSource 添加观测能力
type Observable[T schema.Record] struct {
	ds DataSource[T]

	logger        log.Logger
	metrics       *ObservableMetrics
	tracer        trace.Tracer
	name          string
	enableMetrics bool
	enableLogging bool
	enableTracing bool
}

func NewObservableWithOptions[T schema.Record](ds DataSource[T], options *ObservableOptions) (*Observable[T], error) {
	if ds == nil {
		return nil, errors.New("datasource is nil")
	}
	if options == nil {
		options = &ObservableOptions{EnableMetrics: true, EnableLogging: true}
	}
	name := options.Name
	if name == "" {
		name = "datasource"
	}

	obs := &Observable[T]{
		ds:            ds,
		name:          name,
		enableMetrics: options.EnableMetrics,
		enableLogging: options.EnableLogging,
		enableTracing: options.EnableTracing,
	}

	if options.EnableLogging {
		obs.logger = log.OrDefault(options.Logger).WithGroup("observableDatasource")
	}

	if options.EnableMetrics {
		metrics, err := NewObservableMetrics(name, options.Registerer)
		if err != nil {
			return nil, errors.WithMessage(err, "failed to create metrics")
		}
		obs.metrics = metrics
	}

	if options.EnableTracing {
		obs.tracer = otel.Tracer(fmt.Sprintf("datasource.%s", name))
	}

	return obs, nil
}

// observeOperation 统一的操作观测逻辑
func (obs *Observable[T]) observeOperation(ctx context.Context, operation string, attrs []attribute.KeyValue, fn func(context.Context) error) error {
	start := time.Now()

	var span trace.Span
	if obs.enableTracing && obs.tracer != nil {
		ctx, span = obs.tracer.Start(ctx, fmt.Sprintf("datasource.%s", operation),
			trace.WithAttributes(append([]attribute.KeyValue{
				attribute.String("component", obs.name),
				attribute.String("operation", operation),
			}, attrs...)...),
		)
		defer span.End()
	}

	if obs.enableMetrics && obs.metrics != nil {
		obs.metrics.activeOperations.WithLabelValues(operation).Inc()
		defer obs.metrics.activeOperations.WithLabelValues(operation).Dec()
	}

	err := fn(ctx)
	duration := time.Since(start)

	if span != nil {
		span.SetAttributes(attribute.Int64("duration_ms", duration.Milliseconds()))
		if err != nil {
			span.SetStatus(codes.Error, err.Error())
			span.RecordError(err)
		} else {
			span.SetStatus(codes.Ok, "")
		}
	}

	status := "success"
	switch {
	case err == nil:
	case IsUnprocessable(err):
		status = "unprocessable"
	default:
		status = "error"
	}

	if obs.enableMetrics && obs.metrics != nil {
		obs.metrics.operationCounter.WithLabelValues(operation, status).Inc()
		obs.metrics.operationDuration.WithLabelValues(operation).Observe(duration.Seconds())
	}

	if obs.enableLogging && obs.logger != nil {
		if err != nil {
			obs.logger.ErrorContext(ctx, "datasource operation failed",
				"component", obs.name,
				"operation", operation,
				"status", status,
				"duration_ms", duration.Milliseconds(),
				"error", err.Error(),
			)
		} else {
			obs.logger.DebugContext(ctx, "datasource operation completed",
				"component", obs.name,
				"operation", operation,
				"duration_ms", duration.Milliseconds(),
			)
		}
	}

	return err
}

func (obs *Observable[T]) List(ctx context.Context, query map[string]any) ([]T, error) {
	var records []T
	err := obs.observeOperation(ctx, "list", []attribute.KeyValue{attribute.Int("query_keys", len(query))}, func(ctx context.Context) error {
		var listErr error
		records, listErr = obs.ds.List(ctx, query)
		return listErr
	})
	if err == nil && obs.enableMetrics && obs.metrics != nil {
		obs.metrics.pageSize.Observe(float64(len(records)))
	}
	return records, err
}

func (obs *Observable[T]) Create(ctx context.Context, data map[string]any) (T, error) {
	var record T
	err := obs.observeOperation(ctx, "create", nil, func(ctx context.Context) error {
		var createErr error
		record, createErr = obs.ds.Create(ctx, data)
		return createErr
	})
	return record, err
}

func (obs *Observable[T]) Update(ctx context.Context, id int64, data map[string]any) (T, error) {
	var record T
	err := obs.observeOperation(ctx, "update", []attribute.KeyValue{attribute.Int64("id", id)}, func(ctx context.Context) error {
		var updateErr error
		record, updateErr = obs.ds.Update(ctx, id, data)
		return updateErr
	})
	return record, err
}

func (obs *Observable[T]) Delete(ctx context.Context, id int64) error {
	return obs.observeOperation(ctx, "delete", []attribute.KeyValue{attribute.Int64("id", id)}, func(ctx context.Context) error {
		return obs.ds.Delete(ctx, id)
	})
}
