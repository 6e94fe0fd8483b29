package kb

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/BaSui01/graphflow/types"
)

// SchemaEnsurer 在绑定首次构建时落地底层表结构(建表 + 向量索引).
// 对同一绑定重复执行是底层存储的错误, 注册表保证只调用一次.
type SchemaEnsurer interface {
	EnsureSchema(ctx context.Context, binding *TableBinding) error
}

// SchemaEnsurerFunc 将函数适配为 SchemaEnsurer.
type SchemaEnsurerFunc func(ctx context.Context, binding *TableBinding) error

func (f SchemaEnsurerFunc) EnsureSchema(ctx context.Context, binding *TableBinding) error {
	return f(ctx, binding)
}

// Registry 按 (namespace, dimension) 缓存表绑定.
// 冷启动时大量并发请求会同时命中同一个 key, singleflight 保证
// 只有一个调用者执行构建, 其余阻塞等待并拿到同一个实例.
type Registry struct {
	ensurer  SchemaEnsurer
	group    singleflight.Group
	mu       sync.RWMutex
	bindings map[string]*TableBinding
	// nsDims 记录每个命名空间首次绑定的维度, 同名异维是配置错误
	nsDims map[string]int
	logger *zap.Logger
}

// NewRegistry 创建注册表. ensurer 可为 nil, 此时只做内存绑定.
func NewRegistry(ensurer SchemaEnsurer, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		ensurer:  ensurer,
		bindings: make(map[string]*TableBinding),
		nsDims:   make(map[string]int),
		logger:   logger.With(zap.String("component", "schema_registry")),
	}
}

func bindingKey(namespace string, dimension int) string {
	return fmt.Sprintf("%s|%d", FormatNamespace(namespace), dimension)
}

// Bind 返回知识库的表绑定, 首次调用时构建并落地 schema.
func (r *Registry) Bind(ctx context.Context, base KnowledgeBase) (*TableBinding, error) {
	if err := base.Validate(); err != nil {
		return nil, err
	}
	return r.bind(ctx, base.EffectiveNamespace(), base.VectorDimension)
}

func (r *Registry) bind(ctx context.Context, namespace string, dimension int) (*TableBinding, error) {
	key := bindingKey(namespace, dimension)
	ns := FormatNamespace(namespace)

	r.mu.RLock()
	if b, ok := r.bindings[key]; ok {
		r.mu.RUnlock()
		return b, nil
	}
	if bound, ok := r.nsDims[ns]; ok && bound != dimension {
		r.mu.RUnlock()
		return nil, types.NewErrorf(types.ErrValidation,
			"namespace %s is bound at dimension %d, requested %d", ns, bound, dimension)
	}
	r.mu.RUnlock()

	v, err, _ := r.group.Do(key, func() (any, error) {
		// 二次检查: 前一个同 key 调用可能已完成
		r.mu.RLock()
		if b, ok := r.bindings[key]; ok {
			r.mu.RUnlock()
			return b, nil
		}
		if bound, ok := r.nsDims[ns]; ok && bound != dimension {
			r.mu.RUnlock()
			return nil, types.NewErrorf(types.ErrValidation,
				"namespace %s is bound at dimension %d, requested %d", ns, bound, dimension)
		}
		r.mu.RUnlock()

		binding := newTableBinding(namespace, dimension)
		if r.ensurer != nil {
			if err := r.ensurer.EnsureSchema(ctx, binding); err != nil {
				return nil, types.NewErrorf(types.ErrUpstream,
					"ensure schema for namespace %s", binding.Namespace).WithCause(err)
			}
		}

		r.mu.Lock()
		r.bindings[key] = binding
		r.nsDims[ns] = dimension
		r.mu.Unlock()

		r.logger.Info("table binding constructed",
			zap.String("namespace", binding.Namespace),
			zap.Int("dimension", dimension))
		return binding, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*TableBinding), nil
}

// Lookup 返回已构建的绑定, 不触发构建.
func (r *Registry) Lookup(namespace string, dimension int) (*TableBinding, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.bindings[bindingKey(namespace, dimension)]
	return b, ok
}

// Len 返回已缓存的绑定数量.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.bindings)
}
