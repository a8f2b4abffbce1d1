package cortex

import (
	"context"
	"fmt"
	"sync"
)

// Hook names a point in a Table operation where hooks run.
type Hook string

const (
	BeforeCreate      Hook = "beforeCreate"
	AfterCreate       Hook = "afterCreate"
	BeforeUpdate      Hook = "beforeUpdate"
	AfterUpdate       Hook = "afterUpdate"
	BeforeDestroy     Hook = "beforeDestroy"
	AfterDestroy      Hook = "afterDestroy"
	BeforeBulkDestroy Hook = "beforeBulkDestroy"
	AfterBulkDestroy  Hook = "afterBulkDestroy"
	BeforeCreateTable Hook = "beforeCreateTable"
	AfterCreateTable  Hook = "afterCreateTable"
	BeforeDropTable   Hook = "beforeDropTable"
	AfterDropTable    Hook = "afterDropTable"
	BeforeCount       Hook = "beforeCount"
	AfterCount        Hook = "afterCount"
	BeforeFindOne     Hook = "beforeFindOne"
	AfterFindOne      Hook = "afterFindOne"
	BeforeQuery       Hook = "beforeQuery"
)

// HookFunc receives the operation's input (before hooks) or result (after hooks). An error
// aborts the operation.
type HookFunc func(ctx context.Context, arg interface{}) error

// QueryArg is what BeforeQuery hooks receive.
type QueryArg struct {
	SQL  string
	Args []interface{}
}

// Hooks holds hook functions by name. The zero value is ready to use.
type Hooks struct {
	mu  sync.RWMutex
	fns map[Hook][]HookFunc
}

// Add appends fn to the hooks of name.
func (h *Hooks) Add(name Hook, fn HookFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.fns == nil {
		h.fns = make(map[Hook][]HookFunc)
	}
	h.fns[name] = append(h.fns[name], fn)
}

func (h *Hooks) run(ctx context.Context, name Hook, arg interface{}) error {
	if h == nil {
		return nil
	}
	h.mu.RLock()
	fns := h.fns[name]
	h.mu.RUnlock()
	for _, fn := range fns {
		if err := fn(ctx, arg); err != nil {
			return fmt.Errorf("%s - %s hook failed: %w", logPrefix, name, err)
		}
	}
	return nil
}
