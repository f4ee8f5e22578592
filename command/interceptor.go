package command

import (
	"context"
	"strings"
	"sync"

	"github.com/richinex/tagloop/model"
	"github.com/richinex/tagloop/session"
	"github.com/richinex/tagloop/tools"
	"github.com/richinex/tagloop/turn"
)

// PendingCacheWarning holds back the first message sent while the cache has
// unsubmitted content.
const PendingCacheWarning = "请注意，缓存中有未提交的信息，请使用/submit提交给AI，再次输入交流将强制交互主AI并忽视缓存"

// Interceptor routes slash lines to the registry and guards the cache.
type Interceptor struct {
	registry *Registry
	sessions *session.Main
	cache    *tools.CacheCell

	mu     sync.Mutex
	warned bool
}

// NewInterceptor creates an interceptor. cache may be nil.
func NewInterceptor(registry *Registry, sessions *session.Main, cache *tools.CacheCell) *Interceptor {
	return &Interceptor{registry: registry, sessions: sessions, cache: cache}
}

// Intercept runs commands and decides whether plain input reaches the model.
func (i *Interceptor) Intercept(ctx context.Context, input string) turn.Interception {
	if strings.HasPrefix(input, "/") {
		res := i.registry.Handle(ctx, input)
		if res.ForModel != "" {
			i.sessions.Get().Add(model.RoleSystem, res.ForModel, res.ForUser)
		}
		return turn.Interception{Notice: res.ForUser, Handled: true, Exit: res.Exit}
	}

	i.mu.Lock()
	defer i.mu.Unlock()
	if !i.warned && i.cache != nil && !i.cache.Empty() {
		i.warned = true
		return turn.Interception{Notice: PendingCacheWarning, Handled: true}
	}
	i.warned = false
	return turn.Interception{}
}

// Verify Interceptor implements turn.InputInterceptor
var _ turn.InputInterceptor = (*Interceptor)(nil)
