package list

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"requestx/internal/logger"
	"requestx/internal/metrics"
	"requestx/internal/rules"
	"requestx/pkg/rulespec"

	json "github.com/goccy/go-json"
	"github.com/samber/lo"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

// 持久化键
const (
	KeyLists   = "lists"
	KeyLastID  = "lastId"
	ListPrefix = "list:"
)

var (
	ErrListNotFound   = errors.New("list not found")
	ErrTypeMismatch   = errors.New("list type mismatch")
	ErrInvalidType    = errors.New("invalid list type")
	ErrMissingRules   = errors.New("invalid list data: missing rules")
	ErrNoSubscription = errors.New("list has no subscription url")
	ErrNotLoaded      = errors.New("lists are not loaded yet")
	ErrInvalidMove    = errors.New("invalid move")
)

// Store 键值持久化
type Store interface {
	Get(ctx context.Context, keys ...string) (map[string][]byte, error)
	Set(ctx context.Context, values map[string][]byte) error
	Remove(ctx context.Context, keys ...string) error
	Scan(ctx context.Context, prefix string) (map[string][]byte, error)
}

// Fetcher 订阅数据获取
type Fetcher interface {
	FetchListData(ctx context.Context, url string) (*rulespec.ListData, error)
}

// ChangeKind 列表变更类型
type ChangeKind string

const (
	ChangeUpdated ChangeKind = "updated"
	ChangeRemoved ChangeKind = "removed"
	ChangeMoved   ChangeKind = "moved"
)

// Change 列表变更通知
type Change struct {
	Kind ChangeKind
	Type rulespec.ListType
	ID   int
}

// Group 按类型持有全部列表，负责增删改、排序与ID分配
type Group struct {
	mu      sync.RWMutex
	lists   map[rulespec.ListType][]*List
	lastID  int
	loaded  bool
	store   Store
	fetcher Fetcher
	flight  singleflight.Group
	hooks   []func(Change)
	now     func() time.Time
	log     logger.Logger
}

// NewGroup 创建列表组，fetcher 可以为 nil
func NewGroup(store Store, fetcher Fetcher, l logger.Logger) *Group {
	if l == nil {
		l = logger.NewNop()
	}
	return &Group{
		lists: map[rulespec.ListType][]*List{
			rulespec.ListTypeRequest: nil,
			rulespec.ListTypeCookie:  nil,
		},
		store:   store,
		fetcher: fetcher,
		now:     time.Now,
		log:     l,
	}
}

// OnChange 注册变更回调，回调在锁外执行
func (g *Group) OnChange(fn func(Change)) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.hooks = append(g.hooks, fn)
}

// Load 从存储加载全部列表；索引缺失时扫描 list: 前缀
func (g *Group) Load(ctx context.Context) error {
	meta, err := g.store.Get(ctx, KeyLists, KeyLastID)
	if err != nil {
		return fmt.Errorf("load list index: %w", err)
	}

	var raws [][]byte
	if idx, ok := meta[KeyLists]; ok {
		var ids []int
		if err := json.Unmarshal(idx, &ids); err != nil {
			return fmt.Errorf("decode list index: %w", err)
		}
		values, err := g.store.Get(ctx, lo.Map(ids, func(id int, _ int) string { return Key(id) })...)
		if err != nil {
			return fmt.Errorf("load lists: %w", err)
		}
		for _, id := range ids {
			if raw, ok := values[Key(id)]; ok {
				raws = append(raws, raw)
			}
		}
	} else {
		values, err := g.store.Scan(ctx, ListPrefix)
		if err != nil {
			return fmt.Errorf("scan lists: %w", err)
		}
		keys := lo.Keys(values)
		sort.Slice(keys, func(i, j int) bool { return keyID(keys[i]) < keyID(keys[j]) })
		for _, k := range keys {
			raws = append(raws, values[k])
		}
	}

	lists := map[rulespec.ListType][]*List{
		rulespec.ListTypeRequest: nil,
		rulespec.ListTypeCookie:  nil,
	}
	lastID := 0
	if raw, ok := meta[KeyLastID]; ok {
		if err := json.Unmarshal(raw, &lastID); err != nil {
			g.log.Warn("列表ID计数无法解析，按已有列表重新计算", "error", err)
			lastID = 0
		}
	}
	for _, raw := range raws {
		data, err := rulespec.DecodeList(raw)
		if err != nil || data.ID <= 0 || !data.Type.Valid() {
			g.log.Warn("跳过无法解析的列表", "error", err, "id", data.ID)
			continue
		}
		lists[data.Type] = append(lists[data.Type], New(data))
		lastID = max(lastID, data.ID)
	}

	g.mu.Lock()
	g.lists = lists
	g.lastID = lastID
	g.loaded = true
	g.mu.Unlock()

	g.log.Info("列表加载完成",
		"request", len(lists[rulespec.ListTypeRequest]),
		"cookie", len(lists[rulespec.ListTypeCookie]),
		"lastId", lastID)
	return nil
}

// Lists 返回指定类型的列表数据
func (g *Group) Lists(t rulespec.ListType) []rulespec.ListData {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return lo.Map(g.lists[t], func(l *List, _ int) rulespec.ListData { return l.Data() })
}

// All 返回全部列表数据
func (g *Group) All() rulespec.ListGroups {
	return rulespec.ListGroups{
		Request: g.Lists(rulespec.ListTypeRequest),
		Cookie:  g.Lists(rulespec.ListTypeCookie),
	}
}

// RuleSets 返回指定类型列表的快照，供匹配引擎使用
func (g *Group) RuleSets(t rulespec.ListType) []rules.RuleSet {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return lo.Map(g.lists[t], func(l *List, _ int) rules.RuleSet { return l })
}

// Get 按ID查找列表
func (g *Group) Get(id int) (rulespec.ListData, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	_, _, l := g.locate(id)
	if l == nil {
		return rulespec.ListData{}, fmt.Errorf("%w: %d", ErrListNotFound, id)
	}
	return l.Data(), nil
}

// Save 新建（ID 为 0）或部分更新列表
func (g *Group) Save(ctx context.Context, p rulespec.ListPatch) (rulespec.ListData, error) {
	data, err := g.save(ctx, p)
	if err != nil {
		return rulespec.ListData{}, err
	}
	g.notify(Change{Kind: ChangeUpdated, Type: data.Type, ID: data.ID})
	return data, nil
}

func (g *Group) save(ctx context.Context, p rulespec.ListPatch) (rulespec.ListData, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.loaded {
		return rulespec.ListData{}, ErrNotLoaded
	}

	if p.ID == 0 {
		t := p.Type
		if t == "" {
			t = rulespec.ListTypeRequest
		}
		if !t.Valid() {
			return rulespec.ListData{}, fmt.Errorf("%w: %q", ErrInvalidType, t)
		}
		if p.Rules == nil {
			return rulespec.ListData{}, ErrMissingRules
		}
		base := &List{data: rulespec.ListData{Type: t, Enabled: true, Name: rulespec.DefaultName}}
		data := base.apply(p)
		data.ID = g.lastID + 1
		l := New(data)
		g.lists[t] = append(g.lists[t], l)
		if err := g.persist(ctx, l, true); err != nil {
			g.lists[t] = g.lists[t][:len(g.lists[t])-1]
			return rulespec.ListData{}, err
		}
		g.lastID = data.ID
		g.log.Info("创建列表", "id", data.ID, "type", t, "rules", len(data.Rules))
		return l.Data(), nil
	}

	t, i, cur := g.locate(p.ID)
	if cur == nil {
		return rulespec.ListData{}, fmt.Errorf("%w: %d", ErrListNotFound, p.ID)
	}
	if p.Type != "" && p.Type != t {
		return rulespec.ListData{}, fmt.Errorf("%w: list %d is %s", ErrTypeMismatch, p.ID, t)
	}
	l := New(cur.apply(p))
	if err := g.persist(ctx, l, false); err != nil {
		return rulespec.ListData{}, err
	}
	g.lists[t][i] = l
	g.log.Debug("更新列表", "id", p.ID, "type", t)
	return l.Data(), nil
}

// Remove 删除列表
func (g *Group) Remove(ctx context.Context, id int) error {
	g.mu.Lock()
	t, i, cur := g.locate(id)
	if cur == nil {
		g.mu.Unlock()
		return fmt.Errorf("%w: %d", ErrListNotFound, id)
	}
	// 先落索引：索引不再引用的记录在加载时不可见
	prev := g.lists[t]
	g.lists[t] = append(prev[:i:i], prev[i+1:]...)
	if err := g.persistIndex(ctx); err != nil {
		g.lists[t] = prev
		g.mu.Unlock()
		return fmt.Errorf("remove list %d: %w", id, err)
	}
	if err := g.store.Remove(ctx, Key(id)); err != nil {
		g.log.Warn("删除列表记录失败，记录已不在索引中", "id", id, "error", err)
	}
	g.mu.Unlock()
	g.log.Info("删除列表", "id", id, "type", t)
	g.notify(Change{Kind: ChangeRemoved, Type: t, ID: id})
	return nil
}

// Move 调整同类型列表的顺序，即匹配优先级
func (g *Group) Move(ctx context.Context, t rulespec.ListType, selection []int, target int, downward bool) error {
	g.mu.Lock()
	next, ok := rulespec.Reorder(g.lists[t], selection, target, downward)
	if !ok {
		g.mu.Unlock()
		return ErrInvalidMove
	}
	prev := g.lists[t]
	g.lists[t] = next
	err := g.persistIndex(ctx)
	if err != nil {
		g.lists[t] = prev
	}
	g.mu.Unlock()
	if err != nil {
		return fmt.Errorf("move lists: %w", err)
	}
	g.notify(Change{Kind: ChangeMoved, Type: t})
	return nil
}

// MoveRules 调整列表内规则的顺序
func (g *Group) MoveRules(ctx context.Context, id int, selection []int, target int, downward bool) (rulespec.ListData, error) {
	data, err := g.Get(id)
	if err != nil {
		return rulespec.ListData{}, err
	}
	next, ok := rulespec.Reorder(data.Rules, selection, target, downward)
	if !ok {
		return rulespec.ListData{}, ErrInvalidMove
	}
	return g.Save(ctx, rulespec.ListPatch{ID: id, Rules: &next})
}

// Fetch 拉取订阅列表并整体替换其规则；同一列表的并发调用共享一次请求
func (g *Group) Fetch(ctx context.Context, id int) (rulespec.ListData, error) {
	v, err, shared := g.flight.Do(strconv.Itoa(id), func() (any, error) {
		return g.fetch(ctx, id)
	})
	if shared {
		g.log.Debug("复用进行中的订阅请求", "id", id)
	}
	if err != nil {
		return rulespec.ListData{}, err
	}
	return v.(rulespec.ListData), nil
}

func (g *Group) fetch(ctx context.Context, id int) (rulespec.ListData, error) {
	cur, err := g.Get(id)
	if err != nil {
		return rulespec.ListData{}, err
	}
	if !cur.Subscribed() || g.fetcher == nil {
		return rulespec.ListData{}, fmt.Errorf("%w: %d", ErrNoSubscription, id)
	}
	remote, err := g.fetcher.FetchListData(ctx, cur.SubscribeURL)
	if err != nil {
		metrics.SubscriptionFetchesTotal.WithLabelValues(metrics.ResultError).Inc()
		return rulespec.ListData{}, fmt.Errorf("fetch list %d: %w", id, err)
	}
	if remote.Type != cur.Type {
		metrics.SubscriptionFetchesTotal.WithLabelValues(metrics.ResultError).Inc()
		return rulespec.ListData{}, fmt.Errorf("%w: list %d is %s, got %s", ErrTypeMismatch, id, cur.Type, remote.Type)
	}
	updated := remote.LastUpdated
	if updated == 0 {
		updated = g.now().UnixMilli()
	}
	items := remote.Rules
	if items == nil {
		items = []rulespec.RuleData{}
	}
	patch := rulespec.ListPatch{ID: id, Rules: &items, LastUpdated: &updated}
	if remote.Name != "" {
		patch.Name = &remote.Name
	}
	data, err := g.Save(ctx, patch)
	if err != nil {
		return rulespec.ListData{}, err
	}
	metrics.SubscriptionFetchesTotal.WithLabelValues(metrics.ResultOK).Inc()
	g.log.Info("订阅列表已更新", "id", id, "rules", len(data.Rules))
	return data, nil
}

// FetchAll 拉取全部订阅列表，单个失败不影响其它列表，返回以列表ID为键的错误
func (g *Group) FetchAll(ctx context.Context) map[int]error {
	g.mu.RLock()
	var ids []int
	for _, t := range []rulespec.ListType{rulespec.ListTypeRequest, rulespec.ListTypeCookie} {
		for _, l := range g.lists[t] {
			if l.data.SubscribeURL != "" {
				ids = append(ids, l.data.ID)
			}
		}
	}
	g.mu.RUnlock()

	var mu sync.Mutex
	errs := make(map[int]error)
	var eg errgroup.Group
	eg.SetLimit(4)
	for _, id := range ids {
		eg.Go(func() error {
			if _, err := g.Fetch(ctx, id); err != nil {
				g.log.Err(err, "订阅列表拉取失败", "id", id)
				mu.Lock()
				errs[id] = err
				mu.Unlock()
			}
			return nil
		})
	}
	_ = eg.Wait()
	return errs
}

// locate 查找列表所在类型与下标，调用方需持有锁
func (g *Group) locate(id int) (rulespec.ListType, int, *List) {
	for t, lists := range g.lists {
		for i, l := range lists {
			if l.data.ID == id {
				return t, i, l
			}
		}
	}
	return "", -1, nil
}

// persist 写入单个列表，新建时同时写入索引与ID计数，调用方需持有锁
func (g *Group) persist(ctx context.Context, l *List, created bool) error {
	raw, err := json.Marshal(l.Data())
	if err != nil {
		return fmt.Errorf("encode list %d: %w", l.ID(), err)
	}
	values := map[string][]byte{Key(l.ID()): raw}
	if created {
		values[KeyLastID] = []byte(strconv.Itoa(l.ID()))
		values[KeyLists] = g.indexJSON()
	}
	if err := g.store.Set(ctx, values); err != nil {
		return fmt.Errorf("save list %d: %w", l.ID(), err)
	}
	return nil
}

func (g *Group) persistIndex(ctx context.Context) error {
	return g.store.Set(ctx, map[string][]byte{KeyLists: g.indexJSON()})
}

func (g *Group) indexJSON() []byte {
	ids := make([]int, 0)
	for _, t := range []rulespec.ListType{rulespec.ListTypeRequest, rulespec.ListTypeCookie} {
		for _, l := range g.lists[t] {
			ids = append(ids, l.data.ID)
		}
	}
	raw, _ := json.Marshal(ids)
	return raw
}

func (g *Group) notify(c Change) {
	g.mu.RLock()
	hooks := append([]func(Change){}, g.hooks...)
	g.mu.RUnlock()
	for _, fn := range hooks {
		fn(c)
	}
}

// Key 列表的存储键
func Key(id int) string { return ListPrefix + strconv.Itoa(id) }

func keyID(key string) int {
	id, _ := strconv.Atoi(strings.TrimPrefix(key, ListPrefix))
	return id
}
