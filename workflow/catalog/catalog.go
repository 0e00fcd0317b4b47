// Package catalog 从目录加载工作流 DSL 文件，并可轮询目录变更自动重载。
package catalog

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/modelgate/types"
	"github.com/BaSui01/modelgate/workflow"
	"github.com/BaSui01/modelgate/workflow/dsl"
)

// DefaultPollInterval 默认轮询间隔
const DefaultPollInterval = 2 * time.Second

var extensions = map[string]bool{".yaml": true, ".yml": true, ".json": true}

// fileState 用于轮询比较的文件指纹
type fileState struct {
	modTime time.Time
	size    int64
}

// ReloadEvent 一次重载的结果
type ReloadEvent struct {
	Loaded    []string  `json:"loaded"`
	Removed   []string  `json:"removed,omitempty"`
	Err       error     `json:"-"`
	Timestamp time.Time `json:"timestamp"`
}

// Catalog 目录中的工作流定义集合，可并发读取
type Catalog struct {
	dir    string
	parser *dsl.Parser
	logger *zap.Logger

	mu        sync.RWMutex
	workflows map[string]*workflow.Workflow
	files     map[string]fileState
}

// New 创建 Catalog，调用 Load 之前为空
func New(dir string, logger *zap.Logger) *Catalog {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Catalog{
		dir:       dir,
		parser:    dsl.NewParser(logger),
		logger:    logger.With(zap.String("component", "workflow_catalog"), zap.String("dir", dir)),
		workflows: make(map[string]*workflow.Workflow),
		files:     make(map[string]fileState),
	}
}

// Workflow 按 id 返回工作流
func (c *Catalog) Workflow(_ context.Context, id string) (*workflow.Workflow, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	wf, ok := c.workflows[id]
	if !ok {
		return nil, types.Errorf(types.ErrCodeNotFound, "workflow %q not found", id)
	}
	return wf, nil
}

// IDs 返回已加载工作流的有序 id
func (c *Catalog) IDs() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ids := make([]string, 0, len(c.workflows))
	for id := range c.workflows {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Load 重新解析目录下全部定义文件并整体替换。
// 单个文件出错不影响其它文件，错误汇总后返回。
func (c *Catalog) Load() (ReloadEvent, error) {
	states, err := c.scan()
	if err != nil {
		return ReloadEvent{Err: err, Timestamp: time.Now()}, err
	}

	paths := make([]string, 0, len(states))
	for p := range states {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	var errs []error
	loaded := make(map[string]*workflow.Workflow, len(paths))
	origin := make(map[string]string, len(paths))
	for _, path := range paths {
		wf, err := c.parser.ParseFile(path)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", filepath.Base(path), err))
			continue
		}
		if first, dup := origin[wf.ID]; dup {
			errs = append(errs, fmt.Errorf("%s: workflow id %q already defined in %s", filepath.Base(path), wf.ID, filepath.Base(first)))
			continue
		}
		origin[wf.ID] = path
		loaded[wf.ID] = wf
	}

	c.mu.Lock()
	var removed []string
	for id := range c.workflows {
		if _, ok := loaded[id]; !ok {
			removed = append(removed, id)
		}
	}
	c.workflows = loaded
	c.files = states
	c.mu.Unlock()

	sort.Strings(removed)
	ev := ReloadEvent{Loaded: c.IDs(), Removed: removed, Err: errors.Join(errs...), Timestamp: time.Now()}

	c.logger.Info("workflow catalog loaded",
		zap.Int("workflows", len(ev.Loaded)),
		zap.Strings("removed", removed),
		zap.Int("errors", len(errs)))
	if ev.Err != nil {
		c.logger.Warn("workflow catalog has invalid definitions", zap.Error(ev.Err))
	}
	return ev, ev.Err
}

// Watch 每 interval 检查一次目录，发现新增、修改或删除的文件时重载，
// 并把结果交给 onReload（可为 nil）。阻塞直到 ctx 结束。
func (c *Catalog) Watch(ctx context.Context, interval time.Duration, onReload func(ReloadEvent)) {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		changed, err := c.changed()
		if err != nil {
			c.logger.Warn("workflow catalog scan failed", zap.Error(err))
			continue
		}
		if !changed {
			continue
		}
		ev, _ := c.Load()
		if onReload != nil {
			onReload(ev)
		}
	}
}

func (c *Catalog) changed() (bool, error) {
	states, err := c.scan()
	if err != nil {
		return false, err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	if len(states) != len(c.files) {
		return true, nil
	}
	for path, st := range states {
		prev, ok := c.files[path]
		if !ok || !prev.modTime.Equal(st.modTime) || prev.size != st.size {
			return true, nil
		}
	}
	return false, nil
}

func (c *Catalog) scan() (map[string]fileState, error) {
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		return nil, fmt.Errorf("read workflow dir: %w", err)
	}
	states := make(map[string]fileState, len(entries))
	for _, e := range entries {
		if e.IsDir() || !extensions[strings.ToLower(filepath.Ext(e.Name()))] {
			continue
		}
		info, err := e.Info()
		if err != nil {
			// 扫描期间被删除
			continue
		}
		states[filepath.Join(c.dir, e.Name())] = fileState{modTime: info.ModTime(), size: info.Size()}
	}
	return states, nil
}
