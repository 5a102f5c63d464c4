// Package prompt 管理两轮共识使用的提示词模板与决策 JSON schema，支持热加载。
package prompt

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"text/template"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"quorum/internal/decision"
	"quorum/internal/logger"
)

// TemplateSpec 是单轮的 system/user 模板。
type TemplateSpec struct {
	System string `yaml:"system"`
	User   string `yaml:"user"`
}

// FileConfig 映射 prompts 文件。
type FileConfig struct {
	Templates      map[string]TemplateSpec `yaml:"templates"`
	DecisionSchema map[string]any          `yaml:"decision_schema"`
}

// Peer 是第二轮提示里展示的一条第一轮结果。
type Peer struct {
	Name     string
	Self     bool
	Decision decision.AiDecision
}

// Data 是模板渲染上下文。
type Data struct {
	Snapshot decision.MarketSnapshot
	Peers    []Peer
}

type compiled struct {
	system *template.Template
	user   *template.Template
}

type state struct {
	version  int64
	loadedAt time.Time
	rounds   map[string]compiled
	schema   *jsonschema.Schema
}

// Registry 持有当前生效的模板；文件变更时整体替换，解析失败保留旧版本。
type Registry struct {
	path string
	v    *viper.Viper

	mu  sync.RWMutex
	cur state
}

// NewRegistry path 为空或文件不存在时使用内置模板，且不监听。
func NewRegistry(path string) (*Registry, error) {
	r := &Registry{path: strings.TrimSpace(path)}
	if r.path == "" {
		return r, r.load(FileConfig{})
	}
	if _, err := os.Stat(r.path); errors.Is(err, fs.ErrNotExist) {
		logger.Warnf("prompts file %s not found, using built-in templates", r.path)
		r.path = ""
		return r, r.load(FileConfig{})
	}
	if err := r.reload(); err != nil {
		return nil, err
	}
	v := viper.New()
	v.SetConfigFile(r.path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read prompts file failed: %w", err)
	}
	v.OnConfigChange(func(evt fsnotify.Event) {
		if err := r.reload(); err != nil {
			logger.Errorf("prompts reload failed (%s): %v", evt.Name, err)
		}
	})
	v.WatchConfig()
	r.v = v
	return r, nil
}

// Version 每次成功加载加一。
func (r *Registry) Version() int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.cur.version
}

// Render 渲染指定轮次的 system 与 user 提示。
func (r *Registry) Render(round string, data Data) (string, string, error) {
	r.mu.RLock()
	tpl, ok := r.cur.rounds[round]
	r.mu.RUnlock()
	if !ok {
		return "", "", fmt.Errorf("unknown prompt round: %s", round)
	}
	var sys, user bytes.Buffer
	if err := tpl.system.Execute(&sys, data); err != nil {
		return "", "", fmt.Errorf("render %s system: %w", round, err)
	}
	if err := tpl.user.Execute(&user, data); err != nil {
		return "", "", fmt.Errorf("render %s user: %w", round, err)
	}
	return strings.TrimSpace(sys.String()), strings.TrimSpace(user.String()), nil
}

// ValidateDecision 用 decision_schema 校验模型输出的 JSON 对象。
func (r *Registry) ValidateDecision(obj string) error {
	var doc any
	if err := json.Unmarshal([]byte(obj), &doc); err != nil {
		return fmt.Errorf("decision json invalid: %w", err)
	}
	r.mu.RLock()
	schema := r.cur.schema
	r.mu.RUnlock()
	if schema == nil {
		return nil
	}
	return schema.Validate(sanitizeNumbers(doc))
}

func (r *Registry) reload() error {
	cfg, err := readPromptFile(r.path)
	if err != nil {
		return err
	}
	if err := r.load(cfg); err != nil {
		return err
	}
	logger.Infof("prompt registry v%d loaded from %s", r.Version(), filepath.Base(r.path))
	return nil
}

func (r *Registry) load(cfg FileConfig) error {
	rounds := make(map[string]compiled, 2)
	defaults := map[string]TemplateSpec{
		RoundIndependent:     {System: defaultSystem, User: defaultRound1User},
		RoundReconsideration: {System: defaultSystem, User: defaultRound2User},
	}
	for round, def := range defaults {
		spec := cfg.Templates[round]
		if strings.TrimSpace(spec.System) == "" {
			spec.System = def.System
		}
		if strings.TrimSpace(spec.User) == "" {
			spec.User = def.User
		}
		c, err := compileSpec(round, spec)
		if err != nil {
			return err
		}
		rounds[round] = c
	}
	for round := range cfg.Templates {
		if _, ok := defaults[round]; !ok {
			return fmt.Errorf("unknown prompt round in file: %s", round)
		}
	}
	schemaJSON := defaultDecisionSchema
	if len(cfg.DecisionSchema) > 0 {
		raw, err := json.Marshal(cfg.DecisionSchema)
		if err != nil {
			return fmt.Errorf("encode decision_schema: %w", err)
		}
		schemaJSON = string(raw)
	}
	schema, err := compileSchema(schemaJSON)
	if err != nil {
		return fmt.Errorf("compile decision_schema: %w", err)
	}
	r.mu.Lock()
	r.cur = state{
		version:  r.cur.version + 1,
		loadedAt: time.Now(),
		rounds:   rounds,
		schema:   schema,
	}
	r.mu.Unlock()
	return nil
}

var funcs = template.FuncMap{
	"num": func(v float64) string { return strconv.FormatFloat(v, 'f', -1, 64) },
	"pct": func(v float64) string { return strconv.FormatFloat(v*100, 'f', 2, 64) + "%" },
}

func compileSpec(round string, spec TemplateSpec) (compiled, error) {
	sys, err := template.New(round + ".system").Funcs(funcs).Option("missingkey=error").Parse(spec.System)
	if err != nil {
		return compiled{}, fmt.Errorf("parse %s system template: %w", round, err)
	}
	user, err := template.New(round + ".user").Funcs(funcs).Option("missingkey=error").Parse(spec.User)
	if err != nil {
		return compiled{}, fmt.Errorf("parse %s user template: %w", round, err)
	}
	return compiled{system: sys, user: user}, nil
}

func compileSchema(raw string) (*jsonschema.Schema, error) {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("decision.json", strings.NewReader(raw)); err != nil {
		return nil, err
	}
	return compiler.Compile("decision.json")
}

func readPromptFile(path string) (FileConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return FileConfig{}, fmt.Errorf("read prompts file failed: %w", err)
	}
	var cfg FileConfig
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return FileConfig{}, fmt.Errorf("parse prompts file failed: %w", err)
	}
	return cfg, nil
}

// sanitizeNumbers 把字符串形式的数字转为 float64，兼容模型返回 "72" 的情况。
func sanitizeNumbers(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, child := range val {
			out[k] = sanitizeNumbers(child)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, child := range val {
			out[i] = sanitizeNumbers(child)
		}
		return out
	case string:
		s := strings.TrimSuffix(strings.TrimSpace(val), "%")
		if s == "" {
			return val
		}
		if num, err := strconv.ParseFloat(s, 64); err == nil {
			return num
		}
		return val
	default:
		return val
	}
}
