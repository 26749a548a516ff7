package policy

import (
	"container/list"
	"context"
	"crypto/md5"
	"embed"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/open-policy-agent/opa/rego"
	"go.uber.org/zap"

	"github.com/farmwise/farmwise/go/orchestrator/internal/config"
	"github.com/farmwise/farmwise/go/orchestrator/internal/metrics"
)

const decisionQuery = "data.farmwise.messaging.decision"

//go:embed policies/*.rego
var builtin embed.FS

// Mode defines the policy engine operating mode
type Mode string

const (
	ModeOff     Mode = "off"
	ModeDryRun  Mode = "dry-run"
	ModeEnforce Mode = "enforce"
)

// Kind of outbound message being checked.
const (
	KindTemplate = "template"
	KindReply    = "reply"
)

// MessageInput is the policy input for one outbound message.
type MessageInput struct {
	ContactID   int64     `json:"contact_id"`
	PhoneNumber string    `json:"phone_number"`
	OptedOut    bool      `json:"opted_out"`
	Kind        string    `json:"kind"`
	Template    string    `json:"template,omitempty"`
	Environment string    `json:"environment"`
	Timestamp   time.Time `json:"timestamp"`
}

// Decision represents the policy evaluation result
type Decision struct {
	Allow  bool   `json:"allow"`
	Reason string `json:"reason,omitempty"`
	// WouldDeny is set in dry-run mode when enforcement would have blocked.
	WouldDeny     bool   `json:"would_deny,omitempty"`
	PolicyVersion string `json:"policy_version,omitempty"`
}

// Engine evaluates the messaging policy with OPA. Policies come from the
// configured directory or, when none is set, the embedded default.
type Engine struct {
	mode        Mode
	path        string
	failClosed  bool
	environment string
	logger      *zap.Logger

	mu       sync.RWMutex
	compiled *rego.PreparedEvalQuery
	version  string
	cache    *decisionCache
}

func NewEngine(cfg config.PolicyConfig, environment string, logger *zap.Logger) (*Engine, error) {
	mode := Mode(cfg.Mode)
	if !cfg.Enabled || mode == "" {
		mode = ModeOff
	}
	e := &Engine{
		mode:        mode,
		path:        cfg.Path,
		failClosed:  cfg.FailClosed,
		environment: environment,
		logger:      logger,
		cache:       newDecisionCache(1000, 5*time.Minute),
	}
	if mode == ModeOff {
		return e, nil
	}
	if err := e.LoadPolicies(); err != nil {
		if e.failClosed {
			return nil, fmt.Errorf("failed to load policies in fail-closed mode: %w", err)
		}
		logger.Warn("Failed to load policies, running in fail-open mode", zap.Error(err))
	}
	return e, nil
}

// LoadPolicies (re)compiles the policy modules. The previous compiled query
// stays in place if compilation fails. Safe to call from the config watcher.
func (e *Engine) LoadPolicies() error {
	modules, err := e.readModules()
	if err != nil {
		return err
	}
	if len(modules) == 0 {
		return fmt.Errorf("no .rego files found in %s", e.path)
	}

	opts := []func(*rego.Rego){rego.Query(decisionQuery)}
	names := make([]string, 0, len(modules))
	for name := range modules {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		opts = append(opts, rego.Module(name, modules[name]))
	}

	compiled, err := rego.New(opts...).PrepareForEval(context.Background())
	if err != nil {
		return fmt.Errorf("failed to compile policies: %w", err)
	}

	version := policyVersion(names, modules)
	e.mu.Lock()
	e.compiled = &compiled
	e.version = version
	e.mu.Unlock()
	e.cache.Clear()

	e.logger.Info("Policies loaded and compiled successfully",
		zap.Int("policy_count", len(modules)),
		zap.String("decision_query", decisionQuery),
		zap.String("version", version),
	)
	return nil
}

func (e *Engine) readModules() (map[string]string, error) {
	modules := make(map[string]string)
	if e.path == "" {
		err := fs.WalkDir(builtin, "policies", func(path string, d fs.DirEntry, err error) error {
			if err != nil || d.IsDir() {
				return err
			}
			b, err := builtin.ReadFile(path)
			if err != nil {
				return err
			}
			modules[strings.TrimSuffix(path, ".rego")] = string(b)
			return nil
		})
		return modules, err
	}

	err := filepath.Walk(e.path, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() || !strings.HasSuffix(info.Name(), ".rego") {
			return nil
		}
		content, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("failed to read policy file %s: %w", path, err)
		}
		rel, _ := filepath.Rel(e.path, path)
		modules[strings.TrimSuffix(rel, ".rego")] = string(content)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk policy directory: %w", err)
	}
	return modules, nil
}

// Evaluate decides whether the message may be sent.
func (e *Engine) Evaluate(ctx context.Context, in MessageInput) (*Decision, error) {
	if in.Environment == "" {
		in.Environment = e.environment
	}

	e.mu.RLock()
	compiled, version := e.compiled, e.version
	e.mu.RUnlock()

	if e.mode == ModeOff || compiled == nil {
		d := &Decision{Allow: e.mode == ModeOff || !e.failClosed, Reason: "policy engine disabled or no policies loaded"}
		e.record(d)
		return d, nil
	}

	if d, ok := e.cache.Get(in); ok {
		e.record(d)
		return d, nil
	}

	raw, err := toMap(in)
	if err != nil {
		return e.onError("input conversion failed", err)
	}
	results, err := compiled.Eval(ctx, rego.EvalInput(raw))
	if err != nil {
		return e.onError("policy evaluation error", err)
	}

	d := parseResults(results)
	d.PolicyVersion = version
	if e.mode == ModeDryRun && !d.Allow {
		e.logger.Info("Dry-run policy evaluation",
			zap.Bool("would_allow", false),
			zap.String("reason", d.Reason),
			zap.Int64("contact_id", in.ContactID),
			zap.String("template", in.Template),
		)
		d.Allow = true
		d.WouldDeny = true
		d.Reason = "DRY-RUN: would have been denied - " + d.Reason
	}

	e.cache.Set(in, d)
	e.record(d)
	return d, nil
}

func (e *Engine) onError(reason string, err error) (*Decision, error) {
	e.logger.Error("Policy evaluation failed", zap.String("reason", reason), zap.Error(err))
	if e.failClosed {
		d := &Decision{Allow: false, Reason: reason}
		e.record(d)
		return d, err
	}
	d := &Decision{Allow: true, Reason: reason + " (fail-open)"}
	e.record(d)
	return d, nil
}

func (e *Engine) record(d *Decision) {
	label := "allow"
	switch {
	case !d.Allow:
		label = "deny"
	case d.WouldDeny:
		label = "would_deny"
	}
	metrics.PolicyDecisions.WithLabelValues(label, string(e.mode)).Inc()
}

func (e *Engine) Mode() Mode { return e.mode }

func toMap(in MessageInput) (map[string]interface{}, error) {
	b, err := json.Marshal(in)
	if err != nil {
		return nil, err
	}
	var out map[string]interface{}
	return out, json.Unmarshal(b, &out)
}

func parseResults(results rego.ResultSet) *Decision {
	d := &Decision{Allow: false, Reason: "no matching policy rules"}
	if len(results) == 0 || len(results[0].Expressions) == 0 {
		return d
	}
	switch v := results[0].Expressions[0].Value.(type) {
	case map[string]interface{}:
		if allow, ok := v["allow"].(bool); ok {
			d.Allow = allow
		}
		if reason, ok := v["reason"].(string); ok {
			d.Reason = reason
		}
	case bool:
		d.Allow = v
		d.Reason = "denied by policy"
		if v {
			d.Reason = "allowed by policy"
		}
	}
	return d
}

func policyVersion(names []string, modules map[string]string) string {
	h := md5.New()
	for _, name := range names {
		h.Write([]byte(name))
		h.Write([]byte(modules[name]))
	}
	return fmt.Sprintf("%x", h.Sum(nil)[:4])
}

// decisionCache is a small LRU with TTL keyed on the fields the policy reads.
type decisionCache struct {
	cap  int
	ttl  time.Duration
	mu   sync.Mutex
	list *list.List
	m    map[string]*list.Element
}

type cacheEntry struct {
	key       string
	expiresAt time.Time
	decision  *Decision
}

func newDecisionCache(cap int, ttl time.Duration) *decisionCache {
	return &decisionCache{cap: cap, ttl: ttl, list: list.New(), m: make(map[string]*list.Element)}
}

func (c *decisionCache) key(in MessageInput) string {
	return fmt.Sprintf("%s|%s|%t|%s|%s", in.Environment, in.PhoneNumber, in.OptedOut, in.Kind, in.Template)
}

func (c *decisionCache) Get(in MessageInput) (*Decision, bool) {
	key := c.key(in)
	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.m[key]
	if !ok {
		return nil, false
	}
	ce := el.Value.(cacheEntry)
	if time.Now().After(ce.expiresAt) {
		c.list.Remove(el)
		delete(c.m, key)
		return nil, false
	}
	c.list.MoveToFront(el)
	return ce.decision, true
}

func (c *decisionCache) Set(in MessageInput, d *Decision) {
	key := c.key(in)
	entry := cacheEntry{key: key, expiresAt: time.Now().Add(c.ttl), decision: d}
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.m[key]; ok {
		el.Value = entry
		c.list.MoveToFront(el)
		return
	}
	c.m[key] = c.list.PushFront(entry)
	if c.list.Len() > c.cap {
		lru := c.list.Back()
		delete(c.m, lru.Value.(cacheEntry).key)
		c.list.Remove(lru)
	}
}

func (c *decisionCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.list.Init()
	c.m = make(map[string]*list.Element)
}
