// Package enforce decides the syslog, mount and open operations for every
// process on the host. Untracked and privileged processes are allowed;
// processes whose registry state is inconsistent are denied; everything else
// is checked against the path rules for its container's level.
package enforce

import (
	"log/slog"
	"sync/atomic"

	"github.com/ppiankov/lockwatch/internal/model"
	"github.com/ppiankov/lockwatch/internal/pathrules"
	"github.com/ppiankov/lockwatch/internal/policy"
	"github.com/ppiankov/lockwatch/internal/registry"
)

// Hook names an enforcement point.
type Hook string

const (
	HookSyslog Hook = "syslog"
	HookMount  Hook = "mount"
	HookOpen   Hook = "open"
)

// ParseHook validates a hook name.
func ParseHook(s string) (Hook, bool) {
	switch h := Hook(s); h {
	case HookSyslog, HookMount, HookOpen:
		return h, true
	}
	return "", false
}

// bindType is the only mount type whose source is checked.
const bindType = "bind"

// Reasons attached to decisions. They are constants so that evaluating a
// hook does not allocate.
const (
	ReasonUntracked        = "process is not in a container"
	ReasonPrivileged       = "privileged container"
	ReasonInconsistent     = "process references a missing container"
	ReasonSyslog           = "kernel log access not permitted"
	ReasonMountTypeUnknown = "mount type unavailable"
	ReasonMountNotBind     = "not a bind mount"
	ReasonMountNoSource    = "bind mount source unreadable"
	ReasonMountAllowed     = "bind mount source allowed"
	ReasonMountDenied      = "bind mount source not allowed"
	ReasonOpenNoPath       = "path unavailable"
	ReasonOpenRoot         = "root directory"
	ReasonOpenDenyList     = "path in deny list"
	ReasonOpenAllowList    = "path in allow list"
	ReasonOpenDefault      = "path not in allow list"
	ReasonUnknownHook      = "unknown hook"
)

// Arg is a string argument read from the caller's context. OK is false when
// the value could not be read.
type Arg struct {
	Value string
	OK    bool
}

// Some returns a readable argument.
func Some(v string) Arg { return Arg{Value: v, OK: true} }

// None is an argument that could not be read.
var None = Arg{}

// Request describes one hook evaluation.
type Request struct {
	Hook   Hook
	PID    int32
	Source Arg // mount
	FSType Arg // mount
	Path   Arg // open
}

// subject is the path the decision was made on, if any.
func (r Request) subject() string {
	switch r.Hook {
	case HookMount:
		return r.Source.Value
	case HookOpen:
		return r.Path.Value
	}
	return ""
}

// Result is the outcome of a hook evaluation.
type Result struct {
	Decision  model.Decision
	Reason    string
	Level     model.PolicyLevel
	Container model.ContainerID
	RulesHash string
}

// Allowed reports whether the decision is allow.
func (r Result) Allowed() bool { return r.Decision == model.Allow }

// Event is delivered to the Observer for every decision on a tracked process.
type Event struct {
	Hook      Hook
	PID       int32
	Path      string
	Container model.ContainerID
	Level     model.PolicyLevel
	Decision  model.Decision
	Reason    string
	RulesHash string
}

// Observer receives decision events. Observe is called on the hook's
// goroutine and must not block.
type Observer interface {
	Observe(Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(Event)

func (f ObserverFunc) Observe(e Event) { f(e) }

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine's logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithObserver sets the decision observer.
func WithObserver(o Observer) Option {
	return func(e *Engine) { e.observer = o }
}

// Engine evaluates hooks against a registry and the current path rules.
type Engine struct {
	reg      *registry.Registry
	rules    atomic.Pointer[pathrules.Rules]
	logger   *slog.Logger
	observer Observer
}

// New creates an Engine. A nil rules value installs the built-in defaults.
func New(reg *registry.Registry, rules *pathrules.Rules, opts ...Option) *Engine {
	e := &Engine{
		reg:    reg,
		logger: slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.SetRules(rules)
	return e
}

// SetRules atomically replaces the rule sets. Hooks already running finish
// with the generation they loaded.
func (e *Engine) SetRules(r *pathrules.Rules) {
	if r == nil {
		r = pathrules.NewDefault()
	}
	e.rules.Store(r)
	e.logger.Info("path rules installed", "hash", r.Hash())
}

// Rules returns the current rule generation.
func (e *Engine) Rules() *pathrules.Rules {
	return e.rules.Load()
}

// Syslog decides whether pid may read the kernel log.
func (e *Engine) Syslog(pid int32, prior error) error {
	if prior != nil {
		return prior
	}
	return e.enforce(Request{Hook: HookSyslog, PID: pid})
}

// Mount decides whether pid may mount source with the given filesystem type.
func (e *Engine) Mount(pid int32, source, fstype Arg, prior error) error {
	if prior != nil {
		return prior
	}
	return e.enforce(Request{Hook: HookMount, PID: pid, Source: source, FSType: fstype})
}

// Open decides whether pid may open path.
func (e *Engine) Open(pid int32, path Arg, prior error) error {
	if prior != nil {
		return prior
	}
	return e.enforce(Request{Hook: HookOpen, PID: pid, Path: path})
}

func (e *Engine) enforce(req Request) error {
	res := e.Decide(req)
	if res.Allowed() {
		return nil
	}
	if res.Level == model.Inconsistent {
		e.logger.Error("inconsistent registry, denying",
			"hook", string(req.Hook), "pid", req.PID, "container", res.Container.String())
	}
	return &EnforcementError{
		Hook:     req.Hook,
		PID:      req.PID,
		Level:    res.Level,
		Decision: res.Decision,
		Reason:   res.Reason,
	}
}

// Decide evaluates req like Check and reports the decision to the observer
// when the process is tracked.
func (e *Engine) Decide(req Request) Result {
	res := e.Check(req)

	if res.Level != model.NotFound && e.observer != nil {
		e.observer.Observe(Event{
			Hook:      req.Hook,
			PID:       req.PID,
			Path:      req.subject(),
			Container: res.Container,
			Level:     res.Level,
			Decision:  res.Decision,
			Reason:    res.Reason,
			RulesHash: res.RulesHash,
		})
	}
	return res
}

// Check evaluates req without side effects.
func (e *Engine) Check(req Request) Result {
	rules := e.rules.Load()
	id, level := policy.ResolveContainer(e.reg, req.PID)
	res := Result{Level: level, Container: id, RulesHash: rules.Hash()}

	switch level {
	case model.NotFound:
		return res.allow(ReasonUntracked)
	case model.Privileged:
		return res.allow(ReasonPrivileged)
	case model.Inconsistent:
		return res.deny(ReasonInconsistent)
	}

	switch req.Hook {
	case HookSyslog:
		return res.deny(ReasonSyslog)
	case HookMount:
		return res.mount(rules, req.Source, req.FSType)
	case HookOpen:
		return res.open(rules, req.Path)
	}
	return res.deny(ReasonUnknownHook)
}

func (r Result) allow(reason string) Result {
	r.Decision, r.Reason = model.Allow, reason
	return r
}

func (r Result) deny(reason string) Result {
	r.Decision, r.Reason = model.Deny, reason
	return r
}

func (r Result) mount(rules *pathrules.Rules, source, fstype Arg) Result {
	if !fstype.OK || fstype.Value == "" {
		return r.allow(ReasonMountTypeUnknown)
	}
	if fstype.Value != bindType {
		return r.allow(ReasonMountNotBind)
	}
	if !source.OK {
		return r.deny(ReasonMountNoSource)
	}
	if rules.MountAllow(r.Level).Matches(source.Value) {
		return r.allow(ReasonMountAllowed)
	}
	return r.deny(ReasonMountDenied)
}

func (r Result) open(rules *pathrules.Rules, path Arg) Result {
	if !path.OK {
		return r.allow(ReasonOpenNoPath)
	}
	if path.Value == "/" {
		return r.allow(ReasonOpenRoot)
	}
	if rules.OpenDeny(r.Level).Matches(path.Value) {
		return r.deny(ReasonOpenDenyList)
	}
	if rules.OpenAllow(r.Level).Matches(path.Value) {
		return r.allow(ReasonOpenAllowList)
	}
	return r.deny(ReasonOpenDefault)
}
