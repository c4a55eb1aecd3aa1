// Package task defines the typed callables a worker can run.
//
// A callable is a Go function registered under a stable name. The name is the
// only thing that crosses a process boundary; the child resolves it against the
// same registry compiled into the binary. Nothing is ever evaluated from text.
package task

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Func is the raw callable signature. Args are the bound parameters, already
// JSON-encoded at submission time. The returned value must be JSON-encodable.
type Func func(ctx context.Context, args Args) (any, error)

// Callable is a registered Func.
type Callable struct {
	name string
	fn   Func
}

func (c *Callable) Name() string {
	if c == nil {
		return ""
	}
	return c.name
}

// Call invokes the callable. It does not recover panics; workers do.
func (c *Callable) Call(ctx context.Context, args Args) (any, error) {
	if c == nil || c.fn == nil {
		return nil, errors.New("task: nil callable")
	}
	return c.fn(ctx, args)
}

var (
	ErrDuplicate = errors.New("task: callable already defined")
	ErrUnknown   = errors.New("task: unknown callable")
)

// Registry maps callable names to functions.
type Registry struct {
	mu sync.RWMutex
	m  map[string]*Callable
}

func NewRegistry() *Registry {
	return &Registry{m: make(map[string]*Callable)}
}

// Default is the registry worker processes resolve against unless told otherwise.
// Define callables at package level so parent and child see the same set.
var Default = NewRegistry()

// Define registers fn under name in the Default registry. It panics on a
// duplicate or empty name, like http.HandleFunc.
func Define(name string, fn Func) *Callable { return Default.MustDefine(name, fn) }

func (r *Registry) MustDefine(name string, fn Func) *Callable {
	c, err := r.Define(name, fn)
	if err != nil {
		panic(err)
	}
	return c
}

func (r *Registry) Define(name string, fn Func) (*Callable, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, errors.New("task: callable name is required")
	}
	if fn == nil {
		return nil, fmt.Errorf("task: callable %q has nil func", name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.m[name]; ok {
		return nil, fmt.Errorf("%w: %s", ErrDuplicate, name)
	}
	c := &Callable{name: name, fn: fn}
	r.m[name] = c
	return c, nil
}

func (r *Registry) Lookup(name string) (*Callable, error) {
	r.mu.RLock()
	c := r.m[name]
	r.mu.RUnlock()
	if c == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknown, name)
	}
	return c, nil
}

// Owns reports whether c is the callable registered under its name here.
func (r *Registry) Owns(c *Callable) bool {
	if c == nil {
		return false
	}
	got, err := r.Lookup(c.name)
	return err == nil && got == c
}

func (r *Registry) Names() []string {
	r.mu.RLock()
	out := make([]string, 0, len(r.m))
	for k := range r.m {
		out = append(out, k)
	}
	r.mu.RUnlock()
	sort.Strings(out)
	return out
}

// Args is an ordered list of JSON-encoded parameters.
type Args []json.RawMessage

// EncodeArgs encodes params in order. It fails if any param is not JSON-encodable.
func EncodeArgs(params ...any) (Args, error) {
	out := make(Args, 0, len(params))
	for i, p := range params {
		b, err := json.Marshal(p)
		if err != nil {
			return nil, fmt.Errorf("task: param %d: %w", i, err)
		}
		out = append(out, b)
	}
	return out, nil
}

func (a Args) Len() int { return len(a) }

// Decode unmarshals the i-th param into v.
func (a Args) Decode(i int, v any) error {
	if i < 0 || i >= len(a) {
		return fmt.Errorf("task: param %d out of range (have %d)", i, len(a))
	}
	if err := json.Unmarshal(a[i], v); err != nil {
		return fmt.Errorf("task: param %d: %w", i, err)
	}
	return nil
}

func (a Args) Int(i int) (int, error) {
	var n int
	err := a.Decode(i, &n)
	return n, err
}

func (a Args) String(i int) (string, error) {
	var s string
	err := a.Decode(i, &s)
	return s, err
}

// Value is a JSON-encoded task result.
type Value []byte

// EncodeValue encodes a callable's return value for the result store.
func EncodeValue(v any) (Value, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("task: encode result: %w", err)
	}
	return b, nil
}

func (v Value) Decode(out any) error { return json.Unmarshal(v, out) }

func (v Value) Int() (int, error) {
	var n int
	err := v.Decode(&n)
	return n, err
}

func (v Value) String() string { return string(v) }

// MarshalJSON lets a Results map be printed as-is.
func (v Value) MarshalJSON() ([]byte, error) {
	if len(v) == 0 {
		return []byte("null"), nil
	}
	return v, nil
}
