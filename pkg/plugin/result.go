package plugin

import (
	"errors"
	"fmt"
	"sync"
)

var (
	// ErrReadOnlyResult is returned when metadata is written outside a bound hook call.
	ErrReadOnlyResult = errors.New("capture result metadata is read-only here")
	// ErrFrozenResult is returned when writing to a result handed to the success or cancel path.
	ErrFrozenResult = errors.New("capture result is frozen")
)

// CaptureResult is the artifact of one capture attempt. It is shared by
// reference between hooks; metadata is partitioned by plugin id and a hook may
// only write under the id of the plugin the manager is currently invoking.
type CaptureResult struct {
	Data       map[string]any
	Confidence float64

	mu       sync.RWMutex
	metadata map[string]map[string]any
	writer   string
	frozen   bool
}

// NewCaptureResult creates a result seeded by a capture provider.
func NewCaptureResult(data map[string]any, confidence float64) *CaptureResult {
	if data == nil {
		data = map[string]any{}
	}
	return &CaptureResult{Data: data, Confidence: confidence, metadata: map[string]map[string]any{}}
}

// String returns Data[key] when it holds a string.
func (r *CaptureResult) String(key string) string {
	if r == nil {
		return ""
	}
	s, _ := r.Data[key].(string)
	return s
}

// Set writes key under the namespace of the plugin whose hook is running.
func (r *CaptureResult) Set(key string, value any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.frozen {
		return ErrFrozenResult
	}
	if r.writer == "" {
		return ErrReadOnlyResult
	}
	ns := r.metadata[r.writer]
	if ns == nil {
		ns = map[string]any{}
		r.metadata[r.writer] = ns
	}
	ns[key] = value
	return nil
}

// Delete removes key from the running plugin's namespace.
func (r *CaptureResult) Delete(key string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.frozen {
		return ErrFrozenResult
	}
	if r.writer == "" {
		return ErrReadOnlyResult
	}
	delete(r.metadata[r.writer], key)
	return nil
}

// Get reads one metadata value.
func (r *CaptureResult) Get(namespace, key string) (any, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.metadata[namespace][key]
	return v, ok
}

// Namespace returns a copy of one plugin's metadata.
func (r *CaptureResult) Namespace(namespace string) map[string]any {
	r.mu.RLock()
	defer r.mu.RUnlock()
	src := r.metadata[namespace]
	if src == nil {
		return nil
	}
	out := make(map[string]any, len(src))
	for k, v := range src {
		out[k] = v
	}
	return out
}

// Metadata returns a copy of the whole metadata bag.
func (r *CaptureResult) Metadata() map[string]map[string]any {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]map[string]any, len(r.metadata))
	for ns, values := range r.metadata {
		cp := make(map[string]any, len(values))
		for k, v := range values {
			cp[k] = v
		}
		out[ns] = cp
	}
	return out
}

// Clone returns a copy carrying the same data and metadata, for transform
// hooks that replace the result instead of mutating it.
func (r *CaptureResult) Clone() *CaptureResult {
	data := make(map[string]any, len(r.Data))
	for k, v := range r.Data {
		data[k] = v
	}
	out := NewCaptureResult(data, r.Confidence)
	out.metadata = r.Metadata()
	return out
}

// Freeze makes the metadata immutable.
func (r *CaptureResult) Freeze() {
	r.mu.Lock()
	r.frozen = true
	r.writer = ""
	r.mu.Unlock()
}

// Frozen reports whether Freeze was called.
func (r *CaptureResult) Frozen() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.frozen
}

func (r *CaptureResult) bind(namespace string) func() {
	if r == nil {
		return func() {}
	}
	r.mu.Lock()
	prev := r.writer
	if r.metadata == nil {
		r.metadata = map[string]map[string]any{}
	}
	if !r.frozen {
		r.writer = namespace
	}
	r.mu.Unlock()
	return func() {
		r.mu.Lock()
		if !r.frozen {
			r.writer = prev
		}
		r.mu.Unlock()
	}
}

func (r *CaptureResult) GoString() string {
	return fmt.Sprintf("CaptureResult{Data:%v Confidence:%.2f Metadata:%v}", r.Data, r.Confidence, r.Metadata())
}

// Context is the ambient information of one capture session.
type Context struct {
	CaptureType string
	SessionID   string
	Attempt     int
	Values      map[string]any
}

// Value returns a host supplied value.
func (c *Context) Value(key string) any {
	if c == nil || c.Values == nil {
		return nil
	}
	return c.Values[key]
}
