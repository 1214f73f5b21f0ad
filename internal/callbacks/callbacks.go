package callbacks

import (
	"sync"

	"github.com/google/uuid"
)

type Callbacks interface {
	OnJoin(id uuid.UUID, name string, reconnect bool)
	OnDisconnect(id uuid.UUID)
	OnSpeedrunStart(id uuid.UUID)
	OnSpeedrunEnd(id uuid.UUID)
}

type DefaultCallbacks struct{}

func (d *DefaultCallbacks) OnJoin(id uuid.UUID, name string, reconnect bool) {}
func (d *DefaultCallbacks) OnDisconnect(id uuid.UUID)                        {}
func (d *DefaultCallbacks) OnSpeedrunStart(id uuid.UUID)                     {}
func (d *DefaultCallbacks) OnSpeedrunEnd(id uuid.UUID)                       {}

type CallbackChain struct {
	callbacks []Callbacks
	mu        sync.RWMutex
}

func NewCallbackChain() *CallbackChain {
	return &CallbackChain{
		callbacks: make([]Callbacks, 0),
	}
}

func (c *CallbackChain) Register(cb Callbacks) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.callbacks = append(c.callbacks, cb)
}

func (c *CallbackChain) snapshot() []Callbacks {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.callbacks
}

func (c *CallbackChain) OnJoin(id uuid.UUID, name string, reconnect bool) {
	for _, cb := range c.snapshot() {
		cb.OnJoin(id, name, reconnect)
	}
}

func (c *CallbackChain) OnDisconnect(id uuid.UUID) {
	for _, cb := range c.snapshot() {
		cb.OnDisconnect(id)
	}
}

func (c *CallbackChain) OnSpeedrunStart(id uuid.UUID) {
	for _, cb := range c.snapshot() {
		cb.OnSpeedrunStart(id)
	}
}

func (c *CallbackChain) OnSpeedrunEnd(id uuid.UUID) {
	for _, cb := range c.snapshot() {
		cb.OnSpeedrunEnd(id)
	}
}
