package health

import (
	"sync"

	"github.com/pkg/errors"
)

// Checker reports whether a component is healthy.
type Checker interface {
	Check() error
}

// CheckerFunc adapts a function to the Checker interface.
type CheckerFunc func() error

func (f CheckerFunc) Check() error {
	return f()
}

// ReadyChecker fails until MarkReady is called, e.g. until state recovery has finished.
type ReadyChecker struct {
	mutex sync.Mutex
	ready bool
	name  string
}

func NewReadyChecker(name string) *ReadyChecker {
	return &ReadyChecker{name: name}
}

func (c *ReadyChecker) MarkReady() {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.ready = true
}

func (c *ReadyChecker) Check() error {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if !c.ready {
		return errors.Errorf("%s is not ready", c.name)
	}
	return nil
}
