package osc

import (
	"net"
	"sync"
)

type HandlerFunc func(m *Message, src *net.UDPAddr)

type route struct {
	address string
	prefix  bool
	handler HandlerFunc
}

// Router hands inbound messages to the handlers registered for them
type Router struct {
	mu     sync.RWMutex
	routes []route
}

func NewRouter() *Router {
	return &Router{}
}

// Handle registers h for an exact address. Wildcards in the inbound message
// address are matched against it.
func (r *Router) Handle(address string, h HandlerFunc) {
	r.add(route{address: address, handler: h})
}

// HandlePrefix registers h for every message whose address begins with parts
// matching pattern. Wildcards here are in the registered pattern.
func (r *Router) HandlePrefix(pattern string, h HandlerFunc) {
	r.add(route{address: pattern, prefix: true, handler: h})
}

func (r *Router) add(rt route) {
	r.mu.Lock()
	r.routes = append(r.routes, rt)
	r.mu.Unlock()
}

// Dispatch calls every matching handler in registration order and returns
// how many ran.
func (r *Router) Dispatch(m *Message, src *net.UDPAddr) int {
	r.mu.RLock()
	routes := r.routes
	r.mu.RUnlock()

	n := 0
	for _, rt := range routes {
		var ok bool
		if rt.prefix {
			ok = m.MatchesAddressPattern(rt.address)
		} else {
			ok = m.MatchesAddress(rt.address)
		}
		if ok {
			rt.handler(m, src)
			n++
		}
	}
	if n == 0 {
		log.Debugf("no handler for %s", m)
	}
	return n
}
