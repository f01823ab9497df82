// Command serverpush demonstrates minting a fresh capability per call: each
// subscribeSystemMetrics invocation exports a dedicated subscription object
// (its own poll/unsubscribe methods) rather than a string handle the caller
// has to thread back through a lookup table, exercising the session's
// per-connection export allocator end to end.
package main

import (
	"log"
	"math/rand"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/capnweb-go/capnweb"
)

// systemMetrics is a synthetic snapshot of load, standing in for a real
// collector: wiring an OS metrics library is out of scope for this demo
// (see DESIGN.md), so values are a bounded random walk instead.
type systemMetrics struct {
	CPUPercent float64 `json:"cpuPercent"`
	DiskUsage  float64 `json:"diskUsage"`
	NetworkIO  float64 `json:"networkIO"`
	Timestamp  int64   `json:"timestamp"`
}

// subscription is the per-client state behind an exported capability: a
// ring of buffered updates plus the last time the client drained it.
type subscription struct {
	mu       sync.Mutex
	id       string
	buffer   []systemMetrics
	lastPull time.Time
}

func (s *subscription) push(m systemMetrics) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.buffer = append(s.buffer, m)
	if len(s.buffer) > 30 {
		s.buffer = s.buffer[len(s.buffer)-30:]
	}
}

func (s *subscription) drain() (latest systemMetrics, count int, hasData bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	count = len(s.buffer)
	if count > 0 {
		latest = s.buffer[count-1]
		hasData = true
	}
	s.buffer = s.buffer[:0]
	s.lastPull = time.Now()
	return latest, count, hasData
}

// MetricsServer is the bootstrap capability: its only job is to mint
// subscription capabilities and track them for the background generator to
// fan updates out to.
type MetricsServer struct {
	*capnweb.BaseRpcTarget
	mu            sync.Mutex
	subscriptions map[string]*subscription
	lastReading   systemMetrics
}

func newMetricsServer() *MetricsServer {
	s := &MetricsServer{
		BaseRpcTarget: capnweb.NewBaseRpcTarget(nil),
		subscriptions: make(map[string]*subscription),
		lastReading:   systemMetrics{CPUPercent: 20, DiskUsage: 45, NetworkIO: 10},
	}
	s.Method("subscribeSystemMetrics", s.subscribeSystemMetrics)
	go s.generate()
	return s
}

func (s *MetricsServer) subscribeSystemMetrics(ctx *capnweb.InvokeContext, _ []any) (any, error) {
	sub := &subscription{id: uuid.NewString()}

	s.mu.Lock()
	s.subscriptions[sub.id] = sub
	s.mu.Unlock()

	target := capnweb.NewBaseRpcTarget(ctx)
	target.Method("poll", func(_ *capnweb.InvokeContext, _ []any) (any, error) {
		latest, count, hasData := sub.drain()
		result := map[string]any{
			"hasData":     hasData,
			"updateCount": count,
			"timestamp":   time.Now().Unix(),
		}
		if hasData {
			result["latestMetrics"] = latest
		}
		return result, nil
	})
	target.Method("unsubscribe", func(_ *capnweb.InvokeContext, _ []any) (any, error) {
		s.mu.Lock()
		delete(s.subscriptions, sub.id)
		s.mu.Unlock()
		return map[string]string{"status": "inactive"}, nil
	})

	log.Printf("client subscribed to system metrics: %s", sub.id)
	return ctx.Export(target), nil
}

// generate fans a synthetic reading out to every live subscription once a
// second, the polling-based push model spec.md's transport section allows:
// the client learns of new data only by calling poll, never by an
// unsolicited server message.
func (s *MetricsServer) generate() {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for range ticker.C {
		s.mu.Lock()
		m := s.nextReadingLocked()
		for _, sub := range s.subscriptions {
			sub.push(m)
		}
		s.mu.Unlock()
	}
}

func (s *MetricsServer) nextReadingLocked() systemMetrics {
	walk := func(v, spread float64) float64 {
		v += (rand.Float64() - 0.5) * spread
		if v < 0 {
			v = 0
		}
		if v > 100 {
			v = 100
		}
		return float64(int(v*100)) / 100
	}
	s.lastReading = systemMetrics{
		CPUPercent: walk(s.lastReading.CPUPercent, 8),
		DiskUsage:  walk(s.lastReading.DiskUsage, 1),
		NetworkIO:  walk(s.lastReading.NetworkIO, 15),
		Timestamp:  time.Now().Unix(),
	}
	return s.lastReading
}

func main() {
	staticPath := "/static"
	if len(os.Args) >= 2 {
		staticPath = os.Args[1]
	}
	port := ":8000"

	e := capnweb.SetupEchoServer()
	capnweb.SetupRpcEndpoint(e, "/api", func() capnweb.ContextualHost { return newMetricsServer() })
	e.Static("/static", staticPath)

	log.Printf("server push demo starting on port %s", port)
	log.Printf("static files served from: %s", staticPath)
	log.Printf("websocket rpc endpoint: ws://localhost%s/api", port)
	log.Println("server push: subscribeSystemMetrics returns a capability with poll/unsubscribe methods")

	if err := e.Start(port); err != nil {
		log.Fatal("failed to start server: ", err)
	}
}
