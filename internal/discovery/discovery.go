// Package discovery announces a border-router node's bridge service on
// the local IP network via mDNS/DNS-SD, so operator tooling can find a
// gateway into the mesh without typing in addresses by hand.
package discovery

import (
	"context"
	"os"
	"strings"

	"github.com/brutella/dnssd"
	"github.com/charmbracelet/log"
)

// ServiceType is the DNS-SD service type advertised by a border-router
// bridging compressed mesh traffic onto a TCP/IPv6 listener.
const ServiceType = "_meshbridge._tcp"

// DefaultName returns "<hostname> mesh bridge", falling back to a
// generic name if the hostname cannot be read.
func DefaultName() string {
	hostname, err := os.Hostname()
	if err != nil {
		return "mesh bridge"
	}
	hostname, _, _ = strings.Cut(hostname, ".")
	return hostname + " mesh bridge"
}

// Responder wraps a running dnssd.Responder so callers can stop it.
type Responder struct {
	cancel context.CancelFunc
	log    *log.Logger
}

// Announce publishes name on port over DNS-SD and starts responding to
// queries in the background until Stop is called.
func Announce(name string, port int, log_ *log.Logger) (*Responder, error) {
	if name == "" {
		name = DefaultName()
	}

	cfg := dnssd.Config{Name: name, Type: ServiceType, Port: port}
	svc, err := dnssd.NewService(cfg)
	if err != nil {
		return nil, err
	}
	resp, err := dnssd.NewResponder()
	if err != nil {
		return nil, err
	}
	if _, err := resp.Add(svc); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	r := &Responder{cancel: cancel, log: log_}
	go func() {
		if err := resp.Respond(ctx); err != nil && ctx.Err() == nil {
			r.log.Error("dns-sd responder stopped", "err", err)
		}
	}()
	r.log.Info("announcing mesh bridge", "name", name, "type", ServiceType, "port", port)
	return r, nil
}

// Stop cancels the background responder.
func (r *Responder) Stop() {
	r.cancel()
}
