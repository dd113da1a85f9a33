package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"time"
)

const (
	minPollPeriod = time.Second
	maxPollPeriod = 3600 * time.Second
)

// Validate HTTP server section.
func (h *ServerConfig) Validate() error {
	if err := valid.Struct(h); err != nil {
		return err
	}
	if h.Addr == "" {
		return errors.New("server.addr cannot be empty")
	}
	if _, err := net.ResolveTCPAddr("tcp", h.Addr); err != nil {
		return fmt.Errorf("server.addr format invalid (expected :port or ip:port), got %s: %w", h.Addr, err)
	}
	return nil
}

// Validate monitor section. Group ids must be unique since they identify the
// live group on reload.
func (m *MonitorConfig) Validate() error {
	if err := valid.Struct(m); err != nil {
		return err
	}
	if err := checkPeriod("monitor.memory.interval", m.Memory.Interval); err != nil {
		return err
	}

	seen := map[string]bool{}
	for i := range m.Groups {
		g := &m.Groups[i]
		if seen[g.ID] {
			return fmt.Errorf("monitor.groups contains duplicate id: %q", g.ID)
		}
		seen[g.ID] = true
		if err := g.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// Validate one group. Duplicate target names are allowed here.
func (g *GroupConfig) Validate() error {
	if err := valid.Struct(g); err != nil {
		return err
	}
	if err := checkPeriod(fmt.Sprintf("monitor.groups[%s].update_period", g.ID), g.UpdatePeriod); err != nil {
		return err
	}
	for _, t := range g.Targets {
		if t.PollInterval > 0 {
			if err := checkPeriod(fmt.Sprintf("monitor.groups[%s].targets[%s].poll_interval", g.ID, t.Name), t.PollInterval); err != nil {
				return err
			}
		}
		u, err := url.Parse(t.Location)
		if err != nil {
			return fmt.Errorf("monitor.groups[%s].targets[%s].location: %w", g.ID, t.Name, err)
		}
		if u.Scheme != "http" && u.Scheme != "https" {
			return fmt.Errorf("monitor.groups[%s].targets[%s].location must be http or https, got %q", g.ID, t.Name, u.Scheme)
		}
	}
	return nil
}

// Validate error capture section.
func (e *ErrorsConfig) Validate() error {
	if err := valid.Struct(e); err != nil {
		return err
	}
	seen := map[string]bool{}
	for _, b := range e.Backends {
		if seen[b] {
			return fmt.Errorf("errors.backends duplicated entry: %q", b)
		}
		seen[b] = true
	}
	if seen["store"] {
		if e.Store.URL == "" || e.Store.Bucket == "" {
			return errors.New("errors.store.url and errors.store.bucket are required when the store backend is enabled")
		}
	}
	return nil
}

func checkPeriod(field string, d time.Duration) error {
	if d < minPollPeriod || d > maxPollPeriod {
		return fmt.Errorf("%s must be between 1 and 3600 seconds, got %s", field, d)
	}
	return nil
}
