package preflight

import (
	"context"
	"fmt"
	"net"
	"net/url"

	"github.com/Aman-CERP/indexhost/internal/config"
)

// CheckListenAddress checks the replication server can bind addr.
func (c *Checker) CheckListenAddress(addr string) CheckResult {
	result := CheckResult{
		Name:     "replication_listen",
		Required: true,
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		result.Status = StatusFail
		result.Message = fmt.Sprintf("cannot listen on %s: %v", addr, err)
		result.Details = "Another indexhost may already be serving replication on this address"
		return result
	}
	_ = ln.Close()

	result.Status = StatusPass
	result.Message = addr + " is free"
	return result
}

// CheckPrimary dials the primary of a replication client. An unreachable
// primary is a warning: the poller retries until it comes up.
func (c *Checker) CheckPrimary(ctx context.Context, cl config.ReplicationClientConfig) CheckResult {
	result := CheckResult{
		Name:     "replication_primary:" + cl.Index,
		Required: false,
	}

	u, err := url.Parse(cl.ServerURL)
	if err != nil || u.Host == "" {
		result.Status = StatusFail
		result.Required = true
		result.Message = fmt.Sprintf("invalid server_url %q", cl.ServerURL)
		return result
	}

	host := u.Host
	if u.Port() == "" {
		port := "80"
		if u.Scheme == "https" {
			port = "443"
		}
		host = net.JoinHostPort(u.Hostname(), port)
	}

	ctx, cancel := context.WithTimeout(ctx, c.dialTimeout)
	defer cancel()
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", host)
	if err != nil {
		result.Status = StatusWarn
		result.Message = fmt.Sprintf("%s unreachable", host)
		result.Details = err.Error()
		return result
	}
	_ = conn.Close()

	result.Status = StatusPass
	result.Message = host + " reachable"
	return result
}
