package spooler

import (
	"bufio"
	"fmt"
	"net"
	"os"
	"strings"
	"time"
)

const defaultAppName = "fiscal-spooler"

// SyslogSender forwards one RFC 5424 line. Runner uses it to publish every
// ingestion outcome when a collector address is configured.
type SyslogSender interface {
	SendRFC5424Timeout(appName string, structuredData string, message string, timeout time.Duration) error
}

type SyslogClient struct {
	addr string
}

func NewSyslogClient(addr string) *SyslogClient {
	return &SyslogClient{addr: addr}
}

func (c *SyslogClient) SendRFC5424(appName string, structuredData string, message string) error {
	return c.SendRFC5424Timeout(appName, structuredData, message, 0)
}

func (c *SyslogClient) SendRFC5424Timeout(appName string, structuredData string, message string, timeout time.Duration) error {
	var (
		conn net.Conn
		err  error
	)
	if timeout > 0 {
		conn, err = net.DialTimeout("tcp", c.addr, timeout)
	} else {
		conn, err = net.Dial("tcp", c.addr)
	}
	if err != nil {
		return err
	}
	defer conn.Close()
	if timeout > 0 {
		_ = conn.SetDeadline(time.Now().Add(timeout))
	}

	w := bufio.NewWriter(conn)
	if _, err := w.WriteString(formatRFC5424(appName, structuredData, message, time.Now())); err != nil {
		return err
	}
	return w.Flush()
}

func formatRFC5424(appName string, structuredData string, message string, now time.Time) string {
	host, _ := os.Hostname()
	if appName == "" {
		appName = defaultAppName
	}
	if structuredData == "" {
		structuredData = "-"
	}
	pri := 134 // local0.info
	ts := now.UTC().Format(time.RFC3339Nano)
	return fmt.Sprintf("<%d>1 %s %s %s - - %s %s\n", pri, ts, sanitizeSyslogToken(host), sanitizeSyslogToken(appName), structuredData, strings.TrimSpace(message))
}

func sanitizeSyslogToken(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return "-"
	}
	s = strings.ReplaceAll(s, " ", "_")
	return s
}
