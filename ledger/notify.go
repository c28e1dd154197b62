package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"sort"
	"strings"
	"time"
)

// Change is published after an upsert inserted an entity or created a new version.
type Change struct {
	EntityID       string         `json:"entity_id"`
	Action         Action         `json:"action"`
	Version        int            `json:"version"`
	Content        string         `json:"content"`
	Tags           []string       `json:"tags"`
	Classification Classification `json:"classification"`
	SourceLabel    string         `json:"source"`
	BatchID        string         `json:"batch_id"`
	ObservedAt     time.Time      `json:"observed_at"`
}

type Notifier interface {
	Notify(ctx context.Context, ch Change) error
}

type NotifyConfig struct {
	// SyslogAddr is a TCP RFC 5424 receiver such as Grafana Alloy. Empty disables notifications.
	SyslogAddr string        `yaml:"syslog_addr"`
	AppName    string        `yaml:"app_name"`
	Job        string        `yaml:"job"`
	Timeout    time.Duration `yaml:"timeout"`
}

const (
	defaultAppName   = "group-ledger"
	defaultSDID      = "ledger"
	syslogPriority   = 134 // local0.info
	defaultSendLimit = 3 * time.Second
)

// SyslogNotifier writes one RFC 5424 line per change over a fresh TCP connection.
type SyslogNotifier struct {
	addr    string
	appName string
	job     string
	timeout time.Duration
	host    string
}

func NewSyslogNotifier(cfg NotifyConfig) (*SyslogNotifier, error) {
	if strings.TrimSpace(cfg.SyslogAddr) == "" {
		return nil, errors.New("notify: syslog_addr is required")
	}
	n := &SyslogNotifier{
		addr:    cfg.SyslogAddr,
		appName: cfg.AppName,
		job:     cfg.Job,
		timeout: cfg.Timeout,
	}
	if n.appName == "" {
		n.appName = defaultAppName
	}
	if n.timeout <= 0 {
		n.timeout = defaultSendLimit
	}
	n.host, _ = os.Hostname()
	return n, nil
}

func (n *SyslogNotifier) Notify(ctx context.Context, ch Change) error {
	payload, err := json.Marshal(ch)
	if err != nil {
		return err
	}
	sd := buildStructuredData(defaultSDID, map[string]string{
		"job":        n.job,
		"entity_id":  ch.EntityID,
		"action":     ch.Action.String(),
		"version":    fmt.Sprint(ch.Version),
		"group_type": string(ch.Classification.GroupType),
		"worldview":  string(ch.Classification.Worldview),
		"source":     ch.SourceLabel,
	})
	line := fmt.Sprintf("<%d>1 %s %s %s - - %s %s\n",
		syslogPriority, time.Now().UTC().Format(time.RFC3339Nano),
		syslogToken(n.host), syslogToken(n.appName), sd, payload)

	ctx, cancel := context.WithTimeout(ctx, n.timeout)
	defer cancel()
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", n.addr)
	if err != nil {
		return fmt.Errorf("notify %s: %w", n.addr, err)
	}
	defer conn.Close()
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetWriteDeadline(deadline)
	}
	if _, err := conn.Write([]byte(line)); err != nil {
		return fmt.Errorf("notify %s: %w", n.addr, err)
	}
	return nil
}

var sdPreferredOrder = []string{"job", "entity_id", "action", "version", "group_type", "worldview", "source"}

// buildStructuredData renders one SD-ELEMENT. Known keys come first in a fixed
// order, the rest sorted. Empty values are dropped.
func buildStructuredData(sdID string, kv map[string]string) string {
	if sdID == "" {
		sdID = defaultSDID
	}
	var b strings.Builder
	b.WriteString("[" + sdID)
	write := func(k string) {
		b.WriteString(" " + k + `="` + escapeSDParam(kv[k]) + `"`)
	}
	seen := make(map[string]struct{}, len(kv))
	for _, k := range sdPreferredOrder {
		if strings.TrimSpace(kv[k]) == "" {
			continue
		}
		seen[k] = struct{}{}
		write(k)
	}
	extra := make([]string, 0, len(kv))
	for k, v := range kv {
		if _, ok := seen[k]; ok || strings.TrimSpace(v) == "" {
			continue
		}
		extra = append(extra, k)
	}
	sort.Strings(extra)
	for _, k := range extra {
		write(k)
	}
	b.WriteString("]")
	return b.String()
}

var sdEscaper = strings.NewReplacer(`\`, `\\`, `"`, `\"`, `]`, `\]`, "\n", " ", "\r", " ")

func escapeSDParam(v string) string { return sdEscaper.Replace(v) }

func syslogToken(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return "-"
	}
	return strings.ReplaceAll(s, " ", "_")
}
