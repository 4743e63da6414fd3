package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/SupenBysz/gitea-mcp-tool-sub001/internal/domain"
	"github.com/SupenBysz/gitea-mcp-tool-sub001/internal/repo"
)

const (
	defaultNotifyInterval = 2 * time.Second
	defaultNotifyTimeout  = 5 * time.Second
	defaultNotifyBatch    = 100
)

// NotifyHook is an HTTP endpoint that receives recorded events.
type NotifyHook struct {
	URL            string
	Secret         string
	Events         []string
	TimeoutSeconds int
}

// Notifier polls the event log and POSTs new events to each hook. Every
// hook keeps its own cursor; a failed delivery is retried on the next tick.
type Notifier struct {
	Repo repo.Repo
	// Repository limits delivery to one repository's events when set.
	Repository string
	Hooks      []NotifyHook
	Interval   time.Duration
	Client     *http.Client
	Logger     *log.Logger

	mu      sync.Mutex
	cursors map[int]int64
}

func (n *Notifier) logger() *log.Logger {
	if n.Logger != nil {
		return n.Logger
	}
	return log.Default()
}

func (n *Notifier) client() *http.Client {
	if n.Client != nil {
		return n.Client
	}
	return &http.Client{Timeout: defaultNotifyTimeout}
}

// Run delivers events until ctx is done. Only events recorded after Run
// starts are sent.
func (n *Notifier) Run(ctx context.Context) {
	if len(n.Hooks) == 0 {
		return
	}
	interval := n.Interval
	if interval <= 0 {
		interval = defaultNotifyInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		n.DispatchOnce(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// DispatchOnce delivers one batch of pending events to every hook.
func (n *Notifier) DispatchOnce(ctx context.Context) {
	for i, hook := range n.Hooks {
		if strings.TrimSpace(hook.URL) == "" {
			continue
		}
		n.dispatchHook(ctx, i, hook)
	}
}

func (n *Notifier) dispatchHook(ctx context.Context, idx int, hook NotifyHook) {
	cursor, err := n.cursorFor(ctx, idx)
	if err != nil {
		n.logger().Printf("notify: init cursor failed: %v", err)
		return
	}
	events, err := n.Repo.EventsAfter(ctx, defaultNotifyBatch, cursor, n.Repository)
	if err != nil {
		n.logger().Printf("notify: fetch events failed: %v", err)
		return
	}
	filter := newEventFilter(hook.Events)
	for _, evt := range events {
		if !filter.match(evt.Type) {
			n.setCursor(idx, evt.ID)
			continue
		}
		if err := n.postEvent(ctx, hook, evt); err != nil {
			n.logger().Printf("notify: deliver to %s failed: %v", hook.URL, err)
			return
		}
		n.setCursor(idx, evt.ID)
	}
}

func (n *Notifier) cursorFor(ctx context.Context, idx int) (int64, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.cursors == nil {
		n.cursors = make(map[int]int64)
	}
	if cur, ok := n.cursors[idx]; ok {
		return cur, nil
	}
	latest, err := n.Repo.LatestEvents(ctx, repo.EventFilters{Repository: n.Repository, Limit: 1})
	if err != nil {
		return 0, err
	}
	var cur int64
	if len(latest) > 0 {
		cur = latest[0].ID
	}
	n.cursors[idx] = cur
	return cur, nil
}

func (n *Notifier) setCursor(idx int, value int64) {
	n.mu.Lock()
	n.cursors[idx] = value
	n.mu.Unlock()
}

type notifyEvent struct {
	ID         int64           `json:"id"`
	Type       string          `json:"type"`
	Repository string          `json:"repository,omitempty"`
	EntityKind string          `json:"entity_kind"`
	EntityID   string          `json:"entity_id,omitempty"`
	ActorID    string          `json:"actor_id"`
	TS         string          `json:"ts"`
	Payload    json.RawMessage `json:"payload"`
}

func (n *Notifier) postEvent(ctx context.Context, hook NotifyHook, evt domain.Event) error {
	payload := json.RawMessage("{}")
	if evt.Payload != "" && json.Valid([]byte(evt.Payload)) {
		payload = json.RawMessage(evt.Payload)
	}
	data, err := json.Marshal(notifyEvent{
		ID:         evt.ID,
		Type:       evt.Type,
		Repository: evt.Repository,
		EntityKind: evt.EntityKind,
		EntityID:   evt.EntityID,
		ActorID:    evt.ActorID,
		TS:         evt.TS,
		Payload:    payload,
	})
	if err != nil {
		return err
	}
	client := n.client()
	if hook.TimeoutSeconds > 0 {
		client = &http.Client{Timeout: time.Duration(hook.TimeoutSeconds) * time.Second}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, hook.URL, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Workflow-Event", evt.Type)
	req.Header.Set("X-Workflow-Delivery", fmt.Sprintf("%d", evt.ID))
	if evt.Repository != "" {
		req.Header.Set("X-Workflow-Repository", evt.Repository)
	}
	if strings.TrimSpace(hook.Secret) != "" {
		req.Header.Set("X-Workflow-Secret", hook.Secret)
	}
	res, err := client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return fmt.Errorf("status %d: %s", res.StatusCode, strings.TrimSpace(string(body)))
	}
	return nil
}

type eventFilter struct {
	all bool
	set map[string]struct{}
}

func newEventFilter(events []string) eventFilter {
	set := make(map[string]struct{}, len(events))
	for _, evt := range events {
		if key := strings.TrimSpace(evt); key != "" {
			set[key] = struct{}{}
		}
	}
	if len(set) == 0 {
		return eventFilter{all: true}
	}
	return eventFilter{set: set}
}

func (f eventFilter) match(evt string) bool {
	if f.all {
		return true
	}
	_, ok := f.set[evt]
	return ok
}
