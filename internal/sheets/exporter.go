// Package sheets is the optional spreadsheet side-channel: order
// summaries are queued after checkout and delivered by an independent
// worker. The channel never blocks or fails an order.
package sheets

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/greenharvest/storefront/internal/models"
)

// OrderExport is one row of the monthly sheet.
type OrderExport struct {
	Timestamp   time.Time         `json:"timestamp"`
	Name        string            `json:"name"`
	Email       string            `json:"email"`
	Phone       string            `json:"phone"`
	Address     string            `json:"address"`
	Items       []models.CartItem `json:"items"`
	TotalAmount float64           `json:"total_amount"`
}

// Summary renders the items as "2x Carrots, 1x Kale".
func (o OrderExport) Summary() string {
	parts := make([]string, 0, len(o.Items))
	for _, it := range o.Items {
		parts = append(parts, fmt.Sprintf("%dx %s", it.Quantity, it.Title))
	}
	return strings.Join(parts, ", ")
}

const (
	queueSize    = 64
	maxAttempts  = 3
	retryBackoff = 2 * time.Second
)

type Exporter struct {
	webAppURL  string
	sheetID    string
	httpClient *http.Client
	log        *slog.Logger

	queue chan OrderExport
	done  chan struct{}

	mu     sync.Mutex
	closed bool
}

// NewExporter returns nil when the channel is unconfigured; Enqueue
// and Close are nil-safe so callers never branch on it.
func NewExporter(webAppURL, sheetID string, log *slog.Logger) *Exporter {
	if webAppURL == "" || sheetID == "" {
		log.Info("spreadsheet export not configured, channel disabled")
		return nil
	}
	e := &Exporter{
		webAppURL: webAppURL,
		sheetID:   sheetID,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		log:   log.With("component", "sheets"),
		queue: make(chan OrderExport, queueSize),
		done:  make(chan struct{}),
	}
	go e.run()
	return e
}

// Enqueue hands an export to the worker. It never blocks: when the
// queue is full, or the exporter is already closed, the export is
// dropped with a warning.
func (e *Exporter) Enqueue(o OrderExport) {
	if e == nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		e.log.Warn("exporter closed, order export dropped", "name", o.Name)
		return
	}
	select {
	case e.queue <- o:
	default:
		e.log.Warn("export queue full, order export dropped", "name", o.Name)
	}
}

// Close stops the worker after draining what is already queued. Safe
// to call more than once.
func (e *Exporter) Close() {
	if e == nil {
		return
	}
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	close(e.queue)
	e.mu.Unlock()
	<-e.done
}

func (e *Exporter) run() {
	defer close(e.done)
	for o := range e.queue {
		e.deliver(o)
	}
}

func (e *Exporter) deliver(o OrderExport) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	month := o.Timestamp.Format("2006-01")

	// The monthly sheet is created on demand; failure here is not
	// fatal, the add_order call reports its own outcome.
	if err := e.submit(ctx, url.Values{
		"action":    {"create_sheet"},
		"sheetId":   {e.sheetID},
		"sheetName": {month},
	}); err != nil {
		e.log.Warn("monthly sheet creation failed", "sheet", month, "error", err)
	}

	form := url.Values{
		"action":    {"add_order"},
		"sheetId":   {e.sheetID},
		"sheetName": {month},
		"timestamp": {o.Timestamp.UTC().Format(time.RFC3339)},
		"name":      {o.Name},
		"email":     {o.Email},
		"phone":     {o.Phone},
		"address":   {o.Address},
		"summary":   {o.Summary()},
		"total":     {fmt.Sprintf("%.2f", o.TotalAmount)},
	}

	var err error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err = e.submit(ctx, form); err == nil {
			e.log.Info("order exported", "sheet", month, "name", o.Name)
			return
		}
		e.log.Warn("order export attempt failed", "attempt", attempt, "error", err)
		select {
		case <-time.After(retryBackoff):
		case <-ctx.Done():
			return
		}
	}
	e.log.Error("order export abandoned", "sheet", month, "error", err)
}

// submit form-posts to the web app. The endpoint does not confirm
// anything useful, so a 2xx exchange counts as delivered.
func (e *Exporter) submit(ctx context.Context, form url.Values) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.webAppURL,
		strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("export failed with status: %d", resp.StatusCode)
	}
	return nil
}
