package outcome

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rgkrishnan/vaani/internal/session"
)

var (
	callHeaders = []string{
		"record_id", "call_id", "direction", "persona", "locale", "reason",
		"started_at", "ended_at", "duration_seconds", "caller_turns", "agent_turns",
	}
	marketingHeaders = []string{
		"record_id", "call_id", "campaign_id", "campaign_name", "segment", "objective",
		"interest", "reason", "started_at", "ended_at", "duration_seconds",
	}
	notificationHeaders = []string{
		"record_id", "call_id", "notification_type", "priority", "reference_id",
		"delivered", "reason", "started_at", "ended_at", "duration_seconds",
	}
)

// CSVRecorder appends call outcomes to per-category CSV files. It is the
// default store; a database store takes over when DATABASE_URL is set.
type CSVRecorder struct {
	mu  sync.Mutex
	dir string

	callsFile        string
	marketingFile    string
	notificationFile string
}

func NewCSVRecorder(dir string) (*CSVRecorder, error) {
	if dir == "" {
		dir = "call_data"
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create outcome dir: %w", err)
	}
	r := &CSVRecorder{
		dir:              dir,
		callsFile:        filepath.Join(dir, "calls.csv"),
		marketingFile:    filepath.Join(dir, "marketing_calls.csv"),
		notificationFile: filepath.Join(dir, "notification_calls.csv"),
	}
	for file, headers := range map[string][]string{
		r.callsFile:        callHeaders,
		r.marketingFile:    marketingHeaders,
		r.notificationFile: notificationHeaders,
	} {
		if err := initCSV(file, headers); err != nil {
			return nil, err
		}
	}
	return r, nil
}

func initCSV(path string, headers []string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer f.Close()
	w := csv.NewWriter(f)
	if err := w.Write(headers); err != nil {
		return fmt.Errorf("write headers to %s: %w", path, err)
	}
	w.Flush()
	return w.Error()
}

func (r *CSVRecorder) Record(_ context.Context, o session.Outcome) error {
	recordID := uuid.NewString()
	seconds := strconv.Itoa(int(o.Duration / time.Second))

	r.mu.Lock()
	defer r.mu.Unlock()

	if err := appendRow(r.callsFile, []string{
		recordID, o.CallID, string(o.Direction), string(o.Persona), o.Locale, string(o.Reason),
		o.StartedAt.UTC().Format(time.RFC3339), o.EndedAt.UTC().Format(time.RFC3339),
		seconds, strconv.Itoa(o.CallerTurns), strconv.Itoa(o.AgentTurns),
	}); err != nil {
		return err
	}

	switch o.Direction {
	case session.DirectionOutboundMarketing:
		c := o.Campaign
		if c == nil {
			c = &session.CampaignMetadata{}
		}
		return appendRow(r.marketingFile, []string{
			recordID, o.CallID, c.CampaignID, c.CampaignName, c.Segment, c.Objective,
			o.Interest, string(o.Reason),
			o.StartedAt.UTC().Format(time.RFC3339), o.EndedAt.UTC().Format(time.RFC3339), seconds,
		})
	case session.DirectionOutboundNotification:
		n := o.Notification
		if n == nil {
			n = &session.NotificationMetadata{}
		}
		return appendRow(r.notificationFile, []string{
			recordID, o.CallID, n.NotificationType, n.Priority, n.ReferenceID,
			strconv.FormatBool(o.Delivered), string(o.Reason),
			o.StartedAt.UTC().Format(time.RFC3339), o.EndedAt.UTC().Format(time.RFC3339), seconds,
		})
	}
	return nil
}

func appendRow(path string, row []string) error {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()
	w := csv.NewWriter(f)
	if err := w.Write(row); err != nil {
		return fmt.Errorf("append to %s: %w", path, err)
	}
	w.Flush()
	return w.Error()
}

func (r *CSVRecorder) MarketingStats(_ context.Context, campaignID string) (MarketingStats, error) {
	r.mu.Lock()
	rows, err := readCSV(r.marketingFile)
	r.mu.Unlock()
	if err != nil {
		return MarketingStats{}, err
	}

	stats := MarketingStats{InterestBreakdown: make(map[string]int)}
	for _, row := range rows {
		if len(row) < 7 {
			continue
		}
		if campaignID != "" && row[2] != campaignID {
			continue
		}
		stats.TotalCalls++
		interest := row[6]
		if interest == "" {
			interest = "no-response"
		}
		stats.InterestBreakdown[interest]++
	}
	computeMarketingRates(&stats)
	return stats, nil
}

func (r *CSVRecorder) NotificationStats(_ context.Context) (NotificationStats, error) {
	r.mu.Lock()
	rows, err := readCSV(r.notificationFile)
	r.mu.Unlock()
	if err != nil {
		return NotificationStats{}, err
	}

	stats := NotificationStats{}
	for _, row := range rows {
		if len(row) < 6 {
			continue
		}
		stats.TotalCalls++
		if row[5] == "true" {
			stats.Delivered++
		}
	}
	if stats.TotalCalls > 0 {
		stats.DeliveryRate = float64(stats.Delivered) / float64(stats.TotalCalls) * 100
	}
	return stats, nil
}

func readCSV(path string) ([][]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	if len(rows) <= 1 {
		return nil, nil
	}
	return rows[1:], nil
}

func (r *CSVRecorder) Close() error { return nil }
