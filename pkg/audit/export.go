package audit

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"time"
)

// Export writes events in the requested format
func Export(w io.Writer, events []*Event, format ExportFormat) error {
	switch format {
	case ExportCSV:
		return exportCSV(w, events)
	case ExportNDJSON:
		return exportNDJSON(w, events)
	case ExportJSON, "":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(events)
	default:
		return fmt.Errorf("unsupported export format %q", format)
	}
}

// ContentType returns the MIME type and file extension for format
func (f ExportFormat) ContentType() (string, string) {
	switch f {
	case ExportCSV:
		return "text/csv", "csv"
	case ExportNDJSON:
		return "application/x-ndjson", "ndjson"
	default:
		return "application/json", "json"
	}
}

func exportNDJSON(w io.Writer, events []*Event) error {
	enc := json.NewEncoder(w)
	for _, event := range events {
		if err := enc.Encode(event); err != nil {
			return fmt.Errorf("failed to encode event: %w", err)
		}
	}
	return nil
}

var csvHeader = []string{
	"id", "created_at", "event_type", "status", "actor_id", "actor_username",
	"target_type", "target_id", "ip_address", "user_agent", "request_id", "message", "metadata",
}

func exportCSV(w io.Writer, events []*Event) error {
	writer := csv.NewWriter(w)
	if err := writer.Write(csvHeader); err != nil {
		return fmt.Errorf("failed to write CSV header: %w", err)
	}

	for _, event := range events {
		metadata := ""
		if len(event.Metadata) > 0 {
			var buf bytes.Buffer
			if err := json.NewEncoder(&buf).Encode(event.Metadata); err != nil {
				return fmt.Errorf("failed to encode metadata: %w", err)
			}
			metadata = string(bytes.TrimSpace(buf.Bytes()))
		}
		row := []string{
			strconv.FormatInt(event.ID, 10),
			event.CreatedAt.UTC().Format(time.RFC3339),
			string(event.EventType),
			string(event.Status),
			formatInt64Ptr(event.ActorID),
			event.ActorUsername,
			string(event.TargetType),
			event.TargetID,
			event.IPAddress,
			event.UserAgent,
			event.RequestID,
			event.Message,
			metadata,
		}
		if err := writer.Write(row); err != nil {
			return fmt.Errorf("failed to write CSV row: %w", err)
		}
	}

	writer.Flush()
	return writer.Error()
}

func formatInt64Ptr(val *int64) string {
	if val == nil {
		return ""
	}
	return strconv.FormatInt(*val, 10)
}
