package audit

import (
	"bytes"
	"encoding/csv"
	"strconv"
	"strings"
	"time"
)

var csvHeader = []string{"at", "actor_id", "actor", "action", "entity", "entity_id", "role_id", "module_id", "added", "removed"}

// WriteCSV renders rows as CSV with a header line. Action lists are joined
// with spaces.
func WriteCSV(rows []TimelineRow) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(csvHeader); err != nil {
		return nil, err
	}
	for _, row := range rows {
		record := []string{
			row.At.UTC().Format(time.RFC3339),
			strconv.FormatInt(row.ActorID, 10),
			row.Actor,
			row.Action,
			row.Entity,
			row.EntityID,
			row.RoleID,
			row.ModuleID,
			strings.Join(row.Added, " "),
			strings.Join(row.Removed, " "),
		}
		if err := w.Write(record); err != nil {
			return nil, err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
