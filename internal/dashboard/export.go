package dashboard

import (
	"encoding/csv"
	"net/http"
	"strconv"
	"time"
)

func (d *Dashboard) handleExportHoneypots(w http.ResponseWriter, r *http.Request) {
	honeypots, err := d.store.ListAllHoneypots()
	if err != nil {
		d.logger.Error("failed to export honeypots", "error", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	records := [][]string{{"id", "apeType", "captchaType", "kitId", "sent", "accessed", "solved", "sentAt", "accessedAt", "solvedAt", "createdAt"}}
	for _, h := range honeypots {
		records = append(records, []string{
			h.ID, h.ApeType, h.CaptchaType, strconv.Itoa(h.KitID),
			strconv.FormatBool(h.Sent), strconv.FormatBool(h.Accessed), strconv.FormatBool(h.Solved),
			formatTimePtr(h.SentAt), formatTimePtr(h.AccessedAt), formatTimePtr(h.SolvedAt),
			h.CreatedAt.Format(time.RFC3339),
		})
	}

	d.writeCSV(w, "honeypots.csv", records)
}

func (d *Dashboard) handleExportVisits(w http.ResponseWriter, r *http.Request) {
	visits, err := d.store.ListVisits()
	if err != nil {
		d.logger.Error("failed to export visits", "error", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	records := [][]string{{"id", "honeypotId", "createdAt"}}
	for _, v := range visits {
		records = append(records, []string{
			strconv.FormatInt(v.ID, 10), v.HoneypotID, v.CreatedAt.Format(time.RFC3339),
		})
	}

	d.writeCSV(w, "visits.csv", records)
}

func (d *Dashboard) handleExportFingerprints(w http.ResponseWriter, r *http.Request) {
	fingerprints, err := d.store.ListFingerprints()
	if err != nil {
		d.logger.Error("failed to export fingerprints", "error", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	records := [][]string{{"id", "visitorId", "honeypotId", "createdAt"}}
	for _, f := range fingerprints {
		records = append(records, []string{
			strconv.FormatInt(f.ID, 10), f.VisitorID, f.HoneypotID, f.CreatedAt.Format(time.RFC3339),
		})
	}

	d.writeCSV(w, "fingerprints.csv", records)
}

func (d *Dashboard) writeCSV(w http.ResponseWriter, filename string, records [][]string) {
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", `attachment; filename="`+filename+`"`)

	cw := csv.NewWriter(w)
	if err := cw.WriteAll(records); err != nil {
		d.logger.Error("failed to write csv", "filename", filename, "error", err)
	}
}

func formatTimePtr(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format(time.RFC3339)
}
