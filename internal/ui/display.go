// Package ui draws a live terminal view of node activity.
package ui

import (
	"fmt"
	"time"

	"github.com/yzernik/squeakroad-sub000/internal/metrics"
	"github.com/yzernik/squeakroad-sub000/internal/models"
)

// Sink is what every dashboard surface must satisfy.
type Sink interface {
	ShowSqueak(models.SqueakEntry)
	ShowPayment(models.ReceivedPayment)
	ShowCounters(metrics.Snapshot)
}

const maxPreview = 60

func authorLabel(e models.SqueakEntry) string {
	if e.AuthorName != nil && *e.AuthorName != "" {
		return *e.AuthorName
	}
	s := e.Author.String()
	return s[:8] + "…"
}

func formatSqueak(e models.SqueakEntry) string {
	ts := time.Unix(e.SqueakTime, 0).Format("15:04:05")
	body := "[gray](locked)[-]"
	if e.IsUnlocked && e.Content != nil {
		body = preview(*e.Content)
	}
	if e.ResqueakedHash != nil {
		body = "[purple]resqueak[-] " + e.ResqueakedHash.String()[:12]
	}
	return fmt.Sprintf("[yellow][%s][-] [lightgreen]%s[-] #%d: %s", ts, authorLabel(e), e.BlockHeight, body)
}

func formatPayment(p models.ReceivedPayment) string {
	return fmt.Sprintf("%d msat for %s from %s", p.PriceMsat, p.SqueakHash.String()[:12], p.PeerAddress.Host)
}

func preview(s string) string {
	r := []rune(s)
	if len(r) <= maxPreview {
		return s
	}
	return string(r[:maxPreview-1]) + "…"
}
