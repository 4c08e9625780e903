package ui

import (
	"context"
	"fmt"
	"sync"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"

	"github.com/yzernik/squeakroad-sub000/internal/metrics"
	"github.com/yzernik/squeakroad-sub000/internal/models"
)

const maxPayments = 200

// Dashboard renders squeaks, payments and counters using tview.
type Dashboard struct {
	app      *tview.Application
	header   *tview.TextView
	squeaks  *tview.TextView
	payments *tview.List
	once     sync.Once
}

func NewDashboard(network string) *Dashboard {
	header := tview.NewTextView().SetDynamicColors(true)
	header.SetBorder(true).SetTitle("squeaknode " + network)

	squeaks := tview.NewTextView().
		SetDynamicColors(true).
		SetScrollable(true).
		SetMaxLines(1000)
	squeaks.SetBorder(true).SetTitle("Squeaks")

	payments := tview.NewList().ShowSecondaryText(false)
	payments.SetBorder(true).SetTitle("Received payments")

	d := &Dashboard{
		app:      tview.NewApplication(),
		header:   header,
		squeaks:  squeaks,
		payments: payments,
	}

	layout := tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(header, 3, 0, false).
		AddItem(squeaks, 0, 3, false).
		AddItem(payments, 0, 1, true)

	d.app.SetRoot(layout, true).SetInputCapture(func(ev *tcell.EventKey) *tcell.EventKey {
		if ev.Key() == tcell.KeyRune && ev.Rune() == 'q' {
			d.stop()
			return nil
		}
		return ev
	})
	return d
}

// Run blocks until the operator quits or ctx is done.
func (d *Dashboard) Run(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		d.stop()
	}()
	return d.app.Run()
}

func (d *Dashboard) stop() {
	d.once.Do(d.app.Stop)
}

func (d *Dashboard) ShowSqueak(e models.SqueakEntry) {
	line := formatSqueak(e) + "\n"
	d.app.QueueUpdateDraw(func() {
		fmt.Fprint(d.squeaks, line)
		d.squeaks.ScrollToEnd()
	})
}

func (d *Dashboard) ShowPayment(p models.ReceivedPayment) {
	line := formatPayment(p)
	d.app.QueueUpdateDraw(func() {
		d.payments.InsertItem(0, line, "", 0, nil)
		if d.payments.GetItemCount() > maxPayments {
			d.payments.RemoveItem(-1)
		}
	})
}

func (d *Dashboard) ShowCounters(s metrics.Snapshot) {
	text := "[green]" + s.String() + "[-]  press q to close"
	d.app.QueueUpdateDraw(func() {
		d.header.SetText(text)
	})
}
