package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/atvirokodosprendimai/pcbuilder/internal/application"
	"github.com/atvirokodosprendimai/pcbuilder/internal/domain"
)

func printJSON(v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(b))
	return nil
}

func printKV(rows [][2]string) {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	for _, row := range rows {
		_, _ = fmt.Fprintf(w, "%s\t%s\n", row[0], row[1])
	}
	_ = w.Flush()
}

func printTable(headers []string, rows [][]string) {
	if len(rows) == 0 {
		fmt.Println("no results")
		return
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, strings.Join(headers, "\t"))
	for _, row := range rows {
		_, _ = fmt.Fprintln(w, strings.Join(row, "\t"))
	}
	_ = w.Flush()
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Format("2006-01-02 15:04:05")
}

func orDash(s string) string {
	if strings.TrimSpace(s) == "" {
		return "-"
	}
	return s
}

func printSession(view application.SessionView) {
	rows := [][2]string{
		{"session", view.ID},
		{"state", string(view.State)},
		{"step", view.Step},
		{"brand", orDash(view.Selection.Brand)},
	}
	for _, c := range domain.Categories {
		if c == domain.CategoryFan {
			continue
		}
		value := "-"
		if p, ok := view.Selection.Get(c); ok {
			value = fmt.Sprintf("%s (%s) %s", p.DisplayName(), p.ProductID, p.Price.StringFixed(2))
		}
		rows = append(rows, [2]string{string(c), value})
	}
	fans := make([]string, 0, len(view.Selection.Fans))
	for _, f := range view.Selection.Fans {
		fans = append(fans, f.ProductID)
	}
	rows = append(rows,
		[2]string{"fans", orDash(strings.Join(fans, ", "))},
		[2]string{"subtotal", view.Totals.Subtotal.StringFixed(2)},
		[2]string{"total", view.Totals.Total.StringFixed(2)},
		[2]string{"verdict", formatVerdict(view)},
	)
	if view.Draft != nil {
		draft := view.Draft.BuildID
		if view.Draft.Submitted {
			draft += " (submitted)"
		}
		rows = append(rows, [2]string{"draft", draft})
	}
	if view.Pending > 0 {
		rows = append(rows, [2]string{"pending", strconv.Itoa(view.Pending)})
	}
	printKV(rows)
}

func formatVerdict(view application.SessionView) string {
	switch view.VerifyState {
	case application.VerifyPassed:
		return "compatible"
	case application.VerifyRejected:
		return "incompatible: " + strings.Join(view.Verdict.Errors, "; ")
	case application.VerifyPending:
		return "verifying"
	default:
		return "-"
	}
}

func printSessions(items []domain.BuildSession, current string) {
	rows := make([][]string, 0, len(items))
	for _, item := range items {
		marker := ""
		if item.ID == current {
			marker = "*"
		}
		rows = append(rows, []string{marker, item.ID, orDash(item.Brand), item.State, formatTime(item.UpdatedAt)})
	}
	printTable([]string{"", "ID", "BRAND", "STATE", "UPDATED_AT"}, rows)
}

func printCandidates(list application.CandidateList) {
	if list.Error != "" {
		fmt.Fprintf(os.Stderr, "warning: %s\n", list.Error)
	}
	rows := make([][]string, 0, len(list.Parts))
	for _, p := range list.Parts {
		extra := p.Socket
		if p.LengthMM > 0 {
			extra = strconv.Itoa(p.LengthMM) + "mm"
		}
		rows = append(rows, []string{p.ProductID, orDash(p.Brand), orDash(p.Model), p.Price.StringFixed(2), orDash(extra), strconv.Itoa(p.Stock)})
	}
	printTable([]string{"PRODUCT_ID", "BRAND", "MODEL", "PRICE", "FIT", "STOCK"}, rows)
}

func printHistory(h domain.SessionHistory) {
	printKV([][2]string{{"session", h.Session.ID}, {"state", h.Session.State}, {"brand", orDash(h.Session.Brand)}})

	fmt.Println()
	runs := make([][]string, 0, len(h.Verifications))
	for _, r := range h.Verifications {
		result := "ok"
		if !r.OK {
			result = "failed"
		}
		runs = append(runs, []string{strconv.FormatUint(uint64(r.ID), 10), result, orDash(strings.Join(r.Errors, "; ")), formatTime(r.CreatedAt)})
	}
	printTable([]string{"RUN", "RESULT", "ERRORS", "CREATED_AT"}, runs)

	fmt.Println()
	drafts := make([][]string, 0, len(h.Drafts))
	for _, d := range h.Drafts {
		drafts = append(drafts, []string{d.BuildID, d.Status, d.Total.StringFixed(2), orDash(d.Message), formatTime(d.CreatedAt)})
	}
	printTable([]string{"BUILD_ID", "STATUS", "TOTAL", "MESSAGE", "CREATED_AT"}, drafts)
}

func printBuild(b domain.BuildSnapshot) {
	rows := [][2]string{
		{"build", b.BuildID},
		{"name", orDash(b.Name)},
		{"status", b.Status},
	}
	items := []struct {
		name string
		part *domain.Part
	}{
		{"cpu", b.Items.CPU}, {"motherboard", b.Items.Motherboard}, {"ram", b.Items.RAM}, {"gpu", b.Items.GPU},
		{"case", b.Items.Case}, {"ssd", b.Items.SSD}, {"hdd", b.Items.HDD}, {"psu", b.Items.PSU},
	}
	for _, item := range items {
		if item.part != nil {
			rows = append(rows, [2]string{item.name, item.part.DisplayName() + " (" + item.part.ProductID + ")"})
		}
	}
	for _, f := range b.Items.Fans {
		rows = append(rows, [2]string{"fan", f.DisplayName() + " (" + f.ProductID + ")"})
	}
	compat := "compatible"
	if !b.Compatibility.OK {
		compat = "incompatible: " + strings.Join(b.Compatibility.Errors, "; ")
	}
	rows = append(rows,
		[2]string{"subtotal", b.Prices.Subtotal.StringFixed(2)},
		[2]string{"tax", b.Prices.Tax.StringFixed(2)},
		[2]string{"total", b.Prices.Total.StringFixed(2)},
		[2]string{"compatibility", compat},
	)
	printKV(rows)
}
