package domain

import (
	"crypto/sha256"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Part is an immutable catalog snapshot of a purchasable component.
type Part struct {
	ProductID string          `json:"productId"`
	Category  Category        `json:"category"`
	Brand     string          `json:"brand"`
	Model     string          `json:"model"`
	Price     decimal.Decimal `json:"price"`
	Socket    string          `json:"socket,omitempty"`
	LengthMM  int             `json:"lengthMM,omitempty"`
	Stock     int             `json:"stock"`
	Images    []string        `json:"images,omitempty"`
}

func (p Part) DisplayName() string {
	name := strings.TrimSpace(p.Brand + " " + p.Model)
	if name == "" {
		return p.ProductID
	}
	return name
}

// SelectionSet is the build in progress. Single-valued categories live in
// Parts, fans keep their insertion order in Fans.
type SelectionSet struct {
	Brand string            `json:"brand,omitempty"`
	Parts map[Category]Part `json:"parts"`
	Fans  []Part            `json:"fans"`
}

func NewSelectionSet() SelectionSet {
	return SelectionSet{Parts: make(map[Category]Part)}
}

func (s SelectionSet) Get(category Category) (Part, bool) {
	p, ok := s.Parts[category]
	return p, ok
}

func (s SelectionSet) Has(category Category) bool {
	if category == CategoryFan {
		return len(s.Fans) > 0
	}
	_, ok := s.Parts[category]
	return ok
}

func (s SelectionSet) Clone() SelectionSet {
	out := SelectionSet{Brand: s.Brand, Parts: make(map[Category]Part, len(s.Parts))}
	for k, v := range s.Parts {
		out.Parts[k] = v
	}
	out.Fans = append([]Part(nil), s.Fans...)
	return out
}

func (s SelectionSet) CoreComplete() bool {
	for _, c := range CoreCategories {
		if _, ok := s.Parts[c]; !ok {
			return false
		}
	}
	return true
}

// CoreHash identifies the combination of core selections. Empty when the
// core is incomplete.
func (s SelectionSet) CoreHash() string {
	if !s.CoreComplete() {
		return ""
	}
	parts := make([]string, 0, len(CoreCategories))
	for _, c := range CoreCategories {
		parts = append(parts, string(c)+"="+s.Parts[c].ProductID)
	}
	sum := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return fmt.Sprintf("%x", sum[:])
}

func (s SelectionSet) FanIDs() []string {
	ids := make([]string, 0, len(s.Fans))
	for _, f := range s.Fans {
		ids = append(ids, f.ProductID)
	}
	return ids
}

// Totals is derived from a SelectionSet and never stored.
type Totals struct {
	Subtotal decimal.Decimal `json:"subtotal"`
	Total    decimal.Decimal `json:"total"`
}

// ComputeTotals sums the price of every selected part, each fan counted once.
func ComputeTotals(s SelectionSet) Totals {
	subtotal := decimal.Zero
	for _, p := range s.Parts {
		subtotal = subtotal.Add(p.Price)
	}
	for _, f := range s.Fans {
		subtotal = subtotal.Add(f.Price)
	}
	return Totals{Subtotal: subtotal, Total: subtotal}
}

// Verdict is the outcome of the last compatibility check.
type Verdict struct {
	OK     bool     `json:"ok"`
	Errors []string `json:"errors,omitempty"`
}

type VerifyRequest struct {
	CPUID         string `json:"cpuId"`
	MotherboardID string `json:"motherboardId"`
	RAMID         string `json:"ramId"`
	GPUID         string `json:"gpuId"`
	CaseID        string `json:"caseId"`
}

func NewVerifyRequest(s SelectionSet) VerifyRequest {
	return VerifyRequest{
		CPUID:         s.Parts[CategoryCPU].ProductID,
		MotherboardID: s.Parts[CategoryMotherboard].ProductID,
		RAMID:         s.Parts[CategoryRAM].ProductID,
		GPUID:         s.Parts[CategoryGPU].ProductID,
		CaseID:        s.Parts[CategoryCase].ProductID,
	}
}

type DraftRequest struct {
	CPUID         string   `json:"cpuId"`
	MotherboardID string   `json:"motherboardId"`
	RAMID         string   `json:"ramId"`
	GPUID         string   `json:"gpuId"`
	CaseID        string   `json:"caseId"`
	SSDID         string   `json:"ssdId,omitempty"`
	HDDID         string   `json:"hddId,omitempty"`
	PSUID         string   `json:"psuId,omitempty"`
	FanIDs        []string `json:"fanIds"`
}

func NewDraftRequest(s SelectionSet) DraftRequest {
	return DraftRequest{
		CPUID:         s.Parts[CategoryCPU].ProductID,
		MotherboardID: s.Parts[CategoryMotherboard].ProductID,
		RAMID:         s.Parts[CategoryRAM].ProductID,
		GPUID:         s.Parts[CategoryGPU].ProductID,
		CaseID:        s.Parts[CategoryCase].ProductID,
		SSDID:         s.Parts[CategorySSD].ProductID,
		HDDID:         s.Parts[CategoryHDD].ProductID,
		PSUID:         s.Parts[CategoryPSU].ProductID,
		FanIDs:        s.FanIDs(),
	}
}

// BuildItems mirrors the persisted build's item map.
type BuildItems struct {
	CPU         *Part  `json:"cpu,omitempty"`
	Motherboard *Part  `json:"motherboard,omitempty"`
	RAM         *Part  `json:"ram,omitempty"`
	GPU         *Part  `json:"gpu,omitempty"`
	Case        *Part  `json:"case,omitempty"`
	SSD         *Part  `json:"ssd,omitempty"`
	HDD         *Part  `json:"hdd,omitempty"`
	PSU         *Part  `json:"psu,omitempty"`
	Fans        []Part `json:"fans,omitempty"`
}

type BuildPrices struct {
	Subtotal decimal.Decimal `json:"subtotal"`
	Tax      decimal.Decimal `json:"tax"`
	Total    decimal.Decimal `json:"total"`
}

// BuildSnapshot is a build as persisted by the catalog service.
type BuildSnapshot struct {
	BuildID       string      `json:"buildId"`
	Name          string      `json:"name,omitempty"`
	Status        string      `json:"status"`
	Items         BuildItems  `json:"items"`
	Prices        BuildPrices `json:"prices"`
	Compatibility Verdict     `json:"compatibility"`
}

// DraftBuild is the local view of a saved draft.
type DraftBuild struct {
	BuildID   string         `json:"buildId"`
	Totals    Totals         `json:"totals"`
	Snapshot  *BuildSnapshot `json:"snapshot,omitempty"`
	Submitted bool           `json:"submitted"`
	Message   string         `json:"message,omitempty"`
	SavedAt   time.Time      `json:"savedAt"`
}

// BuildSession is the persisted header of one build session.
type BuildSession struct {
	ID        string
	Brand     string
	State     string
	CreatedAt time.Time
	UpdatedAt time.Time
}

type VerificationRun struct {
	ID            uint
	SessionID     string
	SelectionHash string
	OK            bool
	Errors        []string
	CreatedAt     time.Time
}

type DraftRecord struct {
	ID          uint
	SessionID   string
	BuildID     string
	Subtotal    decimal.Decimal
	Total       decimal.Decimal
	Snapshot    string
	Status      string
	Message     string
	CreatedAt   time.Time
	SubmittedAt *time.Time
}

type SessionHistory struct {
	Session       BuildSession      `json:"session"`
	Verifications []VerificationRun `json:"verifications"`
	Drafts        []DraftRecord     `json:"drafts"`
}
