// Package settlement answers "has this invoice been paid?" from the
// authoritative settlement provider or from local invoices.
package settlement

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	"kasirinaja/dinein/internal/cache"
	"kasirinaja/dinein/internal/domain"
)

const (
	StatusUnsettled = "UNSETTLED"
	StatusPaid      = "PAID"
)

type Source interface {
	Status(ctx context.Context, invoiceID string) (domain.SettlementStatus, error)
}

// HTTPSource polls GET {base}/invoices/{id}/status.
type HTTPSource struct {
	baseURL string
	client  *http.Client
}

func NewHTTPSource(baseURL string, timeout time.Duration) *HTTPSource {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &HTTPSource{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

type statusResponse struct {
	Status     string `json:"status"`
	PaidAmount int64  `json:"paidAmount"`
}

func (s *HTTPSource) Status(ctx context.Context, invoiceID string) (domain.SettlementStatus, error) {
	endpoint := fmt.Sprintf("%s/invoices/%s/status", s.baseURL, url.PathEscape(invoiceID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return domain.SettlementStatus{}, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return domain.SettlementStatus{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return domain.SettlementStatus{}, fmt.Errorf("settlement status %s: unexpected status %d", invoiceID, resp.StatusCode)
	}
	var body statusResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return domain.SettlementStatus{}, fmt.Errorf("settlement status %s: %w", invoiceID, err)
	}
	return domain.SettlementStatus{
		Status:          strings.ToUpper(strings.TrimSpace(body.Status)),
		PaidAmountCents: body.PaidAmount,
	}, nil
}

type InvoiceReader interface {
	GetInvoice(ctx context.Context, id string) (*domain.Invoice, error)
}

// RepoSource reads the local invoice. It backs polling when no external
// provider is configured and payments land through the API.
type RepoSource struct {
	invoices InvoiceReader
}

func NewRepoSource(invoices InvoiceReader) *RepoSource {
	return &RepoSource{invoices: invoices}
}

func (s *RepoSource) Status(ctx context.Context, invoiceID string) (domain.SettlementStatus, error) {
	inv, err := s.invoices.GetInvoice(ctx, invoiceID)
	if err != nil {
		return domain.SettlementStatus{}, err
	}
	status := StatusUnsettled
	if inv.Status == domain.InvoiceStatusPaid {
		status = StatusPaid
	}
	return domain.SettlementStatus{Status: status, PaidAmountCents: inv.PaidCents}, nil
}

// CachedSource remembers PAID answers, which never change.
type CachedSource struct {
	next  Source
	cache cache.SettlementCache
	ttl   time.Duration
}

func NewCachedSource(next Source, c cache.SettlementCache, ttl time.Duration) *CachedSource {
	if c == nil {
		c = cache.NoopSettlementCache{}
	}
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &CachedSource{next: next, cache: c, ttl: ttl}
}

func (s *CachedSource) Status(ctx context.Context, invoiceID string) (domain.SettlementStatus, error) {
	if cached, ok, err := s.cache.Get(ctx, invoiceID); err != nil {
		log.Printf("[settlement] WARN: cache get %s: %v", invoiceID, err)
	} else if ok {
		return *cached, nil
	}

	status, err := s.next.Status(ctx, invoiceID)
	if err != nil {
		return domain.SettlementStatus{}, err
	}
	if status.Status == StatusPaid {
		if err := s.cache.Set(ctx, invoiceID, &status, s.ttl); err != nil {
			log.Printf("[settlement] WARN: cache set %s: %v", invoiceID, err)
		}
	}
	return status, nil
}
