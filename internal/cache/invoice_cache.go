package cache

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/andresuchdata/smy-billing/backend-go/internal/config"
	"github.com/andresuchdata/smy-billing/backend-go/internal/domain"
)

const (
	invoiceListKeyPrefix = "invoices:list"
	invoiceScanBatchSize = 100
)

// InvoiceListCache holds invoice list pages keyed by filter. Any invoice
// write drops every page.
type InvoiceListCache interface {
	GetList(ctx context.Context, filter domain.InvoiceFilter) ([]domain.Invoice, bool, error)
	SetList(ctx context.Context, filter domain.InvoiceFilter, invoices []domain.Invoice) error
	InvalidateAll(ctx context.Context) error
}

type redisInvoiceListCache struct {
	client *redis.Client
	ttl    time.Duration
}

type noopInvoiceListCache struct{}

func NewInvoiceListCache(client *redis.Client, cfg config.CacheConfig) InvoiceListCache {
	if client == nil {
		return &noopInvoiceListCache{}
	}
	return &redisInvoiceListCache{client: client, ttl: ttlFromSeconds(cfg.InvoiceTTLSeconds)}
}

func NewNoopInvoiceListCache() InvoiceListCache {
	return &noopInvoiceListCache{}
}

func (c *redisInvoiceListCache) GetList(ctx context.Context, filter domain.InvoiceFilter) ([]domain.Invoice, bool, error) {
	payload, err := c.client.Get(ctx, buildInvoiceListKey(filter)).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get failed: %w", err)
	}

	var invoices []domain.Invoice
	if err := json.Unmarshal(payload, &invoices); err != nil {
		return nil, false, fmt.Errorf("decode invoice list cache: %w", err)
	}
	return invoices, true, nil
}

func (c *redisInvoiceListCache) SetList(ctx context.Context, filter domain.InvoiceFilter, invoices []domain.Invoice) error {
	payload, err := json.Marshal(invoices)
	if err != nil {
		return fmt.Errorf("encode invoice list cache: %w", err)
	}
	if err := c.client.Set(ctx, buildInvoiceListKey(filter), payload, c.ttl).Err(); err != nil {
		return fmt.Errorf("redis set failed: %w", err)
	}
	return nil
}

func (c *redisInvoiceListCache) InvalidateAll(ctx context.Context) error {
	return deleteKeysWithPrefix(ctx, c.client, invoiceListKeyPrefix, invoiceScanBatchSize)
}

func (n *noopInvoiceListCache) GetList(ctx context.Context, filter domain.InvoiceFilter) ([]domain.Invoice, bool, error) {
	return nil, false, nil
}

func (n *noopInvoiceListCache) SetList(ctx context.Context, filter domain.InvoiceFilter, invoices []domain.Invoice) error {
	return nil
}

func (n *noopInvoiceListCache) InvalidateAll(ctx context.Context) error {
	return nil
}

func buildInvoiceListKey(filter domain.InvoiceFilter) string {
	return fmt.Sprintf("%s:%s", invoiceListKeyPrefix, invoiceFilterHash(filter))
}

func invoiceFilterHash(filter domain.InvoiceFilter) string {
	parts := []string{}

	if filter.Status != "" {
		parts = append(parts, "status="+string(filter.Status))
	}
	if filter.Type != "" {
		parts = append(parts, "type="+string(filter.Type))
	}
	if code := strings.TrimSpace(filter.CompanyCode); code != "" {
		parts = append(parts, "company_code="+code)
	}
	if filter.PeriodStart != nil {
		parts = append(parts, "period_start="+filter.PeriodStart.Format(domain.DateLayout))
	}
	if filter.PeriodEnd != nil {
		parts = append(parts, "period_end="+filter.PeriodEnd.Format(domain.DateLayout))
	}
	if filter.Limit > 0 {
		parts = append(parts, fmt.Sprintf("limit=%d", filter.Limit))
	}
	if filter.Offset > 0 {
		parts = append(parts, fmt.Sprintf("offset=%d", filter.Offset))
	}

	if len(parts) == 0 {
		return "default"
	}

	sort.Strings(parts)
	sum := sha1.Sum([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(sum[:])
}
