package report

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"slices"
	"time"

	"kasirtoko/backend/internal/cache"
	"kasirtoko/backend/internal/domain"
	"kasirtoko/backend/internal/store"
)

const dateLayout = "2006-01-02"

// Aggregator builds the daily sales views. All bucketing happens in a
// single fixed business timezone so a "day" does not drift with the
// server clock or the caller's locale.
type Aggregator struct {
	repo  store.Repository
	cache cache.ReportCache
	ttl   time.Duration
	loc   *time.Location
}

func NewAggregator(repo store.Repository, reportCache cache.ReportCache, ttl time.Duration, loc *time.Location) *Aggregator {
	if reportCache == nil {
		reportCache = cache.NoopReportCache{}
	}
	return &Aggregator{repo: repo, cache: reportCache, ttl: ttl, loc: loc}
}

func (a *Aggregator) Location() *time.Location {
	return a.loc
}

// DayBounds resolves a YYYY-MM-DD date (empty means today in the
// business timezone) to its UTC half-open interval.
func (a *Aggregator) DayBounds(date string) (time.Time, time.Time, string, error) {
	var day time.Time
	if date == "" {
		now := time.Now().In(a.loc)
		day = time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, a.loc)
	} else {
		parsed, err := time.ParseInLocation(dateLayout, date, a.loc)
		if err != nil {
			return time.Time{}, time.Time{}, "", fmt.Errorf("%w: date must be YYYY-MM-DD", store.ErrInvalidInput)
		}
		day = parsed
	}

	from := day
	to := day.AddDate(0, 0, 1)
	return from.UTC(), to.UTC(), day.Format(dateLayout), nil
}

func (a *Aggregator) Daily(ctx context.Context, date string) (*domain.DailyReport, error) {
	from, to, label, err := a.DayBounds(date)
	if err != nil {
		return nil, err
	}

	key := cacheKey(label, "daily")
	if payload, hit, err := a.cache.Get(ctx, key); err == nil && hit {
		var cached domain.DailyReport
		if err := json.Unmarshal(payload, &cached); err == nil {
			return &cached, nil
		}
	} else if err != nil {
		log.Printf("[report] WARN: cache get failed for %s: %v", key, err)
	}

	summary, err := a.summarize(ctx, from, to, label)
	if err != nil {
		return nil, err
	}
	txs, err := a.repo.ListTransactionsBetween(ctx, from, to)
	if err != nil {
		return nil, err
	}

	result := &domain.DailyReport{Summary: summary, Transactions: txs}
	a.storeInCache(ctx, key, result)
	return result, nil
}

func (a *Aggregator) Timeline(ctx context.Context, date string) (*domain.TimelineReport, error) {
	from, to, label, err := a.DayBounds(date)
	if err != nil {
		return nil, err
	}

	key := cacheKey(label, "timeline")
	if payload, hit, err := a.cache.Get(ctx, key); err == nil && hit {
		var cached domain.TimelineReport
		if err := json.Unmarshal(payload, &cached); err == nil {
			return &cached, nil
		}
	} else if err != nil {
		log.Printf("[report] WARN: cache get failed for %s: %v", key, err)
	}

	summary, err := a.summarize(ctx, from, to, label)
	if err != nil {
		return nil, err
	}
	sales, err := a.repo.ListTransactionsBetween(ctx, from, to)
	if err != nil {
		return nil, err
	}
	voids, err := a.repo.ListVoidsBetween(ctx, from, to)
	if err != nil {
		return nil, err
	}

	events := make([]domain.ReportEvent, 0, len(sales)+len(voids))
	for _, tx := range sales {
		events = append(events, domain.ReportEvent{
			TransactionID: tx.ID,
			Type:          domain.EventTypeSale,
			Status:        tx.Status,
			AmountCents:   tx.TotalCents,
			OccurredAt:    tx.CreatedAt,
			Items:         tx.Items,
		})
	}
	for _, tx := range voids {
		events = append(events, domain.ReportEvent{
			TransactionID: tx.ID,
			Type:          domain.EventTypeVoid,
			Status:        tx.Status,
			AmountCents:   -tx.TotalCents,
			OccurredAt:    *tx.VoidedAt,
			Items:         tx.Items,
		})
	}
	slices.SortFunc(events, func(x, y domain.ReportEvent) int {
		if x.OccurredAt.Equal(y.OccurredAt) {
			return int(y.TransactionID - x.TransactionID)
		}
		if x.OccurredAt.After(y.OccurredAt) {
			return -1
		}
		return 1
	})

	result := &domain.TimelineReport{Summary: summary, Events: events}
	a.storeInCache(ctx, key, result)
	return result, nil
}

func (a *Aggregator) TransactionsForDate(ctx context.Context, date string) (*domain.TransactionListResponse, error) {
	from, to, label, err := a.DayBounds(date)
	if err != nil {
		return nil, err
	}
	txs, err := a.repo.ListTransactionsBetween(ctx, from, to)
	if err != nil {
		return nil, err
	}
	return &domain.TransactionListResponse{Date: label, Transactions: txs}, nil
}

// Invalidate drops cached reports for the business day containing the
// given instant. Call it after every create and void.
func (a *Aggregator) Invalidate(ctx context.Context, at time.Time) {
	label := at.In(a.loc).Format(dateLayout)
	keys := []string{cacheKey(label, "daily"), cacheKey(label, "timeline")}
	if err := a.cache.Delete(ctx, keys...); err != nil {
		log.Printf("[report] WARN: cache invalidation failed for %s: %v", label, err)
	}
}

func (a *Aggregator) summarize(ctx context.Context, from time.Time, to time.Time, label string) (domain.ReportSummary, error) {
	day, err := a.repo.GetDaySummary(ctx, from, to)
	if err != nil {
		return domain.ReportSummary{}, err
	}

	summary := domain.ReportSummary{
		Date:               label,
		Timezone:           a.loc.String(),
		TotalTransactions:  day.TotalTransactions,
		VoidedTransactions: day.VoidedTransactions,
		TotalSalesCents:    day.TotalSalesCents,
	}
	if day.CompletedTransactions > 0 {
		summary.AverageSaleCents = day.TotalSalesCents / day.CompletedTransactions
	}
	return summary, nil
}

func (a *Aggregator) storeInCache(ctx context.Context, key string, value any) {
	payload, err := json.Marshal(value)
	if err != nil {
		return
	}
	if err := a.cache.Set(ctx, key, payload, a.ttl); err != nil {
		log.Printf("[report] WARN: cache set failed for %s: %v", key, err)
	}
}

func cacheKey(label string, view string) string {
	return "report:" + view + ":" + label
}
