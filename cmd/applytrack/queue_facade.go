package main

import (
	"context"
	"net/url"
	"strconv"
	"strings"
	"time"

	"applytrack/internal/queue"
)

type queueAPI interface {
	List(ctx context.Context, filter queue.ListFilter) ([]*queue.Item, error)
	Get(ctx context.Context, id string) (*queue.Item, error)
	Stats(ctx context.Context) (queue.Stats, error)
	SubmitJob(ctx context.Context, in queue.JobSubmission) (*queue.Item, error)
	Retry(ctx context.Context, id string) (*queue.Item, error)
	Unblock(ctx context.Context, id string) (*queue.Item, error)
	UnblockAll(ctx context.Context, category string) (int64, error)
	Recover(ctx context.Context, timeout time.Duration) (int64, error)
	Orphans(ctx context.Context, limit int) (int, []queue.Listing, error)
}

// --- HTTP adapter ---

type queueHTTPAdapter struct {
	client *apiClient
}

func (a *queueHTTPAdapter) List(ctx context.Context, filter queue.ListFilter) ([]*queue.Item, error) {
	query := url.Values{}
	if len(filter.Statuses) > 0 {
		values := make([]string, 0, len(filter.Statuses))
		for _, status := range filter.Statuses {
			values = append(values, string(status))
		}
		query.Set("status", strings.Join(values, ","))
	}
	if len(filter.Types) > 0 {
		values := make([]string, 0, len(filter.Types))
		for _, itemType := range filter.Types {
			values = append(values, string(itemType))
		}
		query.Set("type", strings.Join(values, ","))
	}
	if filter.Limit > 0 {
		query.Set("limit", strconv.Itoa(filter.Limit))
	}
	if filter.Offset > 0 {
		query.Set("offset", strconv.Itoa(filter.Offset))
	}
	path := "/queue"
	if encoded := query.Encode(); encoded != "" {
		path += "?" + encoded
	}
	var resp struct {
		Items []*queue.Item `json:"items"`
	}
	if err := a.client.get(ctx, path, &resp); err != nil {
		return nil, err
	}
	return resp.Items, nil
}

func (a *queueHTTPAdapter) Get(ctx context.Context, id string) (*queue.Item, error) {
	var item queue.Item
	if err := a.client.get(ctx, "/queue/"+url.PathEscape(id), &item); err != nil {
		return nil, err
	}
	return &item, nil
}

func (a *queueHTTPAdapter) Stats(ctx context.Context) (queue.Stats, error) {
	var stats queue.Stats
	err := a.client.get(ctx, "/queue/stats", &stats)
	return stats, err
}

func (a *queueHTTPAdapter) SubmitJob(ctx context.Context, in queue.JobSubmission) (*queue.Item, error) {
	var item queue.Item
	if err := a.client.post(ctx, "/queue/job", in, &item); err != nil {
		return nil, err
	}
	return &item, nil
}

func (a *queueHTTPAdapter) Retry(ctx context.Context, id string) (*queue.Item, error) {
	var item queue.Item
	if err := a.client.post(ctx, "/queue/"+url.PathEscape(id)+"/retry", nil, &item); err != nil {
		return nil, err
	}
	return &item, nil
}

func (a *queueHTTPAdapter) Unblock(ctx context.Context, id string) (*queue.Item, error) {
	var item queue.Item
	if err := a.client.post(ctx, "/queue/"+url.PathEscape(id)+"/unblock", nil, &item); err != nil {
		return nil, err
	}
	return &item, nil
}

func (a *queueHTTPAdapter) UnblockAll(ctx context.Context, category string) (int64, error) {
	var resp struct {
		Unblocked int64 `json:"unblocked"`
	}
	err := a.client.post(ctx, "/queue/unblock", map[string]string{"category": category}, &resp)
	return resp.Unblocked, err
}

func (a *queueHTTPAdapter) Recover(ctx context.Context, timeout time.Duration) (int64, error) {
	var resp struct {
		Recovered int64 `json:"recovered"`
	}
	err := a.client.post(ctx, "/queue/recover", map[string]int{"timeout_minutes": int(timeout / time.Minute)}, &resp)
	return resp.Recovered, err
}

func (a *queueHTTPAdapter) Orphans(ctx context.Context, limit int) (int, []queue.Listing, error) {
	var resp struct {
		Count    int             `json:"count"`
		Listings []queue.Listing `json:"listings"`
	}
	err := a.client.get(ctx, "/queue/orphans?limit="+strconv.Itoa(limit), &resp)
	return resp.Count, resp.Listings, err
}

// --- Store adapter ---

type queueStoreAdapter struct {
	svc          *queue.Service
	stuckTimeout time.Duration
}

func (a *queueStoreAdapter) List(ctx context.Context, filter queue.ListFilter) ([]*queue.Item, error) {
	return a.svc.List(ctx, filter)
}

func (a *queueStoreAdapter) Get(ctx context.Context, id string) (*queue.Item, error) {
	return a.svc.Get(ctx, id)
}

func (a *queueStoreAdapter) Stats(ctx context.Context) (queue.Stats, error) {
	return a.svc.Stats(ctx)
}

func (a *queueStoreAdapter) SubmitJob(ctx context.Context, in queue.JobSubmission) (*queue.Item, error) {
	return a.svc.SubmitJob(ctx, in)
}

func (a *queueStoreAdapter) Retry(ctx context.Context, id string) (*queue.Item, error) {
	return a.svc.Retry(ctx, id)
}

func (a *queueStoreAdapter) Unblock(ctx context.Context, id string) (*queue.Item, error) {
	return a.svc.UnblockItem(ctx, id)
}

func (a *queueStoreAdapter) UnblockAll(ctx context.Context, category string) (int64, error) {
	return a.svc.UnblockAll(ctx, category)
}

func (a *queueStoreAdapter) Recover(ctx context.Context, timeout time.Duration) (int64, error) {
	if timeout <= 0 {
		timeout = a.stuckTimeout
	}
	return a.svc.RecoverStuckProcessing(ctx, timeout)
}

func (a *queueStoreAdapter) Orphans(ctx context.Context, limit int) (int, []queue.Listing, error) {
	listings, err := a.svc.OrphanedListings(ctx, limit)
	if err != nil {
		return 0, nil, err
	}
	count, err := a.svc.OrphanedListingsCount(ctx)
	return count, listings, err
}
