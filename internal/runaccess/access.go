// Package runaccess offers run operations that work with or without a live
// daemon. The CLI prefers the IPC path so maintenance actions see the same
// in-flight guard as the scheduler, and falls back to opening the store
// directly when the daemon is down.
package runaccess

import (
	"context"
	"fmt"

	"loom/internal/api"
	"loom/internal/ipc"
	"loom/internal/queue"
)

// Access provides run operations regardless of IPC or direct store backing.
type Access interface {
	Stats(ctx context.Context) (map[string]int, error)
	List(ctx context.Context, phases []string) ([]api.Run, error)
	Describe(ctx context.Context, id int64) (*api.RunDetail, error)
	ClearAll(ctx context.Context) (int64, error)
	ClearCompleted(ctx context.Context) (int64, error)
	ClearFailed(ctx context.Context) (int64, error)
	ResetStuck(ctx context.Context) (int64, error)
	RetryAll(ctx context.Context) (int64, error)
	Retry(ctx context.Context, ids []int64) (int64, error)
	Reconcile(ctx context.Context) ([]int64, error)
	RunHealth(ctx context.Context) (queue.HealthSummary, error)
	DatabaseHealth(ctx context.Context) (queue.DatabaseHealth, error)
}

// NewIPCAccess returns an Access backed by daemon IPC.
func NewIPCAccess(client *ipc.Client) Access {
	return &ipcAccess{client: client}
}

// NewStoreAccess returns an Access backed by direct DB access.
func NewStoreAccess(store *queue.Store) Access {
	return &storeAccess{store: store, service: api.NewRunService(store)}
}

type ipcAccess struct {
	client *ipc.Client
}

func (a *ipcAccess) Stats(_ context.Context) (map[string]int, error) {
	resp, err := a.client.Status()
	if err != nil {
		return nil, err
	}
	return resp.RunStats, nil
}

func (a *ipcAccess) List(_ context.Context, phases []string) ([]api.Run, error) {
	resp, err := a.client.RunList(phases)
	if err != nil {
		return nil, err
	}
	return resp.Runs, nil
}

func (a *ipcAccess) Describe(_ context.Context, id int64) (*api.RunDetail, error) {
	resp, err := a.client.RunDescribe(id)
	if err != nil {
		return nil, err
	}
	return &resp.Detail, nil
}

func (a *ipcAccess) ClearAll(_ context.Context) (int64, error) {
	resp, err := a.client.RunClear()
	if err != nil {
		return 0, err
	}
	return resp.Removed, nil
}

func (a *ipcAccess) ClearCompleted(_ context.Context) (int64, error) {
	resp, err := a.client.RunClearCompleted()
	if err != nil {
		return 0, err
	}
	return resp.Removed, nil
}

func (a *ipcAccess) ClearFailed(_ context.Context) (int64, error) {
	resp, err := a.client.RunClearFailed()
	if err != nil {
		return 0, err
	}
	return resp.Removed, nil
}

func (a *ipcAccess) ResetStuck(_ context.Context) (int64, error) {
	resp, err := a.client.RunReset()
	if err != nil {
		return 0, err
	}
	return resp.Updated, nil
}

func (a *ipcAccess) RetryAll(_ context.Context) (int64, error) {
	resp, err := a.client.RunRetry(nil)
	if err != nil {
		return 0, err
	}
	return resp.Updated, nil
}

func (a *ipcAccess) Retry(_ context.Context, ids []int64) (int64, error) {
	resp, err := a.client.RunRetry(ids)
	if err != nil {
		return 0, err
	}
	return resp.Updated, nil
}

func (a *ipcAccess) Reconcile(_ context.Context) ([]int64, error) {
	resp, err := a.client.RunReconcile()
	if err != nil {
		return nil, err
	}
	return resp.Repaired, nil
}

func (a *ipcAccess) RunHealth(_ context.Context) (queue.HealthSummary, error) {
	resp, err := a.client.RunHealth()
	if err != nil {
		return queue.HealthSummary{}, err
	}
	return queue.HealthSummary{
		Total:      resp.Total,
		Pending:    resp.Pending,
		Processing: resp.Processing,
		Failed:     resp.Failed,
		Completed:  resp.Completed,
	}, nil
}

func (a *ipcAccess) DatabaseHealth(_ context.Context) (queue.DatabaseHealth, error) {
	resp, err := a.client.DatabaseHealth()
	if err != nil {
		return queue.DatabaseHealth{}, err
	}
	return queue.DatabaseHealth{
		DBPath:           resp.DBPath,
		DatabaseExists:   resp.DatabaseExists,
		DatabaseReadable: resp.DatabaseReadable,
		SchemaVersion:    resp.SchemaVersion,
		TableExists:      resp.TableExists,
		ColumnsPresent:   resp.ColumnsPresent,
		MissingColumns:   resp.MissingColumns,
		IntegrityCheck:   resp.IntegrityCheck,
		TotalRecords:     resp.TotalRecords,
		Error:            resp.Error,
	}, nil
}

type storeAccess struct {
	store   *queue.Store
	service *api.RunService
}

func (a *storeAccess) Stats(ctx context.Context) (map[string]int, error) {
	return a.service.Stats(ctx)
}

func (a *storeAccess) List(ctx context.Context, phases []string) ([]api.Run, error) {
	var filters []queue.Phase
	for _, raw := range phases {
		if parsed, ok := queue.ParsePhase(raw); ok {
			filters = append(filters, parsed)
		}
	}
	return a.service.List(ctx, filters...)
}

func (a *storeAccess) Describe(ctx context.Context, id int64) (*api.RunDetail, error) {
	detail, err := a.service.Describe(ctx, id)
	if err != nil {
		return nil, err
	}
	if detail == nil {
		return nil, fmt.Errorf("run %d not found", id)
	}
	return detail, nil
}

func (a *storeAccess) ClearAll(ctx context.Context) (int64, error) {
	return a.store.Clear(ctx)
}

func (a *storeAccess) ClearCompleted(ctx context.Context) (int64, error) {
	return a.store.ClearCompleted(ctx)
}

func (a *storeAccess) ClearFailed(ctx context.Context) (int64, error) {
	return a.store.ClearFailed(ctx)
}

func (a *storeAccess) ResetStuck(ctx context.Context) (int64, error) {
	return a.store.ResetStuckProcessing(ctx)
}

func (a *storeAccess) RetryAll(ctx context.Context) (int64, error) {
	return a.store.RetryFailed(ctx)
}

func (a *storeAccess) Retry(ctx context.Context, ids []int64) (int64, error) {
	return a.store.RetryFailed(ctx, ids...)
}

func (a *storeAccess) Reconcile(ctx context.Context) ([]int64, error) {
	return reconcileStore(ctx, a.store)
}

func (a *storeAccess) RunHealth(ctx context.Context) (queue.HealthSummary, error) {
	return a.store.Health(ctx)
}

func (a *storeAccess) DatabaseHealth(ctx context.Context) (queue.DatabaseHealth, error) {
	return a.store.CheckHealth(ctx)
}
