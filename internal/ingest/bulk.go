package ingest

import (
	"context"
	"time"

	"github.com/franz/mcsr-stats/internal/util"
)

// BulkOptions configures BulkSync
type BulkOptions struct {
	Limit        int // known usernames to sync, at least 1
	Pages        int
	FetchDetails bool

	// Progress is called after every attempted user
	Progress func(done, total int, username string, err error)
}

// Failure records one user that could not be synced
type Failure struct {
	Username string
	Err      error
}

// BulkResult summarizes a bulk run
type BulkResult struct {
	Attempted int
	Succeeded int
	Failed    []Failure
}

// BulkSync syncs the most recently seen known usernames one after another.
// A failed user is logged and the run moves on; cancellation is honoured
// between users only.
func (p *Pipeline) BulkSync(ctx context.Context, opts BulkOptions) (*BulkResult, error) {
	started := time.Now()
	res := &BulkResult{}

	names, err := p.store.RecentUsernames(ctx, max(1, opts.Limit))
	if err != nil {
		return res, err
	}
	if len(names) == 0 {
		util.WarnLog("no known usernames yet; run sync-usernames first")
		return res, nil
	}

	defer func() {
		p.events.LogBulkSync(res.Attempted, res.Succeeded, len(res.Failed), time.Since(started))
	}()

	for i, name := range names {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		util.InfoLog("(%d/%d) %s", i+1, len(names), name)
		res.Attempted++

		// the user in progress always finishes or fails on its own
		_, err := p.SyncUser(context.WithoutCancel(ctx), name, opts.Pages, opts.FetchDetails)
		if err != nil {
			util.ErrorLog("sync failed for %s: %v", name, err)
			res.Failed = append(res.Failed, Failure{Username: name, Err: err})
		} else {
			res.Succeeded++
		}

		if opts.Progress != nil {
			opts.Progress(i+1, len(names), name, err)
		}
	}

	return res, nil
}
