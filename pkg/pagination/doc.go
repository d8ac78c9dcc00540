// Package pagination walks the admin site's consumer list and enriches the
// collected records with their permissions.
//
// The list endpoint is offset/limit paginated and reports the total in its
// envelope. The Paginator exposes the pages as a lazy, single-use iterator:
//
//	p := pagination.NewPaginator(adminClient, pagination.DefaultConfig())
//	for page, err := range p.Pages(ctx) {
//		if err != nil {
//			return err
//		}
//		set.Append(page.Records...)
//	}
//
// Detail pages are then fetched in small contiguous batches by the
// BatchFetcher:
//
//	bf := pagination.NewBatchFetcher(fetcher, pagination.DefaultConfig())
//	err := bf.Enrich(ctx, set, func(b pagination.BatchResult) error {
//		// b.Updates holds exactly the {id, permissions} pairs of this batch
//		return emit(b.Updates)
//	})
//
// The batch fetcher:
//   - Runs all fetches of a batch concurrently, one result slot per record
//   - Waits for the whole batch before applying results by id
//   - Sleeps between batches but not after the last one
//   - Never has more than Concurrency detail requests in flight
package pagination
