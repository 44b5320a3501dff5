// Package resilience provides a bulkhead that bounds concurrent work.
//
// The async upload path uses it as a worker pool with backpressure:
// Go blocks the caller until a slot frees instead of queueing without
// limit.
//
//	bh := resilience.NewBulkhead(resilience.BulkheadConfig{Name: "uploads", MaxConcurrent: 8})
//	err := bh.Go(ctx, func() { upload() })
package resilience
