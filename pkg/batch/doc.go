// Package batch provides the time-boxed batch loop that drives every cleanup
// handler: repeat one unit of work until the handler reports the day's work is
// exhausted or a wall-clock cut-off time is reached.
//
// A Handler implements one batch-processing algorithm and reports, per batch,
// whether any work remains today. The Loop owns the cut-off check and the
// terminal-state bookkeeping; it imposes no pacing of its own, so a handler
// that needs to shed load sleeps between batches itself.
//
// Example:
//
//	cutOff, err := batch.ParseCutOff("23:00:00")
//	if err != nil {
//	    return err
//	}
//
//	loop, err := batch.New(handler, cutOff, batch.WithLogger(log))
//	if err != nil {
//	    return err
//	}
//
//	if err := loop.Run(ctx); err != nil {
//	    // the handler failed mid-batch; its transaction was rolled back
//	}
//	switch loop.State() {
//	case batch.StateFinished: // no work left today
//	case batch.StateDeferred: // cut-off reached, remainder runs tomorrow
//	}
package batch
