// Package failure defines the error taxonomy of a render attempt.
//
// Every failure is data: a [*Error] tagged with a [Kind] and carrying the
// details a developer needs to fix the source (module and export names, the
// produced export list, the deadline). Import-stage failures are collected
// into [Violations] so that one pass reports all of them; later stages fail
// with a single [*Error].
//
//	handle, err := renderer.Render(ctx, src)
//	switch failure.KindOf(err) {
//	case failure.KindExecutionTimeout:
//	    // widen the deadline or fix the loop
//	case failure.KindModuleNotAllowed, failure.KindExportNotAllowed:
//	    for _, v := range failure.All(err) {
//	        fmt.Println(v)
//	    }
//	}
package failure
