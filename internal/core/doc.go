// Package core hosts the wizard sessions behind the web and CLI front ends.
//
// The package sits between the transports and the wizard controllers. It can
// be used by web handlers, CLI tools, or tests without modification.
//
// # Architecture
//
//   - Service: owns the live sessions, one wizard controller each, capped by
//     [Config.MaxSessions].
//   - Janitor: [Service.StartJanitor] closes sessions that have been idle
//     longer than [Config.IdleTimeout].
//   - Upload limiter: [UploadLimiter] bounds how many CSV files are streamed
//     to the processing server at once.
//   - History: every task that reaches complete or error is recorded through a
//     history.Recorder.
//
// # Session Lifecycle
//
//	sess, err := svc.Create(core.WithClient(ctx, client), wizard.FlowTransform)
//	tc, _ := sess.Transform()
//	up, err := backend.FileUpload(path)
//	err = tc.SelectFile(ctx, up)
//	// ... later ...
//	svc.Close(sess.ID())
//
// Closing a session stops its poller. A response that arrives afterwards is
// dropped by the controller.
//
// # Error Handling
//
// Technical errors are mapped to user-friendly messages using [MapError].
// Each error category has a unique code for support reference:
//
//   - WIZ001-WIZ010: Wizard step errors (busy, wrong step, empty selection)
//   - SES001-SES005: Session errors (not found, limit, shutdown, bad request)
//   - BE001-BE002: Processing server errors, shown verbatim
//   - UPL001-UPL004: Upload errors (busy, too large, cancelled, timeout)
package core
