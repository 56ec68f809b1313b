// Package browser wraps one opened browser context bound to one account,
// one proxy and one fingerprint.
//
// The Driver and Page interfaces are the boundary to the automation
// driver. ChromeDriver implements them on chromedp; tests substitute an
// in-memory Page.
//
// A Session is the adapter the crawler drives. Opening a session loads the
// cookies of the account's active profile slot and navigates to the start
// URL; closing it saves the cookies back. A redirect to the authentication
// page is reported as ErrAuthRequired instead of failing the worker.
//
// Browser calls are blocking. A call in flight is never interrupted by
// cancellation of the caller's context; only its own timeout ends it.
package browser
