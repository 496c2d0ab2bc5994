// Package shutdown runs cleanup hooks in reverse registration order when
// spanmesh-server receives SIGINT or SIGTERM.
//
//	h := shutdown.NewHandler(10*time.Second, log)
//	h.OnShutdown("links", srv.Stop)
//	return h.Wait(ctx)
package shutdown
