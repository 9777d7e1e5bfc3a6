/*
Package httpserver runs the HTTP front of the key rotation service.

The Server mounts the API handlers (see the api/rotationhandler and
api/consumerhandler packages) on a chi router behind the go-utils slog
request logger, and adds the health endpoints:

	GET /livez    liveness, always 200
	GET /readyz   readiness, 503 while draining
	GET /drain    mark not ready so load balancers stop routing
	GET /undrain  mark ready again

Metrics are served by a separate metrics.MetricsServer on MetricsAddr. With
EnablePprof the pprof handlers are mounted under /debug.
*/
package httpserver
