// Package gateway carries the bridge protocol over a single websocket.
//
// Both ends run a [Peer]: a request/response multiplexer that can issue calls
// and serve calls at the same time, so the integrator can call resultsReady on
// the host while the host's runIntegration call is still outstanding.
//
// Host side:
//
//	srv := gateway.NewServer(driver)
//	http.Handle("/bridge", srv)
//	<-srv.Registered()
//
// Integrator side:
//
//	client, err := gateway.Dial(ctx, "ws://127.0.0.1:25333/bridge")
//	b, err := bridge.New(ctx, client, step.Increment{Delta: 0.1})
//	<-client.Done()
//
// Errors cross the wire as {code, op, name, message} and are rebuilt into
// [errs.E] values, so errors.Is works the same on both sides.
package gateway
