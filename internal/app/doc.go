// Package app wires the license server together and runs it.
//
// # Initialization Flow
//
//	1. Load configuration from environment and files
//	2. Initialize logging and OpenTelemetry
//	3. Open the configured store backend and load every license
//	4. Build the registry, device binder, notifier and event hub
//	5. Set up HTTP handlers and middleware
//	6. Serve until the context is cancelled or a signal arrives
//
// # Usage
//
//	application, err := app.NewApplication(ctx)
//	if err != nil {
//	    return err
//	}
//	return application.Run(ctx)
//
// # Graceful Shutdown
//
// On SIGINT or SIGTERM the server stops accepting requests and drains the
// in-flight ones, the event hub closes its websocket clients, then the
// store is closed and telemetry is flushed.
//
// Initialization errors are returned to the caller. The package never calls
// os.Exit.
package app
