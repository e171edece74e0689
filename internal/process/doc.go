// Package process supervises the vendor API adapter subprocess.
//
// The adapter runs out of process: it authenticates against the cloud
// account and periodically rewrites the inventory export that Vacmesh
// reads. The supervisor launches it, restarts it with exponential
// backoff when it crashes, and kills it when the export goes stale
// while the process still looks alive. Failures a restart cannot fix
// (rejected credentials, via RecoverableError) end supervision instead
// of looping.
//
// Example usage:
//
//	mgr := process.NewManager(process.Config{
//	    Name:             "inventory-adapter",
//	    Binary:           "/usr/local/bin/vacmesh-adapter",
//	    Args:             []string{"--export", "./data/inventory.json"},
//	    RestartOnFailure: true,
//	    ExportPath:       "./data/inventory.json",
//	    ExportMaxAge:     15 * time.Minute,
//	})
//
//	if err := mgr.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer mgr.Stop()
//
//	// Block until the first export lands before loading inventory.
//	if err := mgr.WaitForExport(ctx); err != nil {
//	    log.Warn("inventory export not yet written", "error", err)
//	}
package process
