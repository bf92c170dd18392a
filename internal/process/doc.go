// Package process supervises a long-running child process.
//
// The kiosk agent uses it to keep the content renderer (typically a browser
// in kiosk mode) alive: the child is restarted with exponential backoff when
// it exits, and can be relaunched on demand with new arguments.
//
//	sup := process.NewSupervisor(process.Config{
//	    Name:   "renderer",
//	    Binary: "/usr/bin/chromium",
//	    Args:   []string{"--kiosk", "http://localhost:3001/display"},
//	}, logger)
//
//	go sup.Run(ctx)
//	sup.Restart(newArgs)
package process
