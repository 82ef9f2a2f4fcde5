// Raceline Replay - Telemetry Replay Server
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/raceline-dev/replay-server

package services

import "context"

// LoopService adapts a blocking-until-cancelled background loop (the
// catalog's refresh loop, the disconnected-state store's cleanup
// routine) into a supervised service.
type LoopService struct {
	run  func(ctx context.Context)
	name string
}

// NewLoopService wraps run for supervision. run must return once ctx is
// cancelled.
func NewLoopService(name string, run func(ctx context.Context)) *LoopService {
	return &LoopService{run: run, name: name}
}

// Serve implements suture.Service.
func (l *LoopService) Serve(ctx context.Context) error {
	l.run(ctx)
	return ctx.Err()
}

// String implements fmt.Stringer.
func (l *LoopService) String() string { return l.name }
