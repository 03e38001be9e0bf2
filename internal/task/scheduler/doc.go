// Package scheduler fires configured jobs on cron triggers.
//
// The scheduler only triggers. On each firing it builds a loop.Work
// descriptor for the job's action and hands it to the event loop without
// waiting; the loop runs the action's blocking fetch off-loop and its chat
// delivery on the loop goroutine.
//
// Policy per job: late firings still run (unlimited misfire grace), ticks
// missed while the process was busy or asleep collapse into one run, and at
// most MaxInstances runs of one job may be in flight. Late firings are
// reported as job.missed events.
package scheduler
