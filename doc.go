// Package pulse provides counters that advance themselves on a fixed
// cadence, along with a service that hosts rosters of them.
//
// The counter itself is in package 'pulse/pulse'.  Package 'roster'
// owns per-item counters, 'storage' persists them, 'timers' supplies
// a shared scheduler (and a manual clock for tests), and 'helpers'
// renders values for display.  The service is in 'cmd/pulsed'.
package pulse
